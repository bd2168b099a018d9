package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestProber_Probe(t *testing.T) {
	var method atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	m := NewMonitor(false)
	p := NewProber(m, server.URL, time.Hour, time.Second, testLogger())

	assert.True(t, p.Probe(context.Background()), "any HTTP response means reachable")
	assert.True(t, m.IsOnline())
	assert.Equal(t, http.MethodHead, method.Load())

	server.Close()
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestProber_StartStop(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	m := NewMonitor(false)
	changed := make(chan bool, 1)
	m.OnChange(func(online bool) { changed <- online })

	p := NewProber(m, server.URL, 20*time.Millisecond, time.Second, testLogger())
	p.Start(context.Background())
	p.Start(context.Background()) // already running

	select {
	case online := <-changed:
		assert.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("prober never reported online")
	}

	require.Eventually(t, func() bool { return hits.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	after := hits.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, hits.Load())

	p.Stop()
}

func TestProber_StopsWithContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewProber(NewMonitor(false), server.URL, 10*time.Millisecond, time.Second, testLogger())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after context cancel")
	}
}
