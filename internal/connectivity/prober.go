package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatqueue/internal/constants"

	"github.com/sirupsen/logrus"
)

// Prober feeds a Monitor by issuing HEAD requests to a reachability URL.
// Any HTTP response counts as online; transport errors count as offline.
type Prober struct {
	monitor  *Monitor
	client   *http.Client
	url      string
	interval time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewProber creates a prober. Zero durations fall back to defaults.
func NewProber(monitor *Monitor, url string, interval, timeout time.Duration, logger *logrus.Logger) *Prober {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultProbeIntervalSec) * time.Second
	}
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultProbeTimeoutSec) * time.Second
	}
	return &Prober{
		monitor:  monitor,
		client:   &http.Client{Timeout: timeout},
		url:      url,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start probes once immediately and then on every interval
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Warn("Connectivity prober is already running")
		return
	}
	if p.stopCh == nil {
		p.stopCh = make(chan struct{})
	}
	p.running = true
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go p.probeLoop(ctx, stopCh)
	p.logger.WithField("url", p.url).Info("Connectivity prober started")
}

// Stop ends probing and waits for the loop to exit
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.stopCh = nil
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Connectivity prober stopped")
}

func (p *Prober) probeLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe checks reachability once and updates the monitor
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.check(ctx)
	online := err == nil

	if online != p.monitor.IsOnline() {
		entry := p.logger.WithField("online", online)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("Connectivity changed")
	}
	p.monitor.SetOnline(online)
	return online
}

func (p *Prober) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	resp.Body.Close()
	return nil
}
