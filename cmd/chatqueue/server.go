package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"chatqueue/internal/constants"
	"chatqueue/internal/errors"
	"chatqueue/internal/metrics"
	"chatqueue/internal/middleware"
	"chatqueue/internal/models"
	"chatqueue/internal/privacy"
	"chatqueue/internal/queue"
	"chatqueue/internal/tracing"
	"chatqueue/internal/validation"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	queue    *queue.Queue
	registry *metrics.Registry
	cfg      models.ServerConfig
	server   *http.Server

	closing   chan struct{}
	closeOnce sync.Once

	streamClients atomic.Int64
}

func NewServer(cfg models.ServerConfig, q *queue.Queue, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		queue:    q,
		registry: registry,
		cfg:      cfg,
		closing:  make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger, s.registry, routeTemplate))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/queue").Subrouter()
	api.HandleFunc("", s.handleGetQueue()).Methods(http.MethodGet)
	api.HandleFunc("", s.handleClearAll()).Methods(http.MethodDelete)
	api.HandleFunc("/stream", s.handleStream()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleAddMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.handleRemoveMessage()).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/retry", s.handleRetryMessage()).Methods(http.MethodPost)
	api.HandleFunc("/failed", s.handleClearFailed()).Methods(http.MethodDelete)
	api.HandleFunc("/failed/retry", s.handleRetryAllFailed()).Methods(http.MethodPost)
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes open status streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type queueResponse struct {
	Stats    queue.Stats            `json:"stats"`
	Messages []models.QueuedMessage `json:"messages"`
}

type countResponse struct {
	Count int `json:"count"`
}

// addMessageRequest mirrors models.Envelope with the attachment bytes carried as base64
type addMessageRequest struct {
	ConversationID string                 `json:"conversationId"`
	Content        string                 `json:"content"`
	Type           models.MessageType     `json:"type"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	MaxRetries     int                    `json:"maxRetries,omitempty"`
	FileData       *fileDataRequest       `json:"fileData,omitempty"`
}

type fileDataRequest struct {
	Data     []byte `json:"data,omitempty"`
	Path     string `json:"path,omitempty"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

func (req addMessageRequest) envelope() models.Envelope {
	env := models.Envelope{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Type:           req.Type,
		Metadata:       req.Metadata,
		MaxRetries:     req.MaxRetries,
	}
	if fd := req.FileData; fd != nil {
		size := fd.FileSize
		if size == 0 {
			size = int64(len(fd.Data))
		}
		env.FileData = &models.FileData{
			Data:     fd.Data,
			Path:     fd.Path,
			FileName: fd.FileName,
			FileSize: size,
			MimeType: fd.MimeType,
		}
	}
	return env
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"online": s.queue.IsOnline(),
		})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		s.writeJSON(w, r, http.StatusOK, s.registry.Snapshot())
	}
}

func (s *Server) handleGetQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, queueResponse{
			Stats:    s.queue.Stats(),
			Messages: s.queue.Messages(),
		})
	}
}

func (s *Server) handleAddMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := validation.ValidateHTTPRequestSize(r, constants.MaxRequestBodyBytes); err != nil {
			s.writeError(w, r, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)

		var req addMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		id, err := s.queue.AddMessage(req.envelope())
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"request_id":      tracing.GetRequestID(r.Context()),
			"message_id":      privacy.MaskID(id),
			"conversation_id": privacy.MaskConversationID(req.ConversationID),
		}).Debug("Message accepted")

		s.writeJSON(w, r, http.StatusAccepted, map[string]string{"id": id})
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.messageID(w, r)
		if !ok {
			return
		}
		msg, err := s.queue.Get(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, msg)
	}
}

func (s *Server) handleRetryMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.messageID(w, r)
		if !ok {
			return
		}
		if err := s.queue.RetryMessage(id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRemoveMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.messageID(w, r)
		if !ok {
			return
		}
		if err := s.queue.RemoveMessage(id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRetryAllFailed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, countResponse{Count: s.queue.RetryAllFailed()})
	}
}

func (s *Server) handleClearFailed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, countResponse{Count: s.queue.ClearFailedMessages()})
	}
}

func (s *Server) handleClearAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, countResponse{Count: s.queue.ClearAllMessages()})
	}
}

// handleStream pushes a Stats snapshot on connect and after every queue change.
// Slow readers only ever see the latest snapshot.
func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Streams outlive the server's request timeouts.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept status stream")
			return
		}
		defer conn.CloseNow()

		updates := make(chan queue.Stats, 1)
		unsubscribe := s.queue.Subscribe(func(st queue.Stats) {
			select {
			case updates <- st:
			default:
				select {
				case <-updates:
				default:
				}
				select {
				case updates <- st:
				default:
				}
			}
		})
		defer unsubscribe()

		ctx := conn.CloseRead(r.Context())
		s.setStreamClients(s.streamClients.Add(1))
		defer func() { s.setStreamClients(s.streamClients.Add(-1)) }()

		if err := s.writeStats(ctx, conn, s.queue.Stats()); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closing:
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case st := <-updates:
				if err := s.writeStats(ctx, conn, st); err != nil {
					s.logger.WithError(err).Debug("Status stream closed")
					return
				}
			}
		}
	}
}

func (s *Server) setStreamClients(n int64) {
	s.registry.SetGauge("stream_clients", float64(n), nil, "Connected status stream clients")
}

func (s *Server) writeStats(ctx context.Context, conn *websocket.Conn, st queue.Stats) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultStreamWriteTimeoutSec)*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, st)
}

func (s *Server) messageID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := validation.ValidateMessageID(id); err != nil {
		s.writeError(w, r, err)
		return "", false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": tracing.GetRequestID(r.Context()),
			"error":      err,
		}).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		errors.WrapLogger(s.logger).LogError(err, "Request failed", logrus.Fields{
			"request_id": tracing.GetRequestID(r.Context()),
		})
	}
	s.writeJSON(w, r, status, errors.ToHTTPResponse(err))
}
