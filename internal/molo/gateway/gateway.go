// Package gateway exposes the bot over HTTP. The WhatsApp provider (or the
// n8n workflow in front of it) POSTs the raw inbound payload to /webhook and
// receives the reply payload back in the response body.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bdobrica/Molo/common/version"
)

// maxPayloadBytes caps webhook request bodies. WhatsApp text messages are a
// few KB at most.
const maxPayloadBytes = 64 * 1024

// MessageHandler processes one raw inbound payload into one reply payload.
type MessageHandler interface {
	HandleIncoming(ctx context.Context, raw []byte) []byte
}

// StatusReporter supplies the /status counters.
type StatusReporter interface {
	UserCount(ctx context.Context) (int, error)
}

// Server serves the webhook and operational endpoints.
type Server struct {
	handler MessageHandler
	status  StatusReporter
	logger  *slog.Logger
	started time.Time
}

// New creates a Server. status may be nil, in which case /status omits the
// user count.
func New(handler MessageHandler, status StatusReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		status:  status,
		logger:  logger,
		started: time.Now(),
	}
}

// RegisterRoutes adds the gateway routes to the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/webhook", http.HandlerFunc(s.handleWebhook))
	mux.Handle("/health", http.HandlerFunc(s.handleHealth))
	mux.Handle("/status", http.HandlerFunc(s.handleStatus))
}

// handleWebhook handles POST /webhook.
//
// The response is always 200 with a reply payload: the bot degrades malformed
// input to an apology reply, so transport-level errors only cover what the
// bot never saw (wrong method, unreadable body).
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.logger.Warn("failed to read webhook body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	reply := s.handler.HandleIncoming(r.Context(), raw)

	w.Header().Set("Content-Type", "application/json")
	w.Write(reply)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus handles GET /status with build and usage information.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := map[string]any{
		"version":        version.Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.status != nil {
		if n, err := s.status.UserCount(r.Context()); err == nil {
			body["users"] = n
		} else {
			s.logger.Warn("failed to count users for status", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
