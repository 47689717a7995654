// Package server exposes the HTTP front doors of the assistant: the Twilio
// voice webhook, the media stream relay, the browser session endpoint, and
// health and metrics.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/realtime-ai/benefits-assistant/pkg/observability"
	"github.com/realtime-ai/benefits-assistant/pkg/orchestrator"
	"github.com/realtime-ai/benefits-assistant/pkg/rag"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi"
	"github.com/realtime-ai/benefits-assistant/pkg/session"
)

const mediaPath = "/twilio-media"

// SessionMinter mints ephemeral browser sessions.
type SessionMinter interface {
	Mint(ctx context.Context) (map[string]any, error)
}

// Config holds the per-call settings the server hands to each relay.
type Config struct {
	// PublicHost overrides the request Host when building the stream URL.
	PublicHost    string
	Greeting      string
	GreetingVoice string
	QueueSize     int

	// Engine is the template for every call's engine connection.
	Engine       realtimeapi.Config
	Orchestrator orchestrator.Config
}

// Server wires HTTP requests to call sessions.
type Server struct {
	cfg       Config
	calls     *session.Manager
	safety    orchestrator.SafetyChecker
	retriever rag.Retriever
	minter    SessionMinter
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

// New creates a server. minter and metrics may be nil.
func New(cfg Config, calls *session.Manager, safety orchestrator.SafetyChecker, retriever rag.Retriever,
	minter SessionMinter, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		calls:     calls,
		safety:    safety,
		retriever: retriever,
		minter:    minter,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio does not send an Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Get(mediaPath, s.handleMedia)
	r.Get("/session", s.handleSession)
	r.Handle("/metrics", s.metrics.Handler())

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"endpoints": []string{"/health", "/incoming-call", mediaPath, "/session", "/metrics"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"calls": s.calls.Count(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.minter == nil {
		respondError(w, http.StatusServiceUnavailable, "browser sessions are disabled")
		return
	}
	out, err := s.minter.Mint(r.Context())
	if err != nil {
		log.Printf("[Server] Failed to mint browser session: %v", err)
		respondError(w, http.StatusBadGateway, "failed to create realtime session")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		h.Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
