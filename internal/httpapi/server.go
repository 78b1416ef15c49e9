package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/orchestrator"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/storage"
)

// Orchestrator is the turn engine behind the HTTP and websocket surfaces.
type Orchestrator interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error)
	Cancel(sessionID string) (string, error)
	State(ctx context.Context, sessionID string) (session.State, error)
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	storage      *storage.Manager
	metrics      *observability.Metrics
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orch Orchestrator, store *storage.Manager, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orch,
		storage:      store,
		metrics:      metrics,
		logger:       observability.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.App.AllowAnyOrigin || sameOrigin(r)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/sessions/{id}/cancel", s.handleCancelTurn)
	r.Get("/v1/sessions/{id}/artifact", s.handleGetArtifact)

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)

	r.Get("/v1/storage/{session_id}", s.handleListRecords)
	r.Get("/v1/storage/{session_id}/records/{record_id}", s.handleGetRecord)

	if media := s.mediaHandler(); media != nil {
		r.Handle("/media/*", media)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"storage":      s.storageSummary(),
		"classifier":   s.cfg.Classifier.Mode,
		"image_active": s.cfg.Features.Image,
		"audio_active": s.cfg.Features.Audio,
	})
}

func (s *Server) storageSummary() map[string]bool {
	if s.storage == nil {
		return map[string]bool{}
	}
	d := s.storage.Defaults()
	return map[string]bool{
		"local_cache":  d.LocalCache.Enabled,
		"remote_store": d.Remote.Enabled,
		"media_mirror": d.MirrorActive(),
		"archive":      d.Archive.Enabled,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// maxBodyBytes caps JSON request bodies; chat histories beyond this are
// rejected rather than truncated.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

// sameOrigin accepts clients without an Origin header and browsers whose
// origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
