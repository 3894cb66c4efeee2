package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gitsignal/incident-engine/internal/auth"
	"github.com/gitsignal/incident-engine/internal/engine"
	"github.com/gitsignal/incident-engine/internal/history"
	"github.com/gitsignal/incident-engine/internal/ingest"
	"github.com/gitsignal/incident-engine/internal/models"
	"github.com/gitsignal/incident-engine/internal/notify"
	"github.com/gitsignal/incident-engine/internal/repocfg"
)

// Server exposes the engine's collaborator contracts over HTTP.
type Server struct {
	engine   *engine.Engine
	index    *history.Index
	configs  repocfg.Store
	sse      *notify.SSEHub
	verifier *auth.Verifier
}

// New constructs a Server. verifier may be nil (auth disabled).
func New(eng *engine.Engine, index *history.Index, configs repocfg.Store, sse *notify.SSEHub, verifier *auth.Verifier) *Server {
	return &Server{
		engine:   eng,
		index:    index,
		configs:  configs,
		sse:      sse,
		verifier: verifier,
	}
}

// Router builds the chi router. The SSE stream sits outside the request
// timeout middleware since it is long-lived by design.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.sse != nil {
		r.Get("/v1/alerts/stream", s.sse.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(s.verifier.Middleware)

		r.Post("/v1/signals/webhook", s.handleWebhook)
		r.Post("/v1/signals/simulate", s.handleSimulate)
		r.Post("/v1/pushes", s.handlePush)
		r.Put("/v1/repos/{id}/config", s.handlePutConfig)
		r.Get("/v1/repos/{id}/config", s.handleGetConfig)
	})

	return r
}

type webhookRequest struct {
	RepositoryID string          `json:"repositoryId"`
	Signal       json.RawMessage `json:"signal"`
}

// handleWebhook accepts an error-tracker signal and queues it for the worker
// pool. Validation happens in the pipeline; a saturated queue sheds load with
// 503 so the tracker retries later.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Signal) == 0 {
		respondError(w, http.StatusBadRequest, "signal required")
		return
	}
	if err := s.engine.Submit(req.Signal, models.SourceErrorTracker, req.RepositoryID); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleSimulate runs the pipeline synchronously so the triggering developer
// sees validation failures and the resulting test alert directly.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	signal := req.Signal
	if len(signal) == 0 {
		signal = json.RawMessage(`{}`)
	}
	res, err := s.engine.Process(r.Context(), signal, models.SourceManualSimulation, req.RepositoryID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ingest.ErrMalformedSignal) || errors.Is(err, ingest.ErrClockSkew) {
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}
	resp := map[string]interface{}{
		"suppressed":  res.Suppressed,
		"occurrences": res.Decision.Occurrences,
	}
	if res.Alert != nil {
		resp["alert"] = res.Alert
	}
	respondJSON(w, http.StatusOK, resp)
}

type pushRequest struct {
	RepositoryID string                `json:"repositoryId"`
	Commits      []models.CommitRecord `json:"commits"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RepositoryID == "" {
		respondError(w, http.StatusBadRequest, "repositoryId required")
		return
	}
	s.index.RecordPush(req.RepositoryID, req.Commits)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"recorded": len(req.Commits),
		"retained": s.index.Len(req.RepositoryID),
	})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.RepositoryConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.RepositoryID = chi.URLParam(r, "id")
	if err := s.configs.Put(r.Context(), cfg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "config not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
