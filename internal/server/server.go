package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/youmna-rabie/aegis/internal/agent"
	"github.com/youmna-rabie/aegis/internal/app"
	"github.com/youmna-rabie/aegis/internal/config"
	"github.com/youmna-rabie/aegis/internal/event"
	"github.com/youmna-rabie/aegis/internal/ledger"
	"github.com/youmna-rabie/aegis/internal/stage"
	"github.com/youmna-rabie/aegis/internal/types"
)

const (
	defaultEventLimit = 50
	maxRequestBody    = 64 << 10
)

// Server is the HTTP surface of the dashboard: read models for the panels,
// stage transitions, and the simulated relief backend when it is enabled.
type Server struct {
	cfg    *config.Config
	app    *app.App
	router chi.Router
	logger *slog.Logger
}

// NewServer creates a Server wired with the given dependencies.
func NewServer(cfg *config.Config, a *app.App, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		app:    a,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Observe(logger))
	r.Use(Recovery(logger))
	r.Use(RateLimit(cfg.Server.RateLimit, time.Minute))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/streams", s.handleStreams)
		r.Get("/streams/{name}", s.handleStreamEvents)
		r.Get("/streams/{name}/events/{id}", s.handleStreamEvent)
		r.Get("/activity", s.handleActivity)
		r.Get("/verification", s.handleVerification)
		r.Post("/stage/assist", s.handleAssist)
		r.Post("/stage/submit", s.handleSubmit)
		r.Post("/stage/back", s.handleBack)
		r.Post("/track", s.handleTrack)
	})

	if a.Ledger() != nil {
		r.Get("/request-status/{id}", s.handleRequestStatus)
		r.Post("/requests", s.handleCreateRequest)
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/disasters", s.handleDisasters)
		r.Get("/nearby", s.handleNearby)
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth responds to GET /health with a simple liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDashboard responds to GET /api/dashboard with the full view.
func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.View())
}

func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	names := s.app.StreamNames()
	writeJSON(w, http.StatusOK, map[string]any{
		"streams": names,
		"count":   len(names),
	})
}

// handleStreamEvents responds to GET /api/streams/{name} with buffered
// events, newest first.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	engine, err := s.app.Stream(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	events := engine.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"state":  engine.State(),
		"events": events,
		"count":  len(events),
	})
}

// handleStreamEvent responds to GET /api/streams/{name}/events/{id} with one
// buffered event; evicted events are 404.
func (s *Server) handleStreamEvent(w http.ResponseWriter, r *http.Request) {
	engine, err := s.app.Stream(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	ev, err := engine.Event(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	items := s.app.Activity().Items()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleVerification(w http.ResponseWriter, _ *http.Request) {
	v := s.app.Verification()
	cards := v.Cards()
	writeJSON(w, http.StatusOK, map[string]any{
		"cards":    cards,
		"count":    len(cards),
		"verified": v.Verified(),
	})
}

type assistRequest struct {
	Lat      float64         `json:"lat"`
	Lng      float64         `json:"lng"`
	Disaster *types.Disaster `json:"disaster"`
}

func (s *Server) handleAssist(w http.ResponseWriter, r *http.Request) {
	var req assistRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.app.RequestAssistance(types.UserLocation{Lat: req.Lat, Lng: req.Lng}, req.Disaster)
	s.writeTransition(w, snap, err)
}

type submitRequest struct {
	Message          string                  `json:"message"`
	EvaluationResult *types.EvaluationResult `json:"evaluation_result"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.app.Submit(req.Message, req.EvaluationResult)
	if err != nil {
		s.writeTransition(w, res.Snapshot, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBack(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.app.Back()
	s.writeTransition(w, snap, err)
}

func (s *Server) writeTransition(w http.ResponseWriter, snap stage.Snapshot, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, stage.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, stage.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("stage transition failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

type trackRequest struct {
	RequestID *int64 `json:"request_id"`
}

// handleTrack points the poller at a request; a null id stops polling.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.app.Track(req.RequestID)
	writeJSON(w, http.StatusOK, s.app.View().Request)
}

// handleRequestStatus serves the simulated ledger at GET /request-status/{id}.
func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request id"))
		return
	}
	st, err := s.app.Ledger().RequestStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type createRequest struct {
	AidType string  `json:"aid_type"`
	CostUSD float64 `json:"cost_usd"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusCreated, s.app.Ledger().Submit(req.AidType, req.CostUSD))
}

// handleEvaluate serves the simulated agent swarm at POST /evaluate.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req types.AidRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.app.Swarm().Evaluate(r.Context(), req)
	if err != nil {
		if errors.Is(err, agent.ErrDisasterNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		s.logger.Error("evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDisasters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Swarm().Zones())
}

// handleNearby responds to GET /nearby?lat=&lng= with the closest disaster
// zone containing the point.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("lat and lng are required numbers"))
		return
	}

	d := s.app.Swarm().Nearby(types.UserLocation{Lat: lat, Lng: lng})
	if d == nil {
		writeJSON(w, http.StatusOK, map[string]any{"safe": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"safe":        false,
		"disaster":    d,
		"distance_km": d.DistanceKM,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
