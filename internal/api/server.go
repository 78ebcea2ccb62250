// Package api exposes the comparison pipeline over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/pipeline"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	maxBodyBytes     = 1 << 16
)

// Pipeline is the orchestrator surface the API drives.
type Pipeline interface {
	RunCompareFacts(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	RefreshVendorLane(ctx context.Context, orgID, vendorID string, lanes []string) []pipeline.LaneResult
	GetCompareRun(ctx context.Context, orgID, runID string) (*model.CompareRunDetail, error)
}

// Store is the read side the API serves directly.
type Store interface {
	GetVendor(ctx context.Context, orgID, vendorID string) (*model.Vendor, error)
	ListCompareRuns(ctx context.Context, orgID string, limit int) ([]model.CompareRun, error)
	ListUpdateEvents(ctx context.Context, orgID, vendorID string, limit int) ([]model.UpdateEvent, error)
}

// Config configures the router.
type Config struct {
	JWTSecret      string
	AllowedOrigins []string
}

// Server holds the API handlers.
type Server struct {
	pipeline Pipeline
	store    Store
}

// NewServer creates a Server.
func NewServer(p Pipeline, st Store) *Server {
	return &Server{pipeline: p, store: st}
}

// Router builds the HTTP handler. /health is public; everything under
// /api requires a verified identity with an organization.
func (s *Server) Router(cfg Config) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireIdentity(cfg.JWTSecret))

		r.Post("/compare-runs", s.createCompareRun)
		r.Get("/compare-runs", s.listCompareRuns)
		r.Get("/compare-runs/{id}", s.getCompareRun)
		r.Post("/vendors/{id}/refresh", s.refreshVendor)
		r.Get("/vendors/{id}/events", s.listEvents)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type compareRunRequest struct {
	You        string `json:"you"`
	Competitor string `json:"competitor"`
}

func (s *Server) createCompareRun(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req compareRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A run is not cancelled when the client disconnects.
	res, err := s.pipeline.RunCompareFacts(context.WithoutCancel(r.Context()), pipeline.Request{
		OrgID:    id.OrgID,
		YouName:  req.You,
		CompName: req.Competitor,
	})
	if err != nil {
		zap.L().Error("api: compare run failed",
			zap.String("org_id", id.OrgID),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, pipeline.ReasonPersistence)
		return
	}

	switch {
	case res.OK:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runId": res.RunID})
	case res.Reason == pipeline.ReasonCooldown:
		writeError(w, http.StatusTooManyRequests, res.Reason)
	default:
		writeError(w, http.StatusUnprocessableEntity, res.Reason)
	}
}

func (s *Server) getCompareRun(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	detail, err := s.pipeline.GetCompareRun(r.Context(), id.OrgID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.internal(w, r, "get compare run", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listCompareRuns(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	runs, err := s.store.ListCompareRuns(r.Context(), id.OrgID, listLimit(r))
	if err != nil {
		s.internal(w, r, "list compare runs", err)
		return
	}
	if runs == nil {
		runs = []model.CompareRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type refreshRequest struct {
	Lanes []string `json:"lanes"`
}

func (s *Server) refreshVendor(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	vendorID := chi.URLParam(r, "id")

	// An empty body refreshes every lane.
	var req refreshRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	vendor, err := s.store.GetVendor(r.Context(), id.OrgID, vendorID)
	if err != nil {
		s.internal(w, r, "get vendor", err)
		return
	}
	if vendor == nil {
		writeError(w, http.StatusNotFound, "Vendor not found")
		return
	}

	lanes := req.Lanes
	if len(lanes) == 0 {
		for _, l := range model.AllLanes() {
			lanes = append(lanes, string(l))
		}
	}

	results := s.pipeline.RefreshVendorLane(context.WithoutCancel(r.Context()), id.OrgID, vendor.ID, lanes)
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	events, err := s.store.ListUpdateEvents(r.Context(), id.OrgID, chi.URLParam(r, "id"), listLimit(r))
	if err != nil {
		s.internal(w, r, "list update events", err)
		return
	}
	if events == nil {
		events = []model.UpdateEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	zap.L().Error("api: "+op,
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{"ok": false, "reason": reason})
}
