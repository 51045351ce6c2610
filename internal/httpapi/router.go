// Package httpapi exposes the analysis pipeline over HTTP: JSON
// endpoints for one-shot analysis and review, a websocket for streamed
// progress, and retrieval of stored analyses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/analysis"
	"github.com/gamereview/api/internal/game"
	"github.com/gamereview/api/internal/review"
	"github.com/gamereview/api/internal/store"
)

// maxPGNBytes bounds request bodies; a long game is a few KB.
const maxPGNBytes = 1 << 20

// Analyzer runs the analysis pipeline for one parsed game.
type Analyzer interface {
	Analyze(ctx context.Context, g *game.Game, progress analysis.ProgressFunc, opts ...analysis.Option) (*analysis.GameAnalysis, error)
}

// Reviewer generates a prose review.
type Reviewer interface {
	Generate(ctx context.Context, req review.Request) (*review.Review, error)
	Configured() bool
}

// Handler serves the API.
type Handler struct {
	analyzer Analyzer
	store    store.AnalysisStore
	reviewer Reviewer
	stats    func() map[string]any
	log      zerolog.Logger

	served atomic.Uint64
}

// RouterConfig wires the handler's dependencies. Reviewer and Stats
// are optional.
type RouterConfig struct {
	Logger   zerolog.Logger
	Analyzer Analyzer
	Store    store.AnalysisStore
	Reviewer Reviewer
	Stats    func() map[string]any
}

// NewRouter builds the HTTP handler with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &Handler{
		analyzer: cfg.Analyzer,
		store:    cfg.Store,
		reviewer: cfg.Reviewer,
		stats:    cfg.Stats,
		log:      cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.health)

	r.Post("/v1/analyze", h.analyze)
	r.Get("/v1/analyze/ws", h.analyzeWS)
	r.Post("/v1/review", h.review)
	r.Get("/v1/analyses/{id}", h.getAnalysis)
	r.Get("/v1/stats", h.serverStats)

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(cfg.Logger, r)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// analyzeRequest is the body for POST /v1/analyze and /v1/review.
// Depth, when positive, overrides the configured search depth.
type analyzeRequest struct {
	PGN      string `json:"pgn"`
	Username string `json:"username,omitempty"`
	Depth    int    `json:"depth,omitempty"`
}

func (r *analyzeRequest) options() []analysis.Option {
	if r.Depth > 0 {
		return []analysis.Option{analysis.WithDepth(r.Depth)}
	}
	return nil
}

// parseGame decodes the request body and parses its PGN, writing the
// error response itself when something is wrong.
func (h *Handler) parseGame(w http.ResponseWriter, r *http.Request) (*analyzeRequest, *game.Game, bool) {
	var req analyzeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, nil, false
	}
	if req.PGN == "" {
		writeError(w, http.StatusBadRequest, "pgn is required")
		return nil, nil, false
	}

	g, err := game.Parse(req.PGN)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pgn: "+err.Error())
		return nil, nil, false
	}
	return &req, g, true
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	req, g, ok := h.parseGame(w, r)
	if !ok {
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), g, nil, req.options()...)
	if err != nil {
		h.writeAnalysisError(w, r, result, err)
		return
	}

	h.served.Add(1)
	h.save(r.Context(), result)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	if h.reviewer == nil || !h.reviewer.Configured() {
		writeError(w, http.StatusServiceUnavailable, "review is not configured")
		return
	}

	req, g, ok := h.parseGame(w, r)
	if !ok {
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), g, nil, req.options()...)
	if err != nil {
		h.writeAnalysisError(w, r, result, err)
		return
	}
	h.served.Add(1)
	h.save(r.Context(), result)

	rev, err := h.reviewer.Generate(r.Context(), review.Request{
		PGN:      req.PGN,
		Username: req.Username,
		Analysis: result,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("review generation failed")
		writeError(w, http.StatusBadGateway, "review generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analysis": result,
		"review":   rev,
	})
}

func (h *Handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Stringer("id", id).Msg("analysis lookup failed")
		writeError(w, http.StatusInternalServerError, "analysis lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) serverStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{}
	if h.stats != nil {
		stats = h.stats()
	}
	stats["analyses_served"] = h.served.Load()
	writeJSON(w, http.StatusOK, stats)
}

// writeAnalysisError maps pipeline failures to responses: a cancelled
// request gets nothing useful, a failed batch gets 502 with the failed
// analysis attached.
func (h *Handler) writeAnalysisError(w http.ResponseWriter, r *http.Request, result *analysis.GameAnalysis, err error) {
	if r.Context().Err() != nil {
		return
	}
	h.log.Error().Err(err).Msg("analysis failed")
	if result != nil {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeError(w, http.StatusBadGateway, "analysis failed")
}

func (h *Handler) save(ctx context.Context, a *analysis.GameAnalysis) {
	if h.store == nil || a == nil {
		return
	}
	if err := h.store.Save(ctx, a); err != nil {
		h.log.Error().Err(err).Stringer("id", a.ID).Msg("analysis save failed")
	}
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(body, maxPGNBytes))
	return dec.Decode(v)
}
