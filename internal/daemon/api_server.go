package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"curator/internal/api"
	"curator/internal/asset"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	events eventStreamer

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	apiLogger := logging.NewComponentLogger(logger, "api-server")
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.API.Bind),
		logger: apiLogger,
		daemon: d,
		events: eventStreamer{hub: d.hub, buffer: cfg.API.EventBuffer, logger: apiLogger},
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Token),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/assets", s.handleAssets)
	r.Get("/api/assets/{ref}", s.handleAsset)
	r.Get("/api/assets/{ref}/uses", s.handleUses)
	r.Get("/api/logs", s.handleLogs)
	r.Get("/api/events", s.events.ServeHTTP)
	if m := s.daemon.Metrics(); m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Post("/api/scan", s.handleScan)
		r.Post("/api/transform-all", s.handleTransformAll)
		r.Post("/api/retry-failed", s.handleRetryFailed)
		r.Post("/api/assets/{ref}/retry", s.handleRetry)
		r.Post("/api/assets/{ref}/transform", s.handleTransform)
		r.Put("/api/platform", s.handleSetPlatform)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Assets().Stats())
}

func (s *apiServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := api.AssetFilter{
		Type:   strings.TrimSpace(query.Get("type")),
		Search: strings.TrimSpace(query.Get("search")),
	}
	for _, value := range query["state"] {
		state, ok := asset.ParseState(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", value))
			return
		}
		filter.States = append(filter.States, state)
	}
	s.writeJSON(w, http.StatusOK, api.AssetListResponse{Assets: s.daemon.Assets().List(filter)})
}

func (s *apiServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.Assets().Describe(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetResponse{Asset: view})
}

func (s *apiServer) handleUses(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.Assets().Uses(chi.URLParam(r, "ref"), truthy(r.URL.Query().Get("transitive")))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleScan(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Scan(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleTransformAll(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusAccepted, map[string]int{"queued": s.daemon.TransformAll()})
}

func (s *apiServer) handleRetryFailed(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"retried": s.daemon.RetryFailed()})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.Retry(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetResponse{Asset: view})
}

func (s *apiServer) handleTransform(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.Transform(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.AssetResponse{Asset: view})
}

func (s *apiServer) handleSetPlatform(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.daemon.SetPlatform(r.Context(), body.Name); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"platform": body.Name})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := truthy(query.Get("follow"))
	q := logging.LogQuery{
		Since:     since,
		Limit:     limit,
		AssetID:   strings.TrimSpace(query.Get("asset")),
		Component: strings.TrimSpace(query.Get("component")),
		MinLevel:  strings.TrimSpace(query.Get("level")),
		Wait:      follow,
	}

	if truthy(query.Get("tail")) && since == 0 && !follow && q.AssetID == "" && q.Component == "" && q.MinLevel == "" {
		events, next := hub.Tail(limit)
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: events, Next: next})
		return
	}

	ctx := r.Context()
	if follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
	}
	events, next, err := hub.Fetch(ctx, q)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: events, Next: next})
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, api.ErrAssetNotFound), errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
