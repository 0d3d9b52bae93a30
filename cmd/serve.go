package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/antenna-proximity/internal/catalog"
	"github.com/sells-group/antenna-proximity/internal/config"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/monitoring"
	"github.com/sells-group/antenna-proximity/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live nearby antenna lists over HTTP",
	Long: `Starts the HTTP API. Each client opens a session, streams its position and
reads back the near/far antenna list kept current by the session's resolver.
The antenna catalog loads in the background; sessions answer once it is ready.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		log := zap.L().With(zap.String("command", "serve"))

		manager := session.NewManager(env.Catalog, env.Oracle, sessionConfig(cfg), env.resolverOptions()...)
		collector := monitoring.NewCollector(env.Store, env.Catalog, env.Oracle, manager)
		checker := monitoring.NewChecker(collector, env.Metrics, cfg.Monitoring)

		handler := buildMux(serverDeps{
			Catalog:     env.Catalog,
			Sessions:    manager,
			Collector:   collector,
			Gatherer:    env.Registry,
			CORSOrigins: cfg.Server.CORSOrigins,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := <-env.Catalog.LoadAsync(gctx, env.Store); err != nil && gctx.Err() == nil {
				log.Error("antenna catalog failed to load", zap.Error(err))
			}
			return nil
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			manager.Run(gctx, time.Minute)
			return nil
		})
		g.Go(func() error {
			return startServer(gctx, handler, resolvePort(servePort, cfg.Server.Port))
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func sessionConfig(c *config.Config) session.Config {
	return session.Config{
		MaxSessions:   c.Session.MaxSessions,
		PositionRate:  c.Session.PositionRate,
		PositionBurst: c.Session.PositionBurst,
		IdleTimeout:   time.Duration(c.Session.IdleTimeoutMins) * time.Minute,
		Preferences:   c.Preferences.Preferences(),
	}
}

// resolvePort returns the flag port if set, otherwise the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

// serverDeps are the components the HTTP API is built on. Any may be nil;
// the routes that need a missing component answer 503.
type serverDeps struct {
	Catalog     *catalog.Catalog
	Sessions    *session.Manager
	Collector   *monitoring.Collector
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

// maxWait bounds how long GET .../antennas?wait= blocks for the first list.
const maxWait = 30 * time.Second

func buildMux(d serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := &handlers{deps: d}

	r.Get("/health", h.health)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/near", h.catalogNear)
		r.Get("/{country}/{index}", h.catalogGet)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Get("/", h.listSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.closeSession)
			r.Put("/position", h.updatePosition)
			r.Put("/preferences", h.updatePreferences)
			r.Get("/antennas", h.antennas)
			r.Post("/refresh", h.refresh)
			r.Post("/reset", h.reset)
		})
	})

	return r
}

type handlers struct {
	deps serverDeps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Collector == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	snap, err := h.deps.Collector.Collect(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	status := "ok"
	warnings := monitoring.Evaluate(snap)
	if len(warnings) > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"snapshot": snap,
		"warnings": warnings,
	})
}

func (h *handlers) catalogNear(w http.ResponseWriter, r *http.Request) {
	if h.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	pos := model.Position{Lat: lat, Lon: lon}
	if errLat != nil || errLon != nil || !pos.Valid() {
		writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}

	prefs := model.DefaultPreferences()
	if s := q.Get("max_km"); s != "" {
		km, err := strconv.ParseFloat(s, 64)
		if err != nil || km <= 0 {
			writeError(w, http.StatusBadRequest, "max_km must be a positive number")
			return
		}
		prefs.MaxDistance = km * 1000
	}
	if s := q.Get("prefer_fewer"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "prefer_fewer must be a boolean")
			return
		}
		prefs.PreferFewer = b
	}

	antennas, err := h.deps.Catalog.Near(r.Context(), pos, prefs.MaxDistance, prefs.PreferFewer)
	if errors.Is(err, model.ErrNotReady) {
		writeError(w, http.StatusServiceUnavailable, "antenna catalog is still loading")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, antennas)
}

func (h *handlers) catalogGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	id := model.AntennaID{Country: model.ParseCountry(chi.URLParam(r, "country")), Index: index}
	a, ok := h.deps.Catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("antenna %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return nil, false
	}
	s, err := h.deps.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}

	var body struct {
		Position    *model.Position    `json:"position"`
		Preferences *model.Preferences `json:"preferences"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	s, err := h.deps.Sessions.Create()
	if errors.Is(err, session.ErrTooManySessions) {
		writeError(w, http.StatusTooManyRequests, "session limit reached")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if body.Preferences != nil {
		if err := s.UpdatePreferences(*body.Preferences); err != nil {
			_ = h.deps.Sessions.Close(s.ID())
			writeError(w, http.StatusBadRequest, "max_distance must be positive")
			return
		}
	}
	if body.Position != nil {
		if err := s.UpdatePosition(*body.Position); err != nil {
			_ = h.deps.Sessions.Close(s.ID())
			writeError(w, http.StatusBadRequest, "invalid position")
			return
		}
	}

	w.Header().Set("Location", "/sessions/"+s.ID())
	writeJSON(w, http.StatusCreated, s.Info())
}

func (h *handlers) listSessions(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Sessions.List())
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, s.Info())
	}
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	if err := h.deps.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) updatePosition(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var pos model.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch err := s.UpdatePosition(pos); {
	case errors.Is(err, session.ErrInvalidPosition):
		writeError(w, http.StatusBadRequest, "invalid position")
	case errors.Is(err, session.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "position updates too frequent")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *handlers) updatePreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	prefs := s.Preferences()
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.UpdatePreferences(prefs); err != nil {
		writeError(w, http.StatusBadRequest, "max_distance must be positive")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *handlers) antennas(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			writeError(w, http.StatusBadRequest, "wait must be a duration")
			return
		}
		timer := time.NewTimer(min(wait, maxWait))
		select {
		case <-s.Ready():
		case <-timer.C:
		case <-r.Context().Done():
		}
		timer.Stop()
	}

	list, ok := s.Results()
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]any{"ready": false, "antennas": []antennaView{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true, "antennas": viewList(list)})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		s.Refresh()
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		s.Reset()
		w.WriteHeader(http.StatusAccepted)
	}
}
