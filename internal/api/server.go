// Package api exposes the curation control surface over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/curation"
	"github.com/sells-group/trend-curator/internal/monitoring"
	"github.com/sells-group/trend-curator/internal/store"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

// Server holds the handler dependencies.
type Server struct {
	orch      *curation.Orchestrator
	store     store.Store
	collector *monitoring.Collector
	gatherer  prometheus.Gatherer
	origins   []string
}

// New creates a Server. gatherer may be nil to disable /metrics.
func New(orch *curation.Orchestrator, st store.Store, collector *monitoring.Collector, gatherer prometheus.Gatherer, corsOrigins []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		orch:      orch,
		store:     st,
		collector: collector,
		gatherer:  gatherer,
		origins:   corsOrigins,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/status", s.handleStatus)

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/config", s.handleGetProjectConfig)
			r.Post("/config", s.handleCreateConfig)
			r.Get("/results", s.handleListResults)
			r.Delete("/results", s.handleClearResults)
		})

		r.Route("/configs/{configID}", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Patch("/", s.handleUpdateConfig)
			r.Delete("/", s.handleDeleteConfig)
			r.Post("/activate", s.handleActivate)
			r.Post("/pause", s.handlePause)
			r.Post("/trigger", s.handleTrigger)
		})

		r.Post("/results/{resultID}/dismiss", s.handleDismiss)
		r.Post("/results/{resultID}/save", s.handleSave)
	})

	return r
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if ww.Status() >= http.StatusInternalServerError {
			zap.L().Error("http request", fields...)
			return
		}
		zap.L().Debug("http request", fields...)
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserHeader) == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + UserHeader + " header"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(UserHeader)
}
