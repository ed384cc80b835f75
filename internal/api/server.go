// Package api exposes the planner, the significance calculator and region
// lookups over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geolift/internal/design"
	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
	"github.com/sells-group/geolift/internal/store"
)

// RunReader reads persisted match runs. store.Store satisfies it.
type RunReader interface {
	GetMatchRun(ctx context.Context, id string) (*model.MatchRun, error)
	ListMatchRuns(ctx context.Context, filter store.RunFilter) ([]model.MatchRunSummary, error)
}

// Config configures the HTTP surface.
type Config struct {
	// RateLimitRPS limits /v1 requests per second across all clients.
	// Zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	// AllowedOrigins enables CORS for these origins when non-empty.
	AllowedOrigins []string
	// Registry collects the API metrics. nil creates a private registry.
	Registry *prometheus.Registry
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	planner  *design.Planner
	regions  provider.RegionProvider
	runs     RunReader
	metrics  *Metrics
	registry *prometheus.Registry
	limiter  *rate.Limiter
	validate *validator.Validate
	origins  []string
}

// Option configures a Server.
type Option func(*Server)

// WithRuns enables the /v1/runs routes.
func WithRuns(r RunReader) Option {
	return func(s *Server) { s.runs = r }
}

// New creates a Server. regions serves region lookups and the assess
// endpoint; planner serves match requests.
func New(planner *design.Planner, regions provider.RegionProvider, cfg Config, opts ...Option) *Server {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		planner:  planner,
		regions:  regions,
		metrics:  NewMetrics(reg),
		registry: reg,
		validate: validator.New(),
		origins:  cfg.AllowedOrigins,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(s.metrics.instrument)

	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/v1/schema", s.getSchema)
		r.Get("/v1/regions/{type}/{id}", s.getRegion)
		r.Post("/v1/matches", s.postMatches)
		r.Post("/v1/assess", s.postAssess)
		r.Post("/v1/sample-size", s.postSampleSize)

		if s.runs != nil {
			r.Get("/v1/runs", s.listRuns)
			r.Get("/v1/runs/{id}", s.getRun)
		}
	})

	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
