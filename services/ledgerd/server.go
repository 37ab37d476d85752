package ledgerd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aqualedger/gateway/middleware"
	"aqualedger/native/rewards"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger    *rewards.Ledger
	Hub       *Hub
	Auth      *middleware.Authenticator
	RateLimit middleware.RateLimit
	CORS      middleware.CORSConfig
	Logger    *slog.Logger
	// LogRequests enables one access log line per request.
	LogRequests bool
	// Ready reports whether the backing store is reachable. Nil means always
	// ready.
	Ready func(context.Context) error
}

// Server exposes the reward ledger over HTTP.
type Server struct {
	ledger  *rewards.Ledger
	hub     *Hub
	logger  *slog.Logger
	limiter *middleware.RateLimiter
	ready   func(context.Context) error

	router http.Handler
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	hub.AllowOrigins(cfg.CORS.AllowedOrigins)
	srv := &Server{
		ledger:  cfg.Ledger,
		hub:     hub,
		logger:  logger,
		limiter: middleware.NewRateLimiter(cfg.RateLimit, logger),
		ready:   cfg.Ready,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event stream hub the server publishes to.
func (s *Server) Hub() *Hub { return s.hub }

// SweepLimiters evicts idle rate limiter buckets every interval until ctx is
// done.
func (s *Server) SweepLimiters(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.Debug("evicted idle rate limiters", slog.Int("count", n))
			}
		}
	}
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewObservability("ledgerd", s.logger, cfg.LogRequests).Middleware)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(cfg.Auth.Middleware)
		api.Use(s.limiter.Middleware)

		api.Post("/events/{eventID}/completions", s.handleEventCompletion)
		api.Post("/events/{eventID}/images", s.handleImageUpload)

		api.Route("/participants/{participant}", func(p chi.Router) {
			p.Get("/impact", s.handleImpact)
			p.Get("/spends", s.handleListSpends)
			p.Post("/spends", s.handleSpend)
			p.Get("/achievements", s.handleListAchievements)
			p.Post("/achievements/{achievementID}", s.handleGrantAchievement)
		})

		api.Get("/achievements", s.handleCatalog)
		api.Get("/supply", s.handleSupply)
		api.Get("/status", s.handleStatus)
		api.Get("/stream", s.hub.ServeHTTP)

		api.Route("/admin", func(admin chi.Router) {
			admin.Post("/issuers", s.handleAddIssuer)
			admin.Delete("/issuers/{principal}", s.handleRemoveIssuer)
			admin.Post("/halt", s.handleHalt(true))
			admin.Post("/resume", s.handleHalt(false))
		})
	})
	return r
}
