package ledgerd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aqualedger/config"
	"aqualedger/core/events"
	"aqualedger/gateway/middleware"
	"aqualedger/native/achievements"
	"aqualedger/native/authority"
	"aqualedger/native/rewards"
	"aqualedger/observability"
	"aqualedger/observability/logging"
	telemetry "aqualedger/observability/otel"
	"aqualedger/state/ledgerkv"
	"aqualedger/state/ledgersql"
	"aqualedger/storage"
)

// OpenStore opens the backend selected by cfg.
func OpenStore(cfg config.StorageConfig) (rewards.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return ledgerkv.New(storage.NewMemDB()), nil
	case config.BackendLevelDB:
		db, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.DataDir, err)
		}
		return ledgerkv.New(db), nil
	case config.BackendSQL:
		store, err := ledgersql.Open(cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open sql store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// observers fans one ledger outcome out to several observers.
type observers []rewards.Observer

func (o observers) ObserveOperation(op, code string, amount uint64, elapsed time.Duration) {
	for _, obs := range o {
		obs.ObserveOperation(op, code, amount, elapsed)
	}
}

// App is a fully wired ledgerd instance.
type App struct {
	Config *config.Config
	Store  rewards.Store
	Ledger *rewards.Ledger
	Server *Server
	Logger *slog.Logger
}

// Build opens the store and wires the ledger and HTTP server described by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	app, err := build(ctx, cfg, logger, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, store rewards.Store) (*App, error) {
	registry, err := authority.NewRegistry(ctx, store, cfg.Administrator)
	if err != nil {
		return nil, fmt.Errorf("load authorization registry: %w", err)
	}
	catalog := achievements.DefaultCatalog()
	if cfg.AchievementsFile != "" {
		catalog, err = achievements.LoadFile(cfg.AchievementsFile)
		if err != nil {
			return nil, fmt.Errorf("load achievements: %w", err)
		}
	}

	hub := NewHub(logger)
	obs := observers{observability.LedgerMetrics()}
	if cfg.Telemetry.Metrics {
		otelObserver, err := telemetry.NewLedgerObserver()
		if err != nil {
			return nil, fmt.Errorf("init ledger instruments: %w", err)
		}
		obs = append(obs, otelObserver)
	}

	ledger, err := rewards.New(store, registry, cfg.Rewards.Policy(),
		rewards.WithCatalog(catalog),
		rewards.WithEmitter(events.NewFanout(hub, observability.Events())),
		rewards.WithObserver(obs),
		rewards.WithLogger(logger),
		rewards.WithTimeout(cfg.OperationTimeout.Duration),
	)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	server := New(Config{
		Ledger: ledger,
		Hub:    hub,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			MaxTTL:     cfg.Auth.MaxTTL.Duration,
		}, logger),
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		CORS:        middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:      logger,
		LogRequests: cfg.Logging.LogRequests,
		Ready: func(ctx context.Context) error {
			return store.View(ctx, func(rewards.Tx) error { return nil })
		},
	})
	return &App{Config: cfg, Store: store, Ledger: ledger, Server: server, Logger: logger}, nil
}

// Close disconnects stream subscribers and closes the store.
func (a *App) Close() error {
	a.Server.Hub().Close()
	return a.Store.Close()
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.Config.ListenAddress,
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.Server.SweepLimiters(sweepCtx, time.Minute)

	errs := make(chan error, 1)
	go func() {
		a.Logger.Info("ledgerd listening",
			slog.String("address", a.Config.ListenAddress),
			slog.String("backend", a.Config.Storage.Backend),
			slog.Bool("halted", a.Ledger.Halted()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.Logger.Info("ledgerd shutting down")
		// Stream handlers only return once their subscription closes.
		a.Server.Hub().Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Main initialises and runs the ledger daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "ledgerd.toml", "path to ledgerd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("ledgerd", cfg.Environment, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Level:      logging.ParseLevel(cfg.Logging.Level),
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	}.FromEnv(os.LookupEnv))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := Build(stopCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("close store", slog.String("error", err.Error()))
		}
	}()
	return app.Run(stopCtx)
}
