// Package app wires the insightpulse components together: config,
// logging, metrics, the job registry, the WebSocket hub, the analysis
// orchestrator and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"insightpulse/internal/analysis"
	"insightpulse/internal/config"
	"insightpulse/internal/datasets"
	"insightpulse/internal/infrastructure"
	"insightpulse/internal/jobs"
	custommw "insightpulse/internal/middleware"
	"insightpulse/internal/orchestrator"
	handlers "insightpulse/internal/transport/http"
	ws "insightpulse/internal/websocket"
)

// Version is overridden at build time via -ldflags
var Version = "dev"

const serviceName = "insightpulse"

// Application is the assembled service container
type Application struct {
	Config       *config.Config
	Logger       *slog.Logger
	Router       *chi.Mux
	Server       *http.Server
	Hub          *ws.Hub
	Registry     *jobs.Registry
	Datasets     *datasets.Store
	Orchestrator *orchestrator.Orchestrator
	OTel         *infrastructure.OTelProviders
}

// NewApplication builds the full dependency graph from configuration
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig builds the application from an explicit
// config, used by tests.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("service", serviceName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(serviceName, Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	registry := jobs.NewRegistry(logger)
	store := datasets.NewStore(logger)
	hub := ws.NewHub(logger)

	if hubMetrics, err := ws.NewOTelMetrics(otelProviders.Meter); err != nil {
		logger.Warn("websocket metrics unavailable", "error", err.Error())
	} else {
		hub.SetOTelMetrics(hubMetrics)
	}

	processor := analysis.NewCSVProcessor(logger)
	analyzer := analysis.NewTemplatedAnalyzer(logger)

	orch := orchestrator.New(registry, hub, processor, analyzer, store, cfg.Pipeline, logger)
	if bizMetrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter); err != nil {
		logger.Warn("business metrics unavailable", "error", err.Error())
	} else {
		orch.SetMetrics(bizMetrics)
	}

	if cfg.Pipeline.CancelOnLastDisconnect {
		hub.SetJobAbandonedFunc(orch.Cancel)
	}

	app := &Application{
		Config:       cfg,
		Logger:       logger,
		Hub:          hub,
		Registry:     registry,
		Datasets:     store,
		Orchestrator: orch,
		OTel:         otelProviders,
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// setupRouter configures the middleware chain and routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommw.StructuredLogger(a.Logger))
	r.Use(custommw.Recoverer(a.Logger))

	if a.Config.RateLimit.Enabled {
		limiter := custommw.NewRateLimiter(a.Config.RateLimit.RPS, a.Config.RateLimit.Burst, a.Logger)
		r.Use(limiter.Handler)
	}

	jobHandler := handlers.NewJobHandler(a.Orchestrator, a.Registry, a.Datasets, a.Config.Upload, a.Logger)
	wsHandler := handlers.NewWebSocketHandler(a.Hub, a.Orchestrator, a.Config.WebSocket, a.Logger)
	healthHandler := handlers.NewHealthHandler(Version, a.Hub, a.Registry, a.Orchestrator, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/datasets", jobHandler.UploadDataset)
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/{jobID}", jobHandler.GetJob)
		r.Post("/jobs/{jobID}/cancel", jobHandler.CancelJob)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
	})

	r.Get("/ws", wsHandler.ServeGeneral)
	r.Get("/ws/jobs/{jobID}", wsHandler.ServeJob)

	r.Handle("/metrics", promhttp.Handler())

	a.Router = r
}

// createServer builds the HTTP server from configuration
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run starts the server and blocks until an interrupt or a fatal
// server error, then shuts everything down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Hub.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info("application shutdown complete")
	return nil
}

// Stop gracefully stops the server, active runs, the hub and the
// telemetry exporters.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown error", "error", err.Error())
	}

	if err := a.Orchestrator.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("orchestrator drain error", "error", err.Error())
	}

	a.Hub.Stop()

	if a.OTel != nil {
		otelCtx, otelCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer otelCancel()
		if err := a.OTel.Shutdown(otelCtx); err != nil {
			a.Logger.Error("telemetry shutdown error", "error", err.Error())
		}
	}

	return nil
}
