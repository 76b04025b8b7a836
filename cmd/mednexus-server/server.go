package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mednexus/mednexus/internal/config"
	"github.com/mednexus/mednexus/internal/domain/patient"
	"github.com/mednexus/mednexus/internal/domain/riskassessment"
	"github.com/mednexus/mednexus/internal/platform/auth"
	"github.com/mednexus/mednexus/internal/platform/db"
	"github.com/mednexus/mednexus/internal/platform/imaging"
	"github.com/mednexus/mednexus/internal/platform/middleware"
	"github.com/mednexus/mednexus/internal/platform/openapi"
	"github.com/mednexus/mednexus/internal/platform/telemetry"
	"github.com/mednexus/mednexus/internal/platform/workerpool"
)

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: DevAuthMiddleware is active and unauthenticated requests get admin access")
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName:       "mednexus",
		MetricsEnabled:    cfg.MetricsEnabled,
		TracingEnabled:    cfg.TracingEnabled,
		RuntimeCollectors: true,
	})

	// Models
	engine, registry, err := buildEngine(cfg, logger, tp)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load model registry")
	}
	logger.Info().
		Strs("numeric", registry.NumericNames()).
		Strs("visual", registry.VisualTags()).
		Str("source", engine.Source()).
		Msg("model registry loaded")

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "mednexus-server",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	workers, err := workerpool.New(cfg.Workers, cfg.Queue)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid worker pool size")
	}

	svc := riskassessment.NewService(
		engine,
		workers,
		riskassessment.NewResultRepoPG(pool),
		riskassessment.NewSnapshotRepoPG(pool),
		tp.Pipeline,
		logger.With().Str("component", "risk-service").Logger(),
	)
	storage, err := imaging.NewPreprocessor(cfg.StorageRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid storage root")
	}
	patients := patient.NewService(
		patient.NewRepoPG(pool),
		patient.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		}),
		patient.WithLocatorResolver(storage),
		patient.WithLogger(logger.With().Str("component", "patient-service").Logger()),
	)
	e := newRouter(cfg, logger, tp, svc, patients, db.PoolHealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Int("workers", cfg.Workers).Int("queue", cfg.Queue).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := workers.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("risk assessments still running at shutdown")
	}
	_ = tp.Shutdown(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}

// newRouter assembles the HTTP surface. dbHealth may be nil when no database
// is attached.
func newRouter(cfg *config.Config, logger zerolog.Logger, tp *telemetry.Provider, svc *riskassessment.Service, patients *patient.Service, dbHealth echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "traceparent"},
	}))
	e.Use(tp.MetricsMiddleware())
	e.Use(tp.TracingMiddleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.Timeout, auth.IsPublicPath))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}
	if cfg.MetricsEnabled {
		e.GET("/metrics", tp.Handler())
	}

	apiV1 := e.Group("/api/v1")
	patient.NewHandler(patients).RegisterRoutes(apiV1)
	riskassessment.NewHandler(svc).RegisterRoutes(apiV1)

	docs := openapi.NewGenerator("MedNexus Risk API", version, "/")
	docs.Add("/api/v1", patient.Operations()...)
	docs.Add("/api/v1", riskassessment.Operations()...)
	for name, schema := range patient.Schemas() {
		docs.Schema(name, schema)
	}
	for name, schema := range riskassessment.Schemas() {
		docs.Schema(name, schema)
	}
	docs.RegisterRoutes(e)
	return e
}
