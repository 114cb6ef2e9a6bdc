package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/labforense/oficios/internal/config"
	"github.com/labforense/oficios/internal/domain/casework"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/platform/auth"
	"github.com/labforense/oficios/internal/platform/blobstore"
	"github.com/labforense/oficios/internal/platform/db"
	"github.com/labforense/oficios/internal/platform/metrics"
	"github.com/labforense/oficios/internal/platform/middleware"
)

const version = "0.1.0"

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: every request is granted the admin role; set ENV=production and AUTH_ISSUER for real deployments")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer a.Close()
	logger.Info().Str("schema", cfg.DBSchema).Str("blob_driver", cfg.BlobDriver).Bool("workload_cache", a.redis != nil).Msg("connected")

	e := newEcho(cfg, a, reg, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(cfg *config.Config, a *app, reg *prometheus.Registry, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(metrics.NewHTTP(reg).Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevExaminerHeader},
	}))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, auth.AuthSkipper))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(strings.TrimSpace(cfg.AuthSigningKey)),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.PoolHealthHandler(a.pool))
	e.GET("/metrics", metrics.Handler(reg))

	apiV1 := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	oficio.NewHandler(a.oficios).RegisterRoutes(apiV1)
	casework.NewHandler(a.casework).RegisterRoutes(apiV1)
	blobstore.NewBlobHandler(a.blobs).RegisterRoutes(apiV1, auth.RequireRole(auth.RoleIntake, auth.RoleExaminer))

	return e
}
