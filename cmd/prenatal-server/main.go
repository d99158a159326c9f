package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prenatal/prenatal/internal/config"
	"github.com/prenatal/prenatal/internal/domain/labs"
	"github.com/prenatal/prenatal/internal/domain/obstetrics"
	"github.com/prenatal/prenatal/internal/domain/schedule"
	"github.com/prenatal/prenatal/internal/platform/auth"
	"github.com/prenatal/prenatal/internal/platform/db"
	"github.com/prenatal/prenatal/internal/platform/middleware"
	"github.com/prenatal/prenatal/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "prenatal-server",
		Short:        "Prenatal care API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(calcCmd())
	rootCmd.AddCommand(rangesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadProtocol reads VISIT_PROTOCOL_FILE, falling back to the embedded
// protocol, and attaches the clinic calendar when enabled and the file did
// not bring its own.
func loadProtocol(cfg *config.Config) (*schedule.Protocol, error) {
	p, err := schedule.LoadProtocol(cfg.VisitProtocolFile)
	if err != nil {
		return nil, err
	}
	if cfg.ClinicCalendarEnabled && p.Clinic == nil {
		p = p.WithClinic(schedule.DefaultClinicCalendar())
	}
	return p, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware()
	case config.AuthModeJWT:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.SigningKey),
			Skipper:    auth.AuthSkipper,
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		})
	}
}

// serverDeps are the collaborators built before the router. Pool is nil
// when no database is configured, Metrics when METRICS_ENABLED is off.
type serverDeps struct {
	Protocol   *schedule.Protocol
	Classifier *labs.Classifier
	Location   *time.Location
	Pool       *pgxpool.Pool
	Metrics    *telemetry.Metrics
}

// newMetrics wires the classifier and pool into a fresh registry.
func newMetrics(classifier *labs.Classifier, pool *pgxpool.Pool) *telemetry.Metrics {
	m := telemetry.NewMetrics()
	classifier.Observe(func(analyte string, tier labs.Tier) {
		m.ObserveClassification(analyte, string(tier))
	})
	if pool != nil {
		m.RegisterGauge("db_pool_total_connections", "Connections currently open in the pool.", func() float64 {
			return float64(pool.Stat().TotalConns())
		})
		m.RegisterGauge("db_pool_acquired_connections", "Connections currently checked out.", func() float64 {
			return float64(pool.Stat().AcquiredConns())
		})
	}
	return m
}

func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if deps.Metrics != nil {
		e.Use(deps.Metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.Timeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.Timeout))
	}

	e.Use(authMiddleware(cfg))

	// Keyed by user, so it runs after authentication
	if cfg.RateLimitRPS > 0 {
		e.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateBurst,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	var pinger db.Pinger
	if deps.Pool != nil {
		pinger = deps.Pool
	}
	e.GET("/health/db", db.HealthHandler(pinger))
	if deps.Metrics != nil {
		e.GET(telemetry.MetricsPath, deps.Metrics.PrometheusHandler())
	}

	apiV1 := e.Group("/api/v1")

	calcHandler := obstetrics.NewCalcHandler(deps.Protocol, deps.Classifier, deps.Location)
	calcHandler.RegisterRoutes(apiV1)

	if deps.Pool != nil {
		pool := deps.Pool
		svc := obstetrics.NewService(
			obstetrics.NewPregnancyRepoPG(pool),
			obstetrics.NewVisitRepoPG(pool),
			obstetrics.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
				return db.WithTx(ctx, pool, fn)
			}),
			obstetrics.WithProtocol(deps.Protocol),
			obstetrics.WithClassifier(deps.Classifier),
			obstetrics.WithLocation(deps.Location),
		)
		obstetrics.NewHandler(svc).RegisterRoutes(apiV1)
	}

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	protocol, err := loadProtocol(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load visit protocol")
	}

	classifier, err := labs.Open(ctx, labs.SourceConfig{
		Kind:     cfg.RangesSource,
		File:     cfg.RangesFile,
		Watch:    cfg.RangesWatch,
		RedisURL: cfg.RedisURL,
		Key:      cfg.RangesKey,
		Channel:  cfg.RangesChannel,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load reference ranges")
	}
	logger.Info().
		Str("protocol", protocol.Version).
		Str("ranges", classifier.Table().Version).
		Str("ranges_source", classifier.Table().Source).
		Msg("engine tables loaded")

	// Database
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   cfg.DBSchema,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, pregnancy routes disabled")
	}

	deps := serverDeps{
		Protocol:   protocol,
		Classifier: classifier,
		Location:   loc,
		Pool:       pool,
	}
	if cfg.Metrics {
		deps.Metrics = newMetrics(classifier, pool)
	}
	e := newServer(cfg, logger, deps)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
