package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vitalwatch/vitalwatch/internal/config"
	"github.com/vitalwatch/vitalwatch/internal/domain/alerts"
	"github.com/vitalwatch/vitalwatch/internal/domain/scoring"
	"github.com/vitalwatch/vitalwatch/internal/domain/telemetry"
	"github.com/vitalwatch/vitalwatch/internal/platform/auth"
	"github.com/vitalwatch/vitalwatch/internal/platform/cache"
	"github.com/vitalwatch/vitalwatch/internal/platform/db"
	"github.com/vitalwatch/vitalwatch/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vitalwatch-server",
		Short: "Clinical alert triage and risk-scoring API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "migrations", "migrations directory")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s)\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Printf("%04d %-40s %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	// Redis is optional: without it the triage queue always reads Postgres.
	var queueCache *cache.QueueCache
	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		queueCache = cache.NewQueueCache(client, cfg.QueueCacheTTL)
		logger.Info().Msg("queue cache enabled")
	}

	scoringCfg := scoring.DefaultConfig()
	scoringCfg.Weights = scoring.Weights{
		Vitals:    cfg.ScoreWeightVitals,
		Trend:     cfg.ScoreWeightTrend,
		Adherence: cfg.ScoreWeightAdherence,
	}
	scorer := scoring.NewScorer(scoringCfg, logger)

	extractor := telemetry.NewExtractor(
		telemetry.NewSignalRepoPG(pool),
		cfg.SignalTimeout,
		logger,
	)

	slaPolicy := alerts.NewSLAPolicy(
		cfg.SLACriticalWindow, cfg.SLAHighWindow, cfg.SLAMediumWindow, cfg.SLALowWindow)
	policy := alerts.Policy{
		RankIncludeAcknowledged: cfg.RankIncludeAcknowledged,
		AllowDirectAcknowledge:  cfg.AllowDirectAcknowledge,
		SignalLookback:          cfg.SignalLookback,
	}

	alertRepo := alerts.NewAlertRepoPG(pool)
	alertSvc := alerts.NewService(alertRepo, extractor, scorer, slaPolicy, policy, queueCache, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, "X-Request-ID"},
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("running with development auth, all requests are admin")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", func(c echo.Context) error {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1 := e.Group("/api/v1")
	alerts.NewHandler(alertSvc).RegisterRoutes(apiV1)

	// Background sweeps: expired snoozes return to pending, and rankings are
	// periodically reconciled in case an inline refresh was missed.
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go runSweeps(sweepCtx, alertSvc, cfg.RankRefreshInterval, logger)

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
	stopSweeps()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runSweeps(ctx context.Context, svc *alerts.Service, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := svc.ReactivateExpiredSnoozes(ctx); err != nil {
				logger.Error().Err(err).Msg("snooze sweep failed")
			} else if n > 0 {
				logger.Info().Int("reactivated", n).Msg("snooze sweep completed")
			}
			if err := svc.RefreshAllRanks(ctx); err != nil {
				logger.Error().Err(err).Msg("rank sweep failed")
			}
		}
	}
}
