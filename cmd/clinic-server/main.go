package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kaduart/fono-inova-api/internal/config"
	"github.com/kaduart/fono-inova-api/internal/domain/billing"
	"github.com/kaduart/fono-inova-api/internal/domain/bundles"
	"github.com/kaduart/fono-inova-api/internal/domain/identity"
	"github.com/kaduart/fono-inova-api/internal/domain/reporting"
	"github.com/kaduart/fono-inova-api/internal/domain/scheduling"
	"github.com/kaduart/fono-inova-api/internal/platform/auth"
	"github.com/kaduart/fono-inova-api/internal/platform/db"
	"github.com/kaduart/fono-inova-api/internal/platform/metrics"
	"github.com/kaduart/fono-inova-api/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic operations API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
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

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// sweepCmd compares every active bundle's ledger against the sum of its
// paid charges and reports drift left behind by exhausted reconciliation
// retries. With --repair it replays the missing amount through the ledger.
func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile bundle ledgers against paid charges",
		RunE: func(cmd *cobra.Command, args []string) error {
			repair, _ := cmd.Flags().GetBool("repair")

			logger := newLogger()
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

			runTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
				return db.WithSerializableTx(ctx, pool, fn)
			}
			sweeper := billing.NewSweeper(
				billing.NewRepo(pool),
				bundles.NewRepo(pool),
				runTx,
				metrics.NewConsistencyMetrics(nil),
				logger,
				repair || cfg.SweepRepair,
			)

			report, err := sweeper.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Checked %d bundle(s): %d mismatch(es), %d repaired.\n",
				report.BundlesChecked, report.Mismatches, report.Repaired)
			return nil
		},
	}
	cmd.Flags().Bool("repair", false, "Replay missing payments into drifting bundle ledgers")
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.ClinicTimezone).Msg("invalid clinic timezone")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	consistency := metrics.NewConsistencyMetrics(nil)

	// Repositories
	peopleRepo := identity.NewRepo(pool)
	bundleRepo := bundles.NewRepo(pool)
	chargeRepo := billing.NewRepo(pool)
	apptRepo := scheduling.NewRepo(pool)
	eventRepo := reporting.NewRepo(pool)

	prices := reporting.PricingTable{
		Session:    cfg.PriceSession,
		Evaluation: cfg.PriceEvaluation,
		Default:    cfg.PriceSession,
	}

	// The synchronizer doubles as the change sink for every domain
	// service: post-commit notifications flow straight into the
	// medical_event projection.
	specialties := reporting.DefaultSpecialtyTable()
	if cfg.SpecialtyDefault != "" {
		specialties.Default = cfg.SpecialtyDefault
	}

	synchronizer := reporting.NewSynchronizer(reporting.SynchronizerParams{
		Events:       eventRepo,
		Appointments: apptRepo,
		Bundles:      bundleRepo,
		People:       peopleRepo,
		Prices:       prices,
		Specialties:  specialties,
		Metrics:      consistency,
		Logger:       logger,
	})

	serializableTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithSerializableTx(ctx, pool, fn)
	}

	// Services
	identitySvc := identity.NewService(peopleRepo)
	bundleSvc := bundles.NewService(bundleRepo, synchronizer)
	billingSvc := billing.NewService(chargeRepo, bundleRepo, serializableTx, synchronizer, consistency, logger)

	startMin, endMin := cfg.DayWindow()
	grid := scheduling.SlotGrid{
		Location: loc,
		StartMin: startMin,
		EndMin:   endMin,
		StepMin:  cfg.SlotMinutes,
	}
	var policy scheduling.SlotPolicy = scheduling.NoBlocksPolicy{}
	if cfg.LunchBlockPractitioner != "" {
		id, err := uuid.Parse(cfg.LunchBlockPractitioner)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid LUNCH_BLOCK_PRACTITIONER")
		}
		policy = scheduling.LunchBlockPolicy{PractitionerID: id}
	}

	schedulingSvc := scheduling.NewService(scheduling.ServiceParams{
		Repo:     apptRepo,
		Patients: peopleRepo,
		Bundles:  bundleRepo,
		Charges:  chargeRepo,
		RunTx:    serializableTx,
		Location: loc,
		Grid:     grid,
		Policy:   policy,
		Prices: scheduling.PriceTable{
			Session:    cfg.PriceSession,
			Evaluation: cfg.PriceEvaluation,
		},
		Sink:    synchronizer,
		Metrics: consistency,
		Logger:  logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// After auth so authenticated clients are limited per user, not per
	// shared clinic address.
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))

	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	bundles.NewHandler(bundleSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	reporting.NewHandler(eventRepo).RegisterRoutes(apiV1)

	// Graceful shutdown
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
