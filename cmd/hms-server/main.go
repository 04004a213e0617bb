package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/gate"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/pricing"
	"github.com/hms/hms/internal/domain/records"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital Management API Server",
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
		Short: "Start the HMS API server",
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
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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

// sweepCmd expires overdue authorization codes once and exits. The serve
// command already runs the same sweep on an interval; this exists for
// cron-style deployments that prefer an external scheduler.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-codes",
		Short: "Expire overdue NHIA authorization codes and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			svc := buildAuthorizationService(pool, cfg)
			n, err := svc.SweepExpired(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Printf("Expired %d authorization code(s).\n", n)
			return nil
		},
	}
}

func buildAuthorizationService(pool *pgxpool.Pool, cfg *config.Config) *authorization.Service {
	patientRepo := patient.NewRepoPG(pool)
	notifier := notification.NewNotificationManager(notification.NewPGStore(pool),
		&notification.MockEmailSender{}, &notification.MockSMSSender{}, notification.NewTemplateEngine())
	return authorization.NewService(
		authorization.NewCodeRepoPG(pool), authorization.NewRequestRepoPG(pool),
		patientRepo, notifier, nil, cfg.AuthCodeValidityDays)
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Repositories
	patientRepo := patient.NewRepoPG(pool)
	itemRepo := catalog.NewRepoPG(pool)
	mappingRepo := catalog.NewMappingRepoPG(pool)
	codeRepo := authorization.NewCodeRepoPG(pool)
	requestRepo := authorization.NewRequestRepoPG(pool)
	configRepo := records.NewConfigRepoPG(pool)
	recordRepo := records.NewRecordRepoPG(pool)
	invoiceRepo := billing.NewRepoPG(pool)
	medRepo := pharmacy.NewMedicationRepoPG(pool)
	dispensaryRepo := pharmacy.NewDispensaryRepoPG(pool)
	inventoryRepo := pharmacy.NewInventoryRepoPG(pool)
	packRepo := pharmacy.NewPackRepoPG(pool)
	orderRepo := pharmacy.NewPackOrderRepoPG(pool)
	prescriptionRepo := pharmacy.NewPrescriptionRepoPG(pool)

	// Notifications go to the in-process sink until an SMS/email gateway
	// is configured for the deployment.
	notifier := notification.NewNotificationManager(notification.NewPGStore(pool),
		&notification.MockEmailSender{}, &notification.MockSMSSender{}, notification.NewTemplateEngine())

	// Services, in dependency order
	nhiaRate := decimal.NewFromFloat(cfg.NHIADiscountRate)
	patientSvc := patient.NewService(patientRepo)
	catalogSvc := catalog.NewService(itemRepo, mappingRepo)
	authSvc := authorization.NewService(codeRepo, requestRepo, patientRepo, notifier, nil, cfg.AuthCodeValidityDays)
	recordsSvc := records.NewService(configRepo, recordRepo, patientRepo, authSvc)
	gateSvc := gate.NewService(patientRepo, recordsSvc, authSvc, nhiaRate)
	pricingSvc := pricing.NewService(authSvc, nhiaRate)
	billingSvc := billing.NewService(pool, invoiceRepo, patientRepo, catalogSvc, gateSvc, authSvc, nil)
	pharmacySvc := pharmacy.NewService(pool, medRepo, dispensaryRepo, inventoryRepo,
		packRepo, orderRepo, prescriptionRepo, patientRepo, recordsSvc, gateSvc, pricingSvc,
		billingSvc, nil)

	// Routes
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	authorization.NewHandler(authSvc).RegisterRoutes(apiV1)
	records.NewHandler(recordsSvc).RegisterRoutes(apiV1)
	gate.NewHandler(gateSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)
	pharmacy.NewHandler(pharmacySvc).RegisterRoutes(apiV1)
	notification.NewNotificationHandler(notifier).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Background code expiry sweep
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweeper := authorization.NewSweeper(authSvc, time.Duration(cfg.SweepIntervalMinutes)*time.Minute)
	go sweeper.Run(sweepCtx)

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
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
