package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telerx/telerx/internal/config"
	"github.com/telerx/telerx/internal/domain/credentials"
	"github.com/telerx/telerx/internal/domain/payment"
	"github.com/telerx/telerx/internal/domain/pharmacy"
	"github.com/telerx/telerx/internal/domain/prescription"
	"github.com/telerx/telerx/internal/platform/audit"
	"github.com/telerx/telerx/internal/platform/auth"
	"github.com/telerx/telerx/internal/platform/authnet"
	"github.com/telerx/telerx/internal/platform/crypto"
	"github.com/telerx/telerx/internal/platform/db"
	"github.com/telerx/telerx/internal/platform/digitalrx"
	"github.com/telerx/telerx/internal/platform/mailer"
	"github.com/telerx/telerx/internal/platform/middleware"
	"github.com/telerx/telerx/internal/platform/outbox"
	"github.com/telerx/telerx/internal/platform/refill"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "telerx-server",
		Short: "TeleRx prescription and payment orchestration server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(refillCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server, outbox worker, and refill scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
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

func refillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refill",
		Short: "Refill job operations",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily refill job once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			deps, err := buildServices(cfg, pool, logger)
			if err != nil {
				return err
			}

			sched := refill.NewScheduler(deps.refillJob, deps.auditLogger, cfg.RefillHourUTC, logger)
			return sched.RunOnce(ctx)
		},
	}
	cmd.AddCommand(runCmd)

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// services bundles everything the server and the standalone refill command
// share so wiring happens in exactly one place.
type services struct {
	pharmacySvc     *pharmacy.Service
	resolver        *pharmacy.Resolver
	credsSvc        *credentials.Service
	prescriptionSvc *prescription.Service
	paymentSvc      *payment.Service
	outboxStore     *outbox.PgStore
	auditLogger     *audit.Logger
	refillJob       *refill.Job
	rxRepo          prescription.Repository
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*services, error) {
	keyBytes, err := cfg.CryptoKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("CRYPTO_KEY: %w", err)
	}
	encryptor, err := crypto.NewKeyEncryptor(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("create credential encryptor: %w", err)
	}

	pharmacyRepo := pharmacy.NewRepoPG(pool)
	credsRepo := credentials.NewRepoPG(pool)
	rxRepo := prescription.NewRepoPG(pool)
	paymentRepo := payment.NewRepoPG(pool)
	outboxStore := outbox.NewPgStore(pool)
	auditLogger := audit.NewLogger(audit.NewStorePG(pool), logger)

	credsSvc := credentials.NewService(credsRepo, encryptor)
	pharmacySvc := pharmacy.NewService(pharmacyRepo, encryptor)
	resolver := pharmacy.NewResolver(pharmacyRepo, encryptor)

	rxClient := digitalrx.NewClient(cfg.RxVendorName)
	gateway := authnet.NewClient(cfg.AuthNetBaseURL)

	paymentSvc := payment.NewService(paymentRepo, rxRepo, gateway, credsSvc,
		outboxStore, auditLogger, logger, cfg.BaseURL)
	prescriptionSvc := prescription.NewService(rxRepo, resolver, rxClient,
		outboxStore, paymentSvc, auditLogger, logger)

	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithinTx(ctx, pool, fn)
	}
	refillJob := refill.NewJob(rxRepo, outboxStore, paymentSvc, inTx, logger)

	return &services{
		pharmacySvc:     pharmacySvc,
		resolver:        resolver,
		credsSvc:        credsSvc,
		prescriptionSvc: prescriptionSvc,
		paymentSvc:      paymentSvc,
		outboxStore:     outboxStore,
		auditLogger:     auditLogger,
		refillJob:       refillJob,
		rxRepo:          rxRepo,
	}, nil
}

// outboxPayload is the shape shared by the pharmacy-submission, link
// generation, and confirmation events.
type outboxPayload struct {
	PrescriptionID string `json:"prescription_id"`
	SendEmail      bool   `json:"send_email"`
}

// paymentEmailPayload carries everything the payment email needs so the
// handler does not depend on link state at delivery time.
type paymentEmailPayload struct {
	PrescriptionID string `json:"prescription_id"`
	To             string `json:"to"`
	Medication     string `json:"medication"`
	AmountCents    int64  `json:"amount_cents"`
	PaymentURL     string `json:"payment_url"`
}

func parsePrescriptionID(raw json.RawMessage) (uuid.UUID, error) {
	var p outboxPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return uuid.Nil, fmt.Errorf("decode payload: %w", err)
	}
	id, err := uuid.Parse(p.PrescriptionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad prescription_id %q: %w", p.PrescriptionID, err)
	}
	return id, nil
}

func registerOutboxHandlers(w *outbox.Worker, deps *services, mail mailer.Mailer) {
	w.Register(outbox.KindSubmitToPharmacy, func(ctx context.Context, e *outbox.Event) error {
		id, err := parsePrescriptionID(e.Payload)
		if err != nil {
			return err
		}
		_, err = deps.prescriptionSvc.SubmitToPharmacy(ctx, id)
		return err
	})

	w.Register(outbox.KindGeneratePaymentLink, func(ctx context.Context, e *outbox.Event) error {
		var p outboxPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		id, err := uuid.Parse(p.PrescriptionID)
		if err != nil {
			return fmt.Errorf("bad prescription_id %q: %w", p.PrescriptionID, err)
		}
		_, err = deps.paymentSvc.GenerateLink(ctx, id, p.SendEmail)
		return err
	})

	w.Register(outbox.KindSendPaymentEmail, func(ctx context.Context, e *outbox.Event) error {
		var p paymentEmailPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		id, err := uuid.Parse(p.PrescriptionID)
		if err != nil {
			return fmt.Errorf("bad prescription_id %q: %w", p.PrescriptionID, err)
		}
		rx, err := deps.rxRepo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load prescription: %w", err)
		}
		return mail.SendPaymentLink(ctx, mailer.PaymentLinkEmail{
			To:          p.To,
			PatientName: rx.PatientFirstName + " " + rx.PatientLastName,
			Medication:  p.Medication,
			AmountCents: p.AmountCents,
			PaymentURL:  p.PaymentURL,
		})
	})

	w.Register(outbox.KindSendConfirmationEmail, func(ctx context.Context, e *outbox.Event) error {
		id, err := parsePrescriptionID(e.Payload)
		if err != nil {
			return err
		}
		rx, err := deps.rxRepo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load prescription: %w", err)
		}
		return mail.SendConfirmation(ctx, mailer.ConfirmationEmail{
			To:          rx.PatientEmail,
			PatientName: rx.PatientFirstName + " " + rx.PatientLastName,
			Medication:  rx.Medication,
			AmountCents: rx.TotalCents(),
		})
	})
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

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	deps, err := buildServices(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	// User-facing routes require a JWT (or the dev identity in development).
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}
	apiV1 := e.Group("/api/v1", authMW)

	// Service-to-service routes authenticate with the internal key pair.
	internal := e.Group("/internal", middleware.InternalAuth(cfg.InternalAPIKey, cfg.InternalAPISecret))

	pharmacy.NewHandler(deps.pharmacySvc).RegisterRoutes(apiV1)
	credentials.NewHandler(deps.credsSvc).RegisterRoutes(apiV1)
	prescription.NewHandler(deps.prescriptionSvc).RegisterRoutes(apiV1, internal)
	payment.NewHandler(deps.paymentSvc).RegisterRoutes(apiV1, internal)
	outbox.NewHandler(deps.outboxStore).RegisterRoutes(apiV1)

	// The gateway webhook is unauthenticated; the handler verifies the
	// HMAC signature against the stored signature key instead.
	payment.NewWebhookHandler(deps.paymentSvc, deps.credsSvc, deps.auditLogger, logger).RegisterRoutes(e)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Background workers: outbox delivery and the daily refill scheduler.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	worker := outbox.NewWorker(deps.outboxStore, logger, time.Duration(cfg.OutboxPollSeconds)*time.Second)
	registerOutboxHandlers(worker, deps, mailer.NewLogMailer(logger))
	go worker.Run(workerCtx)

	refill.NewScheduler(deps.refillJob, deps.auditLogger, cfg.RefillHourUTC, logger).Start(workerCtx)

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
	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
