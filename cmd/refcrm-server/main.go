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
	"github.com/spf13/cobra"

	"github.com/refcrm/refcrm/internal/config"
	"github.com/refcrm/refcrm/internal/domain/email"
	"github.com/refcrm/refcrm/internal/domain/extraction"
	"github.com/refcrm/refcrm/internal/domain/refdata"
	"github.com/refcrm/refcrm/internal/domain/referral"
	"github.com/refcrm/refcrm/internal/domain/workflow"
	"github.com/refcrm/refcrm/internal/ingest"
	"github.com/refcrm/refcrm/internal/platform/blobstore"
	"github.com/refcrm/refcrm/internal/platform/db"
	"github.com/refcrm/refcrm/internal/platform/filemaker"
	"github.com/refcrm/refcrm/internal/platform/llm"
	"github.com/refcrm/refcrm/internal/platform/mailbox"
	"github.com/refcrm/refcrm/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "refcrm-server",
		Short: "Workers' compensation referral intake CRM",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(queuesCmd())
	rootCmd.AddCommand(refdataCmd())
	rootCmd.AddCommand(ingestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the wired-up service graph shared by serve and the ingest
// commands.
type app struct {
	cfg  *config.Config
	log  zerolog.Logger
	pool *pgxpool.Pool

	emails      email.Repository
	attachments email.AttachmentRepository
	refdataSvc  *refdata.Service
	referralSvc *referral.Service
	engine      *workflow.Engine
	blobs       blobstore.Store
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogPretty || cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	var blobs blobstore.Store
	if cfg.BlobstoreConfigured() {
		store, err := blobstore.NewMinioStore(cfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("object storage: %w", err)
		}
		blobs = store
	} else {
		logger.Warn().Msg("object storage not configured, artifacts held in memory")
		blobs = blobstore.NewMemory()
	}

	emails := email.NewRepoPG(pool)
	attachments := email.NewAttachmentRepoPG(pool)

	refdataSvc := refdata.NewService(
		refdata.NewDiagnosisRepoPG(pool),
		refdata.NewProcedureRepoPG(pool),
	)

	var submitter referral.RecordSubmitter
	if cfg.FileMakerConfigured() {
		submitter = filemaker.New(cfg)
	}

	parser := referral.NewParser(refdataSvc)
	referralSvc := referral.NewService(
		referral.NewRepoPG(pool),
		referral.NewLineItemRepoPG(pool),
		referral.NewCarrierRepoPG(pool),
		referral.NewStatusHistoryRepoPG(pool),
		parser,
		submitter,
		blobs,
		logger,
	)

	engine := workflow.NewEngine(
		workflow.NewQueueRepoPG(pool),
		workflow.NewItemRepoPG(pool),
		emails,
		referralSvc,
		referral.NewLineItemRepoPG(pool),
		pool,
		logger,
	)

	return &app{
		cfg:         cfg,
		log:         logger,
		pool:        pool,
		emails:      emails,
		attachments: attachments,
		refdataSvc:  refdataSvc,
		referralSvc: referralSvc,
		engine:      engine,
		blobs:       blobs,
	}, nil
}

func (a *app) newPipeline() (*ingest.Pipeline, error) {
	if !a.cfg.MailboxConfigured() {
		return nil, fmt.Errorf("GRAPH_* mailbox settings are required for ingestion")
	}
	return ingest.NewPipeline(
		mailbox.New(a.cfg),
		llm.New(a.cfg),
		a.emails,
		a.attachments,
		a.engine,
		extraction.NewConverter(a.refdataSvc),
		referral.NewParser(a.refdataSvc),
		a.blobs,
		a.cfg.IngestMaxEmails,
		time.Duration(a.cfg.IngestLookbackHrs)*time.Hour,
		a.log,
	), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.pool.Close()
	a.log.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))

	api := e.Group("/api/v1")
	referral.NewHandler(a.referralSvc).RegisterRoutes(api)
	email.NewHandler(a.emails, a.attachments).RegisterRoutes(api)
	workflow.NewHandler(a.engine).RegisterRoutes(api)
	refdata.NewHandler(a.refdataSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + a.cfg.Port
		a.log.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			a.log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.log.Fatal().Err(err).Msg("server shutdown failed")
	}
	a.log.Info().Msg("server stopped")
	return nil
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
			fmt.Printf("Applied %d migration(s).\n", count)
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
				return err
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

func queuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Manage work queues",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create or update the standard work queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			if err := a.engine.SeedQueues(ctx); err != nil {
				return err
			}
			fmt.Println("Queues seeded.")
			return nil
		},
	})
	return cmd
}

func refdataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refdata",
		Short: "Manage reference data",
	}

	loadCSV := func(use, short string, load func(ctx context.Context, a *app, f *os.File) (int, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use + " <file.csv>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := context.Background()
				a, err := buildApp(ctx)
				if err != nil {
					return err
				}
				defer a.pool.Close()

				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				n, err := load(ctx, a, f)
				if err != nil {
					return err
				}
				fmt.Printf("Loaded %d row(s).\n", n)
				return nil
			},
		}
		return c
	}

	cmd.AddCommand(loadCSV("load-diagnoses", "Load ICD-10 diagnosis codes from CSV",
		func(ctx context.Context, a *app, f *os.File) (int, error) {
			return a.refdataSvc.LoadDiagnosisCSV(ctx, f)
		}))
	cmd.AddCommand(loadCSV("load-procedures", "Load procedure codes from CSV",
		func(ctx context.Context, a *app, f *os.File) (int, error) {
			return a.refdataSvc.LoadProcedureCSV(ctx, f)
		}))

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load the built-in starter code tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			if err := a.refdataSvc.Seed(ctx); err != nil {
				return err
			}
			fmt.Println("Reference data seeded.")
			return nil
		},
	})
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the email ingestion pipeline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Process one batch of unread emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			pipeline, err := a.newPipeline()
			if err != nil {
				return err
			}
			stats, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d: %d created, %d skipped, %d errors.\n",
				stats.Processed, stats.Created, stats.Skipped, stats.Errors)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "poll",
		Short: "Poll the mailbox until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			pipeline, err := a.newPipeline()
			if err != nil {
				return err
			}
			interval := time.Duration(a.cfg.IngestPollSeconds) * time.Second
			poller := ingest.NewPoller(pipeline, interval, a.log)
			if err := poller.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	})
	return cmd
}
