package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gavel/api/internal/app"
	"gavel/api/internal/archive"
	"gavel/api/internal/config"
	"gavel/api/internal/docstore"
	"gavel/api/internal/email"
	"gavel/api/internal/events"
	"gavel/api/internal/search"
	"gavel/api/internal/session"
	"gavel/api/internal/store"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gavel"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Chapter proposal and voting API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), config.Load())
			},
		},
		migrateCmd(),
		attendanceCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPoolOptions)
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			slog.Info("migrations applied", "count", len(applied), "versions", applied)
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			cfg := config.Load()
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPoolOptions)
			if err != nil {
				return err
			}
			defer db.Close()
			reverted, err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, steps)
			if err != nil {
				return err
			}
			slog.Info("migrations rolled back", "count", len(reverted), "versions", reverted)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)
	return cmd
}

func attendanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Maintain roll-call records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete attendance entries older than the attendance window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPoolOptions)
			if err != nil {
				return err
			}
			defer db.Close()
			service := app.New(cfg, app.Dependencies{Store: store.NewPostgresStore(db)})
			deleted, err := service.PurgeAttendance(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("attendance purged", "deleted", deleted, "window", cfg.AttendanceWindow)
			return nil
		},
	})
	return cmd
}

func configureLogging(flagLevel string) {
	levelName := flagLevel
	if levelName == "" {
		levelName = config.Load().LogLevel
	}
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	dataStore, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	publishers := events.Multi{
		events.LogPublisher{},
		events.NewRedisStreamPublisher(sessions.Client(), cfg.EventStream),
	}
	if strings.TrimSpace(cfg.NATSURL) != "" {
		nats, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer nats.Close()
		publishers = append(publishers, nats)
	}

	var fallback search.Searcher = search.NewScan(dataStore)
	if db != nil {
		fallback = search.NewPgFTS(db)
	}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, fallback)
	defer searchService.Close()

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	deps := app.Dependencies{
		Store:    dataStore,
		Sessions: sessions,
		Events:   publishers,
		Search:   searchService,
		Ledger:   archive.New(cfg.ArchiveDir),
		Metrics:  app.NewMetrics(),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	docCfg := docstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}
	if docCfg.IsConfigured() {
		docs, err := docstore.New(docCfg)
		if err != nil {
			return fmt.Errorf("document storage: %w", err)
		}
		if err := docs.EnsureBucket(ctx); err != nil {
			slog.Warn("document bucket unavailable", "bucket", cfg.MinioBucket, "err", err)
		}
		deps.Docs = docs
	} else {
		slog.Info("document storage disabled")
	}

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		slog.Warn("bootstrap error (will retry on next restart)", "err", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gavel API listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return nil
}

// openStore returns the configured store. The *sql.DB is nil for the memory
// store.
func openStore(ctx context.Context, cfg config.Config) (store.Store, *sql.DB, error) {
	if strings.EqualFold(cfg.Store, "memory") {
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil, nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		slog.Info("migrations applied", "versions", applied)
	}
	return store.NewPostgresStore(db), db, nil
}
