package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pillfolio/pillfolio/internal/boundary"
	"github.com/pillfolio/pillfolio/internal/config"
	"github.com/pillfolio/pillfolio/internal/domain/patient"
	"github.com/pillfolio/pillfolio/internal/domain/prescription"
	"github.com/pillfolio/pillfolio/internal/platform/db"
	"github.com/pillfolio/pillfolio/internal/platform/filestore"
	"github.com/pillfolio/pillfolio/internal/platform/imagecompress"
	"github.com/pillfolio/pillfolio/internal/platform/middleware"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "pillfolio",
		Short:        "Personal health record store for prescriptions",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(patientCmd())
	rootCmd.AddCommand(prescriptionCmd())
	return rootCmd
}

// newLogger builds the process logger: JSON on w, or a console writer in
// development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is the wired core shared by the server and the record commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	driver   db.Driver
	migrator *db.Migrator
	files    *filestore.Local

	patients      *patient.Service
	prescriptions *prescription.Service
}

// newApp opens the store and wires the services. picker supplies photos for
// the prescription lifecycle; the HTTP server stages uploads instead and
// passes an empty PathPicker.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, picker boundary.ImagePicker) (*app, error) {
	driver, err := db.Open(ctx, db.Options{
		Driver:      cfg.StoreDriver,
		Path:        cfg.DatabasePath,
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		Timeout:     cfg.DBOpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	migrations, err := db.DefaultMigrations()
	if err != nil {
		driver.Close()
		return nil, err
	}
	clock := boundary.SystemClock{}
	migrator := db.NewMigrator(driver, migrations, clock.NowISO)

	files, err := filestore.NewLocal(cfg.StorageDir)
	if err != nil {
		driver.Close()
		return nil, err
	}

	patientRepo := patient.NewRepo(driver)
	prescriptionRepo := prescription.NewRepo(driver)

	prescriptions := prescription.NewService(prescriptionRepo, patientRepo, migrator, prescription.Boundaries{
		Picker:     picker,
		Compressor: imagecompress.NewCompressor(cfg.CacheDir(), cfg.ImageQuality, cfg.ImageMaxDimension),
		Storage:    files,
		Clock:      clock,
	}, logger)
	prescriptions.SetDefaultPatientName(cfg.DefaultPatientName)

	return &app{
		cfg:           cfg,
		logger:        logger,
		driver:        driver,
		migrator:      migrator,
		files:         files,
		patients:      patient.NewService(patientRepo, migrator, clock, logger),
		prescriptions: prescriptions,
	}, nil
}

func (a *app) Close() error { return a.driver.Close() }

// withApp loads config, opens the app for the duration of fn and closes it.
func withApp(cmd *cobra.Command, picker boundary.ImagePicker, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger, picker)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local pillfolio API server",
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

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				count, err := a.migrator.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, boundary.PathPicker{}, func(ctx context.Context, a *app) error {
				statuses, err := a.migrator.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-30s %-10s %s\n", "MIGRATION", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status := "pending"
					if s.Applied {
						status = "applied"
					}
					fmt.Fprintf(out, "%-30s %-10s %s\n", s.ID, status, s.AppliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

// newServer builds the echo instance for a wired app.
func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/healthz", db.HealthHandler(a.driver, a.migrator))

	apiV1 := e.Group("/api/v1")
	patient.NewHandler(a.patients).RegisterRoutes(apiV1)
	prescription.NewHandler(a.prescriptions, a.files).RegisterRoutes(apiV1)
	filestore.NewHandler(a.files).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, boundary.PathPicker{})
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer a.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to store")

	if _, err := a.migrator.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to migrate store")
		return err
	}

	e := newServer(a)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
