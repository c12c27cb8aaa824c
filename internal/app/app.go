// Package app wires configuration, storage and transport into the process
// entry point.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/config"
	"github.com/willemliu/universal-comments/internal/database"
	"github.com/willemliu/universal-comments/internal/logger"
)

// Init loads configuration and builds the logger. The returned closer
// releases the log file, if any.
func Init(w io.Writer) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, closer := logger.Setup(w, logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	return cfg, log, closer, nil
}

// Run dispatches on the subcommand in args (os.Args[1:]).
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck("http://localhost:" + port)
	}

	cfg, log, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	log.Info().Str("command", string(cmd)).Str("backend", cfg.Backend).Str("port", cfg.Port).Msg("starting universal-comments")

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	case CommandRollback:
		return runRollback(cfg, log)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, log)
	}
}

// runServe serves until ctx is cancelled and then shuts down gracefully.
func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := build(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}

func runMigrate(cfg *config.Config, log zerolog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate needs DATABASE_URL")
	}
	log.Info().Str("database_url", maskDatabaseURL(cfg.DatabaseURL)).Msg("running database migrations")
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info().Msg("database migrations completed")
	return nil
}

func runRollback(cfg *config.Config, log zerolog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("rollback needs DATABASE_URL")
	}
	log.Info().Str("database_url", maskDatabaseURL(cfg.DatabaseURL)).Msg("rolling back last migration")
	if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

func runHealthcheck(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL hides credentials in log output.
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
