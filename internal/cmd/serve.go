package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/abduss/tusdrive/internal/server"
	"github.com/abduss/tusdrive/internal/storage"
	"github.com/abduss/tusdrive/internal/tus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeOptions configures the `serve` command.
type ServeOptions struct {
	*GlobalOptions

	AutoMigrate bool
}

// NewServeCommand creates the `serve` command.
func NewServeCommand(g *GlobalOptions) *cobra.Command {
	o := &ServeOptions{GlobalOptions: g}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the upload HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&o.AutoMigrate, "auto-migrate", true, "Create the Postgres index schema on startup")

	return cmd
}

func (o *ServeOptions) Run(ctx context.Context) error {
	cfg, logg, err := o.load()
	if err != nil {
		return err
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer backends.Close()

	if backends.DB != nil && o.AutoMigrate {
		if err := storage.Migrate(ctx, backends.DB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	writer, err := tus.NewWriter(cfg.Upload.Writer, backends.Store)
	if err != nil {
		return err
	}

	uploads := tus.NewService(backends.Store, backends.Index, backends.Locker, writer, tus.Options{
		Bucket:      cfg.Storage.Bucket,
		UploadPath:  cfg.Upload.Path,
		MaxSize:     cfg.Upload.MaxSize,
		Overwrite:   cfg.Upload.Overwrite,
		StatOffsets: cfg.Upload.StatOffsets,
	})

	deps := server.Dependencies{
		Config:  cfg,
		Redis:   backends.Redis,
		Store:   backends.Store,
		Uploads: uploads,
	}
	if backends.DB != nil {
		deps.DB = backends.DB
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      server.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info("tusdrive listening",
			zap.String("address", cfg.Server.Address()),
			zap.String("backend", cfg.Storage.Backend),
			zap.String("dedup_index", cfg.Dedup.Index),
			zap.String("lock_backend", cfg.Lock.Backend),
			zap.String("upload_path", "/"+uploads.UploadPath()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logg.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", zap.Error(err))
		return err
	}
	return nil
}
