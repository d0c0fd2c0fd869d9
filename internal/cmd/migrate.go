package cmd

import (
	"context"
	"fmt"

	"github.com/abduss/tusdrive/internal/dedup"
	"github.com/abduss/tusdrive/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// MigrateOptions configures the `migrate` command.
type MigrateOptions struct {
	*GlobalOptions

	Backfill bool
}

// NewMigrateCommand creates the `migrate` command, which prepares the
// duplicate index: it creates the Postgres schema and records objects
// already in the bucket.
func NewMigrateCommand(g *GlobalOptions) *cobra.Command {
	o := &MigrateOptions{GlobalOptions: g}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the index schema and index stored objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&o.Backfill, "backfill", true, "Record objects already in the bucket in the duplicate index")

	return cmd
}

func (o *MigrateOptions) Run(ctx context.Context) error {
	cfg, logg, err := o.load()
	if err != nil {
		return err
	}
	defer logg.Sync()

	backends, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer backends.Close()

	if backends.DB != nil {
		if err := storage.Migrate(ctx, backends.DB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logg.Info("schema up to date", zap.String("database", cfg.Postgres.Database))
	}

	if !o.Backfill {
		return nil
	}
	recorder, ok := backends.Index.(dedup.Recorder)
	if !ok {
		logg.Info("index reads live content, nothing to backfill", zap.String("dedup_index", cfg.Dedup.Index))
		return nil
	}

	recorded, err := dedup.Backfill(ctx, backends.Store, cfg.Storage.Bucket, recorder)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	logg.Info("index backfilled",
		zap.String("bucket", cfg.Storage.Bucket),
		zap.String("dedup_index", cfg.Dedup.Index),
		zap.Int("objects", recorded))
	return nil
}
