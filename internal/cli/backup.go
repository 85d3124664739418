package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kura/internal/backup"
)

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload the store to an S3-compatible bucket",
		Long: `Flush every collection, then upload the store directory to the bucket
configured under backup:. Re-running overwrites the previous backup.`,
		Args: cobra.NoArgs,
		RunE: runBackup,
	}
}

func runBackup(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c, err := newComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()

	// Snapshots on disk must cover every committed write before upload.
	if err := c.manager.Flush(ctx); err != nil {
		return fmt.Errorf("flush before backup: %w", err)
	}

	u, err := backup.New(ctx, backup.Options{
		Endpoint:  cfg.Backup.Endpoint,
		Bucket:    cfg.Backup.Bucket,
		Prefix:    cfg.Backup.Prefix,
		AccessKey: cfg.Backup.AccessKey,
		SecretKey: cfg.Backup.SecretKey,
		UseSSL:    cfg.Backup.UseSSL,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	sum, err := u.Run(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %d files (%d bytes) to %s/%s\n",
		sum.Files, sum.Bytes, cfg.Backup.Bucket, cfg.Backup.Prefix)
	return nil
}
