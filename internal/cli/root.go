// Package cli implements the kura command tree: serve, ingest, query,
// delete, status, backup.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/pkg/utils"
)

var (
	cfgFile string
	debug   bool
)

// NewRootCommand creates the root command with all subcommands attached.
func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kura",
		Short: "Persistent vector retrieval service",
		Long: `Kura is a single-node vector retrieval service: documents go in, get
embedded, and become searchable by similarity, full text, or both. State
lives in one directory per deployment, one subdirectory per collection.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(newQueryCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, date))

	return rootCmd
}

// setup loads the configuration and builds the logger shared by every
// subcommand.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			if version == "" {
				version = "dev"
			}
			if commit == "" {
				commit = "local"
			}
			if date == "" {
				date = "unknown"
			}
			fmt.Printf("kura %s (%s) built %s\n", version, commit, date)
			fmt.Printf("go: %s, %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
