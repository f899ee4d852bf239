// SPDX-License-Identifier: Apache-2.0

// Package lakesync is the command-line entry point: a thin cobra wrapper
// around pkg/scheduler for manual operation and integration testing, not
// a general operations CLI.
package lakesync

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/config"
	"github.com/lakesync/lakesync/pkg/logging"
	"github.com/lakesync/lakesync/pkg/scheduler"

	// Blank-imported so each engine's init() registers its adapter factory
	// with pkg/source before the scheduler looks one up by engine tag.
	_ "github.com/lakesync/lakesync/pkg/source/mariadb"
	_ "github.com/lakesync/lakesync/pkg/source/mongo"
	_ "github.com/lakesync/lakesync/pkg/source/mssql"
	_ "github.com/lakesync/lakesync/pkg/source/oracle"
	_ "github.com/lakesync/lakesync/pkg/source/postgres"
)

// Version is set at build time via -ldflags.
var Version = "development"

func init() {
	config.BindFlags(rootCmd)

	rootCmd.PersistentFlags().String("metadata-schema", "metadata", "lake schema holding the catalog table")
	viper.BindPFlag("METADATA_SCHEMA", rootCmd.PersistentFlags().Lookup("metadata-schema"))
}

// metadataSchema returns the configured catalog/change-log schema name.
func metadataSchema() string {
	if s := viper.GetString("METADATA_SCHEMA"); s != "" {
		return s
	}
	return "metadata"
}

var rootCmd = &cobra.Command{
	Use:          "lakesync",
	Short:        "Synchronize relational and document sources into a Postgres lake",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(runCmd())

	return rootCmd.Execute()
}

// newScheduler loads configuration, opens the catalog, and builds a
// Scheduler, the construction every subcommand needs.
func newScheduler(ctx context.Context) (*scheduler.Scheduler, *catalog.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	store, err := catalog.Open(ctx, cfg.LakeURL, metadataSchema(), cfg.StatementTimeout())
	if err != nil {
		return nil, nil, err
	}

	logger := logging.NewLogger()

	sched, err := scheduler.New(ctx, store, cfg, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return sched, store, nil
}
