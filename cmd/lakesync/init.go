// SPDX-License-Identifier: Apache-2.0

package lakesync

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the catalog schema and table in the lake",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sp, _ := pterm.DefaultSpinner.WithText("Initializing lakesync catalog...").Start()

			store, err := catalog.Open(ctx, cfg.LakeURL, metadataSchema(), cfg.StatementTimeout())
			if err != nil {
				sp.Fail(fmt.Sprintf("Failed to connect to lake: %s", err))
				return err
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				sp.Fail(fmt.Sprintf("Failed to initialize catalog: %s", err))
				return err
			}

			sp.Success("Catalog ready")
			return nil
		},
	}
}
