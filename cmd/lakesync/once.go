// SPDX-License-Identifier: Apache-2.0

package lakesync

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle across every configured engine and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sched, store, err := newScheduler(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			defer sched.Shutdown()

			sp, _ := pterm.DefaultSpinner.WithText("Running one sync cycle...").Start()
			if err := sched.RunOnce(ctx); err != nil {
				sp.Fail(fmt.Sprintf("Cycle failed: %s", err))
				return err
			}

			sp.Success("Cycle complete")
			return nil
		},
	}
}
