// SPDX-License-Identifier: Apache-2.0

package lakesync

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lakesync/lakesync/pkg/config"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the cycle scheduler continuously until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sched, store, err := newScheduler(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			defer sched.Shutdown()

			err = sched.Run(ctx, cfg.CycleInterval())
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}
