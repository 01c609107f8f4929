package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/relannis/internal/app"
	"github.com/OFFIS-RIT/relannis/pkg/extdata"
	"github.com/OFFIS-RIT/relannis/pkg/leaselock"
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stored media files no corpus references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			a, err := app.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			opts, err := app.PipelineOptions(cfg.Import)
			if err != nil {
				return err
			}

			var removed int
			err = leaselock.New(a.Pool).WithLease(ctx, leaselock.ImportKey, opts.Lock, func(ctx context.Context) error {
				n, err := extdata.Cleanup(ctx, a.Pool, a.Media)
				removed = n
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d orphaned media files\n", removed)
			return nil
		},
	}

	return cmd
}
