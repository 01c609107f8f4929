package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/relannis/internal/app"
	"github.com/OFFIS-RIT/relannis/pkg/importer"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
)

func newImportCmd() *cobra.Command {
	var (
		overwrite      bool
		alias          string
		exampleQueries string
	)

	cmd := &cobra.Command{
		Use:   "import <path>...",
		Short: "Import one or more relANNIS corpus directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if alias != "" && len(args) > 1 {
				return fmt.Errorf("--alias can only be used with a single corpus")
			}
			if cmd.Flags().Changed("example-queries") {
				cfg.Import.ExampleQueries = exampleQueries
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			go func() {
				<-ctx.Done()
				a.Pipeline.Cancel()
			}()

			for _, path := range args {
				res, err := a.Pipeline.Import(ctx, importer.Request{
					Path:      path,
					Overwrite: overwrite,
					Alias:     alias,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (id %d, relANNIS %s, %d nodes, %d media files) in %s\n",
					res.Name, res.CorpusID, res.Version, res.Nodes, res.MediaFiles, res.Duration.Round(time.Millisecond))
			}
			logger.Debug("[CLI] Import command finished", "corpora", len(args))
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing corpus with the same name")
	cmd.Flags().StringVar(&alias, "alias", "", "Register an alias for the imported corpus")
	cmd.Flags().StringVar(&exampleQueries, "example-queries", "IF_MISSING", "Generate example queries: IF_MISSING, TRUE or FALSE")

	return cmd
}
