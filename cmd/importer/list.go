package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/relannis/internal/database"
	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/corpus"
)

func newListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imported corpora",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			corpora, err := corpus.List(ctx, pool)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return outputJSON(cmd.OutOrStdout(), corpora)
			case "table":
				outputTable(cmd.OutOrStdout(), corpora)
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")

	return cmd
}

type listOutputEntry struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Texts    int64  `json:"texts"`
	Tokens   int64  `json:"tokens"`
	Source   string `json:"source,omitempty"`
	Imported string `json:"imported"`
}

func outputJSON(w io.Writer, corpora []common.Corpus) error {
	output := make([]listOutputEntry, 0, len(corpora))
	for _, c := range corpora {
		output = append(output, listOutputEntry{
			ID:       c.ID,
			Name:     c.Name,
			Texts:    c.Texts,
			Tokens:   c.Tokens,
			Source:   c.SourcePath,
			Imported: c.ImportedAt.Format(time.RFC3339),
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func outputTable(w io.Writer, corpora []common.Corpus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Texts", "Tokens", "Imported", "Source"})
	for _, c := range corpora {
		t.AppendRow(table.Row{
			c.ID,
			c.Name,
			c.Texts,
			c.Tokens,
			c.ImportedAt.Format("2006-01-02 15:04:05"),
			c.SourcePath,
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d corpora", len(corpora))})
	t.Render()
}
