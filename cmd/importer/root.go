package main

import (
	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/relannis/internal/app"
	"github.com/OFFIS-RIT/relannis/internal/config"
	"github.com/OFFIS-RIT/relannis/internal/util"
)

var (
	configPath string
	debug      bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "relannis",
	Short:         "relannis - import relANNIS corpora into PostgreSQL",
	Long:          "relannis loads relANNIS 3.1, 3.2 and 3.3 corpus directories into the ANNIS query schema.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		util.LoadEnv()
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			c.Debug = true
		}
		app.InitLogger(c, "")
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a relannis.yaml config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newMigrateCmd())
}
