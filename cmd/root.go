// Package cmd contains CLI entrypoints.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telemart/telemart/internal/config"
)

var configPath string

var rootCommand = &cobra.Command{
	Use:   "telemart",
	Short: "Telemart billing service",
}

func init() {
	rootCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to yaml config file")

	rootCommand.AddCommand(
		serveWebCommand,
		migrateCommand,
		plansCommand,
		envHelpCommand,
	)
}

func Execute() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfig() *config.Config {
	cfg, err := config.New(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to load config: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

var envHelpCommand = &cobra.Command{
	Use:   "env-help",
	Short: "Print supported environment variables",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(config.Description())
	},
}
