package main

import (
	"fmt"
	"os"

	"ResQFlow/pkg/config"
	"ResQFlow/pkg/logger"

	"github.com/spf13/cobra"
)

const serviceName = "resqflow"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "resqflow",
	Short: "ResQFlow emergency response coordination service",
	Long: `ResQFlow coordinates disaster response: civilian SOS intake and rescue team dispatch,
missing person case tracking, and review of suggested resource allocations against
national and provincial stock.

Configuration is read from the environment and from .env.<APP_ENV> / .env files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		return logger.Init(cfg.Log, serviceName)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
