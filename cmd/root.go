package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrametric/carbon-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "carbon-cli",
	Short: "Embodied carbon accounting for construction projects",
	Long:  "Imports bills of quantities via AI extraction, reconciles line items against the reference material catalog, computes scoped emission totals and checks them against Australian compliance standards.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
