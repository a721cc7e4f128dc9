package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "townpick",
	Short: "Town label picker for Swiss weather maps",
	Long: "Selects which Swiss localities get a name label on a rendered map: " +
		"transforms LV95 survey coordinates to WGS84, assigns towns to " +
		"administrative regions, and runs a deterministic separation-constrained " +
		"selection.",
	SilenceUsage:  true,
	SilenceErrors: true,
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
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		zap.L().Debug("error trace", zap.String("trace", eris.ToString(err, true)))
		os.Exit(1)
	}
}
