// Package cmd provides the meterctl commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vnmchuo/llm-meter/config"
	"github.com/vnmchuo/llm-meter/internal/metering"
	"github.com/vnmchuo/llm-meter/internal/tier"
)

var jsonOutput bool

// NewRootCmd builds the command tree. Each call returns a fresh tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "meterctl",
		Short: "Inspect tiers and preview metered charges",
		Long: `meterctl reads the same environment as the server and shows what a
request would cost under the configured pricing.

Examples:
  meterctl tiers
  meterctl quote --prompt 1000 --completion 2000 --tier pro
  meterctl quote --prompt 500 --completion 500 --usage 9800 --json`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")

	root.AddCommand(newTiersCmd())
	root.AddCommand(newQuoteCmd())
	root.AddCommand(versionCmd)
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("meterctl version 0.2.0")
	},
}

// loadEngine builds the metering engine from the environment. Server-only
// settings are not validated.
func loadEngine() (*metering.Engine, *tier.Catalog, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	catalog := tier.DefaultCatalog()
	return metering.NewEngine(catalog, metering.Pricing{
		InputRate:     cfg.PriceInputPerToken,
		OutputRate:    cfg.PriceOutputPerToken,
		ProfitMargin:  cfg.ProfitMargin,
		MinimumCharge: cfg.MinimumCharge,
	}), catalog, nil
}
