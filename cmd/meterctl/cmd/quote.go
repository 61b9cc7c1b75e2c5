package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vnmchuo/llm-meter/internal/metering"
)

// Quote is the preview of one metered request.
type Quote struct {
	Usage       metering.Usage       `json:"usage"`
	Cost        decimal.Decimal      `json:"cost"`
	Price       decimal.Decimal      `json:"price"`
	Profit      decimal.Decimal      `json:"profit"`
	QuotaStatus metering.QuotaStatus `json:"quota_status"`
}

func newQuoteCmd() *cobra.Command {
	var (
		prompt, completion, periodUsage int64
		tierID                          string
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Preview cost, price, profit and quota for a usage record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt < 0 || completion < 0 || periodUsage < 0 {
				return fmt.Errorf("token counts must not be negative")
			}

			engine, catalog, err := loadEngine()
			if err != nil {
				return err
			}
			if !catalog.Has(tierID) {
				return fmt.Errorf("unknown tier %q", tierID)
			}

			usage := metering.Usage{PromptTokens: prompt, CompletionTokens: completion}
			usage.TotalTokens = usage.Total()
			q := Quote{
				Usage:       usage,
				Cost:        engine.ProviderCost(usage),
				Price:       engine.UserPrice(usage, tierID),
				Profit:      engine.Profit(usage, tierID),
				QuotaStatus: engine.CheckQuota(periodUsage+usage.TotalTokens, tierID),
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(q)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "tier\t%s\n", tierID)
			fmt.Fprintf(tw, "tokens\t%d (prompt %d, completion %d)\n", usage.TotalTokens, prompt, completion)
			fmt.Fprintf(tw, "provider cost\t$%s\n", q.Cost.String())
			fmt.Fprintf(tw, "user price\t$%s\n", q.Price.String())
			fmt.Fprintf(tw, "profit\t$%s\n", q.Profit.String())
			fmt.Fprintf(tw, "quota\t%d / %d (remaining %d, can use: %t)\n",
				q.QuotaStatus.PeriodUsage, q.QuotaStatus.TierLimit, q.QuotaStatus.Remaining, q.QuotaStatus.CanUse)
			return tw.Flush()
		},
	}

	cmd.Flags().Int64VarP(&prompt, "prompt", "p", 0, "prompt tokens")
	cmd.Flags().Int64VarP(&completion, "completion", "c", 0, "completion tokens")
	cmd.Flags().Int64Var(&periodUsage, "usage", 0, "tokens already used this period")
	cmd.Flags().StringVarP(&tierID, "tier", "t", "free", "tier id")
	return cmd
}
