package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the tier catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, catalog, err := loadEngine()
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalog.List())
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMONTHLY TOKENS\tMONTHLY COST\tFEATURES")
			for _, t := range catalog.List() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t$%s\t%s\n",
					t.ID, t.Name, t.MonthlyTokens, t.MonthlyCost.StringFixed(2), strings.Join(t.Features, ", "))
			}
			return tw.Flush()
		},
	}
}
