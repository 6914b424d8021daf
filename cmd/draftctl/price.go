package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/app"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pricing"
)

func PriceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price <title>...",
		Short: "Suggest a listing price for an item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			condition, _ := cmd.Flags().GetString("condition")
			cost, _ := cmd.Flags().GetFloat64("cost")
			hint, _ := cmd.Flags().GetString("hint")
			if cost < 0 {
				return errors.New("--cost must not be negative")
			}

			return withApp(cmd, func(a *app.App) error {
				res := a.Pricing.Suggest(cmd.Context(), pricing.Request{
					Title:           strings.Join(args, " "),
					Condition:       condition,
					AcquisitionCost: cost,
					Hint:            hint,
				})

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				if res.Found() {
					fmt.Fprintf(w, "price\t%s\n", res.PriceString())
				} else {
					fmt.Fprintln(w, "price\tunknown")
				}
				fmt.Fprintf(w, "source\t%s\n", res.Source)
				fmt.Fprintf(w, "reasoning\t%s\n", res.Reasoning)
				if res.CompCount > 0 {
					fmt.Fprintf(w, "comparables\t%d (median %.2f)\n", res.CompCount, res.Median)
				}
				if res.ProjectedProfit != nil {
					fmt.Fprintf(w, "profit\t%.2f\n", *res.ProjectedProfit)
				}
				fmt.Fprintf(w, "research\t%s\n", res.ResearchLink)
				return w.Flush()
			})
		},
	}
	cmd.Flags().String("condition", "Used", "Item condition label")
	cmd.Flags().Float64("cost", 0, "Acquisition cost, enables margin protection")
	cmd.Flags().String("hint", "", "Fallback price when no other source answers")
	return cmd
}
