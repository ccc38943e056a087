package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/telemart/telemart/internal/service/tier"
)

var plansCommand = &cobra.Command{
	Use:   "plans",
	Short: "Print subscription plans and accepted currencies",
	Run:   printPlans,
}

func printPlans(_ *cobra.Command, _ []string) {
	plans := tablewriter.NewWriter(os.Stdout)
	plans.SetHeader([]string{"Tier", "Price (USD / month)", "Features"})

	for _, t := range []tier.Tier{tier.Free, tier.Pro} {
		price, err := tier.Price(t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to resolve price: %v\n", err)
			os.Exit(1)
		}

		plans.Append([]string{
			t.String(),
			"$" + price.StringFixed(2),
			strings.Join(tier.Features(t), ", "),
		})
	}

	plans.Render()

	currencies := tablewriter.NewWriter(os.Stdout)
	currencies.SetHeader([]string{"Ticker", "Name", "Network", "Confirmations"})

	for _, c := range tier.SupportedCurrencies() {
		currencies.Append([]string{
			c.Ticker,
			c.Name,
			c.Network,
			fmt.Sprintf("%d", c.MinConfirmations),
		})
	}

	currencies.Render()
}
