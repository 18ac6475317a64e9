package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulatePrice string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate a made-up price against the saved band and alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil || !price.IsPositive() {
			return errors.New("--price must be a number greater than 0")
		}
		return getApp().SimulateAlert(cmd.Context(), price, cmd.OutOrStdout())
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Simulated BTC price in EUR")
}
