package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"btcalert/internal/threshold"
)

var (
	thresholdBelow string
	thresholdAbove string
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Manage the alert band",
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save the lower and upper limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		below, err := decimal.NewFromString(thresholdBelow)
		if err != nil {
			return fmt.Errorf("invalid --below value: %w", threshold.ErrInvalidConfig)
		}
		above, err := decimal.NewFromString(thresholdAbove)
		if err != nil {
			return fmt.Errorf("invalid --above value: %w", threshold.ErrInvalidConfig)
		}
		cfg := threshold.Config{Below: below, Above: above}
		return getApp().SetThresholds(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

var thresholdsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowThresholds(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	thresholdsSetCmd.Flags().StringVar(&thresholdBelow, "below", "", "Alert when the price falls below this value (EUR)")
	thresholdsSetCmd.Flags().StringVar(&thresholdAbove, "above", "", "Alert when the price rises above this value (EUR)")
	_ = thresholdsSetCmd.MarkFlagRequired("below")
	_ = thresholdsSetCmd.MarkFlagRequired("above")

	thresholdsCmd.AddCommand(thresholdsSetCmd)
	thresholdsCmd.AddCommand(thresholdsShowCmd)
}
