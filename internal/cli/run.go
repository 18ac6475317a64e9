package cli

import (
	"github.com/spf13/cobra"

	"btcalert/internal/app"
)

var runHeadless bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the UI and run the price monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Headless: runHeadless})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run only the background worker, without a page or HTTP server")
}
