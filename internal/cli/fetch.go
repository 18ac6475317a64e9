package cli

import "github.com/spf13/cobra"

var testFetchCmd = &cobra.Command{
	Use:   "test-fetch",
	Short: "Fetch the price once and record it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestFetch(cmd.Context(), cmd.OutOrStdout())
	},
}
