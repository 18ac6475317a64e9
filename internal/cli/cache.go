package cli

import "github.com/spf13/cobra"

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the shell asset cache",
}

var cacheInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Cache the shell assets and evict older caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CacheInstall(cmd.Context(), cmd.OutOrStdout())
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CacheList(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	cacheCmd.AddCommand(cacheInstallCmd)
	cacheCmd.AddCommand(cacheListCmd)
}
