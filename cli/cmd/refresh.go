package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch keys from the service",
	Long: `Fetch the current key list from the service and replace the local
cache. Fails when the service is unreachable; the error reports whether
stale cached keys remain usable.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if _, err := client.Refresh(cmd.Context()); err != nil {
		return err
	}
	stats := client.GetStats()
	fmt.Printf("Refreshed: %d keys cached (%s backend)\n", stats.CachedKeys, stats.CacheType)
	return nil
}
