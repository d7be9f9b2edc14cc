package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show client status",
	Long:  "Display the client's initialization state, cache backend and connectivity.",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	if err := client.WaitReady(cmd.Context()); err != nil {
		// Still print the stats: a terminal init error is exactly what
		// status exists to show.
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	stats := client.GetStats()

	if statusJSON {
		return printJSON(stats)
	}

	fmt.Println("FetchYourKeys Status")
	fmt.Println("====================")
	fmt.Printf("API Key:           %s\n", stats.MaskedAPIKey)
	fmt.Printf("State:             %s\n", stats.State)
	fmt.Printf("Online:            %t\n", stats.Online)
	fmt.Printf("Cached Keys:       %d\n", stats.CachedKeys)
	fmt.Printf("Cache Backend:     %s\n", stats.CacheType)
	fmt.Printf("Cache ID:          %s\n", stats.CacheID)
	fmt.Printf("Memory Protection: %t\n", stats.MemoryProtected)
	if !stats.LastSync.IsZero() {
		fmt.Printf("Last Sync:         %s\n", stats.LastSync.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}
