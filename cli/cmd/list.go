package cmd

import (
	"github.com/spf13/cobra"
)

var (
	listService string
	listOutput  string
	listShow    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cached API keys",
	Long: `List every API-key record the client holds, optionally filtered by
service. Values print masked unless --show is given.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listService, "service", "", "only keys for this service")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "output format (table, json, yaml)")
	listCmd.Flags().BoolVar(&listShow, "show", false, "print raw key values")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	keys := client.GetAll(cmd.Context())
	if listService != "" {
		keys = client.GetByService(cmd.Context(), listService)
	}
	if !listShow {
		for i := range keys {
			keys[i].Value = maskValue(keys[i].Value)
		}
	}

	switch listOutput {
	case "json":
		return printJSON(keys)
	case "yaml":
		return printYAML(keys)
	default:
		return printKeysTable(keys)
	}
}
