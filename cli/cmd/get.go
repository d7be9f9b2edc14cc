package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	getFallback string
	getShow     bool
	getJSON     bool
)

var getCmd = &cobra.Command{
	Use:   "get <label>",
	Short: "Look up one API key by label",
	Long: `Look up one API key by its label. The value prints masked unless
--show is given. With --fallback the command never fails: the fallback
value is printed when the label is missing or the client is offline with
an empty cache.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVar(&getFallback, "fallback", "", "value to print when the lookup fails")
	getCmd.Flags().BoolVar(&getShow, "show", false, "print the raw key value")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "print the full record as JSON")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	label := args[0]

	if getFallback != "" && !getJSON {
		fmt.Println(client.SafeGet(label, getFallback))
		return nil
	}

	res, err := client.Get(cmd.Context(), label)
	if err != nil {
		return err
	}
	if getJSON {
		return printJSON(redactLookup(res, getShow))
	}
	if getShow {
		fmt.Println(res.Key.Value)
		return nil
	}
	fmt.Println(maskValue(res.Key.Value))
	return nil
}
