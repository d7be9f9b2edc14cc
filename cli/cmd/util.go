package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	fyk "github.com/Thomah6/fetchyourkeys-go"
	"github.com/Thomah6/fetchyourkeys-go/api"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// printYAML writes v to stdout as YAML.
func printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// printKeysTable renders key records as an aligned table.
func printKeysTable(keys []api.Key) error {
	if len(keys) == 0 {
		fmt.Println("No keys cached.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "LABEL\tSERVICE\tVALUE\tACTIVE")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", k.Label, k.Service, k.Value, k.IsActive)
	}
	return nil
}

// maskValue obscures a secret for terminal output.
func maskValue(v string) string {
	return api.Mask(v)
}

// redactLookup prepares a lookup result for JSON output, masking the
// value unless show is set.
func redactLookup(res *fyk.Lookup, show bool) *fyk.Lookup {
	if show {
		return res
	}
	out := *res
	out.Key = res.Key.Redacted()
	return &out
}
