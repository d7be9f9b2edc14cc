package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thomah6/fetchyourkeys-go/audit"
)

var (
	auditJSONOutput   bool
	auditSince        string
	auditUntil        string
	auditAction       string
	auditFailuresOnly bool
	auditLimit        int
	auditOffset       int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the local audit log",
	Long: `Query the JSONL audit log written when --audit is enabled.

Examples:
  # Failed operations in the last day
  fyk audit --failures-only --since "$(date -d '24 hours ago' -Iseconds)"

  # All refreshes
  fyk audit --action client.refresh`,
	RunE: runAuditQuery,
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSONOutput, "json", false, "print events as JSON")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "events at or after this RFC3339 time")
	auditCmd.Flags().StringVar(&auditUntil, "until", "", "events at or before this RFC3339 time")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "only this action (e.g. client.refresh)")
	auditCmd.Flags().BoolVar(&auditFailuresOnly, "failures-only", false, "only failed operations")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum events to print")
	auditCmd.Flags().IntVar(&auditOffset, "offset", 0, "events to skip")
	rootCmd.AddCommand(auditCmd)
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	logger, err := audit.NewFileLogger(&audit.Config{
		Enabled: true,
		Type:    audit.FileAuditType,
		Options: map[string]any{"file_path": auditFilePath()},
	})
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer logger.Close()

	options := audit.QueryOptions{
		Action: auditAction,
		Limit:  auditLimit,
		Offset: auditOffset,
	}
	if auditSince != "" {
		t, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		options.Since = &t
	}
	if auditUntil != "" {
		t, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
		options.Until = &t
	}
	if auditFailuresOnly {
		failed := false
		options.Success = &failed
	}

	result, err := logger.Query(options)
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}

	if auditJSONOutput {
		return printJSON(result)
	}
	return printAuditTable(result)
}

func printAuditTable(result audit.QueryResult) error {
	if len(result.Events) == 0 {
		fmt.Println("No matching audit events.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "TIME\tACTION\tOK\tDETAILS")
	for _, ev := range result.Events {
		ok := "yes"
		if !ev.Success {
			ok = "no"
		}
		details := ""
		if ev.Error != "" {
			details = ev.Error
		} else if len(ev.Metadata) > 0 {
			details = fmt.Sprintf("%v", ev.Metadata)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Action, ok, details)
	}
	fmt.Fprintf(w, "\n%d of %d events shown\n", result.Filtered, result.TotalCount)
	return nil
}
