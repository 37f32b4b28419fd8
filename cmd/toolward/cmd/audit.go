package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolward/toolward/internal/config"
	"github.com/toolward/toolward/internal/domain/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the audit log",
}

var (
	auditCallID     string
	auditTool       string
	auditTransition string
	auditResult     string
	auditSince      string
	auditLimit      int
	auditJSON       bool
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit log entries",
	Long: `Query the audit log by call ID, tool, transition, result, or time range.
Entries are printed in sequence order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer store.Close()

		f := audit.Filter{
			CallID:     auditCallID,
			Tool:       auditTool,
			Transition: auditTransition,
			Result:     auditResult,
			Limit:      auditLimit,
		}
		if auditSince != "" {
			since, err := time.Parse(time.RFC3339, auditSince)
			if err != nil {
				return fmt.Errorf("invalid --since (want RFC3339): %w", err)
			}
			f.Since = since
		}

		entries, err := store.Query(context.Background(), f)
		if err != nil {
			return err
		}

		if auditJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tCALL\tTOOL\tTRANSITION\tRESULT\tSUMMARY")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Seq, e.Timestamp.Format(time.RFC3339), shortID(e.CallID),
				e.Tool, e.Transition, e.Result, e.Summary)
		}
		return w.Flush()
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Long: `Recompute the hash chain over the full audit log and report the first
tampered or missing entry, if any. Exits non-zero on a broken chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Query(context.Background(), audit.Filter{})
		if err != nil {
			return err
		}

		badSeq, err := audit.VerifyChain(entries)
		if err != nil {
			return fmt.Errorf("audit chain broken at seq %d: %w", badSeq, err)
		}
		fmt.Printf("audit chain intact (%d entries)\n", len(entries))
		return nil
	},
}

func openConfiguredStore() (audit.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return openAuditStore(cfg)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditCallID, "call-id", "", "filter by tool call ID")
	auditQueryCmd.Flags().StringVar(&auditTool, "tool", "", "filter by tool name")
	auditQueryCmd.Flags().StringVar(&auditTransition, "transition", "", "filter by transition name")
	auditQueryCmd.Flags().StringVar(&auditResult, "result", "", "filter by result (ok, error, refused)")
	auditQueryCmd.Flags().StringVar(&auditSince, "since", "", "only entries at or after this RFC3339 time")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 0, "maximum entries to return (0 = all)")
	auditQueryCmd.Flags().BoolVar(&auditJSON, "json", false, "output JSON instead of a table")

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
