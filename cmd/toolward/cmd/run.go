package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toolward/toolward/internal/domain/toolcall"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interactive approval session on stdin",
	Long: `Run reads commands from stdin and drives tool calls through the full
pipeline: propose, review, approve or reject, execute.

Commands:
  propose <tool> <json-args>   Propose a tool call
  pending                      List calls awaiting approval
  show <call-id>               Show a call record
  approve <call-id>            Approve a pending call (prints the token)
  reject <call-id> [reason]    Reject a pending or approved call
  execute <call-id> <token>    Execute an approved call
  quit                         Exit the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		go a.coordinator.RunSweeper(ctx, a.cfg.Approval.SweepIntervalDuration())

		fmt.Println("toolward session ready; type a command or 'quit'")
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				break
			}
			if err := runSessionCommand(ctx, a, line); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
		return scanner.Err()
	},
}

func runSessionCommand(ctx context.Context, a *app, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "propose":
		if len(fields) < 2 {
			return fmt.Errorf("usage: propose <tool> <json-args>")
		}
		args := map[string]any{}
		if rest := strings.TrimSpace(strings.TrimPrefix(line, "propose "+fields[1])); rest != "" {
			if err := json.Unmarshal([]byte(rest), &args); err != nil {
				return fmt.Errorf("parse arguments: %w", err)
			}
		}
		id, err := a.coordinator.Propose(ctx, fields[1], args)
		if err != nil {
			return err
		}
		call, err := a.coordinator.Get(ctx, id)
		if err != nil {
			return err
		}
		printCall(call)
		return nil

	case "pending":
		pending := a.coordinator.ListPending(ctx)
		if len(pending) == 0 {
			fmt.Println("no calls pending approval")
			return nil
		}
		for _, call := range pending {
			fmt.Printf("%s  %s  risk=%s\n", call.ID, call.Tool, call.Risk)
			if call.Prediction != nil {
				fmt.Printf("    %s\n", call.Prediction.Summary)
			}
		}
		return nil

	case "show":
		if len(fields) != 2 {
			return fmt.Errorf("usage: show <call-id>")
		}
		call, err := a.coordinator.Get(ctx, fields[1])
		if err != nil {
			return err
		}
		printCall(call)
		return nil

	case "approve":
		if len(fields) != 2 {
			return fmt.Errorf("usage: approve <call-id>")
		}
		token, err := a.coordinator.Approve(ctx, fields[1], sessionActor())
		if err != nil {
			return err
		}
		fmt.Printf("approved; token %s (expires %s)\n", token.ID, token.ExpiresAt.Format("15:04:05"))
		return nil

	case "reject":
		if len(fields) < 2 {
			return fmt.Errorf("usage: reject <call-id> [reason]")
		}
		reason := "rejected by operator"
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		return a.coordinator.Reject(ctx, fields[1], sessionActor(), reason)

	case "execute":
		if len(fields) != 3 {
			return fmt.Errorf("usage: execute <call-id> <token>")
		}
		result, err := a.coordinator.Execute(ctx, fields[1], fields[2])
		if err != nil {
			return err
		}
		fmt.Println(result.Summary)
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func printCall(call toolcall.ToolCall) {
	fmt.Printf("%s  %s  state=%s  risk=%s\n", call.ID, call.Tool, call.State, call.Risk)
	if call.Prediction != nil {
		fmt.Printf("  preview: %s\n", call.Prediction.Summary)
		for _, effect := range call.Prediction.Effects {
			fmt.Printf("    - %s\n", effect)
		}
		if call.Prediction.Diff != "" {
			fmt.Println(indent(call.Prediction.Diff, "    "))
		}
	}
	if call.Result != nil {
		fmt.Printf("  result: %s\n", call.Result.Summary)
	}
	if call.FailureCause != "" {
		fmt.Printf("  cause: %s\n", call.FailureCause)
	}
	if call.SnapshotID != "" {
		fmt.Printf("  snapshot: %s\n", call.SnapshotID)
	}
}

func sessionActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func init() {
	rootCmd.AddCommand(runCmd)
}
