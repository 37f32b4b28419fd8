package local

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/toolward/toolward/internal/domain/toolcall"
	"github.com/toolward/toolward/internal/port/outbound"
)

// diffContextLines is the unified diff context shown in previews.
const diffContextLines = 3

// Simulator predicts the effects of builtin tools without committing any of
// them. Predictions read current filesystem state to produce concrete
// previews (sizes, unified diffs) but everything is advisory.
type Simulator struct {
	guard *Guard
}

var _ outbound.DryRunSimulator = (*Simulator)(nil)

// NewSimulator creates the dry-run simulator.
func NewSimulator(guard *Guard) *Simulator {
	return &Simulator{guard: guard}
}

// Simulate builds the advisory preview for one tool call.
func (s *Simulator) Simulate(_ context.Context, name string, args map[string]any) (toolcall.Prediction, error) {
	switch name {
	case "read_file":
		return s.readOnly("read file", stringArg(args, "path"))
	case "list_dir":
		return s.readOnly("list directory", stringArg(args, "path"))
	case "write_file":
		return s.writeFile(args, false)
	case "create_file":
		return s.writeFile(args, true)
	case "delete_file":
		return s.deleteFile(args)
	case "run_command":
		return s.runCommand(args)
	case "git_op":
		return s.gitOp(args)
	case "snapshot_restore":
		return toolcall.Prediction{
			Summary: fmt.Sprintf("restore files from snapshot %s", stringArg(args, "snapshot_id")),
			Effects: []string{"overwrite current file contents with snapshot copies"},
		}, nil
	default:
		return toolcall.Prediction{Summary: fmt.Sprintf("run %s", name)}, nil
	}
}

func (s *Simulator) readOnly(verb, path string) (toolcall.Prediction, error) {
	pred := toolcall.Prediction{Summary: fmt.Sprintf("%s %s", verb, path)}
	if err := s.guard.CheckPath(path); err != nil {
		pred.Effects = append(pred.Effects, "blocked: "+err.Error())
		return pred, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		pred.Effects = append(pred.Effects, "target does not exist; execution will fail")
	} else {
		pred.Effects = append(pred.Effects, "no filesystem changes")
	}
	return pred, nil
}

func (s *Simulator) writeFile(args map[string]any, create bool) (toolcall.Prediction, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")

	var pred toolcall.Prediction
	if err := s.guard.CheckPath(path); err != nil {
		pred.Summary = fmt.Sprintf("write %s", path)
		pred.Effects = []string{"blocked: " + err.Error()}
		return pred, nil
	}

	old, readErr := os.ReadFile(path)
	exists := readErr == nil

	switch {
	case create && exists:
		pred.Summary = fmt.Sprintf("create %s", path)
		pred.Effects = []string{"file already exists; execution will fail"}
		return pred, nil
	case exists:
		pred.Summary = fmt.Sprintf("overwrite %s (%d -> %d bytes)", path, len(old), len(content))
		pred.Effects = []string{fmt.Sprintf("replace contents of %s", path)}
	default:
		pred.Summary = fmt.Sprintf("create %s (%d bytes)", path, len(content))
		pred.Effects = []string{fmt.Sprintf("create new file %s", path)}
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(content),
		FromFile: path,
		ToFile:   path,
		Context:  diffContextLines,
	})
	if err == nil {
		pred.Diff = diff
	}
	return pred, nil
}

func (s *Simulator) deleteFile(args map[string]any) (toolcall.Prediction, error) {
	path := stringArg(args, "path")
	pred := toolcall.Prediction{Summary: fmt.Sprintf("delete %s", path)}
	if err := s.guard.CheckPath(path); err != nil {
		pred.Effects = []string{"blocked: " + err.Error()}
		return pred, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		pred.Effects = []string{"target does not exist; execution will fail"}
		return pred, nil
	}
	if err == nil {
		pred.Summary = fmt.Sprintf("delete %s (%d bytes)", path, info.Size())
	}
	pred.Effects = []string{fmt.Sprintf("remove %s permanently (recoverable via snapshot)", path)}
	return pred, nil
}

func (s *Simulator) runCommand(args map[string]any) (toolcall.Prediction, error) {
	command := stringArg(args, "command")
	cmdArgs := stringSliceArg(args, "args")

	line := command
	if len(cmdArgs) > 0 {
		line += " " + strings.Join(cmdArgs, " ")
	}
	pred := toolcall.Prediction{
		Summary: fmt.Sprintf("run command: %s", line),
		Effects: []string{"spawn a local process with the session's privileges"},
	}
	if err := s.guard.CheckCommand(command); err != nil {
		pred.Effects = append(pred.Effects, "blocked: "+err.Error())
	}
	return pred, nil
}

func (s *Simulator) gitOp(args map[string]any) (toolcall.Prediction, error) {
	repo := stringArg(args, "repo")
	op := stringArg(args, "operation")
	pred := toolcall.Prediction{
		Summary: fmt.Sprintf("git %s in %s", op, repo),
	}
	switch op {
	case "status", "log", "diff", "show", "branch":
		pred.Effects = []string{"no repository changes"}
	default:
		pred.Effects = []string{fmt.Sprintf("modify repository state in %s", repo)}
	}
	return pred, nil
}
