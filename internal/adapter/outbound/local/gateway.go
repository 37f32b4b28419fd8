package local

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/toolward/toolward/internal/domain/catalog"
	"github.com/toolward/toolward/internal/domain/toolcall"
	"github.com/toolward/toolward/internal/port/outbound"
)

// defaultCommandTimeout bounds a single run_command or git_op invocation.
const defaultCommandTimeout = 2 * time.Minute

// Gateway executes the builtin tools against the local machine. It trusts
// the pipeline to have validated arguments against the catalog schema, but
// re-checks paths and commands against the guard: the gateway is the last
// line, not the policy engine.
type Gateway struct {
	guard     *Guard
	snapshots outbound.SnapshotService
	logger    *slog.Logger
	timeout   time.Duration
}

var _ outbound.ExecutionGateway = (*Gateway)(nil)

// NewGateway creates the local gateway. snapshots backs the
// snapshot_restore tool and may be nil when that tool is not registered.
func NewGateway(guard *Guard, snapshots outbound.SnapshotService, logger *slog.Logger) *Gateway {
	return &Gateway{
		guard:     guard,
		snapshots: snapshots,
		logger:    logger,
		timeout:   defaultCommandTimeout,
	}
}

// Execute runs one builtin tool.
func (g *Gateway) Execute(ctx context.Context, name string, args map[string]any) (toolcall.Result, error) {
	switch name {
	case "read_file":
		return g.readFile(args)
	case "list_dir":
		return g.listDir(args)
	case "write_file":
		return g.writeFile(args, false)
	case "create_file":
		return g.writeFile(args, true)
	case "delete_file":
		return g.deleteFile(args)
	case "run_command":
		return g.runCommand(ctx, args)
	case "git_op":
		return g.gitOp(ctx, args)
	case "snapshot_restore":
		return g.snapshotRestore(ctx, args)
	default:
		return toolcall.Result{}, fmt.Errorf("%w: %s", catalog.ErrUnknownTool, name)
	}
}

func (g *Gateway) readFile(args map[string]any) (toolcall.Result, error) {
	path := stringArg(args, "path")
	if err := g.guard.CheckPath(path); err != nil {
		return toolcall.Result{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return toolcall.Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return toolcall.Result{
		Summary: fmt.Sprintf("read %s (%d bytes)", path, len(content)),
		Data:    map[string]any{"content": string(content)},
	}, nil
}

func (g *Gateway) listDir(args map[string]any) (toolcall.Result, error) {
	path := stringArg(args, "path")
	if err := g.guard.CheckPath(path); err != nil {
		return toolcall.Result{}, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return toolcall.Result{}, fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return toolcall.Result{
		Summary: fmt.Sprintf("listed %s (%d entries)", path, len(names)),
		Data:    map[string]any{"entries": names},
	}, nil
}

func (g *Gateway) writeFile(args map[string]any, mustNotExist bool) (toolcall.Result, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	if err := g.guard.CheckPath(path); err != nil {
		return toolcall.Result{}, err
	}
	if mustNotExist {
		if _, err := os.Stat(path); err == nil {
			return toolcall.Result{}, fmt.Errorf("create %s: file already exists", path)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return toolcall.Result{}, fmt.Errorf("write %s: %w", path, err)
	}
	verb := "wrote"
	if mustNotExist {
		verb = "created"
	}
	return toolcall.Result{
		Summary: fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content)),
		Data:    map[string]any{"bytes": len(content)},
	}, nil
}

func (g *Gateway) deleteFile(args map[string]any) (toolcall.Result, error) {
	path := stringArg(args, "path")
	if err := g.guard.CheckPath(path); err != nil {
		return toolcall.Result{}, err
	}
	if err := os.Remove(path); err != nil {
		return toolcall.Result{}, fmt.Errorf("delete %s: %w", path, err)
	}
	return toolcall.Result{Summary: fmt.Sprintf("deleted %s", path)}, nil
}

func (g *Gateway) runCommand(ctx context.Context, args map[string]any) (toolcall.Result, error) {
	command := stringArg(args, "command")
	cmdArgs := stringSliceArg(args, "args")
	cwd := stringArg(args, "cwd")

	if err := g.guard.CheckCommand(command); err != nil {
		return toolcall.Result{}, err
	}
	if cwd != "" {
		if err := g.guard.CheckPath(cwd); err != nil {
			return toolcall.Result{}, err
		}
	}
	return g.spawn(ctx, cwd, command, cmdArgs...)
}

func (g *Gateway) gitOp(ctx context.Context, args map[string]any) (toolcall.Result, error) {
	repo := stringArg(args, "repo")
	op := stringArg(args, "operation")
	extra := stringSliceArg(args, "args")

	if err := g.guard.CheckPath(repo); err != nil {
		return toolcall.Result{}, err
	}
	return g.spawn(ctx, repo, "git", append([]string{op}, extra...)...)
}

// spawn runs one process with a bounded runtime and captured output.
func (g *Gateway) spawn(ctx context.Context, dir, command string, args ...string) (toolcall.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Info("spawning process", "command", command, "args", args, "dir", dir)
	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	data := map[string]any{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	}
	if err != nil {
		return toolcall.Result{}, fmt.Errorf("%s exited with code %d: %w (stderr: %s)",
			command, exitCode, err, truncate(stderr.String(), 512))
	}
	return toolcall.Result{
		Summary: fmt.Sprintf("%s completed (exit 0)", command),
		Data:    data,
	}, nil
}

func (g *Gateway) snapshotRestore(ctx context.Context, args map[string]any) (toolcall.Result, error) {
	if g.snapshots == nil {
		return toolcall.Result{}, fmt.Errorf("snapshot restore unavailable: no snapshot service configured")
	}
	id := stringArg(args, "snapshot_id")
	targets := stringSliceArg(args, "paths")

	restored, err := g.snapshots.Restore(ctx, id, targets)
	if err != nil {
		return toolcall.Result{}, err
	}
	return toolcall.Result{
		Summary: fmt.Sprintf("restored %d paths from snapshot %s", len(restored), id),
		Data:    map[string]any{"restored": restored},
	}, nil
}

// stringArg returns the string value for key, or "".
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// stringSliceArg returns the string slice for key. Schema-validated
// arguments arrive as []any after the JSON round trip.
func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		if ss, ok := args[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
