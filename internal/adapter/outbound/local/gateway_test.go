package local

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestGateway(t *testing.T, roots []string) *Gateway {
	t.Helper()
	guard := NewGuard(roots, []string{"echo"})
	return NewGateway(guard, nil, slog.New(slog.DiscardHandler))
}

func TestGatewayFileTools(t *testing.T) {
	t.Parallel()
	work := t.TempDir()
	gw := newTestGateway(t, []string{work})
	ctx := context.Background()

	path := filepath.Join(work, "a.txt")

	t.Run("create", func(t *testing.T) {
		result, err := gw.Execute(ctx, "create_file", map[string]any{"path": path, "content": "hello"})
		if err != nil {
			t.Fatalf("create_file: %v", err)
		}
		if result.Data["bytes"] != 5 {
			t.Errorf("bytes = %v", result.Data["bytes"])
		}
	})

	t.Run("create existing fails", func(t *testing.T) {
		if _, err := gw.Execute(ctx, "create_file", map[string]any{"path": path, "content": "x"}); err == nil {
			t.Error("create_file over existing file should fail")
		}
	})

	t.Run("read", func(t *testing.T) {
		result, err := gw.Execute(ctx, "read_file", map[string]any{"path": path})
		if err != nil {
			t.Fatalf("read_file: %v", err)
		}
		if result.Data["content"] != "hello" {
			t.Errorf("content = %v", result.Data["content"])
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		if _, err := gw.Execute(ctx, "write_file", map[string]any{"path": path, "content": "changed"}); err != nil {
			t.Fatalf("write_file: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "changed" {
			t.Errorf("content after write = %q", data)
		}
	})

	t.Run("list", func(t *testing.T) {
		result, err := gw.Execute(ctx, "list_dir", map[string]any{"path": work})
		if err != nil {
			t.Fatalf("list_dir: %v", err)
		}
		entries, _ := result.Data["entries"].([]string)
		if len(entries) != 1 || entries[0] != "a.txt" {
			t.Errorf("entries = %v", entries)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if _, err := gw.Execute(ctx, "delete_file", map[string]any{"path": path}); err != nil {
			t.Fatalf("delete_file: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("file still exists after delete")
		}
	})
}

func TestGatewayEnforcesPathRoots(t *testing.T) {
	t.Parallel()
	gw := newTestGateway(t, []string{t.TempDir()})

	_, err := gw.Execute(context.Background(), "read_file", map[string]any{"path": "/etc/passwd"})
	if !errors.Is(err, ErrPathDenied) {
		t.Errorf("error = %v, want ErrPathDenied", err)
	}
}

func TestGatewayRunCommand(t *testing.T) {
	t.Parallel()
	work := t.TempDir()
	gw := newTestGateway(t, []string{work})
	ctx := context.Background()

	result, err := gw.Execute(ctx, "run_command", map[string]any{
		"command": "echo",
		"args":    []any{"hello"},
		"cwd":     work,
	})
	if err != nil {
		t.Fatalf("run_command: %v", err)
	}
	if result.Data["exit_code"] != 0 {
		t.Errorf("exit_code = %v", result.Data["exit_code"])
	}
	if result.Data["stdout"] != "hello\n" {
		t.Errorf("stdout = %q", result.Data["stdout"])
	}

	// Whitelist is enforced even though policy already approved the call.
	if _, err := gw.Execute(ctx, "run_command", map[string]any{"command": "rm"}); !errors.Is(err, ErrCommandDenied) {
		t.Errorf("error = %v, want ErrCommandDenied", err)
	}
}

func TestGatewayUnknownTool(t *testing.T) {
	t.Parallel()
	gw := newTestGateway(t, nil)

	if _, err := gw.Execute(context.Background(), "teleport", nil); err == nil {
		t.Error("unknown tool should error")
	}
}

func TestStringSliceArg(t *testing.T) {
	t.Parallel()

	// Schema-validated args arrive as []any after the JSON round trip.
	if got := stringSliceArg(map[string]any{"args": []any{"a", "b"}}, "args"); len(got) != 2 {
		t.Errorf("from []any: %v", got)
	}
	if got := stringSliceArg(map[string]any{"args": []string{"a"}}, "args"); len(got) != 1 {
		t.Errorf("from []string: %v", got)
	}
	if got := stringSliceArg(map[string]any{}, "args"); got != nil {
		t.Errorf("missing key: %v", got)
	}
}
