package catalog

import "encoding/json"

// BuiltinDescriptors returns the default tool set: file, command, git, and
// snapshot operations. Read-only tools skip the snapshot gate; everything
// that touches disk or repository state requires a checkpoint first.
func BuiltinDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "read_file",
			Description: "Read the contents of a file",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"],
				"additionalProperties": false
			}`),
			Mutates:          false,
			RequiresSnapshot: false,
			PathArgs:         []string{"path"},
		},
		{
			Name:        "list_dir",
			Description: "List the entries of a directory",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"],
				"additionalProperties": false
			}`),
			Mutates:          false,
			RequiresSnapshot: false,
			PathArgs:         []string{"path"},
		},
		{
			Name:        "write_file",
			Description: "Overwrite a file with new content",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path":    {"type": "string", "minLength": 1},
					"content": {"type": "string"}
				},
				"required": ["path", "content"],
				"additionalProperties": false
			}`),
			Mutates:          true,
			RequiresSnapshot: true,
			PathArgs:         []string{"path"},
		},
		{
			Name:        "create_file",
			Description: "Create a new file with the given content",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path":    {"type": "string", "minLength": 1},
					"content": {"type": "string"}
				},
				"required": ["path"],
				"additionalProperties": false
			}`),
			Mutates:          true,
			RequiresSnapshot: true,
			PathArgs:         []string{"path"},
		},
		{
			Name:        "delete_file",
			Description: "Delete a file",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1}
				},
				"required": ["path"],
				"additionalProperties": false
			}`),
			Mutates:          true,
			RequiresSnapshot: true,
			PathArgs:         []string{"path"},
		},
		{
			Name:        "run_command",
			Description: "Execute a whitelisted command",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "minLength": 1},
					"args":    {"type": "array", "items": {"type": "string"}},
					"cwd":     {"type": "string"}
				},
				"required": ["command"],
				"additionalProperties": false
			}`),
			Mutates:          true,
			RequiresSnapshot: false,
			PathArgs:         []string{"cwd"},
		},
		{
			Name:        "git_op",
			Description: "Run a git operation in a repository",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"repo":      {"type": "string", "minLength": 1},
					"operation": {"type": "string", "minLength": 1},
					"args":      {"type": "array", "items": {"type": "string"}}
				},
				"required": ["repo", "operation"],
				"additionalProperties": false
			}`),
			Mutates:          true,
			RequiresSnapshot: true,
			PathArgs:         []string{"repo"},
		},
		{
			Name:        "snapshot_restore",
			Description: "Restore files from a previously taken snapshot",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"snapshot_id": {"type": "string", "minLength": 1},
					"paths":       {"type": "array", "items": {"type": "string"}}
				},
				"required": ["snapshot_id"],
				"additionalProperties": false
			}`),
			Mutates: true,
			// Restoring is itself the rollback mechanism; gating it behind
			// another snapshot would recurse.
			RequiresSnapshot: false,
		},
	}
}
