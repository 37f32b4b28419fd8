// Package catalog contains the registry of known tools: their argument
// schemas, whether they mutate state, and whether a snapshot is required
// before they execute.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned when no catalog entry exists for a tool name.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports arguments that do not satisfy a tool's schema.
// It is a pre-policy rejection: the call never reaches the policy engine.
type ValidationError struct {
	// Tool is the tool whose schema was violated.
	Tool string
	// Detail describes the first violation found.
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}

// RiskLevel represents the security risk level of a tool.
type RiskLevel string

const (
	// RiskLevelLow indicates read-only, informational operations.
	RiskLevelLow RiskLevel = "LOW"
	// RiskLevelMedium indicates reads with potential sensitivity.
	RiskLevelMedium RiskLevel = "MEDIUM"
	// RiskLevelHigh indicates write operations.
	RiskLevelHigh RiskLevel = "HIGH"
	// RiskLevelCritical indicates destructive operations or system commands.
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Descriptor declares one tool to the pipeline.
type Descriptor struct {
	// Name is the unique tool name (required).
	Name string `json:"name"`
	// Description is a human-readable description.
	Description string `json:"description,omitempty"`
	// InputSchema is the JSON Schema for the tool's arguments (required).
	// It is compiled once at registry construction.
	InputSchema json.RawMessage `json:"inputSchema"`
	// Mutates declares whether the tool changes state when executed.
	Mutates bool `json:"mutates"`
	// RequiresSnapshot declares whether a reversible checkpoint must exist
	// before execution. Only meaningful for mutating tools.
	RequiresSnapshot bool `json:"requiresSnapshot"`
	// PathArgs lists argument keys holding filesystem paths the tool
	// affects. The snapshot gate collects affected paths from these.
	PathArgs []string `json:"pathArgs,omitempty"`
	// Risk is the classified risk level, computed at registration when
	// left empty.
	Risk RiskLevel `json:"risk,omitempty"`
}

// AffectedPaths extracts the declared path arguments from a validated
// argument mapping. Missing or non-string values are skipped; validation
// already rejected anything the schema requires.
func (d Descriptor) AffectedPaths(args map[string]any) []string {
	var paths []string
	for _, key := range d.PathArgs {
		if v, ok := args[key].(string); ok && v != "" {
			paths = append(paths, v)
		}
	}
	return paths
}

// criticalPatterns contains name fragments indicating destructive operations
// or system commands.
var criticalPatterns = []string{
	"delete", "remove", "drop", "destroy", "execute", "exec",
	"command", "shell", "restore",
}

// highPatterns contains name fragments indicating write operations.
var highPatterns = []string{
	"write", "create", "update", "modify", "move", "git",
}

// mediumPatterns contains name fragments indicating sensitive reads.
var mediumPatterns = []string{
	"fetch", "download", "export", "search",
}

// ClassifyRisk determines the risk level of a tool from its name.
// Matching is case-insensitive substring matching, highest level first.
// Descriptions are not analyzed; a registration can always override the
// computed level by setting Risk explicitly.
func ClassifyRisk(name string) RiskLevel {
	lower := strings.ToLower(name)
	for _, p := range criticalPatterns {
		if strings.Contains(lower, p) {
			return RiskLevelCritical
		}
	}
	for _, p := range highPatterns {
		if strings.Contains(lower, p) {
			return RiskLevelHigh
		}
	}
	for _, p := range mediumPatterns {
		if strings.Contains(lower, p) {
			return RiskLevelMedium
		}
	}
	return RiskLevelLow
}
