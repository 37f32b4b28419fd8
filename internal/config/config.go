// Package config provides the file-based configuration schema for the
// approval pipeline. Configuration is intentionally flat: one YAML file,
// environment variable overrides, no remote sources.
package config

import (
	"time"

	"github.com/toolward/toolward/internal/domain/policy"
)

// Config is the top-level configuration.
type Config struct {
	// LogLevel sets the slog level: debug, info, warn, or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Approval configures token and pending-call lifetimes.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Audit configures the durable audit store.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Snapshots configures the filesystem snapshot service.
	Snapshots SnapshotConfig `yaml:"snapshots" mapstructure:"snapshots"`

	// Exec configures the local execution gateway.
	Exec ExecConfig `yaml:"exec" mapstructure:"exec"`

	// Tracing configures the optional stdout trace exporter.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Policies defines the approval rules. When empty, the builtin default
	// rule set applies (deny destructive, auto-approve read-only, require
	// approval for everything else).
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`
}

// ApprovalConfig configures approval token and pending-call lifetimes.
// Durations are strings ("5m", "1h30m") so the YAML stays readable.
type ApprovalConfig struct {
	// TokenTTL is how long an issued approval token validates. Default "5m".
	TokenTTL string `yaml:"token_ttl" mapstructure:"token_ttl" validate:"omitempty,duration"`
	// PendingTTL is how long a call may await approval. Default "30m".
	PendingTTL string `yaml:"pending_ttl" mapstructure:"pending_ttl" validate:"omitempty,duration"`
	// SweepInterval is how often stale calls are expired. Default "1m".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty,duration"`
}

// AuditConfig configures the audit store backend.
type AuditConfig struct {
	// Backend selects the store: "sqlite" (durable, default) or "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=sqlite memory"`
	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// SnapshotConfig configures where pre-execution checkpoints are stored.
type SnapshotConfig struct {
	// Dir is the snapshot root directory.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ExecConfig confines the local execution gateway.
type ExecConfig struct {
	// AllowedPaths lists the path roots tools may touch. Empty allows any
	// path; production configs should always set this.
	AllowedPaths []string `yaml:"allowed_paths" mapstructure:"allowed_paths"`
	// AllowedCommands is the run_command whitelist. When empty the builtin
	// default whitelist applies.
	AllowedCommands []string `yaml:"allowed_commands" mapstructure:"allowed_commands"`
}

// TracingConfig configures the stdout trace exporter.
type TracingConfig struct {
	// Enabled turns span export on. Default false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// OutputFile redirects trace output from stdout to a file.
	OutputFile string `yaml:"output_file" mapstructure:"output_file"`
}

// PolicyConfig is one declarative approval rule.
type PolicyConfig struct {
	// ID uniquely identifies the rule, referenced from audit entries.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`
	// Name is the human-readable rule name.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// Priority ranks the rule; higher evaluates first.
	Priority int `yaml:"priority" mapstructure:"priority" validate:"gte=0"`
	// ToolMatch is the tool name or glob pattern ("git_*", "*").
	ToolMatch string `yaml:"tool_match" mapstructure:"tool_match" validate:"required"`
	// Condition is an optional CEL predicate over the call.
	Condition string `yaml:"condition" mapstructure:"condition"`
	// Action is the decision: auto_approve, require_approval, or deny.
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=auto_approve require_approval deny"`
}

// Defaults for optional fields.
const (
	DefaultLogLevel      = "info"
	DefaultTokenTTL      = "5m"
	DefaultPendingTTL    = "30m"
	DefaultSweepInterval = "1m"
	DefaultAuditBackend  = "sqlite"
	DefaultSQLitePath    = "toolward-audit.db"
	DefaultSnapshotDir   = ".toolward/snapshots"
)

// SetDefaults fills in defaults for unset optional fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Approval.TokenTTL == "" {
		c.Approval.TokenTTL = DefaultTokenTTL
	}
	if c.Approval.PendingTTL == "" {
		c.Approval.PendingTTL = DefaultPendingTTL
	}
	if c.Approval.SweepInterval == "" {
		c.Approval.SweepInterval = DefaultSweepInterval
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = DefaultAuditBackend
	}
	if c.Audit.SQLitePath == "" {
		c.Audit.SQLitePath = DefaultSQLitePath
	}
	if c.Snapshots.Dir == "" {
		c.Snapshots.Dir = DefaultSnapshotDir
	}
}

// TokenTTLDuration returns the parsed token TTL. Call after Validate.
func (c *ApprovalConfig) TokenTTLDuration() time.Duration {
	return mustDuration(c.TokenTTL, 5*time.Minute)
}

// PendingTTLDuration returns the parsed pending TTL. Call after Validate.
func (c *ApprovalConfig) PendingTTLDuration() time.Duration {
	return mustDuration(c.PendingTTL, 30*time.Minute)
}

// SweepIntervalDuration returns the parsed sweep interval. Call after Validate.
func (c *ApprovalConfig) SweepIntervalDuration() time.Duration {
	return mustDuration(c.SweepInterval, time.Minute)
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Rules converts the declarative policy list into domain rules. Call after
// Validate; condition syntax is checked separately by the policy service.
func (c *Config) Rules() []policy.Rule {
	if len(c.Policies) == 0 {
		return nil
	}
	rules := make([]policy.Rule, 0, len(c.Policies))
	for _, p := range c.Policies {
		rules = append(rules, policy.Rule{
			ID:        p.ID,
			Name:      p.Name,
			Priority:  p.Priority,
			ToolMatch: p.ToolMatch,
			Condition: p.Condition,
			Action:    policy.Action(p.Action),
		})
	}
	return rules
}
