package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/toolward/toolward/internal/domain/policy"
)

func newTestPolicyService(t *testing.T, rules []policy.Rule, opts ...PolicyServiceOption) *PolicyService {
	t.Helper()
	svc, err := NewPolicyService(context.Background(), StaticRules(rules),
		slog.New(slog.DiscardHandler), opts...)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	return svc
}

func TestEvaluateDefaultRequiresApproval(t *testing.T) {
	t.Parallel()
	svc := newTestPolicyService(t, nil)

	decision, err := svc.Evaluate(context.Background(), policy.Input{Tool: "anything"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != policy.ActionRequireApproval {
		t.Errorf("default action = %s, want require_approval", decision.Action)
	}
	if decision.RuleID != "" {
		t.Errorf("default decision should not name a rule, got %q", decision.RuleID)
	}
}

func TestEvaluateDenyWins(t *testing.T) {
	t.Parallel()

	// The auto-approve rule is both higher priority and more specific, but
	// an explicit deny must still win.
	svc := newTestPolicyService(t, []policy.Rule{
		{Name: "allow-write", Priority: 200, ToolMatch: "write_file", Action: policy.ActionAutoApprove},
		{Name: "deny-writes", Priority: 10, ToolMatch: "write_*", Action: policy.ActionDeny},
	})

	decision, err := svc.Evaluate(context.Background(), policy.Input{Tool: "write_file"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != policy.ActionDeny {
		t.Errorf("action = %s, want deny", decision.Action)
	}
	if decision.RuleName != "deny-writes" {
		t.Errorf("rule = %s, want deny-writes", decision.RuleName)
	}
}

func TestEvaluateMostSpecificFirst(t *testing.T) {
	t.Parallel()

	// Exact rules beat wildcards regardless of priority ordering issues;
	// within a bucket, priority decides.
	svc := newTestPolicyService(t, []policy.Rule{
		{Name: "wildcard-approve", Priority: 500, ToolMatch: "*", Action: policy.ActionAutoApprove},
		{Name: "exact-review", Priority: 1, ToolMatch: "run_command", Action: policy.ActionRequireApproval},
	})

	decision, err := svc.Evaluate(context.Background(), policy.Input{Tool: "run_command"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.RuleName != "exact-review" {
		t.Errorf("rule = %s, want exact-review", decision.RuleName)
	}

	decision, err = svc.Evaluate(context.Background(), policy.Input{Tool: "other_tool"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.RuleName != "wildcard-approve" {
		t.Errorf("rule = %s, want wildcard-approve", decision.RuleName)
	}
}

func TestEvaluateConditions(t *testing.T) {
	t.Parallel()

	svc := newTestPolicyService(t, []policy.Rule{
		{
			Name:      "deny-forced-push",
			Priority:  100,
			ToolMatch: "git_op",
			Condition: `args.args.exists(a, a == "--force")`,
			Action:    policy.ActionDeny,
		},
		{
			Name:      "approve-git",
			Priority:  50,
			ToolMatch: "git_op",
			Action:    policy.ActionAutoApprove,
		},
	})

	forced := policy.Input{
		Tool:      "git_op",
		Arguments: map[string]any{"operation": "push", "args": []any{"--force"}},
	}
	decision, err := svc.Evaluate(context.Background(), forced)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != policy.ActionDeny {
		t.Errorf("forced push action = %s, want deny", decision.Action)
	}

	plain := policy.Input{
		Tool:      "git_op",
		Arguments: map[string]any{"operation": "push", "args": []any{}},
	}
	decision, err = svc.Evaluate(context.Background(), plain)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != policy.ActionAutoApprove {
		t.Errorf("plain push action = %s, want auto_approve", decision.Action)
	}
}

func TestEvaluateFailedConditionIsNonMatching(t *testing.T) {
	t.Parallel()

	// The condition references a key the input lacks: the rule must become
	// non-matching and the decision must fall through to require approval,
	// never to an error or an auto-approval.
	svc := newTestPolicyService(t, []policy.Rule{
		{
			Name:      "broken-condition",
			Priority:  100,
			ToolMatch: "write_file",
			Condition: `args.nonexistent == "x"`,
			Action:    policy.ActionAutoApprove,
		},
	})

	decision, err := svc.Evaluate(context.Background(), policy.Input{
		Tool:      "write_file",
		Arguments: map[string]any{"path": "/tmp/a"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != policy.ActionRequireApproval {
		t.Errorf("action = %s, want require_approval fallback", decision.Action)
	}
}

func TestNewPolicyServiceRejectsBadCondition(t *testing.T) {
	t.Parallel()

	_, err := NewPolicyService(context.Background(), StaticRules([]policy.Rule{
		{Name: "bad", ToolMatch: "*", Condition: `this is not CEL`, Action: policy.ActionDeny},
	}), slog.New(slog.DiscardHandler))
	if err == nil {
		t.Error("expected compile error at construction")
	}
}

func TestValidateRules(t *testing.T) {
	t.Parallel()
	svc := newTestPolicyService(t, nil)

	tests := []struct {
		name    string
		rule    policy.Rule
		wantErr bool
	}{
		{"valid", policy.Rule{Name: "r", ToolMatch: "*", Action: policy.ActionDeny}, false},
		{"valid condition", policy.Rule{Name: "r", ToolMatch: "*", Condition: `risk == "HIGH"`, Action: policy.ActionDeny}, false},
		{"unknown action", policy.Rule{Name: "r", ToolMatch: "*", Action: policy.Action("explode")}, true},
		{"empty tool match", policy.Rule{Name: "r", Action: policy.ActionDeny}, true},
		{"bad condition", policy.Rule{Name: "r", ToolMatch: "*", Condition: `(((`, Action: policy.ActionDeny}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := svc.ValidateRules([]policy.Rule{tt.rule})
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRules error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeConditionedRulesBypassCache(t *testing.T) {
	t.Parallel()

	svc := newTestPolicyService(t, []policy.Rule{
		{
			Name:      "office-hours-auto",
			Priority:  100,
			ToolMatch: "run_command",
			Condition: `request_time.getHours() < 12`,
			Action:    policy.ActionAutoApprove,
		},
	})

	morning := policy.Input{
		Tool:        "run_command",
		Arguments:   map[string]any{"command": "make"},
		RequestTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	decision, err := svc.Evaluate(context.Background(), morning)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != policy.ActionAutoApprove {
		t.Fatalf("morning action = %s, want auto_approve", decision.Action)
	}

	// Identical arguments outside the window: the morning auto-approve must
	// not be replayed from the cache.
	evening := morning
	evening.RequestTime = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	decision, err = svc.Evaluate(context.Background(), evening)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != policy.ActionRequireApproval {
		t.Errorf("evening action = %s, want require_approval", decision.Action)
	}

	// Clock-dependent decisions never enter the cache.
	if n := svc.cache.Size(); n != 0 {
		t.Errorf("cache size = %d, want 0", n)
	}

	// Tools without a time-conditioned candidate still cache normally.
	if _, err := svc.Evaluate(context.Background(), policy.Input{Tool: "read_file"}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if n := svc.cache.Size(); n != 1 {
		t.Errorf("cache size = %d, want 1", n)
	}
}

func TestReloadSwapsRules(t *testing.T) {
	t.Parallel()

	source := &mutableRules{rules: []policy.Rule{
		{Name: "allow-all", ToolMatch: "*", Action: policy.ActionAutoApprove},
	}}
	svc, err := NewPolicyService(context.Background(), source, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}

	in := policy.Input{Tool: "write_file"}
	decision, _ := svc.Evaluate(context.Background(), in)
	if decision.Action != policy.ActionAutoApprove {
		t.Fatalf("before reload: %s", decision.Action)
	}

	source.set([]policy.Rule{
		{Name: "deny-all", ToolMatch: "*", Action: policy.ActionDeny},
	})
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	// The decision cache must not serve the pre-reload answer.
	decision, _ = svc.Evaluate(context.Background(), in)
	if decision.Action != policy.ActionDeny {
		t.Errorf("after reload: %s, want deny", decision.Action)
	}
}

func TestDefaultRules(t *testing.T) {
	t.Parallel()
	svc := newTestPolicyService(t, DefaultRules())

	tests := []struct {
		name string
		in   policy.Input
		want policy.Action
	}{
		{
			"delete denied",
			policy.Input{Tool: "delete_file", Arguments: map[string]any{"path": "/tmp/a"}},
			policy.ActionDeny,
		},
		{
			"read auto approved",
			policy.Input{Tool: "read_file", Arguments: map[string]any{"path": "/tmp/a"}},
			policy.ActionAutoApprove,
		},
		{
			"list auto approved",
			policy.Input{Tool: "list_dir", Arguments: map[string]any{"path": "/tmp"}},
			policy.ActionAutoApprove,
		},
		{
			"git status auto approved",
			policy.Input{Tool: "git_op", Arguments: map[string]any{"repo": "/r", "operation": "status"}},
			policy.ActionAutoApprove,
		},
		{
			"forced git push denied",
			policy.Input{Tool: "git_op", Arguments: map[string]any{"repo": "/r", "operation": "push", "args": []any{"--force"}}},
			policy.ActionDeny,
		},
		{
			"critical command needs review",
			policy.Input{Tool: "run_command", Arguments: map[string]any{"command": "go"}, Risk: "CRITICAL"},
			policy.ActionRequireApproval,
		},
		{
			"plain write falls through to default",
			policy.Input{Tool: "write_file", Arguments: map[string]any{"path": "/tmp/a", "content": "x"}, Risk: "HIGH"},
			policy.ActionRequireApproval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decision, err := svc.Evaluate(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if decision.Action != tt.want {
				t.Errorf("action = %s, want %s (rule %s)", decision.Action, tt.want, decision.RuleName)
			}
		})
	}
}

func TestResultCache(t *testing.T) {
	t.Parallel()

	cache := NewResultCache(2)
	d1 := policy.Decision{Action: policy.ActionDeny}
	d2 := policy.Decision{Action: policy.ActionAutoApprove}
	d3 := policy.Decision{Action: policy.ActionRequireApproval}

	cache.Put(1, d1)
	cache.Put(2, d2)

	if got, ok := cache.Get(1); !ok || got.Action != policy.ActionDeny {
		t.Fatalf("Get(1) = %v, %v", got, ok)
	}

	// Key 1 was just promoted; inserting key 3 must evict key 2.
	cache.Put(3, d3)
	if _, ok := cache.Get(2); ok {
		t.Error("key 2 should have been evicted")
	}
	if _, ok := cache.Get(1); !ok {
		t.Error("key 1 should survive eviction")
	}
	if cache.Size() != 2 {
		t.Errorf("Size = %d, want 2", cache.Size())
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Size after Clear = %d", cache.Size())
	}
}

// mutableRules is a swappable RuleSource for reload tests.
type mutableRules struct {
	rules []policy.Rule
}

func (m *mutableRules) set(rules []policy.Rule) {
	m.rules = rules
}

func (m *mutableRules) Rules(_ context.Context) ([]policy.Rule, error) {
	return m.rules, nil
}
