// Package service contains the application services: the policy engine,
// the audit writer, and the approval coordinator.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/toolward/toolward/internal/adapter/outbound/cel"
	"github.com/toolward/toolward/internal/domain/policy"
)

// CompiledRule is a policy rule with its condition pre-compiled.
type CompiledRule struct {
	ID        string
	Name      string
	Priority  int
	ToolMatch string
	Action    policy.Action
	// Program is nil when the rule has no condition (matches on name alone).
	Program cel.Program
	// TimeVarying marks a condition that reads request_time. Its outcome
	// depends on the clock, so decisions involving it bypass the cache.
	TimeVarying bool
}

// RuleIndex provides O(1) lookup for exact tool name matches. Exact rules
// are strictly more specific than any glob, so candidates merge exact-first.
type RuleIndex struct {
	Exact    map[string][]CompiledRule
	Wildcard []CompiledRule
}

// CompiledRulesSnapshot is the immutable snapshot stored in atomic.Value.
type CompiledRulesSnapshot struct {
	Rules []CompiledRule
	Index *RuleIndex
}

// lruEntry is a doubly-linked list node for the decision cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for evaluation results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry
	tail    *lruEntry
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision and promotes the entry on a hit.
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision, evicting the least recently used entry at capacity.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on rule reload.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns the current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes the evaluation input. Arguments are hashed as JSON
// for determinism.
func computeCacheKey(in policy.Input) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(in.Tool)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(in.Risk)
	_, _ = h.Write([]byte{0})
	if in.Mutates {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte{0})

	if len(in.Arguments) > 0 {
		argsJSON, _ := json.Marshal(in.Arguments)
		_, _ = h.Write(argsJSON)
	}

	return h.Sum64()
}

// PolicyService implements policy.Engine with CEL-based rule evaluation.
// Rules are compiled at load time; evaluation is most-specific-first with
// deny-wins semantics and a RequireApproval default when nothing matches.
// Uses atomic.Value for lock-free reads on the hot path and supports
// hot-reload via Reload.
type PolicyService struct {
	source    policy.RuleSource
	evaluator *celeval.Evaluator
	snapshot  atomic.Value // stores *CompiledRulesSnapshot
	mu        sync.Mutex   // only for Reload writes
	cache     *ResultCache
	logger    *slog.Logger
}

// Compile-time interface verification.
var _ policy.Engine = (*PolicyService)(nil)

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// NewPolicyService loads and compiles all rules from the source. The ctx
// covers the initial load and can be cancelled to abort startup.
func NewPolicyService(ctx context.Context, source policy.RuleSource, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create CEL evaluator: %w", err)
	}

	s := &PolicyService{
		source:    source,
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	rules, err := source.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	compiled, err := s.compileRules(rules)
	if err != nil {
		return nil, err
	}

	snapshot := &CompiledRulesSnapshot{
		Rules: compiled,
		Index: buildIndex(compiled),
	}
	s.snapshot.Store(snapshot)

	logger.Info("policy service initialized",
		"rules_compiled", len(compiled),
		"exact_patterns", len(snapshot.Index.Exact),
		"wildcard_patterns", len(snapshot.Index.Wildcard),
	)

	return s, nil
}

// ValidateRules checks that every rule has a known action and a condition
// that compiles. Call before persisting rules so invalid CEL never poisons
// the rule source.
func (s *PolicyService) ValidateRules(rules []policy.Rule) error {
	for _, rule := range rules {
		if !rule.Action.IsValid() {
			return fmt.Errorf("rule %q: unknown action %q", rule.Name, rule.Action)
		}
		if rule.ToolMatch == "" {
			return fmt.Errorf("rule %q: empty tool match", rule.Name)
		}
		if rule.Condition == "" {
			continue
		}
		if err := s.evaluator.ValidateExpression(rule.Condition); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

// compileRules compiles conditions and sorts rules by priority descending.
func (s *PolicyService) compileRules(rules []policy.Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))

	for _, rule := range rules {
		var prg cel.Program
		if rule.Condition != "" {
			var err error
			prg, err = s.evaluator.Compile(rule.Condition)
			if err != nil {
				return nil, fmt.Errorf("compile rule %s: %w", rule.Name, err)
			}
		}

		ruleID := rule.ID
		if ruleID == "" {
			ruleID = rule.Name
		}

		compiled = append(compiled, CompiledRule{
			ID:          ruleID,
			Name:        rule.Name,
			Priority:    rule.Priority,
			ToolMatch:   rule.ToolMatch,
			Action:      rule.Action,
			Program:     prg,
			TimeVarying: prg != nil && celeval.ReferencesRequestTime(rule.Condition),
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return compiled, nil
}

// buildIndex splits compiled rules into exact and wildcard buckets, each
// kept in priority order.
func buildIndex(rules []CompiledRule) *RuleIndex {
	idx := &RuleIndex{
		Exact: make(map[string][]CompiledRule),
	}
	for _, rule := range rules {
		if strings.ContainsAny(rule.ToolMatch, "*?[") {
			idx.Wildcard = append(idx.Wildcard, rule)
		} else {
			idx.Exact[rule.ToolMatch] = append(idx.Exact[rule.ToolMatch], rule)
		}
	}
	return idx
}

func (s *PolicyService) loadSnapshot() *CompiledRulesSnapshot {
	return s.snapshot.Load().(*CompiledRulesSnapshot)
}

// candidates returns the rules that may match the tool name: exact rules
// first (more specific), then wildcards, each bucket in priority order.
func candidates(idx *RuleIndex, tool string) []CompiledRule {
	exact := idx.Exact[tool]
	if len(idx.Wildcard) == 0 {
		return exact
	}
	if len(exact) == 0 {
		return idx.Wildcard
	}
	merged := make([]CompiledRule, 0, len(exact)+len(idx.Wildcard))
	merged = append(merged, exact...)
	merged = append(merged, idx.Wildcard...)
	return merged
}

// matches reports whether the rule applies to the input. A condition that
// fails to evaluate makes the rule non-matching, never an error: the overall
// decision still falls through to RequireApproval if nothing else matches.
func (s *PolicyService) matches(rule CompiledRule, in policy.Input) bool {
	if strings.ContainsAny(rule.ToolMatch, "*?[") {
		// Lone "*" matches every tool name, including names that
		// filepath.Match would reject on separator boundaries.
		if rule.ToolMatch != "*" {
			matched, err := filepath.Match(rule.ToolMatch, in.Tool)
			if err != nil {
				s.logger.Warn("invalid glob pattern", "rule", rule.ID, "pattern", rule.ToolMatch, "error", err)
				return false
			}
			if !matched {
				return false
			}
		}
	} else if rule.ToolMatch != in.Tool {
		return false
	}

	if rule.Program == nil {
		return true
	}

	ok, err := s.evaluator.Evaluate(rule.Program, in)
	if err != nil {
		s.logger.Warn("rule condition failed to evaluate, treating as non-matching",
			"rule", rule.ID, "error", err)
		return false
	}
	return ok
}

// Evaluate returns the decision for one tool call.
//
// All candidate rules are evaluated: an explicit Deny match always wins,
// even when a more specific AutoApprove rule also matches. Otherwise the
// most specific match decides. No match fails toward human review.
func (s *PolicyService) Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error) {
	snapshot := s.loadSnapshot()
	cands := candidates(snapshot.Index, in.Tool)

	// The cache key covers tool, risk, and arguments but not the request
	// time. A time-conditioned candidate makes the decision clock-dependent,
	// so caching it could replay an AutoApprove issued inside an allowed
	// window after the window has closed. Those evaluations skip the cache.
	cacheable := true
	for _, rule := range cands {
		if rule.TimeVarying {
			cacheable = false
			break
		}
	}

	var cacheKey uint64
	if cacheable {
		cacheKey = computeCacheKey(in)
		if decision, ok := s.cache.Get(cacheKey); ok {
			return decision, nil
		}
	}

	var first *CompiledRule
	var deny *CompiledRule
	for _, rule := range cands {
		rule := rule
		if !s.matches(rule, in) {
			continue
		}
		if rule.Action == policy.ActionDeny {
			deny = &rule
			break
		}
		if first == nil {
			first = &rule
		}
	}

	var decision policy.Decision
	switch {
	case deny != nil:
		decision = policy.Decision{
			Action:   policy.ActionDeny,
			RuleID:   deny.ID,
			RuleName: deny.Name,
			Reason:   fmt.Sprintf("denied by rule %s", deny.Name),
		}
	case first != nil:
		decision = policy.Decision{
			Action:   first.Action,
			RuleID:   first.ID,
			RuleName: first.Name,
			Reason:   fmt.Sprintf("matched rule %s", first.Name),
		}
	default:
		// Fail toward human review, never toward auto-execution.
		decision = policy.Decision{
			Action: policy.ActionRequireApproval,
			Reason: "no matching rule (default: require approval)",
		}
	}

	if cacheable {
		s.cache.Put(cacheKey, decision)
	}
	return decision, nil
}

// Reload recompiles all rules from the source and atomically publishes the
// new snapshot. Safe to call concurrently with Evaluate.
func (s *PolicyService) Reload(ctx context.Context) error {
	rules, err := s.source.Rules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	compiled, err := s.compileRules(rules)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	idx := buildIndex(compiled)

	s.mu.Lock()
	s.snapshot.Store(&CompiledRulesSnapshot{
		Rules: compiled,
		Index: idx,
	})
	s.mu.Unlock()

	// Cached decisions may be stale after a rule change.
	s.cache.Clear()

	s.logger.Info("policy service reloaded",
		"rules_compiled", len(compiled),
		"exact_patterns", len(idx.Exact),
		"wildcard_patterns", len(idx.Wildcard),
	)

	return nil
}

// StaticRules adapts a fixed rule slice to the RuleSource interface.
type StaticRules []policy.Rule

// Rules returns the underlying slice.
func (r StaticRules) Rules(_ context.Context) ([]policy.Rule, error) {
	return []policy.Rule(r), nil
}

// DefaultRules returns the built-in rule set: destructive tools are denied,
// read-only tools are auto-approved, forced git operations are denied, and
// everything else falls through to the engine's RequireApproval default.
func DefaultRules() []policy.Rule {
	return []policy.Rule{
		{
			Name:      "deny-delete",
			Priority:  200,
			ToolMatch: "delete_*",
			Action:    policy.ActionDeny,
		},
		{
			Name:      "deny-forced-git",
			Priority:  200,
			ToolMatch: "git_op",
			Condition: `args.operation in ["push --force", "reset --hard"] || ("args" in args && args.args.exists(a, a == "--force"))`,
			Action:    policy.ActionDeny,
		},
		{
			Name:      "auto-approve-read",
			Priority:  100,
			ToolMatch: "read_file",
			Action:    policy.ActionAutoApprove,
		},
		{
			Name:      "auto-approve-list",
			Priority:  100,
			ToolMatch: "list_dir",
			Action:    policy.ActionAutoApprove,
		},
		{
			Name:      "auto-approve-git-read",
			Priority:  100,
			ToolMatch: "git_op",
			Condition: `args.operation in ["status", "log", "diff", "branch"]`,
			Action:    policy.ActionAutoApprove,
		},
		{
			Name:      "review-critical",
			Priority:  50,
			ToolMatch: "*",
			Condition: `risk == "CRITICAL"`,
			Action:    policy.ActionRequireApproval,
		},
	}
}
