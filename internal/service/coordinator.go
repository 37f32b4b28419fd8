package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/toolward/toolward/internal/domain/audit"
	"github.com/toolward/toolward/internal/domain/catalog"
	"github.com/toolward/toolward/internal/domain/policy"
	"github.com/toolward/toolward/internal/domain/snapshot"
	"github.com/toolward/toolward/internal/domain/toolcall"
	"github.com/toolward/toolward/internal/port/inbound"
	"github.com/toolward/toolward/internal/port/outbound"
	"github.com/toolward/toolward/internal/telemetry"
)

const (
	// DefaultTokenTTL is how long an issued approval token validates.
	DefaultTokenTTL = 5 * time.Minute
	// DefaultPendingTTL is how long a call may sit in PendingApproval
	// before the sweeper moves it to Expired.
	DefaultPendingTTL = 30 * time.Minute
)

// ErrExecutionFailure wraps a gateway-reported execution error. The call is
// terminal Failed; retry requires a brand-new proposal.
var ErrExecutionFailure = errors.New("execution failure")

// callRecord pairs a tool call with its per-call lock and live token.
// Exactly one transition may be in flight per call; transitions on
// different calls proceed in parallel.
type callRecord struct {
	mu    sync.Mutex
	call  toolcall.ToolCall
	token *toolcall.Token
}

// Coordinator owns the lifecycle of every tool call in a session. It is the
// only writer of call state; callers get copies. One instance per session,
// no cross-session shared state beyond the injected audit store.
type Coordinator struct {
	registry  *catalog.Registry
	engine    policy.Engine
	simulator outbound.DryRunSimulator
	gateway   outbound.ExecutionGateway
	snapshots outbound.SnapshotService
	auditor   *AuditService
	metrics   *telemetry.Metrics
	logger    *slog.Logger

	tokenTTL   time.Duration
	pendingTTL time.Duration
	now        func() time.Time

	mu    sync.Mutex // guards the calls map, never held across collaborator calls
	calls map[string]*callRecord
}

// Compile-time check that Coordinator implements the inbound surface.
var _ inbound.Pipeline = (*Coordinator)(nil)

// CoordinatorDeps bundles the collaborators a Coordinator requires.
type CoordinatorDeps struct {
	Registry  *catalog.Registry
	Engine    policy.Engine
	Simulator outbound.DryRunSimulator
	Gateway   outbound.ExecutionGateway
	Snapshots outbound.SnapshotService
	Auditor   *AuditService
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTokenTTL sets the approval token expiry.
func WithTokenTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.tokenTTL = ttl
		}
	}
}

// WithPendingTTL sets how long calls may await approval before expiring.
func WithPendingTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.pendingTTL = ttl
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates the session coordinator.
func NewCoordinator(deps CoordinatorDeps, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry:   deps.Registry,
		engine:     deps.Engine,
		simulator:  deps.Simulator,
		gateway:    deps.Gateway,
		snapshots:  deps.Snapshots,
		auditor:    deps.Auditor,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tokenTTL:   DefaultTokenTTL,
		pendingTTL: DefaultPendingTTL,
		now:        func() time.Time { return time.Now().UTC() },
		calls:      make(map[string]*callRecord),
	}
	if c.metrics == nil {
		c.metrics = telemetry.NopMetrics()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// record looks up the call record for an ID.
func (c *Coordinator) record(id string) (*callRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", toolcall.ErrNotFound, id)
	}
	return rec, nil
}

// transitionLocked appends the audit entry for an edge and, only after the
// append succeeds, commits the state change. A failed append aborts the
// transition: an unaudited transition never happens. rec.mu must be held.
func (c *Coordinator) transitionLocked(ctx context.Context, rec *callRecord, to toolcall.State, e audit.Entry) error {
	if !rec.call.State.CanTransition(to) {
		return fmt.Errorf("%w: %s cannot move from %s to %s",
			toolcall.ErrStateConflict, rec.call.ID, rec.call.State, to)
	}

	e.CallID = rec.call.ID
	e.Tool = rec.call.Tool
	e.Timestamp = c.now()

	if _, err := c.auditor.Record(ctx, e); err != nil {
		c.metrics.AuditAppendsTotal.WithLabelValues("error").Inc()
		return err
	}
	c.metrics.AuditAppendsTotal.WithLabelValues("ok").Inc()

	rec.call.State = to
	rec.call.UpdatedAt = e.Timestamp
	return nil
}

// Propose validates a call against the catalog, attaches the dry-run
// preview, and applies the policy decision. Auto-approved calls run to
// completion before Propose returns; denied calls end terminal Denied
// without further side effects. The returned ID identifies the call in all
// later operations.
func (c *Coordinator) Propose(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.propose",
		attribute.String("tool", name))
	defer span.End()

	desc, err := c.registry.Validate(name, args)
	if err != nil {
		return "", c.rejectProposal(ctx, name, args, err)
	}

	now := c.now()
	rec := &callRecord{
		call: toolcall.ToolCall{
			ID:        uuid.New().String(),
			Tool:      name,
			Arguments: args,
			Risk:      string(desc.Risk),
			Mutates:   desc.Mutates,
			CreatedAt: now,
			UpdatedAt: now,
			State:     toolcall.StateProposed,
		},
	}

	c.mu.Lock()
	c.calls[rec.call.ID] = rec
	c.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// Dry-run preview. Best-effort and advisory: a simulator error is
	// recorded on the call, never blocks the pipeline.
	pred, simErr := c.simulator.Simulate(ctx, name, args)
	if simErr != nil {
		pred = toolcall.Prediction{Summary: fmt.Sprintf("simulation unavailable: %v", simErr)}
	}
	rec.call.Prediction = &pred

	if err := c.transitionLocked(ctx, rec, toolcall.StateDryRun, audit.Entry{
		Transition: audit.TransitionDryRun,
		Actor:      audit.SystemActor,
		Summary:    pred.Summary,
		Arguments:  audit.RedactSensitiveArgs(args),
		Result:     audit.OutcomeOK,
	}); err != nil {
		return "", err
	}

	decision, err := c.engine.Evaluate(ctx, policy.Input{
		Tool:        name,
		Arguments:   args,
		Risk:        string(desc.Risk),
		Mutates:     desc.Mutates,
		RequestTime: now,
	})
	if err != nil {
		// A broken engine must not strand the call in DryRun: the abort is
		// a terminal Failed transition with its own audit entry.
		cause := fmt.Sprintf("policy evaluation failed: %v", err)
		rec.call.FailureCause = cause
		if terr := c.transitionLocked(ctx, rec, toolcall.StateFailed, audit.Entry{
			Transition: audit.TransitionFailed,
			Actor:      audit.SystemActor,
			Summary:    cause,
			Result:     audit.OutcomeError,
		}); terr != nil {
			return "", terr
		}
		c.metrics.ProposalsTotal.WithLabelValues("error").Inc()
		return rec.call.ID, fmt.Errorf("policy evaluation: %w", err)
	}

	switch decision.Action {
	case policy.ActionDeny:
		rec.call.FailureCause = decision.Reason
		if err := c.transitionLocked(ctx, rec, toolcall.StateDenied, audit.Entry{
			Transition: audit.TransitionDenied,
			Actor:      audit.SystemActor,
			Summary:    decision.Reason,
			Result:     audit.OutcomeRefused,
		}); err != nil {
			return "", err
		}
		c.metrics.ProposalsTotal.WithLabelValues("denied").Inc()
		c.logger.Info("tool call denied by policy",
			"call_id", rec.call.ID, "tool", name, "rule", decision.RuleName)
		return rec.call.ID, nil

	case policy.ActionAutoApprove:
		if err := c.transitionLocked(ctx, rec, toolcall.StateAutoApproved, audit.Entry{
			Transition: audit.TransitionAutoApproved,
			Actor:      audit.SystemActor,
			Summary:    decision.Reason,
			Result:     audit.OutcomeOK,
		}); err != nil {
			return "", err
		}
		c.metrics.ProposalsTotal.WithLabelValues("auto_approved").Inc()

		// An auto-approval is an internally issued approval: issue a
		// system token and run the same execution path as Approved.
		token := c.issueTokenLocked(rec)
		if _, err := c.executeLocked(ctx, rec, desc, token.ID); err != nil {
			c.logger.Warn("auto-approved call failed",
				"call_id", rec.call.ID, "tool", name, "error", err)
		}
		return rec.call.ID, nil

	default:
		if err := c.transitionLocked(ctx, rec, toolcall.StatePendingApproval, audit.Entry{
			Transition: audit.TransitionPendingApproval,
			Actor:      audit.SystemActor,
			Summary:    decision.Reason,
			Result:     audit.OutcomeOK,
		}); err != nil {
			return "", err
		}
		c.metrics.ProposalsTotal.WithLabelValues("pending_approval").Inc()
		c.metrics.PendingApprovals.Inc()
		c.logger.Info("tool call awaiting approval",
			"call_id", rec.call.ID, "tool", name, "reason", decision.Reason)
		return rec.call.ID, nil
	}
}

// rejectProposal audits a pre-policy rejection (unknown tool or schema
// violation) as a single denial-equivalent entry and returns the original
// error. A failed audit append takes precedence: the rejection itself must
// be on the record.
func (c *Coordinator) rejectProposal(ctx context.Context, name string, args map[string]any, cause error) error {
	c.metrics.ProposalsTotal.WithLabelValues("invalid").Inc()
	_, recErr := c.auditor.Record(ctx, audit.Entry{
		Timestamp:  c.now(),
		CallID:     "",
		Tool:       name,
		Transition: audit.TransitionProposalRejected,
		Actor:      audit.SystemActor,
		Summary:    cause.Error(),
		Arguments:  audit.RedactSensitiveArgs(args),
		Result:     audit.OutcomeRefused,
	})
	if recErr != nil {
		c.metrics.AuditAppendsTotal.WithLabelValues("error").Inc()
		return recErr
	}
	c.metrics.AuditAppendsTotal.WithLabelValues("ok").Inc()
	return cause
}

// issueTokenLocked creates the single live token for a call. rec.mu must
// be held. Any previous token is superseded; only one live token per call.
func (c *Coordinator) issueTokenLocked(rec *callRecord) toolcall.Token {
	now := c.now()
	token := toolcall.Token{
		ID:        uuid.New().String(),
		CallID:    rec.call.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.tokenTTL),
	}
	rec.token = &token
	return token
}

// Approve issues a single-use approval token. Legal only from
// PendingApproval; anything else is a StateConflict.
func (c *Coordinator) Approve(ctx context.Context, callID, actorID string) (toolcall.Token, error) {
	rec, err := c.record(callID)
	if err != nil {
		return toolcall.Token{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.call.State != toolcall.StatePendingApproval {
		return toolcall.Token{}, fmt.Errorf("%w: cannot approve call in state %s",
			toolcall.ErrStateConflict, rec.call.State)
	}

	if err := c.transitionLocked(ctx, rec, toolcall.StateApproved, audit.Entry{
		Transition: audit.TransitionApproved,
		Actor:      audit.Actor{ID: actorID, Type: audit.ActorTypeHuman},
		Summary:    fmt.Sprintf("approved by %s, token expires in %s", actorID, c.tokenTTL),
		Result:     audit.OutcomeOK,
	}); err != nil {
		return toolcall.Token{}, err
	}
	c.metrics.PendingApprovals.Dec()

	token := c.issueTokenLocked(rec)
	c.logger.Info("tool call approved",
		"call_id", callID, "tool", rec.call.Tool, "actor", actorID)
	return token, nil
}

// Reject terminates a call awaiting approval, or revokes an approval whose
// execution has not started. Once Executing has begun there is no
// cancellation: the in-flight execution runs to completion or failure.
func (c *Coordinator) Reject(ctx context.Context, callID, actorID, reason string) error {
	rec, err := c.record(callID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	wasPending := rec.call.State == toolcall.StatePendingApproval
	if !wasPending && rec.call.State != toolcall.StateApproved {
		return fmt.Errorf("%w: cannot reject call in state %s",
			toolcall.ErrStateConflict, rec.call.State)
	}

	rec.call.FailureCause = reason
	if err := c.transitionLocked(ctx, rec, toolcall.StateRejected, audit.Entry{
		Transition: audit.TransitionRejected,
		Actor:      audit.Actor{ID: actorID, Type: audit.ActorTypeHuman},
		Summary:    reason,
		Result:     audit.OutcomeRefused,
	}); err != nil {
		return err
	}
	rec.token = nil
	if wasPending {
		c.metrics.PendingApprovals.Dec()
	}

	c.logger.Info("tool call rejected",
		"call_id", callID, "tool", rec.call.Tool, "actor", actorID, "reason", reason)
	return nil
}

// Execute validates and consumes the token, then runs the call through the
// snapshot gate and the execution gateway. Exactly one of two concurrent
// racers on the same token wins; the loser observes a state or token
// conflict and the tool runs at most once.
func (c *Coordinator) Execute(ctx context.Context, callID, tokenID string) (toolcall.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.execute",
		attribute.String("call_id", callID))
	defer span.End()

	rec, err := c.record(callID)
	if err != nil {
		return toolcall.Result{}, err
	}

	desc, err := c.registry.Lookup(rec.call.Tool)
	if err != nil {
		return toolcall.Result{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return c.executeLocked(ctx, rec, desc, tokenID)
}

// executeLocked is the execution path shared by Execute and the
// auto-approve branch of Propose. rec.mu must be held for the full
// duration: the per-call lock is what makes token consumption atomic with
// the transition to Executing and keeps an in-flight execution exclusive.
func (c *Coordinator) executeLocked(ctx context.Context, rec *callRecord, desc catalog.Descriptor, tokenID string) (toolcall.Result, error) {
	// Token checks come first so a replayed token reports consumption
	// rather than a generic state conflict.
	if err := c.checkToken(ctx, rec, tokenID); err != nil {
		return toolcall.Result{}, err
	}

	if rec.call.State != toolcall.StateApproved && rec.call.State != toolcall.StateAutoApproved {
		return toolcall.Result{}, fmt.Errorf("%w: cannot execute call in state %s",
			toolcall.ErrStateConflict, rec.call.State)
	}

	// Token consumption commits with the Executing transition: if the
	// audit append fails the token stays live and the state unchanged.
	if err := c.transitionLocked(ctx, rec, toolcall.StateExecuting, audit.Entry{
		Transition: audit.TransitionExecuting,
		Actor:      audit.SystemActor,
		Summary:    fmt.Sprintf("token %s consumed", tokenID),
		Result:     audit.OutcomeOK,
	}); err != nil {
		return toolcall.Result{}, err
	}
	rec.token.Consumed = true

	// Snapshot gate: fail-closed. A mutating call never executes without
	// its checkpoint.
	if desc.Mutates && desc.RequiresSnapshot {
		snap, err := c.snapshots.Create(ctx, desc.AffectedPaths(rec.call.Arguments), rec.call.ID)
		if err != nil {
			cause := fmt.Errorf("%w: %v", snapshot.ErrFailure, err)
			c.failLocked(ctx, rec, cause.Error())
			return toolcall.Result{}, cause
		}
		rec.call.SnapshotID = snap.ID
	}

	start := c.now()
	result, err := c.gateway.Execute(ctx, rec.call.Tool, rec.call.Arguments)
	c.metrics.ExecuteDuration.Observe(c.now().Sub(start).Seconds())
	if err != nil {
		c.failLocked(ctx, rec, err.Error())
		return toolcall.Result{}, fmt.Errorf("%w: %v", ErrExecutionFailure, err)
	}

	rec.call.Result = &result
	if terr := c.transitionLocked(ctx, rec, toolcall.StateExecuted, audit.Entry{
		Transition: audit.TransitionExecuted,
		Actor:      audit.SystemActor,
		Summary:    result.Summary,
		SnapshotID: rec.call.SnapshotID,
		Result:     audit.OutcomeOK,
	}); terr != nil {
		return toolcall.Result{}, terr
	}
	c.metrics.ExecutionsTotal.WithLabelValues("executed").Inc()

	c.logger.Info("tool call executed",
		"call_id", rec.call.ID, "tool", rec.call.Tool, "snapshot_id", rec.call.SnapshotID)
	return result, nil
}

// checkToken validates the presented token without changing call state.
// Failures are audited as refused execute attempts.
func (c *Coordinator) checkToken(ctx context.Context, rec *callRecord, tokenID string) error {
	var cause error
	switch {
	case rec.token == nil || rec.token.ID != tokenID:
		cause = toolcall.ErrTokenInvalid
	case rec.token.Consumed:
		cause = toolcall.ErrTokenConsumed
	case rec.token.ExpiredAt(c.now()):
		cause = toolcall.ErrTokenExpired
	default:
		return nil
	}

	c.metrics.ExecutionsTotal.WithLabelValues("refused").Inc()
	if _, recErr := c.auditor.Record(ctx, audit.Entry{
		Timestamp:  c.now(),
		CallID:     rec.call.ID,
		Tool:       rec.call.Tool,
		Transition: audit.TransitionExecuteRefused,
		Actor:      audit.SystemActor,
		Summary:    cause.Error(),
		Result:     audit.OutcomeRefused,
	}); recErr != nil {
		return recErr
	}
	return cause
}

// failLocked moves an executing call to terminal Failed. The audit append
// is attempted but cannot un-run whatever already happened; on append
// failure the call is left Executing and the error logged.
func (c *Coordinator) failLocked(ctx context.Context, rec *callRecord, cause string) {
	rec.call.FailureCause = cause
	if err := c.transitionLocked(ctx, rec, toolcall.StateFailed, audit.Entry{
		Transition: audit.TransitionFailed,
		Actor:      audit.SystemActor,
		Summary:    cause,
		SnapshotID: rec.call.SnapshotID,
		Result:     audit.OutcomeError,
	}); err != nil {
		c.logger.Error("failed to audit execution failure",
			"call_id", rec.call.ID, "error", err)
		return
	}
	c.metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
}

// Get returns a copy of the call record.
func (c *Coordinator) Get(_ context.Context, callID string) (toolcall.ToolCall, error) {
	rec, err := c.record(callID)
	if err != nil {
		return toolcall.ToolCall{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.call.Clone(), nil
}

// ListPending returns copies of all calls awaiting approval, oldest first.
func (c *Coordinator) ListPending(_ context.Context) []toolcall.ToolCall {
	c.mu.Lock()
	recs := make([]*callRecord, 0, len(c.calls))
	for _, rec := range c.calls {
		recs = append(recs, rec)
	}
	c.mu.Unlock()

	var pending []toolcall.ToolCall
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.call.State == toolcall.StatePendingApproval {
			pending = append(pending, rec.call.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// AuditLog returns audit entries matching the filter.
func (c *Coordinator) AuditLog(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return c.auditor.Query(ctx, f)
}

// Sweep moves stale calls to Expired: pending calls older than the pending
// TTL, and approved calls whose token has expired. Expiry is checked lazily
// at execute time anyway; sweeping is hygiene for the pending view, not a
// correctness requirement. Returns the number of calls expired.
func (c *Coordinator) Sweep(ctx context.Context) int {
	c.mu.Lock()
	recs := make([]*callRecord, 0, len(c.calls))
	for _, rec := range c.calls {
		recs = append(recs, rec)
	}
	c.mu.Unlock()

	now := c.now()
	expired := 0
	for _, rec := range recs {
		rec.mu.Lock()
		var stale bool
		var summary string
		switch rec.call.State {
		case toolcall.StatePendingApproval:
			stale = now.Sub(rec.call.CreatedAt) > c.pendingTTL
			summary = "approval window elapsed"
		case toolcall.StateApproved:
			stale = rec.token != nil && rec.token.ExpiredAt(now)
			summary = "approval token expired unused"
		}
		if stale {
			wasPending := rec.call.State == toolcall.StatePendingApproval
			if err := c.transitionLocked(ctx, rec, toolcall.StateExpired, audit.Entry{
				Transition: audit.TransitionExpired,
				Actor:      audit.SystemActor,
				Summary:    summary,
				Result:     audit.OutcomeRefused,
			}); err != nil {
				c.logger.Warn("sweep could not expire call",
					"call_id", rec.call.ID, "error", err)
			} else {
				rec.token = nil
				if wasPending {
					c.metrics.PendingApprovals.Dec()
				}
				expired++
			}
		}
		rec.mu.Unlock()
	}

	if expired > 0 {
		c.logger.Info("swept stale tool calls", "expired", expired)
	}
	return expired
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}
