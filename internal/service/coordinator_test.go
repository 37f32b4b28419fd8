package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolward/toolward/internal/adapter/outbound/memory"
	"github.com/toolward/toolward/internal/domain/audit"
	"github.com/toolward/toolward/internal/domain/catalog"
	"github.com/toolward/toolward/internal/domain/policy"
	"github.com/toolward/toolward/internal/domain/snapshot"
	"github.com/toolward/toolward/internal/domain/toolcall"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine returns a fixed decision or error.
type fakeEngine struct {
	decision policy.Decision
	err      error
}

func (f *fakeEngine) Evaluate(_ context.Context, _ policy.Input) (policy.Decision, error) {
	if f.err != nil {
		return policy.Decision{}, f.err
	}
	return f.decision, nil
}

// fakeSimulator returns a fixed prediction.
type fakeSimulator struct {
	pred toolcall.Prediction
	err  error
}

func (f *fakeSimulator) Simulate(_ context.Context, _ string, _ map[string]any) (toolcall.Prediction, error) {
	return f.pred, f.err
}

// fakeGateway counts invocations and returns a fixed result or error.
type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	result toolcall.Result
	err    error
}

func (f *fakeGateway) Execute(_ context.Context, _ string, _ map[string]any) (toolcall.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return toolcall.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSnapshots records creations and fails on demand.
type fakeSnapshots struct {
	mu      sync.Mutex
	fail    bool
	created []string
}

func (f *fakeSnapshots) Create(_ context.Context, paths []string, label string) (snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return snapshot.Snapshot{}, errors.New("disk full")
	}
	f.created = append(f.created, label)
	return snapshot.Snapshot{ID: fmt.Sprintf("snap-%d", len(f.created)), Label: label, Paths: paths}, nil
}

func (f *fakeSnapshots) Restore(_ context.Context, _ string, _ []string) ([]string, error) {
	return nil, nil
}

func (f *fakeSnapshots) Get(_ context.Context, id string) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{}, snapshot.ErrNotFound
}

func (f *fakeSnapshots) List(_ context.Context) ([]snapshot.Snapshot, error) {
	return nil, nil
}

// fakeClock is a controllable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// coordFixture bundles the coordinator with its fakes.
type coordFixture struct {
	coord     *Coordinator
	engine    *fakeEngine
	gateway   *fakeGateway
	snapshots *fakeSnapshots
	store     *flakyStore
	clock     *fakeClock
}

func newCoordFixture(t *testing.T, action policy.Action, opts ...CoordinatorOption) *coordFixture {
	t.Helper()

	registry, err := catalog.NewRegistry(catalog.BuiltinDescriptors())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	store := &flakyStore{AuditStore: memory.NewAuditStore()}
	auditor, err := NewAuditService(context.Background(), store, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewAuditService: %v", err)
	}

	f := &coordFixture{
		engine:    &fakeEngine{decision: policy.Decision{Action: action, Reason: "test decision"}},
		gateway:   &fakeGateway{result: toolcall.Result{Summary: "done"}},
		snapshots: &fakeSnapshots{},
		store:     store,
		clock:     newFakeClock(),
	}

	f.coord = NewCoordinator(CoordinatorDeps{
		Registry:  registry,
		Engine:    f.engine,
		Simulator: &fakeSimulator{pred: toolcall.Prediction{Summary: "preview"}},
		Gateway:   f.gateway,
		Snapshots: f.snapshots,
		Auditor:   auditor,
		Logger:    slog.New(slog.DiscardHandler),
	}, append([]CoordinatorOption{WithClock(f.clock.now)}, opts...)...)
	return f
}

func writeArgs() map[string]any {
	return map[string]any{"path": "/tmp/a.txt", "content": "hello"}
}

// transitionsFor reads the audited transition names for a call, in order.
func transitionsFor(t *testing.T, f *coordFixture, callID string) []string {
	t.Helper()
	entries, err := f.coord.AuditLog(context.Background(), audit.Filter{CallID: callID})
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Transition)
	}
	return names
}

func TestProposeAutoApprovedRunsToCompletion(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionAutoApprove)
	ctx := context.Background()

	id, err := f.coord.Propose(ctx, "write_file", writeArgs())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	call, err := f.coord.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call.State != toolcall.StateExecuted {
		t.Errorf("state = %s, want executed", call.State)
	}
	if call.Result == nil || call.Result.Summary != "done" {
		t.Errorf("result = %+v", call.Result)
	}
	if call.SnapshotID == "" {
		t.Error("mutating call executed without a snapshot")
	}
	if call.Prediction == nil || call.Prediction.Summary != "preview" {
		t.Error("dry-run prediction not recorded")
	}
	if got := f.gateway.callCount(); got != 1 {
		t.Errorf("gateway calls = %d, want 1", got)
	}

	want := []string{
		audit.TransitionDryRun,
		audit.TransitionAutoApproved,
		audit.TransitionExecuting,
		audit.TransitionExecuted,
	}
	got := transitionsFor(t, f, id)
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestProposeDenied(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionDeny)
	ctx := context.Background()

	id, err := f.coord.Propose(ctx, "write_file", writeArgs())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	call, err := f.coord.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call.State != toolcall.StateDenied {
		t.Errorf("state = %s, want denied", call.State)
	}
	if f.gateway.callCount() != 0 {
		t.Error("denied call reached the gateway")
	}
	if len(f.snapshots.created) != 0 {
		t.Error("denied call took a snapshot")
	}

	// Approving a denied call is a state conflict.
	if _, err := f.coord.Approve(ctx, id, "alice"); !errors.Is(err, toolcall.ErrStateConflict) {
		t.Errorf("Approve after deny = %v, want ErrStateConflict", err)
	}
}

func TestProposeUnknownTool(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionAutoApprove)
	ctx := context.Background()

	_, err := f.coord.Propose(ctx, "vaporize", nil)
	if !errors.Is(err, catalog.ErrUnknownTool) {
		t.Fatalf("error = %v, want ErrUnknownTool", err)
	}

	// The rejection itself must be on the audit record.
	entries, err := f.coord.AuditLog(ctx, audit.Filter{Transition: audit.TransitionProposalRejected})
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("proposal_rejected entries = %d, want 1", len(entries))
	}
	if entries[0].Result != audit.OutcomeRefused {
		t.Errorf("result = %s, want refused", entries[0].Result)
	}
}

func TestProposeInvalidArguments(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionAutoApprove)

	_, err := f.coord.Propose(context.Background(), "write_file", map[string]any{"path": "/tmp/a"})
	var verr *catalog.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if f.gateway.callCount() != 0 {
		t.Error("invalid call reached the gateway")
	}
}

func TestApproveExecuteFullPath(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	id, err := f.coord.Propose(ctx, "write_file", writeArgs())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	pending := f.coord.ListPending(ctx)
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("ListPending = %+v", pending)
	}

	token, err := f.coord.Approve(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if token.CallID != id {
		t.Errorf("token bound to %s, want %s", token.CallID, id)
	}

	// A second approval must conflict: the call already left pending.
	if _, err := f.coord.Approve(ctx, id, "bob"); !errors.Is(err, toolcall.ErrStateConflict) {
		t.Errorf("second Approve = %v, want ErrStateConflict", err)
	}

	result, err := f.coord.Execute(ctx, id, token.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Summary != "done" {
		t.Errorf("result = %+v", result)
	}

	call, _ := f.coord.Get(ctx, id)
	if call.State != toolcall.StateExecuted {
		t.Errorf("state = %s, want executed", call.State)
	}
	if len(f.coord.ListPending(ctx)) != 0 {
		t.Error("executed call still listed as pending")
	}

	// The approval entry must carry the human actor.
	entries, _ := f.coord.AuditLog(ctx, audit.Filter{CallID: id, Transition: audit.TransitionApproved})
	if len(entries) != 1 || entries[0].Actor.ID != "alice" || entries[0].Actor.Type != audit.ActorTypeHuman {
		t.Errorf("approval entry actor = %+v", entries)
	}
}

func TestRejectPendingAndRevokeApproved(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	// Reject a pending call.
	id1, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	if err := f.coord.Reject(ctx, id1, "alice", "too risky"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	call, _ := f.coord.Get(ctx, id1)
	if call.State != toolcall.StateRejected || call.FailureCause != "too risky" {
		t.Errorf("call = %s / %q", call.State, call.FailureCause)
	}

	// Revoke an approved call before execution; its token must die with it.
	id2, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	token, err := f.coord.Approve(ctx, id2, "alice")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := f.coord.Reject(ctx, id2, "alice", "changed my mind"); err != nil {
		t.Fatalf("Reject approved: %v", err)
	}
	if _, err := f.coord.Execute(ctx, id2, token.ID); err == nil {
		t.Error("execute after revocation should fail")
	}
	if f.gateway.callCount() != 0 {
		t.Error("revoked call reached the gateway")
	}

	// Rejecting a terminal call conflicts.
	if err := f.coord.Reject(ctx, id1, "alice", "again"); !errors.Is(err, toolcall.ErrStateConflict) {
		t.Errorf("Reject terminal = %v, want ErrStateConflict", err)
	}
}

func TestExecuteTokenMisuse(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	id, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	token, err := f.coord.Approve(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	t.Run("wrong token", func(t *testing.T) {
		_, err := f.coord.Execute(ctx, id, "not-the-token")
		if !errors.Is(err, toolcall.ErrTokenInvalid) {
			t.Fatalf("error = %v, want ErrTokenInvalid", err)
		}
		call, _ := f.coord.Get(ctx, id)
		if call.State != toolcall.StateApproved {
			t.Errorf("state changed on refused execute: %s", call.State)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		f.clock.advance(DefaultTokenTTL + time.Second)
		_, err := f.coord.Execute(ctx, id, token.ID)
		if !errors.Is(err, toolcall.ErrTokenExpired) {
			t.Fatalf("error = %v, want ErrTokenExpired", err)
		}
		call, _ := f.coord.Get(ctx, id)
		if call.State != toolcall.StateApproved {
			t.Errorf("state changed on expired execute: %s", call.State)
		}
	})

	if f.gateway.callCount() != 0 {
		t.Error("refused executions reached the gateway")
	}

	// Every refused attempt must be audited without a state change.
	entries, _ := f.coord.AuditLog(ctx, audit.Filter{CallID: id, Transition: audit.TransitionExecuteRefused})
	if len(entries) != 2 {
		t.Errorf("execute_refused entries = %d, want 2", len(entries))
	}
}

func TestExecuteTokenBoundToCall(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	idA, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	idB, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	tokenA, err := f.coord.Approve(ctx, idA, "alice")
	if err != nil {
		t.Fatalf("Approve A: %v", err)
	}
	tokenB, err := f.coord.Approve(ctx, idB, "alice")
	if err != nil {
		t.Fatalf("Approve B: %v", err)
	}

	// A token approves exactly one call: presenting A's live token for B
	// must fail without touching B.
	if _, err := f.coord.Execute(ctx, idB, tokenA.ID); !errors.Is(err, toolcall.ErrTokenInvalid) {
		t.Fatalf("Execute(B, tokenA) = %v, want ErrTokenInvalid", err)
	}
	call, _ := f.coord.Get(ctx, idB)
	if call.State != toolcall.StateApproved {
		t.Errorf("call B state = %s, want approved", call.State)
	}
	if f.gateway.callCount() != 0 {
		t.Error("cross-call token reached the gateway")
	}

	// Both calls still execute with their own tokens.
	if _, err := f.coord.Execute(ctx, idB, tokenB.ID); err != nil {
		t.Fatalf("Execute(B, tokenB): %v", err)
	}
	if _, err := f.coord.Execute(ctx, idA, tokenA.ID); err != nil {
		t.Fatalf("Execute(A, tokenA): %v", err)
	}
}

func TestExecuteConsumedToken(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	id, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	token, _ := f.coord.Approve(ctx, id, "alice")

	if _, err := f.coord.Execute(ctx, id, token.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := f.coord.Execute(ctx, id, token.ID); !errors.Is(err, toolcall.ErrTokenConsumed) {
		t.Fatalf("replay error = %v, want ErrTokenConsumed", err)
	}
	if f.gateway.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.callCount())
	}
}

func TestConcurrentExecuteRunsAtMostOnce(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	id, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	token, _ := f.coord.Approve(ctx, id, "alice")

	const racers = 8
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Execute(ctx, id, token.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, toolcall.ErrTokenConsumed) {
			t.Errorf("loser error = %v, want ErrTokenConsumed", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d racers succeeded, want exactly 1", succeeded)
	}
	if f.gateway.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.callCount())
	}
}

func TestSnapshotGateFailsClosed(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	f.snapshots.fail = true
	ctx := context.Background()

	id, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	token, _ := f.coord.Approve(ctx, id, "alice")

	_, err := f.coord.Execute(ctx, id, token.ID)
	if !errors.Is(err, snapshot.ErrFailure) {
		t.Fatalf("error = %v, want ErrFailure", err)
	}
	if f.gateway.callCount() != 0 {
		t.Error("execution proceeded without a snapshot")
	}

	call, _ := f.coord.Get(ctx, id)
	if call.State != toolcall.StateFailed {
		t.Errorf("state = %s, want failed", call.State)
	}
	if call.FailureCause == "" {
		t.Error("failure cause not recorded")
	}
}

func TestNonSnapshotToolSkipsGate(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	f.snapshots.fail = true // would fail if consulted
	ctx := context.Background()

	// run_command mutates but is declared snapshot-exempt.
	id, err := f.coord.Propose(ctx, "run_command", map[string]any{"command": "go"})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	token, _ := f.coord.Approve(ctx, id, "alice")
	if _, err := f.coord.Execute(ctx, id, token.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecutionFailureIsTerminal(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	f.gateway.err = errors.New("command exploded")
	ctx := context.Background()

	id, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	token, _ := f.coord.Approve(ctx, id, "alice")

	_, err := f.coord.Execute(ctx, id, token.ID)
	if !errors.Is(err, ErrExecutionFailure) {
		t.Fatalf("error = %v, want ErrExecutionFailure", err)
	}

	call, _ := f.coord.Get(ctx, id)
	if call.State != toolcall.StateFailed {
		t.Errorf("state = %s, want failed", call.State)
	}

	// No automatic retry: the call is terminal.
	if _, err := f.coord.Execute(ctx, id, token.ID); err == nil {
		t.Error("re-execute of failed call should error")
	}
	if f.gateway.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.callCount())
	}
}

func TestPolicyEngineErrorFailsCall(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionAutoApprove)
	f.engine.err = errors.New("rule source offline")
	ctx := context.Background()

	id, err := f.coord.Propose(ctx, "write_file", writeArgs())
	if err == nil {
		t.Fatal("Propose with a broken engine should error")
	}

	// The call must not be stranded in dry_run: the abort is terminal and
	// audited.
	call, gerr := f.coord.Get(ctx, id)
	if gerr != nil {
		t.Fatalf("Get: %v", gerr)
	}
	if call.State != toolcall.StateFailed {
		t.Errorf("state = %s, want failed", call.State)
	}
	if call.FailureCause == "" {
		t.Error("failure cause not recorded")
	}
	if f.gateway.callCount() != 0 {
		t.Error("failed call reached the gateway")
	}

	want := []string{audit.TransitionDryRun, audit.TransitionFailed}
	got := transitionsFor(t, f, id)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestAuditWriteFailureAbortsTransition(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	id, _ := f.coord.Propose(ctx, "write_file", writeArgs())

	f.store.fail = true
	_, err := f.coord.Approve(ctx, id, "alice")
	if !errors.Is(err, audit.ErrWriteFailure) {
		t.Fatalf("error = %v, want ErrWriteFailure", err)
	}

	// The transition must not have happened: the call is still pending and
	// approvable once the store recovers.
	call, _ := f.coord.Get(ctx, id)
	if call.State != toolcall.StatePendingApproval {
		t.Errorf("state = %s, want pending_approval", call.State)
	}

	f.store.fail = false
	if _, err := f.coord.Approve(ctx, id, "alice"); err != nil {
		t.Errorf("Approve after recovery: %v", err)
	}
}

func TestSweepExpiresStaleCalls(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	pendingID, _ := f.coord.Propose(ctx, "write_file", writeArgs())

	approvedID, _ := f.coord.Propose(ctx, "write_file", writeArgs())
	token, _ := f.coord.Approve(ctx, approvedID, "alice")

	// Nothing stale yet.
	if n := f.coord.Sweep(ctx); n != 0 {
		t.Errorf("early Sweep expired %d calls", n)
	}

	f.clock.advance(DefaultPendingTTL + time.Minute)
	if n := f.coord.Sweep(ctx); n != 2 {
		t.Errorf("Sweep expired %d calls, want 2", n)
	}

	for _, id := range []string{pendingID, approvedID} {
		call, _ := f.coord.Get(ctx, id)
		if call.State != toolcall.StateExpired {
			t.Errorf("call %s state = %s, want expired", id, call.State)
		}
	}

	// The expired approval's token must not execute.
	if _, err := f.coord.Execute(ctx, approvedID, token.ID); err == nil {
		t.Error("execute after expiry should fail")
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	f := newCoordFixture(t, policy.ActionRequireApproval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coord.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestSimulatorErrorIsAdvisory(t *testing.T) {
	t.Parallel()
	f := newCoordFixture(t, policy.ActionRequireApproval)
	ctx := context.Background()

	registry, _ := catalog.NewRegistry(catalog.BuiltinDescriptors())
	store := &flakyStore{AuditStore: memory.NewAuditStore()}
	auditor, _ := NewAuditService(ctx, store, slog.New(slog.DiscardHandler))
	coord := NewCoordinator(CoordinatorDeps{
		Registry:  registry,
		Engine:    f.engine,
		Simulator: &fakeSimulator{err: errors.New("sandbox offline")},
		Gateway:   f.gateway,
		Snapshots: f.snapshots,
		Auditor:   auditor,
		Logger:    slog.New(slog.DiscardHandler),
	})

	id, err := coord.Propose(ctx, "write_file", writeArgs())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	call, _ := coord.Get(ctx, id)
	if call.State != toolcall.StatePendingApproval {
		t.Errorf("state = %s, want pending_approval", call.State)
	}
	if call.Prediction == nil || call.Prediction.Summary == "" {
		t.Error("simulator failure should still record a prediction note")
	}
}
