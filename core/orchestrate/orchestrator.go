package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sapsan-iro/core/adapters"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

// ErrRollbackIncomplete means a critical failure triggered rollback and at
// least one compensating call failed. The affected systems are in an unknown
// state; the incident must go to manual remediation.
var ErrRollbackIncomplete = errors.New("rollback incomplete")

// ExecutionResult summarizes one plan run. Results carry the persisted rows
// including completion_seq, which records the order actions finished in.
type ExecutionResult struct {
	Results         []store.ActionResult
	CriticalFailure bool
	FailedActionID  string
	RolledBack      bool
}

func (r *ExecutionResult) AllSucceeded() bool {
	for _, res := range r.Results {
		if res.Status != store.ActionStatusSucceeded {
			return false
		}
	}
	return len(r.Results) > 0
}

// ExternalCalls counts adapter invocations including rollbacks, for the
// impact tracker's investment figure.
func (r *ExecutionResult) ExternalCalls() int64 {
	var calls int64
	for _, res := range r.Results {
		switch res.Status {
		case store.ActionStatusSucceeded, store.ActionStatusFailed:
			calls++
		case store.ActionStatusRolledBack:
			calls += 2
		}
	}
	return calls
}

type Orchestrator struct {
	registry    *adapters.Registry
	plans       store.PlansStore
	maxParallel int
	logger      *utils.Logger
}

func NewOrchestrator(registry *adapters.Registry, plans store.PlansStore, maxParallel int, logger *utils.Logger) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Orchestrator{registry: registry, plans: plans, maxParallel: maxParallel, logger: logger}
}

// runState tracks one execution under a single mutex. completionSeq is a
// plan-global counter; the succeeded list in seq order is exactly what
// rollback walks in reverse.
type runState struct {
	mu        sync.Mutex
	status    map[string]string
	tokens    map[string]string
	types     map[string]string
	seq       int64
	succeeded []string
	results   []store.ActionResult
	critical  string
}

// Execute runs the plan's actions respecting depends_on edges. Independent
// ready actions run concurrently, bounded by maxParallel. An action whose
// dependency failed or was skipped is skipped. The first critical failure
// halts dispatch, cancels in-flight calls and rolls back every succeeded
// action in reverse completion order.
func (o *Orchestrator) Execute(ctx context.Context, plan *store.DecisionPlan) (*ExecutionResult, error) {
	st := &runState{
		status: make(map[string]string, len(plan.Actions)),
		tokens: make(map[string]string, len(plan.Actions)),
		types:  make(map[string]string, len(plan.Actions)),
	}
	for _, act := range plan.Actions {
		st.types[act.ID] = act.Type
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		ready, blocked := o.partition(plan, st)
		for _, act := range blocked {
			o.record(ctx, st, plan.ID, act.ID, store.ActionStatusSkipped, 0, "", "dependency not satisfied")
		}
		if st.criticalFailure() != "" {
			break
		}
		if len(ready) == 0 {
			if len(blocked) > 0 {
				// Skipping those may cascade to their dependents.
				continue
			}
			// Remaining pending actions form a cycle or reference unknown
			// dependencies; they can never become ready.
			if stuck := o.pending(plan, st); len(stuck) > 0 {
				for _, act := range stuck {
					o.record(ctx, st, plan.ID, act.ID, store.ActionStatusSkipped, 0, "", "unresolvable dependency")
				}
			}
			break
		}

		var g errgroup.Group
		g.SetLimit(o.maxParallel)
		for _, act := range ready {
			action := act
			g.Go(func() error {
				o.runAction(runCtx, cancel, st, plan.ID, action)
				return nil
			})
		}
		_ = g.Wait()
		if st.criticalFailure() != "" {
			break
		}
	}

	result := &ExecutionResult{
		Results:        st.snapshotResults(),
		FailedActionID: st.criticalFailure(),
	}
	if result.FailedActionID != "" {
		result.CriticalFailure = true
		if err := o.rollback(ctx, st, plan.ID); err != nil {
			result.Results = st.snapshotResults()
			return result, err
		}
		result.RolledBack = true
		result.Results = st.snapshotResults()
	}
	return result, nil
}

// partition splits not-yet-run actions into ready (all deps succeeded) and
// blocked (some dep terminally failed or skipped).
func (o *Orchestrator) partition(plan *store.DecisionPlan, st *runState) (ready, blocked []store.Action) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, act := range plan.Actions {
		if _, done := st.status[act.ID]; done {
			continue
		}
		depsOK := true
		depsDead := false
		for _, dep := range act.DependsOn {
			switch st.status[dep] {
			case store.ActionStatusSucceeded:
			case store.ActionStatusFailed, store.ActionStatusSkipped, store.ActionStatusRolledBack:
				depsDead = true
			default:
				depsOK = false
			}
		}
		if depsDead {
			blocked = append(blocked, act)
		} else if depsOK {
			ready = append(ready, act)
		}
	}
	return ready, blocked
}

func (o *Orchestrator) pending(plan *store.DecisionPlan, st *runState) []store.Action {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []store.Action
	for _, act := range plan.Actions {
		if _, done := st.status[act.ID]; !done {
			out = append(out, act)
		}
	}
	return out
}

func (o *Orchestrator) runAction(ctx context.Context, cancel context.CancelFunc, st *runState, planID string, action store.Action) {
	adapter, err := o.registry.Resolve(action.Type)
	if err != nil {
		o.finishFailed(ctx, cancel, st, planID, action, 0, err)
		return
	}
	actCtx, actCancel := context.WithTimeout(ctx, adapter.Timeout())
	defer actCancel()

	type outcome struct {
		res *adapters.ExecResult
		err error
	}
	started := time.Now()
	done := make(chan outcome, 1)
	// The declared timeout is enforced here: an adapter that never checks
	// its context is abandoned once the deadline elapses.
	go func() {
		res, err := adapter.Execute(actCtx, action)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(started).Milliseconds()
		if out.err != nil {
			o.finishFailed(ctx, cancel, st, planID, action, duration, out.err)
			return
		}
		o.record(ctx, st, planID, action.ID, store.ActionStatusSucceeded, duration, out.res.RollbackToken, "")
	case <-actCtx.Done():
		duration := time.Since(started).Milliseconds()
		cause := actCtx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("no response within %s", adapter.Timeout())
		}
		o.finishFailed(ctx, cancel, st, planID, action, duration, cause)
	}
}

func (o *Orchestrator) finishFailed(ctx context.Context, cancel context.CancelFunc, st *runState, planID string, action store.Action, durationMS int64, cause error) {
	o.logger.Errorf("orchestrate: plan %s action %s (%s) failed: %v", planID, action.ID, action.Type, cause)
	o.record(ctx, st, planID, action.ID, store.ActionStatusFailed, durationMS, "", cause.Error())
	if action.Critical {
		st.mu.Lock()
		if st.critical == "" {
			st.critical = action.ID
		}
		st.mu.Unlock()
		cancel()
	}
}

// record assigns the completion sequence number and persists the result row.
// Persistence uses the parent context so results survive the run context
// being cancelled by a critical failure.
func (o *Orchestrator) record(ctx context.Context, st *runState, planID, actionID, status string, durationMS int64, token, errDetail string) {
	st.mu.Lock()
	st.seq++
	seq := st.seq
	st.status[actionID] = status
	if status == store.ActionStatusSucceeded {
		st.succeeded = append(st.succeeded, actionID)
		st.tokens[actionID] = token
	}
	result := store.ActionResult{
		PlanID:        planID,
		ActionID:      actionID,
		Status:        status,
		DurationMS:    durationMS,
		RollbackToken: token,
		ErrorDetail:   errDetail,
		CompletionSeq: seq,
	}
	st.mu.Unlock()

	if err := o.plans.SaveActionResult(context.WithoutCancel(ctx), &result); err != nil {
		o.logger.Errorf("orchestrate: persist result for action %s: %v", actionID, err)
	}
	st.mu.Lock()
	st.results = append(st.results, result)
	st.mu.Unlock()
}

// rollback undoes every succeeded action in reverse completion order. It
// keeps going past individual failures so as much as possible is undone, but
// any failure makes the whole rollback incomplete.
func (o *Orchestrator) rollback(ctx context.Context, st *runState, planID string) error {
	st.mu.Lock()
	order := append([]string{}, st.succeeded...)
	tokens := make(map[string]string, len(st.tokens))
	for k, v := range st.tokens {
		tokens[k] = v
	}
	st.mu.Unlock()

	incomplete := false
	for i := len(order) - 1; i >= 0; i-- {
		actionID := order[i]
		token := tokens[actionID]
		if token == "" {
			o.logger.Errorf("orchestrate: plan %s action %s has no rollback token", planID, actionID)
			incomplete = true
			continue
		}
		adapter, err := o.resolveByResult(st, actionID)
		if err != nil {
			incomplete = true
			continue
		}
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), adapter.Timeout())
		err = adapter.Rollback(rctx, token)
		rcancel()
		if err != nil {
			o.logger.Errorf("orchestrate: plan %s rollback of action %s failed: %v", planID, actionID, err)
			incomplete = true
			continue
		}
		o.markRolledBack(ctx, st, actionID)
	}
	if incomplete {
		return fmt.Errorf("plan %s: %w", planID, ErrRollbackIncomplete)
	}
	return nil
}

func (o *Orchestrator) resolveByResult(st *runState, actionID string) (adapters.ToolAdapter, error) {
	st.mu.Lock()
	actionType := st.types[actionID]
	st.mu.Unlock()
	return o.registry.Resolve(actionType)
}

func (o *Orchestrator) markRolledBack(ctx context.Context, st *runState, actionID string) {
	st.mu.Lock()
	st.status[actionID] = store.ActionStatusRolledBack
	var row *store.ActionResult
	for i := range st.results {
		if st.results[i].ActionID == actionID {
			st.results[i].Status = store.ActionStatusRolledBack
			row = &st.results[i]
		}
	}
	var copyRow store.ActionResult
	if row != nil {
		copyRow = *row
	}
	st.mu.Unlock()

	if row != nil {
		if err := o.plans.UpdateActionResult(context.WithoutCancel(ctx), &copyRow); err != nil {
			o.logger.Errorf("orchestrate: persist rollback of action %s: %v", actionID, err)
		}
	}
}

func (st *runState) criticalFailure() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.critical
}

func (st *runState) snapshotResults() []store.ActionResult {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := append([]store.ActionResult{}, st.results...)
	sort.Slice(out, func(i, j int) bool { return out[i].CompletionSeq < out[j].CompletionSeq })
	return out
}
