package checks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"unrollcheck/internal/core"
)

// Sink receives every result as soon as its check finishes.
// Implementations must be safe for concurrent use.
type Sink interface {
	Record(r Result)
}

// Executor runs a fixed list of checks.
//
// All state reads and writes are guarded by a single mutex; checks execute
// outside the lock.
type Executor struct {
	Checks []Check
	Runner CheckRunner

	// Sink is optional.
	Sink Sink

	mu      sync.Mutex
	state   RunState
	results map[string]Result
	order   []string
}

// NewExecutor creates an executor with every check PENDING.
func NewExecutor(checks []Check, runner CheckRunner) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	state := make(RunState, len(checks))
	for _, c := range checks {
		if _, dup := state[c.ID]; dup {
			return nil, fmt.Errorf("duplicate check %q", c.ID)
		}
		state[c.ID] = CheckPending
	}
	return &Executor{
		Checks:  checks,
		Runner:  runner,
		state:   state,
		results: make(map[string]Result, len(checks)),
	}, nil
}

// StateSnapshot returns a copy of the current run state.
func (e *Executor) StateSnapshot() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(RunState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// RunSerial runs the checks one at a time in enumeration order.
func (e *Executor) RunSerial(ctx context.Context) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, c := range e.Checks {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}
		if err := e.runOne(ctx, c); err != nil {
			return nil, err
		}
	}
	return e.finish(ctx)
}

// RunParallel runs up to concurrency checks at once.
//
// Checks are dispatched in enumeration order; the returned Results are in
// enumeration order whatever the completion order was.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, c := range e.Checks {
		if gctx.Err() != nil {
			break
		}
		c := c
		g.Go(func() error {
			return e.runOne(gctx, c)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return e.finish(ctx)
}

func (e *Executor) runOne(ctx context.Context, c Check) error {
	e.mu.Lock()
	if err := Transition(e.state, c.ID, CheckPending, CheckRunning); err != nil {
		e.mu.Unlock()
		return err
	}
	e.order = append(e.order, c.ID)
	e.mu.Unlock()

	res := e.runCheck(ctx, c)
	res.ID = c.ID
	if res.State != CheckPassed {
		res.State = CheckFailed
	}

	e.mu.Lock()
	if err := Transition(e.state, c.ID, CheckRunning, res.State); err != nil {
		e.mu.Unlock()
		return err
	}
	e.results[c.ID] = res
	e.mu.Unlock()

	if e.Sink != nil {
		e.Sink.Record(res)
	}
	return nil
}

// runCheck turns a panic inside the runner into a failed infra result, so one
// bad check cannot take down the worker pool and skip temp-file cleanup.
func (e *Executor) runCheck(ctx context.Context, c Check) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := &core.InfraError{Code: "panic", Message: fmt.Sprint(r)}
			res = Result{
				ID:       c.ID,
				Kind:     c.Kind,
				Case:     c.Case.Name,
				Factor:   c.Factor,
				State:    CheckFailed,
				Category: core.Category(err),
				Message:  failureMessage(c, core.Category(err), err),
				Err:      err,
			}
		}
	}()
	return e.Runner.Run(ctx, c)
}

func (e *Executor) finish(ctx context.Context) (*RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution cancelled: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]Result, 0, len(e.Checks))
	for _, c := range e.Checks {
		res, ok := e.results[c.ID]
		if !ok {
			return nil, fmt.Errorf("check %q did not finish", c.ID)
		}
		results = append(results, res)
	}
	final := make(RunState, len(e.state))
	for k, v := range e.state {
		final[k] = v
	}
	return &RunResult{
		Results:        results,
		ExecutionOrder: append([]string(nil), e.order...),
		FinalState:     final,
	}, nil
}
