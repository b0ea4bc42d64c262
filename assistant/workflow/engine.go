// Package workflow dispatches classified tasks to their handlers under
// one of three execution shapes: sequential, parallel, or hierarchical.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	logx "github.com/verdantlabs/greencart/pkg/logger"
)

const (
	defaultCallTimeout     = 10 * time.Second
	defaultParallelTimeout = 15 * time.Second

	// maxFollowUpDepth bounds hierarchical dispatch: the root task plus
	// at most two levels of follow-ups.
	maxFollowUpDepth = 3
)

// Option customizes Engine.
type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

func WithParallelTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.parallelTimeout = d
		}
	}
}

// Engine executes task descriptors against the registry. It owns the
// retry policy and both timeout budgets; handlers stay oblivious to all
// three.
type Engine struct {
	registry        contractx.Registry
	policy          Policy
	callTimeout     time.Duration
	parallelTimeout time.Duration
	log             zerolog.Logger
}

func NewEngine(reg contractx.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("nil registry")
	}
	e := &Engine{
		registry:        reg,
		policy:          DefaultPolicy(),
		callTimeout:     defaultCallTimeout,
		parallelTimeout: defaultParallelTimeout,
		log:             logx.Component("workflow"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if err := e.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	return e, nil
}

// Execute runs the task to completion and aggregates every handler
// result, failures included. The aggregate is always returned; callers
// inspect Failed and Partial rather than an error.
func (e *Engine) Execute(ctx context.Context, task contractx.TaskDescriptor, sessionID string) contractx.AggregatedResult {
	agg := contractx.AggregatedResult{
		TaskID:   task.ID,
		Intent:   task.Intent,
		Workflow: task.Workflow,
	}

	names := task.HandlerNames()
	if len(names) == 0 {
		agg.Results = append(agg.Results, e.failure("", fmt.Errorf("%w: task %s names no handlers", contractx.ErrNoCapableHandler, task.ID)))
		e.summarize(&agg, 0)
		return agg
	}

	switch task.Workflow {
	case contractx.WorkflowParallel:
		e.runParallel(ctx, task, sessionID, &agg)
	case contractx.WorkflowHierarchical:
		e.runHierarchical(ctx, task, sessionID, &agg, 0)
	default:
		e.runSequential(ctx, task, sessionID, &agg)
	}

	e.summarize(&agg, len(names))
	return agg
}

/* ------------------------------- sequential ------------------------------- */

// runSequential dispatches handlers in declared order, feeding each one
// the previous result. The first failure aborts the rest of the chain.
func (e *Engine) runSequential(ctx context.Context, task contractx.TaskDescriptor, sessionID string, agg *contractx.AggregatedResult) {
	var prev *contractx.HandlerResult
	for _, name := range task.HandlerNames() {
		res := e.dispatch(ctx, name, contractx.HandlerRequest{
			Task:      task,
			SessionID: sessionID,
			Previous:  prev,
		})
		agg.Results = append(agg.Results, res)
		if res.Err != "" {
			e.log.Warn().
				Str("task", task.ID).
				Str("handler", name).
				Str("error", res.Err).
				Msg("sequential workflow aborted")
			return
		}
		carried := res
		prev = &carried
	}
}

/* -------------------------------- parallel -------------------------------- */

// runParallel fans handlers out under one shared deadline. Each failure
// stays isolated to its own slot; results keep declared order no matter
// which goroutine finishes first.
func (e *Engine) runParallel(parent context.Context, task contractx.TaskDescriptor, sessionID string, agg *contractx.AggregatedResult) {
	names := task.HandlerNames()

	ctx, cancel := context.WithTimeout(parent, e.parallelTimeout)
	defer cancel()

	type slot struct {
		idx int
		res contractx.HandlerResult
	}
	resultsCh := make(chan slot, len(names))
	for i, name := range names {
		go func(idx int, name string) {
			resultsCh <- slot{
				idx: idx,
				res: e.dispatch(ctx, name, contractx.HandlerRequest{Task: task, SessionID: sessionID}),
			}
		}(i, name)
	}

	ordered := make([]contractx.HandlerResult, len(names))
	for range names {
		item := <-resultsCh
		ordered[item.idx] = item.res
	}
	agg.Results = append(agg.Results, ordered...)
}

/* ------------------------------ hierarchical ------------------------------ */

// runHierarchical dispatches the primary handler, then recursively
// dispatches every follow-up it signals. Follow-ups past the depth cap
// are dropped, never executed.
func (e *Engine) runHierarchical(ctx context.Context, task contractx.TaskDescriptor, sessionID string, agg *contractx.AggregatedResult, depth int) {
	res := e.dispatch(ctx, task.PrimaryHandler, contractx.HandlerRequest{Task: task, SessionID: sessionID})
	agg.Results = append(agg.Results, res)
	if res.Err != "" || len(res.FollowUps) == 0 {
		return
	}
	if depth+1 >= maxFollowUpDepth {
		e.log.Warn().
			Str("task", task.ID).
			Int("depth", depth).
			Int("dropped", len(res.FollowUps)).
			Msg("follow-up depth cap reached")
		return
	}

	for i, fu := range res.FollowUps {
		sub := contractx.TaskDescriptor{
			ID:             fmt.Sprintf("%s/%d", task.ID, i),
			OriginText:     task.OriginText,
			Intent:         fu.Intent,
			Parameters:     fu.Parameters,
			Workflow:       contractx.WorkflowHierarchical,
			PrimaryHandler: fu.Handler,
		}
		if sub.PrimaryHandler == "" {
			cards := e.registry.FindByCapability(string(fu.Intent))
			if len(cards) == 0 {
				agg.Results = append(agg.Results, e.failure("", fmt.Errorf("%w: follow-up intent %s", contractx.ErrNoCapableHandler, fu.Intent)))
				continue
			}
			sub.PrimaryHandler = cards[0].Name
		}
		e.runHierarchical(ctx, sub, sessionID, agg, depth+1)
	}
}

/* -------------------------------- dispatch -------------------------------- */

// dispatch resolves one handler and invokes it under the retry policy.
// Transient failures are retried with backoff; everything else surfaces
// on the first attempt.
func (e *Engine) dispatch(ctx context.Context, name string, req contractx.HandlerRequest) contractx.HandlerResult {
	if name == "" {
		return e.failure(name, fmt.Errorf("%w: empty handler name", contractx.ErrNoCapableHandler))
	}
	h, err := e.registry.Resolve(name)
	if err != nil {
		return e.failure(name, err)
	}

	attempts := e.policy.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := e.policy.Delay(attempt - 1)
			e.log.Warn().
				Str("handler", name).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retrying handler after transient failure")
			if err := sleepCtx(ctx, delay); err != nil {
				return e.failure(name, err)
			}
		}

		res, err := e.invoke(ctx, h, req)
		if err == nil {
			if res.Handler == "" {
				res.Handler = name
			}
			return res
		}
		lastErr = err
		if !contractx.IsTransient(err) {
			return e.failure(name, err)
		}
	}
	return e.failure(name, fmt.Errorf("%w: %s gave up after %d attempts: %w", contractx.ErrRetryExhausted, name, attempts, lastErr))
}

// invoke runs one handler call under the per-call timeout. A call that
// outlives its budget fails with ErrHandlerTimeout and flags the handler
// degraded; a call cut short by the caller's own context fails with that
// context's error instead.
func (e *Engine) invoke(parent context.Context, h contractx.Handler, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	ctx := parent
	cancel := func() {}
	if e.callTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, e.callTimeout)
	}
	defer cancel()

	type outcome struct {
		res contractx.HandlerResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.Handle(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return contractx.HandlerResult{}, err
		}
		e.registry.MarkDegraded(h.Name())
		return contractx.HandlerResult{}, fmt.Errorf("%w: %s exceeded %s", contractx.ErrHandlerTimeout, h.Name(), e.callTimeout)
	}
}

func (e *Engine) failure(name string, err error) contractx.HandlerResult {
	return contractx.HandlerResult{
		Handler:  name,
		Err:      err.Error(),
		ErrKind:  contractx.Kind(err),
		Degraded: errors.Is(err, contractx.ErrHandlerTimeout),
	}
}

// summarize fills the aggregate's failure bookkeeping. Partial covers an
// aborted plan, where planned handlers never ran, and a mixed outcome;
// a plan whose every handler ran and failed is a total failure, not a
// partial one.
func (e *Engine) summarize(agg *contractx.AggregatedResult, planned int) {
	succeeded := 0
	for _, r := range agg.Results {
		if r.Err != "" {
			agg.Failed = append(agg.Failed, r.Handler)
		} else {
			succeeded++
		}
		if r.Degraded {
			agg.Degraded = append(agg.Degraded, r.Handler)
		}
	}
	agg.Partial = len(agg.Results) < planned || (succeeded > 0 && len(agg.Failed) > 0)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
