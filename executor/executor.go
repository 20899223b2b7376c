package executor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openweavr/workflow-engine/common"
	"github.com/openweavr/workflow-engine/interpolate"
	"github.com/openweavr/workflow-engine/pkg/logger"
	"github.com/openweavr/workflow-engine/registry"
	"github.com/openweavr/workflow-engine/schemaval"
	"github.com/openweavr/workflow-engine/workflow"
)

// Options configures an Executor. The zero value is usable: no extra
// environment overlay, wall-clock timestamps.
type Options struct {
	// DefaultEnv is merged under the process environment and under the
	// workflow's own `env` block (workflow wins on conflict).
	DefaultEnv common.EnvMap
	// Now, if set, replaces time.Now for timestamping — for tests that
	// need deterministic StartedAt/CompletedAt values.
	Now func() time.Time
}

// Executor runs workflows against a shared Registry, dispatching ready
// steps concurrently and emitting lifecycle events to registered
// Listeners.
type Executor struct {
	registry  *registry.Registry
	validator *schemaval.Validator
	opts      Options

	mu        sync.Mutex
	listeners map[EventName][]Listener
}

// New constructs an Executor backed by reg.
func New(reg *registry.Registry, opts Options) *Executor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		registry:  reg,
		validator: schemaval.New(),
		opts:      opts,
		listeners: make(map[EventName][]Listener),
	}
}

// RegisterPlugin delegates to the underlying Registry.
func (e *Executor) RegisterPlugin(p *registry.Plugin) error {
	return e.registry.Register(p)
}

// On registers fn to be invoked, synchronously and in registration order,
// every time an event named name is raised.
func (e *Executor) On(name EventName, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[name] = append(e.listeners[name], fn)
}

func (e *Executor) emit(ev Event) {
	e.mu.Lock()
	listeners := append([]Listener(nil), e.listeners[ev.Name]...)
	e.mu.Unlock()

	for _, l := range listeners {
		invokeListener(l, ev)
	}
}

func invokeListener(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event listener panicked", "event", ev.Name, "error", r)
		}
	}()
	l(ev)
}

type completion struct {
	stepID string
	result *StepResult
}

// Execute runs wf to completion and returns its terminal WorkflowRun. It
// blocks until every dispatched step has reached a terminal state. ctx is
// passed to each action invocation and ends a retry backoff early, so no
// further attempt of a failing step starts once it is canceled. The
// executor does not otherwise watch ctx: an in-flight action runs until it
// returns (unless it checks ctx itself) and ready steps are still
// dispatched.
func (e *Executor) Execute(ctx context.Context, wf *workflow.Workflow, triggerData common.Input) (*WorkflowRun, error) {
	if wf == nil {
		return nil, fmt.Errorf("executor: workflow is nil")
	}

	run := &WorkflowRun{
		ID:           common.NewRunID(),
		WorkflowName: wf.Name,
		Status:       RunRunning,
		TriggerData:  triggerData,
		Steps:        make(map[string]*StepResult, len(wf.Steps)),
		StartedAt:    e.opts.Now(),
	}

	mergedEnv, err := e.mergedEnv(wf)
	if err != nil {
		return nil, err
	}

	e.emit(Event{Name: EventWorkflowStarted, RunID: run.ID, WorkflowName: wf.Name, Timestamp: e.opts.Now()})

	remaining := make(map[string]int, len(wf.Steps))
	dependents := make(map[string][]string, len(wf.Steps))
	for _, s := range wf.Steps {
		remaining[s.ID] = len(s.DependsOn)
		run.Steps[s.ID] = &StepResult{ID: s.ID, Status: StepPending}
	}
	for _, s := range wf.Steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []string
	for _, s := range wf.Steps {
		if remaining[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	completions := make(chan completion)
	inFlight := 0
	failed := false

	for {
		if !failed {
			for _, id := range ready {
				step, _ := wf.StepByID(id)
				e.dispatch(ctx, wf, run, step, triggerData, mergedEnv, completions)
				inFlight++
			}
		}
		ready = ready[:0]

		if inFlight == 0 {
			break
		}

		c := <-completions
		inFlight--
		run.Steps[c.stepID] = c.result

		if c.result.Status == StepFailed {
			failed = true
			continue
		}
		for _, dep := range dependents[c.stepID] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	now := e.opts.Now()
	run.CompletedAt = &now
	if failed {
		run.Status = RunFailed
		run.Error = firstStepError(run)
		e.emit(Event{Name: EventWorkflowFailed, RunID: run.ID, WorkflowName: wf.Name, Error: run.Error, Timestamp: now})
	} else {
		run.Status = RunCompleted
		e.emit(Event{Name: EventWorkflowCompleted, RunID: run.ID, WorkflowName: wf.Name, Timestamp: now})
	}

	return run, nil
}

func firstStepError(run *WorkflowRun) string {
	for _, id := range sortedStepIDs(run) {
		if r := run.Steps[id]; r.Status == StepFailed {
			return r.Error
		}
	}
	return ""
}

func sortedStepIDs(run *WorkflowRun) []string {
	ids := make([]string, 0, len(run.Steps))
	for id := range run.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// dispatch marks step running, emits step.started, and spawns the
// goroutine that runs it to completion and reports back on completions.
// It is called only from Execute's single coordinating goroutine, so the
// steps-output snapshot it builds here is race-free.
func (e *Executor) dispatch(
	ctx context.Context,
	wf *workflow.Workflow,
	run *WorkflowRun,
	step *workflow.Step,
	triggerData common.Input,
	env common.EnvMap,
	completions chan<- completion,
) {
	started := e.opts.Now()
	run.Steps[step.ID].Status = StepRunning
	run.Steps[step.ID].StartedAt = &started
	e.emit(Event{Name: EventStepStarted, RunID: run.ID, WorkflowName: wf.Name, StepID: step.ID, Timestamp: started})

	stepsSnapshot := snapshotOutputs(run)

	go func() {
		result := e.runStep(ctx, wf, run, step, triggerData, stepsSnapshot, env, started)
		e.emitStepTerminal(run, wf.Name, result)
		completions <- completion{stepID: step.ID, result: result}
	}()
}

func (e *Executor) emitStepTerminal(run *WorkflowRun, workflowName string, result *StepResult) {
	ts := e.opts.Now()
	if result.CompletedAt != nil {
		ts = *result.CompletedAt
	}
	name := EventStepCompleted
	if result.Status == StepFailed {
		name = EventStepFailed
	}
	e.emit(Event{
		Name:         name,
		RunID:        run.ID,
		WorkflowName: workflowName,
		StepID:       result.ID,
		Status:       string(result.Status),
		Output:       result.Output,
		Error:        result.Error,
		Timestamp:    ts,
	})
}

func snapshotOutputs(run *WorkflowRun) map[string]common.Output {
	out := make(map[string]common.Output, len(run.Steps))
	for id, r := range run.Steps {
		if r.Status == StepCompleted || r.Status == StepSkipped {
			out[id] = r.Output
		}
	}
	return out
}

// runStep executes the per-step pipeline described in the scheduling
// algorithm: condition check, config materialization, action resolution,
// schema validation, then invocation with retry. It never panics: action
// panics are recovered and converted into a retryable ActionError.
func (e *Executor) runStep(
	ctx context.Context,
	wf *workflow.Workflow,
	run *WorkflowRun,
	step *workflow.Step,
	triggerData common.Input,
	stepsSnapshot map[string]common.Output,
	env common.EnvMap,
	startedAt time.Time,
) *StepResult {
	ictx := interpolate.Context{
		Trigger:     triggerData,
		Steps:       stepsSnapshot,
		Env:         env,
		CurrentDate: e.opts.Now(),
	}

	if step.If != "" {
		ok, err := interpolate.EvaluateIf(ictx, step.If)
		if err == nil && !ok {
			return e.finish(step.ID, StepSkipped, nil, "", startedAt)
		}
	}

	config := interpolate.Resolve(ictx, map[string]any(step.Config))
	configMap, _ := config.(map[string]any)

	action, ok := e.registry.GetAction(step.Action)
	if !ok {
		return e.finish(step.ID, StepFailed, nil, (&UnknownActionError{Action: step.Action}).Error(), startedAt)
	}

	if len(action.Schema) > 0 {
		if err := e.validator.Validate(step.Action, action.Schema, configMap); err != nil {
			return e.finish(step.ID, StepFailed, nil, (&SchemaError{Action: step.Action, Err: err}).Error(), startedAt)
		}
	}

	policy := workflow.DefaultRetryPolicy()
	if step.Retry != nil {
		policy = *step.Retry
	}

	actx := registry.ActionContext{
		WorkflowName: wf.Name,
		RunID:        run.ID,
		StepID:       step.ID,
		Config:       common.Input(configMap),
		Trigger:      triggerData,
		Steps:        stepsSnapshot,
		Env:          env,
		Log: func(msg string, keyvals ...any) {
			logger.With("runId", run.ID, "stepId", step.ID).Info(msg, keyvals...)
		},
	}

	output, lastErr := e.invokeWithRetry(ctx, action, actx, step, policy)
	if lastErr != nil {
		return e.finish(step.ID, StepFailed, nil, lastErr.Error(), startedAt)
	}
	return e.finish(step.ID, StepCompleted, output, "", startedAt)
}

type actionOutcome struct {
	output common.Output
	err    error
}

func (e *Executor) invokeWithRetry(
	ctx context.Context,
	action *registry.ActionDef,
	actx registry.ActionContext,
	step *workflow.Step,
	policy workflow.RetryPolicy,
) (common.Output, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		outcome := e.invokeOnce(ctx, action, actx, step)
		if outcome.err == nil {
			return outcome.output, nil
		}
		lastErr = &ActionError{StepID: step.ID, Attempt: attempt, Err: outcome.err}

		if attempt == policy.Attempts {
			break
		}
		if !sleepOrDone(ctx, time.Duration(policy.DelayMs)*time.Millisecond) {
			break
		}
	}
	return nil, lastErr
}

func (e *Executor) invokeOnce(ctx context.Context, action *registry.ActionDef, actx registry.ActionContext, step *workflow.Step) actionOutcome {
	resultCh := make(chan actionOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- actionOutcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()
		out, err := action.Execute(ctx, actx)
		resultCh <- actionOutcome{output: out, err: err}
	}()

	if step.TimeoutMs == nil {
		return <-resultCh
	}

	select {
	case outcome := <-resultCh:
		return outcome
	case <-time.After(time.Duration(*step.TimeoutMs) * time.Millisecond):
		// The goroutine above is left to finish on its own; its result
		// is discarded, never interrupted.
		return actionOutcome{err: &TimeoutError{StepID: step.ID, TimeoutMs: *step.TimeoutMs}}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) finish(stepID string, status StepStatus, output common.Output, errMsg string, startedAt time.Time) *StepResult {
	completed := e.opts.Now()
	return &StepResult{
		ID:          stepID,
		Status:      status,
		Output:      output,
		Error:       errMsg,
		StartedAt:   &startedAt,
		CompletedAt: &completed,
		DurationMs:  completed.Sub(startedAt).Milliseconds(),
	}
}

func (e *Executor) mergedEnv(wf *workflow.Workflow) (common.EnvMap, error) {
	process := make(common.EnvMap)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			process[parts[0]] = parts[1]
		}
	}
	merged, err := e.opts.DefaultEnv.Merge(process)
	if err != nil {
		return nil, fmt.Errorf("executor: merging default env: %w", err)
	}
	merged, err = merged.Merge(wf.GetEnv())
	if err != nil {
		return nil, fmt.Errorf("executor: merging workflow env: %w", err)
	}
	return merged, nil
}
