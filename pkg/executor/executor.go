// Package executor runs deployment operations across an environment's
// modules in dependency order, with per-module locking, dependency output
// resolution and append-only history records.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/graph"
	"github.com/stackforge/stackctl/pkg/history"
	"github.com/stackforge/stackctl/pkg/lock"
	"github.com/stackforge/stackctl/pkg/module"
	"github.com/stackforge/stackctl/pkg/outputs"
	"github.com/stackforge/stackctl/pkg/provisioner"
	"github.com/stackforge/stackctl/pkg/state"
)

// Status is a module's position in the deployment state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLocking   Status = "locking"
	StatusResolving Status = "resolving"
	StatusExecuting Status = "executing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// ModuleResult is the per-module outcome of one deployment run.
type ModuleResult struct {
	Module   string
	Status   Status
	Err      error
	Outputs  map[string]interface{}
	Duration time.Duration

	// LockRecovered is true when acquiring this module's lock took over an
	// expired record.
	LockRecovered bool

	// MockedInputs is true when any resolved dependency value was a
	// placeholder rather than recorded real state.
	MockedInputs bool
}

// Report is the outcome of one environment deployment run.
type Report struct {
	Environment string
	Operation   module.Operation
	DryRun      bool

	// Version is the history record version appended for this run, or 0
	// when no record was written.
	Version int

	Modules   map[string]*ModuleResult
	StartedAt time.Time
	Duration  time.Duration
}

// Failed reports whether any module failed.
func (r *Report) Failed() bool {
	for _, res := range r.Modules {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Options tunes one deployment run.
type Options struct {
	// Concurrency caps how many modules execute at once within one
	// environment. Defaults to 5.
	Concurrency int

	// DryRun previews every module (engine plan) and writes no state or
	// history.
	DryRun bool

	// Force takes over held locks regardless of expiry. Operator override
	// for crashed runs whose ttl has not yet lapsed.
	Force bool

	// LockTTL bounds how long a crashed run can block others. Defaults to
	// 10 minutes; locks are renewed at a third of the ttl while executing.
	LockTTL time.Duration

	// LockAttempts and LockBackoff shape the acquisition retry loop.
	// Backoff doubles per attempt. Defaults: 5 attempts, 2s initial.
	LockAttempts int
	LockBackoff  time.Duration

	// Holder identifies this run in lock records.
	Holder string

	// Commit is the VCS revision recorded in the deployment record.
	Commit string

	// EnvironmentConcurrency caps concurrent environments in ExecuteAll.
	// Defaults to 2.
	EnvironmentConcurrency int

	// Stdout/Stderr receive engine output. May be nil.
	Stdout io.Writer
	Stderr io.Writer
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Minute
	}
	if o.LockAttempts <= 0 {
		o.LockAttempts = 5
	}
	if o.LockBackoff <= 0 {
		o.LockBackoff = 2 * time.Second
	}
	if o.EnvironmentConcurrency <= 0 {
		o.EnvironmentConcurrency = 2
	}
	if o.Holder == "" {
		o.Holder = "stackctl"
	}
	return o
}

// Executor coordinates deployment runs over injected collaborators.
type Executor struct {
	states   *state.Manager
	locks    *lock.Manager
	engine   provisioner.Engine
	resolver *outputs.Resolver
	logger   *slog.Logger
}

// New creates an executor.
func New(states *state.Manager, locks *lock.Manager, engine provisioner.Engine, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		states:   states,
		locks:    locks,
		engine:   engine,
		resolver: outputs.NewResolver(),
		logger:   logger,
	}
}

// SetResolver overrides the default dependency resolver.
func (e *Executor) SetResolver(r *outputs.Resolver) {
	e.resolver = r
}

// Execute runs one operation over an environment. The returned report
// covers every module; a module failure does not make Execute return an
// error, only structural problems (invalid graph, backend setup) do.
//
// Cancelling ctx stops new modules from starting: modules not yet executing
// become Skipped, while executing modules run to completion so no
// infrastructure is left half-mutated.
func (e *Executor) Execute(ctx context.Context, env *module.Environment, op module.Operation, opts Options) (*Report, error) {
	opts = opts.withDefaults()

	ordered, err := graph.Build(env)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Environment: env.Name,
		Operation:   op,
		DryRun:      opts.DryRun,
		Modules:     make(map[string]*ModuleResult, len(ordered)),
		StartedAt:   time.Now(),
	}
	for _, m := range ordered {
		report.Modules[m.Path] = &ModuleResult{Module: m.Path, Status: StatusPending}
	}

	// Apply and plan wait on producers; destroy inverts the graph and waits
	// on dependents, so nothing is torn down while still consumed.
	prereqs := make(map[string][]string, len(ordered))
	if op == module.OperationDestroy {
		for producer, dependents := range graph.Dependents(env) {
			prereqs[producer] = dependents
		}
	} else {
		for _, m := range ordered {
			for _, edge := range m.DependsOn {
				prereqs[m.Path] = append(prereqs[m.Path], edge.Producer)
			}
		}
	}

	// Engine invocations and state writes must survive cancellation of ctx.
	runCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	sem := make(chan struct{}, opts.Concurrency)

	for {
		ready := e.nextRound(ctx, ordered, prereqs, report, &mu)
		if len(ready) == 0 {
			if e.pendingRemain(report, &mu) {
				// Skips opened up this round; re-evaluate.
				continue
			}
			break
		}

		var wg sync.WaitGroup
		for _, m := range ready {
			wg.Add(1)
			sem <- struct{}{}
			go func(m *module.Module) {
				defer wg.Done()
				defer func() { <-sem }()
				e.runModule(ctx, runCtx, env, m, op, opts, report, &mu)
			}(m)
		}
		wg.Wait()
	}

	report.Duration = time.Since(report.StartedAt)

	if op.Destructive() && !opts.DryRun {
		if err := e.appendRecord(runCtx, env, op, opts, report); err != nil {
			e.logger.Error("failed to append deployment record",
				"environment", env.Name, "error", err)
		}
	}

	return report, nil
}

// ExecuteAll runs the same operation over several environments in parallel.
// Environments are independent; one environment's failure does not stop the
// others.
func (e *Executor) ExecuteAll(ctx context.Context, envs []*module.Environment, op module.Operation, opts Options) ([]*Report, error) {
	opts = opts.withDefaults()

	reports := make([]*Report, len(envs))
	errs := make([]error, len(envs))
	sem := make(chan struct{}, opts.EnvironmentConcurrency)

	var wg sync.WaitGroup
	for i, env := range envs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, env *module.Environment) {
			defer wg.Done()
			defer func() { <-sem }()
			reports[i], errs[i] = e.Execute(ctx, env, op, opts)
		}(i, env)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return reports, fmt.Errorf("environment %s: %w", envs[i].Name, err)
		}
	}
	return reports, nil
}

// nextRound collects the modules whose prerequisites are all terminal and
// successful. Modules behind a failed or skipped prerequisite cascade to
// Skipped here; modules not yet started cascade to Skipped on cancellation.
func (e *Executor) nextRound(ctx context.Context, ordered []*module.Module, prereqs map[string][]string, report *Report, mu *sync.Mutex) []*module.Module {
	mu.Lock()
	defer mu.Unlock()

	var ready []*module.Module
	for _, m := range ordered {
		res := report.Modules[m.Path]
		if res.Status != StatusPending {
			continue
		}

		blocked := false
		var upstream string
		for _, p := range prereqs[m.Path] {
			switch report.Modules[p].Status {
			case StatusSucceeded:
			case StatusFailed, StatusSkipped:
				upstream = p
			default:
				blocked = true
			}
		}

		switch {
		case upstream != "":
			res.Status = StatusSkipped
			res.Err = fmt.Errorf("prerequisite %s did not succeed", upstream)
		case ctx.Err() != nil:
			res.Status = StatusSkipped
			res.Err = fmt.Errorf("deployment cancelled: %w", ctx.Err())
		case !blocked:
			ready = append(ready, m)
		}
	}
	return ready
}

func (e *Executor) pendingRemain(report *Report, mu *sync.Mutex) bool {
	mu.Lock()
	defer mu.Unlock()
	for _, res := range report.Modules {
		if !res.Status.Terminal() {
			return true
		}
	}
	return false
}

// runModule drives one module Pending -> Locking -> Resolving -> Executing
// -> terminal.
func (e *Executor) runModule(ctx, runCtx context.Context, env *module.Environment, m *module.Module, op module.Operation, opts Options, report *Report, mu *sync.Mutex) {
	started := time.Now()
	result := report.Modules[m.Path]

	setStatus := func(s Status) {
		mu.Lock()
		result.Status = s
		mu.Unlock()
	}
	finish := func(s Status, err error, out map[string]interface{}) {
		mu.Lock()
		result.Status = s
		result.Err = err
		result.Outputs = out
		result.Duration = time.Since(started)
		mu.Unlock()
	}

	logger := e.logger.With("environment", env.Name, "module", m.Path, "operation", string(op))

	// Locking
	setStatus(StatusLocking)
	key := env.StateKey(m.Path)
	handle, err := e.acquireWithRetry(ctx, runCtx, key, opts)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, errors.ErrCodeLockTimeout) {
			finish(StatusSkipped, fmt.Errorf("deployment cancelled: %w", ctx.Err()), nil)
			return
		}
		logger.Error("lock acquisition failed", "error", err)
		finish(StatusFailed, err, nil)
		return
	}
	defer e.locks.Release(runCtx, handle)

	mu.Lock()
	result.LockRecovered = handle.Recovered
	mu.Unlock()

	// A dry run downgrades the operation to plan for everything that
	// follows, mock gating during resolution included.
	effectiveOp := op
	if opts.DryRun {
		effectiveOp = module.OperationPlan
	}

	// Resolving
	setStatus(StatusResolving)
	producerState := func(path string) (module.Lifecycle, map[string]interface{}) {
		doc, err := e.states.GetModule(runCtx, env, path)
		if err != nil {
			return module.LifecycleUnplanned, nil
		}
		return doc.Lifecycle, doc.Outputs
	}

	resolved, err := e.resolver.ResolveAll(effectiveOp, m, producerState)
	if err != nil {
		logger.Error("dependency resolution failed", "error", err)
		finish(StatusFailed, err, nil)
		return
	}

	mu.Lock()
	result.MockedInputs = resolved.HasMocked()
	mu.Unlock()

	inputs := make(map[string]interface{}, len(m.Inputs)+len(resolved))
	for name, value := range m.Inputs {
		inputs[name] = value
	}
	for name, value := range resolved.Values() {
		inputs[name] = value
	}

	// Executing
	setStatus(StatusExecuting)
	req := provisioner.Request{
		Environment: env.Name,
		Module:      m.Path,
		Dir:         m.Dir,
		Inputs:      inputs,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
	}

	engineCtx, cancelEngine := context.WithCancel(runCtx)
	defer cancelEngine()
	renewalLost := e.keepRenewed(engineCtx, cancelEngine, handle, opts.LockTTL, logger)

	res, runErr := provisioner.Run(engineCtx, e.engine, effectiveOp, req)

	select {
	case <-renewalLost:
		// Exclusivity was lost mid-flight. The engine may or may not have
		// finished; read back outputs so the operator sees the actual
		// effect, and record an integrity failure.
		verified, _ := e.engine.Output(runCtx, req)
		err := errors.LockExpiredError(key, opts.Holder)
		e.writeState(runCtx, env, m, effectiveOp, opts, module.LifecycleFailed, verified, resolved.HasMocked(), logger)
		finish(StatusFailed, err, verified)
		return
	default:
	}

	if runErr != nil {
		logger.Error("engine invocation failed", "error", runErr)
		e.writeState(runCtx, env, m, effectiveOp, opts, module.LifecycleFailed, nil, resolved.HasMocked(), logger)
		finish(StatusFailed, errors.EngineError(e.engine.Name(), string(effectiveOp), runErr), nil)
		return
	}
	if !res.Success {
		logger.Error("operation failed", "diagnostics", res.Diagnostics)
		e.writeState(runCtx, env, m, effectiveOp, opts, module.LifecycleFailed, nil, resolved.HasMocked(), logger)
		finish(StatusFailed, errors.EngineError(e.engine.Name(), string(effectiveOp), fmt.Errorf("%s", res.Diagnostics)), nil)
		return
	}

	lifecycle := successLifecycle(effectiveOp)
	e.writeState(runCtx, env, m, effectiveOp, opts, lifecycle, res.Outputs, resolved.HasMocked(), logger)
	logger.Info("module "+string(lifecycle), "duration", time.Since(started).Round(time.Millisecond))
	finish(StatusSucceeded, nil, res.Outputs)
}

// acquireWithRetry retries lock acquisition with doubling backoff. Only
// contention errors are retried.
func (e *Executor) acquireWithRetry(ctx, runCtx context.Context, key string, opts Options) (*lock.Handle, error) {
	backoff := opts.LockBackoff

	var lastErr error
	for attempt := 1; attempt <= opts.LockAttempts; attempt++ {
		handle, err := e.locks.Acquire(runCtx, key, opts.Holder, opts.LockTTL, lock.Options{Force: opts.Force})
		if err == nil {
			return handle, nil
		}
		if !errors.Retryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == opts.LockAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, errors.LockTimeoutError(key, opts.LockAttempts, lastErr)
}

// keepRenewed renews the lock at a third of its ttl until ctx is done. On a
// failed renewal it cancels the engine and closes the returned channel.
func (e *Executor) keepRenewed(ctx context.Context, cancel context.CancelFunc, handle *lock.Handle, ttl time.Duration, logger *slog.Logger) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.locks.Renew(ctx, handle, ttl); err != nil {
					logger.Error("lock renewal failed, aborting", "error", err)
					close(lost)
					cancel()
					return
				}
			}
		}
	}()
	return lost
}

// writeState persists the module's new lifecycle under the held lock. Plan
// runs never demote an applied module and never record anything for a
// module whose inputs came from mocks; dry runs write nothing.
func (e *Executor) writeState(ctx context.Context, env *module.Environment, m *module.Module, op module.Operation, opts Options, lifecycle module.Lifecycle, outs map[string]interface{}, mocked bool, logger *slog.Logger) {
	if opts.DryRun {
		return
	}
	if op == module.OperationPlan && mocked {
		return
	}

	doc, err := e.states.GetModule(ctx, env, m.Path)
	if err != nil {
		logger.Error("failed to read module state", "error", err)
		return
	}

	if op == module.OperationPlan {
		if doc.Lifecycle == module.LifecycleApplied {
			return
		}
		if lifecycle == module.LifecyclePlanned {
			doc.Lifecycle = lifecycle
		}
	} else {
		doc.Lifecycle = lifecycle
		doc.Inputs = m.Inputs
		switch lifecycle {
		case module.LifecycleApplied:
			doc.Outputs = outs
		case module.LifecycleDestroyed:
			doc.Outputs = nil
		default:
			if outs != nil {
				doc.Outputs = outs
			}
		}
	}

	if err := e.states.SaveModule(ctx, env, doc); err != nil {
		logger.Error("failed to write module state", "error", err)
	}
}

func successLifecycle(op module.Operation) module.Lifecycle {
	switch op {
	case module.OperationApply:
		return module.LifecycleApplied
	case module.OperationDestroy:
		return module.LifecycleDestroyed
	default:
		return module.LifecyclePlanned
	}
}

// appendRecord writes the run's deployment record and, for applies, the
// snapshot that makes the deployment reproducible.
func (e *Executor) appendRecord(ctx context.Context, env *module.Environment, op module.Operation, opts Options, report *Report) error {
	outcomes := make(map[string]history.ModuleOutcome, len(report.Modules))
	for path, res := range report.Modules {
		outcome := history.ModuleOutcome{
			Outputs:  res.Outputs,
			Duration: res.Duration,
		}
		switch res.Status {
		case StatusSucceeded:
			outcome.Status = history.StatusSucceeded
		case StatusFailed:
			outcome.Status = history.StatusFailed
		default:
			outcome.Status = history.StatusSkipped
		}
		if res.Err != nil {
			outcome.Error = res.Err.Error()
		}
		outcomes[path] = outcome
	}

	record := &history.Record{
		Operation: op,
		Commit:    opts.Commit,
		Modules:   outcomes,
	}

	var snapshot *history.Snapshot
	if op == module.OperationApply {
		snapshot = &history.Snapshot{Modules: make([]history.ModuleSnapshot, 0, len(env.Modules))}
		for _, m := range env.Modules {
			snap := history.ModuleSnapshot{
				Path:   m.Path,
				Dir:    m.Dir,
				Inputs: m.Inputs,
				Edges:  m.DependsOn,
			}
			if res := report.Modules[m.Path]; res != nil && res.Outputs != nil {
				snap.Outputs = res.Outputs
			} else if doc, err := e.states.GetModule(ctx, env, m.Path); err == nil {
				snap.Outputs = doc.Outputs
			}
			snapshot.Modules = append(snapshot.Modules, snap)
		}
	}

	log := history.NewLog(e.states.Store(), env)
	appended, err := log.Append(ctx, record, snapshot)
	if err != nil {
		return err
	}
	report.Version = appended.Version
	return nil
}
