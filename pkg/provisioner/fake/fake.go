// Package fake provides a scriptable in-memory engine for tests.
package fake

import (
	"context"
	"sync"

	"github.com/stackforge/stackctl/pkg/provisioner"
)

func init() {
	provisioner.Register("fake", func() (provisioner.Engine, error) {
		return New(), nil
	})
}

// Call records one engine invocation.
type Call struct {
	Op     string
	Module string
	Inputs map[string]interface{}
}

// Engine is a scriptable engine. Results are keyed by module path; modules
// with no scripted result succeed with no outputs.
type Engine struct {
	mu sync.Mutex

	// Results maps module path to the result its operations return.
	Results map[string]*provisioner.Result

	// Errs maps module path to a hard error (engine failure, not a
	// diagnosed provisioning failure).
	Errs map[string]error

	// Hook, when set, runs at the start of every Plan/Apply/Destroy. Lets
	// tests block or observe concurrency.
	Hook func(op string, req provisioner.Request)

	calls []Call
}

func New() *Engine {
	return &Engine{
		Results: make(map[string]*provisioner.Result),
		Errs:    make(map[string]error),
	}
}

func (e *Engine) Name() string {
	return "fake"
}

func (e *Engine) Plan(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	return e.invoke(ctx, "plan", req)
}

func (e *Engine) Apply(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	return e.invoke(ctx, "apply", req)
}

func (e *Engine) Destroy(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	return e.invoke(ctx, "destroy", req)
}

func (e *Engine) Output(ctx context.Context, req provisioner.Request) (map[string]interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if result, ok := e.Results[req.Module]; ok {
		return result.Outputs, nil
	}
	return map[string]interface{}{}, nil
}

// Calls returns a copy of all recorded invocations, in order.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallsFor returns the operations invoked for one module, in order.
func (e *Engine) CallsFor(modulePath string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ops []string
	for _, call := range e.calls {
		if call.Module == modulePath {
			ops = append(ops, call.Op)
		}
	}
	return ops
}

func (e *Engine) invoke(ctx context.Context, op string, req provisioner.Request) (*provisioner.Result, error) {
	e.mu.Lock()
	hook := e.Hook
	e.calls = append(e.calls, Call{Op: op, Module: req.Module, Inputs: req.Inputs})
	scripted, hasResult := e.Results[req.Module]
	err := e.Errs[req.Module]
	e.mu.Unlock()

	if hook != nil {
		hook(op, req)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if hasResult {
		return scripted, nil
	}
	return &provisioner.Result{Success: true, Outputs: map[string]interface{}{}}, nil
}
