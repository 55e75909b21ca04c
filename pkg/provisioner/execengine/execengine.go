// Package execengine provisions modules by shelling out to an
// OpenTofu-compatible binary found on PATH.
package execengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/stackforge/stackctl/pkg/provisioner"
)

func init() {
	provisioner.Register("opentofu", func() (provisioner.Engine, error) {
		return New()
	})
}

// Engine shells out to tofu (or terraform as a fallback).
type Engine struct {
	binary string
}

// New locates the provisioning binary on PATH.
func New() (*Engine, error) {
	binary, err := exec.LookPath("tofu")
	if err != nil {
		binary, err = exec.LookPath("terraform")
		if err != nil {
			return nil, fmt.Errorf("neither tofu nor terraform found in PATH")
		}
	}
	return &Engine{binary: binary}, nil
}

func (e *Engine) Name() string {
	return "opentofu"
}

// Plan previews changes. A non-zero exit is a failed result, not an error:
// the caller decides how to react to diagnostics.
func (e *Engine) Plan(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	if err := e.prepare(ctx, req); err != nil {
		return nil, err
	}

	diag, err := e.run(ctx, req, "plan", "-input=false")
	if err != nil {
		return &provisioner.Result{Success: false, Diagnostics: diag}, nil
	}
	return &provisioner.Result{Success: true, Diagnostics: diag}, nil
}

// Apply creates or updates resources and reads back outputs.
func (e *Engine) Apply(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	if err := e.prepare(ctx, req); err != nil {
		return nil, err
	}

	diag, err := e.run(ctx, req, "apply", "-auto-approve", "-input=false", "-json")
	if err != nil {
		return &provisioner.Result{Success: false, Diagnostics: diag}, nil
	}

	outputs, err := e.Output(ctx, req)
	if err != nil {
		return nil, err
	}
	return &provisioner.Result{Success: true, Outputs: outputs, Diagnostics: diag}, nil
}

// Destroy tears resources down.
func (e *Engine) Destroy(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	if err := e.prepare(ctx, req); err != nil {
		return nil, err
	}

	diag, err := e.run(ctx, req, "destroy", "-auto-approve", "-input=false")
	if err != nil {
		return &provisioner.Result{Success: false, Diagnostics: diag}, nil
	}
	return &provisioner.Result{Success: true, Diagnostics: diag}, nil
}

// tfOutput matches the JSON shape of `tofu output -json`.
type tfOutput struct {
	Value     interface{} `json:"value"`
	Sensitive bool        `json:"sensitive"`
}

// Output reads current outputs via `output -json`. A module with no outputs
// (or no state yet) yields an empty map rather than an error.
func (e *Engine) Output(ctx context.Context, req provisioner.Request) (map[string]interface{}, error) {
	cmd := exec.CommandContext(ctx, e.binary, "output", "-json")
	cmd.Dir = req.Dir
	cmd.Env = e.env(req)

	raw, err := cmd.Output()
	if err != nil {
		return map[string]interface{}{}, nil
	}

	parsed := map[string]tfOutput{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse outputs: %w", err)
	}

	outputs := make(map[string]interface{}, len(parsed))
	for name, out := range parsed {
		outputs[name] = out.Value
	}
	return outputs, nil
}

// prepare writes resolved inputs as tfvars and runs init on first use.
func (e *Engine) prepare(ctx context.Context, req provisioner.Request) error {
	if err := e.writeVars(req); err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(req.Dir, ".terraform")); err == nil {
		return nil
	}

	if _, err := e.run(ctx, req, "init", "-input=false"); err != nil {
		return fmt.Errorf("init failed for %s: %w", req.Dir, err)
	}
	return nil
}

func (e *Engine) writeVars(req provisioner.Request) error {
	if len(req.Inputs) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(req.Inputs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}

	path := filepath.Join(req.Dir, "terraform.tfvars.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, req provisioner.Request, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = req.Dir
	cmd.Env = e.env(req)

	var captured strings.Builder
	cmd.Stdout = tee(req.Stdout, &captured)
	cmd.Stderr = tee(req.Stderr, &captured)

	if err := cmd.Run(); err != nil {
		return captured.String(), fmt.Errorf("%s %s: %w", filepath.Base(e.binary), args[0], err)
	}
	return captured.String(), nil
}

func (e *Engine) env(req provisioner.Request) []string {
	env := os.Environ()
	for key, value := range req.Env {
		env = append(env, key+"="+value)
	}
	return env
}

func tee(primary io.Writer, capture io.Writer) io.Writer {
	if primary == nil {
		return capture
	}
	return io.MultiWriter(primary, capture)
}
