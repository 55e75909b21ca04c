package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/stackforge/stackctl/pkg/config"
	"github.com/stackforge/stackctl/pkg/executor"
	"github.com/stackforge/stackctl/pkg/lock"
	"github.com/stackforge/stackctl/pkg/module"
	"github.com/stackforge/stackctl/pkg/outputs"
	"github.com/stackforge/stackctl/pkg/provisioner"
	"github.com/stackforge/stackctl/pkg/state"
	"github.com/stackforge/stackctl/pkg/statestore"
)

// runtime bundles the collaborators every command needs: the parsed
// manifest, the state backend and the executor wired on top of it.
type runtime struct {
	stack  *config.Stack
	store  statestore.Store
	states *state.Manager
	locks  *lock.Manager
	engine provisioner.Engine
	exec   *executor.Executor
	logger *slog.Logger
}

func loadRuntime() (*runtime, error) {
	path := stackFile
	if path == "" {
		path = config.DefaultManifest
	}

	stack, err := config.LoadStack(path)
	if err != nil {
		return nil, err
	}

	storeConfig := stack.StoreConfig()
	if override := viper.GetString("backend"); override != "" {
		storeConfig.Type = override
	}
	overrides, err := rootCmd.PersistentFlags().GetStringArray("backend-config")
	if err == nil && len(overrides) > 0 {
		if storeConfig.Config == nil {
			storeConfig.Config = make(map[string]string)
		}
		for _, kv := range overrides {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid --backend-config %q, expected key=value", kv)
			}
			storeConfig.Config[parts[0]] = parts[1]
		}
	}

	store, err := statestore.Create(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create state backend: %w", err)
	}

	engine, err := provisioner.Get(stack.Engine)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	states := state.NewManager(store)
	locks := lock.NewManager(store, logger)

	exec := executor.New(states, locks, engine, logger)
	if stack.MergePolicy != "" {
		exec.SetResolver(&outputs.Resolver{Policy: outputs.MergePolicy(stack.MergePolicy)})
	}

	return &runtime{
		stack:  stack,
		store:  store,
		states: states,
		locks:  locks,
		engine: engine,
		exec:   exec,
		logger: logger,
	}, nil
}

// environments loads the named environments, or every declared one when
// names is empty.
func (r *runtime) environments(names []string) ([]*module.Environment, error) {
	if len(names) == 0 {
		return config.LoadEnvironments(r.stack)
	}

	envs := make([]*module.Environment, 0, len(names))
	for _, name := range names {
		cfg := r.stack.Environment(name)
		if cfg == nil {
			return nil, fmt.Errorf("environment %q is not declared in the manifest", name)
		}
		env, err := config.LoadEnvironment(r.stack, cfg)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// defaultHolder identifies this run in lock records.
func defaultHolder() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "stackctl"
	}
	host, err := os.Hostname()
	if err != nil {
		return user
	}
	return user + "@" + host
}
