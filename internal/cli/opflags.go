package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/executor"
)

// runFlags are the flags shared by the commands that execute deployments.
type runFlags struct {
	concurrency  int
	envParallel  int
	force        bool
	lockTTL      time.Duration
	lockAttempts int
	lockBackoff  time.Duration
	holder       string
	commit       string
	autoApprove  bool
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Max modules executing at once per environment")
	cmd.Flags().IntVar(&f.envParallel, "env-concurrency", 0, "Max environments deploying at once")
	cmd.Flags().BoolVar(&f.force, "force", false, "Take over held locks regardless of expiry")
	cmd.Flags().DurationVar(&f.lockTTL, "lock-ttl", 0, "Lock time-to-live (default 10m)")
	cmd.Flags().IntVar(&f.lockAttempts, "lock-attempts", 0, "Lock acquisition attempts before giving up")
	cmd.Flags().DurationVar(&f.lockBackoff, "lock-backoff", 0, "Initial lock retry backoff (doubles per attempt)")
	cmd.Flags().StringVar(&f.holder, "holder", "", "Lock holder identity (default user@host)")
	cmd.Flags().StringVar(&f.commit, "commit", "", "VCS revision recorded in the deployment record")
	cmd.Flags().BoolVar(&f.autoApprove, "auto-approve", false, "Skip confirmation prompt")
}

func (f *runFlags) options() executor.Options {
	holder := f.holder
	if holder == "" {
		holder = defaultHolder()
	}
	return executor.Options{
		Concurrency:            f.concurrency,
		EnvironmentConcurrency: f.envParallel,
		Force:                  f.force,
		LockTTL:                f.lockTTL,
		LockAttempts:           f.lockAttempts,
		LockBackoff:            f.lockBackoff,
		Holder:                 holder,
		Commit:                 f.commit,
		Stdout:                 os.Stdout,
		Stderr:                 os.Stderr,
	}
}

// signalContext returns a context cancelled on interrupt. Cancellation stops
// new modules from starting; in-flight modules run to completion.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
