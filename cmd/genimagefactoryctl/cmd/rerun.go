package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascensum/genimagefactory/internal/jobrunner"
)

var rerunPollInterval time.Duration

var rerunCmd = &cobra.Command{
	Use:   "rerun <execution-id>",
	Short: "Rerun a past execution's settings as a fresh job",
	Args:  cobra.ExactArgs(1),
	RunE:  runRerun,
}

func init() {
	rerunCmd.Flags().DurationVar(&rerunPollInterval, "poll-interval", 2*time.Second, "how often to poll job state")
}

func runRerun(cmd *cobra.Command, args []string) error {
	sourceID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("invalid execution id %q: %w", args[0], err)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	source, err := a.Cat.GetExecution(ctx, sourceID)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("load execution %d: %w", sourceID, err)}
	}

	proc, err := a.BuildProcessor(ctx, source.SettingsSnapshot)
	if err != nil {
		return exitErrorFor(err, "build processor")
	}
	runner := a.NewRunner(proc)
	retryExec := a.NewRetryExecutor(proc)
	defer retryExec.Stop()

	snapshot, err := runner.RerunExecution(ctx, sourceID)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("reset execution %d: %w", sourceID, err)}
	}

	execID, err := runner.StartJob(ctx, snapshot, nil, nil)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("start rerun: %w", err)}
	}
	cmd.Printf("rerunning execution %d as %d\n", sourceID, execID)

	ticker := time.NewTicker(rerunPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			runner.StopJob(false)
			return &ExitError{Code: 3, Err: fmt.Errorf("cancelled waiting for execution %d", execID)}
		case <-ticker.C:
			state := runner.State()
			cmd.Printf("execution %d: %s\n", execID, state)
			switch state {
			case jobrunner.StateCompleted:
				return nil
			case jobrunner.StateStopped:
				return &ExitError{Code: 3, Err: fmt.Errorf("execution %d stopped", execID)}
			case jobrunner.StateFailed:
				return &ExitError{Code: 2, Err: fmt.Errorf("execution %d failed", execID)}
			}
		}
	}
}
