package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/jobrunner"
)

var (
	runSettingsPath string
	runLabel        string
	runPollInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start one image-generation job and wait for it to finish",
	Long: `run reads a Settings document from --settings, starts a job against
it, and blocks until the job reaches a terminal state (completed, stopped,
or failed), printing the job state on each poll. SIGINT/SIGTERM
requests a graceful stop and exits 3.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSettingsPath, "settings", "", "path to a Settings JSON file (required)")
	runCmd.Flags().StringVar(&runLabel, "label", "", "optional label recorded on the execution")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 2*time.Second, "how often to poll job state")
	runCmd.MarkFlagRequired("settings")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings(runSettingsPath)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	if err := settings.Validate(); err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("invalid settings: %w", err)}
	}

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	proc, err := a.BuildProcessor(ctx, settings)
	if err != nil {
		return exitErrorFor(err, "build processor")
	}
	runner := a.NewRunner(proc)
	retryExec := a.NewRetryExecutor(proc)
	defer retryExec.Stop()

	var label *string
	if runLabel != "" {
		label = &runLabel
	}

	execID, err := runner.StartJob(ctx, settings, nil, label)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("start job: %w", err)}
	}
	cmd.Printf("started execution %d\n", execID)

	ticker := time.NewTicker(runPollInterval)
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

// loadSettings reads and JSON-decodes a Settings document from path.
func loadSettings(path string) (config.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	var settings config.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return config.Settings{}, fmt.Errorf("parse settings file: %w", err)
	}
	return settings, nil
}
