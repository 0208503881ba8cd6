package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/retry"
)

var (
	retryModified       bool
	retryIncludeMeta    bool
	retryPollInterval   time.Duration
)

var retryCmd = &cobra.Command{
	Use:   "retry <image-id>",
	Short: "Re-queue a failed image through the retry executor",
	Long: `retry enqueues a previously failed image onto the serial retry
queue (independent of any running job) and waits for it to settle.
Without --modified it replays the image's original settings snapshot
unchanged; with --modified it re-runs the image with the current settings
of the saved Configuration the image's execution was started from.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().BoolVar(&retryModified, "modified", false, "use the saved configuration's current settings instead of the image's original snapshot")
	retryCmd.Flags().BoolVar(&retryIncludeMeta, "metadata", false, "force metadata generation on this retry regardless of ai.runMetadataGen")
	retryCmd.Flags().DurationVar(&retryPollInterval, "poll-interval", time.Second, "how often to poll queue drain")
}

func runRetry(cmd *cobra.Command, args []string) error {
	imageID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("invalid image id %q: %w", args[0], err)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	img, err := a.Cat.GetImage(ctx, imageID)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("load image %d: %w", imageID, err)}
	}
	if img.ExecutionID == nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("image %d has no execution to retry against", imageID)}
	}
	exec, err := a.Cat.GetExecution(ctx, *img.ExecutionID)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("load execution %d: %w", *img.ExecutionID, err)}
	}

	proc, err := a.BuildProcessor(ctx, exec.SettingsSnapshot)
	if err != nil {
		return exitErrorFor(err, "build processor")
	}
	retryExec := a.NewRetryExecutor(proc)
	defer retryExec.Stop()

	job := retry.Job{
		ImageID:             imageID,
		UseOriginalSettings: !retryModified,
		IncludeMetadata:     retryIncludeMeta,
	}
	if retryModified {
		if exec.ConfigurationID == nil {
			return &ExitError{Code: 1, Err: fmt.Errorf("image %d's execution has no saved configuration to diverge from; --modified has nothing to apply", imageID)}
		}
		cfg, err := a.Cat.GetConfigurationByID(ctx, *exec.ConfigurationID)
		if err != nil {
			return &ExitError{Code: 2, Err: fmt.Errorf("load configuration %d: %w", *exec.ConfigurationID, err)}
		}
		job.OverrideSettings = &cfg.Settings
	}
	retryExec.Enqueue(job)
	cmd.Printf("enqueued image %d for retry\n", imageID)

	ticker := time.NewTicker(retryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return &ExitError{Code: 3, Err: fmt.Errorf("cancelled waiting for image %d", imageID)}
		case <-ticker.C:
			// QueueLength reports only what's still waiting, not the one
			// in-flight job, so the image row is polled instead: it stays
			// retry_pending until the executor persists the outcome.
			cur, err := a.Cat.GetImage(ctx, imageID)
			if err != nil {
				return &ExitError{Code: 2, Err: fmt.Errorf("reload image %d: %w", imageID, err)}
			}
			if cur.QCStatus != model.QCRetryPending {
				cmd.Printf("image %d retry drained\n", imageID)
				return nil
			}
		}
	}
}
