package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	version   string
	buildTime string
	gitCommit string
)

// configPath is the optional config file shared by every subcommand
// (viper also reads GENIMAGEFACTORY_* environment variables regardless).
var configPath string

var rootCmd = &cobra.Command{
	Use:   "genimagefactoryctl",
	Short: "Run and manage genimagefactory image-generation jobs",
	Long: `genimagefactoryctl drives the image-generation pipeline without the
desktop UI: start a run against a settings file, retry a single failed
image, rerun a past execution, or apply pending catalog migrations.

Exit Codes:
  0: success
  1: configuration error (invalid settings, bad flags, bad config file)
  2: runtime error (provider/catalog/processing failure)
  3: cancelled (SIGINT/SIGTERM before completion)
`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional; env vars also apply)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(rerunCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the build-time version information printed by `version`.
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("genimagefactoryctl version %s\n", version)
		cmd.Printf("build time: %s\n", buildTime)
		cmd.Printf("git commit: %s\n", gitCommit)
		return nil
	},
}

// ExitError carries the §6 exit code a RunE wants main to return, instead
// of every subcommand calling os.Exit directly (which would skip deferred
// cleanup such as Catalog.Close and Executor.Stop).
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCodeFor maps a command error to a process exit code. Errors that
// don't opt into a specific code (anything outside this package) are
// treated as runtime errors.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 2
}
