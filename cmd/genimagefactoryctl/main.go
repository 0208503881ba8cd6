// Command genimagefactoryctl drives image-generation jobs from the command
// line: start a run, retry a failed image, rerun a past execution, or apply
// pending catalog migrations.
package main

import (
	"fmt"
	"os"

	"github.com/ascensum/genimagefactory/cmd/genimagefactoryctl/cmd"
)

// Version information, overridden at build time via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cmd.SetVersion(version, buildTime, gitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCodeFor(err))
	}
}
