package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/ascensum/genimagefactory/internal/wiring"
)

// buildApp wraps wiring.Build, translating its errors into the §6 exit
// codes this package's commands return.
func buildApp(ctx context.Context) (*wiring.App, func(), error) {
	a, cleanup, err := wiring.Build(ctx, configPath)
	if err != nil {
		return nil, nil, &ExitError{Code: 1, Err: err}
	}
	return a, cleanup, nil
}

// exitErrorFor classifies a wiring error for the CLI's exit-code contract.
func exitErrorFor(err error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, wiring.ErrCredentialNotConfigured) {
		return &ExitError{Code: 1, Err: fmt.Errorf("%s: %w (set one with `genimagefactoryctl secret set <service> <value>`)", action, err)}
	}
	return &ExitError{Code: 2, Err: fmt.Errorf("%s: %w", action, err)}
}
