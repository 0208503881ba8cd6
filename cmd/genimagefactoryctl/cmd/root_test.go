package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/wiring"
)

func TestExitCodeForNil(t *testing.T) {
	require.Equal(t, 0, ExitCodeFor(nil))
}

func TestExitCodeForExitError(t *testing.T) {
	err := &ExitError{Code: 3, Err: errors.New("cancelled")}
	require.Equal(t, 3, ExitCodeFor(err))
}

func TestExitCodeForWrappedExitError(t *testing.T) {
	inner := &ExitError{Code: 1, Err: errors.New("bad config")}
	wrapped := fmt.Errorf("loading: %w", inner)
	require.Equal(t, 1, ExitCodeFor(wrapped))
}

func TestExitCodeForUnknownErrorIsRuntimeError(t *testing.T) {
	require.Equal(t, 2, ExitCodeFor(errors.New("boom")))
}

func TestExitErrorForCredentialMissingIsConfigurationError(t *testing.T) {
	err := exitErrorFor(wiring.ErrCredentialNotConfigured, "build processor")
	require.Equal(t, 1, ExitCodeFor(err))
}

func TestExitErrorForOtherErrorIsRuntimeError(t *testing.T) {
	err := exitErrorFor(errors.New("catalog busy"), "start job")
	require.Equal(t, 2, ExitCodeFor(err))
}

func TestExitErrorForNilIsNil(t *testing.T) {
	require.NoError(t, exitErrorFor(nil, "start job"))
}
