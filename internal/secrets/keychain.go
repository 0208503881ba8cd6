package secrets

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// keychainTier shells out to the platform's native credential store —
// macOS Keychain via `security`, the Secret Service via `secret-tool` on
// Linux. No cross-platform keychain client library appears anywhere in
// the retrieval pack, so this tier is a justified stdlib (os/exec) use
// (see DESIGN.md); it degrades to Available()==false wherever the
// platform binary is missing, which falls through to the encrypted tier.
//
// Windows has no CLI tool that both stores and retrieves an opaque secret
// value (cmdkey cannot read a password back out), so this tier reports
// itself unavailable there rather than faking retrieval.
type keychainTier struct {
	service string // fixed application label, distinct from the caller's per-credential "service" argument
}

func newKeychainTier() *keychainTier {
	return &keychainTier{service: "genimagefactory"}
}

func (k *keychainTier) Level() SecurityLevel { return LevelKeychain }

func (k *keychainTier) Available(ctx context.Context) bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("security")
		return err == nil
	case "linux":
		_, err := exec.LookPath("secret-tool")
		return err == nil
	default:
		return false
	}
}

func (k *keychainTier) Get(ctx context.Context, service, account string) (string, bool, error) {
	label := k.service + "/" + service
	switch runtime.GOOS {
	case "darwin":
		cmd := exec.CommandContext(ctx, "security", "find-generic-password", "-a", account, "-s", label, "-w")
		out, err := cmd.Output()
		if err != nil {
			return "", false, nil // not found or locked keychain; fall through to the next tier
		}
		return strings.TrimRight(string(out), "\n"), true, nil
	case "linux":
		cmd := exec.CommandContext(ctx, "secret-tool", "lookup", "service", label, "account", account)
		out, err := cmd.Output()
		if err != nil {
			return "", false, nil
		}
		return strings.TrimRight(string(out), "\n"), true, nil
	default:
		return "", false, nil
	}
}

func (k *keychainTier) Set(ctx context.Context, service, account, value string) error {
	label := k.service + "/" + service
	switch runtime.GOOS {
	case "darwin":
		cmd := exec.CommandContext(ctx, "security", "add-generic-password", "-a", account, "-s", label, "-w", value, "-U")
		return cmd.Run()
	case "linux":
		cmd := exec.CommandContext(ctx, "secret-tool", "store", "--label", label, "service", label, "account", account)
		cmd.Stdin = bytes.NewBufferString(value)
		return cmd.Run()
	default:
		return errUnavailable
	}
}

func (k *keychainTier) Delete(ctx context.Context, service, account string) error {
	label := k.service + "/" + service
	switch runtime.GOOS {
	case "darwin":
		cmd := exec.CommandContext(ctx, "security", "delete-generic-password", "-a", account, "-s", label)
		_ = cmd.Run() // already-absent is not an error for Delete's idempotent contract
		return nil
	case "linux":
		cmd := exec.CommandContext(ctx, "secret-tool", "clear", "service", label, "account", account)
		_ = cmd.Run()
		return nil
	default:
		return nil
	}
}
