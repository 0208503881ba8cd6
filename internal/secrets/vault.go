package secrets

import (
	"context"
	"log/slog"
	"strings"
)

// Vault is SecretsVault (C2): the tiered get/set/delete surface of §4.2.
// Construction fixes the tier order (keychain, encrypted, plaintext);
// availability is re-checked on every write so a machine that gains or
// loses keychain access between calls is handled without restarting.
type Vault struct {
	tiers  []Tier
	logger *slog.Logger
}

// New builds a Vault backed by cat for its encrypted and plaintext tiers.
func New(cat Catalog, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		tiers: []Tier{
			newKeychainTier(),
			newEncryptedTier(cat),
			newPlaintextTier(cat),
		},
		logger: logger.With("component", "secrets"),
	}
}

// Get walks tiers highest-to-lowest and returns the first hit, reporting
// which tier served it. found is false if no tier holds a value for
// (service, account).
func (v *Vault) Get(ctx context.Context, service, account string) (value string, level SecurityLevel, found bool, err error) {
	for _, tier := range v.tiers {
		val, ok, tierErr := tier.Get(ctx, service, account)
		if tierErr != nil {
			v.logger.Warn("secrets tier read failed", "tier", tier.Level(), "service", service, "error", tierErr)
			continue
		}
		if ok {
			return val, tier.Level(), true, nil
		}
	}
	return "", "", false, nil
}

// Set writes value to the highest available tier (§4.2). An empty or
// whitespace-only value deletes the credential from every tier instead
// of writing it anywhere.
func (v *Vault) Set(ctx context.Context, service, account, value string) error {
	if strings.TrimSpace(value) == "" {
		return v.Delete(ctx, service, account)
	}
	for _, tier := range v.tiers {
		if !tier.Available(ctx) {
			continue
		}
		if err := tier.Set(ctx, service, account, value); err != nil {
			v.logger.Warn("secrets tier write failed, trying next tier", "tier", tier.Level(), "service", service, "error", err)
			continue
		}
		return nil
	}
	return errUnavailable
}

// Delete removes the credential from every tier. Individual tier
// failures are logged and do not stop the sweep across the rest.
func (v *Vault) Delete(ctx context.Context, service, account string) error {
	var firstErr error
	for _, tier := range v.tiers {
		if err := tier.Delete(ctx, service, account); err != nil {
			v.logger.Warn("secrets tier delete failed", "tier", tier.Level(), "service", service, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
