// Package secrets implements SecretsVault (C2, spec §4.2): tiered
// get/set/delete for provider credentials keyed by (service, account).
// Three Tier implementations sit behind one Vault, selected at
// construction the way the REDESIGN FLAGS note on keytar-style credential
// access calls for — callers only ever see Vault.
package secrets

import (
	"context"
	"errors"
)

// errUnavailable is returned by a Tier's Set/Delete when called despite
// Available() reporting false; Vault never calls a tier this way, but the
// guard keeps each Tier safe to use standalone.
var errUnavailable = errors.New("secrets: tier unavailable on this platform")

// SecurityLevel names which Tier actually served a Get, reported back to
// the caller per §4.2 ("reads walk tiers in order and report the tier
// used via securityLevel").
type SecurityLevel string

const (
	LevelKeychain  SecurityLevel = "keychain"
	LevelEncrypted SecurityLevel = "encrypted"
	LevelPlaintext SecurityLevel = "plaintext"
)

// Tier is one credential store in the chain. Available is checked before
// every Set so writes land on the highest tier actually usable on this
// machine/build, not just the highest compiled in.
type Tier interface {
	Level() SecurityLevel
	Available(ctx context.Context) bool
	Get(ctx context.Context, service, account string) (value string, ok bool, err error)
	Set(ctx context.Context, service, account, value string) error
	Delete(ctx context.Context, service, account string) error
}

// Catalog is the narrow slice of internal/catalog.Catalog the encrypted
// and plaintext tiers need to persist their rows.
type Catalog interface {
	GetSecretRow(ctx context.Context, name string) (ciphertext, nonce []byte, err error)
	PutSecretRow(ctx context.Context, name string, ciphertext, nonce []byte) error
	DeleteSecretRow(ctx context.Context, name string) error
}

func rowKey(prefix, service, account string) string {
	return prefix + ":" + service + "/" + account
}
