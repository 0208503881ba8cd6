package secrets

import (
	"context"
	"errors"

	"github.com/ascensum/genimagefactory/internal/catalog"
)

const plaintextRowPrefix = "plain"

// plaintextTier is SecretsVault's tier 3 (spec §4.2): a development-only
// fallback row, unencrypted. Vault writes here only when the OS keychain
// and the encrypted tier are unavailable or fail to write; reads fall
// through to it when neither holds a value. Available reports true
// whenever a catalog is present.
type plaintextTier struct {
	cat Catalog
}

func newPlaintextTier(cat Catalog) *plaintextTier {
	return &plaintextTier{cat: cat}
}

func (t *plaintextTier) Level() SecurityLevel     { return LevelPlaintext }
func (t *plaintextTier) Available(context.Context) bool { return t.cat != nil }

func (t *plaintextTier) Get(ctx context.Context, service, account string) (string, bool, error) {
	value, _, err := t.cat.GetSecretRow(ctx, rowKey(plaintextRowPrefix, service, account))
	var nf *catalog.NotFoundError
	if errors.As(err, &nf) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

func (t *plaintextTier) Set(ctx context.Context, service, account, value string) error {
	return t.cat.PutSecretRow(ctx, rowKey(plaintextRowPrefix, service, account), []byte(value), nil)
}

func (t *plaintextTier) Delete(ctx context.Context, service, account string) error {
	return t.cat.DeleteSecretRow(ctx, rowKey(plaintextRowPrefix, service, account))
}
