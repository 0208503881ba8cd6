package secrets

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/catalog"
)

type fakeCatalog struct {
	mu   sync.Mutex
	rows map[string][2][]byte // name -> [ciphertext, nonce]
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{rows: map[string][2][]byte{}}
}

func (c *fakeCatalog) GetSecretRow(ctx context.Context, name string) ([]byte, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[name]
	if !ok {
		return nil, nil, &catalog.NotFoundError{Entity: "secret", Key: name}
	}
	return row[0], row[1], nil
}

func (c *fakeCatalog) PutSecretRow(ctx context.Context, name string, ciphertext, nonce []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[name] = [2][]byte{ciphertext, nonce}
	return nil
}

func (c *fakeCatalog) DeleteSecretRow(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, name)
	return nil
}

// noKeychainVault builds a Vault whose keychain tier is forced
// unavailable, so Set lands on the encrypted tier deterministically
// regardless of what platform CI runs on.
func noKeychainVault(cat Catalog) *Vault {
	return &Vault{
		tiers: []Tier{
			newEncryptedTier(cat),
			newPlaintextTier(cat),
		},
		logger: slog.Default(),
	}
}

func TestSetGetRoundTripsThroughEncryptedTier(t *testing.T) {
	cat := newFakeCatalog()
	v := noKeychainVault(cat)

	require.NoError(t, v.Set(context.Background(), "openai", "default", "sk-test-123"))

	val, level, found, err := v.Get(context.Background(), "openai", "default")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sk-test-123", val)
	assert.Equal(t, LevelEncrypted, level)
}

func TestEncryptedRowIsNotStoredAsPlaintext(t *testing.T) {
	cat := newFakeCatalog()
	v := noKeychainVault(cat)
	require.NoError(t, v.Set(context.Background(), "removeBg", "default", "super-secret-value"))

	ciphertext, _, err := cat.GetSecretRow(context.Background(), rowKey(encryptedRowPrefix, "removeBg", "default"))
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "super-secret-value")
}

func TestEmptyWriteDeletes(t *testing.T) {
	cat := newFakeCatalog()
	v := noKeychainVault(cat)
	require.NoError(t, v.Set(context.Background(), "piapi", "default", "k"))

	require.NoError(t, v.Set(context.Background(), "piapi", "default", "   "))

	_, _, found, err := v.Get(context.Background(), "piapi", "default")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCorruptEncryptedRowFallsBackToRawBytes(t *testing.T) {
	cat := newFakeCatalog()
	v := noKeychainVault(cat)
	// Row written directly, bypassing AES-GCM entirely (e.g. imported
	// from a legacy plaintext source under the encrypted-tier key).
	require.NoError(t, cat.PutSecretRow(context.Background(), rowKey(encryptedRowPrefix, "runware", "default"), []byte("not-really-ciphertext"), []byte("short-nonce")))

	val, level, found, err := v.Get(context.Background(), "runware", "default")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, LevelEncrypted, level)
	assert.Equal(t, "not-really-ciphertext", val)
}

func TestGetFallsThroughToPlaintextTier(t *testing.T) {
	cat := newFakeCatalog()
	v := noKeychainVault(cat)
	require.NoError(t, cat.PutSecretRow(context.Background(), rowKey(plaintextRowPrefix, "openai", "legacy"), []byte("legacy-key"), nil))

	val, level, found, err := v.Get(context.Background(), "openai", "legacy")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, LevelPlaintext, level)
	assert.Equal(t, "legacy-key", val)
}

func TestDeleteRemovesFromAllTiers(t *testing.T) {
	cat := newFakeCatalog()
	v := noKeychainVault(cat)
	require.NoError(t, v.Set(context.Background(), "openai", "default", "sk-abc"))

	require.NoError(t, v.Delete(context.Background(), "openai", "default"))

	_, _, found, err := v.Get(context.Background(), "openai", "default")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNotFoundReportsNotFound(t *testing.T) {
	cat := newFakeCatalog()
	v := noKeychainVault(cat)

	_, _, found, err := v.Get(context.Background(), "openai", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
