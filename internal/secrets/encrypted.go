package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"os"

	"github.com/ascensum/genimagefactory/internal/catalog"
)

const encryptedRowPrefix = "enc"

// encryptedTier is SecretsVault's tier 2 (spec §4.2): AES-GCM with a
// machine-derived 32-byte key, row stored via Catalog. crypto/aes and
// crypto/cipher are the spec's own named algorithm and no pack library
// wraps AES-GCM usefully beyond them, so this tier is a justified stdlib
// use (see DESIGN.md) rather than a gap in dependency coverage.
type encryptedTier struct {
	cat Catalog
	key [32]byte
}

func newEncryptedTier(cat Catalog) *encryptedTier {
	return &encryptedTier{cat: cat, key: deriveMachineKey()}
}

// deriveMachineKey hashes the host's identity into a stable 32-byte AES
// key. It is deliberately deterministic across process restarts on the
// same machine (so a row encrypted yesterday still decrypts today) and
// deliberately not portable across machines (so a copied catalog file
// alone does not leak credentials).
func deriveMachineKey() [32]byte {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "genimagefactory-unknown-host"
	}
	return sha256.Sum256([]byte("genimagefactory-secrets-v1:" + host))
}

func (t *encryptedTier) Level() SecurityLevel { return LevelEncrypted }

func (t *encryptedTier) Available(ctx context.Context) bool {
	return t.cat != nil
}

func (t *encryptedTier) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(t.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (t *encryptedTier) Get(ctx context.Context, service, account string) (string, bool, error) {
	name := rowKey(encryptedRowPrefix, service, account)
	ciphertext, nonce, err := t.cat.GetSecretRow(ctx, name)
	var nf *catalog.NotFoundError
	if errors.As(err, &nf) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	gcm, err := t.gcm()
	if err != nil {
		return "", false, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// §4.2: "a failed decrypt for tier-2 returns the input string
		// unchanged" — the row predates this machine's key, or is simply
		// not AES-GCM; surface it as-is rather than losing it.
		return string(ciphertext), true, nil
	}
	return string(plaintext), true, nil
}

func (t *encryptedTier) Set(ctx context.Context, service, account, value string) error {
	gcm, err := t.gcm()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(value), nil)
	return t.cat.PutSecretRow(ctx, rowKey(encryptedRowPrefix, service, account), ciphertext, nonce)
}

func (t *encryptedTier) Delete(ctx context.Context, service, account string) error {
	return t.cat.DeleteSecretRow(ctx, rowKey(encryptedRowPrefix, service, account))
}
