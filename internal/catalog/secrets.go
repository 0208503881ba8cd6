package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type secretRow struct {
	Name       string `db:"name"`
	Ciphertext []byte `db:"ciphertext"`
	Nonce      []byte `db:"nonce"`
}

// GetSecretRow returns the raw ciphertext/nonce pair stored under name.
// Decryption is SecretsVault's job (internal/secrets); Catalog only
// persists opaque bytes.
func (c *Catalog) GetSecretRow(ctx context.Context, name string) (ciphertext, nonce []byte, err error) {
	start := time.Now()
	var row secretRow
	err = c.withRetry(ctx, "getSecretRow", func() error {
		return c.db.GetContext(ctx, &row, `SELECT name, ciphertext, nonce FROM secrets WHERE name = ?`, name)
	})
	if errors.Is(err, sql.ErrNoRows) {
		c.recordOutcome("getSecretRow", start, err)
		return nil, nil, &NotFoundError{Entity: "secret", Key: name}
	}
	c.recordOutcome("getSecretRow", start, err)
	if err != nil {
		return nil, nil, err
	}
	return row.Ciphertext, row.Nonce, nil
}

// PutSecretRow upserts the encrypted value under name.
func (c *Catalog) PutSecretRow(ctx context.Context, name string, ciphertext, nonce []byte) error {
	start := time.Now()
	now := nowUTC().Format(time.RFC3339)
	err := c.withRetry(ctx, "putSecretRow", func() error {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO secrets (name, ciphertext, nonce, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET ciphertext = excluded.ciphertext, nonce = excluded.nonce, updated_at = excluded.updated_at
		`, name, ciphertext, nonce, now)
		return err
	})
	c.recordOutcome("putSecretRow", start, err)
	return err
}

// DeleteSecretRow removes the row, if any. Deleting a name that does not
// exist is not an error (idempotent, matching "empty write deletes").
func (c *Catalog) DeleteSecretRow(ctx context.Context, name string) error {
	start := time.Now()
	err := c.withRetry(ctx, "deleteSecretRow", func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
		return err
	})
	c.recordOutcome("deleteSecretRow", start, err)
	return err
}
