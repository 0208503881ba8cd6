package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/model"
)

type configurationRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Settings  string    `db:"settings"`
	CreatedAt string    `db:"created_at"`
	UpdatedAt string    `db:"updated_at"`
}

func (r configurationRow) toModel() (model.Configuration, error) {
	var settings config.Settings
	if err := json.Unmarshal([]byte(r.Settings), &settings); err != nil {
		return model.Configuration{}, err
	}
	created, _ := time.Parse(time.RFC3339, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	return model.Configuration{
		ID:        r.ID,
		Name:      r.Name,
		Settings:  settings,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

// SaveConfiguration upserts by name (spec §4.1) and returns the row id.
func (c *Catalog) SaveConfiguration(ctx context.Context, name string, settings config.Settings) (int64, error) {
	start := time.Now()
	raw, err := json.Marshal(settings)
	if err != nil {
		return 0, &Error{Kind: KindConstraint, Op: "saveConfiguration", Err: err}
	}
	now := nowUTC().Format(time.RFC3339)

	var id int64
	err = c.withRetry(ctx, "saveConfiguration", func() error {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO configurations (name, settings, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at
		`, name, string(raw), now, now)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if id == 0 {
			// ON CONFLICT UPDATE path: LastInsertId is 0, look the row up.
			if err := tx.GetContext(ctx, &id, `SELECT id FROM configurations WHERE name = ?`, name); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	c.recordOutcome("saveConfiguration", start, err)
	return id, err
}

// GetConfigurationByID returns the Configuration with the given id.
func (c *Catalog) GetConfigurationByID(ctx context.Context, id int64) (model.Configuration, error) {
	return c.getConfiguration(ctx, "id = ?", id)
}

// GetConfigurationByName returns the Configuration with the given name.
func (c *Catalog) GetConfigurationByName(ctx context.Context, name string) (model.Configuration, error) {
	return c.getConfiguration(ctx, "name = ?", name)
}

func (c *Catalog) getConfiguration(ctx context.Context, where string, arg any) (model.Configuration, error) {
	start := time.Now()
	var row configurationRow
	err := c.withRetry(ctx, "getConfiguration", func() error {
		return c.db.GetContext(ctx, &row, `
			SELECT id, name, settings, created_at, updated_at FROM configurations WHERE `+where, arg)
	})
	if errors.Is(err, sql.ErrNoRows) {
		c.recordOutcome("getConfiguration", start, err)
		return model.Configuration{}, &NotFoundError{Entity: "configuration", Key: arg}
	}
	if err != nil {
		c.recordOutcome("getConfiguration", start, err)
		return model.Configuration{}, err
	}
	c.recordOutcome("getConfiguration", start, nil)
	return row.toModel()
}

// ListConfigurations returns every Configuration ordered by updated_at
// desc. Never served from a cache (ordering-sensitive, per SPEC_FULL §3).
func (c *Catalog) ListConfigurations(ctx context.Context) ([]model.Configuration, error) {
	start := time.Now()
	var rows []configurationRow
	err := c.withRetry(ctx, "listConfigurations", func() error {
		return c.db.SelectContext(ctx, &rows, `
			SELECT id, name, settings, created_at, updated_at
			FROM configurations ORDER BY updated_at DESC`)
	})
	c.recordOutcome("listConfigurations", start, err)
	if err != nil {
		return nil, err
	}
	out := make([]model.Configuration, 0, len(rows))
	for _, r := range rows {
		cfg, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// DeleteConfiguration removes the configuration. Its Executions are not
// deleted: configuration_id is set null (ON DELETE SET NULL) so a prior
// run remains reachable for history/export/rerun, as Execution's own
// nullable configuration_id implies (see DESIGN.md open question).
func (c *Catalog) DeleteConfiguration(ctx context.Context, id int64) error {
	start := time.Now()
	err := c.withRetry(ctx, "deleteConfiguration", func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM configurations WHERE id = ?`, id)
		return err
	})
	c.recordOutcome("deleteConfiguration", start, err)
	return err
}
