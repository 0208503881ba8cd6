package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/model"
)

type executionRow struct {
	ID               int64          `db:"id"`
	ConfigurationID  sql.NullInt64  `db:"configuration_id"`
	Label            sql.NullString `db:"label"`
	Status           string         `db:"status"`
	Total            int            `db:"total"`
	Successful       int            `db:"successful"`
	Failed           int            `db:"failed"`
	StartedAt        string         `db:"started_at"`
	CompletedAt      sql.NullString `db:"completed_at"`
	ErrorMessage     sql.NullString `db:"error_message"`
	SettingsSnapshot string         `db:"settings_snapshot"`
}

func (r executionRow) toModel() (model.Execution, error) {
	var snap config.Settings
	if r.SettingsSnapshot != "" {
		if err := json.Unmarshal([]byte(r.SettingsSnapshot), &snap); err != nil {
			return model.Execution{}, err
		}
	}
	started, _ := time.Parse(time.RFC3339, r.StartedAt)
	e := model.Execution{
		ID:     r.ID,
		Status: model.ExecutionStatus(r.Status),
		Totals: model.ExecutionTotals{Total: r.Total, Successful: r.Successful, Failed: r.Failed},
		StartedAt:        started,
		SettingsSnapshot: snap,
	}
	if r.ConfigurationID.Valid {
		id := r.ConfigurationID.Int64
		e.ConfigurationID = &id
	}
	if r.Label.Valid {
		l := r.Label.String
		e.Label = &l
	}
	if r.CompletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, r.CompletedAt.String)
		e.CompletedAt = &t
	}
	if r.ErrorMessage.Valid {
		m := r.ErrorMessage.String
		e.ErrorMessage = &m
	}
	return e, nil
}

// SaveExecution inserts a new Execution row and returns its id.
func (c *Catalog) SaveExecution(ctx context.Context, e model.Execution) (int64, error) {
	start := time.Now()
	snap, err := json.Marshal(e.SettingsSnapshot)
	if err != nil {
		return 0, &Error{Kind: KindConstraint, Op: "saveExecution", Err: err}
	}
	var configID any
	if e.ConfigurationID != nil {
		configID = *e.ConfigurationID
	}
	var label any
	if e.Label != nil {
		label = *e.Label
	}
	startedAt := e.StartedAt
	if startedAt.IsZero() {
		startedAt = nowUTC()
	}

	var id int64
	err = c.withRetry(ctx, "saveExecution", func() error {
		res, err := c.db.ExecContext(ctx, `
			INSERT INTO executions (configuration_id, label, status, total, successful, failed, started_at, settings_snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			configID, label, string(e.Status), e.Totals.Total, e.Totals.Successful, e.Totals.Failed,
			startedAt.Format(time.RFC3339), string(snap))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	c.recordOutcome("saveExecution", start, err)
	return id, err
}

// ExecutionFields is a sparse set of columns for UpdateExecution; nil
// fields are left untouched. CompletedAt follows the same convention
// (nil = untouched); to null it out explicitly (rerun resetting a
// previously-completed row) set ClearCompletedAt instead. started_at is
// NOT NULL in the schema, so a rerun gets a fresh StartedAt rather than a
// null one.
type ExecutionFields struct {
	Status           *model.ExecutionStatus
	Label            *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ClearCompletedAt bool
	ErrorMessage     *string
	Totals           *model.ExecutionTotals
}

// UpdateExecution applies a sparse field update as a single statement.
func (c *Catalog) UpdateExecution(ctx context.Context, id int64, fields ExecutionFields) error {
	start := time.Now()
	sets := make([]string, 0, 6)
	args := make([]any, 0, 6)

	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*fields.Status))
	}
	if fields.Label != nil {
		sets = append(sets, "label = ?")
		args = append(args, *fields.Label)
	}
	if fields.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, fields.StartedAt.Format(time.RFC3339))
	}
	if fields.ClearCompletedAt {
		sets = append(sets, "completed_at = NULL")
	} else if fields.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, fields.CompletedAt.Format(time.RFC3339))
	}
	if fields.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *fields.ErrorMessage)
	}
	if fields.Totals != nil {
		sets = append(sets, "total = ?", "successful = ?", "failed = ?")
		args = append(args, fields.Totals.Total, fields.Totals.Successful, fields.Totals.Failed)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	err := c.withRetry(ctx, "updateExecution", func() error {
		_, err := c.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE executions SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
		return err
	})
	c.recordOutcome("updateExecution", start, err)
	return err
}

// DeleteExecution removes the row; its images cascade via foreign key.
func (c *Catalog) DeleteExecution(ctx context.Context, id int64) error {
	start := time.Now()
	err := c.withRetry(ctx, "deleteExecution", func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
		return err
	})
	c.recordOutcome("deleteExecution", start, err)
	return err
}

// GetExecution returns one Execution by id.
func (c *Catalog) GetExecution(ctx context.Context, id int64) (model.Execution, error) {
	start := time.Now()
	var row executionRow
	err := c.withRetry(ctx, "getExecution", func() error {
		return c.db.GetContext(ctx, &row, `
			SELECT id, configuration_id, label, status, total, successful, failed, started_at, completed_at, error_message, settings_snapshot
			FROM executions WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		c.recordOutcome("getExecution", start, err)
		return model.Execution{}, &NotFoundError{Entity: "execution", Key: id}
	}
	c.recordOutcome("getExecution", start, err)
	if err != nil {
		return model.Execution{}, err
	}
	return row.toModel()
}

// ExecutionFilter narrows ListExecutions/CountExecutions (spec §4.1).
type ExecutionFilter struct {
	Status          *model.ExecutionStatus
	LabelSubstring  string
	StartedAfter    *time.Time
	StartedBefore   *time.Time
	MinTotal        *int
	MaxTotal        *int
}

func (f ExecutionFilter) whereClause() (string, []any) {
	var clauses []string
	var args []any
	if f.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.LabelSubstring != "" {
		clauses = append(clauses, "label LIKE ?")
		args = append(args, "%"+f.LabelSubstring+"%")
	}
	if f.StartedAfter != nil {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, f.StartedAfter.Format(time.RFC3339))
	}
	if f.StartedBefore != nil {
		clauses = append(clauses, "started_at <= ?")
		args = append(args, f.StartedBefore.Format(time.RFC3339))
	}
	if f.MinTotal != nil {
		clauses = append(clauses, "total >= ?")
		args = append(args, *f.MinTotal)
	}
	if f.MaxTotal != nil {
		clauses = append(clauses, "total <= ?")
		args = append(args, *f.MaxTotal)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListExecutions returns a page of Executions ordered by started_at desc.
func (c *Catalog) ListExecutions(ctx context.Context, filter ExecutionFilter, page, pageSize int) ([]model.Execution, error) {
	start := time.Now()
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 0 {
		page = 0
	}
	where, args := filter.whereClause()
	query := `SELECT id, configuration_id, label, status, total, successful, failed, started_at, completed_at, error_message, settings_snapshot
		FROM executions` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, page*pageSize)

	var rows []executionRow
	err := c.withRetry(ctx, "listExecutions", func() error {
		return c.db.SelectContext(ctx, &rows, query, args...)
	})
	c.recordOutcome("listExecutions", start, err)
	if err != nil {
		return nil, err
	}
	out := make([]model.Execution, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CountExecutions counts rows matching filter.
func (c *Catalog) CountExecutions(ctx context.Context, filter ExecutionFilter) (int, error) {
	start := time.Now()
	where, args := filter.whereClause()
	var count int
	err := c.withRetry(ctx, "countExecutions", func() error {
		return c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM executions`+where, args...)
	})
	c.recordOutcome("countExecutions", start, err)
	return count, err
}

// RecomputeExecutionTotals derives {total, successful, failed} from
// generated_images (spec §4.1): total is the expected count already on
// the row (authoritative during the run, per §9 Open Questions), successful
// is the count of rows with a non-null final_path, failed is the remainder.
func (c *Catalog) RecomputeExecutionTotals(ctx context.Context, id int64) error {
	start := time.Now()
	err := c.withRetry(ctx, "recomputeExecutionTotals", func() error {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var expected int
		if err := tx.GetContext(ctx, &expected, `SELECT total FROM executions WHERE id = ?`, id); err != nil {
			return err
		}
		var successful int
		if err := tx.GetContext(ctx, &successful,
			`SELECT COUNT(*) FROM generated_images WHERE execution_id = ? AND final_path IS NOT NULL`, id); err != nil {
			return err
		}
		failed := expected - successful
		if failed < 0 {
			failed = 0
		}
		if _, err := tx.ExecContext(ctx, `UPDATE executions SET successful = ?, failed = ? WHERE id = ?`,
			successful, failed, id); err != nil {
			return err
		}
		return tx.Commit()
	})
	c.recordOutcome("recomputeExecutionTotals", start, err)
	return err
}

// ReconcileAbandonedExecutions marks any Execution left in status=running
// as failed with error_message="abandoned" and recomputes its totals, per
// spec §7 crash recovery. No code in this module calls it; neither
// wiring.Build nor catalog.Open runs it at startup.
func (c *Catalog) ReconcileAbandonedExecutions(ctx context.Context) (int, error) {
	running := model.ExecutionRunning
	var ids []int64
	if err := c.db.SelectContext(ctx, &ids, `SELECT id FROM executions WHERE status = ?`, string(running)); err != nil {
		return 0, err
	}
	for _, id := range ids {
		reason := "abandoned"
		if err := c.UpdateExecution(ctx, id, ExecutionFields{
			Status:       statusPtr(model.ExecutionFailed),
			ErrorMessage: &reason,
			CompletedAt:  timePtr(nowUTC()),
		}); err != nil {
			return 0, err
		}
		if err := c.RecomputeExecutionTotals(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func statusPtr(s model.ExecutionStatus) *model.ExecutionStatus { return &s }
func timePtr(t time.Time) *time.Time                           { return &t }
