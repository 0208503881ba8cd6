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

type imageRow struct {
	ID                 int64          `db:"id"`
	ExecutionID        sql.NullInt64  `db:"execution_id"`
	MappingID          string         `db:"mapping_id"`
	Prompt             string         `db:"prompt"`
	Seed               sql.NullInt64  `db:"seed"`
	QCStatus           string         `db:"qc_status"`
	QCReason           sql.NullString `db:"qc_reason"`
	FinalPath          sql.NullString `db:"final_path"`
	Metadata           sql.NullString `db:"metadata"`
	ProcessingSettings string         `db:"processing_settings"`
	CreatedAt          string         `db:"created_at"`
}

func (r imageRow) toModel() (model.GeneratedImage, error) {
	var proc config.ProcessingSnapshot
	if r.ProcessingSettings != "" {
		if err := json.Unmarshal([]byte(r.ProcessingSettings), &proc); err != nil {
			return model.GeneratedImage{}, err
		}
	}
	created, _ := time.Parse(time.RFC3339, r.CreatedAt)
	img := model.GeneratedImage{
		ID:                 r.ID,
		MappingID:          r.MappingID,
		Prompt:             r.Prompt,
		QCStatus:           model.QCStatus(r.QCStatus),
		ProcessingSettings: proc,
		CreatedAt:          created,
	}
	if r.ExecutionID.Valid {
		id := r.ExecutionID.Int64
		img.ExecutionID = &id
	}
	if r.Seed.Valid {
		s := r.Seed.Int64
		img.Seed = &s
	}
	if r.QCReason.Valid {
		reason := r.QCReason.String
		img.QCReason = &reason
	}
	if r.FinalPath.Valid {
		p := r.FinalPath.String
		img.FinalPath = &p
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		var md model.Metadata
		if err := json.Unmarshal([]byte(r.Metadata.String), &md); err != nil {
			return model.GeneratedImage{}, err
		}
		img.Metadata = &md
	}
	return img, nil
}

// SaveImage inserts a new GeneratedImage row (the first outcome for a
// mapping id within an execution) and returns its id.
func (c *Catalog) SaveImage(ctx context.Context, img model.GeneratedImage) (int64, error) {
	start := time.Now()
	proc, err := json.Marshal(img.ProcessingSettings)
	if err != nil {
		return 0, &Error{Kind: KindConstraint, Op: "saveImage", Err: err}
	}
	var metadataJSON any
	if img.Metadata != nil {
		raw, err := json.Marshal(img.Metadata)
		if err != nil {
			return 0, &Error{Kind: KindConstraint, Op: "saveImage", Err: err}
		}
		metadataJSON = string(raw)
	}
	var execID any
	if img.ExecutionID != nil {
		execID = *img.ExecutionID
	}
	var seed any
	if img.Seed != nil {
		seed = *img.Seed
	}
	var qcReason any
	if img.QCReason != nil {
		qcReason = *img.QCReason
	}
	var finalPath any
	if img.FinalPath != nil {
		finalPath = *img.FinalPath
	}
	createdAt := img.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}

	var id int64
	err = c.withRetry(ctx, "saveImage", func() error {
		res, err := c.db.ExecContext(ctx, `
			INSERT INTO generated_images (execution_id, mapping_id, prompt, seed, qc_status, qc_reason, final_path, metadata, processing_settings, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			execID, img.MappingID, img.Prompt, seed, string(img.QCStatus), qcReason, finalPath, metadataJSON,
			string(proc), createdAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	c.recordOutcome("saveImage", start, err)
	return id, err
}

// ImageFields is a sparse update for UpdateImage/UpdateImageByMapping.
type ImageFields struct {
	QCStatus           *model.QCStatus
	QCReason           *string
	FinalPath          *string
	Metadata           *model.Metadata
	ProcessingSettings *config.ProcessingSnapshot
}

func (f ImageFields) toSetClause() (string, []any, error) {
	var sets []string
	var args []any
	if f.QCStatus != nil {
		sets = append(sets, "qc_status = ?")
		args = append(args, string(*f.QCStatus))
	}
	if f.QCReason != nil {
		sets = append(sets, "qc_reason = ?")
		args = append(args, *f.QCReason)
	}
	if f.FinalPath != nil {
		sets = append(sets, "final_path = ?")
		args = append(args, *f.FinalPath)
	}
	if f.Metadata != nil {
		raw, err := json.Marshal(f.Metadata)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(raw))
	}
	if f.ProcessingSettings != nil {
		raw, err := json.Marshal(*f.ProcessingSettings)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, "processing_settings = ?")
		args = append(args, string(raw))
	}
	return strings.Join(sets, ", "), args, nil
}

// UpdateImage applies a sparse field update by primary key id.
func (c *Catalog) UpdateImage(ctx context.Context, id int64, fields ImageFields) error {
	start := time.Now()
	setClause, args, err := fields.toSetClause()
	if err != nil {
		return &Error{Kind: KindConstraint, Op: "updateImage", Err: err}
	}
	if setClause == "" {
		return nil
	}
	args = append(args, id)
	err = c.withRetry(ctx, "updateImage", func() error {
		_, err := c.db.ExecContext(ctx, fmt.Sprintf(`UPDATE generated_images SET %s WHERE id = ?`, setClause), args...)
		return err
	})
	c.recordOutcome("updateImage", start, err)
	return err
}

// UpdateImageByMapping updates the row for (executionId, mappingId): this
// is how a retry overwrites a prior outcome in place (spec §3), preserving
// execution_id and created_at.
func (c *Catalog) UpdateImageByMapping(ctx context.Context, executionID int64, mappingID string, fields ImageFields) error {
	start := time.Now()
	setClause, args, err := fields.toSetClause()
	if err != nil {
		return &Error{Kind: KindConstraint, Op: "updateImageByMapping", Err: err}
	}
	if setClause == "" {
		return nil
	}
	args = append(args, executionID, mappingID)
	err = c.withRetry(ctx, "updateImageByMapping", func() error {
		_, err := c.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE generated_images SET %s WHERE execution_id = ? AND mapping_id = ?`, setClause), args...)
		return err
	})
	c.recordOutcome("updateImageByMapping", start, err)
	return err
}

// GetImage returns one GeneratedImage by id.
func (c *Catalog) GetImage(ctx context.Context, id int64) (model.GeneratedImage, error) {
	start := time.Now()
	var row imageRow
	err := c.withRetry(ctx, "getImage", func() error {
		return c.db.GetContext(ctx, &row, `
			SELECT id, execution_id, mapping_id, prompt, seed, qc_status, qc_reason, final_path, metadata, processing_settings, created_at
			FROM generated_images WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		c.recordOutcome("getImage", start, err)
		return model.GeneratedImage{}, &NotFoundError{Entity: "image", Key: id}
	}
	c.recordOutcome("getImage", start, err)
	if err != nil {
		return model.GeneratedImage{}, err
	}
	return row.toModel()
}

// GetImageByMapping returns the row for (executionId, mappingId).
func (c *Catalog) GetImageByMapping(ctx context.Context, executionID int64, mappingID string) (model.GeneratedImage, error) {
	start := time.Now()
	var row imageRow
	err := c.withRetry(ctx, "getImageByMapping", func() error {
		return c.db.GetContext(ctx, &row, `
			SELECT id, execution_id, mapping_id, prompt, seed, qc_status, qc_reason, final_path, metadata, processing_settings, created_at
			FROM generated_images WHERE execution_id = ? AND mapping_id = ?`, executionID, mappingID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		c.recordOutcome("getImageByMapping", start, err)
		return model.GeneratedImage{}, &NotFoundError{Entity: "image", Key: mappingID}
	}
	c.recordOutcome("getImageByMapping", start, err)
	if err != nil {
		return model.GeneratedImage{}, err
	}
	return row.toModel()
}

// ImageFilter narrows ListImages.
type ImageFilter struct {
	ExecutionID *int64
	QCStatus    *model.QCStatus
}

// ListImages returns images matching filter, most recent first.
func (c *Catalog) ListImages(ctx context.Context, filter ImageFilter) ([]model.GeneratedImage, error) {
	start := time.Now()
	var clauses []string
	var args []any
	if filter.ExecutionID != nil {
		clauses = append(clauses, "execution_id = ?")
		args = append(args, *filter.ExecutionID)
	}
	if filter.QCStatus != nil {
		clauses = append(clauses, "qc_status = ?")
		args = append(args, string(*filter.QCStatus))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var rows []imageRow
	err := c.withRetry(ctx, "listImages", func() error {
		return c.db.SelectContext(ctx, &rows, `
			SELECT id, execution_id, mapping_id, prompt, seed, qc_status, qc_reason, final_path, metadata, processing_settings, created_at
			FROM generated_images`+where+` ORDER BY created_at DESC`, args...)
	})
	c.recordOutcome("listImages", start, err)
	if err != nil {
		return nil, err
	}
	out := make([]model.GeneratedImage, 0, len(rows))
	for _, r := range rows {
		img, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

// BulkDeleteImages deletes the given ids and returns how many rows were
// actually removed; repeated calls with the same ids return 0 (spec §8
// idempotence).
func (c *Catalog) BulkDeleteImages(ctx context.Context, ids []int64) (int, error) {
	start := time.Now()
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	var affected int64
	err := c.withRetry(ctx, "bulkDeleteImages", func() error {
		res, err := c.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM generated_images WHERE id IN (%s)`, strings.Join(placeholders, ",")), args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	c.recordOutcome("bulkDeleteImages", start, err)
	return int(affected), err
}
