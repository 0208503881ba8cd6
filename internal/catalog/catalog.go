// Package catalog is the durable store for Configurations, Executions and
// GeneratedImages (spec §4.1): JSON-in-column for nested settings
// documents, migration-on-open, and a single-writer/many-readers SQLite
// connection, the way the teacher's storage/sqlite package is built, but
// carrying three tables instead of one and a typed Busy-retry policy.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ascensum/genimagefactory/internal/catalog/migrations"
	"github.com/ascensum/genimagefactory/internal/logging"
)

// Catalog is the single entry point for all durable reads/writes. All
// writes serialize on SQLite's own writer lock; reads run on a shared pool
// against WAL snapshots.
type Catalog struct {
	db      *sqlx.DB
	logger  *slog.Logger
	metrics *Metrics
	path    string
}

// maxBusyRetries and the jitter bounds implement spec §7: CatalogError{Busy}
// is retried up to 5 times with 10-200ms jittered backoff.
const (
	maxBusyRetries  = 5
	busyJitterFloor = 10 * time.Millisecond
	busyJitterSpan  = 190 * time.Millisecond
)

// Open creates the parent directory if needed, opens (or creates) the
// SQLite file in WAL mode, and runs pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger, metrics *Metrics) (*Catalog, error) {
	if path == "" {
		return nil, &Error{Kind: KindOpen, Op: "open", Err: fmt.Errorf("catalog path cannot be empty")}
	}
	if strings.Contains(path, "..") {
		return nil, &Error{Kind: KindOpen, Op: "open", Err: fmt.Errorf("path must not contain '..': %s", path)}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &Error{Kind: KindOpen, Op: "open", Err: err}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, &Error{Kind: KindOpen, Op: "open", Err: err}
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Kind: KindOpen, Op: "open", Err: err}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, &Error{Kind: KindOpen, Op: "open", Err: err}
	}

	c := &Catalog{
		db:      db,
		logger:  logging.ForComponent(logger, "catalog"),
		metrics: metrics,
		path:    path,
	}

	if err := migrations.Up(ctx, db.DB, c.logger); err != nil {
		db.Close()
		return nil, &Error{Kind: KindOpen, Op: "migrate", Err: err}
	}

	if err := os.Chmod(path, 0o600); err != nil {
		c.logger.Warn("failed to restrict catalog file permissions", "error", err)
	}

	c.logger.Info("catalog opened", "path", path)
	return c, nil
}

// Close releases the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the catalog's backing file.
func (c *Catalog) Path() string { return c.path }

// nowUTC returns the current time in UTC, the store's canonical timestamp
// zone (spec §4.1). It does not truncate sub-second precision.
func nowUTC() time.Time {
	return time.Now().UTC()
}

// withRetry runs fn, retrying on SQLITE_BUSY up to maxBusyRetries times
// with jittered backoff, per spec §7.
func (c *Catalog) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusySQLiteError(err) {
			return classify(op, err)
		}
		lastErr = err
		if c.metrics != nil {
			c.metrics.BusyRetriesTotal.Inc()
		}
		if attempt == maxBusyRetries {
			break
		}
		wait := busyJitterFloor + time.Duration(rand.Int63n(int64(busyJitterSpan)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return &Error{Kind: KindBusy, Op: op, Err: lastErr}
}

func isBusySQLiteError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// classify maps a raw driver error into the CatalogError taxonomy of §4.1.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_CORRUPT"):
		return &Error{Kind: KindCorrupt, Op: op, Err: err}
	case strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "FOREIGN KEY constraint") || strings.Contains(msg, "NOT NULL constraint"):
		return &Error{Kind: KindConstraint, Op: op, Err: err}
	default:
		return &Error{Kind: KindConstraint, Op: op, Err: err}
	}
}

func (c *Catalog) recordOutcome(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	c.metrics.OperationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
