package recorder

import (
	"database/sql"
	"fmt"

	"dmarket_sync/internal/core"

	"github.com/alitto/pond"
	_ "github.com/mattn/go-sqlite3"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS reconciliations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id       TEXT NOT NULL,
	instance_id    TEXT NOT NULL,
	title          TEXT NOT NULL,
	action         TEXT NOT NULL,
	old_price      TEXT NOT NULL,
	new_price      TEXT NOT NULL,
	top_competing  TEXT NOT NULL,
	order_count    INTEGER NOT NULL,
	detail         TEXT NOT NULL DEFAULT '',
	recorded_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reconciliations_cycle ON reconciliations(cycle_id);
CREATE INDEX IF NOT EXISTS idx_reconciliations_title ON reconciliations(instance_id, title);
`

const insertSQL = `
INSERT INTO reconciliations
	(cycle_id, instance_id, title, action, old_price, new_price, top_competing, order_count, detail, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteRecorder stores records in a local SQLite database. Inserts run on a
// small worker pool; SQLite serializes writers anyway, so one writer
// goroutine is enough and keeps WAL contention down.
type SQLiteRecorder struct {
	db     *sql.DB
	pool   *pond.WorkerPool
	logger core.ILogger
}

// NewSQLiteRecorder opens (creating if needed) the history database at path.
func NewSQLiteRecorder(path string, logger core.ILogger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &SQLiteRecorder{
		db:     db,
		pool:   pond.New(1, 1024),
		logger: logger.WithField("component", "history_recorder"),
	}, nil
}

// Record queues the record for insertion. Failures are logged, not returned;
// history is best-effort and must never fail a cycle.
func (r *SQLiteRecorder) Record(rec ReconciliationRecord) {
	submitted := r.pool.TrySubmit(func() {
		_, err := r.db.Exec(insertSQL,
			rec.CycleID, rec.InstanceID, rec.Title, string(rec.Action),
			rec.OldPrice.String(), rec.NewPrice.String(), rec.TopCompeting.String(),
			rec.OrderCount, rec.Detail, rec.At)
		if err != nil {
			r.logger.Error("Failed to record reconciliation", "title", rec.Title, "error", err)
		}
	})
	if !submitted {
		r.logger.Warn("History queue full, dropping record", "title", rec.Title)
	}
}

// Ping reports whether the database is reachable.
func (r *SQLiteRecorder) Ping() error {
	return r.db.Ping()
}

// Close drains pending writes and closes the database.
func (r *SQLiteRecorder) Close() error {
	r.pool.StopAndWait()
	return r.db.Close()
}
