// Package export writes interval stores into SQLite databases.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"tracefold/internal/attr"
	"tracefold/internal/store"
)

// batchSize is the number of rows inserted per transaction.
const batchSize = 10000

// SQLiteExporter writes traces into one database file.
type SQLiteExporter struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteExporter opens (or creates) the database at dsn and applies the
// schema.
func NewSQLiteExporter(dsn string, log *slog.Logger) (*SQLiteExporter, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	e := &SQLiteExporter{db: db, log: log}
	if err := e.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return e, nil
}

func (e *SQLiteExporter) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			intervals INTEGER NOT NULL,
			min_start_ns INTEGER NOT NULL,
			max_end_ns INTEGER NOT NULL,
			exported_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS slots (
			trace_id INTEGER NOT NULL,
			quark INTEGER NOT NULL,
			process TEXT NOT NULL,
			thread TEXT NOT NULL,
			depth INTEGER NOT NULL,
			PRIMARY KEY (trace_id, quark),
			FOREIGN KEY (trace_id) REFERENCES traces(trace_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS intervals (
			trace_id INTEGER NOT NULL,
			quark INTEGER NOT NULL,
			label TEXT NOT NULL,
			start_ns INTEGER NOT NULL,
			end_ns INTEGER NOT NULL,
			FOREIGN KEY (trace_id) REFERENCES traces(trace_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intervals_start ON intervals(trace_id, start_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_intervals_label ON intervals(trace_id, label)`,
	}
	for _, m := range migrations {
		if _, err := e.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// DB exposes the connection for callers that query the export directly.
func (e *SQLiteExporter) DB() *sql.DB { return e.db }

// Close closes the database connection.
func (e *SQLiteExporter) Close() error {
	return e.db.Close()
}

// Export replaces any previous export of name with the contents of st and
// returns the number of intervals written.
func (e *SQLiteExporter) Export(ctx context.Context, name string, st *store.Store) (n int64, err error) {
	meta := st.Meta()
	if _, err := e.db.ExecContext(ctx, `DELETE FROM traces WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("delete previous export: %w", err)
	}
	res, err := e.db.ExecContext(ctx,
		`INSERT INTO traces (name, intervals, min_start_ns, max_end_ns) VALUES (?, ?, ?, ?)`,
		name, meta.Count, meta.MinStart, meta.MaxEnd)
	if err != nil {
		return 0, fmt.Errorf("insert trace: %w", err)
	}
	traceID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := e.exportSlots(ctx, traceID, st.Quarks()); err != nil {
		return 0, err
	}

	c, err := st.IterateAll()
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()

	var tx *sql.Tx
	var stmt *sql.Stmt
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := multierr.Append(stmt.Close(), tx.Commit())
		tx, stmt = nil, nil
		return err
	}
	defer func() {
		if tx != nil {
			err = multierr.Append(err, multierr.Append(stmt.Close(), tx.Rollback()))
		}
	}()

	for c.Next() {
		if tx == nil {
			if tx, err = e.db.BeginTx(ctx, nil); err != nil {
				return n, err
			}
			if stmt, err = tx.PrepareContext(ctx, `INSERT INTO intervals (trace_id, quark, label, start_ns, end_ns) VALUES (?, ?, ?, ?, ?)`); err != nil {
				rbErr := tx.Rollback()
				tx = nil
				return n, multierr.Append(err, rbErr)
			}
		}
		iv := c.Interval()
		if _, err := stmt.ExecContext(ctx, traceID, int64(iv.Quark), iv.Label, iv.Start, iv.End); err != nil {
			return n, fmt.Errorf("insert interval: %w", err)
		}
		n++
		if n%batchSize == 0 {
			if err := commit(); err != nil {
				return n, err
			}
		}
	}
	if err := c.Err(); err != nil {
		return n, err
	}
	if err := commit(); err != nil {
		return n, err
	}
	e.log.Info("exported intervals", "trace", name, "intervals", n)
	return n, nil
}

func (e *SQLiteExporter) exportSlots(ctx context.Context, traceID int64, tab *attr.Table) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO slots (trace_id, quark, process, thread, depth) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	for _, entry := range tab.Entries() {
		slot, ok := tab.SlotOf(entry.Quark)
		if !ok {
			continue
		}
		if _, err := stmt.ExecContext(ctx, traceID, int64(entry.Quark), slot.Process, slot.Thread, slot.Index); err != nil {
			return multierr.Combine(fmt.Errorf("insert slot: %w", err), stmt.Close(), tx.Rollback())
		}
	}
	return multierr.Append(stmt.Close(), tx.Commit())
}
