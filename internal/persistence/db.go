// Package persistence provides SQLite-based storage for simulation runs.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/seir-lattice/internal/stats"
)

// ErrUnknownRun is returned when a run ID has no row in the runs table.
var ErrUnknownRun = errors.New("unknown run")

// Run is one simulation run's metadata.
type Run struct {
	ID         string    `db:"id" json:"id"`
	Seed       int64     `db:"seed" json:"seed"`
	ConfigJSON string    `db:"config_json" json:"config"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	Days       int       `db:"days" json:"days"`
	Finished   bool      `db:"finished" json:"finished"`
}

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		days INTEGER NOT NULL DEFAULT 0,
		finished INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS daily_stats (
		run_id TEXT NOT NULL REFERENCES runs(id),
		day INTEGER NOT NULL,
		susceptible INTEGER NOT NULL,
		exposed INTEGER NOT NULL,
		infectious INTEGER NOT NULL,
		removed INTEGER NOT NULL,
		PRIMARY KEY (run_id, day)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun inserts or replaces a run's metadata.
func (db *DB) SaveRun(r Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := db.conn.NamedExec(`INSERT OR REPLACE INTO runs
		(id, seed, config_json, started_at, days, finished)
		VALUES (:id, :seed, :config_json, :started_at, :days, :finished)`, r)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun records the number of completed days and marks the run done.
func (db *DB) FinishRun(runID string, days int) error {
	res, err := db.conn.Exec("UPDATE runs SET days = ?, finished = 1 WHERE id = ?", days, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish %s: %w", runID, ErrUnknownRun)
	}
	return nil
}

// Run fetches one run by ID.
func (db *DB) Run(runID string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, seed, config_json, started_at, days, finished FROM runs WHERE id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", runID, ErrUnknownRun)
	}
	return r, err
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	runs := []Run{}
	err := db.conn.Select(&runs,
		"SELECT id, seed, config_json, started_at, days, finished FROM runs ORDER BY started_at DESC, id LIMIT ?",
		limit,
	)
	return runs, err
}

// SaveDay upserts one day's compartment counts.
func (db *DB) SaveDay(runID string, row stats.Row) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO daily_stats
		(run_id, day, susceptible, exposed, infectious, removed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, row.Day, row.Susceptible, row.Exposed, row.Infectious, row.Removed,
	)
	return err
}

// SaveTable replaces a run's daily counts with the given table.
func (db *DB) SaveTable(runID string, table stats.Table) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM daily_stats WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO daily_stats
		(run_id, day, susceptible, exposed, infectious, removed)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range table {
		if _, err := stmt.Exec(runID, row.Day, row.Susceptible, row.Exposed, row.Infectious, row.Removed); err != nil {
			return fmt.Errorf("insert day %d: %w", row.Day, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("stats table saved", "run", runID, "days", len(table))
	return nil
}

// LoadTable returns a run's daily counts ordered by day.
func (db *DB) LoadTable(runID string) (stats.Table, error) {
	table := stats.Table{}
	err := db.conn.Select(&table,
		`SELECT day, susceptible, exposed, infectious, removed
		 FROM daily_stats WHERE run_id = ? ORDER BY day`,
		runID,
	)
	return table, err
}

// SaveMeta stores a key-value pair in the metadata table.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
