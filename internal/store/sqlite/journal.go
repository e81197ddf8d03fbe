// Package sqlite records fired alerts in an append-only SQLite journal for
// audit. Nothing read from the journal feeds back into alert state.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"btcalerts/internal/notification"
)

// Journal persists alerts and implements notification.Notifier.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// Record is a row of the alerts table.
type Record struct {
	ID      string    `json:"id"`
	Key     string    `json:"key"`
	Kind    string    `json:"kind"`
	Level   string    `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Price   float64   `json:"price"`
	FiredAt time.Time `json:"fired_at"`
}

// Open opens (or creates) the journal database in WAL mode.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log := slog.With("component", "journal")
	log.Info("opened alert journal", "path", dbPath)
	return &Journal{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			id       TEXT    NOT NULL,
			key      TEXT    NOT NULL,
			kind     TEXT    NOT NULL,
			level    TEXT    NOT NULL,
			title    TEXT    NOT NULL,
			message  TEXT,
			price    REAL,
			fired_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts(key);
		CREATE INDEX IF NOT EXISTS idx_alerts_fired_at ON alerts(fired_at);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Send appends the alert to the journal.
func (j *Journal) Send(ctx context.Context, a notification.Alert) error {
	firedAt := a.TS
	if firedAt.IsZero() {
		firedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO alerts (id, key, kind, level, title, message, price, fired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Key, a.Kind, string(a.Level), a.Title, a.Message, a.Price, firedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Recent returns the last limit alerts, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, key, kind, level, title, message, price, fired_at
		 FROM alerts ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			message sql.NullString
			price   sql.NullFloat64
			firedMs int64
		)
		if err := rows.Scan(&r.ID, &r.Key, &r.Kind, &r.Level, &r.Title, &message, &price, &firedMs); err != nil {
			j.log.Warn("skip unreadable row", "error", err)
			continue
		}
		r.Message = message.String
		r.Price = price.Float64
		r.FiredAt = time.UnixMilli(firedMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
