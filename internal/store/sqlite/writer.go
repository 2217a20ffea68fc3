// Package sqlite persists finished price bars and session snapshots in a
// local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"goldscalper/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/bars.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       INTEGER NOT NULL,
			high       INTEGER NOT NULL,
			low        INTEGER NOT NULL,
			close      INTEGER NOT NULL,
			spread     REAL    NOT NULL DEFAULT 0,
			tick_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS session_snapshots (
			session_key TEXT    PRIMARY KEY,
			data        TEXT    NOT NULL,
			updated_at  INTEGER NOT NULL
		);
	`)
	return err
}

// WriteBars inserts bars in a single transaction. Re-writing a bar with the
// same symbol and time replaces it.
func (w *Writer) WriteBars(ctx context.Context, symbol string, bars []model.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO price_bars (symbol, ts, open, high, low, close, spread, tick_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.SpreadPoints, b.TickCount); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Run reads bars from barCh and writes them in batches, flushing every
// defaultBatchSize bars or every defaultFlushDelay, whichever comes first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, symbol string, barCh <-chan model.PriceBar) {
	batch := make([]model.PriceBar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// the run context may already be cancelled on the final flush
		if err := w.WriteBars(context.Background(), symbol, batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveSessionJSON upserts the session snapshot under sessionKey.
func (w *Writer) SaveSessionJSON(ctx context.Context, sessionKey string, data []byte) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, sessionKey, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite save session %s: %w", sessionKey, err)
	}
	return nil
}

// LoadSessionJSON returns the stored snapshot, or nil, nil when none exists.
func (w *Writer) LoadSessionJSON(ctx context.Context, sessionKey string) ([]byte, error) {
	return loadSession(ctx, w.db, sessionKey)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
