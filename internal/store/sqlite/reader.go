package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"goldscalper/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access for warm-up, replay and session restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema must exist.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns bars with Time >= from, ascending.
func (r *Reader) ReadBars(ctx context.Context, symbol string, from time.Time) ([]model.PriceBar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, spread, tick_count
		FROM price_bars
		WHERE symbol = ? AND ts >= ?
		ORDER BY ts ASC
	`, symbol, from.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite query price_bars: %w", err)
	}
	return scanBars(rows)
}

// ReadLastBars returns the newest n bars, ascending.
func (r *Reader) ReadLastBars(ctx context.Context, symbol string, n int) ([]model.PriceBar, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, spread, tick_count FROM (
			SELECT * FROM price_bars WHERE symbol = ? ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC
	`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query last price_bars: %w", err)
	}
	return scanBars(rows)
}

// LastBarTime returns the newest stored bar time, or the zero time.
func (r *Reader) LastBarTime(ctx context.Context, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM price_bars WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// LoadSessionJSON returns the stored snapshot, or nil, nil when none exists.
func (r *Reader) LoadSessionJSON(ctx context.Context, sessionKey string) ([]byte, error) {
	return loadSession(ctx, r.db, sessionKey)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func scanBars(rows *sql.Rows) ([]model.PriceBar, error) {
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		var b model.PriceBar
		var tsMilli int64
		if err := rows.Scan(&tsMilli, &b.Open, &b.High, &b.Low, &b.Close, &b.SpreadPoints, &b.TickCount); err != nil {
			return nil, fmt.Errorf("sqlite scan price_bars: %w", err)
		}
		b.Time = time.UnixMilli(tsMilli).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func loadSession(ctx context.Context, db *sql.DB, sessionKey string) ([]byte, error) {
	var data string
	err := db.QueryRowContext(ctx, `SELECT data FROM session_snapshots WHERE session_key = ?`, sessionKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read session %s: %w", sessionKey, err)
	}
	return []byte(data), nil
}
