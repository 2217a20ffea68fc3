package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"goldscalper/internal/model"
)

// Journal persists closed trades to SQLite for analysis and audit.
// A (session, ticket) pair is stored once, so duplicate closure
// notifications are harmless.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS closed_trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		ticket       TEXT NOT NULL,
		side         TEXT NOT NULL,
		entry_price  INTEGER NOT NULL,
		exit_price   INTEGER NOT NULL,
		lot_size     TEXT NOT NULL,
		pnl          TEXT NOT NULL,
		close_reason TEXT NOT NULL DEFAULT '',
		opened_at    TEXT NOT NULL,
		closed_at    TEXT NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, ticket)
	);
	CREATE INDEX IF NOT EXISTS idx_closed_trades_closed_at ON closed_trades(closed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordTrade persists a closed trade. Re-recording a ticket is a no-op.
func (j *Journal) RecordTrade(ctx context.Context, sessionID string, t model.ClosedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO closed_trades
		 (session_id, ticket, side, entry_price, exit_price, lot_size, pnl, close_reason, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		t.Ticket,
		string(t.Side),
		t.EntryPrice,
		t.ExitPrice,
		t.LotSize.String(),
		t.PnL.String(),
		t.CloseReason,
		t.OpenedAt.UTC().Format(time.RFC3339Nano),
		t.ClosedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", t.Ticket, err)
	}
	return nil
}

// Trades returns the last N trades of a session, newest first.
func (j *Journal) Trades(ctx context.Context, sessionID string, limit int) ([]model.ClosedTrade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT ticket, side, entry_price, exit_price, lot_size, pnl, close_reason, opened_at, closed_at
		 FROM closed_trades WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.ClosedTrade
	for rows.Next() {
		var (
			t                  model.ClosedTrade
			side, lots, pnl    string
			openedAt, closedAt string
		)
		if err := rows.Scan(&t.Ticket, &side, &t.EntryPrice, &t.ExitPrice, &lots, &pnl,
			&t.CloseReason, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		if t.LotSize, err = decimal.NewFromString(lots); err != nil {
			return nil, fmt.Errorf("journal: ticket %s lot_size: %w", t.Ticket, err)
		}
		if t.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("journal: ticket %s pnl: %w", t.Ticket, err)
		}
		t.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
		t.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
