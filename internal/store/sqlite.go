package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/trading"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Realized trade archive
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		security_id TEXT NOT NULL,
		exchange TEXT NOT NULL,
		product TEXT NOT NULL,
		close_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		net_pnl REAL NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settlements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL UNIQUE,
		trades_settled INTEGER NOT NULL,
		charges REAL NOT NULL,
		positions_removed INTEGER NOT NULL,
		margin_released REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get reads a value.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrDataNotFound, "key %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get %q: %v", errors.ErrDatabaseError, key, err)
	}
	return value, nil
}

// Put writes a value, replacing any previous one.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("%w: failed to put %q: %v", errors.ErrDatabaseError, key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: failed to delete %q: %v", errors.ErrDatabaseError, key, err)
	}
	return nil
}

// ArchiveTrade stores a trade. Archiving the same trade twice keeps the
// first copy.
func (s *SQLiteStore) ArchiveTrade(ctx context.Context, t models.TradeLog) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode trade: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (id, timestamp, symbol, security_id, exchange, product, close_type, quantity, realized_pnl, net_pnl, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Timestamp.UTC(), t.Symbol, t.SecurityID, t.Exchange, t.Product, t.Type, t.Quantity, t.RealizedPnL, t.NetPnL, string(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to archive trade: %v", errors.ErrDatabaseError, err)
	}
	return nil
}

// ArchivedTrades returns archived trades, newest first.
func (s *SQLiteStore) ArchivedTrades(ctx context.Context, filter TradeFilter) ([]models.TradeLog, error) {
	query := `SELECT payload FROM trades WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UTC())
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trades: %v", errors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var trades []models.TradeLog
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		var t models.TradeLog
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("failed to decode trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// LogSettlement records a settlement run. One run per date is kept.
func (s *SQLiteStore) LogSettlement(ctx context.Context, res trading.SettlementResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO settlements (date, trades_settled, charges, positions_removed, margin_released)
		VALUES (?, ?, ?, ?, ?)
	`, res.Date, res.TradesSettled, res.Charges, res.PositionsRemoved, res.MarginReleased)
	if err != nil {
		return fmt.Errorf("%w: failed to log settlement: %v", errors.ErrDatabaseError, err)
	}
	return nil
}

// Settlements returns recorded runs, newest first.
func (s *SQLiteStore) Settlements(ctx context.Context, limit int) ([]trading.SettlementResult, error) {
	query := `SELECT date, trades_settled, charges, positions_removed, margin_released FROM settlements ORDER BY date DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query settlements: %v", errors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []trading.SettlementResult
	for rows.Next() {
		var r trading.SettlementResult
		if err := rows.Scan(&r.Date, &r.TradesSettled, &r.Charges, &r.PositionsRemoved, &r.MarginReleased); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
