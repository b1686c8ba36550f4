package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/crypto_vbo_bot/internal/domain"
)

// SQLiteLedger is the append-only trade ledger shared by all accounts.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	ledger := &SQLiteLedger{db: db}
	if err := ledger.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return ledger, nil
}

func (s *SQLiteLedger) initSchema() error {
	query := `CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts DATETIME NOT NULL,
		account TEXT NOT NULL,
		action TEXT NOT NULL,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		amount REAL NOT NULL,
		profit_pct REAL,
		profit_krw REAL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("init trades schema: %w", err)
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_account_ts ON trades(account, ts);`)
	return err
}

func (s *SQLiteLedger) Append(ctx context.Context, rec *domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (ts, account, action, symbol, price, quantity, amount, profit_pct, profit_krw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.Format(time.RFC3339), rec.Account, rec.Action, rec.Symbol,
		rec.Price, rec.Quantity, rec.Amount, rec.ProfitPct, rec.ProfitKRW,
	)
	if err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

func (s *SQLiteLedger) ListRecent(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, account, action, symbol, price, quantity, amount, profit_pct, profit_krw
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var ts string
		if err := rows.Scan(&ts, &rec.Account, &rec.Action, &rec.Symbol,
			&rec.Price, &rec.Quantity, &rec.Amount, &rec.ProfitPct, &rec.ProfitKRW); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
