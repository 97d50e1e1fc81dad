// Package journal persists executed trading actions to SQLite for analysis
// and audit. Every confirmed action is one row; rejected actions are never
// journaled since their state transition was not committed.
package journal

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"perptrader/internal/decision"
)

// Journal is the SQLite-backed action log.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// New opens (or creates) the journal database.
func New(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT NOT NULL,
		type        TEXT NOT NULL,
		side        TEXT NOT NULL,
		size        REAL DEFAULT 0,
		percentage  REAL DEFAULT 0,
		stop_price  REAL DEFAULT 0,
		price       REAL NOT NULL,
		reason      TEXT,
		bar_ts      DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_actions_symbol ON actions(symbol);
	CREATE INDEX IF NOT EXISTS idx_actions_bar_ts ON actions(bar_ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened action journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record persists one confirmed action. price is the bar close the decision
// was made on; barTS identifies the evaluated bar.
func (j *Journal) Record(symbol string, act decision.Action, price float64, barTS time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO actions (symbol, type, side, size, percentage, stop_price, price, reason, bar_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		symbol,
		string(act.Type),
		string(act.Side),
		act.Size,
		act.Percentage,
		act.StopPrice,
		price,
		act.Reason,
		barTS.UTC().Format(time.RFC3339),
	)
	return err
}

// Record represents a journaled action row.
type Record struct {
	ID         int64   `json:"id"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	Percentage float64 `json:"percentage"`
	StopPrice  float64 `json:"stop_price"`
	Price      float64 `json:"price"`
	Reason     string  `json:"reason"`
	BarTS      string  `json:"bar_ts"`
}

// Recent returns the last N actions, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, symbol, type, side, size, percentage, stop_price, price, reason, bar_ts
		 FROM actions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Type, &r.Side, &r.Size,
			&r.Percentage, &r.StopPrice, &r.Price, &r.Reason, &r.BarTS); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
