package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// SQLiteStore implements Store using SQLite. It is the default backend for
// single-host deployments; the schema matches the Postgres backend column
// for column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based store at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent readers
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
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
	-- Reference data for tradable instruments
	CREATE TABLE IF NOT EXISTS instruments (
		instrument_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		exchange TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daily OHLCV facts with derived indicators and investor net flows
	CREATE TABLE IF NOT EXISTS price_facts (
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		adj_close REAL NOT NULL DEFAULT 0,
		ma5 REAL NOT NULL DEFAULT 0,
		ma20 REAL NOT NULL DEFAULT 0,
		foreign_net INTEGER NOT NULL DEFAULT 0,
		trust_net INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (instrument_id, date)
	);

	-- Directional calls with settle-once outcome fields
	CREATE TABLE IF NOT EXISTS signals (
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		date TEXT NOT NULL,
		signal TEXT NOT NULL,
		probability REAL NOT NULL,
		entry_price REAL NOT NULL DEFAULT 0,
		target_price REAL NOT NULL DEFAULT 0,
		stop_price REAL NOT NULL DEFAULT 0,
		actual_close REAL,
		return_pct REAL,
		is_correct INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		settled_at DATETIME,
		PRIMARY KEY (instrument_id, date)
	);

	-- Simulated accounts
	CREATE TABLE IF NOT EXISTS sim_accounts (
		user_id TEXT PRIMARY KEY,
		cash_balance REAL NOT NULL,
		total_asset REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Simulated orders
	CREATE TABLE IF NOT EXISTS sim_orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		date TEXT NOT NULL,
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		side TEXT NOT NULL,
		price REAL NOT NULL,
		shares INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		fee REAL NOT NULL DEFAULT 0,
		tax REAL NOT NULL DEFAULT 0,
		total_amount REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		filled_at DATETIME
	);

	-- Current positions
	CREATE TABLE IF NOT EXISTS sim_holdings (
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		shares INTEGER NOT NULL CHECK (shares >= 0),
		avg_cost REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, instrument_id)
	);

	-- Append-only trade ledger
	CREATE TABLE IF NOT EXISTS sim_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		trade_time DATETIME NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		shares INTEGER NOT NULL,
		fee REAL NOT NULL DEFAULT 0,
		tax REAL NOT NULL DEFAULT 0,
		total_amount REAL NOT NULL
	);

	-- End-of-day portfolio valuations
	CREATE TABLE IF NOT EXISTS sim_daily_snapshots (
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		date TEXT NOT NULL,
		cash_balance REAL NOT NULL,
		stock_value REAL NOT NULL,
		total_assets REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, date)
	);

	-- Per-user strategy parameters
	CREATE TABLE IF NOT EXISTS strategy_configs (
		user_id TEXT PRIMARY KEY REFERENCES sim_accounts(user_id),
		risk_preference TEXT NOT NULL,
		active_strategy TEXT NOT NULL,
		param_1 INTEGER NOT NULL,
		param_2 INTEGER NOT NULL,
		stop_loss_pct REAL NOT NULL,
		take_profit_pct REAL NOT NULL,
		max_position_size REAL NOT NULL,
		confidence_threshold REAL NOT NULL,
		lot_size INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Aggregate prediction accuracy per date
	CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT PRIMARY KEY,
		total_predictions INTEGER NOT NULL,
		correct_predictions INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		avg_return REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_price_facts_date ON price_facts(date);
	CREATE INDEX IF NOT EXISTS idx_signals_date ON signals(date);
	CREATE INDEX IF NOT EXISTS idx_orders_user_status ON sim_orders(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_orders_date ON sim_orders(date);
	CREATE INDEX IF NOT EXISTS idx_txns_user_time ON sim_transactions(user_id, trade_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapWriteErr translates SQLite constraint violations into the domain error
// taxonomy. key identifies the offending row in error messages.
func mapWriteErr(table, key string, err error) error {
	var serr sqlite3.Error
	if apperrors.As(err, &serr) {
		switch serr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return apperrors.NewReferentialError(table, key, err)
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return apperrors.NewUniquenessError(table, key, err)
		case sqlite3.ErrConstraintCheck:
			return apperrors.NewDomainError(table, key, "check constraint failed")
		}
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			return apperrors.NewConflictError(table, key, "locked", err)
		}
	}
	return apperrors.NewDataError("write", table, key, err)
}

func dateStr(t time.Time) string {
	return t.Format(models.DateFormat)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date %q: %w", s, err)
	}
	return t, nil
}

// ============================================================================
// Instrument Methods
// ============================================================================

// UpsertInstrument inserts or updates reference data for an instrument.
func (s *SQLiteStore) UpsertInstrument(ctx context.Context, inst *models.Instrument) error {
	if inst.ID == "" {
		return apperrors.NewDomainError("instrument_id", inst.ID, "must not be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (instrument_id, name, exchange, category)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (instrument_id) DO UPDATE SET name = excluded.name,
			exchange = excluded.exchange, category = excluded.category
	`, inst.ID, inst.Name, inst.Exchange, inst.Category)
	if err != nil {
		return mapWriteErr("instruments", inst.ID, err)
	}
	return nil
}

// GetInstrument retrieves an instrument by id.
func (s *SQLiteStore) GetInstrument(ctx context.Context, id string) (*models.Instrument, error) {
	var inst models.Instrument
	err := s.db.QueryRowContext(ctx, `
		SELECT instrument_id, name, exchange, category, created_at
		FROM instruments WHERE instrument_id = ?
	`, id).Scan(&inst.ID, &inst.Name, &inst.Exchange, &inst.Category, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrInstrumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	return &inst, nil
}

// ListInstruments retrieves all instruments ordered by id.
func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, name, exchange, category, created_at
		FROM instruments ORDER BY instrument_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		var inst models.Instrument
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.Exchange, &inst.Category, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, inst)
	}

	return instruments, rows.Err()
}

// ============================================================================
// Price Fact Methods
// ============================================================================

// UpsertPriceFacts inserts or overwrites daily facts in a single transaction.
// The (instrument_id, date) composite key guarantees one row per instrument
// per date; re-upserting a key overwrites the numeric fields.
func (s *SQLiteStore) UpsertPriceFacts(ctx context.Context, facts []models.PriceFact) error {
	if len(facts) == 0 {
		return nil
	}

	for i := range facts {
		if err := validatePriceFact(&facts[i]); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_facts (instrument_id, date, open, high, low, close, volume, adj_close, ma5, ma20, foreign_net, trust_net)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume,
			adj_close = excluded.adj_close, ma5 = excluded.ma5, ma20 = excluded.ma20,
			foreign_net = excluded.foreign_net, trust_net = excluded.trust_net
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		_, err := stmt.ExecContext(ctx, f.InstrumentID, dateStr(f.Date), f.Open, f.High, f.Low, f.Close,
			f.Volume, f.AdjClose, f.MA5, f.MA20, f.ForeignNet, f.TrustNet)
		if err != nil {
			return mapWriteErr("price_facts", apperrors.DateKey(f.InstrumentID, f.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetPriceFacts retrieves facts for an instrument within a date range,
// oldest first.
func (s *SQLiteStore) GetPriceFacts(ctx context.Context, instrumentID string, from, to time.Time) ([]models.PriceFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, date, open, high, low, close, volume, adj_close, ma5, ma20, foreign_net, trust_net
		FROM price_facts
		WHERE instrument_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, instrumentID, dateStr(from), dateStr(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query price facts: %w", err)
	}
	defer rows.Close()

	return scanPriceFacts(rows)
}

// GetPriceFact retrieves a single fact for an instrument on a date.
func (s *SQLiteStore) GetPriceFact(ctx context.Context, instrumentID string, date time.Time) (*models.PriceFact, error) {
	var f models.PriceFact
	var d string
	err := s.db.QueryRowContext(ctx, `
		SELECT instrument_id, date, open, high, low, close, volume, adj_close, ma5, ma20, foreign_net, trust_net
		FROM price_facts WHERE instrument_id = ? AND date = ?
	`, instrumentID, dateStr(date)).Scan(&f.InstrumentID, &d, &f.Open, &f.High, &f.Low, &f.Close,
		&f.Volume, &f.AdjClose, &f.MA5, &f.MA20, &f.ForeignNet, &f.TrustNet)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNoPriceData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price fact: %w", err)
	}
	if f.Date, err = parseDate(d); err != nil {
		return nil, fmt.Errorf("failed to scan price fact: %w", err)
	}
	return &f, nil
}

// GetLatestClose returns the most recent close at or before the given date.
func (s *SQLiteStore) GetLatestClose(ctx context.Context, instrumentID string, onOrBefore time.Time) (float64, time.Time, error) {
	var price float64
	var d string
	err := s.db.QueryRowContext(ctx, `
		SELECT close, date FROM price_facts
		WHERE instrument_id = ? AND date <= ?
		ORDER BY date DESC LIMIT 1
	`, instrumentID, dateStr(onOrBefore)).Scan(&price, &d)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, apperrors.ErrNoPriceData
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get latest close: %w", err)
	}
	date, err := parseDate(d)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to scan latest close: %w", err)
	}
	return price, date, nil
}

func scanPriceFacts(rows *sql.Rows) ([]models.PriceFact, error) {
	var facts []models.PriceFact
	for rows.Next() {
		var f models.PriceFact
		var d string
		if err := rows.Scan(&f.InstrumentID, &d, &f.Open, &f.High, &f.Low, &f.Close,
			&f.Volume, &f.AdjClose, &f.MA5, &f.MA20, &f.ForeignNet, &f.TrustNet); err != nil {
			return nil, fmt.Errorf("failed to scan price fact: %w", err)
		}
		var err error
		if f.Date, err = parseDate(d); err != nil {
			return nil, fmt.Errorf("failed to scan price fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
