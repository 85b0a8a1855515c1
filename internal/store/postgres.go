package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// PostgresStore implements Store on PostgreSQL via lib/pq. It mirrors the
// SQLite backend contract for deployments that share one warehouse across
// machines.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the given database URL and applies the schema.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instruments (
		instrument_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		exchange TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS price_facts (
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		date DATE NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume BIGINT NOT NULL,
		adj_close DOUBLE PRECISION NOT NULL DEFAULT 0,
		ma5 DOUBLE PRECISION NOT NULL DEFAULT 0,
		ma20 DOUBLE PRECISION NOT NULL DEFAULT 0,
		foreign_net BIGINT NOT NULL DEFAULT 0,
		trust_net BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (instrument_id, date)
	);

	CREATE TABLE IF NOT EXISTS signals (
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		date DATE NOT NULL,
		signal TEXT NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		target_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		stop_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		actual_close DOUBLE PRECISION,
		return_pct DOUBLE PRECISION,
		is_correct BOOLEAN,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		settled_at TIMESTAMPTZ,
		PRIMARY KEY (instrument_id, date)
	);

	CREATE TABLE IF NOT EXISTS sim_accounts (
		user_id TEXT PRIMARY KEY,
		cash_balance DOUBLE PRECISION NOT NULL,
		total_asset DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sim_orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		date DATE NOT NULL,
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		shares BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		fee DOUBLE PRECISION NOT NULL DEFAULT 0,
		tax DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		filled_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS sim_holdings (
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		shares BIGINT NOT NULL CHECK (shares >= 0),
		avg_cost DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (user_id, instrument_id)
	);

	CREATE TABLE IF NOT EXISTS sim_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
		trade_time TIMESTAMPTZ NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		shares BIGINT NOT NULL,
		fee DOUBLE PRECISION NOT NULL DEFAULT 0,
		tax DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_amount DOUBLE PRECISION NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_daily_snapshots (
		user_id TEXT NOT NULL REFERENCES sim_accounts(user_id),
		date DATE NOT NULL,
		cash_balance DOUBLE PRECISION NOT NULL,
		stock_value DOUBLE PRECISION NOT NULL,
		total_assets DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (user_id, date)
	);

	CREATE TABLE IF NOT EXISTS strategy_configs (
		user_id TEXT PRIMARY KEY REFERENCES sim_accounts(user_id),
		risk_preference TEXT NOT NULL,
		active_strategy TEXT NOT NULL,
		param_1 BIGINT NOT NULL,
		param_2 BIGINT NOT NULL,
		stop_loss_pct DOUBLE PRECISION NOT NULL,
		take_profit_pct DOUBLE PRECISION NOT NULL,
		max_position_size DOUBLE PRECISION NOT NULL,
		confidence_threshold DOUBLE PRECISION NOT NULL,
		lot_size BIGINT NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS daily_stats (
		date DATE PRIMARY KEY,
		total_predictions BIGINT NOT NULL,
		correct_predictions BIGINT NOT NULL,
		win_rate DOUBLE PRECISION NOT NULL,
		avg_return DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// mapPqErr translates PostgreSQL error classes into the domain error
// taxonomy. Non-constraint errors pass through wrapped.
func mapPqErr(table, key string, err error) error {
	var pqErr *pq.Error
	if apperrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503":
			return apperrors.NewReferentialError(table, key, err)
		case "23505":
			return apperrors.NewUniquenessError(table, key, err)
		case "23514":
			return apperrors.NewDomainErrorWrap(table, key, "check constraint violated", err)
		case "40001", "55P03":
			return apperrors.NewConflictError(table, key, "contended", err)
		}
	}
	return apperrors.NewDataError("write", table, "write failed", err)
}

// dateOnly truncates a timestamp to its calendar day in UTC.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ============================================================================
// Instrument Methods
// ============================================================================

func (s *PostgresStore) UpsertInstrument(ctx context.Context, inst *models.Instrument) error {
	if inst.ID == "" {
		return apperrors.NewDomainError("instrument_id", inst.ID, "must not be empty")
	}
	if inst.Name == "" {
		return apperrors.NewDomainError("name", inst.Name, "must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (instrument_id, name, exchange, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instrument_id) DO UPDATE SET
			name = EXCLUDED.name,
			exchange = EXCLUDED.exchange,
			category = EXCLUDED.category
	`, inst.ID, inst.Name, inst.Exchange, inst.Category)
	if err != nil {
		return mapPqErr("instruments", inst.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id string) (*models.Instrument, error) {
	var inst models.Instrument
	err := s.db.QueryRowContext(ctx, `
		SELECT instrument_id, name, exchange, category, created_at
		FROM instruments WHERE instrument_id = $1
	`, id).Scan(&inst.ID, &inst.Name, &inst.Exchange, &inst.Category, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrInstrumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	return &inst, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
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

func (s *PostgresStore) UpsertPriceFacts(ctx context.Context, facts []models.PriceFact) error {
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
		INSERT INTO price_facts (instrument_id, date, open, high, low, close, volume,
			adj_close, ma5, ma20, foreign_net, trust_net)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (instrument_id, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			adj_close = EXCLUDED.adj_close,
			ma5 = EXCLUDED.ma5,
			ma20 = EXCLUDED.ma20,
			foreign_net = EXCLUDED.foreign_net,
			trust_net = EXCLUDED.trust_net
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range facts {
		f := &facts[i]
		_, err := stmt.ExecContext(ctx, f.InstrumentID, dateOnly(f.Date), f.Open, f.High, f.Low,
			f.Close, f.Volume, f.AdjClose, f.MA5, f.MA20, f.ForeignNet, f.TrustNet)
		if err != nil {
			return mapPqErr("price_facts", apperrors.DateKey(f.InstrumentID, f.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price facts: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetPriceFacts(ctx context.Context, instrumentID string, from, to time.Time) ([]models.PriceFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, date, open, high, low, close, volume, adj_close, ma5, ma20, foreign_net, trust_net
		FROM price_facts
		WHERE instrument_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`, instrumentID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query price facts: %w", err)
	}
	defer rows.Close()

	return scanPgPriceFacts(rows)
}

func (s *PostgresStore) GetPriceFact(ctx context.Context, instrumentID string, date time.Time) (*models.PriceFact, error) {
	var f models.PriceFact
	err := s.db.QueryRowContext(ctx, `
		SELECT instrument_id, date, open, high, low, close, volume, adj_close, ma5, ma20, foreign_net, trust_net
		FROM price_facts WHERE instrument_id = $1 AND date = $2
	`, instrumentID, dateOnly(date)).Scan(&f.InstrumentID, &f.Date, &f.Open, &f.High, &f.Low,
		&f.Close, &f.Volume, &f.AdjClose, &f.MA5, &f.MA20, &f.ForeignNet, &f.TrustNet)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNoPriceData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price fact: %w", err)
	}
	return &f, nil
}

func (s *PostgresStore) GetLatestClose(ctx context.Context, instrumentID string, onOrBefore time.Time) (float64, time.Time, error) {
	var price float64
	var date time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT close, date FROM price_facts
		WHERE instrument_id = $1 AND date <= $2
		ORDER BY date DESC LIMIT 1
	`, instrumentID, dateOnly(onOrBefore)).Scan(&price, &date)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, apperrors.ErrNoPriceData
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get latest close: %w", err)
	}
	return price, date, nil
}

func scanPgPriceFacts(rows *sql.Rows) ([]models.PriceFact, error) {
	var facts []models.PriceFact
	for rows.Next() {
		var f models.PriceFact
		if err := rows.Scan(&f.InstrumentID, &f.Date, &f.Open, &f.High, &f.Low, &f.Close,
			&f.Volume, &f.AdjClose, &f.MA5, &f.MA20, &f.ForeignNet, &f.TrustNet); err != nil {
			return nil, fmt.Errorf("failed to scan price fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
