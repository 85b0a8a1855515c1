package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// ============================================================================
// Account & Strategy Config Methods
// ============================================================================

func (s *PostgresStore) CreateAccount(ctx context.Context, userID string, initialCash float64) error {
	if userID == "" {
		return apperrors.NewDomainError("user_id", userID, "must not be empty")
	}
	if initialCash < 0 {
		return apperrors.NewDomainError("initial_cash", initialCash, "must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sim_accounts (user_id, cash_balance, total_asset)
		VALUES ($1, $2, $3)
	`, userID, initialCash, initialCash)
	if err != nil {
		return mapPqErr("sim_accounts", userID, err)
	}

	cfg := models.DefaultStrategyConfig(userID)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO strategy_configs (user_id, risk_preference, active_strategy, param_1, param_2,
			stop_loss_pct, take_profit_pct, max_position_size, confidence_threshold, lot_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, cfg.UserID, string(cfg.RiskPreference), cfg.ActiveStrategy, cfg.Param1, cfg.Param2,
		cfg.StopLossPct, cfg.TakeProfitPct, cfg.MaxPositionSize, cfg.ConfidenceThreshold, cfg.LotSize)
	if err != nil {
		return mapPqErr("strategy_configs", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acc models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, cash_balance, total_asset, created_at, updated_at
		FROM sim_accounts WHERE user_id = $1
	`, userID).Scan(&acc.UserID, &acc.CashBalance, &acc.TotalAsset, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

func (s *PostgresStore) GetStrategyConfig(ctx context.Context, userID string) (*models.StrategyConfig, error) {
	var cfg models.StrategyConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, risk_preference, active_strategy, param_1, param_2,
			stop_loss_pct, take_profit_pct, max_position_size, confidence_threshold, lot_size, updated_at
		FROM strategy_configs WHERE user_id = $1
	`, userID).Scan(&cfg.UserID, &cfg.RiskPreference, &cfg.ActiveStrategy, &cfg.Param1, &cfg.Param2,
		&cfg.StopLossPct, &cfg.TakeProfitPct, &cfg.MaxPositionSize, &cfg.ConfidenceThreshold, &cfg.LotSize, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) UpdateStrategyConfig(ctx context.Context, cfg *models.StrategyConfig) error {
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return apperrors.NewDomainError("confidence_threshold", cfg.ConfidenceThreshold, "must be within [0,1]")
	}
	if cfg.MaxPositionSize <= 0 {
		return apperrors.NewDomainError("max_position_size", cfg.MaxPositionSize, "must be positive")
	}
	if cfg.LotSize <= 0 {
		return apperrors.NewDomainError("lot_size", cfg.LotSize, "must be positive")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE strategy_configs SET risk_preference = $1, active_strategy = $2, param_1 = $3, param_2 = $4,
			stop_loss_pct = $5, take_profit_pct = $6, max_position_size = $7, confidence_threshold = $8,
			lot_size = $9, updated_at = NOW()
		WHERE user_id = $10
	`, string(cfg.RiskPreference), cfg.ActiveStrategy, cfg.Param1, cfg.Param2,
		cfg.StopLossPct, cfg.TakeProfitPct, cfg.MaxPositionSize, cfg.ConfidenceThreshold,
		cfg.LotSize, cfg.UserID)
	if err != nil {
		return fmt.Errorf("failed to update strategy config: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.ErrAccountNotFound
	}

	return nil
}

// ============================================================================
// Order Methods
// ============================================================================

func (s *PostgresStore) PlaceOrder(ctx context.Context, order *models.Order) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Status = models.OrderPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sim_orders (id, user_id, date, instrument_id, side, price, shares, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.UserID, dateOnly(order.Date), order.InstrumentID, string(order.Side),
		order.Price, order.Shares, string(models.OrderPending))
	if err != nil {
		return mapPqErr("sim_orders", order.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, instrument_id, side, price, shares, status, fee, tax, total_amount, created_at, filled_at
		FROM sim_orders WHERE id = $1
	`, id)
	order, err := scanPgOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (s *PostgresStore) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT id, user_id, date, instrument_id, side, price, shares, status, fee, tax, total_amount, created_at, filled_at
		FROM sim_orders WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.InstrumentID != "" {
		args = append(args, filter.InstrumentID)
		query += fmt.Sprintf(" AND instrument_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, dateOnly(filter.StartDate))
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, dateOnly(filter.EndDate))
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}

	query += " ORDER BY date DESC, created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanPgOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	return orders, rows.Err()
}

// FillOrder mirrors the SQLite backend's atomic fill. The row lock via
// FOR UPDATE serializes concurrent fills against the same order.
func (s *PostgresStore) FillOrder(ctx context.Context, orderID string, fill models.Fill) error {
	if err := validateFill(&fill); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, date, instrument_id, side, price, shares, status, fee, tax, total_amount, created_at, filled_at
		FROM sim_orders WHERE id = $1 FOR UPDATE
	`, orderID)
	order, err := scanPgOrder(row.Scan)
	if err == sql.ErrNoRows {
		return apperrors.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get order: %w", err)
	}
	if order.Status != models.OrderPending {
		return apperrors.NewConflictError("sim_orders", orderID, string(order.Status), apperrors.ErrOrderNotPending)
	}
	if fill.Shares != order.Shares {
		return apperrors.NewDomainError("shares", fill.Shares, "fill must cover the whole order")
	}

	var cash float64
	err = tx.QueryRowContext(ctx, `
		SELECT cash_balance FROM sim_accounts WHERE user_id = $1 FOR UPDATE
	`, order.UserID).Scan(&cash)
	if err != nil {
		return fmt.Errorf("failed to get account balance: %w", err)
	}

	switch order.Side {
	case models.OrderSideBuy:
		if cash < fill.TotalAmount {
			return apperrors.NewDomainErrorWrap("cash_balance", cash,
				fmt.Sprintf("need %.2f to fill buy order", fill.TotalAmount), apperrors.ErrInsufficientFunds)
		}
		if err := applyPgBuyHolding(ctx, tx, order, fill); err != nil {
			return err
		}
		cash -= fill.TotalAmount
	case models.OrderSideSell:
		if err := applyPgSellHolding(ctx, tx, order, fill); err != nil {
			return err
		}
		cash += fill.TotalAmount
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE sim_orders SET status = $1, fee = $2, tax = $3, total_amount = $4, filled_at = $5
		WHERE id = $6 AND status = $7
	`, string(models.OrderFilled), fill.Fee, fill.Tax, fill.TotalAmount, fill.FilledAt,
		orderID, string(models.OrderPending))
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NewConflictError("sim_orders", orderID, "changed", apperrors.ErrOrderNotPending)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sim_transactions (id, user_id, instrument_id, trade_time, side, price, shares, fee, tax, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.NewString(), order.UserID, order.InstrumentID, fill.FilledAt, string(order.Side),
		fill.Price, fill.Shares, fill.Fee, fill.Tax, fill.TotalAmount)
	if err != nil {
		return mapPqErr("sim_transactions", orderID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sim_accounts SET cash_balance = $1, updated_at = NOW() WHERE user_id = $2
	`, cash, order.UserID)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fill: %w", err)
	}

	return nil
}

func applyPgBuyHolding(ctx context.Context, tx *sql.Tx, order *models.Order, fill models.Fill) error {
	var shares int64
	var avgCost float64
	err := tx.QueryRowContext(ctx, `
		SELECT shares, avg_cost FROM sim_holdings WHERE user_id = $1 AND instrument_id = $2 FOR UPDATE
	`, order.UserID, order.InstrumentID).Scan(&shares, &avgCost)
	if err == sql.ErrNoRows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sim_holdings (user_id, instrument_id, shares, avg_cost, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, order.UserID, order.InstrumentID, fill.Shares, fill.TotalAmount/float64(fill.Shares))
		if err != nil {
			return mapPqErr("sim_holdings", order.InstrumentID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get holding: %w", err)
	}

	newShares := shares + fill.Shares
	newAvgCost := (float64(shares)*avgCost + fill.TotalAmount) / float64(newShares)
	_, err = tx.ExecContext(ctx, `
		UPDATE sim_holdings SET shares = $1, avg_cost = $2, updated_at = NOW()
		WHERE user_id = $3 AND instrument_id = $4
	`, newShares, newAvgCost, order.UserID, order.InstrumentID)
	if err != nil {
		return mapPqErr("sim_holdings", order.InstrumentID, err)
	}
	return nil
}

func applyPgSellHolding(ctx context.Context, tx *sql.Tx, order *models.Order, fill models.Fill) error {
	var shares int64
	var avgCost float64
	err := tx.QueryRowContext(ctx, `
		SELECT shares, avg_cost FROM sim_holdings WHERE user_id = $1 AND instrument_id = $2 FOR UPDATE
	`, order.UserID, order.InstrumentID).Scan(&shares, &avgCost)
	if err == sql.ErrNoRows {
		return apperrors.NewDomainErrorWrap("shares", fill.Shares, "no position to sell", apperrors.ErrInsufficientShares)
	}
	if err != nil {
		return fmt.Errorf("failed to get holding: %w", err)
	}
	if shares < fill.Shares {
		return apperrors.NewDomainErrorWrap("shares", fill.Shares,
			fmt.Sprintf("only %d held", shares), apperrors.ErrInsufficientShares)
	}

	newShares := shares - fill.Shares
	if newShares == 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM sim_holdings WHERE user_id = $1 AND instrument_id = $2
		`, order.UserID, order.InstrumentID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE sim_holdings SET shares = $1, updated_at = NOW()
			WHERE user_id = $2 AND instrument_id = $3
		`, newShares, order.UserID, order.InstrumentID)
	}
	if err != nil {
		return mapPqErr("sim_holdings", order.InstrumentID, err)
	}
	return nil
}

func (s *PostgresStore) CancelOrder(ctx context.Context, orderID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sim_orders SET status = $1 WHERE id = $2 AND status = $3
	`, string(models.OrderCancelled), orderID, string(models.OrderPending))
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM sim_orders WHERE id = $1`, orderID).Scan(&status)
		if err == sql.ErrNoRows {
			return apperrors.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check order: %w", err)
		}
		return apperrors.NewConflictError("sim_orders", orderID, status, apperrors.ErrOrderNotPending)
	}

	return nil
}

func scanPgOrder(scan func(dest ...interface{}) error) (*models.Order, error) {
	var o models.Order
	var filledAt sql.NullTime
	err := scan(&o.ID, &o.UserID, &o.Date, &o.InstrumentID, &o.Side, &o.Price, &o.Shares,
		&o.Status, &o.Fee, &o.Tax, &o.TotalAmount, &o.CreatedAt, &filledAt)
	if err != nil {
		return nil, err
	}
	if filledAt.Valid {
		o.FilledAt = &filledAt.Time
	}
	return &o, nil
}

// ============================================================================
// Holding & Transaction Methods
// ============================================================================

func (s *PostgresStore) GetHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, instrument_id, shares, avg_cost, updated_at
		FROM sim_holdings WHERE user_id = $1 ORDER BY instrument_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.UserID, &h.InstrumentID, &h.Shares, &h.AvgCost, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}

	return holdings, rows.Err()
}

func (s *PostgresStore) GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query := `SELECT id, user_id, instrument_id, trade_time, side, price, shares, fee, tax, total_amount
		FROM sim_transactions WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.InstrumentID != "" {
		args = append(args, filter.InstrumentID)
		query += fmt.Sprintf(" AND instrument_id = $%d", len(args))
	}
	if filter.Side != "" {
		args = append(args, string(filter.Side))
		query += fmt.Sprintf(" AND side = $%d", len(args))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, filter.StartDate)
		query += fmt.Sprintf(" AND trade_time >= $%d", len(args))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, filter.EndDate)
		query += fmt.Sprintf(" AND trade_time <= $%d", len(args))
	}

	query += " ORDER BY trade_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.InstrumentID, &t.TradeTime, &t.Side,
			&t.Price, &t.Shares, &t.Fee, &t.Tax, &t.TotalAmount); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}

	return txns, rows.Err()
}

// ============================================================================
// Snapshot Methods
// ============================================================================

func (s *PostgresStore) SnapshotDay(ctx context.Context, userID string, date time.Time) (*models.DailySnapshot, error) {
	day := dateOnly(date)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cash float64
	err = tx.QueryRowContext(ctx, `
		SELECT cash_balance FROM sim_accounts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&cash)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	var stockValue sql.NullFloat64
	err = tx.QueryRowContext(ctx, `
		SELECT SUM(h.shares * COALESCE((SELECT p.close FROM price_facts p
			WHERE p.instrument_id = h.instrument_id AND p.date <= $1
			ORDER BY p.date DESC LIMIT 1), h.avg_cost))
		FROM sim_holdings h WHERE h.user_id = $2
	`, day, userID).Scan(&stockValue)
	if err != nil {
		return nil, fmt.Errorf("failed to value holdings: %w", err)
	}

	snapshot := &models.DailySnapshot{
		UserID:      userID,
		Date:        day,
		CashBalance: cash,
		StockValue:  stockValue.Float64,
		TotalAssets: cash + stockValue.Float64,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sim_daily_snapshots (user_id, date, cash_balance, stock_value, total_assets)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, day, snapshot.CashBalance, snapshot.StockValue, snapshot.TotalAssets)
	if err != nil {
		return nil, mapPqErr("sim_daily_snapshots", apperrors.DateKey(userID, day), err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sim_accounts SET total_asset = $1, updated_at = NOW() WHERE user_id = $2
	`, snapshot.TotalAssets, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update total asset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return snapshot, nil
}

func (s *PostgresStore) GetSnapshots(ctx context.Context, userID string, from, to time.Time) ([]models.DailySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date, cash_balance, stock_value, total_assets, created_at
		FROM sim_daily_snapshots
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`, userID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.DailySnapshot
	for rows.Next() {
		var snap models.DailySnapshot
		if err := rows.Scan(&snap.UserID, &snap.Date, &snap.CashBalance, &snap.StockValue,
			&snap.TotalAssets, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}
