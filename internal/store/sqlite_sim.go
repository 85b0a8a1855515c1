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

// CreateAccount creates a simulated account and seeds its default strategy
// parameters in the same transaction.
func (s *SQLiteStore) CreateAccount(ctx context.Context, userID string, initialCash float64) error {
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
		VALUES (?, ?, ?)
	`, userID, initialCash, initialCash)
	if err != nil {
		return mapWriteErr("sim_accounts", userID, err)
	}

	cfg := models.DefaultStrategyConfig(userID)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO strategy_configs (user_id, risk_preference, active_strategy, param_1, param_2,
			stop_loss_pct, take_profit_pct, max_position_size, confidence_threshold, lot_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.UserID, string(cfg.RiskPreference), cfg.ActiveStrategy, cfg.Param1, cfg.Param2,
		cfg.StopLossPct, cfg.TakeProfitPct, cfg.MaxPositionSize, cfg.ConfidenceThreshold, cfg.LotSize)
	if err != nil {
		return mapWriteErr("strategy_configs", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetAccount retrieves an account by user id.
func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acc models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, cash_balance, total_asset, created_at, updated_at
		FROM sim_accounts WHERE user_id = ?
	`, userID).Scan(&acc.UserID, &acc.CashBalance, &acc.TotalAsset, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

// GetStrategyConfig retrieves a user's strategy parameters.
func (s *SQLiteStore) GetStrategyConfig(ctx context.Context, userID string) (*models.StrategyConfig, error) {
	var cfg models.StrategyConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, risk_preference, active_strategy, param_1, param_2,
			stop_loss_pct, take_profit_pct, max_position_size, confidence_threshold, lot_size, updated_at
		FROM strategy_configs WHERE user_id = ?
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

// UpdateStrategyConfig overwrites a user's strategy parameters.
func (s *SQLiteStore) UpdateStrategyConfig(ctx context.Context, cfg *models.StrategyConfig) error {
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
		UPDATE strategy_configs SET risk_preference = ?, active_strategy = ?, param_1 = ?, param_2 = ?,
			stop_loss_pct = ?, take_profit_pct = ?, max_position_size = ?, confidence_threshold = ?,
			lot_size = ?, updated_at = ?
		WHERE user_id = ?
	`, string(cfg.RiskPreference), cfg.ActiveStrategy, cfg.Param1, cfg.Param2,
		cfg.StopLossPct, cfg.TakeProfitPct, cfg.MaxPositionSize, cfg.ConfidenceThreshold,
		cfg.LotSize, time.Now(), cfg.UserID)
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

// PlaceOrder inserts a pending order. An id is generated when empty.
func (s *SQLiteStore) PlaceOrder(ctx context.Context, order *models.Order) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Status = models.OrderPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sim_orders (id, user_id, date, instrument_id, side, price, shares, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.UserID, dateStr(order.Date), order.InstrumentID, string(order.Side),
		order.Price, order.Shares, string(models.OrderPending))
	if err != nil {
		return mapWriteErr("sim_orders", order.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order by id.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, instrument_id, side, price, shares, status, fee, tax, total_amount, created_at, filled_at
		FROM sim_orders WHERE id = ?
	`, id)
	order, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrders retrieves orders matching the filter, newest first.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT id, user_id, date, instrument_id, side, price, shares, status, fee, tax, total_amount, created_at, filled_at
		FROM sim_orders WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.InstrumentID != "" {
		query += " AND instrument_id = ?"
		args = append(args, filter.InstrumentID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, dateStr(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, dateStr(filter.EndDate))
	}

	query += " ORDER BY date DESC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	return orders, rows.Err()
}

// FillOrder transitions a pending order to filled and applies the ledger
// mutations atomically: holding update with weighted-average cost, an
// appended transaction row, and the account cash delta. Any constituent
// failure rolls back the whole fill.
func (s *SQLiteStore) FillOrder(ctx context.Context, orderID string, fill models.Fill) error {
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
		FROM sim_orders WHERE id = ?
	`, orderID)
	order, err := scanOrder(row.Scan)
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
		SELECT cash_balance FROM sim_accounts WHERE user_id = ?
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
		if err := applyBuyHolding(ctx, tx, order, fill); err != nil {
			return err
		}
		cash -= fill.TotalAmount
	case models.OrderSideSell:
		if err := applySellHolding(ctx, tx, order, fill); err != nil {
			return err
		}
		cash += fill.TotalAmount
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE sim_orders SET status = ?, fee = ?, tax = ?, total_amount = ?, filled_at = ?
		WHERE id = ? AND status = ?
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), order.UserID, order.InstrumentID, fill.FilledAt, string(order.Side),
		fill.Price, fill.Shares, fill.Fee, fill.Tax, fill.TotalAmount)
	if err != nil {
		return mapWriteErr("sim_transactions", orderID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sim_accounts SET cash_balance = ?, updated_at = ? WHERE user_id = ?
	`, cash, time.Now(), order.UserID)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fill: %w", err)
	}

	return nil
}

// applyBuyHolding upserts the position using weighted-average cost. The buy
// fee is capitalized: avg_cost covers price*shares + fee.
func applyBuyHolding(ctx context.Context, tx *sql.Tx, order *models.Order, fill models.Fill) error {
	var shares int64
	var avgCost float64
	err := tx.QueryRowContext(ctx, `
		SELECT shares, avg_cost FROM sim_holdings WHERE user_id = ? AND instrument_id = ?
	`, order.UserID, order.InstrumentID).Scan(&shares, &avgCost)
	if err == sql.ErrNoRows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sim_holdings (user_id, instrument_id, shares, avg_cost, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, order.UserID, order.InstrumentID, fill.Shares, fill.TotalAmount/float64(fill.Shares), time.Now())
		if err != nil {
			return mapWriteErr("sim_holdings", order.InstrumentID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get holding: %w", err)
	}

	newShares := shares + fill.Shares
	newAvgCost := (float64(shares)*avgCost + fill.TotalAmount) / float64(newShares)
	_, err = tx.ExecContext(ctx, `
		UPDATE sim_holdings SET shares = ?, avg_cost = ?, updated_at = ?
		WHERE user_id = ? AND instrument_id = ?
	`, newShares, newAvgCost, time.Now(), order.UserID, order.InstrumentID)
	if err != nil {
		return mapWriteErr("sim_holdings", order.InstrumentID, err)
	}
	return nil
}

// applySellHolding decrements the position, deleting the row on full
// liquidation. Average cost is untouched by sells.
func applySellHolding(ctx context.Context, tx *sql.Tx, order *models.Order, fill models.Fill) error {
	var shares int64
	var avgCost float64
	err := tx.QueryRowContext(ctx, `
		SELECT shares, avg_cost FROM sim_holdings WHERE user_id = ? AND instrument_id = ?
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
			DELETE FROM sim_holdings WHERE user_id = ? AND instrument_id = ?
		`, order.UserID, order.InstrumentID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE sim_holdings SET shares = ?, updated_at = ?
			WHERE user_id = ? AND instrument_id = ?
		`, newShares, time.Now(), order.UserID, order.InstrumentID)
	}
	if err != nil {
		return mapWriteErr("sim_holdings", order.InstrumentID, err)
	}
	return nil
}

// CancelOrder transitions a pending order to cancelled. No ledger mutation
// takes place; filled or cancelled orders are immutable.
func (s *SQLiteStore) CancelOrder(ctx context.Context, orderID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sim_orders SET status = ? WHERE id = ? AND status = ?
	`, string(models.OrderCancelled), orderID, string(models.OrderPending))
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM sim_orders WHERE id = ?`, orderID).Scan(&status)
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

func scanOrder(scan func(dest ...interface{}) error) (*models.Order, error) {
	var o models.Order
	var d string
	var filledAt sql.NullTime
	err := scan(&o.ID, &o.UserID, &d, &o.InstrumentID, &o.Side, &o.Price, &o.Shares,
		&o.Status, &o.Fee, &o.Tax, &o.TotalAmount, &o.CreatedAt, &filledAt)
	if err != nil {
		return nil, err
	}
	if o.Date, err = parseDate(d); err != nil {
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

// GetHoldings retrieves a user's current positions.
func (s *SQLiteStore) GetHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, instrument_id, shares, avg_cost, updated_at
		FROM sim_holdings WHERE user_id = ? ORDER BY instrument_id ASC
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

// GetTransactions retrieves ledger rows matching the filter, newest first.
func (s *SQLiteStore) GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query := `SELECT id, user_id, instrument_id, trade_time, side, price, shares, fee, tax, total_amount
		FROM sim_transactions WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.InstrumentID != "" {
		query += " AND instrument_id = ?"
		args = append(args, filter.InstrumentID)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if !filter.StartDate.IsZero() {
		query += " AND trade_time >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND trade_time <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY trade_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
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

// SnapshotDay values the portfolio at the given date's closes and writes the
// end-of-day snapshot, refreshing the account's total asset in the same
// transaction. A second snapshot for the same (user, date) fails with a
// UniquenessError.
func (s *SQLiteStore) SnapshotDay(ctx context.Context, userID string, date time.Time) (*models.DailySnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cash float64
	err = tx.QueryRowContext(ctx, `
		SELECT cash_balance FROM sim_accounts WHERE user_id = ?
	`, userID).Scan(&cash)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	// Value each holding at the most recent close at or before the snapshot
	// date, falling back to average cost when no fact exists yet.
	rows, err := tx.QueryContext(ctx, `
		SELECT h.shares, h.avg_cost,
			COALESCE((SELECT p.close FROM price_facts p
				WHERE p.instrument_id = h.instrument_id AND p.date <= ?
				ORDER BY p.date DESC LIMIT 1), h.avg_cost)
		FROM sim_holdings h WHERE h.user_id = ?
	`, dateStr(date), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}

	var stockValue float64
	for rows.Next() {
		var shares int64
		var avgCost, price float64
		if err := rows.Scan(&shares, &avgCost, &price); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan holding value: %w", err)
		}
		stockValue += float64(shares) * price
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	rows.Close()

	snapshot := &models.DailySnapshot{
		UserID:      userID,
		Date:        date,
		CashBalance: cash,
		StockValue:  stockValue,
		TotalAssets: cash + stockValue,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sim_daily_snapshots (user_id, date, cash_balance, stock_value, total_assets)
		VALUES (?, ?, ?, ?, ?)
	`, userID, dateStr(date), snapshot.CashBalance, snapshot.StockValue, snapshot.TotalAssets)
	if err != nil {
		return nil, mapWriteErr("sim_daily_snapshots", apperrors.DateKey(userID, date), err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sim_accounts SET total_asset = ?, updated_at = ? WHERE user_id = ?
	`, snapshot.TotalAssets, time.Now(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update total asset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return snapshot, nil
}

// GetSnapshots retrieves snapshots within a date range, oldest first.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, userID string, from, to time.Time) ([]models.DailySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date, cash_balance, stock_value, total_assets, created_at
		FROM sim_daily_snapshots
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, userID, dateStr(from), dateStr(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.DailySnapshot
	for rows.Next() {
		var snap models.DailySnapshot
		var d string
		if err := rows.Scan(&snap.UserID, &d, &snap.CashBalance, &snap.StockValue, &snap.TotalAssets, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var err error
		if snap.Date, err = parseDate(d); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}
