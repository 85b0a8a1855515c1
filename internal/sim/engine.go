package sim

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logging"
	"marketpulse/internal/models"
	"marketpulse/internal/store"
)

// Engine executes pending orders against stored daily bars and writes the
// end-of-day snapshot.
type Engine struct {
	store  store.Store
	fees   Fees
	logger zerolog.Logger
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, fees Fees, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		fees:   fees,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// SettleResult summarizes one settlement pass.
type SettleResult struct {
	Filled    int
	Cancelled int
	Snapshot  *models.DailySnapshot
}

// Settle resolves every pending order dated at or before the given day: an
// order fills at its limit price when the day's bar traded through it
// (buy: low at or under the limit, sell: high at or over it) and is
// cancelled otherwise. Orders whose bar is missing, fills the account can
// no longer afford, and sells whose fees would swallow the proceeds are
// cancelled too. The pass ends with the day's portfolio snapshot.
func (e *Engine) Settle(ctx context.Context, userID string, date time.Time) (SettleResult, error) {
	pending, err := e.store.GetOrders(ctx, store.OrderFilter{
		UserID:  userID,
		Status:  models.OrderPending,
		EndDate: date,
	})
	if err != nil {
		return SettleResult{}, err
	}

	var result SettleResult
	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		filled, err := e.settleOrder(ctx, &order)
		if err != nil {
			return result, err
		}
		if filled {
			result.Filled++
		} else {
			result.Cancelled++
		}
	}

	snapshot, err := e.store.SnapshotDay(ctx, userID, date)
	if err != nil {
		var uniq *apperrors.UniquenessError
		if apperrors.As(err, &uniq) {
			// Day already snapshotted; keep the fills.
			return result, nil
		}
		return result, err
	}
	result.Snapshot = snapshot

	return result, nil
}

func (e *Engine) settleOrder(ctx context.Context, order *models.Order) (bool, error) {
	bar, err := e.store.GetPriceFact(ctx, order.InstrumentID, order.Date)
	if apperrors.Is(err, apperrors.ErrNoPriceData) {
		e.logger.Warn().Str("order_id", order.ID).Str("instrument", order.InstrumentID).
			Msg("No bar for order date, cancelling")
		return false, e.store.CancelOrder(ctx, order.ID)
	}
	if err != nil {
		return false, err
	}

	if !tradedThrough(order, bar) {
		return false, e.store.CancelOrder(ctx, order.ID)
	}

	fill := e.buildFill(order)
	if fill.TotalAmount <= 0 {
		e.logger.Warn().Str("order_id", order.ID).Str("instrument", order.InstrumentID).
			Msg("Fees exceed proceeds, cancelling")
		return false, e.store.CancelOrder(ctx, order.ID)
	}
	err = e.store.FillOrder(ctx, order.ID, fill)
	if apperrors.Is(err, apperrors.ErrInsufficientFunds) || apperrors.Is(err, apperrors.ErrInsufficientShares) {
		e.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Fill rejected, cancelling")
		return false, e.store.CancelOrder(ctx, order.ID)
	}
	if err != nil {
		return false, err
	}

	logging.LogFill(e.logger, order.ID, order.InstrumentID, string(order.Side), order.Shares, order.Price)
	return true, nil
}

// tradedThrough reports whether the bar reached the order's limit price.
func tradedThrough(order *models.Order, bar *models.PriceFact) bool {
	switch order.Side {
	case models.OrderSideBuy:
		return bar.Low <= order.Price
	case models.OrderSideSell:
		return bar.High >= order.Price
	}
	return false
}

func (e *Engine) buildFill(order *models.Order) models.Fill {
	filledAt := time.Date(order.Date.Year(), order.Date.Month(), order.Date.Day(),
		13, 30, 0, 0, time.UTC)

	switch order.Side {
	case models.OrderSideSell:
		fee, tax, total := e.fees.SellProceeds(order.Price, order.Shares)
		return models.Fill{
			Price:       order.Price,
			Shares:      order.Shares,
			Fee:         fee,
			Tax:         tax,
			TotalAmount: total,
			FilledAt:    filledAt,
		}
	default:
		fee, total := e.fees.BuyCost(order.Price, order.Shares)
		return models.Fill{
			Price:       order.Price,
			Shares:      order.Shares,
			Fee:         fee,
			TotalAmount: total,
			FilledAt:    filledAt,
		}
	}
}
