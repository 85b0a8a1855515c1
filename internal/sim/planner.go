package sim

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
	"marketpulse/internal/store"
)

// Planner turns the day's signals and the user's open positions into
// pending limit orders, sized by the user's strategy parameters.
type Planner struct {
	store  store.Store
	fees   Fees
	logger zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(st store.Store, fees Fees, logger zerolog.Logger) *Planner {
	return &Planner{
		store:  st,
		fees:   fees,
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

// Plan places pending orders for the given user and date: buys for Bull
// signals clearing the confidence threshold, sells for holdings that hit
// the stop-loss or take-profit bands. Estimated buy cost is tracked across
// the batch so a planning pass cannot queue more than the account's cash.
func (p *Planner) Plan(ctx context.Context, userID string, date time.Time) ([]models.Order, error) {
	cfg, err := p.store.GetStrategyConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	acc, err := p.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var placed []models.Order
	remaining := acc.CashBalance

	buys, err := p.planBuys(ctx, cfg, date, &remaining)
	if err != nil {
		return placed, err
	}
	placed = append(placed, buys...)

	sells, err := p.planSells(ctx, cfg, date)
	if err != nil {
		return placed, err
	}
	placed = append(placed, sells...)

	return placed, nil
}

func (p *Planner) planBuys(ctx context.Context, cfg *models.StrategyConfig, date time.Time, remaining *float64) ([]models.Order, error) {
	sigs, err := p.store.GetSignals(ctx, store.SignalFilter{StartDate: date, EndDate: date})
	if err != nil {
		return nil, err
	}

	var placed []models.Order
	for _, sig := range sigs {
		if sig.Direction != models.DirectionBull || sig.Probability < cfg.ConfidenceThreshold {
			continue
		}

		price := sig.EntryPrice
		if price <= 0 {
			price, _, err = p.store.GetLatestClose(ctx, sig.InstrumentID, date)
			if apperrors.Is(err, apperrors.ErrNoPriceData) {
				p.logger.Warn().Str("instrument", sig.InstrumentID).Msg("No price for signal, skipping")
				continue
			}
			if err != nil {
				return placed, err
			}
		}

		shares := positionSize(cfg.MaxPositionSize, price, cfg.LotSize)
		if shares == 0 {
			continue
		}

		_, cost := p.fees.BuyCost(price, shares)
		if cost > *remaining {
			p.logger.Debug().
				Str("instrument", sig.InstrumentID).
				Float64("cost", cost).
				Float64("remaining", *remaining).
				Msg("Insufficient cash for planned buy, skipping")
			continue
		}

		order := models.Order{
			UserID:       cfg.UserID,
			Date:         date,
			InstrumentID: sig.InstrumentID,
			Side:         models.OrderSideBuy,
			Price:        price,
			Shares:       shares,
		}
		if err := p.store.PlaceOrder(ctx, &order); err != nil {
			return placed, err
		}

		*remaining -= cost
		placed = append(placed, order)
	}

	return placed, nil
}

// planSells exits any holding whose latest close breaches the stop-loss or
// take-profit band around its average cost.
func (p *Planner) planSells(ctx context.Context, cfg *models.StrategyConfig, date time.Time) ([]models.Order, error) {
	holdings, err := p.store.GetHoldings(ctx, cfg.UserID)
	if err != nil {
		return nil, err
	}

	var placed []models.Order
	for _, h := range holdings {
		price, _, err := p.store.GetLatestClose(ctx, h.InstrumentID, date)
		if apperrors.Is(err, apperrors.ErrNoPriceData) {
			continue
		}
		if err != nil {
			return placed, err
		}

		stop := h.AvgCost * (1 - cfg.StopLossPct)
		target := h.AvgCost * (1 + cfg.TakeProfitPct)
		if price > stop && price < target {
			continue
		}

		order := models.Order{
			UserID:       cfg.UserID,
			Date:         date,
			InstrumentID: h.InstrumentID,
			Side:         models.OrderSideSell,
			Price:        price,
			Shares:       h.Shares,
		}
		if err := p.store.PlaceOrder(ctx, &order); err != nil {
			return placed, err
		}
		placed = append(placed, order)
	}

	return placed, nil
}

// positionSize converts a cash budget into whole lots at the given price.
func positionSize(budget, price float64, lotSize int64) int64 {
	if price <= 0 || lotSize <= 0 {
		return 0
	}
	shares := int64(budget / price)
	return shares - shares%lotSize
}
