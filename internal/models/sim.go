package models

import "time"

// Account represents a simulated trading account's cash position.
type Account struct {
	UserID      string
	CashBalance float64
	TotalAsset  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Order represents a submitted simulated order. Once filled or cancelled an
// order is immutable.
type Order struct {
	ID           string
	UserID       string
	Date         time.Time
	InstrumentID string
	Side         OrderSide
	Price        float64
	Shares       int64
	Status       OrderStatus
	Fee          float64
	Tax          float64
	TotalAmount  float64
	CreatedAt    time.Time
	FilledAt     *time.Time
}

// Fill holds the execution terms applied when a pending order transitions to
// filled. TotalAmount is the absolute cash delta including fee and tax:
// price*shares + fee for buys, price*shares - fee - tax for sells.
type Fill struct {
	Price       float64
	Shares      int64
	Fee         float64
	Tax         float64
	TotalAmount float64
	FilledAt    time.Time
}

// Holding represents a user's current position in an instrument. Fully
// liquidated positions are removed rather than kept at zero shares.
type Holding struct {
	UserID       string
	InstrumentID string
	Shares       int64
	AvgCost      float64
	UpdatedAt    time.Time
}

// MarketValue returns the holding's value at the given price.
func (h *Holding) MarketValue(price float64) float64 {
	return float64(h.Shares) * price
}

// Transaction represents an executed trade in the append-only ledger.
type Transaction struct {
	ID           string
	UserID       string
	InstrumentID string
	TradeTime    time.Time
	Side         OrderSide
	Price        float64
	Shares       int64
	Fee          float64
	Tax          float64
	TotalAmount  float64
}

// DailySnapshot represents an end-of-day portfolio valuation.
type DailySnapshot struct {
	UserID      string
	Date        time.Time
	CashBalance float64
	StockValue  float64
	TotalAssets float64
	CreatedAt   time.Time
}

// StrategyConfig holds per-user strategy parameters. One row per user,
// defaults seeded when the account is created.
type StrategyConfig struct {
	UserID              string
	RiskPreference      RiskPreference
	ActiveStrategy      string
	Param1              int
	Param2              int
	StopLossPct         float64
	TakeProfitPct       float64
	MaxPositionSize     float64
	ConfidenceThreshold float64
	LotSize             int64
	UpdatedAt           time.Time
}

// DefaultStrategyConfig returns the parameters seeded for a new account.
func DefaultStrategyConfig(userID string) StrategyConfig {
	return StrategyConfig{
		UserID:              userID,
		RiskPreference:      RiskNeutral,
		ActiveStrategy:      "MA_CROSS",
		Param1:              5,
		Param2:              20,
		StopLossPct:         0.05,
		TakeProfitPct:       0.10,
		MaxPositionSize:     100000,
		ConfidenceThreshold: 0.7,
		LotSize:             1000,
	}
}
