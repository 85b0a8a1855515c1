// Package models provides domain models for the market data warehouse.
package models

import (
	"time"
)

// DateFormat is the canonical format for trading dates in the store.
const DateFormat = "2006-01-02"

// Direction represents a signal's directional call.
type Direction string

const (
	DirectionBull Direction = "Bull"
	DirectionBear Direction = "Bear"
)

// Valid reports whether the direction is a known value.
func (d Direction) Valid() bool {
	return d == DirectionBull || d == DirectionBear
}

// OrderSide represents the side of a simulated order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Valid reports whether the side is a known value.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus represents the lifecycle state of a simulated order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// RiskPreference represents a user's configured risk personality.
type RiskPreference string

const (
	RiskAverse  RiskPreference = "AVERSE"
	RiskNeutral RiskPreference = "NEUTRAL"
	RiskSeeking RiskPreference = "SEEKING"
)

// Instrument represents a tradable security.
type Instrument struct {
	ID        string
	Name      string
	Exchange  string
	Category  string
	CreatedAt time.Time
}

// PriceFact represents one trading day's OHLCV bar for an instrument,
// together with derived moving averages and investor net-flow figures.
type PriceFact struct {
	InstrumentID string
	Date         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	AdjClose     float64
	MA5          float64
	MA20         float64
	ForeignNet   int64
	TrustNet     int64
}

// DailyStats represents aggregate signal accuracy for a single date,
// recomputed from settled signals.
type DailyStats struct {
	Date               time.Time
	TotalPredictions   int
	CorrectPredictions int
	WinRate            float64
	AvgReturn          float64
	UpdatedAt          time.Time
}
