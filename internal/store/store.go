// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"marketpulse/internal/models"
)

// Store defines the warehouse contract. Methods that touch more than one
// table (FillOrder, SnapshotDay, CreateAccount) execute as a single
// transaction; partial application is never observable.
type Store interface {
	// Instruments
	UpsertInstrument(ctx context.Context, inst *models.Instrument) error
	GetInstrument(ctx context.Context, id string) (*models.Instrument, error)
	ListInstruments(ctx context.Context) ([]models.Instrument, error)

	// Price facts
	UpsertPriceFacts(ctx context.Context, facts []models.PriceFact) error
	GetPriceFacts(ctx context.Context, instrumentID string, from, to time.Time) ([]models.PriceFact, error)
	GetPriceFact(ctx context.Context, instrumentID string, date time.Time) (*models.PriceFact, error)
	GetLatestClose(ctx context.Context, instrumentID string, onOrBefore time.Time) (float64, time.Time, error)

	// Signals
	RecordSignal(ctx context.Context, sig *models.Signal) error
	GetSignals(ctx context.Context, filter SignalFilter) ([]models.Signal, error)
	ListUnsettledSignals(ctx context.Context, before time.Time) ([]models.Signal, error)
	SettleSignal(ctx context.Context, instrumentID string, date time.Time, outcome models.SignalOutcome) error

	// Accounts & strategy config
	CreateAccount(ctx context.Context, userID string, initialCash float64) error
	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	GetStrategyConfig(ctx context.Context, userID string) (*models.StrategyConfig, error)
	UpdateStrategyConfig(ctx context.Context, cfg *models.StrategyConfig) error

	// Orders & ledger
	PlaceOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	FillOrder(ctx context.Context, orderID string, fill models.Fill) error
	CancelOrder(ctx context.Context, orderID string) error
	GetHoldings(ctx context.Context, userID string) ([]models.Holding, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)

	// Valuation snapshots
	SnapshotDay(ctx context.Context, userID string, date time.Time) (*models.DailySnapshot, error)
	GetSnapshots(ctx context.Context, userID string, from, to time.Time) ([]models.DailySnapshot, error)

	// Daily accuracy stats
	RecomputeDailyStats(ctx context.Context, date time.Time) (*models.DailyStats, error)
	GetDailyStats(ctx context.Context, from, to time.Time) ([]models.DailyStats, error)

	// Lifecycle
	Close() error
}

// SignalFilter represents filters for querying signals.
type SignalFilter struct {
	InstrumentID string
	StartDate    time.Time
	EndDate      time.Time
	Settled      *bool
	Limit        int
}

// OrderFilter represents filters for querying simulated orders.
type OrderFilter struct {
	UserID       string
	InstrumentID string
	Status       models.OrderStatus
	StartDate    time.Time
	EndDate      time.Time
	Limit        int
}

// TransactionFilter represents filters for querying the trade ledger.
type TransactionFilter struct {
	UserID       string
	InstrumentID string
	Side         models.OrderSide
	StartDate    time.Time
	EndDate      time.Time
	Limit        int
}
