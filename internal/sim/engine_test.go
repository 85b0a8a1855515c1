package sim

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/models"
	"marketpulse/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sim_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedMarket(t *testing.T, st store.Store, low, high, close float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertInstrument(ctx, &models.Instrument{ID: "AAPL", Name: "Apple Inc."}))
	require.NoError(t, st.UpsertPriceFacts(ctx, []models.PriceFact{{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Open: low + 1, High: high, Low: low, Close: close, Volume: 1000,
	}}))
}

func TestEngineFillsWhenBarTradesThrough(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, st, 98, 106, 104)
	require.NoError(t, st.CreateAccount(ctx, "u1", 1_000_000))

	order := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: models.OrderSideBuy, Price: 100, Shares: 1000,
	}
	require.NoError(t, st.PlaceOrder(ctx, order))

	engine := NewEngine(st, DefaultFees(), zerolog.Nop())
	result, err := engine.Settle(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Filled)
	assert.Equal(t, 0, result.Cancelled)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.Equal(t, 142.0, got.Fee)
	assert.Equal(t, 100142.0, got.TotalAmount)

	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000-100142, acc.CashBalance, 1e-6)

	// Snapshot values the filled position at the day's close
	require.NotNil(t, result.Snapshot)
	assert.InDelta(t, 1000*104.0, result.Snapshot.StockValue, 1e-6)
	assert.InDelta(t, result.Snapshot.CashBalance+result.Snapshot.StockValue,
		result.Snapshot.TotalAssets, 1e-9)
}

func TestEngineCancelsWhenLimitNotReached(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, st, 101, 106, 104)
	require.NoError(t, st.CreateAccount(ctx, "u1", 1_000_000))

	// Buy limit 100 below the day's low of 101 never fills
	order := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: models.OrderSideBuy, Price: 100, Shares: 1000,
	}
	require.NoError(t, st.PlaceOrder(ctx, order))

	engine := NewEngine(st, DefaultFees(), zerolog.Nop())
	result, err := engine.Settle(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Filled)
	assert.Equal(t, 1, result.Cancelled)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)

	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, acc.CashBalance)
}

func TestEngineCancelsWhenBarMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertInstrument(ctx, &models.Instrument{ID: "AAPL", Name: "Apple Inc."}))
	require.NoError(t, st.CreateAccount(ctx, "u1", 1_000_000))

	order := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: models.OrderSideBuy, Price: 100, Shares: 1000,
	}
	require.NoError(t, st.PlaceOrder(ctx, order))

	engine := NewEngine(st, DefaultFees(), zerolog.Nop())
	result, err := engine.Settle(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
}

func TestEngineSellFill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, st, 98, 112, 110)
	require.NoError(t, st.CreateAccount(ctx, "u1", 1_000_000))

	// Establish a position first
	buy := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: models.OrderSideBuy, Price: 100, Shares: 1000,
	}
	require.NoError(t, st.PlaceOrder(ctx, buy))
	require.NoError(t, st.FillOrder(ctx, buy.ID, models.Fill{
		Price: 100, Shares: 1000, Fee: 142, TotalAmount: 100142, FilledAt: time.Now().UTC(),
	}))

	sell := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: models.OrderSideSell, Price: 111, Shares: 1000,
	}
	require.NoError(t, st.PlaceOrder(ctx, sell))

	engine := NewEngine(st, DefaultFees(), zerolog.Nop())
	result, err := engine.Settle(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Filled)

	holdings, err := st.GetHoldings(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, holdings)

	got, err := st.GetOrder(ctx, sell.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.Greater(t, got.Tax, 0.0)
}

func TestEngineCancelsWhenFeesExceedProceeds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, st, 4, 6, 5)
	require.NoError(t, st.CreateAccount(ctx, "u1", 1000))

	buy := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: models.OrderSideBuy, Price: 5, Shares: 1,
	}
	require.NoError(t, st.PlaceOrder(ctx, buy))
	require.NoError(t, st.FillOrder(ctx, buy.ID, models.Fill{
		Price: 5, Shares: 1, Fee: 20, TotalAmount: 25, FilledAt: time.Now().UTC(),
	}))

	// Gross proceeds of 5 are under the 20 fee floor
	sell := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: models.OrderSideSell, Price: 5, Shares: 1,
	}
	require.NoError(t, st.PlaceOrder(ctx, sell))

	engine := NewEngine(st, DefaultFees(), zerolog.Nop())
	result, err := engine.Settle(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Filled)
	assert.Equal(t, 1, result.Cancelled)
	require.NotNil(t, result.Snapshot)

	got, err := st.GetOrder(ctx, sell.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)

	// Position and cash untouched by the cancel
	holdings, err := st.GetHoldings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(1), holdings[0].Shares)
}

func TestPlannerPlacesBuysAboveThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, st, 98, 106, 104)
	require.NoError(t, st.CreateAccount(ctx, "u1", 1_000_000))

	require.NoError(t, st.RecordSignal(ctx, &models.Signal{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Direction: models.DirectionBull, Probability: 0.85, EntryPrice: 80,
	}))

	planner := NewPlanner(st, DefaultFees(), zerolog.Nop())
	orders, err := planner.Plan(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	require.Len(t, orders, 1)

	// 100000 budget at 80 buys 1250 shares, rounded down to one 1000-share lot
	assert.Equal(t, models.OrderSideBuy, orders[0].Side)
	assert.Equal(t, 80.0, orders[0].Price)
	assert.Equal(t, int64(1000), orders[0].Shares)
	assert.Equal(t, models.OrderPending, orders[0].Status)
}

func TestPlannerSkipsLowConfidence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedMarket(t, st, 98, 106, 104)
	require.NoError(t, st.CreateAccount(ctx, "u1", 1_000_000))

	require.NoError(t, st.RecordSignal(ctx, &models.Signal{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Direction: models.DirectionBull, Probability: 0.5, EntryPrice: 103,
	}))

	planner := NewPlanner(st, DefaultFees(), zerolog.Nop())
	orders, err := planner.Plan(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlannerStopLossSell(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertInstrument(ctx, &models.Instrument{ID: "AAPL", Name: "Apple Inc."}))
	require.NoError(t, st.CreateAccount(ctx, "u1", 1_000_000))

	buy := &models.Order{
		UserID: "u1", Date: day("2024-01-10"), InstrumentID: "AAPL",
		Side: models.OrderSideBuy, Price: 100, Shares: 1000,
	}
	require.NoError(t, st.PlaceOrder(ctx, buy))
	require.NoError(t, st.FillOrder(ctx, buy.ID, models.Fill{
		Price: 100, Shares: 1000, Fee: 142, TotalAmount: 100142, FilledAt: time.Now().UTC(),
	}))

	// Close at 90 breaches the default 5% stop from avg cost ~100.142
	require.NoError(t, st.UpsertPriceFacts(ctx, []models.PriceFact{{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Open: 95, High: 96, Low: 89, Close: 90, Volume: 1000,
	}}))

	planner := NewPlanner(st, DefaultFees(), zerolog.Nop())
	orders, err := planner.Plan(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderSideSell, orders[0].Side)
	assert.Equal(t, int64(1000), orders[0].Shares)
	assert.Equal(t, 90.0, orders[0].Price)
}

func TestPositionSize(t *testing.T) {
	assert.Equal(t, int64(9000), positionSize(100000, 11, 1000))
	assert.Equal(t, int64(0), positionSize(100000, 103, 1000))
	assert.Equal(t, int64(970), positionSize(100000, 103, 10))
	assert.Equal(t, int64(0), positionSize(100, 0, 10))
}
