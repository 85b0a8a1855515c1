package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedInstrument(t *testing.T, st *SQLiteStore, id string) {
	t.Helper()
	err := st.UpsertInstrument(context.Background(), &models.Instrument{ID: id, Name: id + " Test Corp"})
	require.NoError(t, err)
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestUpsertInstrument(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inst := &models.Instrument{ID: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", Category: "Technology"}
	require.NoError(t, st.UpsertInstrument(ctx, inst))

	// Upsert refreshes attributes in place
	inst.Name = "Apple"
	require.NoError(t, st.UpsertInstrument(ctx, inst))

	got, err := st.GetInstrument(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple", got.Name)
	assert.Equal(t, "NASDAQ", got.Exchange)

	list, err := st.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = st.GetInstrument(ctx, "MISSING")
	assert.ErrorIs(t, err, apperrors.ErrInstrumentNotFound)
}

func TestUpsertPriceFactsReplacesOnConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, st, "AAPL")

	fact := models.PriceFact{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Open: 100, High: 106, Low: 99, Close: 103, Volume: 1000,
	}
	require.NoError(t, st.UpsertPriceFacts(ctx, []models.PriceFact{fact}))

	// Re-upserting the same day with a corrected close replaces the row
	fact.Close = 104
	require.NoError(t, st.UpsertPriceFacts(ctx, []models.PriceFact{fact}))

	got, err := st.GetPriceFact(ctx, "AAPL", day("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, 104.0, got.Close)

	facts, err := st.GetPriceFacts(ctx, "AAPL", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestUpsertPriceFactsUnknownInstrument(t *testing.T) {
	st := newTestStore(t)

	fact := models.PriceFact{
		InstrumentID: "GHOST", Date: day("2024-01-15"),
		Open: 1, High: 1, Low: 1, Close: 1, Volume: 1,
	}
	err := st.UpsertPriceFacts(context.Background(), []models.PriceFact{fact})

	var refErr *apperrors.ReferentialError
	assert.ErrorAs(t, err, &refErr)
}

func TestUpsertPriceFactsValidation(t *testing.T) {
	st := newTestStore(t)
	seedInstrument(t, st, "AAPL")

	bad := models.PriceFact{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Open: 100, High: 90, Low: 95, Close: 98, Volume: 10,
	}
	err := st.UpsertPriceFacts(context.Background(), []models.PriceFact{bad})

	var domErr *apperrors.DomainError
	assert.ErrorAs(t, err, &domErr)
}

func TestGetLatestClose(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, st, "AAPL")

	facts := []models.PriceFact{
		{InstrumentID: "AAPL", Date: day("2024-01-10"), Open: 1, High: 2, Low: 1, Close: 101, Volume: 1},
		{InstrumentID: "AAPL", Date: day("2024-01-12"), Open: 1, High: 2, Low: 1, Close: 102, Volume: 1},
	}
	require.NoError(t, st.UpsertPriceFacts(ctx, facts))

	// Weekend lookup rolls back to the last trading day
	price, date, err := st.GetLatestClose(ctx, "AAPL", day("2024-01-14"))
	require.NoError(t, err)
	assert.Equal(t, 102.0, price)
	assert.Equal(t, day("2024-01-12"), date)

	_, _, err = st.GetLatestClose(ctx, "AAPL", day("2024-01-09"))
	assert.ErrorIs(t, err, apperrors.ErrNoPriceData)
}

func TestRecordSignalUniqueness(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, st, "AAPL")

	sig := models.Signal{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Direction: models.DirectionBull, Probability: 0.8,
	}
	require.NoError(t, st.RecordSignal(ctx, &sig))

	err := st.RecordSignal(ctx, &sig)
	var uniqErr *apperrors.UniquenessError
	assert.ErrorAs(t, err, &uniqErr)
}

func TestRecordSignalValidation(t *testing.T) {
	st := newTestStore(t)
	seedInstrument(t, st, "AAPL")

	bad := models.Signal{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Direction: models.DirectionBull, Probability: 1.5,
	}
	err := st.RecordSignal(context.Background(), &bad)

	var domErr *apperrors.DomainError
	assert.ErrorAs(t, err, &domErr)
}

func TestSettleSignalOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, st, "AAPL")

	sig := models.Signal{
		InstrumentID: "AAPL", Date: day("2024-01-15"),
		Direction: models.DirectionBull, Probability: 0.8,
	}
	require.NoError(t, st.RecordSignal(ctx, &sig))

	outcome := models.SignalOutcome{
		ActualClose: 105, ReturnPct: 0.02, IsCorrect: true, SettledAt: time.Now().UTC(),
	}
	require.NoError(t, st.SettleSignal(ctx, "AAPL", day("2024-01-15"), outcome))

	// The outcome is final: a second settle is rejected, first write wins
	outcome.ReturnPct = -0.5
	err := st.SettleSignal(ctx, "AAPL", day("2024-01-15"), outcome)
	assert.ErrorIs(t, err, apperrors.ErrAlreadySettled)

	sigs, err := st.GetSignals(ctx, SignalFilter{InstrumentID: "AAPL"})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.NotNil(t, sigs[0].ReturnPct)
	assert.Equal(t, 0.02, *sigs[0].ReturnPct)
	assert.True(t, sigs[0].Settled())

	err = st.SettleSignal(ctx, "AAPL", day("2024-02-01"), outcome)
	assert.ErrorIs(t, err, apperrors.ErrSignalNotFound)
}

func TestListUnsettledSignals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, st, "AAPL")
	seedInstrument(t, st, "MSFT")

	require.NoError(t, st.RecordSignal(ctx, &models.Signal{
		InstrumentID: "AAPL", Date: day("2024-01-10"), Direction: models.DirectionBull, Probability: 0.7,
	}))
	require.NoError(t, st.RecordSignal(ctx, &models.Signal{
		InstrumentID: "MSFT", Date: day("2024-01-20"), Direction: models.DirectionBear, Probability: 0.6,
	}))

	unsettled, err := st.ListUnsettledSignals(ctx, day("2024-01-15"))
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, "AAPL", unsettled[0].InstrumentID)
}

func TestCreateAccountSeedsStrategyConfig(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateAccount(ctx, "u1", 500000))

	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 500000.0, acc.CashBalance)
	assert.Equal(t, 500000.0, acc.TotalAsset)

	cfg, err := st.GetStrategyConfig(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RiskNeutral, cfg.RiskPreference)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)

	err = st.CreateAccount(ctx, "u1", 1)
	var uniqErr *apperrors.UniquenessError
	assert.ErrorAs(t, err, &uniqErr)

	_, err = st.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
}

func TestUpdateStrategyConfig(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, "u1", 1000))

	cfg, err := st.GetStrategyConfig(ctx, "u1")
	require.NoError(t, err)
	cfg.ConfidenceThreshold = 0.9
	cfg.StopLossPct = 0.08
	require.NoError(t, st.UpdateStrategyConfig(ctx, cfg))

	got, err := st.GetStrategyConfig(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.ConfidenceThreshold)
	assert.Equal(t, 0.08, got.StopLossPct)

	cfg.ConfidenceThreshold = 2
	var domErr *apperrors.DomainError
	assert.ErrorAs(t, st.UpdateStrategyConfig(ctx, cfg), &domErr)
}

func setupTradingAccount(t *testing.T, st *SQLiteStore, cash float64) {
	t.Helper()
	require.NoError(t, st.CreateAccount(context.Background(), "u1", cash))
	seedInstrument(t, st, "AAPL")
}

func placeOrder(t *testing.T, st *SQLiteStore, side models.OrderSide, price float64, shares int64) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID: "u1", Date: day("2024-01-15"), InstrumentID: "AAPL",
		Side: side, Price: price, Shares: shares,
	}
	require.NoError(t, st.PlaceOrder(context.Background(), order))
	return order
}

func TestFillBuyOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 10000)

	order := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.OrderPending, order.Status)

	fill := models.Fill{Price: 100, Shares: 10, Fee: 1, TotalAmount: 1001, FilledAt: time.Now().UTC()}
	require.NoError(t, st.FillOrder(ctx, order.ID, fill))

	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 8999.0, acc.CashBalance, 1e-9)

	holdings, err := st.GetHoldings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(10), holdings[0].Shares)
	assert.InDelta(t, 100.1, holdings[0].AvgCost, 1e-9)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.NotNil(t, got.FilledAt)

	txns, err := st.GetTransactions(ctx, TransactionFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, 1001.0, txns[0].TotalAmount)
}

func TestFillBuyAveragesCost(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 100000)

	first := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	require.NoError(t, st.FillOrder(ctx, first.ID,
		models.Fill{Price: 100, Shares: 10, Fee: 1, TotalAmount: 1001, FilledAt: time.Now().UTC()}))

	second := placeOrder(t, st, models.OrderSideBuy, 110, 10)
	require.NoError(t, st.FillOrder(ctx, second.ID,
		models.Fill{Price: 110, Shares: 10, Fee: 1, TotalAmount: 1101, FilledAt: time.Now().UTC()}))

	holdings, err := st.GetHoldings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(20), holdings[0].Shares)
	assert.InDelta(t, (1001.0+1101.0)/20.0, holdings[0].AvgCost, 1e-9)
}

func TestFillBuyInsufficientFunds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 500)

	order := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	err := st.FillOrder(ctx, order.ID,
		models.Fill{Price: 100, Shares: 10, Fee: 1, TotalAmount: 1001, FilledAt: time.Now().UTC()})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	// Rejected fill leaves everything untouched
	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, acc.CashBalance)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)

	holdings, err := st.GetHoldings(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestFillSellOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 10000)

	buy := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	require.NoError(t, st.FillOrder(ctx, buy.ID,
		models.Fill{Price: 100, Shares: 10, Fee: 1, TotalAmount: 1001, FilledAt: time.Now().UTC()}))

	sell := placeOrder(t, st, models.OrderSideSell, 110, 10)
	require.NoError(t, st.FillOrder(ctx, sell.ID,
		models.Fill{Price: 110, Shares: 10, Fee: 1, Tax: 3, TotalAmount: 1096, FilledAt: time.Now().UTC()}))

	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 10000-1001+1096, acc.CashBalance, 1e-9)

	// Fully liquidated position disappears instead of lingering at zero
	holdings, err := st.GetHoldings(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestFillSellInsufficientShares(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 10000)

	sell := placeOrder(t, st, models.OrderSideSell, 110, 10)
	err := st.FillOrder(ctx, sell.ID,
		models.Fill{Price: 110, Shares: 10, Fee: 1, Tax: 3, TotalAmount: 1096, FilledAt: time.Now().UTC()})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientShares)
}

func TestFillNonPendingOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 10000)

	order := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	require.NoError(t, st.CancelOrder(ctx, order.ID))

	err := st.FillOrder(ctx, order.ID,
		models.Fill{Price: 100, Shares: 10, Fee: 1, TotalAmount: 1001, FilledAt: time.Now().UTC()})
	assert.ErrorIs(t, err, apperrors.ErrOrderNotPending)

	err = st.FillOrder(ctx, "no-such-order",
		models.Fill{Price: 1, Shares: 1, Fee: 1, TotalAmount: 2, FilledAt: time.Now().UTC()})
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}

func TestCancelOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 10000)

	order := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	require.NoError(t, st.CancelOrder(ctx, order.ID))

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)

	// Cancel never touches the ledger
	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, acc.CashBalance)

	assert.ErrorIs(t, st.CancelOrder(ctx, order.ID), apperrors.ErrOrderNotPending)
	assert.ErrorIs(t, st.CancelOrder(ctx, "missing"), apperrors.ErrOrderNotFound)
}

func TestSnapshotDay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 10000)

	require.NoError(t, st.UpsertPriceFacts(ctx, []models.PriceFact{
		{InstrumentID: "AAPL", Date: day("2024-01-15"), Open: 100, High: 112, Low: 99, Close: 110, Volume: 10},
	}))

	buy := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	require.NoError(t, st.FillOrder(ctx, buy.ID,
		models.Fill{Price: 100, Shares: 10, Fee: 1, TotalAmount: 1001, FilledAt: time.Now().UTC()}))

	snap, err := st.SnapshotDay(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.InDelta(t, 8999.0, snap.CashBalance, 1e-9)
	assert.InDelta(t, 1100.0, snap.StockValue, 1e-9)
	assert.InDelta(t, snap.CashBalance+snap.StockValue, snap.TotalAssets, 1e-9)

	acc, err := st.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, snap.TotalAssets, acc.TotalAsset, 1e-9)

	// One snapshot per day
	_, err = st.SnapshotDay(ctx, "u1", day("2024-01-15"))
	var uniqErr *apperrors.UniquenessError
	assert.ErrorAs(t, err, &uniqErr)

	snaps, err := st.GetSnapshots(ctx, "u1", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestSnapshotDayAvgCostFallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 10000)

	buy := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	require.NoError(t, st.FillOrder(ctx, buy.ID,
		models.Fill{Price: 100, Shares: 10, Fee: 1, TotalAmount: 1001, FilledAt: time.Now().UTC()}))

	// No price facts stored: holdings valued at average cost
	snap, err := st.SnapshotDay(ctx, "u1", day("2024-01-15"))
	require.NoError(t, err)
	assert.InDelta(t, 1001.0, snap.StockValue, 1e-9)
}

func TestRecomputeDailyStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, st, "AAPL")
	seedInstrument(t, st, "MSFT")
	seedInstrument(t, st, "GOOG")

	d := day("2024-01-15")
	settle := func(id string, correct bool, ret float64) {
		require.NoError(t, st.RecordSignal(ctx, &models.Signal{
			InstrumentID: id, Date: d, Direction: models.DirectionBull, Probability: 0.8,
		}))
		require.NoError(t, st.SettleSignal(ctx, id, d, models.SignalOutcome{
			ActualClose: 100, ReturnPct: ret, IsCorrect: correct, SettledAt: time.Now().UTC(),
		}))
	}
	settle("AAPL", true, 0.02)
	settle("MSFT", true, 0.04)
	settle("GOOG", false, -0.01)

	stats, err := st.RecomputeDailyStats(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalPredictions)
	assert.Equal(t, 2, stats.CorrectPredictions)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
	assert.InDelta(t, (0.02+0.04-0.01)/3.0, stats.AvgReturn, 1e-9)

	// Recompute is idempotent
	again, err := st.RecomputeDailyStats(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalPredictions, again.TotalPredictions)
	assert.Equal(t, stats.WinRate, again.WinRate)

	rows, err := st.GetDailyStats(ctx, d, d)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGetOrdersFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	setupTradingAccount(t, st, 100000)

	o1 := placeOrder(t, st, models.OrderSideBuy, 100, 10)
	placeOrder(t, st, models.OrderSideSell, 120, 5)
	require.NoError(t, st.CancelOrder(ctx, o1.ID))

	pending, err := st.GetOrders(ctx, OrderFilter{UserID: "u1", Status: models.OrderPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OrderSideSell, pending[0].Side)

	all, err := st.GetOrders(ctx, OrderFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := st.GetOrders(ctx, OrderFilter{UserID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetPriceFactsMalformedDate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, st, "AAPL")

	// Corrupt a date column behind the store's back
	_, err := st.db.ExecContext(ctx, `
		INSERT INTO price_facts (instrument_id, date, open, high, low, close, volume)
		VALUES ('AAPL', '2024-13-45', 100, 105, 99, 103, 1000)
	`)
	require.NoError(t, err)

	_, err = st.GetPriceFacts(ctx, "AAPL", day("2000-01-01"), day("2100-01-01"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-13-45")
}
