package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"marketpulse/internal/models"
)

// Property: upserting the same price facts twice leaves exactly one row per
// (instrument, date) with the last written values.
func TestProperty_PriceFactUpsertIdempotent(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "facts_property.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.UpsertInstrument(ctx, &models.Instrument{ID: "PROP", Name: "Property Test"}); err != nil {
		t.Fatalf("Failed to seed instrument: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	var run int64

	properties.Property("double upsert keeps one row with last values", prop.ForAll(
		func(count int, basePrice float64, volume int64) bool {
			run++
			start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(int(run%30), 0, 0)

			facts := generateFacts("PROP", start, count, basePrice, volume)
			if err := st.UpsertPriceFacts(ctx, facts); err != nil {
				t.Logf("First upsert failed: %v", err)
				return false
			}

			// Second write with shifted closes must replace, not duplicate
			for i := range facts {
				facts[i].Close = facts[i].Close + 1
				facts[i].High = facts[i].High + 1
			}
			if err := st.UpsertPriceFacts(ctx, facts); err != nil {
				t.Logf("Second upsert failed: %v", err)
				return false
			}

			got, err := st.GetPriceFacts(ctx, "PROP", start, start.AddDate(0, 0, count))
			if err != nil {
				t.Logf("Read failed: %v", err)
				return false
			}
			if len(got) != count {
				t.Logf("Row count mismatch: expected %d, got %d", count, len(got))
				return false
			}
			for i := range got {
				if math.Abs(got[i].Close-facts[i].Close) > 1e-9 {
					t.Logf("Close mismatch at %d: %v vs %v", i, got[i].Close, facts[i].Close)
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 15),
		gen.Float64Range(10, 5000),
		gen.Int64Range(1000, 1_000_000),
	))

	properties.TestingRun(t)
}

// Property: any sequence of filled buys and sells conserves value,
// cash + Σ(buy totals) - Σ(sell totals) equals the initial balance, and
// holdings never go negative.
func TestProperty_FillLedgerConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	var run int64

	properties.Property("fills conserve cash and never oversell", prop.ForAll(
		func(lots []bool, price float64, lotShares int64) bool {
			run++
			st, err := NewSQLiteStore(filepath.Join(t.TempDir(), fmt.Sprintf("ledger_%d.db", run)))
			if err != nil {
				t.Logf("Failed to create store: %v", err)
				return false
			}
			defer st.Close()

			ctx := context.Background()
			const initialCash = 10_000_000.0
			if err := st.CreateAccount(ctx, "prop", initialCash); err != nil {
				t.Logf("Failed to create account: %v", err)
				return false
			}
			if err := st.UpsertInstrument(ctx, &models.Instrument{ID: "PROP", Name: "Property Test"}); err != nil {
				t.Logf("Failed to seed instrument: %v", err)
				return false
			}

			cash := initialCash
			var held int64

			for _, isBuy := range lots {
				side := models.OrderSideSell
				if isBuy {
					side = models.OrderSideBuy
				}
				order := &models.Order{
					UserID: "prop", Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
					InstrumentID: "PROP", Side: side, Price: price, Shares: lotShares,
				}
				if err := st.PlaceOrder(ctx, order); err != nil {
					t.Logf("PlaceOrder failed: %v", err)
					return false
				}

				amount := price * float64(lotShares)
				fill := models.Fill{
					Price: price, Shares: lotShares, Fee: 20,
					FilledAt: time.Now().UTC(),
				}
				if isBuy {
					fill.TotalAmount = amount + fill.Fee
				} else {
					fill.Tax = math.Trunc(amount * 0.003)
					fill.TotalAmount = amount - fill.Fee - fill.Tax
				}

				err := st.FillOrder(ctx, order.ID, fill)
				if !isBuy && held < lotShares {
					// Oversell must be rejected and change nothing
					if err == nil {
						t.Log("Oversell was accepted")
						return false
					}
					continue
				}
				if isBuy && cash < fill.TotalAmount {
					if err == nil {
						t.Log("Overdraft was accepted")
						return false
					}
					continue
				}
				if err != nil {
					t.Logf("FillOrder failed: %v", err)
					return false
				}

				if isBuy {
					cash -= fill.TotalAmount
					held += lotShares
				} else {
					cash += fill.TotalAmount
					held -= lotShares
				}
			}

			acc, err := st.GetAccount(ctx, "prop")
			if err != nil {
				t.Logf("GetAccount failed: %v", err)
				return false
			}
			if math.Abs(acc.CashBalance-cash) > 1e-6 {
				t.Logf("Cash drift: expected %v, got %v", cash, acc.CashBalance)
				return false
			}

			holdings, err := st.GetHoldings(ctx, "prop")
			if err != nil {
				t.Logf("GetHoldings failed: %v", err)
				return false
			}
			var gotHeld int64
			for _, h := range holdings {
				if h.Shares <= 0 {
					t.Logf("Non-positive holding row: %+v", h)
					return false
				}
				gotHeld += h.Shares
			}
			if gotHeld != held {
				t.Logf("Share drift: expected %d, got %d", held, gotHeld)
				return false
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.Float64Range(50, 500),
		gen.Int64Range(10, 100),
	))

	properties.TestingRun(t)
}

// Property: a settled signal's outcome never changes, no matter how many
// later settle attempts land on it.
func TestProperty_SettleOnce(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "settle_property.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.UpsertInstrument(ctx, &models.Instrument{ID: "PROP", Name: "Property Test"}); err != nil {
		t.Fatalf("Failed to seed instrument: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	var run int64

	properties.Property("first settle wins", prop.ForAll(
		func(firstReturn, secondReturn float64, attempts int) bool {
			run++
			date := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(run))

			sig := models.Signal{
				InstrumentID: "PROP", Date: date,
				Direction: models.DirectionBull, Probability: 0.5,
			}
			if err := st.RecordSignal(ctx, &sig); err != nil {
				t.Logf("RecordSignal failed: %v", err)
				return false
			}

			first := models.SignalOutcome{
				ActualClose: 100, ReturnPct: firstReturn,
				IsCorrect: firstReturn > 0, SettledAt: time.Now().UTC(),
			}
			if err := st.SettleSignal(ctx, "PROP", date, first); err != nil {
				t.Logf("First settle failed: %v", err)
				return false
			}

			for i := 0; i < attempts; i++ {
				second := models.SignalOutcome{
					ActualClose: 200, ReturnPct: secondReturn,
					IsCorrect: secondReturn > 0, SettledAt: time.Now().UTC(),
				}
				if err := st.SettleSignal(ctx, "PROP", date, second); err == nil {
					t.Log("Second settle was accepted")
					return false
				}
			}

			sigs, err := st.GetSignals(ctx, SignalFilter{InstrumentID: "PROP", StartDate: date, EndDate: date})
			if err != nil || len(sigs) != 1 || sigs[0].ReturnPct == nil {
				t.Logf("Read back failed: %v", err)
				return false
			}
			return math.Abs(*sigs[0].ReturnPct-firstReturn) < 1e-9
		},
		gen.Float64Range(-0.5, 0.5),
		gen.Float64Range(-0.5, 0.5),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func generateFacts(instrumentID string, start time.Time, count int, basePrice float64, volume int64) []models.PriceFact {
	facts := make([]models.PriceFact, count)
	for i := 0; i < count; i++ {
		price := basePrice + float64(i)
		facts[i] = models.PriceFact{
			InstrumentID: instrumentID,
			Date:         start.AddDate(0, 0, i),
			Open:         price,
			High:         price * 1.02,
			Low:          price * 0.98,
			Close:        price * 1.01,
			Volume:       volume,
		}
	}
	return facts
}
