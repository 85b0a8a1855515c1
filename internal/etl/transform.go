package etl

import (
	"sort"

	"marketpulse/internal/models"
	"marketpulse/internal/quotes"
)

const (
	shortWindow = 5
	longWindow  = 20
)

// Transform converts raw provider bars into price facts with derived
// moving averages. Bars are sorted by date first; averages stay zero until
// the trailing window is full.
func Transform(instrumentID string, bars []quotes.Bar) []models.PriceFact {
	if len(bars) == 0 {
		return nil
	}

	sorted := make([]quotes.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	closes := make([]float64, len(sorted))
	for i, b := range sorted {
		closes[i] = b.Close
	}

	facts := make([]models.PriceFact, len(sorted))
	for i, b := range sorted {
		facts[i] = models.PriceFact{
			InstrumentID: instrumentID,
			Date:         b.Date,
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			AdjClose:     b.AdjClose,
			MA5:          trailingMean(closes, i, shortWindow),
			MA20:         trailingMean(closes, i, longWindow),
			ForeignNet:   b.ForeignNet,
			TrustNet:     b.TrustNet,
		}
	}

	return facts
}

// trailingMean averages the window ending at index i, returning 0 when
// fewer than window values precede it.
func trailingMean(values []float64, i, window int) float64 {
	if i+1 < window {
		return 0
	}
	var sum float64
	for _, v := range values[i+1-window : i+1] {
		sum += v
	}
	return sum / float64(window)
}

// Indicators recomputes the moving averages of already stored facts, for
// backfills after manual edits or partial loads. Input must belong to one
// instrument.
func Indicators(facts []models.PriceFact) []models.PriceFact {
	if len(facts) == 0 {
		return nil
	}

	sorted := make([]models.PriceFact, len(facts))
	copy(sorted, facts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	closes := make([]float64, len(sorted))
	for i := range sorted {
		closes[i] = sorted[i].Close
	}
	for i := range sorted {
		sorted[i].MA5 = trailingMean(closes, i, shortWindow)
		sorted[i].MA20 = trailingMean(closes, i, longWindow)
	}

	return sorted
}
