package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/models"
	"marketpulse/internal/quotes"
)

func bar(dayOffset int, close float64) quotes.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return quotes.Bar{
		Date:  start.AddDate(0, 0, dayOffset),
		Open:  close - 1,
		High:  close + 1,
		Low:   close - 2,
		Close: close,
	}
}

func TestTransformSortsAndComputesAverages(t *testing.T) {
	// Deliberately out of order
	bars := []quotes.Bar{
		bar(4, 105), bar(0, 101), bar(2, 103), bar(1, 102), bar(3, 104),
	}

	facts := Transform("AAPL", bars)
	require.Len(t, facts, 5)

	for i := 1; i < len(facts); i++ {
		assert.True(t, facts[i].Date.After(facts[i-1].Date))
	}

	// Under the window the average stays zero
	for i := 0; i < 4; i++ {
		assert.Zero(t, facts[i].MA5)
	}
	assert.InDelta(t, (101+102+103+104+105)/5.0, facts[4].MA5, 1e-9)

	// Long window never fills with five bars
	for _, f := range facts {
		assert.Zero(t, f.MA20)
		assert.Equal(t, "AAPL", f.InstrumentID)
	}
}

func TestTransformLongWindow(t *testing.T) {
	bars := make([]quotes.Bar, 25)
	for i := range bars {
		bars[i] = bar(i, 100+float64(i))
	}

	facts := Transform("AAPL", bars)
	require.Len(t, facts, 25)

	assert.Zero(t, facts[18].MA20)
	// First full 20-day window: closes 100..119
	var want float64
	for i := 0; i < 20; i++ {
		want += 100 + float64(i)
	}
	assert.InDelta(t, want/20, facts[19].MA20, 1e-9)
	assert.InDelta(t, (want+20*5)/20, facts[24].MA20, 1e-9)
}

func TestTransformEmpty(t *testing.T) {
	assert.Nil(t, Transform("AAPL", nil))
}

func TestTransformCarriesNetFlows(t *testing.T) {
	b := bar(0, 100)
	b.ForeignNet = 1500
	b.TrustNet = -200
	b.Volume = 9000

	facts := Transform("AAPL", []quotes.Bar{b})
	require.Len(t, facts, 1)
	assert.Equal(t, int64(1500), facts[0].ForeignNet)
	assert.Equal(t, int64(-200), facts[0].TrustNet)
	assert.Equal(t, int64(9000), facts[0].Volume)
}

func TestIndicatorsRecompute(t *testing.T) {
	facts := make([]models.PriceFact, 6)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range facts {
		facts[i] = models.PriceFact{
			InstrumentID: "AAPL",
			Date:         start.AddDate(0, 0, i),
			Close:        100 + float64(i),
			// Stale values that must be overwritten
			MA5: -1, MA20: -1,
		}
	}

	out := Indicators(facts)
	require.Len(t, out, 6)
	assert.Zero(t, out[3].MA5)
	assert.InDelta(t, (100+101+102+103+104)/5.0, out[4].MA5, 1e-9)
	assert.InDelta(t, (101+102+103+104+105)/5.0, out[5].MA5, 1e-9)
	for _, f := range out {
		assert.Zero(t, f.MA20)
	}
}
