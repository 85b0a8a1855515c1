package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	apperrors "marketpulse/internal/errors"
)

// YahooProvider pulls daily candles from Yahoo Finance's chart API.
type YahooProvider struct{}

// NewYahooProvider returns a provider backed by Yahoo Finance.
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{}
}

func (p *YahooProvider) Name() string { return "yahoo" }

// DailyBars fetches candles for the inclusive date range. Yahoo reports
// timestamps at exchange-local market open; they are truncated to calendar
// days here.
func (p *YahooProvider) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	if symbol == "" {
		return nil, apperrors.NewDomainError("symbol", symbol, "must not be empty")
	}
	if to.Before(from) {
		return nil, apperrors.NewDomainError("to", to.Format("2006-01-02"), "range end precedes start")
	}

	// The chart API treats End as exclusive, so pad one day to keep the
	// caller's range inclusive.
	end := to.AddDate(0, 0, 1)
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&from),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)

	var bars []Bar
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := iter.Bar()
		ts := time.Unix(int64(b.Timestamp), 0).UTC()
		bars = append(bars, Bar{
			Date:     time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
			Open:     b.Open.InexactFloat64(),
			High:     b.High.InexactFloat64(),
			Low:      b.Low.InexactFloat64(),
			Close:    b.Close.InexactFloat64(),
			AdjClose: b.AdjClose.InexactFloat64(),
			Volume:   int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}

	return bars, nil
}
