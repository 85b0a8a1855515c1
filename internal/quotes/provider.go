// Package quotes abstracts daily market data sources behind a single
// provider interface so the ETL pipeline can pull from Yahoo Finance or
// local CSV exports interchangeably.
package quotes

import (
	"context"
	"time"
)

// Bar is one day of raw quote data from a provider. Net flow fields are
// zero for sources that do not publish institutional activity.
type Bar struct {
	Date       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	AdjClose   float64
	Volume     int64
	ForeignNet int64
	TrustNet   int64
}

// Provider fetches daily bars for one symbol over an inclusive date range,
// oldest first.
type Provider interface {
	DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
	Name() string
}
