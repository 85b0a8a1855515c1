package quotes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// csvBar is the on-disk row format for offline quote files: one file per
// symbol, named <SYMBOL>.csv, with a header row.
type csvBar struct {
	Date       string  `csv:"date"`
	Open       float64 `csv:"open"`
	High       float64 `csv:"high"`
	Low        float64 `csv:"low"`
	Close      float64 `csv:"close"`
	AdjClose   float64 `csv:"adj_close"`
	Volume     int64   `csv:"volume"`
	ForeignNet int64   `csv:"foreign_net"`
	TrustNet   int64   `csv:"trust_net"`
}

// CSVProvider serves daily bars from local CSV exports, for seeding and
// offline runs.
type CSVProvider struct {
	dir string
}

// NewCSVProvider returns a provider reading <dir>/<SYMBOL>.csv files.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

func (p *CSVProvider) Name() string { return "csv" }

func (p *CSVProvider) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	if symbol == "" {
		return nil, apperrors.NewDomainError("symbol", symbol, "must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(p.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open quote file %s: %w", path, err)
	}
	defer f.Close()

	var rows []csvBar
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse quote file %s: %w", path, err)
	}

	var bars []Bar
	for _, row := range rows {
		date, err := time.Parse(models.DateFormat, row.Date)
		if err != nil {
			return nil, apperrors.NewDomainError("date", row.Date, "unparseable date in quote file")
		}
		if date.Before(from) || date.After(to) {
			continue
		}
		bars = append(bars, Bar{
			Date:       date,
			Open:       row.Open,
			High:       row.High,
			Low:        row.Low,
			Close:      row.Close,
			AdjClose:   row.AdjClose,
			Volume:     row.Volume,
			ForeignNet: row.ForeignNet,
			TrustNet:   row.TrustNet,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}
