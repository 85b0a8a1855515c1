// Package etl loads daily quotes from a provider, derives indicators, and
// upserts the results as price facts.
package etl

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logging"
	"marketpulse/internal/quotes"
	"marketpulse/internal/store"
	"marketpulse/pkg/utils"
)

// Pipeline coordinates concurrent symbol loads.
type Pipeline struct {
	store    store.Store
	provider quotes.Provider
	logger   zerolog.Logger
	workers  int
	retry    utils.RetryConfig
}

// Result summarizes one symbol's load.
type Result struct {
	InstrumentID string
	Rows         int
	Err          error
}

// NewPipeline creates a pipeline with the given concurrency. workers <= 0
// sizes the pool to the CPU count.
func NewPipeline(st store.Store, provider quotes.Provider, logger zerolog.Logger, workers int) *Pipeline {
	retry := utils.DefaultRetryConfig()
	retry.Retryable = func(err error) bool {
		// Validation failures will not heal on retry.
		var de *apperrors.DomainError
		return !apperrors.As(err, &de)
	}

	return &Pipeline{
		store:    st,
		provider: provider,
		logger:   logger.With().Str("component", "etl").Str("provider", provider.Name()).Logger(),
		workers:  workers,
		retry:    retry,
	}
}

// LoadSymbol extracts, transforms, and upserts one instrument's bars.
func (p *Pipeline) LoadSymbol(ctx context.Context, instrumentID string, from, to time.Time) (int, error) {
	bars, err := utils.RetryWithResult(ctx, p.retry, func() ([]quotes.Bar, error) {
		return p.provider.DailyBars(ctx, instrumentID, from, to)
	})
	if err != nil {
		return 0, apperrors.Wrapf(err, "extract failed for %s", instrumentID)
	}

	facts := Transform(instrumentID, bars)
	if len(facts) == 0 {
		return 0, nil
	}

	if err := p.store.UpsertPriceFacts(ctx, facts); err != nil {
		return 0, apperrors.Wrapf(err, "load failed for %s", instrumentID)
	}

	logging.LogIngest(p.logger, instrumentID, len(facts), from, to)
	return len(facts), nil
}

// Run loads all symbols over the worker pool. Per-symbol failures are
// reported in the results, not returned; the run keeps going so one bad
// symbol cannot starve the rest.
func (p *Pipeline) Run(ctx context.Context, instrumentIDs []string, from, to time.Time) []Result {
	pool := newWorkerPool(p.workers)
	pool.start()

	results := make([]Result, len(instrumentIDs))
	var wg sync.WaitGroup

	for i, id := range instrumentIDs {
		i, id := i, id
		wg.Add(1)
		ok := pool.submit(func() {
			defer wg.Done()
			rows, err := p.LoadSymbol(ctx, id, from, to)
			results[i] = Result{InstrumentID: id, Rows: rows, Err: err}
			if err != nil {
				p.logger.Error().Err(err).Str("instrument", id).Msg("Symbol load failed")
			}
		})
		if !ok {
			wg.Done()
			results[i] = Result{InstrumentID: id, Err: apperrors.ErrDatabaseError}
		}
	}

	wg.Wait()
	pool.stop()

	return results
}

// RecomputeIndicators rebuilds moving averages for an instrument's stored
// history, for backfills after partial loads.
func (p *Pipeline) RecomputeIndicators(ctx context.Context, instrumentID string) (int, error) {
	facts, err := p.store.GetPriceFacts(ctx, instrumentID,
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if len(facts) == 0 {
		return 0, nil
	}

	recomputed := Indicators(facts)
	if err := p.store.UpsertPriceFacts(ctx, recomputed); err != nil {
		return 0, err
	}

	return len(recomputed), nil
}
