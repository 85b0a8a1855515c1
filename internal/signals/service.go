// Package signals manages directional calls: recording, outcome settlement
// against realized prices, and accuracy summaries.
package signals

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logging"
	"marketpulse/internal/models"
	"marketpulse/internal/store"
)

// Service wraps signal persistence with the settlement workflow.
type Service struct {
	store  store.Store
	logger zerolog.Logger
}

// NewService creates a signal service.
func NewService(st store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With().Str("component", "signals").Logger(),
	}
}

// Record validates and stores a new directional call. A second call for the
// same instrument and date fails with a UniquenessError.
func (s *Service) Record(ctx context.Context, sig *models.Signal) error {
	if err := s.store.RecordSignal(ctx, sig); err != nil {
		return err
	}
	s.logger.Info().
		Str("instrument", sig.InstrumentID).
		Str("date", sig.Date.Format(models.DateFormat)).
		Str("direction", string(sig.Direction)).
		Float64("probability", sig.Probability).
		Msg("Signal recorded")
	return nil
}

// SettleResult summarizes one settlement pass.
type SettleResult struct {
	Settled int
	Skipped int
}

// Settle resolves every unsettled signal dated before today against the
// first close after the signal date. Signals whose reference bars are not
// stored yet are skipped and picked up on a later pass. Daily stats are
// recomputed for every date a settlement touched.
func (s *Service) Settle(ctx context.Context, now time.Time) (SettleResult, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	unsettled, err := s.store.ListUnsettledSignals(ctx, today)
	if err != nil {
		return SettleResult{}, err
	}

	var result SettleResult
	touched := map[time.Time]struct{}{}

	for _, sig := range unsettled {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome, ok, err := s.resolve(ctx, &sig)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}

		err = s.store.SettleSignal(ctx, sig.InstrumentID, sig.Date, outcome)
		if apperrors.Is(err, apperrors.ErrAlreadySettled) {
			// Lost a race with a concurrent pass; the outcome is written.
			result.Skipped++
			continue
		}
		if err != nil {
			return result, err
		}

		logging.LogSettlement(s.logger, sig.InstrumentID, sig.Date, outcome.ReturnPct, outcome.IsCorrect)
		result.Settled++
		touched[sig.Date] = struct{}{}
	}

	for date := range touched {
		if _, err := s.store.RecomputeDailyStats(ctx, date); err != nil {
			return result, err
		}
	}

	return result, nil
}

// resolve computes a signal's outcome from the close on its date and the
// first close after it. ok is false when either bar is missing.
func (s *Service) resolve(ctx context.Context, sig *models.Signal) (models.SignalOutcome, bool, error) {
	base, err := s.store.GetPriceFact(ctx, sig.InstrumentID, sig.Date)
	if apperrors.Is(err, apperrors.ErrNoPriceData) {
		return models.SignalOutcome{}, false, nil
	}
	if err != nil {
		return models.SignalOutcome{}, false, err
	}

	next, err := s.firstCloseAfter(ctx, sig.InstrumentID, sig.Date)
	if apperrors.Is(err, apperrors.ErrNoPriceData) {
		return models.SignalOutcome{}, false, nil
	}
	if err != nil {
		return models.SignalOutcome{}, false, err
	}

	returnPct := (next - base.Close) / base.Close
	return models.SignalOutcome{
		ActualClose: next,
		ReturnPct:   returnPct,
		IsCorrect:   models.EvaluateOutcome(sig.Direction, returnPct),
		SettledAt:   time.Now().UTC(),
	}, true, nil
}

// firstCloseAfter finds the close of the first stored trading day strictly
// after date, scanning a bounded horizon past it.
func (s *Service) firstCloseAfter(ctx context.Context, instrumentID string, date time.Time) (float64, error) {
	facts, err := s.store.GetPriceFacts(ctx, instrumentID, date.AddDate(0, 0, 1), date.AddDate(0, 0, 30))
	if err != nil {
		return 0, err
	}
	if len(facts) == 0 {
		return 0, apperrors.ErrNoPriceData
	}
	return facts[0].Close, nil
}

// Summary aggregates settled signals over a date range.
type Summary struct {
	Total       int
	Correct     int
	WinRate     float64
	AvgReturn   float64
	ReturnStdev float64
}

// Summarize computes accuracy statistics over settled signals in the range.
func (s *Service) Summarize(ctx context.Context, from, to time.Time) (Summary, error) {
	settled := true
	sigs, err := s.store.GetSignals(ctx, store.SignalFilter{
		StartDate: from,
		EndDate:   to,
		Settled:   &settled,
	})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Total: len(sigs)}
	if len(sigs) == 0 {
		return summary, nil
	}

	returns := make([]float64, 0, len(sigs))
	for _, sig := range sigs {
		if sig.IsCorrect != nil && *sig.IsCorrect {
			summary.Correct++
		}
		if sig.ReturnPct != nil {
			returns = append(returns, *sig.ReturnPct)
		}
	}

	summary.WinRate = float64(summary.Correct) / float64(summary.Total)
	if len(returns) > 0 {
		summary.AvgReturn, _ = stats.Mean(returns)
		summary.ReturnStdev, _ = stats.StandardDeviation(returns)
	}

	return summary, nil
}
