package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// ============================================================================
// Signal Methods
// ============================================================================

func (s *PostgresStore) RecordSignal(ctx context.Context, sig *models.Signal) error {
	if err := validateSignal(sig); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (instrument_id, date, signal, probability, entry_price, target_price, stop_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sig.InstrumentID, dateOnly(sig.Date), string(sig.Direction), sig.Probability,
		sig.EntryPrice, sig.TargetPrice, sig.StopPrice)
	if err != nil {
		return mapPqErr("signals", apperrors.DateKey(sig.InstrumentID, sig.Date), err)
	}
	return nil
}

func (s *PostgresStore) GetSignals(ctx context.Context, filter SignalFilter) ([]models.Signal, error) {
	query := `SELECT instrument_id, date, signal, probability, entry_price, target_price, stop_price,
		actual_close, return_pct, is_correct, created_at, settled_at
		FROM signals WHERE 1=1`
	args := []interface{}{}

	if filter.InstrumentID != "" {
		args = append(args, filter.InstrumentID)
		query += fmt.Sprintf(" AND instrument_id = $%d", len(args))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, dateOnly(filter.StartDate))
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, dateOnly(filter.EndDate))
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if filter.Settled != nil {
		if *filter.Settled {
			query += " AND is_correct IS NOT NULL"
		} else {
			query += " AND is_correct IS NULL"
		}
	}

	query += " ORDER BY date DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	return scanPgSignals(rows)
}

func (s *PostgresStore) ListUnsettledSignals(ctx context.Context, before time.Time) ([]models.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, date, signal, probability, entry_price, target_price, stop_price,
			actual_close, return_pct, is_correct, created_at, settled_at
		FROM signals
		WHERE is_correct IS NULL AND date < $1
		ORDER BY date ASC
	`, dateOnly(before))
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled signals: %w", err)
	}
	defer rows.Close()

	return scanPgSignals(rows)
}

// SettleSignal writes the outcome exactly once. The IS NULL guard makes the
// update a no-op against already settled rows.
func (s *PostgresStore) SettleSignal(ctx context.Context, instrumentID string, date time.Time, outcome models.SignalOutcome) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE signals SET actual_close = $1, return_pct = $2, is_correct = $3, settled_at = $4
		WHERE instrument_id = $5 AND date = $6 AND is_correct IS NULL
	`, outcome.ActualClose, outcome.ReturnPct, outcome.IsCorrect, outcome.SettledAt,
		instrumentID, dateOnly(date))
	if err != nil {
		return fmt.Errorf("failed to settle signal: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM signals WHERE instrument_id = $1 AND date = $2)
		`, instrumentID, dateOnly(date)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check signal: %w", err)
		}
		if !exists {
			return apperrors.ErrSignalNotFound
		}
		return apperrors.NewConflictError("signals", apperrors.DateKey(instrumentID, date),
			"settled", apperrors.ErrAlreadySettled)
	}

	return nil
}

func scanPgSignals(rows *sql.Rows) ([]models.Signal, error) {
	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var actualClose, returnPct sql.NullFloat64
		var isCorrect sql.NullBool
		var settledAt sql.NullTime
		err := rows.Scan(&sig.InstrumentID, &sig.Date, &sig.Direction, &sig.Probability,
			&sig.EntryPrice, &sig.TargetPrice, &sig.StopPrice,
			&actualClose, &returnPct, &isCorrect, &sig.CreatedAt, &settledAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if actualClose.Valid {
			sig.ActualClose = &actualClose.Float64
		}
		if returnPct.Valid {
			sig.ReturnPct = &returnPct.Float64
		}
		if isCorrect.Valid {
			sig.IsCorrect = &isCorrect.Bool
		}
		if settledAt.Valid {
			sig.SettledAt = &settledAt.Time
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ============================================================================
// Daily Stats Methods
// ============================================================================

// RecomputeDailyStats rebuilds the aggregate row for a date from settled
// signals. Idempotent; a date with no settled signals has its row removed.
func (s *PostgresStore) RecomputeDailyStats(ctx context.Context, date time.Time) (*models.DailyStats, error) {
	day := dateOnly(date)

	var total, correct int
	var avgReturn sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0),
			AVG(return_pct)
		FROM signals
		WHERE date = $1 AND is_correct IS NOT NULL
	`, day).Scan(&total, &correct, &avgReturn)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate signals: %w", err)
	}

	if total == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM daily_stats WHERE date = $1`, day)
		if err != nil {
			return nil, fmt.Errorf("failed to clear daily stats: %w", err)
		}
		return &models.DailyStats{Date: day}, nil
	}

	stats := &models.DailyStats{
		Date:               day,
		TotalPredictions:   total,
		CorrectPredictions: correct,
		WinRate:            float64(correct) / float64(total),
		AvgReturn:          avgReturn.Float64,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, total_predictions, correct_predictions, win_rate, avg_return, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (date) DO UPDATE SET
			total_predictions = EXCLUDED.total_predictions,
			correct_predictions = EXCLUDED.correct_predictions,
			win_rate = EXCLUDED.win_rate,
			avg_return = EXCLUDED.avg_return,
			updated_at = NOW()
	`, day, stats.TotalPredictions, stats.CorrectPredictions, stats.WinRate, stats.AvgReturn)
	if err != nil {
		return nil, mapPqErr("daily_stats", day.Format(models.DateFormat), err)
	}

	return stats, nil
}

func (s *PostgresStore) GetDailyStats(ctx context.Context, from, to time.Time) ([]models.DailyStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_predictions, correct_predictions, win_rate, avg_return, updated_at
		FROM daily_stats WHERE date >= $1 AND date <= $2
		ORDER BY date ASC
	`, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []models.DailyStats
	for rows.Next() {
		var st models.DailyStats
		if err := rows.Scan(&st.Date, &st.TotalPredictions, &st.CorrectPredictions,
			&st.WinRate, &st.AvgReturn, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}
