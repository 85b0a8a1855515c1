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

// RecordSignal inserts a directional call. At most one signal may exist per
// (instrument, date); a second insert fails with a UniquenessError.
func (s *SQLiteStore) RecordSignal(ctx context.Context, sig *models.Signal) error {
	if err := validateSignal(sig); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (instrument_id, date, signal, probability, entry_price, target_price, stop_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sig.InstrumentID, dateStr(sig.Date), string(sig.Direction), sig.Probability,
		sig.EntryPrice, sig.TargetPrice, sig.StopPrice)
	if err != nil {
		return mapWriteErr("signals", apperrors.DateKey(sig.InstrumentID, sig.Date), err)
	}
	return nil
}

// GetSignals retrieves signals matching the filter, newest first.
func (s *SQLiteStore) GetSignals(ctx context.Context, filter SignalFilter) ([]models.Signal, error) {
	query := `SELECT instrument_id, date, signal, probability, entry_price, target_price, stop_price,
		actual_close, return_pct, is_correct, created_at, settled_at FROM signals WHERE 1=1`
	args := []interface{}{}

	if filter.InstrumentID != "" {
		query += " AND instrument_id = ?"
		args = append(args, filter.InstrumentID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, dateStr(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, dateStr(filter.EndDate))
	}
	if filter.Settled != nil {
		if *filter.Settled {
			query += " AND is_correct IS NOT NULL"
		} else {
			query += " AND is_correct IS NULL"
		}
	}

	query += " ORDER BY date DESC, instrument_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// ListUnsettledSignals returns signals dated strictly before the given date
// whose outcome has not yet been recorded, oldest first.
func (s *SQLiteStore) ListUnsettledSignals(ctx context.Context, before time.Time) ([]models.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, date, signal, probability, entry_price, target_price, stop_price,
			actual_close, return_pct, is_correct, created_at, settled_at
		FROM signals
		WHERE is_correct IS NULL AND date < ?
		ORDER BY date ASC, instrument_id ASC
	`, dateStr(before))
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// SettleSignal writes the realized outcome exactly once. Settling an already
// settled signal fails with a ConflictError; the row is updated, never
// duplicated.
func (s *SQLiteStore) SettleSignal(ctx context.Context, instrumentID string, date time.Time, outcome models.SignalOutcome) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE signals SET actual_close = ?, return_pct = ?, is_correct = ?, settled_at = ?
		WHERE instrument_id = ? AND date = ? AND is_correct IS NULL
	`, outcome.ActualClose, outcome.ReturnPct, outcome.IsCorrect, outcome.SettledAt,
		instrumentID, dateStr(date))
	if err != nil {
		return fmt.Errorf("failed to settle signal: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `
			SELECT 1 FROM signals WHERE instrument_id = ? AND date = ?
		`, instrumentID, dateStr(date)).Scan(&exists)
		if err == sql.ErrNoRows {
			return apperrors.ErrSignalNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check signal: %w", err)
		}
		return apperrors.NewConflictError("signals", apperrors.DateKey(instrumentID, date), "settled", apperrors.ErrAlreadySettled)
	}

	return nil
}

func scanSignals(rows *sql.Rows) ([]models.Signal, error) {
	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var d string
		var actualClose, returnPct sql.NullFloat64
		var isCorrect sql.NullBool
		var settledAt sql.NullTime
		if err := rows.Scan(&sig.InstrumentID, &d, &sig.Direction, &sig.Probability,
			&sig.EntryPrice, &sig.TargetPrice, &sig.StopPrice,
			&actualClose, &returnPct, &isCorrect, &sig.CreatedAt, &settledAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		var err error
		if sig.Date, err = parseDate(d); err != nil {
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

// RecomputeDailyStats rebuilds the accuracy aggregate for a date from the
// settled signals of that date. Rerunning for the same date yields an
// identical row; with no settled signals the row is removed.
func (s *SQLiteStore) RecomputeDailyStats(ctx context.Context, date time.Time) (*models.DailyStats, error) {
	var total, correct int
	var avgReturn sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_correct = 1 THEN 1 ELSE 0 END), 0),
			AVG(return_pct)
		FROM signals
		WHERE date = ? AND is_correct IS NOT NULL
	`, dateStr(date)).Scan(&total, &correct, &avgReturn)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate signals: %w", err)
	}

	stats := &models.DailyStats{
		Date:               date,
		TotalPredictions:   total,
		CorrectPredictions: correct,
	}
	if total == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM daily_stats WHERE date = ?`, dateStr(date)); err != nil {
			return nil, fmt.Errorf("failed to clear daily stats: %w", err)
		}
		return stats, nil
	}

	stats.WinRate = float64(correct) / float64(total)
	if avgReturn.Valid {
		stats.AvgReturn = avgReturn.Float64
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, total_predictions, correct_predictions, win_rate, avg_return, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			total_predictions = excluded.total_predictions,
			correct_predictions = excluded.correct_predictions,
			win_rate = excluded.win_rate,
			avg_return = excluded.avg_return,
			updated_at = excluded.updated_at
	`, dateStr(date), stats.TotalPredictions, stats.CorrectPredictions, stats.WinRate, stats.AvgReturn, time.Now())
	if err != nil {
		return nil, mapWriteErr("daily_stats", dateStr(date), err)
	}

	return stats, nil
}

// GetDailyStats retrieves aggregates within a date range, oldest first.
func (s *SQLiteStore) GetDailyStats(ctx context.Context, from, to time.Time) ([]models.DailyStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_predictions, correct_predictions, win_rate, avg_return, updated_at
		FROM daily_stats
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, dateStr(from), dateStr(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []models.DailyStats
	for rows.Next() {
		var st models.DailyStats
		var d string
		if err := rows.Scan(&d, &st.TotalPredictions, &st.CorrectPredictions, &st.WinRate, &st.AvgReturn, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		var err error
		if st.Date, err = parseDate(d); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}
