package models

import "time"

// Signal represents an AI-produced directional call for an instrument on a
// date. Outcome fields stay nil until the realized close for the following
// trading day is known, then are written exactly once.
type Signal struct {
	InstrumentID string
	Date         time.Time
	Direction    Direction
	Probability  float64
	EntryPrice   float64
	TargetPrice  float64
	StopPrice    float64
	ActualClose  *float64
	ReturnPct    *float64
	IsCorrect    *bool
	CreatedAt    time.Time
	SettledAt    *time.Time
}

// Settled reports whether the signal's outcome has been recorded.
func (s *Signal) Settled() bool {
	return s.IsCorrect != nil
}

// SignalOutcome holds the realized result written by the settlement job.
type SignalOutcome struct {
	ActualClose float64
	ReturnPct   float64
	IsCorrect   bool
	SettledAt   time.Time
}

// EvaluateOutcome judges a direction against a realized return. A flat close
// counts against both directions.
func EvaluateOutcome(direction Direction, returnPct float64) bool {
	switch direction {
	case DirectionBull:
		return returnPct > 0
	case DirectionBear:
		return returnPct < 0
	}
	return false
}
