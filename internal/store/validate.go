package store

import (
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// Domain validation shared by both backends. Out-of-range values are rejected
// here, before any SQL runs, so the two backends fail identically.

func validatePriceFact(f *models.PriceFact) error {
	if f.InstrumentID == "" {
		return apperrors.NewDomainError("instrument_id", f.InstrumentID, "must not be empty")
	}
	if f.Date.IsZero() {
		return apperrors.NewDomainError("date", f.Date, "must be set")
	}
	if f.Volume < 0 {
		return apperrors.NewDomainError("volume", f.Volume, "must not be negative")
	}
	if f.High < f.Low {
		return apperrors.NewDomainError("high", f.High, "must not be below low")
	}
	return nil
}

func validateSignal(sig *models.Signal) error {
	if sig.InstrumentID == "" {
		return apperrors.NewDomainError("instrument_id", sig.InstrumentID, "must not be empty")
	}
	if sig.Date.IsZero() {
		return apperrors.NewDomainError("date", sig.Date, "must be set")
	}
	if !sig.Direction.Valid() {
		return apperrors.NewDomainError("signal", sig.Direction, "must be Bull or Bear")
	}
	if sig.Probability < 0 || sig.Probability > 1 {
		return apperrors.NewDomainError("probability", sig.Probability, "must be within [0,1]")
	}
	return nil
}

func validateOrder(o *models.Order) error {
	if o.UserID == "" {
		return apperrors.NewDomainError("user_id", o.UserID, "must not be empty")
	}
	if o.InstrumentID == "" {
		return apperrors.NewDomainError("instrument_id", o.InstrumentID, "must not be empty")
	}
	if o.Date.IsZero() {
		return apperrors.NewDomainError("date", o.Date, "must be set")
	}
	if !o.Side.Valid() {
		return apperrors.NewDomainError("side", o.Side, "must be BUY or SELL")
	}
	if o.Price <= 0 {
		return apperrors.NewDomainError("price", o.Price, "must be positive")
	}
	if o.Shares <= 0 {
		return apperrors.NewDomainError("shares", o.Shares, "must be positive")
	}
	return nil
}

func validateFill(f *models.Fill) error {
	if f.Price <= 0 {
		return apperrors.NewDomainError("price", f.Price, "must be positive")
	}
	if f.Shares <= 0 {
		return apperrors.NewDomainError("shares", f.Shares, "must be positive")
	}
	if f.Fee < 0 || f.Tax < 0 {
		return apperrors.NewDomainError("fee", f.Fee, "fee and tax must not be negative")
	}
	if f.TotalAmount <= 0 {
		return apperrors.NewDomainError("total_amount", f.TotalAmount, "must be positive")
	}
	return nil
}
