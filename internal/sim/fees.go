// Package sim plans and settles simulated limit orders against stored
// daily bars.
package sim

import (
	"github.com/shopspring/decimal"
)

// Fees computes brokerage costs with decimal arithmetic. Fee and tax are
// truncated to whole currency units, matching broker statements.
type Fees struct {
	FeeRate decimal.Decimal
	MinFee  decimal.Decimal
	TaxRate decimal.Decimal
}

// DefaultFees returns the standard retail schedule: 0.1425% commission with
// a floor of 20, 0.3% transaction tax on sells.
func DefaultFees() Fees {
	return Fees{
		FeeRate: decimal.NewFromFloat(0.001425),
		MinFee:  decimal.NewFromInt(20),
		TaxRate: decimal.NewFromFloat(0.003),
	}
}

// NewFees builds a schedule from raw rates.
func NewFees(feeRate, minFee, taxRate float64) Fees {
	return Fees{
		FeeRate: decimal.NewFromFloat(feeRate),
		MinFee:  decimal.NewFromFloat(minFee),
		TaxRate: decimal.NewFromFloat(taxRate),
	}
}

// Fee returns the commission on a gross trade amount.
func (f Fees) Fee(amount float64) float64 {
	fee := decimal.NewFromFloat(amount).Mul(f.FeeRate).Truncate(0)
	if fee.LessThan(f.MinFee) {
		fee = f.MinFee
	}
	v, _ := fee.Float64()
	return v
}

// Tax returns the transaction tax on a gross sell amount.
func (f Fees) Tax(amount float64) float64 {
	v, _ := decimal.NewFromFloat(amount).Mul(f.TaxRate).Truncate(0).Float64()
	return v
}

// BuyCost returns the fee and the total cash debit for a buy.
func (f Fees) BuyCost(price float64, shares int64) (fee, total float64) {
	amount := price * float64(shares)
	fee = f.Fee(amount)
	return fee, amount + fee
}

// SellProceeds returns the fee, tax, and net cash credit for a sell.
func (f Fees) SellProceeds(price float64, shares int64) (fee, tax, total float64) {
	amount := price * float64(shares)
	fee = f.Fee(amount)
	tax = f.Tax(amount)
	return fee, tax, amount - fee - tax
}
