package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrVATBaseNotPositive is returned when the pre-tax base of a cost breakdown is zero or negative.
var ErrVATBaseNotPositive = errors.New("pricing: vat base must be positive")

// vatRounding is the number of decimal places kept on the derived VAT factor.
const vatRounding = 2

// CostBreakdown captures one side (supplier cost or retail) of a supplier cost estimate.
type CostBreakdown struct {
	Currency string
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	VAT      decimal.Decimal
	Total    decimal.Decimal
}

// PreTax returns subtotal + shipping - discount.
func (c CostBreakdown) PreTax() decimal.Decimal {
	return c.Subtotal.Add(c.Shipping).Sub(c.Discount)
}

// Reconciles reports whether total matches subtotal + shipping - discount + tax + vat within tolerance.
func (c CostBreakdown) Reconciles(tolerance decimal.Decimal) bool {
	expected := c.PreTax().Add(c.Tax).Add(c.VAT)
	return expected.Sub(c.Total).Abs().LessThanOrEqual(tolerance)
}

// CostEstimate pairs the supplier cost breakdown with the customer facing retail breakdown.
type CostEstimate struct {
	Costs       CostBreakdown
	RetailCosts CostBreakdown
}

// DeriveVATFactor computes total / (subtotal + shipping - discount) rounded to two decimals.
// The factor is derived from supplier cost figures and later applied to retail amounts.
func DeriveVATFactor(costs CostBreakdown) (decimal.Decimal, error) {
	base := costs.PreTax()
	if !base.IsPositive() {
		return decimal.Zero, ErrVATBaseNotPositive
	}
	return costs.Total.DivRound(base, 8).Round(vatRounding), nil
}

// ApplyVAT multiplies amount by factor keeping two decimals.
func ApplyVAT(amount, factor decimal.Decimal) decimal.Decimal {
	return amount.Mul(factor).Round(vatRounding)
}

// VATPercentage converts a factor such as 1.21 to the percentage 21.
func VATPercentage(factor decimal.Decimal) decimal.Decimal {
	return factor.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(vatRounding)
}
