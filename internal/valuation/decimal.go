package valuation

import "github.com/shopspring/decimal"

const (
	// QuantityScale is the number of decimal places kept on quantities.
	QuantityScale = 3
	// CostScale is the number of decimal places kept on unit costs and values.
	CostScale = 4
)

// Epsilon governs all "effectively zero / effectively sufficient"
// comparisons on quantities.
var Epsilon = decimal.RequireFromString("0.0005")

func roundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

func roundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostScale)
}

// nearZero reports whether d is within the tolerance band around zero.
func nearZero(d decimal.Decimal) bool {
	return d.Abs().LessThan(Epsilon)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
