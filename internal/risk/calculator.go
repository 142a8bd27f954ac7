package risk

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Calculator aggregates position lists into portfolio risk metrics. All
// methods are deterministic, O(n) in position count, and do no I/O; a single
// Calculator may be shared by any number of goroutines.
type Calculator struct {
	logger *zap.Logger
}

// NewCalculator creates a new risk calculator
func NewCalculator(logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{logger: logger}
}

// BorrowingPower returns the theoretical maximum debt the collateral could
// secure, ignoring current debt: sum of amount*price*(ltv/100) over deposits.
func (c *Calculator) BorrowingPower(deposits []DepositPosition) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deposits {
		total = total.Add(d.ValueUSD().Mul(d.LTV.Div(hundred)))
	}
	return total
}

// AdjustedBorrowValue returns the risk-weighted debt value: sum of
// amount*price/(borrowFactor/100) over borrows. A factor below 100 weights
// the debt up, above 100 weights it down. Positions with a non-positive
// borrow factor are excluded from the aggregate with a warning so a broken
// reserve config cannot poison every downstream metric.
func (c *Calculator) AdjustedBorrowValue(borrows []BorrowPosition) decimal.Decimal {
	total := decimal.Zero
	for _, b := range borrows {
		if !b.BorrowFactor.IsPositive() {
			c.logger.Warn("excluding borrow with non-positive borrow factor",
				zap.String("coin_type", string(b.CoinType)),
				zap.String("borrow_factor", b.BorrowFactor.String()))
			continue
		}
		total = total.Add(b.ValueUSD().Div(b.BorrowFactor.Div(hundred)))
	}
	return total
}

// LiquidationValue returns the USD value at which the aggregate,
// per-asset-weighted collateral would trigger liquidation: sum of
// amount*price*(liquidationThreshold/100). A linear weighted sum across
// independently-thresholded assets, no cross-asset correlation.
func (c *Calculator) LiquidationValue(deposits []DepositPosition) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deposits {
		total = total.Add(d.ValueUSD().Mul(d.LiquidationThreshold.Div(hundred)))
	}
	return total
}

// HealthFactor returns liquidationValue/adjustedBorrowValue, or
// InfiniteHealthFactor when adjusted debt is below DebtEpsilon. A result
// below 1.0 means the position is liquidatable.
func (c *Calculator) HealthFactor(liquidationValue, adjustedBorrowValue decimal.Decimal) decimal.Decimal {
	if adjustedBorrowValue.LessThan(DebtEpsilon) {
		return InfiniteHealthFactor
	}
	return liquidationValue.Div(adjustedBorrowValue)
}

// BorrowLimitPercent returns how much of the borrowing power is used, as a
// 0-100 percentage, or 0 when there is no borrowing power.
func (c *Calculator) BorrowLimitPercent(adjustedBorrowValue, borrowingPower decimal.Decimal) decimal.Decimal {
	if borrowingPower.IsZero() {
		return decimal.Zero
	}
	return adjustedBorrowValue.Div(borrowingPower).Mul(hundred)
}

// AvailableToBorrowUSD returns the remaining borrowing headroom in USD,
// floored at zero.
func (c *Calculator) AvailableToBorrowUSD(borrowingPower, adjustedBorrowValue decimal.Decimal) decimal.Decimal {
	avail := borrowingPower.Sub(adjustedBorrowValue)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// ComputePortfolioRisk composes all metrics into one snapshot. This is the
// single entry point; no other component recomputes the formulas.
func (c *Calculator) ComputePortfolioRisk(deposits []DepositPosition, borrows []BorrowPosition) PortfolioRiskMetrics {
	totalSupplied := decimal.Zero
	for _, d := range deposits {
		totalSupplied = totalSupplied.Add(d.ValueUSD())
	}
	totalBorrowed := decimal.Zero
	for _, b := range borrows {
		totalBorrowed = totalBorrowed.Add(b.ValueUSD())
	}

	borrowingPower := c.BorrowingPower(deposits)
	adjustedBorrow := c.AdjustedBorrowValue(borrows)
	liquidationValue := c.LiquidationValue(deposits)
	healthFactor := c.HealthFactor(liquidationValue, adjustedBorrow)

	return PortfolioRiskMetrics{
		TotalSuppliedUSD:     totalSupplied,
		TotalBorrowedUSD:     totalBorrowed,
		BorrowingPower:       borrowingPower,
		AdjustedBorrowValue:  adjustedBorrow,
		LiquidationValue:     liquidationValue,
		HealthFactor:         healthFactor,
		BorrowLimitPercent:   c.BorrowLimitPercent(adjustedBorrow, borrowingPower),
		AvailableToBorrowUSD: c.AvailableToBorrowUSD(borrowingPower, adjustedBorrow),
		IsHealthy:            adjustedBorrow.LessThanOrEqual(borrowingPower),
		IsLiquidatable:       healthFactor.LessThan(decimal.NewFromInt(1)),
	}
}
