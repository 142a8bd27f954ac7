// Package risk implements the collateralized-lending risk core: portfolio
// risk aggregation, what-if simulation and max-safe action solvers.
package risk

import (
	"github.com/shopspring/decimal"
)

// CoinType identifies an asset (e.g. "0x1::aptos_coin::AptosCoin")
type CoinType string

var (
	hundred = decimal.NewFromInt(100)

	// DebtEpsilon is the adjusted-debt level (USD) below which a portfolio is
	// treated as having no meaningful debt
	DebtEpsilon = decimal.NewFromFloat(0.01)

	// AmountEpsilon is the residual position size below which a simulated
	// deposit is pruned instead of kept as a zero entry
	AmountEpsilon = decimal.NewFromFloat(0.000001)

	// InfiniteHealthFactor is the sentinel health factor reported when a
	// portfolio has no meaningful debt. decimal has no Inf, so a value far
	// above any realistic safety threshold stands in for it.
	InfiniteHealthFactor = decimal.NewFromInt(1_000_000)

	// DefaultSafetyThreshold is the target minimum health factor used by the
	// max-safe solvers when the caller does not choose one
	DefaultSafetyThreshold = decimal.NewFromFloat(1.2)
)

// AssetPosition is the common shape of a deposited or borrowed asset.
// Amounts are human-readable decimal units, already converted from any
// pool-share accounting upstream. Ratio fields (LTV, LiquidationThreshold,
// BorrowFactor) are 0-100 percentages and only become fractions at the point
// of use.
type AssetPosition struct {
	CoinType             CoinType        `json:"coin_type"`
	Symbol               string          `json:"symbol"`
	Amount               decimal.Decimal `json:"amount"`
	PriceUSD             decimal.Decimal `json:"price_usd"`
	LTV                  decimal.Decimal `json:"ltv"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
	BorrowFactor         decimal.Decimal `json:"borrow_factor"`
}

// ValueUSD returns amount times unit price
func (p AssetPosition) ValueUSD() decimal.Decimal {
	return p.Amount.Mul(p.PriceUSD)
}

// DepositPosition is a supplied asset acting as collateral
type DepositPosition struct {
	AssetPosition
	LPAmount decimal.Decimal `json:"lp_amount"`
}

// BorrowPosition is a borrowed asset contributing to debt
type BorrowPosition struct {
	AssetPosition
	BorrowShare decimal.Decimal `json:"borrow_share"`
}

// PortfolioRiskMetrics is the derived risk snapshot for one portfolio. It is
// recomputed from position lists on demand and never persisted.
type PortfolioRiskMetrics struct {
	TotalSuppliedUSD     decimal.Decimal `json:"total_supplied_usd"`
	TotalBorrowedUSD     decimal.Decimal `json:"total_borrowed_usd"`
	BorrowingPower       decimal.Decimal `json:"borrowing_power"`
	AdjustedBorrowValue  decimal.Decimal `json:"adjusted_borrow_value"`
	LiquidationValue     decimal.Decimal `json:"liquidation_value"`
	HealthFactor         decimal.Decimal `json:"health_factor"`
	BorrowLimitPercent   decimal.Decimal `json:"borrow_limit_percent"`
	AvailableToBorrowUSD decimal.Decimal `json:"available_to_borrow_usd"`
	IsHealthy            bool            `json:"is_healthy"`
	IsLiquidatable       bool            `json:"is_liquidatable"`
}

// HasDebt reports whether the portfolio carries meaningful debt
func (m PortfolioRiskMetrics) HasDebt() bool {
	return m.AdjustedBorrowValue.GreaterThanOrEqual(DebtEpsilon)
}

// CloneDeposits returns an independent copy of the deposit list. Position
// values are copied so callers can build hypothetical lists without touching
// the originals.
func CloneDeposits(deposits []DepositPosition) []DepositPosition {
	out := make([]DepositPosition, len(deposits))
	copy(out, deposits)
	return out
}

// CloneBorrows returns an independent copy of the borrow list
func CloneBorrows(borrows []BorrowPosition) []BorrowPosition {
	out := make([]BorrowPosition, len(borrows))
	copy(out, borrows)
	return out
}
