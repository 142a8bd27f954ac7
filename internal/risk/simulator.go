package risk

import (
	"github.com/shopspring/decimal"
)

// Simulator builds hypothetical position lists and reruns the calculator on
// them. Input lists are never mutated; both methods are pure and cheap enough
// to run on every keystroke of an amount field.
type Simulator struct {
	calc *Calculator
}

// NewSimulator creates a simulator on top of an existing calculator
func NewSimulator(calc *Calculator) *Simulator {
	return &Simulator{calc: calc}
}

// SimulateBorrow projects portfolio metrics as if the hypothetical borrow had
// been taken. The amount merges into an existing same-asset borrow or appends
// a new entry.
func (s *Simulator) SimulateBorrow(deposits []DepositPosition, borrows []BorrowPosition, hypothetical BorrowPosition) (PortfolioRiskMetrics, error) {
	if !hypothetical.Amount.IsPositive() {
		return PortfolioRiskMetrics{}, NewInputError("amount", "must be positive")
	}
	if err := ValidateBorrowConfig(hypothetical); err != nil {
		return PortfolioRiskMetrics{}, err
	}

	next := CloneBorrows(borrows)
	merged := false
	for i := range next {
		if next[i].CoinType == hypothetical.CoinType {
			next[i].Amount = next[i].Amount.Add(hypothetical.Amount)
			merged = true
			break
		}
	}
	if !merged {
		next = append(next, hypothetical)
	}

	return s.calc.ComputePortfolioRisk(deposits, next), nil
}

// SimulateSupply projects portfolio metrics as if the hypothetical deposit
// had been supplied. The amount merges into an existing same-asset deposit or
// appends a new entry.
func (s *Simulator) SimulateSupply(deposits []DepositPosition, borrows []BorrowPosition, hypothetical DepositPosition) (PortfolioRiskMetrics, error) {
	if !hypothetical.Amount.IsPositive() {
		return PortfolioRiskMetrics{}, NewInputError("amount", "must be positive")
	}

	next := CloneDeposits(deposits)
	merged := false
	for i := range next {
		if next[i].CoinType == hypothetical.CoinType {
			next[i].Amount = next[i].Amount.Add(hypothetical.Amount)
			merged = true
			break
		}
	}
	if !merged {
		next = append(next, hypothetical)
	}

	return s.calc.ComputePortfolioRisk(next, borrows), nil
}

// SimulateRepay projects portfolio metrics as if the given amount of the
// given debt had been repaid. The matching borrow is reduced, floored at zero
// and pruned below AmountEpsilon, mirroring SimulateWithdraw.
func (s *Simulator) SimulateRepay(deposits []DepositPosition, borrows []BorrowPosition, coinType CoinType, amount decimal.Decimal) (PortfolioRiskMetrics, error) {
	if !amount.IsPositive() {
		return PortfolioRiskMetrics{}, NewInputError("amount", "must be positive")
	}

	found := false
	next := make([]BorrowPosition, 0, len(borrows))
	for _, b := range borrows {
		if b.CoinType != coinType {
			next = append(next, b)
			continue
		}
		found = true
		remaining := b.Amount.Sub(amount)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if remaining.LessThan(AmountEpsilon) {
			continue
		}
		b.Amount = remaining
		next = append(next, b)
	}
	if !found {
		return PortfolioRiskMetrics{}, NewInputError("coin_type", "no borrow for asset "+string(coinType))
	}

	return s.calc.ComputePortfolioRisk(deposits, next), nil
}

// SimulateWithdraw projects portfolio metrics as if the given amount of the
// given collateral had been withdrawn. The matching deposit's amount is
// reduced, floored at zero, and pruned from the list once it falls below
// AmountEpsilon. Rejecting withdrawals that exceed the balance is the action
// layer's job; flooring here lets the solvers probe the full interval.
func (s *Simulator) SimulateWithdraw(deposits []DepositPosition, borrows []BorrowPosition, coinType CoinType, amount decimal.Decimal) (PortfolioRiskMetrics, error) {
	if !amount.IsPositive() {
		return PortfolioRiskMetrics{}, NewInputError("amount", "must be positive")
	}

	found := false
	next := make([]DepositPosition, 0, len(deposits))
	for _, d := range deposits {
		if d.CoinType != coinType {
			next = append(next, d)
			continue
		}
		found = true
		remaining := d.Amount.Sub(amount)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if remaining.LessThan(AmountEpsilon) {
			continue // pruned, not retained as a zero entry
		}
		d.Amount = remaining
		next = append(next, d)
	}
	if !found {
		return PortfolioRiskMetrics{}, NewInputError("coin_type", "no deposit for asset "+string(coinType))
	}

	return s.calc.ComputePortfolioRisk(next, borrows), nil
}
