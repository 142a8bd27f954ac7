package risk

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/lendex/pkg/metrics"
)

// SolverTolerance is the absolute convergence tolerance for the bisection
// solvers, in asset-native decimal units
var SolverTolerance = decimal.NewFromFloat(0.001)

// MaxSolverIterations caps bisection so termination never depends on the
// interval width or tolerance choice
const MaxSolverIterations = 64

var two = decimal.NewFromInt(2)

// Solver finds the largest action size that keeps a portfolio above a chosen
// safety threshold. It relies on health factor being monotone in the action
// size: withdrawing more never raises it, borrowing more never raises it.
type Solver struct {
	calc *Calculator
	sim  *Simulator
}

// NewSolver creates a solver on top of an existing calculator
func NewSolver(calc *Calculator) *Solver {
	return &Solver{calc: calc, sim: NewSimulator(calc)}
}

// MaxSafeWithdrawal returns the largest amount of the given collateral that
// can be withdrawn while keeping the health factor at or above the safety
// threshold. A non-positive threshold selects DefaultSafetyThreshold. The
// result is in asset-native decimal units.
func (s *Solver) MaxSafeWithdrawal(deposits []DepositPosition, borrows []BorrowPosition, coinType CoinType, safetyThreshold decimal.Decimal) (decimal.Decimal, error) {
	if !safetyThreshold.IsPositive() {
		safetyThreshold = DefaultSafetyThreshold
	}

	var total decimal.Decimal
	found := false
	for _, d := range deposits {
		if d.CoinType == coinType {
			total = d.Amount
			found = true
			break
		}
	}
	if !found {
		return decimal.Zero, NewInputError("coin_type", "no deposit for asset "+string(coinType))
	}
	if !total.IsPositive() {
		return decimal.Zero, nil
	}

	current := s.calc.ComputePortfolioRisk(deposits, borrows)
	if !current.HasDebt() {
		// sentinel health factor satisfies any finite threshold
		return total, nil
	}
	if current.HealthFactor.LessThan(safetyThreshold) {
		return decimal.Zero, nil
	}

	safe := func(w decimal.Decimal) bool {
		m, err := s.sim.SimulateWithdraw(deposits, borrows, coinType, w)
		if err != nil {
			return false
		}
		return m.HealthFactor.GreaterThanOrEqual(safetyThreshold)
	}

	if safe(total) {
		return total, nil
	}
	return bisect(decimal.Zero, total, safe), nil
}

// MaxSafeBorrow returns the largest amount of the template asset that can be
// borrowed while the simulated portfolio stays both at or above the safety
// threshold and within its borrowing power. Both constraints are checked
// because differing borrow-factor and liquidation-threshold weightings mean
// either can bind first.
func (s *Solver) MaxSafeBorrow(deposits []DepositPosition, borrows []BorrowPosition, template BorrowPosition, safetyThreshold decimal.Decimal) (decimal.Decimal, error) {
	if !safetyThreshold.IsPositive() {
		safetyThreshold = DefaultSafetyThreshold
	}
	if !template.PriceUSD.IsPositive() {
		return decimal.Zero, NewInputError("price_usd", "must be positive")
	}
	if err := ValidateBorrowConfig(template); err != nil {
		return decimal.Zero, err
	}

	current := s.calc.ComputePortfolioRisk(deposits, borrows)
	if current.HasDebt() && current.HealthFactor.LessThanOrEqual(safetyThreshold) {
		return decimal.Zero, nil
	}

	// fast upper bound from raw borrowing headroom
	upper := current.AvailableToBorrowUSD.Div(template.PriceUSD)
	if !upper.IsPositive() {
		return decimal.Zero, nil
	}

	safe := func(amount decimal.Decimal) bool {
		t := template
		t.Amount = amount
		m, err := s.sim.SimulateBorrow(deposits, borrows, t)
		if err != nil {
			return false
		}
		return m.IsHealthy && m.HealthFactor.GreaterThanOrEqual(safetyThreshold)
	}

	if safe(upper) {
		return upper, nil
	}
	return bisect(decimal.Zero, upper, safe), nil
}

// bisect returns the largest value in [lo, hi] satisfying safe, assuming safe
// is monotone (true below the answer, false above). lo must be safe and hi
// unsafe on entry.
func bisect(lo, hi decimal.Decimal, safe func(decimal.Decimal) bool) decimal.Decimal {
	i := 0
	for ; i < MaxSolverIterations && hi.Sub(lo).GreaterThan(SolverTolerance); i++ {
		mid := lo.Add(hi.Sub(lo).Div(two))
		if safe(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	metrics.SolverIterations.Observe(float64(i))
	return lo
}
