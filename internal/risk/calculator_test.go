package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testDeposit(coin, symbol string, amount, price, ltv, liq float64) DepositPosition {
	return DepositPosition{
		AssetPosition: AssetPosition{
			CoinType:             CoinType(coin),
			Symbol:               symbol,
			Amount:               decimal.NewFromFloat(amount),
			PriceUSD:             decimal.NewFromFloat(price),
			LTV:                  decimal.NewFromFloat(ltv),
			LiquidationThreshold: decimal.NewFromFloat(liq),
			BorrowFactor:         decimal.NewFromInt(100),
		},
	}
}

func testBorrow(coin, symbol string, amount, price, factor float64) BorrowPosition {
	return BorrowPosition{
		AssetPosition: AssetPosition{
			CoinType:     CoinType(coin),
			Symbol:       symbol,
			Amount:       decimal.NewFromFloat(amount),
			PriceUSD:     decimal.NewFromFloat(price),
			BorrowFactor: decimal.NewFromFloat(factor),
		},
	}
}

// aptDeposits is the single-collateral fixture shared by the scenario tests:
// 1000 APT at $10, LTV 80%, liquidation threshold 85%.
func aptDeposits() []DepositPosition {
	return []DepositPosition{testDeposit("0x1::aptos_coin::AptosCoin", "APT", 1000, 10, 80, 85)}
}

func usdcBorrows(amount float64) []BorrowPosition {
	return []BorrowPosition{testBorrow("0x1::usdc::USDC", "USDC", amount, 1, 100)}
}

func TestComputePortfolioRiskNoDebt(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	m := calc.ComputePortfolioRisk(aptDeposits(), nil)

	assert.True(t, m.TotalSuppliedUSD.Equal(decimal.NewFromInt(10000)), "total supplied = %s", m.TotalSuppliedUSD)
	assert.True(t, m.BorrowingPower.Equal(decimal.NewFromInt(8000)), "borrowing power = %s", m.BorrowingPower)
	assert.True(t, m.HealthFactor.Equal(InfiniteHealthFactor), "health factor = %s", m.HealthFactor)
	assert.True(t, m.AvailableToBorrowUSD.Equal(m.BorrowingPower))
	assert.True(t, m.BorrowLimitPercent.IsZero())
	assert.True(t, m.IsHealthy)
	assert.False(t, m.IsLiquidatable)
	assert.False(t, m.HasDebt())
}

func TestComputePortfolioRiskWithDebt(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	m := calc.ComputePortfolioRisk(aptDeposits(), usdcBorrows(5000))

	assert.True(t, m.AdjustedBorrowValue.Equal(decimal.NewFromInt(5000)), "adjusted borrow = %s", m.AdjustedBorrowValue)
	assert.True(t, m.LiquidationValue.Equal(decimal.NewFromInt(8500)), "liquidation value = %s", m.LiquidationValue)
	assert.True(t, m.HealthFactor.Equal(decimal.NewFromFloat(1.7)), "health factor = %s", m.HealthFactor)
	assert.True(t, m.BorrowLimitPercent.Equal(decimal.NewFromFloat(62.5)), "borrow limit = %s", m.BorrowLimitPercent)
	assert.True(t, m.AvailableToBorrowUSD.Equal(decimal.NewFromInt(3000)))
	assert.True(t, m.IsHealthy)
	assert.False(t, m.IsLiquidatable)
}

func TestHealthFactorLiquidationBoundary(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	// adjusted debt equal to liquidation value sits exactly on the boundary
	m := calc.ComputePortfolioRisk(aptDeposits(), usdcBorrows(8500))
	assert.True(t, m.HealthFactor.Equal(decimal.NewFromInt(1)), "health factor = %s", m.HealthFactor)
	assert.False(t, m.IsLiquidatable, "boundary is inclusive of safety")

	// one more dollar of debt tips it over
	over := calc.ComputePortfolioRisk(aptDeposits(), usdcBorrows(8510))
	assert.True(t, over.HealthFactor.LessThan(decimal.NewFromInt(1)), "health factor = %s", over.HealthFactor)
	assert.True(t, over.IsLiquidatable)
}

func TestBorrowFactorWeighting(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	// factor below 100 weights debt up, above 100 weights it down
	up := calc.AdjustedBorrowValue([]BorrowPosition{testBorrow("c", "C", 100, 1, 50)})
	assert.True(t, up.Equal(decimal.NewFromInt(200)), "adjusted = %s", up)

	down := calc.AdjustedBorrowValue([]BorrowPosition{testBorrow("c", "C", 100, 1, 200)})
	assert.True(t, down.Equal(decimal.NewFromInt(50)), "adjusted = %s", down)
}

func TestAdjustedBorrowValueExcludesDegenerateFactor(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	borrows := []BorrowPosition{
		testBorrow("good", "G", 100, 1, 100),
		testBorrow("bad", "B", 100, 1, 0),
	}
	total := calc.AdjustedBorrowValue(borrows)
	assert.True(t, total.Equal(decimal.NewFromInt(100)), "degenerate entry must be excluded, got %s", total)
}

func TestBorrowLimitPercentZeroPower(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))
	assert.True(t, calc.BorrowLimitPercent(decimal.NewFromInt(100), decimal.Zero).IsZero())
}

func TestAvailableToBorrowFloorsAtZero(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))
	avail := calc.AvailableToBorrowUSD(decimal.NewFromInt(100), decimal.NewFromInt(500))
	assert.True(t, avail.IsZero())
}

func TestComputePortfolioRiskIdempotent(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))
	deposits := aptDeposits()
	borrows := usdcBorrows(5000)

	first := calc.ComputePortfolioRisk(deposits, borrows)
	second := calc.ComputePortfolioRisk(deposits, borrows)
	assert.Equal(t, first, second)
}

func TestHealthFactorMonotonicity(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))
	borrows := usdcBorrows(5000)

	// health factor never decreases as a deposit grows
	prev := decimal.Zero
	for _, amount := range []float64{500, 750, 1000, 2000, 5000} {
		deposits := []DepositPosition{testDeposit("apt", "APT", amount, 10, 80, 85)}
		hf := calc.ComputePortfolioRisk(deposits, borrows).HealthFactor
		require.True(t, hf.GreaterThanOrEqual(prev), "hf %s at amount %f below previous %s", hf, amount, prev)
		prev = hf
	}

	// and never increases as a borrow grows
	deposits := aptDeposits()
	prev = InfiniteHealthFactor
	for _, amount := range []float64{100, 1000, 5000, 8000, 12000} {
		hf := calc.ComputePortfolioRisk(deposits, usdcBorrows(amount)).HealthFactor
		require.True(t, hf.LessThanOrEqual(prev), "hf %s at amount %f above previous %s", hf, amount, prev)
		prev = hf
	}
}
