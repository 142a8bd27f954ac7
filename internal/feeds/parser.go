// Package feeds is the boundary between loosely-typed external lending-API
// payloads and the typed structures the risk core operates on. Malformed
// fields are rejected or explicitly defaulted here so invalid values never
// reach the arithmetic.
package feeds

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/lendex/internal/portfolio"
	"github.com/Aidin1998/lendex/internal/risk"
)

// defaultDecimals is used when a reserve omits its precision; 9 matches the
// most common on-chain coin precision of the protocols lendex targets.
const defaultDecimals = 9

var percentMax = decimal.NewFromInt(100)

type rawPositionEntry struct {
	CoinType string       `json:"coin_type"`
	Amount   *json.Number `json:"amount"`
}

type rawAccountPositions struct {
	Deposits []rawPositionEntry `json:"deposits"`
	Borrows  []rawPositionEntry `json:"borrows"`
}

type rawReserveConfig struct {
	Symbol               string       `json:"symbol"`
	LTV                  *json.Number `json:"ltv"`
	LiquidationThreshold *json.Number `json:"liquidation_threshold"`
	BorrowFactor         *json.Number `json:"borrow_factor"`
	Decimals             *int         `json:"decimals"`
}

// ParseAccountPositions validates a raw positions payload. Every entry needs
// a coin type and a non-negative amount; anything else is rejected, not
// defaulted, because a silently wrong balance corrupts every metric.
func ParseAccountPositions(data []byte) (portfolio.AccountPositions, error) {
	var raw rawAccountPositions
	if err := json.Unmarshal(data, &raw); err != nil {
		return portfolio.AccountPositions{}, fmt.Errorf("malformed positions payload: %w", err)
	}

	deposits, err := parseEntries(raw.Deposits, "deposit")
	if err != nil {
		return portfolio.AccountPositions{}, err
	}
	borrows, err := parseEntries(raw.Borrows, "borrow")
	if err != nil {
		return portfolio.AccountPositions{}, err
	}
	return portfolio.AccountPositions{Deposits: deposits, Borrows: borrows}, nil
}

func parseEntries(raw []rawPositionEntry, kind string) ([]portfolio.RawPosition, error) {
	out := make([]portfolio.RawPosition, 0, len(raw))
	for i, e := range raw {
		if e.CoinType == "" {
			return nil, fmt.Errorf("%s entry %d: missing coin_type", kind, i)
		}
		amount, err := parseDecimalField(e.Amount, kind+" amount")
		if err != nil {
			return nil, fmt.Errorf("%s entry %d (%s): %w", kind, i, e.CoinType, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("%s entry %d (%s): negative amount %s", kind, i, e.CoinType, amount)
		}
		out = append(out, portfolio.RawPosition{CoinType: risk.CoinType(e.CoinType), Amount: amount})
	}
	return out, nil
}

// ParseReserveConfig validates a raw reserve payload for one asset. LTV and
// liquidation threshold must be 0-100 percentages and the borrow factor
// strictly positive; a missing decimals field defaults explicitly.
func ParseReserveConfig(coinType risk.CoinType, data []byte) (portfolio.ReserveConfig, error) {
	var raw rawReserveConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return portfolio.ReserveConfig{}, fmt.Errorf("malformed reserve payload: %w", err)
	}

	ltv, err := parsePercentField(raw.LTV, "ltv")
	if err != nil {
		return portfolio.ReserveConfig{}, err
	}
	liq, err := parsePercentField(raw.LiquidationThreshold, "liquidation_threshold")
	if err != nil {
		return portfolio.ReserveConfig{}, err
	}
	factor, err := parseDecimalField(raw.BorrowFactor, "borrow_factor")
	if err != nil {
		return portfolio.ReserveConfig{}, err
	}
	if !factor.IsPositive() {
		return portfolio.ReserveConfig{}, &risk.ComputationError{CoinType: coinType, Reason: "borrow factor must be > 0"}
	}

	decimals := defaultDecimals
	if raw.Decimals != nil {
		if *raw.Decimals < 0 {
			return portfolio.ReserveConfig{}, fmt.Errorf("negative decimals %d", *raw.Decimals)
		}
		decimals = *raw.Decimals
	}

	return portfolio.ReserveConfig{
		Symbol:               raw.Symbol,
		LTV:                  ltv,
		LiquidationThreshold: liq,
		BorrowFactor:         factor,
		Decimals:             decimals,
	}, nil
}

// ParsePrices validates a raw price map. Prices must be non-negative; a
// missing or unparseable price is rejected rather than treated as zero.
func ParsePrices(data []byte) (map[risk.CoinType]decimal.Decimal, error) {
	var raw map[string]json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed prices payload: %w", err)
	}

	out := make(map[risk.CoinType]decimal.Decimal, len(raw))
	for coinType, num := range raw {
		price, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", coinType, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("price for %s: negative value %s", coinType, price)
		}
		out[risk.CoinType(coinType)] = price
	}
	return out, nil
}

func parseDecimalField(num *json.Number, field string) (decimal.Decimal, error) {
	if num == nil {
		return decimal.Decimal{}, fmt.Errorf("missing %s", field)
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unparseable %s %q: %w", field, num.String(), err)
	}
	return d, nil
}

func parsePercentField(num *json.Number, field string) (decimal.Decimal, error) {
	d, err := parseDecimalField(num, field)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() || d.GreaterThan(percentMax) {
		return decimal.Decimal{}, fmt.Errorf("%s out of range: %s (want 0-100)", field, d)
	}
	return d, nil
}
