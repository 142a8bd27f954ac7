// Package portfolio orchestrates snapshot refresh from external data sources
// and drives per-action validate/simulate/submit flows on top of the risk
// core.
package portfolio

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/lendex/internal/risk"
)

// RawPosition is one deposited or borrowed asset entry as reported by the
// position source, already converted from pool-share accounting to underlying
// units.
type RawPosition struct {
	CoinType risk.CoinType   `json:"coin_type"`
	Amount   decimal.Decimal `json:"amount"`
}

// AccountPositions holds the raw position lists for one account
type AccountPositions struct {
	Deposits []RawPosition `json:"deposits"`
	Borrows  []RawPosition `json:"borrows"`
}

// ReserveConfig carries an asset's risk parameters as 0-100 percentages plus
// its decimal precision
type ReserveConfig struct {
	Symbol               string          `json:"symbol"`
	LTV                  decimal.Decimal `json:"ltv"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
	BorrowFactor         decimal.Decimal `json:"borrow_factor"`
	Decimals             int             `json:"decimals"`
}

// PositionSource returns the current deposited and borrowed entries for an
// account
type PositionSource interface {
	Positions(ctx context.Context, account string) (AccountPositions, error)
}

// ReserveConfigSource returns the risk parameters for an asset
type ReserveConfigSource interface {
	ReserveConfig(ctx context.Context, coinType risk.CoinType) (ReserveConfig, error)
}

// PriceSource returns current USD unit prices for a set of assets. Prices may
// be stale or cached; the session treats each as a point-in-time input.
type PriceSource interface {
	Prices(ctx context.Context, coinTypes []risk.CoinType) (map[risk.CoinType]decimal.Decimal, error)
}

// TxRequest describes a validated on-chain operation for the transaction
// layer. Amount is in asset-native decimal units.
type TxRequest struct {
	Account  string
	Kind     ActionKind
	CoinType risk.CoinType
	Amount   decimal.Decimal
}

// TransactionLayer constructs, signs and submits an operation, returning the
// transaction hash. Submission is blocking; the action flow runs it from its
// own goroutine and reports the result asynchronously.
type TransactionLayer interface {
	Submit(ctx context.Context, req TxRequest) (string, error)
}

// Clock abstracts time.Now so refresh timestamps and staleness are
// deterministic under test
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside tests
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time { return time.Now() }
