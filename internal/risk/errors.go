package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InputError rejects a request before any simulation runs: non-positive
// amounts, unknown assets, or a withdrawal exceeding the available balance.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("risk: invalid input %s: %s", e.Field, e.Reason)
}

// NewInputError creates an InputError for a named input field
func NewInputError(field, reason string) *InputError {
	return &InputError{Field: field, Reason: reason}
}

// UnsafeOperationError reports that a simulated action would breach the
// safety threshold or leave the position liquidatable. It carries the
// resulting health factor so callers can explain the refusal concretely.
type UnsafeOperationError struct {
	HealthFactor decimal.Decimal
	Threshold    decimal.Decimal
}

func (e *UnsafeOperationError) Error() string {
	return fmt.Sprintf("risk: operation unsafe: projected health factor %s below threshold %s",
		e.HealthFactor.StringFixed(4), e.Threshold.StringFixed(4))
}

// DataUnavailableError reports a failed position/price/reserve-config fetch.
// The session retains its last-good snapshot and marks it stale instead of
// failing closed.
type DataUnavailableError struct {
	Source string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("risk: %s data unavailable: %v", e.Source, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// ComputationError reports a degenerate asset configuration, such as a
// non-positive borrow factor, that would otherwise turn into Inf/NaN in the
// aggregate metrics.
type ComputationError struct {
	CoinType CoinType
	Reason   string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("risk: degenerate configuration for %s: %s", e.CoinType, e.Reason)
}

// ValidateBorrowConfig checks a borrow position's risk parameters at the data
// boundary, before the asset enters any aggregation.
func ValidateBorrowConfig(p BorrowPosition) *ComputationError {
	if !p.BorrowFactor.IsPositive() {
		return &ComputationError{CoinType: p.CoinType, Reason: "borrow factor must be > 0"}
	}
	return nil
}
