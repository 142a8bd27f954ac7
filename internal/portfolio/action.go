package portfolio

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/lendex/internal/risk"
)

// ActionKind is the kind of user operation being prepared
type ActionKind string

const (
	ActionSupply   ActionKind = "supply"
	ActionWithdraw ActionKind = "withdraw"
	ActionBorrow   ActionKind = "borrow"
	ActionRepay    ActionKind = "repay"
)

// ActionState is the lifecycle state of an action flow
type ActionState int

const (
	StateIdle ActionState = iota
	StateValidating
	StateSimulating
	StateSubmitting
	StateConfirmed
	StateFailed
)

func (s ActionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSimulating:
		return "simulating"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ActionFlow drives one user action through
// Idle -> Validating -> Simulating -> Submitting -> Confirmed | Failed.
// UpdateInput re-enters Validating/Simulating on every input change; the
// terminal transition is driven by the transaction layer's asynchronous
// result. A confirmed submission triggers a session refresh.
type ActionFlow struct {
	id       uuid.UUID
	kind     ActionKind
	coinType risk.CoinType
	session  *Session
	sim      *risk.Simulator
	solver   *risk.Solver
	tx       TransactionLayer
	logger   *zap.Logger

	mu        sync.Mutex
	state     ActionState
	amount    decimal.Decimal
	projected *risk.PortfolioRiskMetrics
	lastErr   error
}

// NewActionFlow creates a flow for one action on one asset
func NewActionFlow(logger *zap.Logger, session *Session, tx TransactionLayer, kind ActionKind, coinType risk.CoinType) *ActionFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionFlow{
		id:       uuid.New(),
		kind:     kind,
		coinType: coinType,
		session:  session,
		sim:      risk.NewSimulator(session.calc),
		solver:   risk.NewSolver(session.calc),
		tx:       tx,
		logger:   logger,
		state:    StateIdle,
	}
}

// ID returns the flow identifier
func (f *ActionFlow) ID() uuid.UUID { return f.id }

// Kind returns the action kind
func (f *ActionFlow) Kind() ActionKind { return f.kind }

// State returns the current lifecycle state
func (f *ActionFlow) State() ActionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the most recent validation or submission error
func (f *ActionFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Projected returns the simulated metrics for the current input, if any
func (f *ActionFlow) Projected() (risk.PortfolioRiskMetrics, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.projected == nil {
		return risk.PortfolioRiskMetrics{}, false
	}
	return *f.projected, true
}

// UpdateInput validates and simulates the given amount against the committed
// snapshot, leaving the flow in Simulating on success. It is meant to be
// called on every change of the amount field.
func (f *ActionFlow) UpdateInput(ctx context.Context, amount decimal.Decimal) (risk.PortfolioRiskMetrics, error) {
	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return risk.PortfolioRiskMetrics{}, fmt.Errorf("action %s is already submitting", f.id)
	}
	f.state = StateValidating
	f.mu.Unlock()

	m, err := f.validateAndSimulate(ctx, amount)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastErr = err
	if err != nil {
		f.state = StateIdle
		f.projected = nil
		return risk.PortfolioRiskMetrics{}, err
	}
	f.state = StateSimulating
	f.amount = amount
	f.projected = &m
	return m, nil
}

func (f *ActionFlow) validateAndSimulate(ctx context.Context, amount decimal.Decimal) (risk.PortfolioRiskMetrics, error) {
	if !amount.IsPositive() {
		return risk.PortfolioRiskMetrics{}, risk.NewInputError("amount", "must be positive")
	}
	snap, ok := f.session.Snapshot()
	if !ok {
		return risk.PortfolioRiskMetrics{}, &risk.DataUnavailableError{Source: "snapshot", Err: fmt.Errorf("no snapshot committed yet")}
	}
	threshold := f.session.SafetyThreshold()

	f.setState(StateSimulating)
	switch f.kind {
	case ActionWithdraw:
		balance := decimal.Zero
		for _, d := range snap.Deposits {
			if d.CoinType == f.coinType {
				balance = d.Amount
				break
			}
		}
		if amount.GreaterThan(balance) {
			return risk.PortfolioRiskMetrics{}, risk.NewInputError("amount", "exceeds available balance")
		}
		m, err := f.sim.SimulateWithdraw(snap.Deposits, snap.Borrows, f.coinType, amount)
		if err != nil {
			return risk.PortfolioRiskMetrics{}, err
		}
		if m.HasDebt() && (m.IsLiquidatable || m.HealthFactor.LessThan(threshold)) {
			return m, &risk.UnsafeOperationError{HealthFactor: m.HealthFactor, Threshold: threshold}
		}
		return m, nil

	case ActionBorrow:
		template, err := f.session.BorrowTemplate(ctx, f.coinType)
		if err != nil {
			return risk.PortfolioRiskMetrics{}, err
		}
		template.Amount = amount
		m, err := f.sim.SimulateBorrow(snap.Deposits, snap.Borrows, template)
		if err != nil {
			return risk.PortfolioRiskMetrics{}, err
		}
		if !m.IsHealthy || m.IsLiquidatable || m.HealthFactor.LessThan(threshold) {
			return m, &risk.UnsafeOperationError{HealthFactor: m.HealthFactor, Threshold: threshold}
		}
		return m, nil

	case ActionSupply:
		template, err := f.session.DepositTemplate(ctx, f.coinType)
		if err != nil {
			return risk.PortfolioRiskMetrics{}, err
		}
		template.Amount = amount
		return f.sim.SimulateSupply(snap.Deposits, snap.Borrows, template)

	case ActionRepay:
		balance := decimal.Zero
		for _, b := range snap.Borrows {
			if b.CoinType == f.coinType {
				balance = b.Amount
				break
			}
		}
		if amount.GreaterThan(balance) {
			return risk.PortfolioRiskMetrics{}, risk.NewInputError("amount", "exceeds outstanding debt")
		}
		return f.sim.SimulateRepay(snap.Deposits, snap.Borrows, f.coinType, amount)
	}
	return risk.PortfolioRiskMetrics{}, risk.NewInputError("kind", "unknown action kind "+string(f.kind))
}

func (f *ActionFlow) setState(s ActionState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Submit hands the validated amount to the transaction layer. It returns a
// channel delivering the terminal result; the flow moves to Confirmed or
// Failed when that result arrives. A confirmed transaction refreshes the
// session snapshot before the channel fires.
func (f *ActionFlow) Submit(ctx context.Context) (<-chan error, error) {
	f.mu.Lock()
	if f.state != StateSimulating || f.projected == nil {
		state := f.state
		f.mu.Unlock()
		return nil, fmt.Errorf("action %s not ready to submit (state %s)", f.id, state)
	}
	f.state = StateSubmitting
	req := TxRequest{
		Account:  f.session.Account(),
		Kind:     f.kind,
		CoinType: f.coinType,
		Amount:   f.amount,
	}
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		hash, err := f.tx.Submit(ctx, req)
		if err != nil {
			f.mu.Lock()
			f.state = StateFailed
			f.lastErr = err
			f.mu.Unlock()
			f.logger.Warn("transaction failed",
				zap.String("action", string(f.kind)),
				zap.String("coin_type", string(f.coinType)),
				zap.Error(err))
			done <- err
			return
		}

		f.setState(StateConfirmed)
		f.logger.Info("transaction confirmed",
			zap.String("action", string(f.kind)),
			zap.String("coin_type", string(f.coinType)),
			zap.String("tx_hash", hash))
		if rerr := f.session.OnTransactionConfirmed(ctx); rerr != nil {
			// snapshot is stale but usable; surfaced via its Stale flag
			f.logger.Warn("post-transaction refresh failed", zap.Error(rerr))
		}
		done <- nil
	}()
	return done, nil
}
