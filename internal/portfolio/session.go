package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/lendex/internal/risk"
	"github.com/Aidin1998/lendex/pkg/metrics"
)

// Config carries session tuning. Zero values fall back to the defaults below.
type Config struct {
	Account         string
	RefreshInterval time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	SafetyThreshold decimal.Decimal
}

const (
	defaultRefreshInterval = 30 * time.Second
	defaultMaxRetries      = 3
	defaultRetryBackoff    = 500 * time.Millisecond
)

// Snapshot is the committed view of one account: position lists, the prices
// they were valued at, derived metrics, and provenance. It is replaced as a
// whole on refresh, never patched, so readers can never observe a torn
// update. Stale means the last refresh attempt failed and this data is
// last-good rather than current.
type Snapshot struct {
	Deposits  []risk.DepositPosition
	Borrows   []risk.BorrowPosition
	Prices    map[risk.CoinType]decimal.Decimal
	Metrics   risk.PortfolioRiskMetrics
	Timestamp time.Time
	Seq       uint64
	Stale     bool
}

// Session owns the committed snapshot for one account and refreshes it from
// the external position, reserve-config and price collaborators. Reads are
// safe from any goroutine; at most one refresh is in flight at a time and
// concurrent refresh requests coalesce onto it.
type Session struct {
	logger    *zap.Logger
	cfg       Config
	calc      *risk.Calculator
	positions PositionSource
	reserves  ReserveConfigSource
	prices    PriceSource
	clock     Clock

	mu       sync.RWMutex
	snapshot *Snapshot
	nextSeq  uint64
	inflight chan struct{}
	lastErr  error

	runMu     sync.Mutex
	stopCh    chan struct{}
	isRunning bool
}

// NewSession creates a session for one account. A nil clock selects the
// system clock.
func NewSession(logger *zap.Logger, cfg Config, calc *risk.Calculator, positions PositionSource, reserves ReserveConfigSource, prices PriceSource, clock Clock) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if !cfg.SafetyThreshold.IsPositive() {
		cfg.SafetyThreshold = risk.DefaultSafetyThreshold
	}
	return &Session{
		logger:    logger,
		cfg:       cfg,
		calc:      calc,
		positions: positions,
		reserves:  reserves,
		prices:    prices,
		clock:     clock,
	}
}

// Account returns the account identifier this session tracks
func (s *Session) Account() string { return s.cfg.Account }

// SafetyThreshold returns the configured target minimum health factor
func (s *Session) SafetyThreshold() decimal.Decimal { return s.cfg.SafetyThreshold }

// Snapshot returns a copy of the committed snapshot. The second return is
// false until the first successful refresh.
func (s *Session) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return Snapshot{}, false
	}
	return *s.snapshot, true
}

// Metrics returns the committed risk metrics, if any
func (s *Session) Metrics() (risk.PortfolioRiskMetrics, bool) {
	snap, ok := s.Snapshot()
	return snap.Metrics, ok
}

// Refresh rebuilds the snapshot from the external collaborators. If a refresh
// is already in flight the call waits for it and shares its result instead of
// launching a second overlapping fetch. On failure the previous snapshot is
// retained and marked stale.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if ch := s.inflight; ch != nil {
		s.mu.Unlock()
		select {
		case <-ch:
			s.mu.RLock()
			err := s.lastErr
			s.mu.RUnlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	s.inflight = ch
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	start := time.Now()
	err := s.doRefresh(ctx, seq)
	metrics.SnapshotRefreshLatency.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.inflight = nil
	s.lastErr = err
	s.mu.Unlock()
	close(ch)
	return err
}

func (s *Session) doRefresh(ctx context.Context, seq uint64) error {
	var raw AccountPositions
	err := s.withRetry(ctx, "positions", func() error {
		var ferr error
		raw, ferr = s.positions.Positions(ctx, s.cfg.Account)
		return ferr
	})
	if err != nil {
		return s.degrade("positions", err)
	}

	coinSet := make(map[risk.CoinType]struct{})
	for _, p := range raw.Deposits {
		coinSet[p.CoinType] = struct{}{}
	}
	for _, p := range raw.Borrows {
		coinSet[p.CoinType] = struct{}{}
	}
	coinTypes := make([]risk.CoinType, 0, len(coinSet))
	for ct := range coinSet {
		coinTypes = append(coinTypes, ct)
	}

	configs := make(map[risk.CoinType]ReserveConfig, len(coinTypes))
	for _, ct := range coinTypes {
		var rc ReserveConfig
		err := s.withRetry(ctx, "reserve config", func() error {
			var ferr error
			rc, ferr = s.reserves.ReserveConfig(ctx, ct)
			return ferr
		})
		if err != nil {
			return s.degrade("reserve config", err)
		}
		configs[ct] = rc
	}

	var prices map[risk.CoinType]decimal.Decimal
	if len(coinTypes) > 0 {
		err = s.withRetry(ctx, "prices", func() error {
			var ferr error
			prices, ferr = s.prices.Prices(ctx, coinTypes)
			return ferr
		})
		if err != nil {
			return s.degrade("prices", err)
		}
	}

	// a held asset without a usable price must fail the refresh: a zero-priced
	// borrow would erase real debt from every downstream metric
	for _, ct := range coinTypes {
		if price, ok := prices[ct]; !ok || !price.IsPositive() {
			return s.degrade("prices", fmt.Errorf("no usable price for held asset %s", ct))
		}
	}

	deposits, borrows := s.buildPositions(raw, configs, prices)
	snap := &Snapshot{
		Deposits:  deposits,
		Borrows:   borrows,
		Prices:    prices,
		Metrics:   s.calc.ComputePortfolioRisk(deposits, borrows),
		Timestamp: s.clock.Now(),
		Seq:       seq,
	}
	if !s.commit(snap) {
		metrics.SnapshotRefreshes.WithLabelValues("discarded").Inc()
		return nil
	}
	metrics.SnapshotRefreshes.WithLabelValues("ok").Inc()
	s.logger.Debug("snapshot refreshed",
		zap.String("account", s.cfg.Account),
		zap.Uint64("seq", seq),
		zap.Int("deposits", len(deposits)),
		zap.Int("borrows", len(borrows)))
	return nil
}

// buildPositions converts raw entries into typed positions, attaching each
// asset's risk parameters and price. Borrows with a degenerate configuration
// are excluded here so they never reach the arithmetic core.
func (s *Session) buildPositions(raw AccountPositions, configs map[risk.CoinType]ReserveConfig, prices map[risk.CoinType]decimal.Decimal) ([]risk.DepositPosition, []risk.BorrowPosition) {
	deposits := make([]risk.DepositPosition, 0, len(raw.Deposits))
	for _, p := range raw.Deposits {
		if !p.Amount.IsPositive() {
			continue
		}
		rc := configs[p.CoinType]
		deposits = append(deposits, risk.DepositPosition{
			AssetPosition: risk.AssetPosition{
				CoinType:             p.CoinType,
				Symbol:               rc.Symbol,
				Amount:               p.Amount,
				PriceUSD:             prices[p.CoinType],
				LTV:                  rc.LTV,
				LiquidationThreshold: rc.LiquidationThreshold,
				BorrowFactor:         rc.BorrowFactor,
			},
		})
	}

	borrows := make([]risk.BorrowPosition, 0, len(raw.Borrows))
	for _, p := range raw.Borrows {
		if !p.Amount.IsPositive() {
			continue
		}
		rc := configs[p.CoinType]
		b := risk.BorrowPosition{
			AssetPosition: risk.AssetPosition{
				CoinType:             p.CoinType,
				Symbol:               rc.Symbol,
				Amount:               p.Amount,
				PriceUSD:             prices[p.CoinType],
				LTV:                  rc.LTV,
				LiquidationThreshold: rc.LiquidationThreshold,
				BorrowFactor:         rc.BorrowFactor,
			},
		}
		if cerr := risk.ValidateBorrowConfig(b); cerr != nil {
			s.logger.Warn("excluding borrow with degenerate reserve config",
				zap.String("coin_type", string(p.CoinType)),
				zap.Error(cerr))
			continue
		}
		borrows = append(borrows, b)
	}
	return deposits, borrows
}

// commit atomically replaces the snapshot. A response that lost the race to a
// newer snapshot is discarded so stale data never overwrites fresh data.
func (s *Session) commit(snap *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil && s.snapshot.Seq >= snap.Seq {
		return false
	}
	s.snapshot = snap
	metrics.SnapshotStale.Set(0)
	return true
}

// degrade marks the committed snapshot stale and surfaces a non-fatal
// DataUnavailableError. Computation continues against last-good data.
func (s *Session) degrade(source string, err error) error {
	s.mu.Lock()
	if s.snapshot != nil && !s.snapshot.Stale {
		stale := *s.snapshot
		stale.Stale = true
		s.snapshot = &stale
	}
	s.mu.Unlock()

	metrics.SnapshotRefreshes.WithLabelValues("error").Inc()
	metrics.SnapshotStale.Set(1)
	s.logger.Warn("snapshot refresh failed, serving last-good data",
		zap.String("account", s.cfg.Account),
		zap.String("source", source),
		zap.Error(err))
	return &risk.DataUnavailableError{Source: source, Err: err}
}

// withRetry runs fn with bounded retry and doubling backoff
func (s *Session) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
		s.logger.Warn("fetch attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

// Start launches the auto-refresh loop. It fails if the loop is already
// running, so re-subscription can never accumulate duplicate timers.
func (s *Session) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.isRunning {
		return fmt.Errorf("portfolio session is already running")
	}
	s.stopCh = make(chan struct{})
	s.isRunning = true
	go s.refreshLoop(s.stopCh)
	s.logger.Info("portfolio session started",
		zap.String("account", s.cfg.Account),
		zap.Duration("interval", s.cfg.RefreshInterval))
	return nil
}

// Stop cancels the auto-refresh loop
func (s *Session) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.isRunning {
		return fmt.Errorf("portfolio session is not running")
	}
	close(s.stopCh)
	s.isRunning = false
	s.logger.Info("portfolio session stopped", zap.String("account", s.cfg.Account))
	return nil
}

func (s *Session) refreshLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// errors already logged and degraded inside Refresh
			_ = s.Refresh(context.Background())
		}
	}
}

// OnTransactionConfirmed refreshes the snapshot immediately after a confirmed
// mutating transaction
func (s *Session) OnTransactionConfirmed(ctx context.Context) error {
	return s.Refresh(ctx)
}

// BorrowTemplate builds a zero-amount borrow position for an asset, reusing
// the committed snapshot's data when the asset is already borrowed and
// falling back to the reserve-config and price sources otherwise.
func (s *Session) BorrowTemplate(ctx context.Context, coinType risk.CoinType) (risk.BorrowPosition, error) {
	if snap, ok := s.Snapshot(); ok {
		for _, b := range snap.Borrows {
			if b.CoinType == coinType {
				t := b
				t.Amount = decimal.Zero
				t.BorrowShare = decimal.Zero
				return t, nil
			}
		}
		if price, ok := snap.Prices[coinType]; ok && price.IsPositive() {
			rc, err := s.reserves.ReserveConfig(ctx, coinType)
			if err != nil {
				return risk.BorrowPosition{}, &risk.DataUnavailableError{Source: "reserve config", Err: err}
			}
			return borrowTemplate(coinType, rc, price), nil
		}
	}

	rc, err := s.reserves.ReserveConfig(ctx, coinType)
	if err != nil {
		return risk.BorrowPosition{}, &risk.DataUnavailableError{Source: "reserve config", Err: err}
	}
	prices, err := s.prices.Prices(ctx, []risk.CoinType{coinType})
	if err != nil {
		return risk.BorrowPosition{}, &risk.DataUnavailableError{Source: "prices", Err: err}
	}
	return borrowTemplate(coinType, rc, prices[coinType]), nil
}

// DepositTemplate builds a zero-amount deposit position for an asset,
// mirroring BorrowTemplate.
func (s *Session) DepositTemplate(ctx context.Context, coinType risk.CoinType) (risk.DepositPosition, error) {
	if snap, ok := s.Snapshot(); ok {
		for _, d := range snap.Deposits {
			if d.CoinType == coinType {
				t := d
				t.Amount = decimal.Zero
				t.LPAmount = decimal.Zero
				return t, nil
			}
		}
	}

	rc, err := s.reserves.ReserveConfig(ctx, coinType)
	if err != nil {
		return risk.DepositPosition{}, &risk.DataUnavailableError{Source: "reserve config", Err: err}
	}
	prices, err := s.prices.Prices(ctx, []risk.CoinType{coinType})
	if err != nil {
		return risk.DepositPosition{}, &risk.DataUnavailableError{Source: "prices", Err: err}
	}
	return risk.DepositPosition{
		AssetPosition: risk.AssetPosition{
			CoinType:             coinType,
			Symbol:               rc.Symbol,
			PriceUSD:             prices[coinType],
			LTV:                  rc.LTV,
			LiquidationThreshold: rc.LiquidationThreshold,
			BorrowFactor:         rc.BorrowFactor,
		},
	}, nil
}

func borrowTemplate(coinType risk.CoinType, rc ReserveConfig, price decimal.Decimal) risk.BorrowPosition {
	return risk.BorrowPosition{
		AssetPosition: risk.AssetPosition{
			CoinType:             coinType,
			Symbol:               rc.Symbol,
			PriceUSD:             price,
			LTV:                  rc.LTV,
			LiquidationThreshold: rc.LiquidationThreshold,
			BorrowFactor:         rc.BorrowFactor,
		},
	}
}
