package portfolio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/lendex/internal/risk"
)

const (
	aptCoin  = risk.CoinType("0x1::aptos_coin::AptosCoin")
	usdcCoin = risk.CoinType("0x1::usdc::USDC")
)

type fakePositions struct {
	mu      sync.Mutex
	resp    AccountPositions
	err     error
	calls   int
	gate    chan struct{} // when set, Positions blocks until closed
	entered chan struct{}
}

func (f *fakePositions) Positions(ctx context.Context, account string) (AccountPositions, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	entered := f.entered
	resp, err := f.resp, f.err
	f.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return resp, err
}

func (f *fakePositions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePositions) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeReserves struct {
	configs map[risk.CoinType]ReserveConfig
	err     error
}

func (f *fakeReserves) ReserveConfig(ctx context.Context, coinType risk.CoinType) (ReserveConfig, error) {
	if f.err != nil {
		return ReserveConfig{}, f.err
	}
	rc, ok := f.configs[coinType]
	if !ok {
		return ReserveConfig{}, fmt.Errorf("no reserve for %s", coinType)
	}
	return rc, nil
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[risk.CoinType]decimal.Decimal
	err    error
	calls  int
}

func (f *fakePrices) Prices(ctx context.Context, coinTypes []risk.CoinType) (map[risk.CoinType]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[risk.CoinType]decimal.Decimal, len(coinTypes))
	for _, ct := range coinTypes {
		if p, ok := f.prices[ct]; ok {
			out[ct] = p
		}
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testFixtures() (*fakePositions, *fakeReserves, *fakePrices) {
	positions := &fakePositions{
		resp: AccountPositions{
			Deposits: []RawPosition{{CoinType: aptCoin, Amount: decimal.NewFromInt(1000)}},
			Borrows:  []RawPosition{{CoinType: usdcCoin, Amount: decimal.NewFromInt(5000)}},
		},
	}
	reserves := &fakeReserves{configs: map[risk.CoinType]ReserveConfig{
		aptCoin: {
			Symbol:               "APT",
			LTV:                  decimal.NewFromInt(80),
			LiquidationThreshold: decimal.NewFromInt(85),
			BorrowFactor:         decimal.NewFromInt(100),
			Decimals:             8,
		},
		usdcCoin: {
			Symbol:               "USDC",
			LTV:                  decimal.NewFromInt(75),
			LiquidationThreshold: decimal.NewFromInt(80),
			BorrowFactor:         decimal.NewFromInt(100),
			Decimals:             6,
		},
	}}
	prices := &fakePrices{prices: map[risk.CoinType]decimal.Decimal{
		aptCoin:  decimal.NewFromInt(10),
		usdcCoin: decimal.NewFromInt(1),
	}}
	return positions, reserves, prices
}

func newTestSession(t *testing.T, positions PositionSource, reserves ReserveConfigSource, prices PriceSource, clock Clock) *Session {
	calc := risk.NewCalculator(zaptest.NewLogger(t))
	cfg := Config{
		Account:      "0xabc",
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}
	return NewSession(zaptest.NewLogger(t), cfg, calc, positions, reserves, prices, clock)
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	positions, reserves, prices := testFixtures()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := newTestSession(t, positions, reserves, prices, clock)

	require.NoError(t, s.Refresh(context.Background()))

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, clock.Now(), snap.Timestamp)
	assert.False(t, snap.Stale)
	require.Len(t, snap.Deposits, 1)
	require.Len(t, snap.Borrows, 1)
	assert.Equal(t, "APT", snap.Deposits[0].Symbol)
	assert.True(t, snap.Metrics.HealthFactor.Equal(decimal.NewFromFloat(1.7)),
		"health factor = %s", snap.Metrics.HealthFactor)
}

func TestRefreshFailureRetainsStaleSnapshot(t *testing.T) {
	positions, reserves, prices := testFixtures()
	s := newTestSession(t, positions, reserves, prices, &fakeClock{now: time.Unix(1700000000, 0)})

	require.NoError(t, s.Refresh(context.Background()))

	positions.setErr(fmt.Errorf("rpc timeout"))
	err := s.Refresh(context.Background())
	var unavail *risk.DataUnavailableError
	require.ErrorAs(t, err, &unavail)

	snap, ok := s.Snapshot()
	require.True(t, ok, "last-good snapshot must be retained")
	assert.True(t, snap.Stale)
	assert.True(t, snap.Metrics.HealthFactor.Equal(decimal.NewFromFloat(1.7)),
		"stale data must stay computable")

	// recovery clears the staleness flag
	positions.setErr(nil)
	require.NoError(t, s.Refresh(context.Background()))
	snap, _ = s.Snapshot()
	assert.False(t, snap.Stale)
}

func TestRefreshRetriesBeforeDegrading(t *testing.T) {
	positions, reserves, prices := testFixtures()
	positions.setErr(fmt.Errorf("flaky"))
	s := newTestSession(t, positions, reserves, prices, nil)

	_ = s.Refresh(context.Background())
	// MaxRetries=1 means two attempts per refresh
	assert.Equal(t, 2, positions.callCount())
}

func TestRefreshCoalescesConcurrentRequests(t *testing.T) {
	positions, reserves, prices := testFixtures()
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	positions.gate = gate
	positions.entered = entered
	s := newTestSession(t, positions, reserves, prices, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = s.Refresh(context.Background())
	}()
	<-entered // first refresh is inside the fetch

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = s.Refresh(context.Background())
	}()
	time.Sleep(10 * time.Millisecond) // give the second request time to join
	close(gate)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, positions.callCount(), "overlapping refreshes must coalesce into one fetch")
}

func TestStaleResponseDiscarded(t *testing.T) {
	positions, reserves, prices := testFixtures()
	s := newTestSession(t, positions, reserves, prices, nil)

	require.NoError(t, s.Refresh(context.Background()))
	snap, _ := s.Snapshot()
	require.Equal(t, uint64(1), snap.Seq)

	// a slow response carrying an older sequence must not overwrite
	old := snap
	old.Seq = 0
	assert.False(t, s.commit(&old))
	current, _ := s.Snapshot()
	assert.Equal(t, uint64(1), current.Seq)

	// a newer one replaces as usual
	newer := snap
	newer.Seq = 5
	assert.True(t, s.commit(&newer))
}

func TestStartStopLifecycle(t *testing.T) {
	positions, reserves, prices := testFixtures()
	calc := risk.NewCalculator(zaptest.NewLogger(t))
	cfg := Config{
		Account:         "0xabc",
		RefreshInterval: 10 * time.Millisecond,
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
	}
	s := NewSession(zaptest.NewLogger(t), cfg, calc, positions, reserves, prices, nil)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start must not stack a second timer")

	require.Eventually(t, func() bool {
		return positions.callCount() >= 2
	}, time.Second, 5*time.Millisecond, "auto-refresh should fire on the interval")

	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())

	calls := positions.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, positions.callCount(), calls+1, "timer must not keep firing after stop")
}

func TestBorrowTemplate(t *testing.T) {
	positions, reserves, prices := testFixtures()
	s := newTestSession(t, positions, reserves, prices, nil)
	require.NoError(t, s.Refresh(context.Background()))

	// existing borrow: template comes straight from the snapshot
	tpl, err := s.BorrowTemplate(context.Background(), usdcCoin)
	require.NoError(t, err)
	assert.True(t, tpl.Amount.IsZero())
	assert.Equal(t, "USDC", tpl.Symbol)
	assert.True(t, tpl.PriceUSD.Equal(decimal.NewFromInt(1)))

	// asset not borrowed yet: reserve config and price are fetched
	tpl, err = s.BorrowTemplate(context.Background(), aptCoin)
	require.NoError(t, err)
	assert.Equal(t, "APT", tpl.Symbol)
	assert.True(t, tpl.PriceUSD.Equal(decimal.NewFromInt(10)))
	assert.True(t, tpl.BorrowFactor.Equal(decimal.NewFromInt(100)))
}

func TestRefreshFailsWhenBorrowedAssetHasNoPrice(t *testing.T) {
	positions, reserves, prices := testFixtures()
	delete(prices.prices, usdcCoin)
	s := newTestSession(t, positions, reserves, prices, nil)

	err := s.Refresh(context.Background())
	var unavail *risk.DataUnavailableError
	require.ErrorAs(t, err, &unavail)

	_, ok := s.Snapshot()
	assert.False(t, ok, "a snapshot with zero-priced debt must never be committed")
}

func TestMissingPriceRetainsLastGoodSnapshot(t *testing.T) {
	positions, reserves, prices := testFixtures()
	s := newTestSession(t, positions, reserves, prices, nil)
	require.NoError(t, s.Refresh(context.Background()))

	delete(prices.prices, usdcCoin)
	err := s.Refresh(context.Background())
	var unavail *risk.DataUnavailableError
	require.ErrorAs(t, err, &unavail)

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.True(t, snap.Stale)
	assert.True(t, snap.Metrics.HasDebt(), "debt must not vanish when its price feed drops out")
	assert.True(t, snap.Metrics.HealthFactor.Equal(decimal.NewFromFloat(1.7)),
		"health factor = %s", snap.Metrics.HealthFactor)
}

func TestBuildPositionsExcludesDegenerateBorrow(t *testing.T) {
	positions, reserves, prices := testFixtures()
	reserves.configs[usdcCoin] = ReserveConfig{Symbol: "USDC", BorrowFactor: decimal.Zero}
	s := newTestSession(t, positions, reserves, prices, nil)

	require.NoError(t, s.Refresh(context.Background()))
	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Borrows, "borrow with non-positive borrow factor must not reach the core")
}
