package pricecache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/lendex/internal/risk"
)

// fakeRedis implements the few UniversalClient methods the cache tier uses;
// anything else panics via the nil embedded interface.
type fakeRedis struct {
	redis.UniversalClient
	mgetVals []interface{}
	mgetErr  error
	sets     map[string]string
	lastTTL  time.Duration
	delKeys  []string
}

func (f *fakeRedis) MGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	cmd := redis.NewSliceCmd(ctx)
	if f.mgetErr != nil {
		cmd.SetErr(f.mgetErr)
		return cmd
	}
	cmd.SetVal(f.mgetVals)
	return cmd
}

func (f *fakeRedis) Pipeline() redis.Pipeliner {
	return &fakePipeliner{store: f}
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.delKeys = append(f.delKeys, keys...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(keys)))
	return cmd
}

type fakePipeliner struct {
	redis.Pipeliner
	store *fakeRedis
}

func (p *fakePipeliner) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if p.store.sets == nil {
		p.store.sets = make(map[string]string)
	}
	p.store.sets[key] = fmt.Sprint(value)
	p.store.lastTTL = expiration
	return redis.NewStatusCmd(ctx)
}

func (p *fakePipeliner) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return nil, nil
}

func TestRedisHitSkipsSource(t *testing.T) {
	source := &fakeSource{}
	client := &fakeRedis{mgetVals: []interface{}{"10"}}
	cache := NewRedisCache(zaptest.NewLogger(t), client, source, time.Minute)

	out, err := cache.Prices(context.Background(), []risk.CoinType{aptCoin})
	require.NoError(t, err)
	assert.True(t, out[aptCoin].Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 0, source.callCount(), "a cached price must not hit the source")
}

func TestRedisMissFetchesAndWritesBack(t *testing.T) {
	source := &fakeSource{prices: map[risk.CoinType]decimal.Decimal{aptCoin: decimal.NewFromInt(10)}}
	client := &fakeRedis{mgetVals: []interface{}{nil}}
	cache := NewRedisCache(zaptest.NewLogger(t), client, source, time.Minute)

	out, err := cache.Prices(context.Background(), []risk.CoinType{aptCoin})
	require.NoError(t, err)
	assert.True(t, out[aptCoin].Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, source.callCount())
	assert.Equal(t, "10", client.sets["lendex:price:"+string(aptCoin)])
	assert.Equal(t, time.Minute, client.lastTTL)
}

func TestRedisOutagePassesThrough(t *testing.T) {
	source := &fakeSource{prices: map[risk.CoinType]decimal.Decimal{aptCoin: decimal.NewFromInt(10)}}
	client := &fakeRedis{mgetErr: fmt.Errorf("connection refused")}
	cache := NewRedisCache(zaptest.NewLogger(t), client, source, time.Minute)

	out, err := cache.Prices(context.Background(), []risk.CoinType{aptCoin})
	require.NoError(t, err, "a redis outage must not fail the lookup")
	assert.True(t, out[aptCoin].Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, source.callCount())
}

func TestRedisMalformedValueRefetched(t *testing.T) {
	source := &fakeSource{prices: map[risk.CoinType]decimal.Decimal{aptCoin: decimal.NewFromInt(10)}}
	client := &fakeRedis{mgetVals: []interface{}{"not-a-number"}}
	cache := NewRedisCache(zaptest.NewLogger(t), client, source, time.Minute)

	out, err := cache.Prices(context.Background(), []risk.CoinType{aptCoin})
	require.NoError(t, err)
	assert.True(t, out[aptCoin].Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, source.callCount(), "a malformed cached value must be treated as a miss")
	assert.Equal(t, "10", client.sets["lendex:price:"+string(aptCoin)], "the refetched price must overwrite the bad entry")
}

func TestRedisPartialSourceResponseLeavesGap(t *testing.T) {
	source := &fakeSource{prices: map[risk.CoinType]decimal.Decimal{aptCoin: decimal.NewFromInt(10)}}
	client := &fakeRedis{mgetVals: []interface{}{nil, nil}}
	cache := NewRedisCache(zaptest.NewLogger(t), client, source, time.Minute)

	out, err := cache.Prices(context.Background(), []risk.CoinType{aptCoin, wethCoin})
	require.NoError(t, err)
	assert.True(t, out[aptCoin].Equal(decimal.NewFromInt(10)))
	_, ok := out[wethCoin]
	assert.False(t, ok, "unresolved asset must stay absent, not appear as zero")
	_, cached := client.sets["lendex:price:"+string(wethCoin)]
	assert.False(t, cached, "unresolved asset must not be written back")
}

func TestRedisInvalidate(t *testing.T) {
	client := &fakeRedis{}
	cache := NewRedisCache(zaptest.NewLogger(t), client, &fakeSource{}, time.Minute)

	require.NoError(t, cache.Invalidate(context.Background(), aptCoin))
	assert.Equal(t, []string{"lendex:price:" + string(aptCoin)}, client.delKeys)
}
