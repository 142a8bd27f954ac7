package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/lendex/internal/portfolio"
	"github.com/Aidin1998/lendex/internal/risk"
)

const maxResponseBytes = 4 << 20

// Client fetches positions, reserve configurations and prices from a lending
// protocol indexer API. It implements portfolio.PositionSource,
// portfolio.ReserveConfigSource and portfolio.PriceSource; every response
// passes through the strict parsers in this package before it is returned.
type Client struct {
	logger  *zap.Logger
	baseURL string
	http    *http.Client
}

// NewClient creates a feeds client for the given API base URL
func NewClient(logger *zap.Logger, baseURL string, timeout time.Duration) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Positions implements portfolio.PositionSource
func (c *Client) Positions(ctx context.Context, account string) (portfolio.AccountPositions, error) {
	body, err := c.get(ctx, "/v1/accounts/"+url.PathEscape(account)+"/positions")
	if err != nil {
		return portfolio.AccountPositions{}, err
	}
	return ParseAccountPositions(body)
}

// ReserveConfig implements portfolio.ReserveConfigSource
func (c *Client) ReserveConfig(ctx context.Context, coinType risk.CoinType) (portfolio.ReserveConfig, error) {
	body, err := c.get(ctx, "/v1/reserves/"+url.PathEscape(string(coinType)))
	if err != nil {
		return portfolio.ReserveConfig{}, err
	}
	return ParseReserveConfig(coinType, body)
}

// Prices implements portfolio.PriceSource
func (c *Client) Prices(ctx context.Context, coinTypes []risk.CoinType) (map[risk.CoinType]decimal.Decimal, error) {
	ids := make([]string, len(coinTypes))
	for i, ct := range coinTypes {
		ids[i] = string(ct)
	}
	body, err := c.get(ctx, "/v1/prices?coins="+url.QueryEscape(strings.Join(ids, ",")))
	if err != nil {
		return nil, err
	}
	return ParsePrices(body)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return body, nil
}
