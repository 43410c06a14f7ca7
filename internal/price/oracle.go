// internal/price/oracle.go
// Package price resolves the SOL/USD price used for volume accounting on
// USDC-quoted pools.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Oracle returns the current SOL price in USD.
type Oracle interface {
	SolPrice(ctx context.Context) (float64, error)
}

const cacheTTL = 30 * time.Second

// HTTPOracle fetches the price from a JSON endpoint and caches it briefly so
// concurrent token loops do not hammer the API.
type HTTPOracle struct {
	url    string
	httpc  *http.Client
	logger *zap.Logger

	mu        sync.Mutex
	cached    float64
	fetchedAt time.Time
}

// NewHTTPOracle creates an oracle against the given endpoint. The endpoint
// is expected to answer like the Coingecko simple-price API:
// {"solana":{"usd":123.45}}.
func NewHTTPOracle(url string, logger *zap.Logger) *HTTPOracle {
	return &HTTPOracle{
		url:    url,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("price"),
	}
}

type priceResponse struct {
	Solana struct {
		USD float64 `json:"usd"`
	} `json:"solana"`
}

func (o *HTTPOracle) SolPrice(ctx context.Context) (float64, error) {
	o.mu.Lock()
	if o.cached > 0 && time.Since(o.fetchedAt) < cacheTTL {
		cached := o.cached
		o.mu.Unlock()
		return cached, nil
	}
	o.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := o.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch SOL price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, err
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	if parsed.Solana.USD <= 0 {
		return 0, fmt.Errorf("price endpoint returned no usable price")
	}

	o.mu.Lock()
	o.cached = parsed.Solana.USD
	o.fetchedAt = time.Now()
	o.mu.Unlock()

	o.logger.Debug("SOL price refreshed", zap.Float64("usd", parsed.Solana.USD))
	return parsed.Solana.USD, nil
}
