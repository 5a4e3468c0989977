// Package oracle resolves network token prices in USD. The funding ledger
// oracle and the refund distributor consume it; neither ever calls the
// upstream price source directly.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/goalstake/pledge_layer/pkg/logger"
)

// PriceOracle maps a network to a USD price per native unit.
type PriceOracle interface {
	Price(ctx context.Context, network string) (float64, error)
}

// PriceFunc adapts a function to the PriceOracle interface.
type PriceFunc func(ctx context.Context, network string) (float64, error)

func (f PriceFunc) Price(ctx context.Context, network string) (float64, error) {
	if f == nil {
		return 0, fmt.Errorf("no price source configured")
	}
	return f(ctx, network)
}

// Static serves fixed prices; used by tests and local development.
type Static map[string]float64

func (s Static) Price(_ context.Context, network string) (float64, error) {
	price, ok := s[strings.ToLower(network)]
	if !ok {
		return 0, fmt.Errorf("no price for network %s", network)
	}
	return price, nil
}

// HTTPFetcher retrieves prices from an external price endpoint.
type HTTPFetcher struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPFetcher constructs a fetcher using the provided endpoint.
func NewHTTPFetcher(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPFetcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("price endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse price endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("price-fetcher")
	}
	return &HTTPFetcher{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (f *HTTPFetcher) Price(ctx context.Context, network string) (float64, error) {
	requestURL := *f.endpoint
	q := requestURL.Query()
	q.Set("network", strings.ToLower(network))
	requestURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price endpoint status %d", resp.StatusCode)
	}

	var payload struct {
		Price float64 `json:"price_usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	if payload.Price <= 0 {
		return 0, fmt.Errorf("non-positive price for %s", network)
	}
	return payload.Price, nil
}

// Cached is a read-through cache in front of another oracle. When redis is
// configured entries are shared across processes; otherwise a process-local
// map with the same TTL is used.
type Cached struct {
	inner PriceOracle
	rdb   *redis.Client
	ttl   time.Duration
	log   *logger.Logger

	mu    sync.RWMutex
	local map[string]cachedPrice
}

type cachedPrice struct {
	price   float64
	expires time.Time
}

// NewCached wraps an oracle with caching. rdb may be nil.
func NewCached(inner PriceOracle, rdb *redis.Client, ttl time.Duration, log *logger.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = logger.NewDefault("price-cache")
	}
	return &Cached{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		log:   log,
		local: make(map[string]cachedPrice),
	}
}

func cacheKey(network string) string {
	return "price:" + strings.ToLower(network)
}

func (c *Cached) Price(ctx context.Context, network string) (float64, error) {
	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, cacheKey(network)).Result(); err == nil {
			if price, err := strconv.ParseFloat(raw, 64); err == nil {
				return price, nil
			}
		}
	} else {
		c.mu.RLock()
		entry, ok := c.local[cacheKey(network)]
		c.mu.RUnlock()
		if ok && time.Now().Before(entry.expires) {
			return entry.price, nil
		}
	}

	price, err := c.inner.Price(ctx, network)
	if err != nil {
		return 0, err
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, cacheKey(network), strconv.FormatFloat(price, 'f', -1, 64), c.ttl).Err(); err != nil {
			c.log.WithError(err).WithField("network", network).Warn("cache price write failed")
		}
	} else {
		c.mu.Lock()
		c.local[cacheKey(network)] = cachedPrice{price: price, expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return price, nil
}
