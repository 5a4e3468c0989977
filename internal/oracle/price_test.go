package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("network") != "ethereum" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected auth header, got %q", got)
		}
		w.Write([]byte(`{"price_usd": 2500.5}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "token", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	price, err := fetcher.Price(context.Background(), "Ethereum")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 2500.5 {
		t.Fatalf("unexpected price %v", price)
	}
}

func TestHTTPFetcherRejectsBadResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price_usd": 0}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if _, err := fetcher.Price(context.Background(), "ethereum"); err == nil {
		t.Fatal("expected error for non-positive price")
	}
}

func TestCachedServesFromLocalCache(t *testing.T) {
	var calls atomic.Int64
	inner := PriceFunc(func(_ context.Context, network string) (float64, error) {
		calls.Add(1)
		return 10, nil
	})

	cached := NewCached(inner, nil, time.Minute, nil)
	for i := 0; i < 3; i++ {
		price, err := cached.Price(context.Background(), "ethereum")
		if err != nil {
			t.Fatalf("price: %v", err)
		}
		if price != 10 {
			t.Fatalf("unexpected price %v", price)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
}

func TestStatic(t *testing.T) {
	prices := Static{"ethereum": 2500}
	if price, err := prices.Price(context.Background(), "ETHEREUM"); err != nil || price != 2500 {
		t.Fatalf("price=%v err=%v", price, err)
	}
	if _, err := prices.Price(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error for unknown network")
	}
}
