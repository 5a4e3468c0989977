// Package keystore wraps the custodial key service. Private key material
// lives behind the service boundary; callers only ever see opaque key
// references, addresses and transaction hashes.
package keystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/goalstake/pledge_layer/pkg/logger"
)

// KeyPair is the public half of a generated custodial keypair.
type KeyPair struct {
	KeyRef  string
	Address string
}

// KeyStore generates keypairs and signs and broadcasts transfers.
type KeyStore interface {
	Generate(ctx context.Context, network string) (KeyPair, error)
	Transfer(ctx context.Context, keyRef, toAddress string, amount float64, network string) (string, error)
	EstimateFee(ctx context.Context, network string) (float64, error)
}

// HTTPClient talks to the key service over HTTP.
type HTTPClient struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPClient constructs a key store client for the given endpoint.
func NewHTTPClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("keystore endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse keystore endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("keystore")
	}
	return &HTTPClient{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

var _ KeyStore = (*HTTPClient)(nil)

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	requestURL := *c.endpoint
	requestURL.Path = strings.TrimRight(requestURL.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL.String(), bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("keystore request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	parsed := gjson.ParseBytes(raw)

	if resp.StatusCode != http.StatusOK {
		msg := parsed.Get("error").String()
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return gjson.Result{}, fmt.Errorf("keystore %s: %s", path, msg)
	}
	return parsed, nil
}

func (c *HTTPClient) Generate(ctx context.Context, network string) (KeyPair, error) {
	result, err := c.post(ctx, "/keys", map[string]string{"network": strings.ToLower(network)})
	if err != nil {
		return KeyPair{}, err
	}
	pair := KeyPair{
		KeyRef:  result.Get("key_ref").String(),
		Address: result.Get("address").String(),
	}
	if pair.KeyRef == "" || pair.Address == "" {
		return KeyPair{}, fmt.Errorf("keystore returned incomplete keypair")
	}
	return pair, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, keyRef, toAddress string, amount float64, network string) (string, error) {
	result, err := c.post(ctx, "/transfers", map[string]interface{}{
		"key_ref": keyRef,
		"to":      toAddress,
		"amount":  amount,
		"network": strings.ToLower(network),
	})
	if err != nil {
		return "", err
	}
	txHash := result.Get("tx_hash").String()
	if txHash == "" {
		return "", fmt.Errorf("keystore returned no transaction hash")
	}
	return txHash, nil
}

func (c *HTTPClient) EstimateFee(ctx context.Context, network string) (float64, error) {
	result, err := c.post(ctx, "/fees/estimate", map[string]string{"network": strings.ToLower(network)})
	if err != nil {
		return 0, err
	}
	fee := result.Get("fee").Float()
	if fee < 0 {
		return 0, fmt.Errorf("keystore returned negative fee")
	}
	return fee, nil
}
