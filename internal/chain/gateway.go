// Package chain provides escrow contract interaction for the pledge layer.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Escrow is the on-chain escrow record for a goal, keyed by the goal's
// escrow hash.
type Escrow struct {
	Exists    bool      `json:"exists"`
	Amount    float64   `json:"amount"`
	Completed bool      `json:"completed"`
	Claimed   bool      `json:"claimed"`
	Deadline  time.Time `json:"deadline"`
}

// CommitParams describes an escrow commitment.
type CommitParams struct {
	GoalHash string
	Staker   string
	Amount   float64
	Deadline time.Time
}

// Gateway reads and writes escrow records.
type Gateway interface {
	ReadEscrow(ctx context.Context, goalHash string) (Escrow, error)
	Commit(ctx context.Context, params CommitParams) (string, error)
	MarkCompleted(ctx context.Context, goalHash string, byAI bool) (string, error)
}

// Client is a JSON-RPC client for the escrow contract node.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// NewClient creates an escrow gateway client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

var _ Gateway = (*Client)(nil)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes an RPC call to the escrow node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// ReadEscrow fetches the escrow record for a goal hash. A missing record is
// not an error; it is reported as Exists == false.
func (c *Client) ReadEscrow(ctx context.Context, goalHash string) (Escrow, error) {
	result, err := c.Call(ctx, "escrow_get", []interface{}{goalHash})
	if err != nil {
		return Escrow{}, err
	}

	var esc Escrow
	if err := json.Unmarshal(result, &esc); err != nil {
		return Escrow{}, fmt.Errorf("unmarshal escrow: %w", err)
	}
	return esc, nil
}

// Commit stakes funds into the escrow record and returns the transaction
// hash.
func (c *Client) Commit(ctx context.Context, params CommitParams) (string, error) {
	result, err := c.Call(ctx, "escrow_commit", []interface{}{
		params.GoalHash, params.Staker, params.Amount, params.Deadline.UTC().Unix(),
	})
	if err != nil {
		return "", err
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("unmarshal commit result: %w", err)
	}
	return txHash, nil
}

// Balance reads the native balance of an address through the node. The node
// routes the query to the named network.
func (c *Client) Balance(ctx context.Context, network, address string) (float64, error) {
	result, err := c.Call(ctx, "wallet_getBalance", []interface{}{network, address})
	if err != nil {
		return 0, err
	}

	var balance float64
	if err := json.Unmarshal(result, &balance); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return balance, nil
}

// MarkCompleted flags the escrow record as completed on-chain.
func (c *Client) MarkCompleted(ctx context.Context, goalHash string, byAI bool) (string, error) {
	result, err := c.Call(ctx, "escrow_mark_completed", []interface{}{goalHash, byAI})
	if err != nil {
		return "", err
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("unmarshal completion result: %w", err)
	}
	return txHash, nil
}
