// Package validator wraps the AI validation service that scores goal realism
// and judges completion requests.
package validator

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

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

// RealismScore is the validator's judgement of a newly-submitted goal.
type RealismScore struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// Verdict is the validator's judgement of a completion request.
type Verdict struct {
	CanComplete bool     `json:"can_complete"`
	Reason      string   `json:"reason"`
	Confidence  float64  `json:"confidence"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Snapshot is the goal state handed to the validator for completion
// judgement.
type Snapshot struct {
	GoalID         string    `json:"goal_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Deadline       time.Time `json:"deadline"`
	TasksTotal     int       `json:"tasks_total"`
	TasksCompleted int       `json:"tasks_completed"`
}

// SnapshotOf builds a validation snapshot from a goal.
func SnapshotOf(g goal.Goal) Snapshot {
	return Snapshot{
		GoalID:         g.ID,
		Title:          g.Title,
		Description:    g.Description,
		Deadline:       g.Deadline,
		TasksTotal:     g.TasksTotal,
		TasksCompleted: g.TasksCompleted,
	}
}

// Validator is the AI validation contract.
type Validator interface {
	EvaluateRealism(ctx context.Context, g goal.Goal) (RealismScore, error)
	ValidateCompletion(ctx context.Context, snap Snapshot) (Verdict, error)
}

// HTTPClient talks to the validation service over HTTP.
type HTTPClient struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPClient constructs a validator client for the given endpoint.
func NewHTTPClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("validator endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse validator endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("ai-validator")
	}
	return &HTTPClient{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

var _ Validator = (*HTTPClient)(nil)

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
		return gjson.Result{}, &goal.ExternalServiceError{Service: "ai-validator", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &goal.ExternalServiceError{Service: "ai-validator", Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return gjson.Result{}, &goal.ExternalServiceError{
			Service: "ai-validator",
			Err:     fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("validator %s: status %d", path, resp.StatusCode)
	}
	return gjson.ParseBytes(raw), nil
}

func (c *HTTPClient) EvaluateRealism(ctx context.Context, g goal.Goal) (RealismScore, error) {
	result, err := c.post(ctx, "/realism", map[string]interface{}{
		"goal_id":     g.ID,
		"title":       g.Title,
		"description": g.Description,
		"deadline":    g.Deadline,
	})
	if err != nil {
		return RealismScore{}, err
	}
	return RealismScore{
		Score:   result.Get("score").Float(),
		Summary: result.Get("summary").String(),
	}, nil
}

func (c *HTTPClient) ValidateCompletion(ctx context.Context, snap Snapshot) (Verdict, error) {
	result, err := c.post(ctx, "/completion", snap)
	if err != nil {
		return Verdict{}, err
	}
	verdict := Verdict{
		CanComplete: result.Get("can_complete").Bool(),
		Reason:      result.Get("reason").String(),
		Confidence:  result.Get("confidence").Float(),
	}
	for _, s := range result.Get("suggestions").Array() {
		verdict.Suggestions = append(verdict.Suggestions, s.String())
	}
	return verdict, nil
}

// Mock is a deterministic Validator for tests and local development.
type Mock struct {
	Realism RealismScore
	Verdict Verdict
	Err     error
}

var _ Validator = (*Mock)(nil)

func (m *Mock) EvaluateRealism(context.Context, goal.Goal) (RealismScore, error) {
	if m.Err != nil {
		return RealismScore{}, m.Err
	}
	return m.Realism, nil
}

func (m *Mock) ValidateCompletion(context.Context, Snapshot) (Verdict, error) {
	if m.Err != nil {
		return Verdict{}, m.Err
	}
	return m.Verdict, nil
}
