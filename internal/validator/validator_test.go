package validator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
)

func TestValidateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected auth header, got %q", got)
		}
		w.Write([]byte(`{
			"can_complete": false,
			"reason": "not enough evidence",
			"confidence": 0.73,
			"suggestions": ["log your workouts", "add photos"]
		}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "token", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	verdict, err := client.ValidateCompletion(context.Background(), SnapshotOf(goal.Goal{ID: "g1", Title: "goal"}))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.CanComplete {
		t.Fatal("expected rejection")
	}
	if verdict.Reason != "not enough evidence" || verdict.Confidence != 0.73 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if len(verdict.Suggestions) != 2 {
		t.Fatalf("unexpected suggestions: %v", verdict.Suggestions)
	}
}

func TestEvaluateRealism(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realism" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"score": 0.6, "summary": "ambitious but feasible"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	score, err := client.EvaluateRealism(context.Background(), goal.Goal{ID: "g1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if score.Score != 0.6 || score.Summary == "" {
		t.Fatalf("unexpected score: %+v", score)
	}
}

func TestServerErrorsAreExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.ValidateCompletion(context.Background(), Snapshot{})
	var external *goal.ExternalServiceError
	if !errors.As(err, &external) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if external.Service != "ai-validator" {
		t.Fatalf("unexpected service: %s", external.Service)
	}
}

func TestClientErrorsAreNotExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.ValidateCompletion(context.Background(), Snapshot{})
	if err == nil {
		t.Fatal("expected error")
	}
	var external *goal.ExternalServiceError
	if errors.As(err, &external) {
		t.Fatal("4xx must not trigger the completion fallback")
	}
}
