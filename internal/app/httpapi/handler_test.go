package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/goalstake/pledge_layer/internal/app"
	"github.com/goalstake/pledge_layer/internal/app/services/monitor"
	"github.com/goalstake/pledge_layer/internal/validator"
)

func newTestServer(t *testing.T, collab app.Collaborators) *httptest.Server {
	t.Helper()
	application, err := app.New(app.Stores{}, collab, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	srv := httptest.NewServer(NewHandler(application))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createGoal(t *testing.T, baseURL string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/goals", map[string]interface{}{
		"owner_id": "owner",
		"title":    "read 12 books",
		"network":  "ethereum",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create goal: status %d body %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("missing goal id: %v", body)
	}
	return id
}

func goalWalletID(t *testing.T, baseURL, goalID string) string {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/goals/%s/wallets", baseURL, goalID))
	if err != nil {
		t.Fatalf("list wallets: %v", err)
	}
	defer resp.Body.Close()
	var wallets []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&wallets); err != nil {
		t.Fatalf("decode wallets: %v", err)
	}
	if len(wallets) == 0 {
		t.Fatal("expected a provisioned wallet")
	}
	id, _ := wallets[0]["id"].(string)
	return id
}

func TestGoalLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, app.Collaborators{})
	goalID := createGoal(t, srv.URL)
	walletID := goalWalletID(t, srv.URL, goalID)

	// An unfunded goal cannot move forward.
	resp, body := doJSON(t, http.MethodPatch, srv.URL+"/goals/"+goalID+"/status", map[string]string{"status": "funded"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unfunded transition: status %d body %v", resp.StatusCode, body)
	}

	// Fund the wallet, then walk pending -> funded -> active.
	if resp, body = doJSON(t, http.MethodPatch, srv.URL+"/wallets/"+walletID+"/balance", map[string]float64{"balance": 0.5}); resp.StatusCode != http.StatusOK {
		t.Fatalf("set balance: status %d body %v", resp.StatusCode, body)
	}
	for _, status := range []string{"funded", "active"} {
		if resp, body = doJSON(t, http.MethodPatch, srv.URL+"/goals/"+goalID+"/status", map[string]string{"status": status}); resp.StatusCode != http.StatusOK {
			t.Fatalf("to %s: status %d body %v", status, resp.StatusCode, body)
		}
	}

	// Mark complete with the permissive default validator.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/mark-complete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark complete: status %d body %v", resp.StatusCode, body)
	}
	goalBody, _ := body["goal"].(map[string]interface{})
	if goalBody["status"] != "completed" {
		t.Fatalf("expected completed goal, got %v", goalBody)
	}

	// An immediate retry is rate limited with structured detail.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/mark-complete", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("retry on completed goal: status %d body %v", resp.StatusCode, body)
	}
}

func TestMarkCompleteRateLimitedResponse(t *testing.T) {
	// A rejecting validator keeps the goal active while consuming the
	// completion window.
	srv := newTestServer(t, app.Collaborators{
		Validator: &validator.Mock{Verdict: validator.Verdict{CanComplete: false, Reason: "no evidence"}},
	})
	goalID := createGoal(t, srv.URL)

	// Easy difficulty activates the goal without a funding check.
	resp, body := doJSON(t, http.MethodPatch, srv.URL+"/goals/"+goalID+"/difficulty", map[string]string{"difficulty": "easy"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set difficulty: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/mark-complete", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("rejected attempt: status %d body %v", resp.StatusCode, body)
	}
	if body["reason"] != "no evidence" {
		t.Fatalf("missing rejection reason: %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/mark-complete", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second attempt: status %d body %v", resp.StatusCode, body)
	}
	if _, ok := body["hours_remaining"]; !ok {
		t.Fatalf("missing hours_remaining: %v", body)
	}
	if _, ok := body["next_attempt_allowed_at"]; !ok {
		t.Fatalf("missing next_attempt_allowed_at: %v", body)
	}
}

func TestRefundFlowOverHTTP(t *testing.T) {
	// An unreachable live reader forces refunds onto the cached balances
	// written through the API.
	srv := newTestServer(t, app.Collaborators{
		Balances: monitor.BalanceReaderFunc(func(context.Context, string, string) (float64, error) {
			return 0, errors.New("rpc unavailable")
		}),
	})
	goalID := createGoal(t, srv.URL)
	walletID := goalWalletID(t, srv.URL, goalID)

	// Refunds require a completed goal.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/refund", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("refund on pending goal: status %d body %v", resp.StatusCode, body)
	}

	if resp, body = doJSON(t, http.MethodPatch, srv.URL+"/wallets/"+walletID+"/balance", map[string]float64{"balance": 1.5}); resp.StatusCode != http.StatusOK {
		t.Fatalf("set balance: status %d body %v", resp.StatusCode, body)
	}
	if resp, body = doJSON(t, http.MethodPatch, srv.URL+"/wallets/"+walletID+"/refund-address", map[string]string{"refund_address": "0xdest"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("set refund address: status %d body %v", resp.StatusCode, body)
	}
	for _, status := range []string{"funded", "active"} {
		if resp, body = doJSON(t, http.MethodPatch, srv.URL+"/goals/"+goalID+"/status", map[string]string{"status": status}); resp.StatusCode != http.StatusOK {
			t.Fatalf("to %s: status %d body %v", status, resp.StatusCode, body)
		}
	}
	if resp, body = doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/mark-complete", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("mark complete: status %d body %v", resp.StatusCode, body)
	}

	// Status is a pure read with per-wallet estimates.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/goals/"+goalID+"/refund-status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refund status: status %d body %v", resp.StatusCode, body)
	}
	if eligible, _ := body["eligible"].(bool); !eligible {
		t.Fatalf("expected refund eligibility: %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/refund", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refund: status %d body %v", resp.StatusCode, body)
	}
	if got := body["successful_refunds"].(float64); got != 1 {
		t.Fatalf("expected 1 successful refund, got %v", body)
	}

	// The audit trail is queryable.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/goals/"+goalID+"/refund-attempts", nil)
	auditResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refund attempts: %v", err)
	}
	defer auditResp.Body.Close()
	var attempts []map[string]interface{}
	if err := json.NewDecoder(auditResp.Body).Decode(&attempts); err != nil {
		t.Fatalf("decode attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(attempts))
	}
}

func TestEscrowCommitOverHTTP(t *testing.T) {
	srv := newTestServer(t, app.Collaborators{})
	goalID := createGoal(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/goals/"+goalID+"/escrow", map[string]interface{}{
		"staker":     "0xstaker",
		"amount":     100,
		"difficulty": "medium",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("escrow: status %d body %v", resp.StatusCode, body)
	}
	if body["tx_hash"] == "" {
		t.Fatalf("missing tx hash: %v", body)
	}
	goalBody, _ := body["goal"].(map[string]interface{})
	if goalBody["difficulty"] != "medium" {
		t.Fatalf("expected medium difficulty, got %v", goalBody)
	}

	// Escrowed goals cannot be deleted.
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/goals/"+goalID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected delete rejection, got %d", delResp.StatusCode)
	}
}

func TestUnknownGoalReturns404(t *testing.T) {
	srv := newTestServer(t, app.Collaborators{})
	resp, err := http.Get(srv.URL + "/goals/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, app.Collaborators{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
