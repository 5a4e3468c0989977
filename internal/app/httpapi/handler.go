// Package httpapi exposes the pledge layer REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	app "github.com/goalstake/pledge_layer/internal/app"
	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/app/metrics"
	goalssvc "github.com/goalstake/pledge_layer/internal/app/services/goals"
	monitorsvc "github.com/goalstake/pledge_layer/internal/app/services/monitor"
	refundsvc "github.com/goalstake/pledge_layer/internal/app/services/refund"
	"github.com/goalstake/pledge_layer/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/goals", h.goals)
	mux.HandleFunc("/goals/", h.goalResources)
	mux.HandleFunc("/wallets/", h.walletResources)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	var root http.Handler = metrics.InstrumentHandler(mux)
	if cors := corsFromEnv(); cors != nil {
		root = cors.Handler(root)
	}
	return root
}

func (h *handler) goals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			OwnerID     string    `json:"owner_id"`
			Title       string    `json:"title"`
			Description string    `json:"description"`
			Deadline    time.Time `json:"deadline"`
			Network     string    `json:"network"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		g, err := h.app.Goals.Create(r.Context(), payload.OwnerID, payload.Title, payload.Description, payload.Deadline, payload.Network)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, goalView(g))

	case http.MethodGet:
		gs, err := h.app.Goals.List(r.Context(), r.URL.Query().Get("owner_id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		views := make([]map[string]interface{}, 0, len(gs))
		for _, g := range gs {
			views = append(views, goalView(g))
		}
		writeJSON(w, http.StatusOK, views)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) goalResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/goals"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	goalID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			g, err := h.app.Goals.Get(r.Context(), goalID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, goalView(g))
		case http.MethodDelete:
			if err := h.app.Goals.Delete(r.Context(), goalID); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "status":
		h.goalStatus(w, r, goalID)
	case "difficulty":
		h.goalDifficulty(w, r, goalID)
	case "mark-complete":
		h.goalMarkComplete(w, r, goalID)
	case "refund":
		h.goalRefund(w, r, goalID)
	case "refund-status":
		h.goalRefundStatus(w, r, goalID)
	case "refund-attempts":
		h.goalRefundAttempts(w, r, goalID)
	case "escrow":
		h.goalEscrow(w, r, goalID)
	case "evaluate":
		h.goalEvaluate(w, r, goalID)
	case "progress":
		h.goalProgress(w, r, goalID)
	case "wallets":
		h.goalWallets(w, r, goalID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) goalStatus(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := goal.ParseStatus(payload.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := h.app.Goals.UpdateStatus(r.Context(), goalID, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goalView(g))
}

func (h *handler) goalDifficulty(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Difficulty string `json:"difficulty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tier, err := goal.ParseTier(payload.Difficulty)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := h.app.Goals.SetTier(r.Context(), goalID, tier)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goalView(g))
}

func (h *handler) goalMarkComplete(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := h.app.Goals.RequestCompletion(r.Context(), goalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"goal":             goalView(result.Goal),
		"ai_validation":    result.Verdict,
		"fallback":         result.Fallback,
		"completion_stats": map[string]interface{}{"completion_rate": result.CompletionRate},
		"blockchain":       result.Blockchain,
	})
}

func (h *handler) goalRefund(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.app.Refunds.Execute(r.Context(), goalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) goalRefundStatus(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := h.app.Refunds.Status(r.Context(), goalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) goalRefundAttempts(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	attempts, err := h.app.Refunds.Attempts(r.Context(), goalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *handler) goalEscrow(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Staker     string  `json:"staker"`
		Amount     float64 `json:"amount"`
		Difficulty string  `json:"difficulty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tier, err := goal.ParseTier(payload.Difficulty)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, txHash, err := h.app.Goals.CommitEscrow(r.Context(), goalID, payload.Staker, payload.Amount, tier)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"goal":    goalView(g),
		"tx_hash": txHash,
	})
}

func (h *handler) goalEvaluate(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	score, err := h.app.Goals.EvaluateRealism(r.Context(), goalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *handler) goalProgress(w http.ResponseWriter, r *http.Request, goalID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		TasksTotal     int `json:"tasks_total"`
		TasksCompleted int `json:"tasks_completed"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := h.app.Goals.UpdateProgress(r.Context(), goalID, payload.TasksTotal, payload.TasksCompleted)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goalView(g))
}

func (h *handler) goalWallets(w http.ResponseWriter, r *http.Request, goalID string) {
	switch r.Method {
	case http.MethodGet:
		ws, err := h.app.Goals.Wallets(r.Context(), goalID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		views := make([]map[string]interface{}, 0, len(ws))
		for _, wal := range ws {
			views = append(views, walletView(wal))
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		var payload struct {
			Network string `json:"network"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		wal, err := h.app.Goals.EnsureWallet(r.Context(), goalID, payload.Network)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, walletView(wal))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) walletResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/wallets"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	walletID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		wal, err := h.app.Goals.GetWallet(r.Context(), walletID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, walletView(wal))
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "monitoring-status":
		h.walletMonitoring(w, r, walletID)
	case "balance":
		h.walletBalance(w, r, walletID)
	case "refund-address":
		h.walletRefundAddress(w, r, walletID)
	case "events":
		h.walletEvents(w, r, walletID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) walletMonitoring(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, err := h.app.Monitor.StartMonitoring(r.Context(), walletID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet_id":  sess.WalletID,
		"goal_id":    sess.GoalID,
		"duration":   "30 minutes",
		"interval":   "30 seconds",
		"expires_at": sess.ExpiresAt,
	})
}

func (h *handler) walletBalance(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Balance float64 `json:"balance"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wal, err := h.app.Goals.UpdateWalletBalance(r.Context(), walletID, payload.Balance)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletView(wal))
}

func (h *handler) walletRefundAddress(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		RefundAddress string `json:"refund_address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wal, err := h.app.Goals.SetRefundAddress(r.Context(), walletID, payload.RefundAddress)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletView(wal))
}

// goalView shapes a goal for JSON responses; the escrow hash is derived, not
// stored.
func goalView(g goal.Goal) map[string]interface{} {
	view := map[string]interface{}{
		"id":              g.ID,
		"owner_id":        g.OwnerID,
		"title":           g.Title,
		"description":     g.Description,
		"status":          g.Status,
		"difficulty":      g.Tier,
		"escrow_hash":     g.EscrowHash(),
		"tasks_total":     g.TasksTotal,
		"tasks_completed": g.TasksCompleted,
		"created_at":      g.CreatedAt,
		"updated_at":      g.UpdatedAt,
	}
	if !g.Deadline.IsZero() {
		view["deadline"] = g.Deadline
	}
	if g.LastCompletionAttemptAt != nil {
		view["last_completion_attempt_at"] = g.LastCompletionAttemptAt
	}
	return view
}

// walletView shapes a wallet for JSON responses. The key reference stays
// internal.
func walletView(w wallet.CustodialWallet) map[string]interface{} {
	view := map[string]interface{}{
		"id":                  w.ID,
		"goal_id":             w.GoalID,
		"network":             w.Network,
		"address":             w.Address,
		"last_balance":        w.LastBalance,
		"last_balance_update": w.LastBalanceUpdate,
		"created_at":          w.CreatedAt,
		"updated_at":          w.UpdatedAt,
	}
	if w.RefundAddress != "" {
		view["refund_address"] = w.RefundAddress
	}
	return view
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeServiceError maps domain errors onto HTTP statuses and enriches the
// payload where the error carries structured detail.
func writeServiceError(w http.ResponseWriter, err error) {
	var rateLimited *goal.RateLimitedError
	if errors.As(err, &rateLimited) {
		writeJSONError(w, http.StatusTooManyRequests, err, map[string]interface{}{
			"hours_remaining":         rateLimited.HoursRemaining,
			"next_attempt_allowed_at": rateLimited.NextAttemptAllowedAt,
		})
		return
	}

	var rejected *goalssvc.ValidationRejectedError
	if errors.As(err, &rejected) {
		writeJSONError(w, http.StatusBadRequest, err, map[string]interface{}{
			"reason":             rejected.Verdict.Reason,
			"suggestions":        rejected.Verdict.Suggestions,
			"validation_details": rejected.Verdict,
		})
		return
	}

	var fallback *goal.FallbackRejectedError
	if errors.As(err, &fallback) {
		writeJSONError(w, http.StatusServiceUnavailable, err, map[string]interface{}{
			"completion_rate": fallback.CompletionRate,
		})
		return
	}

	var external *goal.ExternalServiceError
	if errors.As(err, &external) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, monitorsvc.ErrStartThrottled):
		writeError(w, http.StatusTooManyRequests, err)
	default:
		var invalid *goal.InvalidTransitionError
		var locked *goal.TierLockedError
		var unfunded *goal.NotFundedError
		switch {
		case errors.As(err, &invalid),
			errors.As(err, &locked),
			errors.As(err, &unfunded),
			errors.Is(err, monitorsvc.ErrGoalNotActive),
			errors.Is(err, refundsvc.ErrNotCompleted),
			errors.Is(err, refundsvc.ErrNoEligibleWallets):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w", err))
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, err error, detail map[string]interface{}) {
	payload := map[string]interface{}{"error": err.Error()}
	for k, v := range detail {
		payload[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
