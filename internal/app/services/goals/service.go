// Package goals owns the goal lifecycle: status transitions, the difficulty
// tier lattice, escrow commitment and completion validation.
package goals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/app/metrics"
	"github.com/goalstake/pledge_layer/internal/app/services/funding"
	"github.com/goalstake/pledge_layer/internal/app/storage"
	"github.com/goalstake/pledge_layer/internal/chain"
	"github.com/goalstake/pledge_layer/internal/keystore"
	"github.com/goalstake/pledge_layer/internal/validator"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

// completionAttemptWindow is the minimum spacing between mark-complete
// requests for one goal. An attempt counts even when validation rejects it.
const completionAttemptWindow = 24 * time.Hour

// fallbackCompletionThreshold is the task completion rate that marks a goal
// completed when the AI validator is unreachable.
const fallbackCompletionThreshold = 0.8

// Service is the goal state machine.
type Service struct {
	goals   storage.GoalStore
	wallets storage.WalletStore
	oracles *funding.Selector
	gateway chain.Gateway
	keys    keystore.KeyStore
	ai      validator.Validator
	log     *logger.Logger
	now     func() time.Time
}

// New creates a configured goal service.
func New(goals storage.GoalStore, wallets storage.WalletStore, oracles *funding.Selector, gateway chain.Gateway, keys keystore.KeyStore, ai validator.Validator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("goals")
	}
	return &Service{
		goals:   goals,
		wallets: wallets,
		oracles: oracles,
		gateway: gateway,
		keys:    keys,
		ai:      ai,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers a new goal in pending status with an unset tier and
// provisions its first custodial wallet.
func (s *Service) Create(ctx context.Context, ownerID, title, description string, deadline time.Time, network string) (goal.Goal, error) {
	ownerID = strings.TrimSpace(ownerID)
	title = strings.TrimSpace(title)
	network = strings.ToLower(strings.TrimSpace(network))

	if ownerID == "" {
		return goal.Goal{}, fmt.Errorf("owner_id is required")
	}
	if title == "" {
		return goal.Goal{}, fmt.Errorf("title is required")
	}
	if network == "" {
		return goal.Goal{}, fmt.Errorf("network is required")
	}
	if !deadline.IsZero() && deadline.Before(s.now()) {
		return goal.Goal{}, fmt.Errorf("deadline must be in the future")
	}

	g, err := s.goals.CreateGoal(ctx, goal.Goal{
		OwnerID:     ownerID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      goal.StatusPending,
		Tier:        goal.TierUnset,
		Deadline:    deadline,
	})
	if err != nil {
		return goal.Goal{}, err
	}

	if _, err := s.EnsureWallet(ctx, g.ID, network); err != nil {
		s.log.WithError(err).WithField("goal_id", g.ID).Warn("initial wallet provisioning failed")
	}

	s.log.WithField("goal_id", g.ID).WithField("owner_id", ownerID).Info("goal created")
	return g, nil
}

// Get returns a goal by ID.
func (s *Service) Get(ctx context.Context, id string) (goal.Goal, error) {
	return s.goals.GetGoal(ctx, id)
}

// List returns goals, optionally filtered by owner.
func (s *Service) List(ctx context.Context, ownerID string) ([]goal.Goal, error) {
	return s.goals.ListGoals(ctx, ownerID)
}

// Wallets returns the custodial wallets of a goal.
func (s *Service) Wallets(ctx context.Context, goalID string) ([]wallet.CustodialWallet, error) {
	if _, err := s.goals.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	return s.wallets.ListWallets(ctx, goalID)
}

// EnsureWallet returns the goal's wallet on the given network, creating it
// through the key store if none exists yet. At most one wallet exists per
// network per goal.
func (s *Service) EnsureWallet(ctx context.Context, goalID, network string) (wallet.CustodialWallet, error) {
	network = strings.ToLower(strings.TrimSpace(network))
	if network == "" {
		return wallet.CustodialWallet{}, fmt.Errorf("network is required")
	}
	if _, err := s.goals.GetGoal(ctx, goalID); err != nil {
		return wallet.CustodialWallet{}, err
	}

	existing, err := s.wallets.ListWallets(ctx, goalID)
	if err != nil {
		return wallet.CustodialWallet{}, err
	}
	for _, w := range existing {
		if w.Network == network {
			return w, nil
		}
	}

	pair, err := s.keys.Generate(ctx, network)
	if err != nil {
		return wallet.CustodialWallet{}, &goal.ExternalServiceError{Service: "keystore", Err: err}
	}

	w, err := s.wallets.CreateWallet(ctx, wallet.CustodialWallet{
		GoalID:  goalID,
		Network: network,
		Address: pair.Address,
		KeyRef:  pair.KeyRef,
	})
	if err != nil {
		return wallet.CustodialWallet{}, err
	}
	s.log.WithField("goal_id", goalID).WithField("network", network).Info("custodial wallet provisioned")
	return w, nil
}

// GetWallet returns a wallet by ID.
func (s *Service) GetWallet(ctx context.Context, walletID string) (wallet.CustodialWallet, error) {
	return s.wallets.GetWallet(ctx, walletID)
}

// UpdateWalletBalance writes the cached balance for a wallet. The write is
// last-write-wins against concurrent poller ticks.
func (s *Service) UpdateWalletBalance(ctx context.Context, walletID string, balance float64) (wallet.CustodialWallet, error) {
	if balance < 0 {
		return wallet.CustodialWallet{}, fmt.Errorf("balance cannot be negative")
	}
	w, err := s.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return wallet.CustodialWallet{}, err
	}
	w.LastBalance = balance
	w.LastBalanceUpdate = s.now().UTC()
	return s.wallets.UpdateWallet(ctx, w)
}

// SetRefundAddress sets the payout destination for a wallet. An empty
// address removes the wallet from refund distribution.
func (s *Service) SetRefundAddress(ctx context.Context, walletID, address string) (wallet.CustodialWallet, error) {
	w, err := s.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return wallet.CustodialWallet{}, err
	}
	w.RefundAddress = strings.TrimSpace(address)
	return s.wallets.UpdateWallet(ctx, w)
}

// Delete removes a goal and its wallets. Goals whose tier reached escrow are
// permanent records and cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	g, err := s.goals.GetGoal(ctx, id)
	if err != nil {
		return err
	}
	if g.Tier.Escrowed() {
		return &goal.TierLockedError{Current: g.Tier, Requested: g.Tier}
	}
	if err := s.wallets.DeleteWalletsForGoal(ctx, id); err != nil {
		return err
	}
	return s.goals.DeleteGoal(ctx, id)
}

// UpdateStatus applies a status transition through the transition table.
// Funding-gated transitions re-check the funding oracle at request time.
func (s *Service) UpdateStatus(ctx context.Context, id string, next goal.Status) (goal.Goal, error) {
	g, err := s.goals.GetGoal(ctx, id)
	if err != nil {
		return goal.Goal{}, err
	}

	if !goal.TransitionAllowed(g.Status, next) {
		return goal.Goal{}, &goal.InvalidTransitionError{From: g.Status, To: next}
	}
	if g.Status == next {
		return g, nil
	}

	switch {
	case next == goal.StatusFunded && g.Status == goal.StatusPending,
		next == goal.StatusActive && g.Status == goal.StatusFunded:
		funded, err := s.isFunded(ctx, g)
		if err != nil {
			return goal.Goal{}, err
		}
		if !funded {
			return goal.Goal{}, &goal.NotFundedError{GoalID: g.ID, Tier: g.Tier}
		}

	case next == goal.StatusCompleted || next == goal.StatusFailed:
		held, err := s.holdsValue(ctx, g)
		if err != nil {
			return goal.Goal{}, err
		}
		if !held {
			return goal.Goal{}, &goal.NotFundedError{GoalID: g.ID, Tier: g.Tier}
		}
	}

	g.Status = next
	updated, err := s.goals.UpdateGoal(ctx, g)
	if err != nil {
		return goal.Goal{}, err
	}
	metrics.RecordStatusTransition(string(next))
	s.log.WithField("goal_id", g.ID).WithField("status", next).Info("goal status updated")
	return updated, nil
}

// SetTier applies a difficulty change through the tier lattice: unset moves
// anywhere, easy only forward, escrowed tiers are immutable. Setting easy on
// a pending or funded goal activates it in the same operation.
func (s *Service) SetTier(ctx context.Context, id string, next goal.Tier) (goal.Goal, error) {
	g, err := s.goals.GetGoal(ctx, id)
	if err != nil {
		return goal.Goal{}, err
	}

	switch {
	case g.Tier == next:
		return g, nil
	case g.Tier == goal.TierUnset:
		// any tier accepted
	case g.Tier == goal.TierEasy && next.Escrowed():
		// upgrade accepted
	default:
		return goal.Goal{}, &goal.TierLockedError{Current: g.Tier, Requested: next}
	}

	g.Tier = next
	if next == goal.TierEasy && (g.Status == goal.StatusPending || g.Status == goal.StatusFunded) {
		g.Status = goal.StatusActive
	}

	updated, err := s.goals.UpdateGoal(ctx, g)
	if err != nil {
		return goal.Goal{}, err
	}
	s.log.WithField("goal_id", g.ID).WithField("tier", next).Info("goal difficulty updated")
	return updated, nil
}

// CommitEscrow stakes funds on-chain for the goal and raises its tier.
func (s *Service) CommitEscrow(ctx context.Context, id, staker string, amount float64, tier goal.Tier) (goal.Goal, string, error) {
	if !tier.Escrowed() {
		return goal.Goal{}, "", fmt.Errorf("escrow commitment requires an escrowed difficulty")
	}
	if amount <= 0 {
		return goal.Goal{}, "", fmt.Errorf("stake amount must be positive")
	}

	g, err := s.goals.GetGoal(ctx, id)
	if err != nil {
		return goal.Goal{}, "", err
	}
	if g.Tier.Escrowed() && g.Tier != tier {
		return goal.Goal{}, "", &goal.TierLockedError{Current: g.Tier, Requested: tier}
	}

	txHash, err := s.gateway.Commit(ctx, chain.CommitParams{
		GoalHash: g.EscrowHash(),
		Staker:   strings.TrimSpace(staker),
		Amount:   amount,
		Deadline: g.Deadline,
	})
	if err != nil {
		return goal.Goal{}, "", &goal.ExternalServiceError{Service: "blockchain-gateway", Err: err}
	}

	updated, err := s.SetTier(ctx, id, tier)
	if err != nil {
		return goal.Goal{}, "", err
	}
	s.log.WithField("goal_id", id).WithField("tx_hash", txHash).Info("escrow committed")
	return updated, txHash, nil
}

// UpdateProgress records task completion counters used by the completion
// fallback.
func (s *Service) UpdateProgress(ctx context.Context, id string, total, completed int) (goal.Goal, error) {
	if total < 0 || completed < 0 || completed > total {
		return goal.Goal{}, fmt.Errorf("invalid progress counters")
	}
	g, err := s.goals.GetGoal(ctx, id)
	if err != nil {
		return goal.Goal{}, err
	}
	g.TasksTotal = total
	g.TasksCompleted = completed
	return s.goals.UpdateGoal(ctx, g)
}

// EvaluateRealism asks the AI validator to score a goal.
func (s *Service) EvaluateRealism(ctx context.Context, id string) (validator.RealismScore, error) {
	g, err := s.goals.GetGoal(ctx, id)
	if err != nil {
		return validator.RealismScore{}, err
	}
	return s.ai.EvaluateRealism(ctx, g)
}

// BlockchainSync reports the outcome of the on-chain completion flag write.
// A failed sync never rolls back the off-chain completed status.
type BlockchainSync struct {
	Attempted bool   `json:"attempted"`
	Synced    bool   `json:"synced"`
	TxHash    string `json:"tx_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CompletionResult is the outcome of a mark-complete request.
type CompletionResult struct {
	Goal           goal.Goal         `json:"goal"`
	Verdict        validator.Verdict `json:"ai_validation"`
	Fallback       bool              `json:"fallback"`
	CompletionRate float64           `json:"completion_rate"`
	Blockchain     BlockchainSync    `json:"blockchain"`
}

// RequestCompletion validates and applies goal completion. The attempt
// timestamp is recorded before the validator is consulted, so a rejected
// validation still consumes the 24h window.
func (s *Service) RequestCompletion(ctx context.Context, id string) (CompletionResult, error) {
	g, err := s.goals.GetGoal(ctx, id)
	if err != nil {
		return CompletionResult{}, err
	}

	if g.Status.Terminal() || g.Status == goal.StatusPending {
		return CompletionResult{}, &goal.InvalidTransitionError{From: g.Status, To: goal.StatusCompleted}
	}

	now := s.now()
	if g.LastCompletionAttemptAt != nil {
		elapsed := now.Sub(*g.LastCompletionAttemptAt)
		if elapsed < completionAttemptWindow {
			remaining := completionAttemptWindow - elapsed
			metrics.RecordCompletionAttempt("rate_limited")
			return CompletionResult{}, &goal.RateLimitedError{
				HoursRemaining:       int(math.Ceil(remaining.Hours())),
				NextAttemptAllowedAt: g.LastCompletionAttemptAt.Add(completionAttemptWindow),
			}
		}
	}

	attemptAt := now
	g.LastCompletionAttemptAt = &attemptAt
	if g, err = s.goals.UpdateGoal(ctx, g); err != nil {
		return CompletionResult{}, err
	}

	verdict, err := s.ai.ValidateCompletion(ctx, validator.SnapshotOf(g))
	if err != nil {
		var external *goal.ExternalServiceError
		if errors.As(err, &external) {
			return s.fallbackCompletion(ctx, g)
		}
		return CompletionResult{}, err
	}

	result := CompletionResult{
		Verdict:        verdict,
		CompletionRate: g.CompletionRate(),
	}
	if !verdict.CanComplete {
		result.Goal = g
		metrics.RecordCompletionAttempt("rejected")
		return result, &ValidationRejectedError{Verdict: verdict}
	}

	g.Status = goal.StatusCompleted
	if g, err = s.goals.UpdateGoal(ctx, g); err != nil {
		return CompletionResult{}, err
	}
	result.Goal = g
	result.Blockchain = s.syncCompletion(ctx, g)

	metrics.RecordCompletionAttempt("accepted")
	metrics.RecordStatusTransition(string(goal.StatusCompleted))
	s.log.WithField("goal_id", g.ID).Info("goal completed")
	return result, nil
}

// fallbackCompletion applies the deterministic task-completion-rate policy
// when the validator is unreachable.
func (s *Service) fallbackCompletion(ctx context.Context, g goal.Goal) (CompletionResult, error) {
	rate := g.CompletionRate()
	if rate < fallbackCompletionThreshold {
		metrics.RecordCompletionAttempt("error")
		return CompletionResult{}, &goal.FallbackRejectedError{
			CompletionRate: rate,
			Threshold:      fallbackCompletionThreshold,
		}
	}

	g.Status = goal.StatusCompleted
	g, err := s.goals.UpdateGoal(ctx, g)
	if err != nil {
		return CompletionResult{}, err
	}

	metrics.RecordCompletionAttempt("fallback")
	s.log.WithField("goal_id", g.ID).
		WithField("completion_rate", rate).
		Warn("goal completed via fallback, validator unreachable")

	return CompletionResult{
		Goal:           g,
		Fallback:       true,
		CompletionRate: rate,
		Verdict: validator.Verdict{
			CanComplete: true,
			Reason:      "validator unreachable, completion rate threshold met",
		},
		Blockchain: s.syncCompletion(ctx, g),
	}, nil
}

// syncCompletion writes the completion flag on-chain for escrowed tiers.
// Failures are reported, never fatal.
func (s *Service) syncCompletion(ctx context.Context, g goal.Goal) BlockchainSync {
	if !g.Tier.Escrowed() {
		return BlockchainSync{}
	}
	txHash, err := s.gateway.MarkCompleted(ctx, g.EscrowHash(), true)
	if err != nil {
		s.log.WithError(err).WithField("goal_id", g.ID).Warn("on-chain completion sync failed")
		return BlockchainSync{Attempted: true, Error: err.Error()}
	}
	return BlockchainSync{Attempted: true, Synced: true, TxHash: txHash}
}

// isFunded consults the oracle variant governing the goal's tier.
func (s *Service) isFunded(ctx context.Context, g goal.Goal) (bool, error) {
	ws, err := s.wallets.ListWallets(ctx, g.ID)
	if err != nil {
		return false, err
	}
	return s.oracles.IsFunded(ctx, g, ws)
}

// holdsValue guards active -> completed/failed: ledger tiers need at least
// one wallet with a positive cached balance, escrowed tiers a positive
// escrow amount.
func (s *Service) holdsValue(ctx context.Context, g goal.Goal) (bool, error) {
	if g.Tier.Escrowed() {
		esc, err := s.gateway.ReadEscrow(ctx, g.EscrowHash())
		if err != nil {
			return false, &goal.ExternalServiceError{Service: "blockchain-gateway", Err: err}
		}
		return esc.Exists && esc.Amount > 0, nil
	}

	ws, err := s.wallets.ListWallets(ctx, g.ID)
	if err != nil {
		return false, err
	}
	for _, w := range ws {
		if w.LastBalance > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ValidationRejectedError reports that the AI validator declined a
// completion request.
type ValidationRejectedError struct {
	Verdict validator.Verdict
}

func (e *ValidationRejectedError) Error() string {
	if e.Verdict.Reason != "" {
		return fmt.Sprintf("completion rejected: %s", e.Verdict.Reason)
	}
	return "completion rejected by validator"
}
