// Package refund computes payout eligibility for completed goals and
// executes per-wallet refunds across networks, tolerating partial failure.
package refund

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	domain "github.com/goalstake/pledge_layer/internal/app/domain/refund"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/app/metrics"
	"github.com/goalstake/pledge_layer/internal/app/storage"
	"github.com/goalstake/pledge_layer/internal/keystore"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

// ErrNotCompleted rejects refund execution for goals that are not completed.
var ErrNotCompleted = errors.New("goal is not completed")

// ErrNoEligibleWallets rejects execution when no wallet has a refund
// address.
var ErrNoEligibleWallets = errors.New("no wallet has a refund address")

// BalanceReader reads a live on-network balance. Optional; when absent the
// cached wallet balance is used.
type BalanceReader interface {
	Balance(ctx context.Context, network, address string) (float64, error)
}

// Service is the refund distribution engine.
type Service struct {
	goals    storage.GoalStore
	wallets  storage.WalletStore
	attempts storage.RefundStore
	keys     keystore.KeyStore
	reader   BalanceReader
	log      *logger.Logger
}

// New creates a configured refund service. reader may be nil.
func New(goals storage.GoalStore, wallets storage.WalletStore, attempts storage.RefundStore, keys keystore.KeyStore, reader BalanceReader, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("refunds")
	}
	return &Service{
		goals:    goals,
		wallets:  wallets,
		attempts: attempts,
		keys:     keys,
		reader:   reader,
		log:      log,
	}
}

// balance prefers a live read and falls back to the cached value.
func (s *Service) balance(ctx context.Context, w wallet.CustodialWallet) float64 {
	if s.reader != nil {
		if live, err := s.reader.Balance(ctx, w.Network, w.Address); err == nil {
			return live
		} else {
			s.log.WithError(err).
				WithField("wallet_id", w.ID).
				Warn("live balance read failed, using cached balance")
		}
	}
	return w.LastBalance
}

// estimate computes one wallet's payout eligibility.
func (s *Service) estimate(ctx context.Context, w wallet.CustodialWallet) (domain.WalletEstimate, error) {
	fee, err := s.keys.EstimateFee(ctx, w.Network)
	if err != nil {
		return domain.WalletEstimate{}, &goal.ExternalServiceError{Service: "keystore", Err: err}
	}

	balance := s.balance(ctx, w)
	sendable := balance - fee
	if sendable < 0 {
		sendable = 0
	}
	return domain.WalletEstimate{
		WalletID:               w.ID,
		Network:                w.Network,
		Balance:                balance,
		EstimatedFee:           fee,
		Sendable:               sendable,
		RefundAddress:          w.RefundAddress,
		HasInsufficientBalance: sendable == 0,
	}, nil
}

// Status reports refund eligibility for a goal. It is a pure read: no
// transfer is attempted and nothing is persisted.
func (s *Service) Status(ctx context.Context, goalID string) (domain.Status, error) {
	if _, err := s.goals.GetGoal(ctx, goalID); err != nil {
		return domain.Status{}, err
	}
	ws, err := s.wallets.ListWallets(ctx, goalID)
	if err != nil {
		return domain.Status{}, err
	}

	status := domain.Status{TotalWallets: len(ws)}
	for _, w := range ws {
		if !w.Refundable() {
			continue
		}
		status.WalletsWithRefundAddress++

		est, err := s.estimate(ctx, w)
		if err != nil {
			return domain.Status{}, err
		}
		status.WalletEstimates = append(status.WalletEstimates, est)
		status.EstimatedRefundAmount += est.Sendable
		if est.Sendable > 0 {
			status.Eligible = true
		}
	}
	return status, nil
}

// Execute distributes refunds for a completed goal. Every wallet with a
// refund address is attempted independently; one wallet failing never
// blocks the others, and the summary carries per-wallet outcomes.
func (s *Service) Execute(ctx context.Context, goalID string) (domain.Summary, error) {
	g, err := s.goals.GetGoal(ctx, goalID)
	if err != nil {
		return domain.Summary{}, err
	}
	if g.Status != goal.StatusCompleted {
		return domain.Summary{}, ErrNotCompleted
	}

	ws, err := s.wallets.ListWallets(ctx, goalID)
	if err != nil {
		return domain.Summary{}, err
	}

	var eligible []wallet.CustodialWallet
	for _, w := range ws {
		if w.Refundable() {
			eligible = append(eligible, w)
		}
	}
	if len(eligible) == 0 {
		return domain.Summary{}, ErrNoEligibleWallets
	}

	// wallets hold disjoint keys and destinations, so payouts run in
	// parallel
	results := make([]domain.Result, len(eligible))
	var wg sync.WaitGroup
	for i, w := range eligible {
		wg.Add(1)
		go func(i int, w wallet.CustodialWallet) {
			defer wg.Done()
			results[i] = s.payout(ctx, w)
		}(i, w)
	}
	wg.Wait()

	summary := domain.Summary{
		TotalRefunds: len(results),
		Results:      results,
		CompletedAt:  time.Now().UTC(),
	}
	for _, res := range results {
		if res.Success {
			summary.SuccessfulRefunds++
		} else {
			summary.FailedRefunds++
		}
		s.record(ctx, goalID, res)
	}

	s.log.WithField("goal_id", goalID).
		WithField("total", summary.TotalRefunds).
		WithField("failed", summary.FailedRefunds).
		Info("refund distribution finished")
	return summary, nil
}

// payout attempts a single wallet refund and captures its outcome.
func (s *Service) payout(ctx context.Context, w wallet.CustodialWallet) domain.Result {
	result := domain.Result{
		WalletID:      w.ID,
		Network:       w.Network,
		RefundAddress: w.RefundAddress,
	}

	est, err := s.estimate(ctx, w)
	if err != nil {
		result.Error = err.Error()
		metrics.RecordRefundTransfer(w.Network, false)
		return result
	}
	result.Amount = est.Sendable

	if est.Sendable <= 0 {
		result.Error = "insufficient balance after fee"
		metrics.RecordRefundTransfer(w.Network, false)
		return result
	}

	txHash, err := s.keys.Transfer(ctx, w.KeyRef, w.RefundAddress, est.Sendable, w.Network)
	if err != nil {
		result.Error = err.Error()
		metrics.RecordRefundTransfer(w.Network, false)
		s.log.WithError(err).WithField("wallet_id", w.ID).Warn("refund transfer failed")
		return result
	}

	result.Success = true
	result.TxHash = txHash
	metrics.RecordRefundTransfer(w.Network, true)
	return result
}

// record persists the audit row for one payout attempt. Audit failures are
// logged, never fatal: the transfer already happened.
func (s *Service) record(ctx context.Context, goalID string, res domain.Result) {
	if s.attempts == nil {
		return
	}
	_, err := s.attempts.CreateRefundAttempt(ctx, domain.Attempt{
		GoalID:        goalID,
		WalletID:      res.WalletID,
		Network:       res.Network,
		RefundAddress: res.RefundAddress,
		Amount:        res.Amount,
		Success:       res.Success,
		TxHash:        res.TxHash,
		Error:         res.Error,
	})
	if err != nil {
		s.log.WithError(err).WithField("wallet_id", res.WalletID).Warn("persist refund attempt failed")
	}
}

// Attempts lists the persisted refund attempts for a goal.
func (s *Service) Attempts(ctx context.Context, goalID string) ([]domain.Attempt, error) {
	if _, err := s.goals.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	return s.attempts.ListRefundAttempts(ctx, goalID)
}
