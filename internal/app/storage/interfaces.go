package storage

import (
	"context"
	"errors"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/refund"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// GoalStore persists goal records.
type GoalStore interface {
	CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error)
	UpdateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error)
	GetGoal(ctx context.Context, id string) (goal.Goal, error)
	ListGoals(ctx context.Context, ownerID string) ([]goal.Goal, error)
	ListGoalsByStatus(ctx context.Context, status goal.Status) ([]goal.Goal, error)
	DeleteGoal(ctx context.Context, id string) error
}

// WalletStore persists custodial wallets.
type WalletStore interface {
	CreateWallet(ctx context.Context, w wallet.CustodialWallet) (wallet.CustodialWallet, error)
	UpdateWallet(ctx context.Context, w wallet.CustodialWallet) (wallet.CustodialWallet, error)
	GetWallet(ctx context.Context, id string) (wallet.CustodialWallet, error)
	ListWallets(ctx context.Context, goalID string) ([]wallet.CustodialWallet, error)
	DeleteWalletsForGoal(ctx context.Context, goalID string) error
}

// RefundStore persists refund attempt audit records.
type RefundStore interface {
	CreateRefundAttempt(ctx context.Context, att refund.Attempt) (refund.Attempt, error)
	ListRefundAttempts(ctx context.Context, goalID string) ([]refund.Attempt, error)
}
