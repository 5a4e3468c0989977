package refund

import (
	"context"
	"errors"
	"testing"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/app/storage/memory"
	"github.com/goalstake/pledge_layer/internal/keystore"
)

func seedGoal(t *testing.T, store *memory.Store, status goal.Status) goal.Goal {
	t.Helper()
	g, err := store.CreateGoal(context.Background(), goal.Goal{
		OwnerID: "owner",
		Title:   "goal",
		Status:  status,
		Tier:    goal.TierEasy,
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	return g
}

func seedWallet(t *testing.T, store *memory.Store, goalID, network, refundAddr string, balance float64) wallet.CustodialWallet {
	t.Helper()
	w, err := store.CreateWallet(context.Background(), wallet.CustodialWallet{
		GoalID:        goalID,
		Network:       network,
		Address:       network + "1addr",
		KeyRef:        "key-" + network,
		LastBalance:   balance,
		RefundAddress: refundAddr,
	})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return w
}

func TestExecuteRequiresCompletedGoal(t *testing.T) {
	store := memory.New()
	g := seedGoal(t, store, goal.StatusActive)
	seedWallet(t, store, g.ID, "ethereum", "0xdest", 1)

	svc := New(store, store, store, keystore.NewMock(), nil, nil)
	if _, err := svc.Execute(context.Background(), g.ID); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
}

func TestExecuteRequiresEligibleWallets(t *testing.T) {
	store := memory.New()
	g := seedGoal(t, store, goal.StatusCompleted)
	seedWallet(t, store, g.ID, "ethereum", "", 1)

	svc := New(store, store, store, keystore.NewMock(), nil, nil)
	if _, err := svc.Execute(context.Background(), g.ID); !errors.Is(err, ErrNoEligibleWallets) {
		t.Fatalf("expected ErrNoEligibleWallets, got %v", err)
	}
}

func TestExecuteToleratesPartialFailure(t *testing.T) {
	store := memory.New()
	g := seedGoal(t, store, goal.StatusCompleted)
	wA := seedWallet(t, store, g.ID, "ethereum", "0xdestA", 1)
	wB := seedWallet(t, store, g.ID, "polygon", "0xdestB", 50)

	keys := keystore.NewMock()
	keys.FailTransfers(wA.KeyRef, errors.New("signing service unavailable"))

	svc := New(store, store, store, keys, nil, nil)
	summary, err := svc.Execute(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if summary.TotalRefunds != 2 {
		t.Fatalf("expected 2 refunds, got %d", summary.TotalRefunds)
	}
	if summary.SuccessfulRefunds != 1 || summary.FailedRefunds != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.SuccessfulRefunds+summary.FailedRefunds != summary.TotalRefunds {
		t.Fatalf("counts do not add up: %+v", summary)
	}

	byWallet := make(map[string]bool)
	for _, res := range summary.Results {
		byWallet[res.WalletID] = res.Success
	}
	if byWallet[wA.ID] {
		t.Fatal("wallet A transfer should have failed")
	}
	if !byWallet[wB.ID] {
		t.Fatal("wallet B transfer should have succeeded")
	}

	// Both outcomes are audited.
	attempts, err := svc.Attempts(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(attempts))
	}
}

func TestExecuteSkipsFeeEatenBalance(t *testing.T) {
	store := memory.New()
	g := seedGoal(t, store, goal.StatusCompleted)
	w := seedWallet(t, store, g.ID, "ethereum", "0xdest", 0.001)

	keys := keystore.NewMock()
	keys.SetFee("ethereum", 0.01)

	svc := New(store, store, store, keys, nil, nil)
	summary, err := svc.Execute(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.SuccessfulRefunds != 0 || summary.FailedRefunds != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.Results[0].WalletID != w.ID || summary.Results[0].Error == "" {
		t.Fatalf("unexpected result: %+v", summary.Results[0])
	}
}

func TestStatusReportsEligibility(t *testing.T) {
	store := memory.New()
	g := seedGoal(t, store, goal.StatusCompleted)
	seedWallet(t, store, g.ID, "ethereum", "0xdest", 1)
	seedWallet(t, store, g.ID, "polygon", "", 50)

	keys := keystore.NewMock()
	keys.SetFee("ethereum", 0.1)

	svc := New(store, store, store, keys, nil, nil)
	status, err := svc.Status(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if status.TotalWallets != 2 {
		t.Fatalf("expected 2 wallets, got %d", status.TotalWallets)
	}
	if status.WalletsWithRefundAddress != 1 {
		t.Fatalf("expected 1 refundable wallet, got %d", status.WalletsWithRefundAddress)
	}
	if !status.Eligible {
		t.Fatal("expected goal to be refund eligible")
	}
	if got := status.EstimatedRefundAmount; got != 0.9 {
		t.Fatalf("expected sendable 0.9, got %v", got)
	}
	if len(status.WalletEstimates) != 1 {
		t.Fatalf("expected 1 estimate, got %d", len(status.WalletEstimates))
	}
}

func TestStatusUsesLiveBalanceWhenAvailable(t *testing.T) {
	store := memory.New()
	g := seedGoal(t, store, goal.StatusCompleted)
	seedWallet(t, store, g.ID, "ethereum", "0xdest", 1)

	reader := readerFunc(func(_ context.Context, network, address string) (float64, error) {
		return 3, nil
	})
	svc := New(store, store, store, keystore.NewMock(), reader, nil)

	status, err := svc.Status(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.EstimatedRefundAmount != 3 {
		t.Fatalf("expected live balance 3, got %v", status.EstimatedRefundAmount)
	}
}

func TestStatusFallsBackToCachedBalance(t *testing.T) {
	store := memory.New()
	g := seedGoal(t, store, goal.StatusCompleted)
	seedWallet(t, store, g.ID, "ethereum", "0xdest", 1.5)

	reader := readerFunc(func(context.Context, string, string) (float64, error) {
		return 0, errors.New("rpc unavailable")
	})
	svc := New(store, store, store, keystore.NewMock(), reader, nil)

	status, err := svc.Status(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.EstimatedRefundAmount != 1.5 {
		t.Fatalf("expected cached balance 1.5, got %v", status.EstimatedRefundAmount)
	}
}

type readerFunc func(ctx context.Context, network, address string) (float64, error)

func (f readerFunc) Balance(ctx context.Context, network, address string) (float64, error) {
	return f(ctx, network, address)
}
