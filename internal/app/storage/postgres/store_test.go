package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/refund"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/app/storage"
	"github.com/goalstake/pledge_layer/internal/platform/migrations"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)

	g, err := store.CreateGoal(ctx, goal.Goal{
		OwnerID: "owner",
		Title:   "learn piano",
		Status:  goal.StatusPending,
		Tier:    goal.TierUnset,
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	g.Status = goal.StatusActive
	g.Tier = goal.TierEasy
	attempt := time.Now().UTC().Truncate(time.Microsecond)
	g.LastCompletionAttemptAt = &attempt
	if _, err := store.UpdateGoal(ctx, g); err != nil {
		t.Fatalf("update goal: %v", err)
	}

	got, err := store.GetGoal(ctx, g.ID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if got.Status != goal.StatusActive || got.Tier != goal.TierEasy {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.LastCompletionAttemptAt == nil || !got.LastCompletionAttemptAt.Equal(attempt) {
		t.Fatalf("attempt timestamp mismatch: %+v", got.LastCompletionAttemptAt)
	}

	w, err := store.CreateWallet(ctx, wallet.CustodialWallet{
		GoalID:  g.ID,
		Network: "ethereum",
		Address: "0xabc",
		KeyRef:  "key-1",
	})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	w.LastBalance = 2.5
	w.RefundAddress = "0xdest"
	if _, err := store.UpdateWallet(ctx, w); err != nil {
		t.Fatalf("update wallet: %v", err)
	}

	ws, err := store.ListWallets(ctx, g.ID)
	if err != nil {
		t.Fatalf("list wallets: %v", err)
	}
	if len(ws) != 1 || ws[0].LastBalance != 2.5 || ws[0].RefundAddress != "0xdest" {
		t.Fatalf("unexpected wallets: %+v", ws)
	}

	if _, err := store.CreateRefundAttempt(ctx, refund.Attempt{
		GoalID:   g.ID,
		WalletID: w.ID,
		Network:  "ethereum",
		Amount:   2.4,
		Success:  true,
		TxHash:   "0xtx",
	}); err != nil {
		t.Fatalf("create refund attempt: %v", err)
	}
	attempts, err := store.ListRefundAttempts(ctx, g.ID)
	if err != nil {
		t.Fatalf("list refund attempts: %v", err)
	}
	if len(attempts) != 1 || !attempts[0].Success {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}

	if err := store.DeleteGoal(ctx, g.ID); err != nil {
		t.Fatalf("delete goal: %v", err)
	}
	if _, err := store.GetGoal(ctx, g.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestGetGoalNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM pledge_goals").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	store := New(db)
	if _, err := store.GetGoal(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteGoalNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM pledge_goals").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := New(db)
	if err := store.DeleteGoal(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListGoalsByStatusScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "title", "description", "status", "tier", "deadline",
		"last_completion_attempt_at", "tasks_total", "tasks_completed", "created_at", "updated_at",
	}).AddRow("g1", "owner", "title", "", "active", "easy", nil, nil, 4, 2, now, now)

	mock.ExpectQuery("SELECT .* FROM pledge_goals WHERE status").
		WithArgs("active").
		WillReturnRows(rows)

	store := New(db)
	goals, err := store.ListGoalsByStatus(context.Background(), goal.StatusActive)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(goals) != 1 || goals[0].Status != goal.StatusActive || goals[0].TasksTotal != 4 {
		t.Fatalf("unexpected goals: %+v", goals)
	}
	if goals[0].Deadline != (time.Time{}) {
		t.Fatalf("expected zero deadline, got %v", goals[0].Deadline)
	}
}
