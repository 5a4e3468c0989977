package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/refund"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.GoalStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.RefundStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- GoalStore --------------------------------------------------------------

func (s *Store) CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pledge_goals (id, owner_id, title, description, status, tier, deadline,
			last_completion_attempt_at, tasks_total, tasks_completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, g.ID, g.OwnerID, g.Title, g.Description, string(g.Status), string(g.Tier),
		nullTime(g.Deadline), nullTimePtr(g.LastCompletionAttemptAt),
		g.TasksTotal, g.TasksCompleted, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return goal.Goal{}, err
	}
	return g, nil
}

func (s *Store) UpdateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error) {
	existing, err := s.GetGoal(ctx, g.ID)
	if err != nil {
		return goal.Goal{}, err
	}

	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE pledge_goals
		SET owner_id = $2, title = $3, description = $4, status = $5, tier = $6,
			deadline = $7, last_completion_attempt_at = $8,
			tasks_total = $9, tasks_completed = $10, updated_at = $11
		WHERE id = $1
	`, g.ID, g.OwnerID, g.Title, g.Description, string(g.Status), string(g.Tier),
		nullTime(g.Deadline), nullTimePtr(g.LastCompletionAttemptAt),
		g.TasksTotal, g.TasksCompleted, g.UpdatedAt)
	if err != nil {
		return goal.Goal{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return goal.Goal{}, storage.ErrNotFound
	}
	return g, nil
}

const goalColumns = `id, owner_id, title, description, status, tier, deadline,
	last_completion_attempt_at, tasks_total, tasks_completed, created_at, updated_at`

func (s *Store) GetGoal(ctx context.Context, id string) (goal.Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+goalColumns+` FROM pledge_goals WHERE id = $1
	`, id)
	return scanGoal(row)
}

func (s *Store) ListGoals(ctx context.Context, ownerID string) ([]goal.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM pledge_goals`
	args := []interface{}{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGoals(rows)
}

func (s *Store) ListGoalsByStatus(ctx context.Context, status goal.Status) ([]goal.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+goalColumns+` FROM pledge_goals WHERE status = $1 ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGoals(rows)
}

func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pledge_goals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGoal(row rowScanner) (goal.Goal, error) {
	var g goal.Goal
	var status, tier string
	var deadline, lastAttempt sql.NullTime

	err := row.Scan(&g.ID, &g.OwnerID, &g.Title, &g.Description, &status, &tier,
		&deadline, &lastAttempt, &g.TasksTotal, &g.TasksCompleted, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.Goal{}, storage.ErrNotFound
	}
	if err != nil {
		return goal.Goal{}, err
	}

	g.Status = goal.Status(status)
	g.Tier = goal.Tier(tier)
	if deadline.Valid {
		g.Deadline = deadline.Time
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		g.LastCompletionAttemptAt = &t
	}
	return g, nil
}

func scanGoals(rows *sql.Rows) ([]goal.Goal, error) {
	var out []goal.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) CreateWallet(ctx context.Context, w wallet.CustodialWallet) (wallet.CustodialWallet, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pledge_wallets (id, goal_id, network, address, key_ref,
			last_balance, last_balance_update, refund_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, w.ID, w.GoalID, w.Network, w.Address, w.KeyRef,
		w.LastBalance, nullTime(w.LastBalanceUpdate), w.RefundAddress, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return wallet.CustodialWallet{}, err
	}
	return w, nil
}

func (s *Store) UpdateWallet(ctx context.Context, w wallet.CustodialWallet) (wallet.CustodialWallet, error) {
	existing, err := s.GetWallet(ctx, w.ID)
	if err != nil {
		return wallet.CustodialWallet{}, err
	}

	w.GoalID = existing.GoalID
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE pledge_wallets
		SET network = $2, address = $3, key_ref = $4, last_balance = $5,
			last_balance_update = $6, refund_address = $7, updated_at = $8
		WHERE id = $1
	`, w.ID, w.Network, w.Address, w.KeyRef, w.LastBalance,
		nullTime(w.LastBalanceUpdate), w.RefundAddress, w.UpdatedAt)
	if err != nil {
		return wallet.CustodialWallet{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return wallet.CustodialWallet{}, storage.ErrNotFound
	}
	return w, nil
}

const walletColumns = `id, goal_id, network, address, key_ref, last_balance,
	last_balance_update, refund_address, created_at, updated_at`

func (s *Store) GetWallet(ctx context.Context, id string) (wallet.CustodialWallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+` FROM pledge_wallets WHERE id = $1
	`, id)
	return scanWallet(row)
}

func (s *Store) ListWallets(ctx context.Context, goalID string) ([]wallet.CustodialWallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+walletColumns+` FROM pledge_wallets WHERE goal_id = $1 ORDER BY created_at
	`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.CustodialWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWalletsForGoal(ctx context.Context, goalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pledge_wallets WHERE goal_id = $1`, goalID)
	return err
}

func scanWallet(row rowScanner) (wallet.CustodialWallet, error) {
	var w wallet.CustodialWallet
	var lastUpdate sql.NullTime

	err := row.Scan(&w.ID, &w.GoalID, &w.Network, &w.Address, &w.KeyRef,
		&w.LastBalance, &lastUpdate, &w.RefundAddress, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.CustodialWallet{}, storage.ErrNotFound
	}
	if err != nil {
		return wallet.CustodialWallet{}, err
	}
	if lastUpdate.Valid {
		w.LastBalanceUpdate = lastUpdate.Time
	}
	return w, nil
}

// --- RefundStore ------------------------------------------------------------

func (s *Store) CreateRefundAttempt(ctx context.Context, att refund.Attempt) (refund.Attempt, error) {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	att.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pledge_refund_attempts (id, goal_id, wallet_id, network,
			refund_address, amount, success, tx_hash, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, att.ID, att.GoalID, att.WalletID, att.Network,
		att.RefundAddress, att.Amount, att.Success, att.TxHash, att.Error, att.CreatedAt)
	if err != nil {
		return refund.Attempt{}, err
	}
	return att, nil
}

func (s *Store) ListRefundAttempts(ctx context.Context, goalID string) ([]refund.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, wallet_id, network, refund_address, amount, success, tx_hash, error, created_at
		FROM pledge_refund_attempts WHERE goal_id = $1 ORDER BY created_at
	`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []refund.Attempt
	for rows.Next() {
		var att refund.Attempt
		if err := rows.Scan(&att.ID, &att.GoalID, &att.WalletID, &att.Network,
			&att.RefundAddress, &att.Amount, &att.Success, &att.TxHash, &att.Error, &att.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
