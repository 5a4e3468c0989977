package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/refund"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu             sync.RWMutex
	nextID         int64
	goals          map[string]goal.Goal
	wallets        map[string]wallet.CustodialWallet
	walletsByGoal  map[string][]string
	refundAttempts map[string][]refund.Attempt
}

var _ storage.GoalStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.RefundStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		goals:          make(map[string]goal.Goal),
		wallets:        make(map[string]wallet.CustodialWallet),
		walletsByGoal:  make(map[string][]string),
		refundAttempts: make(map[string][]refund.Attempt),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// GoalStore implementation ----------------------------------------------------

func (s *Store) CreateGoal(_ context.Context, g goal.Goal) (goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = s.nextIDLocked()
	} else if _, exists := s.goals[g.ID]; exists {
		return goal.Goal{}, fmt.Errorf("goal %s already exists", g.ID)
	}

	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	s.goals[g.ID] = g
	return g, nil
}

func (s *Store) UpdateGoal(_ context.Context, g goal.Goal) (goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.goals[g.ID]
	if !ok {
		return goal.Goal{}, storage.ErrNotFound
	}
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = time.Now().UTC()
	s.goals[g.ID] = g
	return g, nil
}

func (s *Store) GetGoal(_ context.Context, id string) (goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.goals[id]
	if !ok {
		return goal.Goal{}, storage.ErrNotFound
	}
	return g, nil
}

func (s *Store) ListGoals(_ context.Context, ownerID string) ([]goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []goal.Goal
	for _, g := range s.goals {
		if ownerID == "" || g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListGoalsByStatus(_ context.Context, status goal.Status) ([]goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []goal.Goal
	for _, g := range s.goals {
		if g.Status == status {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteGoal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.goals, id)
	return nil
}

// WalletStore implementation --------------------------------------------------

func (s *Store) CreateWallet(_ context.Context, w wallet.CustodialWallet) (wallet.CustodialWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = s.nextIDLocked()
	} else if _, exists := s.wallets[w.ID]; exists {
		return wallet.CustodialWallet{}, fmt.Errorf("wallet %s already exists", w.ID)
	}

	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	s.wallets[w.ID] = w
	s.walletsByGoal[w.GoalID] = append(s.walletsByGoal[w.GoalID], w.ID)
	return w, nil
}

func (s *Store) UpdateWallet(_ context.Context, w wallet.CustodialWallet) (wallet.CustodialWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.wallets[w.ID]
	if !ok {
		return wallet.CustodialWallet{}, storage.ErrNotFound
	}
	w.GoalID = existing.GoalID
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = time.Now().UTC()
	s.wallets[w.ID] = w
	return w, nil
}

func (s *Store) GetWallet(_ context.Context, id string) (wallet.CustodialWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[id]
	if !ok {
		return wallet.CustodialWallet{}, storage.ErrNotFound
	}
	return w, nil
}

func (s *Store) ListWallets(_ context.Context, goalID string) ([]wallet.CustodialWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.walletsByGoal[goalID]
	out := make([]wallet.CustodialWallet, 0, len(ids))
	for _, id := range ids {
		if w, ok := s.wallets[id]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) DeleteWalletsForGoal(_ context.Context, goalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.walletsByGoal[goalID] {
		delete(s.wallets, id)
	}
	delete(s.walletsByGoal, goalID)
	return nil
}

// RefundStore implementation --------------------------------------------------

func (s *Store) CreateRefundAttempt(_ context.Context, att refund.Attempt) (refund.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if att.ID == "" {
		att.ID = s.nextIDLocked()
	}
	att.CreatedAt = time.Now().UTC()
	s.refundAttempts[att.GoalID] = append(s.refundAttempts[att.GoalID], att)
	return att, nil
}

func (s *Store) ListRefundAttempts(_ context.Context, goalID string) ([]refund.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	atts := s.refundAttempts[goalID]
	out := make([]refund.Attempt, len(atts))
	copy(out, atts)
	return out, nil
}
