package chain

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an in-process Gateway used by tests and local development.
type Mock struct {
	mu       sync.Mutex
	escrows  map[string]Escrow
	balances map[string]float64
	txSeq    int

	// Err, when set, is returned by every call.
	Err error
}

// NewMock creates an empty mock gateway.
func NewMock() *Mock {
	return &Mock{
		escrows:  make(map[string]Escrow),
		balances: make(map[string]float64),
	}
}

// SetBalance seeds an address balance for the mock's balance reader.
func (m *Mock) SetBalance(network, address string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[network+":"+address] = balance
}

// Balance reads a seeded address balance.
func (m *Mock) Balance(_ context.Context, network, address string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.balances[network+":"+address], nil
}

var _ Gateway = (*Mock)(nil)

// SetEscrow seeds an escrow record.
func (m *Mock) SetEscrow(goalHash string, esc Escrow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrows[goalHash] = esc
}

func (m *Mock) nextTxLocked() string {
	m.txSeq++
	return fmt.Sprintf("0xmock%04d", m.txSeq)
}

func (m *Mock) ReadEscrow(_ context.Context, goalHash string) (Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Escrow{}, m.Err
	}
	return m.escrows[goalHash], nil
}

func (m *Mock) Commit(_ context.Context, params CommitParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	esc := m.escrows[params.GoalHash]
	esc.Exists = true
	esc.Amount += params.Amount
	esc.Deadline = params.Deadline
	m.escrows[params.GoalHash] = esc
	return m.nextTxLocked(), nil
}

func (m *Mock) MarkCompleted(_ context.Context, goalHash string, _ bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	esc, ok := m.escrows[goalHash]
	if !ok || !esc.Exists {
		return "", fmt.Errorf("escrow %s not found", goalHash)
	}
	esc.Completed = true
	m.escrows[goalHash] = esc
	return m.nextTxLocked(), nil
}
