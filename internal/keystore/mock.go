package keystore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock is an in-process KeyStore for tests and local development. Transfers
// succeed unless a failure is injected for the key reference.
type Mock struct {
	mu       sync.Mutex
	keySeq   int
	txSeq    int
	fees     map[string]float64
	failKeys map[string]error
}

// NewMock creates a mock key store with a default flat fee.
func NewMock() *Mock {
	return &Mock{
		fees:     make(map[string]float64),
		failKeys: make(map[string]error),
	}
}

var _ KeyStore = (*Mock)(nil)

// SetFee fixes the estimated fee for a network.
func (m *Mock) SetFee(network string, fee float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees[strings.ToLower(network)] = fee
}

// FailTransfers makes every transfer signed by keyRef return err.
func (m *Mock) FailTransfers(keyRef string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKeys[keyRef] = err
}

func (m *Mock) Generate(_ context.Context, network string) (KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keySeq++
	return KeyPair{
		KeyRef:  fmt.Sprintf("key-%04d", m.keySeq),
		Address: fmt.Sprintf("%s1mock%04d", strings.ToLower(network), m.keySeq),
	}, nil
}

func (m *Mock) Transfer(_ context.Context, keyRef, toAddress string, amount float64, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failKeys[keyRef]; ok {
		return "", err
	}
	if toAddress == "" {
		return "", fmt.Errorf("destination address required")
	}
	if amount <= 0 {
		return "", fmt.Errorf("insufficient balance for transfer")
	}
	m.txSeq++
	return fmt.Sprintf("0xtx%04d", m.txSeq), nil
}

func (m *Mock) EstimateFee(_ context.Context, network string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees[strings.ToLower(network)], nil
}
