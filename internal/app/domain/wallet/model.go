package wallet

import "time"

// CustodialWallet is a platform-held funding source for a goal on one
// network. The private key never appears here; KeyRef is an opaque handle
// resolved only inside the key store boundary.
type CustodialWallet struct {
	ID      string
	GoalID  string
	Network string
	Address string
	KeyRef  string

	// LastBalance is the most recent observed balance in native units. It is
	// an eventually-consistent cache written by the balance monitor and by
	// manual updates, last write wins.
	LastBalance       float64
	LastBalanceUpdate time.Time

	// RefundAddress is the user-supplied payout destination. Empty means the
	// wallet is excluded from refund distribution.
	RefundAddress string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Refundable reports whether the wallet participates in refund distribution.
func (w CustodialWallet) Refundable() bool {
	return w.RefundAddress != ""
}
