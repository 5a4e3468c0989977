package refund

import "time"

// Result captures a single wallet's payout outcome.
type Result struct {
	WalletID      string  `json:"wallet_id"`
	Network       string  `json:"network"`
	Success       bool    `json:"success"`
	TxHash        string  `json:"tx_hash,omitempty"`
	Error         string  `json:"error,omitempty"`
	Amount        float64 `json:"amount"`
	RefundAddress string  `json:"refund_address"`
}

// Summary aggregates per-wallet results for one distribution run. Partial
// failure is a valid terminal outcome, not an error.
type Summary struct {
	TotalRefunds      int       `json:"total_refunds"`
	SuccessfulRefunds int       `json:"successful_refunds"`
	FailedRefunds     int       `json:"failed_refunds"`
	Results           []Result  `json:"results"`
	CompletedAt       time.Time `json:"completed_at"`
}

// WalletEstimate is the read-only eligibility view of one wallet.
type WalletEstimate struct {
	WalletID               string  `json:"wallet_id"`
	Network                string  `json:"network"`
	Balance                float64 `json:"balance"`
	EstimatedFee           float64 `json:"estimated_fee"`
	Sendable               float64 `json:"sendable"`
	RefundAddress          string  `json:"refund_address"`
	HasInsufficientBalance bool    `json:"has_insufficient_balance"`
}

// Status is the side-effect-free eligibility report for a goal.
type Status struct {
	Eligible                 bool             `json:"eligible"`
	WalletsWithRefundAddress int              `json:"wallets_with_refund_address"`
	TotalWallets             int              `json:"total_wallets"`
	EstimatedRefundAmount    float64          `json:"estimated_refund_amount"`
	WalletEstimates          []WalletEstimate `json:"wallet_estimates"`
}

// Attempt is the persisted audit record of one wallet payout attempt.
type Attempt struct {
	ID            string
	GoalID        string
	WalletID      string
	Network       string
	RefundAddress string
	Amount        float64
	Success       bool
	TxHash        string
	Error         string
	CreatedAt     time.Time
}
