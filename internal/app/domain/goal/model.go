package goal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Status is the funding lifecycle state of a goal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFunded    Status = "funded"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status transition is valid.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus normalises a user-supplied status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusFunded:
		return StatusFunded, nil
	case StatusActive:
		return StatusActive, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// Tier is the commitment level of a goal. It selects which funding oracle
// governs the goal: custodial ledger for unset/easy, on-chain escrow for
// medium and above.
type Tier string

const (
	TierUnset    Tier = "unset"
	TierEasy     Tier = "easy"
	TierMedium   Tier = "medium"
	TierHard     Tier = "hard"
	TierHardcore Tier = "hardcore"
)

// Escrowed reports whether the tier is backed by an on-chain escrow record.
func (t Tier) Escrowed() bool {
	return t == TierMedium || t == TierHard || t == TierHardcore
}

// ParseTier normalises a user-supplied tier string.
func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierUnset:
		return TierUnset, nil
	case TierEasy:
		return TierEasy, nil
	case TierMedium:
		return TierMedium, nil
	case TierHard:
		return TierHard, nil
	case TierHardcore:
		return TierHardcore, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", raw)
	}
}

// Goal is a pledged personal goal tracked by the funding subsystem.
type Goal struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Status      Status
	Tier        Tier
	Deadline    time.Time

	// LastCompletionAttemptAt records the most recent mark-complete request,
	// successful or not. Nil until the first attempt.
	LastCompletionAttemptAt *time.Time

	TasksTotal     int
	TasksCompleted int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EscrowHash derives the deterministic on-chain escrow key for the goal.
func (g Goal) EscrowHash() string {
	sum := sha256.Sum256([]byte(g.OwnerID + ":" + g.ID))
	return hex.EncodeToString(sum[:])
}

// CompletionRate returns the fraction of tasks completed, 0 when no tasks
// exist.
func (g Goal) CompletionRate() float64 {
	if g.TasksTotal <= 0 {
		return 0
	}
	return float64(g.TasksCompleted) / float64(g.TasksTotal)
}

// transitions is the status transition table. Self-transitions for pending
// and funded are allowed as no-ops; completed and failed are terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusPending, StatusFunded},
	StatusFunded:  {StatusFunded, StatusActive},
	StatusActive:  {StatusFunded, StatusCompleted, StatusFailed},
}

// TransitionAllowed reports whether the status pair appears in the
// transition table. Funding requirements are enforced separately by the
// state machine.
func TransitionAllowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
