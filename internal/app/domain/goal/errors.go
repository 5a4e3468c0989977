package goal

import (
	"fmt"
	"time"
)

// InvalidTransitionError rejects a status change not present in the
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// TierLockedError rejects a difficulty change once the tier is escrowed, or
// a downgrade out of easy.
type TierLockedError struct {
	Current   Tier
	Requested Tier
}

func (e *TierLockedError) Error() string {
	return fmt.Sprintf("difficulty locked at %s, cannot change to %s", e.Current, e.Requested)
}

// NotFundedError rejects a transition that requires the goal to be funded.
type NotFundedError struct {
	GoalID string
	Tier   Tier
}

func (e *NotFundedError) Error() string {
	if e.Tier.Escrowed() {
		return fmt.Sprintf("goal %s has no staked escrow amount", e.GoalID)
	}
	return fmt.Sprintf("goal %s has no funded wallet", e.GoalID)
}

// RateLimitedError rejects a completion attempt inside the 24h window.
type RateLimitedError struct {
	HoursRemaining       int
	NextAttemptAllowedAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("completion already attempted recently, retry in %dh", e.HoursRemaining)
}

// ExternalServiceError wraps a failure from a collaborator (blockchain
// gateway, AI validator, key store, balance reader).
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// FallbackRejectedError reports that the AI validator was unreachable and
// the task-completion-rate fallback did not reach its threshold.
type FallbackRejectedError struct {
	CompletionRate float64
	Threshold      float64
}

func (e *FallbackRejectedError) Error() string {
	return fmt.Sprintf("validation service unavailable and completion rate %.0f%% below %.0f%% fallback threshold",
		e.CompletionRate*100, e.Threshold*100)
}
