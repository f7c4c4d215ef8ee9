package domain

import "time"

// LockReason explains a lock decision.
type LockReason string

const (
	LockReasonManualLock   LockReason = "manual_lock"
	LockReasonManualUnlock LockReason = "manual_unlock"
	LockReasonBillingLock  LockReason = "billing_locked"
	LockReasonGraceExpired LockReason = "grace_expired"
	LockReasonNone         LockReason = ""
)

// LockInput is the stored state the lock policy reads. Nothing in it
// requires a remote call.
type LockInput struct {
	BillingStatus   BillingStatus
	PlanStatus      PlanStatus
	GraceEndsAt     *time.Time
	BillingLockedAt *time.Time
	ManualLock      ManualLock
}

// LockDecision is the output of EvaluateLock.
type LockDecision struct {
	Locked bool       `json:"locked"`
	Reason LockReason `json:"reason,omitempty"`
}

// EvaluateLock decides whether a tenant's users may write. Rules in order:
// an operator override, then a recorded billing lock, then an elapsed grace
// deadline. Anything else is unlocked.
func EvaluateLock(in LockInput, now time.Time) LockDecision {
	switch in.ManualLock {
	case ManualLockLocked:
		return LockDecision{Locked: true, Reason: LockReasonManualLock}
	case ManualLockUnlocked:
		return LockDecision{Locked: false, Reason: LockReasonManualUnlock}
	}

	if in.BillingLockedAt != nil {
		return LockDecision{Locked: true, Reason: LockReasonBillingLock}
	}

	if in.GraceEndsAt != nil && !now.Before(*in.GraceEndsAt) {
		return LockDecision{Locked: true, Reason: LockReasonGraceExpired}
	}

	return LockDecision{}
}
