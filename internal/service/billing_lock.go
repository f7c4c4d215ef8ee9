package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/domain"
)

func (s *billingService) Status(ctx context.Context, tenantRef string) (*TenantStatus, error) {
	rec, err := s.findTenant(ctx, "billing.status", tenantRef)
	if err != nil {
		return nil, err
	}
	return s.statusOf(rec), nil
}

func (s *billingService) LockDecision(ctx context.Context, tenantID uuid.UUID) (domain.LockDecision, error) {
	rec, err := s.store.ByID(ctx, tenantID)
	if err != nil {
		return domain.LockDecision{}, storeError(err, "billing.lock_decision")
	}
	return rec.Lock(s.now()), nil
}

func (s *billingService) Lock(ctx context.Context, tenantRef, reason string) (*TenantStatus, error) {
	return s.setOverride(ctx, tenantRef, domain.ManualLockLocked, reason)
}

func (s *billingService) Unlock(ctx context.Context, tenantRef, reason string) (*TenantStatus, error) {
	return s.setOverride(ctx, tenantRef, domain.ManualLockUnlocked, reason)
}

func (s *billingService) ClearOverride(ctx context.Context, tenantRef string) (*TenantStatus, error) {
	return s.setOverride(ctx, tenantRef, domain.ManualLockNone, "")
}

// setOverride writes the operator override. Computed billing fields are left
// alone, so clearing the override later reveals whatever state the automatic
// paths have recorded meanwhile.
func (s *billingService) setOverride(ctx context.Context, tenantRef string, lock domain.ManualLock, reason string) (*TenantStatus, error) {
	const op = "billing.override"

	var action string
	switch lock {
	case domain.ManualLockLocked:
		action = audit.ActionManualLock
	case domain.ManualLockUnlocked:
		action = audit.ActionManualUnlock
	case domain.ManualLockNone:
		action = audit.ActionOverrideClear
	default:
		return nil, ErrInvalidOverride
	}

	rec, err := s.findTenant(ctx, op, tenantRef)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reason = strings.TrimSpace(reason)
	var previous domain.ManualLock

	updated, err := s.store.Update(ctx, rec.TenantID, func(cur *domain.TenantBilling) (bool, error) {
		previous = cur.ManualLock
		if lock == domain.ManualLockNone {
			if cur.ManualLock == domain.ManualLockNone {
				return false, nil
			}
			cur.ManualLock = domain.ManualLockNone
			cur.ManualLockReason = ""
			cur.ManualLockAt = nil
			return true, nil
		}
		cur.ManualLock = lock
		cur.ManualLockReason = reason
		cur.ManualLockAt = domain.TimePtr(now)
		return true, nil
	})
	if err != nil {
		return nil, storeError(err, op)
	}

	status := s.statusOf(updated)
	s.logger.Info("billing override changed",
		"tenant_id", updated.TenantID,
		"override", lock,
		"previous", previous,
		"locked", status.Lock.Locked,
	)
	s.audit.Record(ctx, audit.Entry{
		TenantID: updated.TenantID,
		Actor:    domain.ActorFromContext(ctx, domain.ActorOperator),
		Action:   action,
		Details: map[string]any{
			"reason":   reason,
			"previous": string(previous),
			"locked":   status.Lock.Locked,
		},
	})
	return status, nil
}

func (s *billingService) statusOf(rec *domain.TenantBilling) *TenantStatus {
	return &TenantStatus{Billing: rec, Lock: rec.Lock(s.now())}
}
