package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/service"
	"github.com/dukerupert/parley/internal/tenant"
)

// DB is the subset of *pgxpool.Pool the stores use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BillingStore implements service.BillingStore using PostgreSQL.
type BillingStore struct {
	db DB
}

// Compile-time check that BillingStore implements service.BillingStore.
var _ service.BillingStore = (*BillingStore)(nil)

// NewBillingStore creates a new PostgreSQL-backed billing store.
func NewBillingStore(db DB) *BillingStore {
	return &BillingStore{db: db}
}

const billingColumns = `
	tenant_id, tenant_key,
	external_customer_id, external_subscription_id, external_price_id,
	billing_status, plan_status, plan_key,
	current_period_end, trial_ends_at, cancel_at_period_end,
	last_payment_failure_at, grace_ends_at, billing_locked_at,
	last_external_event_id, last_reconcile_at, last_reconcile_summary,
	manual_lock, manual_lock_reason, manual_lock_at,
	created_at, updated_at`

// =============================================================================
// LOOKUPS
// =============================================================================

func (s *BillingStore) ByID(ctx context.Context, id uuid.UUID) (*domain.TenantBilling, error) {
	return s.getOne(ctx, "billing.by_id",
		`SELECT `+billingColumns+` FROM tenant_billing WHERE tenant_id = $1`, id)
}

func (s *BillingStore) ByKey(ctx context.Context, key string) (*domain.TenantBilling, error) {
	return s.getOne(ctx, "billing.by_key",
		`SELECT `+billingColumns+` FROM tenant_billing WHERE tenant_key = $1`, key)
}

func (s *BillingStore) ByCustomerID(ctx context.Context, customerID string) (*domain.TenantBilling, error) {
	return s.getOne(ctx, "billing.by_customer",
		`SELECT `+billingColumns+` FROM tenant_billing WHERE external_customer_id = $1`, customerID)
}

func (s *BillingStore) getOne(ctx context.Context, op, query string, arg any) (*domain.TenantBilling, error) {
	rec, err := scanBilling(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, domain.Internal(err, op, "failed to load billing record")
	}
	return rec, nil
}

// ListLinked returns linked tenants, most recently updated first.
func (s *BillingStore) ListLinked(ctx context.Context, limit int) ([]*domain.TenantBilling, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+billingColumns+`
		FROM tenant_billing
		WHERE external_customer_id IS NOT NULL
		ORDER BY updated_at DESC, tenant_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, domain.Internal(err, "billing.list_linked", "failed to list linked tenants")
	}
	defer rows.Close()

	var out []*domain.TenantBilling
	for rows.Next() {
		rec, err := scanBilling(rows)
		if err != nil {
			return nil, domain.Internal(err, "billing.list_linked", "failed to scan billing record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "billing.list_linked", "failed to list linked tenants")
	}
	return out, nil
}

// =============================================================================
// WRITES
// =============================================================================

// Ensure inserts the record unless the tenant already has one.
func (s *BillingStore) Ensure(ctx context.Context, rec *domain.TenantBilling) (*domain.TenantBilling, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tenant_billing (tenant_id, tenant_key, billing_status, plan_status, plan_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO NOTHING`,
		rec.TenantID, rec.TenantKey, string(rec.BillingStatus), string(rec.PlanStatus), rec.PlanKey)
	if err != nil {
		return nil, domain.Internal(err, "billing.ensure", "failed to create billing record")
	}
	return s.ByID(ctx, rec.TenantID)
}

// Update reads the row FOR UPDATE, runs fn and writes every mutable column
// back in one statement inside the same transaction. updated_at only moves
// when billing state changed, so reconcile bookkeeping does not reorder
// ListLinked.
func (s *BillingStore) Update(ctx context.Context, tenantID uuid.UUID, fn service.UpdateFunc) (*domain.TenantBilling, error) {
	const op = "billing.update"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cur, err := scanBilling(tx.QueryRow(ctx,
		`SELECT `+billingColumns+` FROM tenant_billing WHERE tenant_id = $1 FOR UPDATE`, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, domain.Internal(err, op, "failed to lock billing record")
	}

	next := cur.Clone()
	write, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !write {
		return cur, nil
	}

	summary, err := marshalSummary(next.LastReconcileSummary)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode reconcile summary")
	}

	row := tx.QueryRow(ctx, `
		UPDATE tenant_billing SET
			external_customer_id = $2,
			external_subscription_id = $3,
			external_price_id = $4,
			billing_status = $5,
			plan_status = $6,
			plan_key = $7,
			current_period_end = $8,
			trial_ends_at = $9,
			cancel_at_period_end = $10,
			last_payment_failure_at = $11,
			grace_ends_at = $12,
			billing_locked_at = $13,
			last_external_event_id = $14,
			last_reconcile_at = $15,
			last_reconcile_summary = $16,
			manual_lock = $17,
			manual_lock_reason = $18,
			manual_lock_at = $19,
			updated_at = CASE WHEN $20 THEN now() ELSE updated_at END
		WHERE tenant_id = $1
		RETURNING `+billingColumns,
		tenantID,
		nullText(next.ExternalCustomerID),
		nullText(next.ExternalSubscriptionID),
		nullText(next.ExternalPriceID),
		string(next.BillingStatus),
		string(next.PlanStatus),
		next.PlanKey,
		next.CurrentPeriodEnd,
		next.TrialEndsAt,
		next.CancelAtPeriodEnd,
		next.LastPaymentFailureAt,
		next.GraceEndsAt,
		next.BillingLockedAt,
		nullText(next.LastExternalEventID),
		next.LastReconcileAt,
		summary,
		nullText(string(next.ManualLock)),
		nullText(next.ManualLockReason),
		next.ManualLockAt,
		!cur.SameState(next),
	)
	updated, err := scanBilling(row)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to write billing record")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Internal(err, op, "failed to commit billing update")
	}
	return updated, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func scanBilling(row pgx.Row) (*domain.TenantBilling, error) {
	var (
		rec                                   domain.TenantBilling
		customerID, subscriptionID, priceID   pgtype.Text
		billingStatus, planStatus             string
		lastEventID, manualLock, manualReason pgtype.Text
		summary                               []byte
		createdAt, updatedAt                  time.Time
	)

	err := row.Scan(
		&rec.TenantID, &rec.TenantKey,
		&customerID, &subscriptionID, &priceID,
		&billingStatus, &planStatus, &rec.PlanKey,
		&rec.CurrentPeriodEnd, &rec.TrialEndsAt, &rec.CancelAtPeriodEnd,
		&rec.LastPaymentFailureAt, &rec.GraceEndsAt, &rec.BillingLockedAt,
		&lastEventID, &rec.LastReconcileAt, &summary,
		&manualLock, &manualReason, &rec.ManualLockAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ExternalCustomerID = customerID.String
	rec.ExternalSubscriptionID = subscriptionID.String
	rec.ExternalPriceID = priceID.String
	rec.BillingStatus = domain.BillingStatus(billingStatus)
	rec.PlanStatus = domain.PlanStatus(planStatus)
	rec.LastExternalEventID = lastEventID.String
	rec.ManualLock = domain.ManualLock(manualLock.String)
	rec.ManualLockReason = manualReason.String
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt

	if len(summary) > 0 {
		var s domain.ReconcileSummary
		if err := json.Unmarshal(summary, &s); err != nil {
			return nil, fmt.Errorf("decode reconcile summary: %w", err)
		}
		rec.LastReconcileSummary = &s
	}

	return &rec, nil
}

func marshalSummary(s *domain.ReconcileSummary) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
