package postgres

import (
	"context"
	"encoding/json"

	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/domain"
)

// AuditSink appends audit entries to the audit_logs table.
type AuditSink struct {
	db DB
}

var _ audit.Sink = (*AuditSink)(nil)

// NewAuditSink creates a new PostgreSQL-backed audit sink.
func NewAuditSink(db DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Write(ctx context.Context, e audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return domain.Internal(err, "audit.write", "failed to encode audit details")
	}
	if e.Details == nil {
		details = []byte("{}")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TenantID, e.Actor, e.Action, details, e.At)
	if err != nil {
		return domain.Internal(err, "audit.write", "failed to write audit entry")
	}
	return nil
}
