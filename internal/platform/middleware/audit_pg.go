package middleware

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGAuditRecorder writes audit entries to the management audit_log table.
type PGAuditRecorder struct {
	db execer
}

func NewPGAuditRecorder(db execer) *PGAuditRecorder {
	return &PGAuditRecorder{db: db}
}

func (r *PGAuditRecorder) RecordAccess(ctx context.Context, e AuditEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (tenant_slug, user_id, action, resource_type, resource_id, patient_id,
			method, path, status, ip_address, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		nullIfEmpty(e.TenantSlug), nullIfEmpty(e.UserID), e.Action, e.ResourceType,
		nullIfEmpty(e.ResourceID), nullIfEmpty(e.PatientID), e.Method, e.Path, e.StatusCode,
		e.IPAddress, e.UserAgent, nullIfEmpty(e.RequestID), e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
