package core

import (
	"context"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionPrepare         AuditAction = "index_prepare"
	ActionBatchCommit     AuditAction = "batch_commit"
	ActionBulkUpload      AuditAction = "bulk_upload"
	ActionBulkDelete      AuditAction = "bulk_delete"
	ActionMarksCorrection AuditAction = "marks_correction"
	ActionSessionOpen     AuditAction = "upload_session_open"
	ActionSessionClose    AuditAction = "upload_session_close"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditLogParams contains parameters for creating an audit log entry.
// Severity, IPAddress and UserAgent are filled in by the service.
type AuditLogParams struct {
	Action       AuditAction
	Severity     AuditSeverity
	Actor        string
	IPAddress    string
	UserAgent    string
	EntityID     string
	UploadID     string
	OldValue     string
	NewValue     string
	Reason       string
	RowsAffected int
	Details      map[string]any
}

// determineSeverity returns the appropriate severity for an action.
// Changing recorded marks is the most sensitive operation in the system.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionMarksCorrection:
		return SeverityCritical
	case ActionBulkUpload, ActionBatchCommit, ActionBulkDelete:
		return SeverityHigh
	case ActionPrepare, ActionSessionOpen, ActionSessionClose:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// logAudit writes a general audit_log row. Failures are logged and
// swallowed: the operation being audited has already been committed and
// corrections carry their own transactional record.
func (s *Service) logAudit(ctx context.Context, params AuditLogParams) {
	params.Severity = determineSeverity(params.Action)
	if params.IPAddress == "" {
		params.IPAddress = GetIPAddressFromContext(ctx)
	}
	if params.UserAgent == "" {
		params.UserAgent = GetUserAgentFromContext(ctx)
	}
	if params.Actor == "" {
		params.Actor = GetActorFromContext(ctx)
	}

	// the request may already be cancelled; the row should still land
	if err := s.store.InsertAuditLog(context.WithoutCancel(ctx), params); err != nil {
		s.logger(ctx).Warn("audit log write failed",
			"action", params.Action,
			"entity_id", params.EntityID,
			"error", err,
		)
	}
}
