package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/pkg/apperr"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Grant      channel.Grant
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

// Entry describes one audited ledger change.
type Entry struct {
	Channel    channel.Channel
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Service interface {
	// Record appends entry. Passing the caller's transaction as tx makes the
	// entry commit or roll back with the audited change; nil uses the service
	// connection.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = apperr.Validation("invalid_page_token", "invalid page token")
	ErrInvalidTimeRange = apperr.Validation("invalid_time_range", "start_at must not be after end_at")
	ErrInvalidAction    = apperr.Validation("invalid_action", "audit action is required")
)
