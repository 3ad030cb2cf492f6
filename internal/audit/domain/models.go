package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/channel"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

const (
	TargetSupplierDocument  = "supplier_document"
	TargetCreditApplication = "credit_application"
	TargetPaymentOrder      = "payment_order"
)

const (
	ActionDocumentCreate      = "supplier_document.create"
	ActionDocumentUpdate      = "supplier_document.update"
	ActionDocumentCancel      = "supplier_document.cancel"
	ActionCreditApply         = "credit_application.apply"
	ActionPaymentOrderCreate  = "payment_order.create"
	ActionPaymentOrderConfirm = "payment_order.confirm"
	ActionPaymentOrderCancel  = "payment_order.cancel"
)

// AuditLog is an append-only record of who did what to which ledger record.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	Channel    channel.Channel   `gorm:"type:varchar(16);not null;index" json:"channel"`
	ActorType  string            `gorm:"type:varchar(16);not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:varchar(128)" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType string            `gorm:"type:varchar(64);not null" json:"target_type"`
	TargetID   *string           `gorm:"type:varchar(64);index" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Channel    channel.Channel
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
