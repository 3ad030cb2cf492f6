package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payables/internal/channel"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// CanTransition reports whether an order may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodCheck    PaymentMethod = "check"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodOther    PaymentMethod = "other"
)

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); method {
	case PaymentMethodCash, PaymentMethodTransfer, PaymentMethodCheck, PaymentMethodCard, PaymentMethodOther:
		return method, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// PaymentOrder settles documents of one supplier on one channel with credit
// notes and payment instruments.
type PaymentOrder struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrderNumber      string          `gorm:"type:varchar(64);not null" json:"order_number"`
	Sequence         int64           `gorm:"not null" json:"sequence"`
	SupplierID       snowflake.ID    `gorm:"not null;index:ix_payment_orders_scope,priority:1" json:"supplier_id"`
	Channel          channel.Channel `gorm:"type:varchar(16);not null;index:ix_payment_orders_scope,priority:2" json:"channel"`
	Date             time.Time       `gorm:"not null" json:"date"`
	Status           Status          `gorm:"type:varchar(16);not null;index" json:"status"`
	DocumentsTotal   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"documents_total"`
	CreditNotesTotal decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"credit_notes_total"`
	PaymentsTotal    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"payments_total"`
	NetPayable       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_payable"`
	Notes            string          `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy        string          `gorm:"type:varchar(128)" json:"created_by,omitempty"`
	ApprovedBy       *string         `gorm:"type:varchar(128)" json:"approved_by,omitempty"`
	ConfirmedAt      *time.Time      `json:"confirmed_at,omitempty"`
	CancelledBy      *string         `gorm:"type:varchar(128)" json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason     *string         `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`

	Documents   []PaymentOrderDocument   `gorm:"-" json:"documents"`
	CreditNotes []PaymentOrderCreditNote `gorm:"-" json:"credit_notes"`
	Payments    []PaymentOrderPayment    `gorm:"-" json:"payments"`
}

// TableName sets the database table name.
func (PaymentOrder) TableName() string { return "payment_orders" }

// PaymentOrderDocument is one payable line. AppliedAmount is split into the
// part settled by credit notes and the part settled by payments.
type PaymentOrderDocument struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	PaymentOrderID snowflake.ID    `gorm:"not null;index" json:"payment_order_id"`
	DocumentID     snowflake.ID    `gorm:"not null;index" json:"document_id"`
	AppliedAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"applied_amount"`
	CreditedAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"credited_amount"`
	PaidAmount     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"paid_amount"`
}

func (PaymentOrderDocument) TableName() string { return "payment_order_documents" }

type PaymentOrderCreditNote struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	PaymentOrderID snowflake.ID    `gorm:"not null;index" json:"payment_order_id"`
	CreditNoteID   snowflake.ID    `gorm:"not null;index" json:"credit_note_id"`
	AppliedAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"applied_amount"`
}

func (PaymentOrderCreditNote) TableName() string { return "payment_order_credit_notes" }

type PaymentOrderPayment struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	PaymentOrderID snowflake.ID    `gorm:"not null;index" json:"payment_order_id"`
	Method         PaymentMethod   `gorm:"type:varchar(16);not null" json:"method"`
	Reference      *string         `gorm:"type:varchar(128)" json:"reference,omitempty"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
}

func (PaymentOrderPayment) TableName() string { return "payment_order_payments" }

// DocumentIDs lists every supplier document the order references.
func (o *PaymentOrder) DocumentIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(o.Documents)+len(o.CreditNotes))
	for _, line := range o.Documents {
		ids = append(ids, line.DocumentID)
	}
	for _, line := range o.CreditNotes {
		ids = append(ids, line.CreditNoteID)
	}
	return ids
}
