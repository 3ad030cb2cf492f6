package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payables/internal/channel"
)

type DocumentType string

const (
	DocumentTypeInvoice            DocumentType = "INVOICE"
	DocumentTypeInvoiceA           DocumentType = "INVOICE_A"
	DocumentTypeInvoiceB           DocumentType = "INVOICE_B"
	DocumentTypeInvoiceC           DocumentType = "INVOICE_C"
	DocumentTypeDebitNote          DocumentType = "DEBIT_NOTE"
	DocumentTypeCreditNote         DocumentType = "CREDIT_NOTE"
	DocumentTypeFiscalDeliveryNote DocumentType = "FISCAL_DELIVERY_NOTE"
)

// RequiresDueDate reports whether documents of this type carry a due date.
func (t DocumentType) RequiresDueDate() bool {
	switch t {
	case DocumentTypeInvoice, DocumentTypeInvoiceA, DocumentTypeInvoiceB, DocumentTypeInvoiceC, DocumentTypeDebitNote:
		return true
	default:
		return false
	}
}

func (t DocumentType) IsCreditNote() bool {
	return t == DocumentTypeCreditNote
}

// AllowedIn reports whether the type may be filed under ch.
func (t DocumentType) AllowedIn(ch channel.Channel) bool {
	switch ch {
	case channel.Fiscal:
		switch t {
		case DocumentTypeInvoice, DocumentTypeInvoiceA, DocumentTypeInvoiceB, DocumentTypeInvoiceC,
			DocumentTypeDebitNote, DocumentTypeCreditNote, DocumentTypeFiscalDeliveryNote:
			return true
		}
	case channel.Internal:
		switch t {
		case DocumentTypeInvoice, DocumentTypeDebitNote, DocumentTypeCreditNote:
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusDueSoon          Status = "DUE_SOON"
	StatusOverdue          Status = "OVERDUE"
	StatusPartiallyApplied Status = "PARTIALLY_APPLIED"
	StatusApplied          Status = "APPLIED"
	StatusCancelled        Status = "CANCELLED"
)

// SupplierDocument is an amount owed to (or, for credit notes, owed by) a supplier.
type SupplierDocument struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	SupplierID           snowflake.ID    `gorm:"not null;index:ix_supplier_documents_scope,priority:1" json:"supplier_id"`
	Channel              channel.Channel `gorm:"type:varchar(16);not null;index:ix_supplier_documents_scope,priority:2" json:"channel"`
	Type                 DocumentType    `gorm:"type:varchar(32);not null" json:"type"`
	PointOfSale          *string         `gorm:"type:varchar(16)" json:"point_of_sale,omitempty"`
	DocumentNumber       string          `gorm:"type:varchar(64);not null" json:"document_number"`
	IssueDate            time.Time       `gorm:"not null" json:"issue_date"`
	DueDate              *time.Time      `json:"due_date,omitempty"`
	TotalAmount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	AppliedPaymentsTotal decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"applied_payments_total"`
	AppliedCreditsTotal  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"applied_credits_total"`
	AppliedAmount        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"applied_amount"`
	Balance              decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance"`
	Status               Status          `gorm:"type:varchar(32);not null;index" json:"status"`
	ImpactsStock         bool            `gorm:"not null;default:false" json:"impacts_stock"`
	ImpactsCosts         bool            `gorm:"not null;default:false" json:"impacts_costs"`
	Notes                string          `gorm:"type:text" json:"notes,omitempty"`
	Version              int64           `gorm:"not null;default:1" json:"version"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt            time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (SupplierDocument) TableName() string { return "supplier_documents" }

func (d *SupplierDocument) IsCancelled() bool {
	return d.CancelledAt != nil || d.Status == StatusCancelled
}

// HasApplications reports whether any amount has moved against the document.
func (d *SupplierDocument) HasApplications() bool {
	return !d.AppliedPaymentsTotal.IsZero() || !d.AppliedCreditsTotal.IsZero() || !d.AppliedAmount.IsZero()
}

// StatusAt derives the document status at now.
func (d *SupplierDocument) StatusAt(now time.Time, alertWindow time.Duration) Status {
	return DeriveStatus(StatusInput{
		Balance:     d.Balance,
		TotalAmount: d.TotalAmount,
		DueDate:     d.DueDate,
		Cancelled:   d.IsCancelled(),
	}, now, alertWindow)
}

// Scope pins reads and writes to one supplier on one channel.
type Scope struct {
	SupplierID snowflake.ID
	Channel    channel.Channel
}

func (s Scope) Contains(doc *SupplierDocument) bool {
	return doc != nil && doc.SupplierID == s.SupplierID && doc.Channel == s.Channel
}
