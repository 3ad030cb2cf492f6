package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/pkg/db/pagination"
)

type CreateDocumentRequest struct {
	Grant          channel.Grant
	SupplierID     string
	Type           DocumentType
	PointOfSale    *string
	DocumentNumber string
	IssueDate      time.Time
	DueDate        *time.Time
	TotalAmount    decimal.Decimal
	ImpactsStock   bool
	ImpactsCosts   bool
	Notes          string
	CreatedBy      string
}

// UpdateDocumentRequest carries the editable fields. Nil fields are left as they are.
type UpdateDocumentRequest struct {
	Grant           channel.Grant
	ID              string
	PointOfSale     *string
	DocumentNumber  *string
	IssueDate       *time.Time
	DueDate         *time.Time
	ImpactsStock    *bool
	ImpactsCosts    *bool
	Notes           *string
	// ExpectedVersion rejects the update when the document changed since it was read.
	ExpectedVersion *int64
	UpdatedBy       string
}

type CancelDocumentRequest struct {
	Grant           channel.Grant
	ID              string
	ExpectedVersion *int64
	CancelledBy     string
}

type GetDocumentRequest struct {
	Grant channel.Grant
	ID    string
}

type ListDocumentRequest struct {
	Grant      channel.Grant
	PageToken  string
	PageSize   int32
	SupplierID string
	Type       DocumentType
	Status     Status
	IssuedFrom *time.Time
	IssuedTo   *time.Time
}

type ListDocumentResponse struct {
	pagination.PageInfo
	Documents []SupplierDocument `json:"documents"`
}

type ListOpenRequest struct {
	Grant      channel.Grant
	SupplierID string
}

type SupplierBalanceRequest struct {
	Grant      channel.Grant
	SupplierID string
}

// SupplierBalance summarizes what is owed to one supplier on one channel.
type SupplierBalance struct {
	SupplierID        string          `json:"supplier_id"`
	Channel           channel.Channel `json:"channel"`
	OpenDocuments     int             `json:"open_documents"`
	OpenBalance       decimal.Decimal `json:"open_balance"`
	OverdueBalance    decimal.Decimal `json:"overdue_balance"`
	DueSoonBalance    decimal.Decimal `json:"due_soon_balance"`
	AvailableCredit   decimal.Decimal `json:"available_credit"`
	NetPayableBalance decimal.Decimal `json:"net_payable_balance"`
}

type CountAlertsRequest struct {
	// SupplierID narrows the count to one supplier when set.
	SupplierID string
}

type AlertCounts struct {
	DueSoon int `json:"due_soon"`
	Overdue int `json:"overdue"`
}

type Service interface {
	Create(context.Context, CreateDocumentRequest) (SupplierDocument, error)
	Update(context.Context, UpdateDocumentRequest) (SupplierDocument, error)
	Cancel(context.Context, CancelDocumentRequest) (SupplierDocument, error)
	GetByID(context.Context, GetDocumentRequest) (SupplierDocument, error)
	List(context.Context, ListDocumentRequest) (ListDocumentResponse, error)
	ListOpenDocuments(context.Context, ListOpenRequest) ([]SupplierDocument, error)
	ListOpenCreditNotes(context.Context, ListOpenRequest) ([]SupplierDocument, error)
	SupplierBalance(context.Context, SupplierBalanceRequest) (SupplierBalance, error)
	CountAlerts(context.Context, CountAlertsRequest) (AlertCounts, error)
}
