package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/pkg/db/pagination"
)

type DocumentLineRequest struct {
	DocumentID    string          `json:"document_id"`
	AppliedAmount decimal.Decimal `json:"applied_amount"`
	// ExpectedVersion fails the order with a conflict when the document moved
	// since the caller read it.
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type CreditNoteLineRequest struct {
	CreditNoteID    string          `json:"credit_note_id"`
	AppliedAmount   decimal.Decimal `json:"applied_amount"`
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
}

type PaymentRequest struct {
	Method    string          `json:"method"`
	Reference *string         `json:"reference,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

type CreatePaymentOrderRequest struct {
	Grant       channel.Grant
	SupplierID  string
	Documents   []DocumentLineRequest
	CreditNotes []CreditNoteLineRequest
	Payments    []PaymentRequest
	Notes       string
	Date        *time.Time
	CreatedBy   string
}

type ConfirmPaymentOrderRequest struct {
	Grant      channel.Grant
	ID         string
	ApprovedBy string
}

type CancelPaymentOrderRequest struct {
	Grant       channel.Grant
	ID          string
	CancelledBy string
	Reason      string
}

type GetPaymentOrderRequest struct {
	Grant channel.Grant
	ID    string
}

type ListPaymentOrderRequest struct {
	Grant      channel.Grant
	PageToken  string
	PageSize   int32
	SupplierID string
	Status     Status
}

type ListPaymentOrderResponse struct {
	pagination.PageInfo
	PaymentOrders []PaymentOrder `json:"payment_orders"`
}

type Service interface {
	Create(context.Context, CreatePaymentOrderRequest) (PaymentOrder, error)
	Confirm(context.Context, ConfirmPaymentOrderRequest) (PaymentOrder, error)
	Cancel(context.Context, CancelPaymentOrderRequest) (PaymentOrder, error)
	GetByID(context.Context, GetPaymentOrderRequest) (PaymentOrder, error)
	List(context.Context, ListPaymentOrderRequest) (ListPaymentOrderResponse, error)
}
