package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payables/internal/channel"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"gorm.io/gorm"
)

type ApplyCreditRequest struct {
	Grant            channel.Grant
	CreditNoteID     string
	TargetDocumentID string
	Amount           decimal.Decimal
	AppliedBy        string
}

type ListByDocumentRequest struct {
	Grant      channel.Grant
	DocumentID string
}

type Service interface {
	ApplyCredit(context.Context, ApplyCreditRequest) (CreditApplication, error)
	ListByDocument(context.Context, ListByDocumentRequest) ([]CreditApplication, error)
}

// Engine runs credit transfers inside a caller-owned transaction. Every
// document referenced by a transfer must already be in docs, locked through
// the document ledger.
type Engine interface {
	TransferTx(ctx context.Context, tx *gorm.DB, docs map[snowflake.ID]*docdomain.SupplierDocument, transfers []Transfer) ([]CreditApplication, error)
	// ReverseTx undoes every live application recorded for the payment order.
	ReverseTx(ctx context.Context, tx *gorm.DB, docs map[snowflake.ID]*docdomain.SupplierDocument, orderID snowflake.ID, reversedBy string) ([]CreditApplication, error)
}
