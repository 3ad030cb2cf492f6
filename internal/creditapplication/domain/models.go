package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payables/internal/channel"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
)

// CreditApplication records one transfer of credit from a credit note to a
// payable document.
type CreditApplication struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	SupplierID       snowflake.ID    `gorm:"not null" json:"supplier_id"`
	Channel          channel.Channel `gorm:"type:varchar(16);not null" json:"channel"`
	CreditNoteID     snowflake.ID    `gorm:"not null;index" json:"credit_note_id"`
	TargetDocumentID snowflake.ID    `gorm:"not null;index" json:"target_document_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentOrderID   *snowflake.ID   `gorm:"index" json:"payment_order_id,omitempty"`
	AppliedBy        string          `gorm:"type:varchar(128)" json:"applied_by,omitempty"`
	ReversedAt       *time.Time      `json:"reversed_at,omitempty"`
	ReversedBy       *string         `gorm:"type:varchar(128)" json:"reversed_by,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (CreditApplication) TableName() string { return "credit_applications" }

func (a *CreditApplication) IsReversed() bool {
	return a.ReversedAt != nil
}

// Transfer moves Amount of credit from CreditNoteID onto TargetDocumentID.
type Transfer struct {
	CreditNoteID     snowflake.ID
	TargetDocumentID snowflake.ID
	Amount           decimal.Decimal
	PaymentOrderID   *snowflake.ID
	AppliedBy        string
}

// Movements returns the pair of ledger movements a transfer is made of.
// A negative sign produces the reversal pair.
func (t Transfer) Movements(sign int64) []docdomain.Movement {
	amount := t.Amount.Mul(decimal.NewFromInt(sign))
	return []docdomain.Movement{
		{DocumentID: t.CreditNoteID, Kind: docdomain.MovementCreditIssued, Amount: amount},
		{DocumentID: t.TargetDocumentID, Kind: docdomain.MovementCreditReceived, Amount: amount},
	}
}

func (a *CreditApplication) Transfer() Transfer {
	return Transfer{
		CreditNoteID:     a.CreditNoteID,
		TargetDocumentID: a.TargetDocumentID,
		Amount:           a.Amount,
		PaymentOrderID:   a.PaymentOrderID,
		AppliedBy:        a.AppliedBy,
	}
}
