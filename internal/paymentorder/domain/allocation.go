package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
)

// Tolerance is the rounding slack allowed between net payable and payments.
var Tolerance = decimal.RequireFromString("0.01")

type DocumentLine struct {
	DocumentID    snowflake.ID
	AppliedAmount decimal.Decimal
}

type CreditNoteLine struct {
	CreditNoteID  snowflake.ID
	AppliedAmount decimal.Decimal
}

type Payment struct {
	Method    PaymentMethod
	Reference *string
	Amount    decimal.Decimal
}

type Totals struct {
	DocumentsTotal   decimal.Decimal
	CreditNotesTotal decimal.Decimal
	PaymentsTotal    decimal.Decimal
	NetPayable       decimal.Decimal
}

// ComputeTotals sums the lines and checks that payments cover the net payable
// within Tolerance.
func ComputeTotals(documents []DocumentLine, credits []CreditNoteLine, payments []Payment) (Totals, error) {
	if len(documents) == 0 {
		return Totals{}, ErrNoDocuments
	}

	totals := Totals{
		DocumentsTotal:   decimal.Zero,
		CreditNotesTotal: decimal.Zero,
		PaymentsTotal:    decimal.Zero,
	}
	seen := make(map[snowflake.ID]struct{}, len(documents)+len(credits))
	for _, line := range documents {
		if line.AppliedAmount.Sign() <= 0 {
			return Totals{}, ErrInvalidLineAmount
		}
		if !docdomain.FitsScale(line.AppliedAmount) {
			return Totals{}, ErrAmountScale
		}
		if _, ok := seen[line.DocumentID]; ok {
			return Totals{}, ErrDuplicateLine
		}
		seen[line.DocumentID] = struct{}{}
		totals.DocumentsTotal = totals.DocumentsTotal.Add(line.AppliedAmount)
	}
	for _, line := range credits {
		if line.AppliedAmount.Sign() <= 0 {
			return Totals{}, ErrInvalidLineAmount
		}
		if !docdomain.FitsScale(line.AppliedAmount) {
			return Totals{}, ErrAmountScale
		}
		if _, ok := seen[line.CreditNoteID]; ok {
			return Totals{}, ErrDuplicateLine
		}
		seen[line.CreditNoteID] = struct{}{}
		totals.CreditNotesTotal = totals.CreditNotesTotal.Add(line.AppliedAmount)
	}
	for _, p := range payments {
		if p.Amount.Sign() <= 0 {
			return Totals{}, ErrInvalidPaymentAmount
		}
		if !docdomain.FitsScale(p.Amount) {
			return Totals{}, ErrAmountScale
		}
		totals.PaymentsTotal = totals.PaymentsTotal.Add(p.Amount)
	}

	if totals.CreditNotesTotal.GreaterThan(totals.DocumentsTotal) {
		return Totals{}, ErrCreditsExceedDocuments
	}
	totals.NetPayable = decimal.Max(decimal.Zero, totals.DocumentsTotal.Sub(totals.CreditNotesTotal))
	if totals.NetPayable.Sub(totals.PaymentsTotal).Abs().GreaterThan(Tolerance) {
		return Totals{}, ErrPaymentsMismatch
	}
	return totals, nil
}

// CreditSplit is the part of one credit note line allocated to one document.
type CreditSplit struct {
	CreditNoteID snowflake.ID
	DocumentID   snowflake.ID
	Amount       decimal.Decimal
}

// Allocation is how an order settles each document line.
type Allocation struct {
	Splits []CreditSplit
	// Credited and Paid are keyed by document id. Credited + Paid equals the
	// line's applied amount.
	Credited map[snowflake.ID]decimal.Decimal
	Paid     map[snowflake.ID]decimal.Decimal
}

// Allocate spreads credit note lines over document lines in the order given,
// filling each document before moving to the next. Whatever credit does not
// cover is settled as payment. Credits must not exceed documents.
func Allocate(documents []DocumentLine, credits []CreditNoteLine) Allocation {
	alloc := Allocation{
		Credited: make(map[snowflake.ID]decimal.Decimal, len(documents)),
		Paid:     make(map[snowflake.ID]decimal.Decimal, len(documents)),
	}
	remaining := make([]decimal.Decimal, len(documents))
	for i, line := range documents {
		remaining[i] = line.AppliedAmount
		alloc.Credited[line.DocumentID] = decimal.Zero
	}

	docIdx := 0
	for _, credit := range credits {
		left := credit.AppliedAmount
		for left.Sign() > 0 && docIdx < len(documents) {
			if remaining[docIdx].Sign() == 0 {
				docIdx++
				continue
			}
			take := decimal.Min(left, remaining[docIdx])
			docID := documents[docIdx].DocumentID
			alloc.Splits = append(alloc.Splits, CreditSplit{
				CreditNoteID: credit.CreditNoteID,
				DocumentID:   docID,
				Amount:       take,
			})
			alloc.Credited[docID] = alloc.Credited[docID].Add(take)
			remaining[docIdx] = remaining[docIdx].Sub(take)
			left = left.Sub(take)
		}
	}

	for i, line := range documents {
		alloc.Paid[line.DocumentID] = remaining[i]
	}
	return alloc
}
