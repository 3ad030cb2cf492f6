package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	// MovementPayment settles a document with payment instruments.
	MovementPayment MovementKind = "payment"
	// MovementCreditReceived settles a document with credit moved from a credit note.
	MovementCreditReceived MovementKind = "credit_received"
	// MovementCreditIssued consumes a credit note's own balance.
	MovementCreditIssued MovementKind = "credit_issued"
)

// Movement is one signed change to a document's applied totals.
// A positive amount applies, a negative amount reverses.
type Movement struct {
	DocumentID snowflake.ID
	Kind       MovementKind
	Amount     decimal.Decimal
}

func (m Movement) IsReversal() bool {
	return m.Amount.Sign() < 0
}

// ApplyMovement mutates the document in memory and recomputes its balance.
// It leaves the document untouched when the movement would break the balance
// invariant.
func (d *SupplierDocument) ApplyMovement(m Movement) error {
	if m.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if !FitsScale(m.Amount) {
		return ErrAmountScale
	}
	if !m.IsReversal() && d.IsCancelled() {
		return ErrDocumentCancelled
	}

	payments := d.AppliedPaymentsTotal
	credits := d.AppliedCreditsTotal
	issued := d.AppliedAmount

	switch m.Kind {
	case MovementPayment:
		if d.Type.IsCreditNote() {
			return ErrMovementNotAllowed
		}
		payments = payments.Add(m.Amount)
		if payments.Sign() < 0 {
			return ErrReversalExceedsApplied
		}
	case MovementCreditReceived:
		if d.Type.IsCreditNote() {
			return ErrMovementNotAllowed
		}
		credits = credits.Add(m.Amount)
		if credits.Sign() < 0 {
			return ErrReversalExceedsApplied
		}
	case MovementCreditIssued:
		if !d.Type.IsCreditNote() {
			return ErrMovementNotAllowed
		}
		issued = issued.Add(m.Amount)
		if issued.Sign() < 0 {
			return ErrReversalExceedsApplied
		}
	default:
		return ErrMovementNotAllowed
	}

	balance := d.TotalAmount.Sub(payments).Sub(credits).Sub(issued)
	if balance.Sign() < 0 {
		return ErrAmountExceedsBalance
	}
	if balance.GreaterThan(d.TotalAmount) {
		return fmt.Errorf("%w: balance %s exceeds total %s", ErrBalanceInvariant, balance, d.TotalAmount)
	}

	d.AppliedPaymentsTotal = payments
	d.AppliedCreditsTotal = credits
	d.AppliedAmount = issued
	d.Balance = balance
	d.Status = storedStatus(StatusInput{
		Balance:     balance,
		TotalAmount: d.TotalAmount,
		Cancelled:   d.IsCancelled(),
	})
	return nil
}

// CheckInvariant verifies balance = total − payments − credits − issued and 0 ≤ balance ≤ total.
func (d *SupplierDocument) CheckInvariant() error {
	expected := d.TotalAmount.Sub(d.AppliedPaymentsTotal).Sub(d.AppliedCreditsTotal).Sub(d.AppliedAmount)
	if !expected.Equal(d.Balance) {
		return fmt.Errorf("%w: balance %s, expected %s", ErrBalanceInvariant, d.Balance, expected)
	}
	if d.Balance.Sign() < 0 || d.Balance.GreaterThan(d.TotalAmount) {
		return fmt.Errorf("%w: balance %s outside [0, %s]", ErrBalanceInvariant, d.Balance, d.TotalAmount)
	}
	return nil
}

// Recalculate derives balance and the stored status from the applied totals.
func (d *SupplierDocument) Recalculate() {
	d.Balance = d.TotalAmount.Sub(d.AppliedPaymentsTotal).Sub(d.AppliedCreditsTotal).Sub(d.AppliedAmount)
	d.Status = storedStatus(StatusInput{
		Balance:     d.Balance,
		TotalAmount: d.TotalAmount,
		Cancelled:   d.IsCancelled(),
	})
}
