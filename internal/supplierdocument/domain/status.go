package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusInput is everything status derivation depends on besides the clock.
type StatusInput struct {
	Balance     decimal.Decimal
	TotalAmount decimal.Decimal
	DueDate     *time.Time
	Cancelled   bool
}

// DeriveStatus computes a document status. It is pure: the same input, now and
// window always produce the same status. Every reader goes through it.
func DeriveStatus(in StatusInput, now time.Time, alertWindow time.Duration) Status {
	switch {
	case in.Cancelled:
		return StatusCancelled
	case in.Balance.Sign() <= 0:
		return StatusApplied
	case in.Balance.LessThan(in.TotalAmount):
		return StatusPartiallyApplied
	}

	if in.DueDate == nil {
		return StatusPending
	}
	due := in.DueDate.UTC()
	now = now.UTC()
	if due.Before(now) {
		return StatusOverdue
	}
	if due.Sub(now) <= alertWindow {
		return StatusDueSoon
	}
	return StatusPending
}

// storedStatus is the label persisted with a mutation. Time-driven labels are
// never stored; they are derived on read.
func storedStatus(in StatusInput) Status {
	switch {
	case in.Cancelled:
		return StatusCancelled
	case in.Balance.Sign() <= 0:
		return StatusApplied
	case in.Balance.LessThan(in.TotalAmount):
		return StatusPartiallyApplied
	default:
		return StatusPending
	}
}

// IsAlert reports whether the status counts toward due-date alerting.
func (s Status) IsAlert() bool {
	return s == StatusDueSoon || s == StatusOverdue
}
