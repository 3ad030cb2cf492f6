package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	window := 7 * 24 * time.Hour
	due := func(days int) *time.Time {
		d := now.AddDate(0, 0, days)
		return &d
	}
	total := decimal.NewFromInt(1000)

	cases := []struct {
		name string
		in   StatusInput
		want Status
	}{
		{"cancelled wins", StatusInput{Balance: total, TotalAmount: total, DueDate: due(-3), Cancelled: true}, StatusCancelled},
		{"fully applied", StatusInput{Balance: decimal.Zero, TotalAmount: total, DueDate: due(-3)}, StatusApplied},
		{"partially applied ignores due date", StatusInput{Balance: decimal.NewFromInt(400), TotalAmount: total, DueDate: due(-3)}, StatusPartiallyApplied},
		{"no due date", StatusInput{Balance: total, TotalAmount: total}, StatusPending},
		{"past due", StatusInput{Balance: total, TotalAmount: total, DueDate: due(-1)}, StatusOverdue},
		{"inside window", StatusInput{Balance: total, TotalAmount: total, DueDate: due(3)}, StatusDueSoon},
		{"window boundary", StatusInput{Balance: total, TotalAmount: total, DueDate: due(7)}, StatusDueSoon},
		{"beyond window", StatusInput{Balance: total, TotalAmount: total, DueDate: due(8)}, StatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.in, now, window))
		})
	}
}

func TestDeriveStatusIsStableForSameInput(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	d := now.AddDate(0, 0, 2)
	in := StatusInput{Balance: decimal.NewFromInt(5), TotalAmount: decimal.NewFromInt(5), DueDate: &d}

	first := DeriveStatus(in, now, 7*24*time.Hour)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, DeriveStatus(in, now, 7*24*time.Hour))
	}
}

func TestStoredStatusNeverTimeDriven(t *testing.T) {
	total := decimal.NewFromInt(10)
	assert.Equal(t, StatusPending, storedStatus(StatusInput{Balance: total, TotalAmount: total}))
	assert.Equal(t, StatusPartiallyApplied, storedStatus(StatusInput{Balance: decimal.NewFromInt(3), TotalAmount: total}))
	assert.Equal(t, StatusApplied, storedStatus(StatusInput{Balance: decimal.Zero, TotalAmount: total}))
	assert.Equal(t, StatusCancelled, storedStatus(StatusInput{Balance: total, TotalAmount: total, Cancelled: true}))
}

func TestIsAlert(t *testing.T) {
	assert.True(t, StatusDueSoon.IsAlert())
	assert.True(t, StatusOverdue.IsAlert())
	assert.False(t, StatusPending.IsAlert())
	assert.False(t, StatusApplied.IsAlert())
}
