package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	sentinel := Validation("amount_exceeds_balance", "amount exceeds balance")
	wrapped := fmt.Errorf("document 42: %w", sentinel)

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, "amount_exceeds_balance", CodeOf(wrapped))
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsConflict(wrapped))
}

func TestKindOfUnclassifiedError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal_error", CodeOf(err))
	_, ok := As(err)
	assert.False(t, ok)
}

func TestErrorMessageFallsBackToCode(t *testing.T) {
	assert.Equal(t, "stale_version", Conflict("stale_version", "").Error())
	assert.Equal(t, "order is cancelled", State("order_cancelled", "order is cancelled").Error())
}
