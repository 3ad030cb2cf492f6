package domain

import "github.com/smallbiznis/payables/pkg/apperr"

var (
	ErrInvalidID              = apperr.Validation("invalid_id", "invalid payment order id")
	ErrInvalidSupplier        = apperr.Validation("invalid_supplier", "invalid supplier id")
	ErrInvalidDocument        = apperr.Validation("invalid_document", "invalid document id")
	ErrInvalidCreditNote      = apperr.Validation("invalid_credit_note", "invalid credit note id")
	ErrNoDocuments            = apperr.Validation("no_documents", "a payment order needs at least one document")
	ErrDuplicateLine          = apperr.Validation("duplicate_line", "a document appears more than once in the order")
	ErrInvalidLineAmount      = apperr.Validation("invalid_line_amount", "line amounts must be positive")
	ErrInvalidPaymentMethod   = apperr.Validation("invalid_payment_method", "payment method must be cash, transfer, check, card or other")
	ErrInvalidPaymentAmount   = apperr.Validation("invalid_payment_amount", "payment amounts must be positive")
	ErrAmountScale            = apperr.Validation("invalid_amount_scale", "amounts carry at most 4 decimal places")
	ErrCreditsExceedDocuments = apperr.Validation("credits_exceed_documents", "credit notes total exceeds documents total")
	ErrPaymentsMismatch       = apperr.Validation("payments_mismatch", "payments total does not match net payable")
	ErrDocumentIsCreditNote   = apperr.Validation("document_is_credit_note", "credit notes belong in the credit note lines")
	ErrNotCreditNote          = apperr.Validation("not_a_credit_note", "credit note line references a document that is not a credit note")
	ErrInvalidTransition      = apperr.State("invalid_transition", "payment order cannot move to the requested status")
	ErrNotFound               = apperr.NotFound("payment_order_not_found", "payment order not found")
	ErrStatusChanged          = apperr.Conflict("payment_order_status_changed", "payment order changed concurrently, re-read and retry")
	ErrLineVersionConflict    = apperr.Conflict("line_version_conflict", "a referenced document changed since it was read")
	ErrInvalidNumberFormat    = apperr.New(apperr.KindInternal, "invalid_order_number_format", "order number format is invalid")
)
