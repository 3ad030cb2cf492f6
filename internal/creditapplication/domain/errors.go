package domain

import "github.com/smallbiznis/payables/pkg/apperr"

var (
	ErrInvalidCreditNote     = apperr.Validation("invalid_credit_note", "invalid credit note id")
	ErrInvalidTarget         = apperr.Validation("invalid_target_document", "invalid target document id")
	ErrInvalidAmount         = apperr.Validation("invalid_amount", "amount must be positive")
	ErrSameDocument          = apperr.Validation("same_document", "credit note cannot be applied to itself")
	ErrNotCreditNote         = apperr.Validation("not_a_credit_note", "source document is not a credit note")
	ErrTargetIsCreditNote    = apperr.Validation("target_is_credit_note", "credit cannot be applied to a credit note")
	ErrSupplierMismatch      = apperr.Validation("supplier_mismatch", "credit note and target belong to different suppliers")
	ErrApplicationNotFound   = apperr.NotFound("credit_application_not_found", "credit application not found")
)
