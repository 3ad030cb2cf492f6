package domain

import "github.com/smallbiznis/payables/pkg/apperr"

var (
	ErrInvalidID              = apperr.Validation("invalid_id", "invalid document id")
	ErrInvalidSupplier        = apperr.Validation("invalid_supplier", "invalid supplier id")
	ErrInvalidType            = apperr.Validation("invalid_type", "document type is not allowed in this channel")
	ErrInvalidDocumentNumber  = apperr.Validation("invalid_document_number", "document number is required")
	ErrInvalidIssueDate       = apperr.Validation("invalid_issue_date", "issue date is required")
	ErrDueDateRequired        = apperr.Validation("due_date_required", "due date is required for this document type")
	ErrDueDateNotAllowed      = apperr.Validation("due_date_not_allowed", "credit notes and delivery notes carry no due date")
	ErrDueBeforeIssue         = apperr.Validation("due_date_before_issue_date", "due date precedes issue date")
	ErrInvalidTotalAmount     = apperr.Validation("invalid_total_amount", "total amount must be positive")
	ErrTotalImmutable         = apperr.Validation("total_amount_immutable", "total amount is fixed at creation")
	ErrInvalidAmount          = apperr.Validation("invalid_amount", "amount must be positive")
	ErrAmountScale            = apperr.Validation("invalid_amount_scale", "amounts carry at most 4 decimal places")
	ErrInvalidFlags           = apperr.Validation("invalid_flags", "stock and cost flags are only kept on the internal channel")
	ErrDuplicateNumber        = apperr.Validation("duplicate_document_number", "document number already exists for this supplier")
	ErrAmountExceedsBalance   = apperr.Validation("amount_exceeds_balance", "amount exceeds the document balance")
	ErrDocumentCancelled      = apperr.Validation("document_cancelled", "document is cancelled")
	ErrAlreadyCancelled       = apperr.State("document_already_cancelled", "document is already cancelled")
	ErrMovementNotAllowed     = apperr.Validation("movement_not_allowed", "movement kind does not apply to this document type")
	ErrReversalExceedsApplied = apperr.State("reversal_exceeds_applied", "reversal exceeds the amount applied to the document")
	ErrHasApplications        = apperr.State("document_has_applications", "document has applied payments or credits")
	ErrNotFound               = apperr.NotFound("document_not_found", "document not found")
	ErrStaleVersion           = apperr.Conflict("document_version_conflict", "document changed concurrently, re-read and retry")
	ErrBalanceInvariant       = apperr.New(apperr.KindInternal, "balance_invariant", "document balance invariant violated")
)
