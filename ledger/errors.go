/*
errors.go - Error kinds and stable codes for the ledger and transfer service

PURPOSE:
  Every failure raised by the engine carries a kind (sentinel, for errors.Is)
  and a stable code (string, for clients). The HTTP layer maps kinds to
  status codes; it never inspects messages.

ERROR CATEGORIES:
  1. NotFound                - transfer / actor / store / campaign missing
  2. ValidationFailed        - bad input or broken business precondition
  3. InvalidStatusTransition - forbidden edge in the status table
  4. NotEditable, LimitedEdit, NotDeletable - editability rules
  5. ConcurrentModification  - state changed between read and write

USAGE:

    if errors.Is(err, ledger.ErrLimitedEdit) { ... }
    code := ledger.CodeOf(err) // "LIMITED_EDIT"

SEE ALSO:
  - api/handlers.go: kind -> HTTP status
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound                = errors.New("not found")
	ErrValidationFailed        = errors.New("validation failed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrNotEditable is returned for any edit of a cancelled transfer.
	ErrNotEditable = errors.New("transfer is not editable")

	// ErrLimitedEdit is returned when a validated transfer is edited beyond
	// its product list.
	ErrLimitedEdit = errors.New("only products can be edited on a validated transfer")

	// ErrNotDeletable is returned when a validated transfer is deleted
	// without being cancelled first.
	ErrNotDeletable = errors.New("validated transfer must be cancelled before deletion")

	// ErrConcurrentModification is returned when the stored status no longer
	// matches the one the operation was decided on.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// CODES
// =============================================================================

const (
	CodeTransferNotFound = "TRANSFER_NOT_FOUND"
	CodeActorNotFound    = "ACTOR_NOT_FOUND"
	CodeStoreNotFound    = "STORE_NOT_FOUND"
	CodeCampaignNotFound = "CAMPAIGN_NOT_FOUND"

	CodeNoActiveCampaign      = "NO_ACTIVE_CAMPAIGN"
	CodeSenderStoreRequired   = "SENDER_STORE_REQUIRED"
	CodeReceiverStoreRequired = "RECEIVER_STORE_REQUIRED"
	CodeStoreNotInCampaign    = "STORE_NOT_IN_CAMPAIGN"
	CodeNoProducts            = "NO_PRODUCTS"
	CodeDuplicateQuality      = "DUPLICATE_QUALITY"
	CodeInvalidQuantity       = "INVALID_QUANTITY"
	CodeActorInactive         = "ACTOR_INACTIVE"
	CodeReceiverNotOPA        = "RECEIVER_NOT_OPA"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeInvalidTransferType   = "INVALID_TRANSFER_TYPE"

	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeNotEditable             = "NOT_EDITABLE"
	CodeLimitedEdit             = "LIMITED_EDIT"
	CodeNotDeletable            = "NOT_DELETABLE"
	CodeConcurrentModification  = "CONCURRENT_MODIFICATION"

	CodeInternal = "INTERNAL_ERROR"
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is a classified failure. Kind is one of the sentinels above.
type Error struct {
	Kind    error
	Code    string
	Message string
	Details map[string]any
}

func NewError(kind error, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a key/value pair rendered to clients alongside the code.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsConflict returns true if the request was well-formed but the current
// state of the transfer forbids it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrNotEditable) ||
		errors.Is(err, ErrLimitedEdit) ||
		errors.Is(err, ErrNotDeletable) ||
		errors.Is(err, ErrConcurrentModification)
}

// CodeOf returns the stable code carried by err, falling back to the
// default code of its kind.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidationFailed):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrInvalidStatusTransition):
		return CodeInvalidStatusTransition
	case errors.Is(err, ErrNotEditable):
		return CodeNotEditable
	case errors.Is(err, ErrLimitedEdit):
		return CodeLimitedEdit
	case errors.Is(err, ErrNotDeletable):
		return CodeNotDeletable
	case errors.Is(err, ErrConcurrentModification):
		return CodeConcurrentModification
	}
	return CodeInternal
}
