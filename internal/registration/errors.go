package registration

import (
	"errors"

	"eventreg/internal/validation"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDuplicate
	KindNotFound
	KindStorage
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error is returned by every Service operation. Message is safe to show to
// the user; Err keeps the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Fields  validation.FieldErrors
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Errors not produced by this package are KindUnknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

const (
	MsgEventNotFound        = "Event not found"
	MsgRegistrationNotFound = "Registration not found"
	MsgDuplicate            = "This registration number is already registered for the event."
	MsgTransactionRequired  = "Transaction ID is required"
	MsgAlreadySubmitted     = "Payment has already been submitted for this registration"
	MsgPaymentSubmitted     = "Payment submitted for verification. You'll receive a confirmation email shortly."
	MsgFileType             = "Only JPG, PNG, and PDF files are allowed"
	MsgFileSize             = "File size must be less than 5MB"
	MsgStorageRetry         = "We could not reach storage. Please try again in a moment."
	MsgUnknown              = "Something went wrong. Please try again later."
)

// Field keys used outside the member rules.
const (
	FieldTransactionID = "transactionId"
	FieldScreenshot    = "screenshot"
)

func validationError(fields validation.FieldErrors) *Error {
	_, msg := fields.First()
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

func fieldError(field, msg string) *Error {
	return validationError(validation.FieldErrors{field: msg})
}
