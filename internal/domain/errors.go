package domain

import "errors"

var (
	ErrInvoiceNotFound       = errors.New("invoice not found")
	ErrBillingRecordNotFound = errors.New("billing record not found")
	ErrSessionNotFound       = errors.New("purchase session not found")

	// ErrValidation covers missing or malformed request fields.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidArgument covers values the GH-QR encoding cannot represent.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOTP is recoverable: the user may retry or request a new code.
	ErrInvalidOTP = errors.New("otp verification failed")
	// ErrProvider is returned when an upstream OTP/SMS provider failed or was
	// unreachable. Retry is at the caller's discretion.
	ErrProvider = errors.New("provider request failed")
	// ErrPollTimeout aborts the purchase attempt; the invoice stays pending.
	ErrPollTimeout = errors.New("invoice polling timed out")
	// ErrAlreadyFinalized rejects a replayed finalization for an invoice.
	ErrAlreadyFinalized = errors.New("invoice already finalized")
	// ErrInvalidStep rejects a wizard transition not allowed from the current step.
	ErrInvalidStep = errors.New("transition not allowed from current step")
)
