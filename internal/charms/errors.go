package charms

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a verification failure with a category code.
//
// Categories:
//   - MalformedSpell: structural invariant violated, found before execution
//   - InconsistentAncestry: ancestor set mismatch or unbound beam
//   - MissingBinary: no contract binary for a declared verification key
//   - IntegrityError: binary hash differs from the declared verification key
//   - ResourceExhausted: execution budget exceeded
//   - ContractRejected: the contract signalled an invalid transaction
//   - HostFault: the sandbox itself failed (bad memory access, bad module)
//
// Verification is deterministic, so none of these are retryable.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// App is the offending app, if any.
	App *App

	// Utxo is the offending input or output, if any.
	Utxo *UtxoID

	// TxID is the offending ancestor transaction, if any.
	TxID *TxID

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes verification errors.
type ErrorCode string

const (
	ErrCodeMalformedSpell       ErrorCode = "MALFORMED_SPELL"
	ErrCodeInconsistentAncestry ErrorCode = "INCONSISTENT_ANCESTRY"
	ErrCodeMissingBinary        ErrorCode = "MISSING_BINARY"
	ErrCodeIntegrity            ErrorCode = "INTEGRITY_ERROR"
	ErrCodeResourceExhausted    ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeContractRejected     ErrorCode = "CONTRACT_REJECTED"
	ErrCodeHostFault            ErrorCode = "HOST_FAULT"
)

// Errorf creates an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error around a cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithApp records the offending app.
func (e *Error) WithApp(app App) *Error {
	e.App = &app
	return e
}

// WithUtxo records the offending UTXO.
func (e *Error) WithUtxo(u UtxoID) *Error {
	e.Utxo = &u
	return e
}

// WithTxID records the offending ancestor transaction.
func (e *Error) WithTxID(id TxID) *Error {
	e.TxID = &id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	var ctx []string
	if e.App != nil {
		ctx = append(ctx, "app="+e.App.String())
	}
	if e.Utxo != nil {
		ctx = append(ctx, "utxo="+e.Utxo.String())
	}
	if e.TxID != nil {
		ctx = append(ctx, "tx="+e.TxID.String())
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the category of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsMalformedSpell returns true if err is a MalformedSpell error.
func IsMalformedSpell(err error) bool { return CodeOf(err) == ErrCodeMalformedSpell }

// IsInconsistentAncestry returns true if err is an InconsistentAncestry error.
func IsInconsistentAncestry(err error) bool { return CodeOf(err) == ErrCodeInconsistentAncestry }

// IsMissingBinary returns true if err is a MissingBinary error.
func IsMissingBinary(err error) bool { return CodeOf(err) == ErrCodeMissingBinary }

// IsIntegrityError returns true if err is an IntegrityError.
func IsIntegrityError(err error) bool { return CodeOf(err) == ErrCodeIntegrity }

// IsResourceExhausted returns true if err is a ResourceExhausted error.
func IsResourceExhausted(err error) bool { return CodeOf(err) == ErrCodeResourceExhausted }

// IsContractRejected returns true if err is a ContractRejected error.
func IsContractRejected(err error) bool { return CodeOf(err) == ErrCodeContractRejected }

// IsHostFault returns true if err is a HostFault error.
func IsHostFault(err error) bool { return CodeOf(err) == ErrCodeHostFault }
