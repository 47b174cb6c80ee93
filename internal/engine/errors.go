package engine

import (
	"errors"
	"fmt"
)

// ErrCode categorizes engine faults. Each code maps to a distinct
// process exit code at the CLI boundary.
type ErrCode string

const (
	// CodeInsufficientCredits indicates the credit check failed before
	// any SPEND was posted.
	CodeInsufficientCredits ErrCode = "INSUFFICIENT_CREDITS"

	// CodeValidation indicates a pre-execution failure: schema
	// violation, planning error, unknown catalog reference.
	CodeValidation ErrCode = "VALIDATION_ERROR"

	// CodeInternal indicates an internal-consistency or storage fault.
	CodeInternal ErrCode = "INTERNAL_ERROR"
)

// RuntimeError is a classified engine fault with structured fields for
// diagnostics.
type RuntimeError struct {
	Code      ErrCode
	Message   string
	WorkOrder string
	Tenant    string
	Err       error
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.WorkOrder != "" {
		msg += fmt.Sprintf(" (work_order=%s)", e.WorkOrder)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsInsufficientCredits reports whether err is a credit-check failure.
func IsInsufficientCredits(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == CodeInsufficientCredits
}

// IsValidationError reports whether err is a pre-execution validation
// failure.
func IsValidationError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == CodeValidation
}

func validationErr(workOrder, tenant string, err error) *RuntimeError {
	return &RuntimeError{Code: CodeValidation, Message: "work order validation failed", WorkOrder: workOrder, Tenant: tenant, Err: err}
}

func internalErr(workOrder, tenant, msg string, err error) *RuntimeError {
	return &RuntimeError{Code: CodeInternal, Message: msg, WorkOrder: workOrder, Tenant: tenant, Err: err}
}
