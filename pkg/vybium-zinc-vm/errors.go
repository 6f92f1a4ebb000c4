package vybiumzincvm

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/vm"
)

// ErrorCode represents a Vybium Zinc VM error code
type ErrorCode int

const (
	// ErrUnknown represents an unknown error
	ErrUnknown ErrorCode = iota

	// ErrInvalidConfig represents an invalid configuration error
	ErrInvalidConfig

	// ErrDecode represents malformed bytecode
	ErrDecode

	// ErrVMExecution represents a VM execution error
	ErrVMExecution

	// ErrAssertion represents a failed Assert instruction
	ErrAssertion

	// ErrConstraintVerification represents a witness that does not satisfy
	// the generated constraints
	ErrConstraintVerification

	// ErrInvalidInput represents an invalid input error
	ErrInvalidInput
)

var codeNames = map[ErrorCode]string{
	ErrUnknown:                "unknown",
	ErrInvalidConfig:          "invalid config",
	ErrDecode:                 "decode",
	ErrVMExecution:            "execution",
	ErrAssertion:              "assertion",
	ErrConstraintVerification: "constraint verification",
	ErrInvalidInput:           "invalid input",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code %d", int(c))
}

// VMError represents a Vybium Zinc VM error
type VMError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error returns the error message
func (e *VMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vybium-zinc-vm %s error: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("vybium-zinc-vm %s error: %s", e.Code, e.Message)
}

// Unwrap returns the cause of the error
func (e *VMError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error
func (e *VMError) Is(target error) bool {
	t, ok := target.(*VMError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Code extracts the code of a VMError anywhere in err's chain
func Code(err error) ErrorCode {
	var vmErr *VMError
	if errors.As(err, &vmErr) {
		return vmErr.Code
	}
	return ErrUnknown
}

// executionError classifies a failed run
func executionError(err error) *VMError {
	var assertion *vm.AssertionError
	switch {
	case errors.As(err, &assertion):
		return &VMError{Code: ErrAssertion, Message: "assertion failed", Cause: err}
	case errors.Is(err, vm.ErrInvalidInput):
		return &VMError{Code: ErrInvalidInput, Message: "input rejected", Cause: err}
	default:
		return &VMError{Code: ErrVMExecution, Message: "VM execution failed", Cause: err}
	}
}
