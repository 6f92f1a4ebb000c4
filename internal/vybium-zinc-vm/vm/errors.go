package vm

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
)

// Execution errors
var (
	ErrStackUnderflow      = errors.New("evaluation stack underflow")
	ErrStackOverflow       = errors.New("evaluation stack overflow")
	ErrUnbalancedStack     = errors.New("evaluation stack not balanced")
	ErrOutOfBounds         = errors.New("address out of bounds")
	ErrUninitialized       = errors.New("read of uninitialized memory")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrOverflow            = errors.New("value out of range for its type")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUnbalancedCondition = errors.New("unbalanced condition stack")
	ErrUnbalancedCall      = errors.New("unbalanced call stack")
	ErrCallDepth           = errors.New("call depth exceeded")
	ErrUnresolvedBuiltin   = errors.New("unresolved builtin")
	ErrUnknownAddress      = errors.New("reference is not a known address")
	ErrCycleLimit          = errors.New("cycle limit exceeded")
	ErrNoExit              = errors.New("program ended without exit")
	ErrInvalidInput        = errors.New("invalid input")
)

// Location is the source position set by the debug markers
type Location struct {
	File     string
	Function string
	Line     uint
	Column   uint
}

func (l Location) String() string {
	if l.File == "" && l.Function == "" && l.Line == 0 {
		return "unknown location"
	}
	return fmt.Sprintf("%s:%s:%d:%d", l.File, l.Function, l.Line, l.Column)
}

// ExecutionError is a fatal VM error tied to the failing instruction
type ExecutionError struct {
	Index       int
	Instruction bytecode.Instruction
	Location    Location
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.Instruction == nil {
		return fmt.Sprintf("execution failed at instruction %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("execution failed at instruction %d (%s), %s: %v", e.Index, e.Instruction, e.Location, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// AssertionError reports a false Assert on a live path
type AssertionError struct {
	Index    int
	Location Location
	Message  string
}

func (e *AssertionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("assertion failed at instruction %d, %s", e.Index, e.Location)
	}
	return fmt.Sprintf("assertion failed at instruction %d, %s: %s", e.Index, e.Location, e.Message)
}
