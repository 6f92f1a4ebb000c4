// Package circuit defines the constraint backend the VM emits into, together
// with an in-memory R1CS implementation used for native runs and tests.
package circuit

import (
	"fmt"
	"math/big"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
)

// Var is an opaque handle issued by a Backend. A handle names a linear
// combination of allocated witnesses, so constants and sums are free.
type Var uint32

// Term is one coefficient-handle pair of a linear combination.
type Term struct {
	Coeff *big.Int
	Var   Var
}

// MaxIntegerBitLength bounds integer types so comparisons (which decompose
// n+1 bits) never wrap around the field.
const MaxIntegerBitLength = 248

// ScalarType is the metadata carried next to every value.
// A zero BitLength denotes a full field element.
type ScalarType struct {
	Signed    bool
	BitLength uint8
}

var (
	// FieldType is a full field element without an integer range
	FieldType = ScalarType{}

	// BoolType is a single unsigned bit
	BoolType = ScalarType{BitLength: 1}
)

// UnsignedType returns the n-bit unsigned integer type
func UnsignedType(bits uint8) ScalarType {
	return ScalarType{BitLength: bits}
}

// SignedType returns the n-bit two's complement integer type
func SignedType(bits uint8) ScalarType {
	return ScalarType{Signed: true, BitLength: bits}
}

// IsField reports whether the type is a full field element
func (t ScalarType) IsField() bool {
	return t.BitLength == 0
}

// IsBool reports whether the type is a single unsigned bit
func (t ScalarType) IsBool() bool {
	return !t.Signed && t.BitLength == 1
}

// Validate checks the type is representable
func (t ScalarType) Validate() error {
	if t.IsField() {
		if t.Signed {
			return fmt.Errorf("field type cannot be signed")
		}
		return nil
	}
	if t.BitLength > MaxIntegerBitLength {
		return fmt.Errorf("bit length %d exceeds maximum %d", t.BitLength, MaxIntegerBitLength)
	}
	if t.Signed && t.BitLength < 2 {
		return fmt.Errorf("signed type needs at least 2 bits, got %d", t.BitLength)
	}
	return nil
}

// Min returns the smallest integer of the type, nil for field elements
func (t ScalarType) Min() *big.Int {
	if t.IsField() {
		return nil
	}
	if !t.Signed {
		return big.NewInt(0)
	}
	m := new(big.Int).Lsh(big.NewInt(1), uint(t.BitLength-1))
	return m.Neg(m)
}

// Max returns the largest integer of the type, nil for field elements
func (t ScalarType) Max() *big.Int {
	if t.IsField() {
		return nil
	}
	bits := uint(t.BitLength)
	if t.Signed {
		bits--
	}
	m := new(big.Int).Lsh(big.NewInt(1), bits)
	return m.Sub(m, big.NewInt(1))
}

// Contains reports whether value lies in the type's range
func (t ScalarType) Contains(value *big.Int) bool {
	if t.IsField() {
		return value.Sign() >= 0
	}
	return value.Cmp(t.Min()) >= 0 && value.Cmp(t.Max()) <= 0
}

// String renders the type the way the source language spells it
func (t ScalarType) String() string {
	switch {
	case t.IsField():
		return "field"
	case t.IsBool():
		return "bool"
	case t.Signed:
		return fmt.Sprintf("i%d", t.BitLength)
	default:
		return fmt.Sprintf("u%d", t.BitLength)
	}
}

// Primitive is a typed value living on the VM stacks. Value is nil when the
// concrete number is unknown (constraint generation without a witness).
// Integer values are kept as plain integers, field values in [0, p).
type Primitive struct {
	Value *big.Int
	Var   Var
	Type  ScalarType
}

// Known reports whether the concrete value is present
func (p Primitive) Known() bool {
	return p.Value != nil
}

// String renders the concrete value, or "?" when unknown
func (p Primitive) String() string {
	if p.Value == nil {
		return "?"
	}
	return p.Value.String()
}

// Backend is the capability the VM compiles against. Implementations only
// ever append: allocated witnesses and constraints are never removed.
type Backend interface {
	// Field is the prime field all values are reduced into
	Field() *core.Field

	// AllocateWitness introduces a fresh witness; value may be nil when
	// generating constraints without an assignment.
	AllocateWitness(value *big.Int) (Var, error)

	// AssertEqual constrains two handles to the same value
	AssertEqual(lhs, rhs Var) error

	// LinearCombination returns a handle for constant + Σ coeff·var without
	// emitting a constraint.
	LinearCombination(terms []Term, constant *big.Int) (Var, error)

	// Mul returns a handle for a·b, emitting one multiplication gate
	Mul(a, b Var) (Var, error)

	// BooleanSelect returns selector·ifTrue + (1-selector)·ifFalse
	BooleanSelect(selector, ifTrue, ifFalse Var) (Var, error)

	// Builtin runs a fixed-identity gadget over typed arguments
	Builtin(name string, args []Primitive) ([]Primitive, error)
}
