// Package core provides the prime field the constraint system works over
package core

import (
	"fmt"
	"math/big"
)

// Field represents a finite field with modular arithmetic operations
type Field struct {
	modulus *big.Int
	half    *big.Int // (modulus - 1) / 2, boundary of the signed view
}

// FieldElement represents an element in the finite field
type FieldElement struct {
	field *Field
	value *big.Int
}

// NewField creates a new finite field with the given modulus
func NewField(modulus *big.Int) (*Field, error) {
	if modulus == nil || modulus.Cmp(big.NewInt(2)) <= 0 {
		return nil, fmt.Errorf("modulus must be greater than 2")
	}
	half := new(big.Int).Sub(modulus, big.NewInt(1))
	half.Rsh(half, 1)
	return &Field{modulus: new(big.Int).Set(modulus), half: half}, nil
}

// NewFieldFromString creates a field from a decimal modulus
func NewFieldFromString(modulus string) (*Field, error) {
	m, ok := new(big.Int).SetString(modulus, 10)
	if !ok {
		return nil, fmt.Errorf("invalid field modulus %q", modulus)
	}
	return NewField(m)
}

// Modulus returns the field modulus
func (f *Field) Modulus() *big.Int {
	return new(big.Int).Set(f.modulus)
}

// BitLength returns the number of bits needed to represent the modulus
func (f *Field) BitLength() int {
	return f.modulus.BitLen()
}

// NewElement creates a new field element from a big.Int
func (f *Field) NewElement(value *big.Int) *FieldElement {
	normalized := new(big.Int).Mod(value, f.modulus)
	return &FieldElement{
		field: f,
		value: normalized,
	}
}

// Zero returns the additive identity
func (f *Field) Zero() *FieldElement {
	return f.NewElement(big.NewInt(0))
}

// One returns the multiplicative identity
func (f *Field) One() *FieldElement {
	return f.NewElement(big.NewInt(1))
}

// Equals reports whether two fields share a modulus
func (f *Field) Equals(other *Field) bool {
	return f.modulus.Cmp(other.modulus) == 0
}

// Big returns the canonical representative in [0, modulus)
func (fe *FieldElement) Big() *big.Int {
	return new(big.Int).Set(fe.value)
}

// Signed returns the representative in (-(p-1)/2, (p-1)/2], the view signed
// integers take once they are lifted into the field.
func (fe *FieldElement) Signed() *big.Int {
	if fe.value.Cmp(fe.field.half) > 0 {
		return new(big.Int).Sub(fe.value, fe.field.modulus)
	}
	return new(big.Int).Set(fe.value)
}

// Add performs field addition
func (fe *FieldElement) Add(other *FieldElement) *FieldElement {
	if !fe.field.Equals(other.field) {
		panic("cannot add elements from different fields")
	}
	result := new(big.Int).Add(fe.value, other.value)
	return fe.field.NewElement(result)
}

// Neg returns the additive inverse (negation) of the field element
func (fe *FieldElement) Neg() *FieldElement {
	result := new(big.Int).Neg(fe.value)
	return fe.field.NewElement(result)
}

// Mul performs field multiplication
func (fe *FieldElement) Mul(other *FieldElement) *FieldElement {
	if !fe.field.Equals(other.field) {
		panic("cannot multiply elements from different fields")
	}
	result := new(big.Int).Mul(fe.value, other.value)
	return fe.field.NewElement(result)
}

// Inv computes the multiplicative inverse
func (fe *FieldElement) Inv() (*FieldElement, error) {
	if fe.value.Sign() == 0 {
		return nil, fmt.Errorf("cannot compute inverse of zero")
	}

	inv := new(big.Int).ModInverse(fe.value, fe.field.modulus)
	if inv == nil {
		return nil, fmt.Errorf("inverse does not exist")
	}

	return fe.field.NewElement(inv), nil
}

// Equal checks if two field elements are equal
func (fe *FieldElement) Equal(other *FieldElement) bool {
	if !fe.field.Equals(other.field) {
		return false
	}
	return fe.value.Cmp(other.value) == 0
}

// IsZero checks if the element is zero
func (fe *FieldElement) IsZero() bool {
	return fe.value.Sign() == 0
}

// String returns a string representation of the field element
func (fe *FieldElement) String() string {
	return fe.value.String()
}

// BN254ScalarModulus is the scalar field of the BN254 curve, the field zinc
// circuits are compiled for.
const BN254ScalarModulus = "21888242871839275222246405745257275088548364400416034343698204186575808495617"

// DefaultPrimeField is the BN254 scalar field
var DefaultPrimeField, _ = NewFieldFromString(BN254ScalarModulus)
