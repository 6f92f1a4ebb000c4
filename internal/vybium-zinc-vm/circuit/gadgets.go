package circuit

import (
	"fmt"
	"math/big"
)

// The gadgets below are written against Backend only, so they work for any
// constraint system the VM is pointed at.

// Constant returns a constraint-free handle for value
func Constant(b Backend, value *big.Int) (Var, error) {
	return b.LinearCombination(nil, value)
}

// ConstantPrimitive returns a typed constant
func ConstantPrimitive(b Backend, value *big.Int, t ScalarType) (Primitive, error) {
	v, err := Constant(b, value)
	if err != nil {
		return Primitive{}, err
	}
	return Primitive{Value: new(big.Int).Set(value), Var: v, Type: t}, nil
}

// FieldValue maps an integer to its canonical field representative
func FieldValue(b Backend, value *big.Int) *big.Int {
	if value == nil {
		return nil
	}
	return b.Field().NewElement(value).Big()
}

// AssertBoolean adds v·v = v
func AssertBoolean(b Backend, v Var) error {
	sq, err := b.Mul(v, v)
	if err != nil {
		return err
	}
	return b.AssertEqual(sq, v)
}

// ToBits decomposes x into n little-endian bits and constrains the
// recomposition. value is x's field representative, or nil when unknown.
func ToBits(b Backend, x Var, value *big.Int, n int) ([]Var, error) {
	bits := make([]Var, n)
	terms := make([]Term, n)
	for i := 0; i < n; i++ {
		var bit *big.Int
		if value != nil {
			bit = big.NewInt(int64(value.Bit(i)))
		}
		v, err := b.AllocateWitness(bit)
		if err != nil {
			return nil, err
		}
		if err := AssertBoolean(b, v); err != nil {
			return nil, fmt.Errorf("bit %d: %w", i, err)
		}
		bits[i] = v
		terms[i] = Term{Coeff: new(big.Int).Lsh(big.NewInt(1), uint(i)), Var: v}
	}

	sum, err := b.LinearCombination(terms, nil)
	if err != nil {
		return nil, err
	}
	if err := b.AssertEqual(sum, x); err != nil {
		return nil, fmt.Errorf("bit recomposition: %w", err)
	}
	return bits, nil
}

// ToBitsSigned decomposes an n-bit two's complement integer into n
// little-endian bits, the top bit being the sign.
func ToBitsSigned(b Backend, x Var, value *big.Int, n int) ([]Var, error) {
	var pattern *big.Int
	if value != nil {
		modulus := new(big.Int).Lsh(big.NewInt(1), uint(n))
		pattern = new(big.Int).Mod(value, modulus)
	}

	bits := make([]Var, n)
	terms := make([]Term, n+1)
	for i := 0; i < n; i++ {
		var bit *big.Int
		if pattern != nil {
			bit = big.NewInt(int64(pattern.Bit(i)))
		}
		v, err := b.AllocateWitness(bit)
		if err != nil {
			return nil, err
		}
		if err := AssertBoolean(b, v); err != nil {
			return nil, fmt.Errorf("bit %d: %w", i, err)
		}
		bits[i] = v
		terms[i] = Term{Coeff: new(big.Int).Lsh(big.NewInt(1), uint(i)), Var: v}
	}
	// Σ bᵢ·2ⁱ - b₍ₙ₋₁₎·2ⁿ = x
	terms[n] = Term{Coeff: new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(n))), Var: bits[n-1]}

	sum, err := b.LinearCombination(terms, nil)
	if err != nil {
		return nil, err
	}
	if err := b.AssertEqual(sum, x); err != nil {
		return nil, fmt.Errorf("signed bit recomposition: %w", err)
	}
	return bits, nil
}

// Gate replaces x by fallback when enable is zero. A nil enable means the
// gadget runs unconditionally and x is returned untouched.
func Gate(b Backend, x Primitive, fallback *big.Int, enable *Primitive) (Primitive, error) {
	if enable == nil {
		return x, nil
	}
	fb, err := Constant(b, fallback)
	if err != nil {
		return Primitive{}, err
	}
	v, err := b.BooleanSelect(enable.Var, x.Var, fb)
	if err != nil {
		return Primitive{}, err
	}

	var value *big.Int
	switch {
	case enable.Value == nil:
	case enable.Value.Sign() != 0:
		value = x.Value
	default:
		value = new(big.Int).Set(fallback)
	}
	return Primitive{Value: value, Var: v, Type: x.Type}, nil
}

// RangeCheck constrains x to the range of t. Field types need no check.
func RangeCheck(b Backend, x Primitive, t ScalarType, enable *Primitive) error {
	if t.IsField() {
		return nil
	}
	x, err := Gate(b, x, big.NewInt(0), enable)
	if err != nil {
		return err
	}

	n := int(t.BitLength)
	if !t.Signed {
		_, err := ToBits(b, x.Var, FieldValue(b, x.Value), n)
		return err
	}

	// shift [-2ⁿ⁻¹, 2ⁿ⁻¹) onto [0, 2ⁿ)
	offset := new(big.Int).Lsh(big.NewInt(1), uint(n-1))
	shifted, err := b.LinearCombination([]Term{{Coeff: big.NewInt(1), Var: x.Var}}, offset)
	if err != nil {
		return err
	}
	var value *big.Int
	if x.Value != nil {
		value = FieldValue(b, new(big.Int).Add(x.Value, offset))
	}
	_, err = ToBits(b, shifted, value, n)
	return err
}

// IsZero returns a boolean that is 1 exactly when x is zero:
// out = 1 - x·inv and x·out = 0.
func IsZero(b Backend, x Primitive) (Primitive, error) {
	var inv, outValue *big.Int
	if x.Value != nil {
		fx := b.Field().NewElement(x.Value)
		if fx.IsZero() {
			inv = big.NewInt(0)
			outValue = big.NewInt(1)
		} else {
			e, err := fx.Inv()
			if err != nil {
				return Primitive{}, err
			}
			inv = e.Big()
			outValue = big.NewInt(0)
		}
	}

	invVar, err := b.AllocateWitness(inv)
	if err != nil {
		return Primitive{}, err
	}
	m, err := b.Mul(x.Var, invVar)
	if err != nil {
		return Primitive{}, err
	}
	out, err := b.LinearCombination([]Term{{Coeff: big.NewInt(-1), Var: m}}, big.NewInt(1))
	if err != nil {
		return Primitive{}, err
	}
	t, err := b.Mul(x.Var, out)
	if err != nil {
		return Primitive{}, err
	}
	zero, err := Constant(b, big.NewInt(0))
	if err != nil {
		return Primitive{}, err
	}
	if err := b.AssertEqual(t, zero); err != nil {
		return Primitive{}, err
	}
	return Primitive{Value: outValue, Var: out, Type: BoolType}, nil
}

// Equal returns a boolean that is 1 exactly when x == y
func Equal(b Backend, x, y Primitive) (Primitive, error) {
	d, err := b.LinearCombination([]Term{
		{Coeff: big.NewInt(1), Var: x.Var},
		{Coeff: big.NewInt(-1), Var: y.Var},
	}, nil)
	if err != nil {
		return Primitive{}, err
	}
	var dv *big.Int
	if x.Value != nil && y.Value != nil {
		dv = new(big.Int).Sub(x.Value, y.Value)
	}
	return IsZero(b, Primitive{Value: dv, Var: d, Type: FieldType})
}

// LessThan returns a boolean that is 1 exactly when x < y, for operands in
// [-2ⁿ⁻¹, 2ⁿ) so that d = x - y + 2ⁿ always fits n+1 bits. Bit n of d is set
// precisely when x ≥ y. When enable is zero d is replaced by 2ⁿ.
func LessThan(b Backend, x, y Primitive, n int, enable *Primitive) (Primitive, error) {
	base := new(big.Int).Lsh(big.NewInt(1), uint(n))
	d, err := b.LinearCombination([]Term{
		{Coeff: big.NewInt(1), Var: x.Var},
		{Coeff: big.NewInt(-1), Var: y.Var},
	}, base)
	if err != nil {
		return Primitive{}, err
	}
	var dv *big.Int
	if x.Value != nil && y.Value != nil {
		dv = new(big.Int).Sub(x.Value, y.Value)
		dv.Add(dv, base)
	}

	gated, err := Gate(b, Primitive{Value: dv, Var: d, Type: FieldType}, base, enable)
	if err != nil {
		return Primitive{}, err
	}

	bits, err := ToBits(b, gated.Var, FieldValue(b, gated.Value), n+1)
	if err != nil {
		return Primitive{}, err
	}
	lt, err := b.LinearCombination([]Term{{Coeff: big.NewInt(-1), Var: bits[n]}}, big.NewInt(1))
	if err != nil {
		return Primitive{}, err
	}

	var value *big.Int
	if gated.Value != nil {
		value = big.NewInt(0)
		if gated.Value.Cmp(base) < 0 {
			value = big.NewInt(1)
		}
	}
	return Primitive{Value: value, Var: lt, Type: BoolType}, nil
}
