package vm

import (
	"fmt"
	"math/big"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

func (vm *VMState) execBinary(i bytecode.Binary) error {
	operands, err := vm.stack.popN(2)
	if err != nil {
		return err
	}
	result, err := vm.binary(i.Op, operands[0], operands[1])
	if err != nil {
		return err
	}
	return vm.stack.push(result)
}

func (vm *VMState) execUnary(i bytecode.Unary) error {
	x, err := vm.stack.pop()
	if err != nil {
		return err
	}

	var result circuit.Primitive
	switch i.Op {
	case bytecode.OpNeg:
		result, err = vm.neg(x)
	case bytecode.OpNot:
		if !x.Type.IsBool() {
			return fmt.Errorf("%w: not on %s", ErrTypeMismatch, x.Type)
		}
		result, err = vm.not(x)
	default:
		return fmt.Errorf("%w: %s is not a unary operation", bytecode.ErrInvalidOperand, i.Op)
	}
	if err != nil {
		return err
	}
	return vm.stack.push(result)
}

func (vm *VMState) execCast(i bytecode.Cast) error {
	x, err := vm.stack.pop()
	if err != nil {
		return err
	}
	result, err := vm.cast(x, i.Type)
	if err != nil {
		return err
	}
	return vm.stack.push(result)
}

// binary applies op to a (pushed first) and b (on top)
func (vm *VMState) binary(op bytecode.Opcode, a, b circuit.Primitive) (circuit.Primitive, error) {
	if a.Type != b.Type {
		return circuit.Primitive{}, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, a.Type, op, b.Type)
	}

	switch op {
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpRem:
		if a.Type.IsBool() {
			return circuit.Primitive{}, fmt.Errorf("%w: arithmetic %s on bool", ErrTypeMismatch, op)
		}
	case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor:
		if !a.Type.IsBool() {
			return circuit.Primitive{}, fmt.Errorf("%w: boolean %s on %s", ErrTypeMismatch, op, a.Type)
		}
	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGe, bytecode.OpGt:
		if a.Type.IsField() {
			return circuit.Primitive{}, fmt.Errorf("%w: ordering %s on field", ErrTypeMismatch, op)
		}
	}

	switch op {
	case bytecode.OpAdd:
		return vm.bind(sum(a, b, 1), a.Type, []circuit.Term{term(1, a), term(1, b)}, nil)
	case bytecode.OpSub:
		return vm.bind(sum(a, b, -1), a.Type, []circuit.Term{term(1, a), term(-1, b)}, nil)
	case bytecode.OpMul:
		return vm.mul(a, b)
	case bytecode.OpDiv:
		return vm.divide(a, b, false)
	case bytecode.OpRem:
		if a.Type.IsField() {
			return circuit.Primitive{}, fmt.Errorf("%w: remainder of field elements", ErrTypeMismatch)
		}
		return vm.divide(a, b, true)
	case bytecode.OpAnd:
		return vm.and(a, b)
	case bytecode.OpOr:
		return vm.or(a, b)
	case bytecode.OpXor:
		return vm.xor(a, b)
	case bytecode.OpEq:
		return circuit.Equal(vm.Backend, a, b)
	case bytecode.OpNe:
		eq, err := circuit.Equal(vm.Backend, a, b)
		if err != nil {
			return circuit.Primitive{}, err
		}
		return vm.not(eq)
	case bytecode.OpLt:
		return vm.lessThan(a, b)
	case bytecode.OpGt:
		return vm.lessThan(b, a)
	case bytecode.OpLe:
		gt, err := vm.lessThan(b, a)
		if err != nil {
			return circuit.Primitive{}, err
		}
		return vm.not(gt)
	case bytecode.OpGe:
		lt, err := vm.lessThan(a, b)
		if err != nil {
			return circuit.Primitive{}, err
		}
		return vm.not(lt)
	}
	return circuit.Primitive{}, fmt.Errorf("%w: %s is not a binary operation", bytecode.ErrInvalidOperand, op)
}

// bind allocates a witness holding value and constrains it to
// constant + Σ terms with a single equality.
func (vm *VMState) bind(value *big.Int, t circuit.ScalarType, terms []circuit.Term, constant *big.Int) (circuit.Primitive, error) {
	value, err := vm.fit(value, t)
	if err != nil {
		return circuit.Primitive{}, err
	}
	lc, err := vm.Backend.LinearCombination(terms, constant)
	if err != nil {
		return circuit.Primitive{}, err
	}
	w, err := vm.Backend.AllocateWitness(circuit.FieldValue(vm.Backend, value))
	if err != nil {
		return circuit.Primitive{}, err
	}
	if err := vm.Backend.AssertEqual(w, lc); err != nil {
		return circuit.Primitive{}, err
	}
	return circuit.Primitive{Value: value, Var: w, Type: t}, nil
}

// linear returns the unconstrained handle constant + Σ terms
func (vm *VMState) linear(value *big.Int, t circuit.ScalarType, terms []circuit.Term, constant *big.Int) (circuit.Primitive, error) {
	v, err := vm.Backend.LinearCombination(terms, constant)
	if err != nil {
		return circuit.Primitive{}, err
	}
	return circuit.Primitive{Value: value, Var: v, Type: t}, nil
}

// fit reduces field values and rejects integers outside their type on live
// paths. Dead-branch values are left as computed.
func (vm *VMState) fit(value *big.Int, t circuit.ScalarType) (*big.Int, error) {
	if value == nil {
		return nil, nil
	}
	if t.IsField() {
		return vm.reduce(value), nil
	}
	if vm.live() && !t.Contains(value) {
		return nil, fmt.Errorf("%w: %s does not fit %s", ErrOverflow, value, t)
	}
	return value, nil
}

func (vm *VMState) mul(a, b circuit.Primitive) (circuit.Primitive, error) {
	var value *big.Int
	if a.Known() && b.Known() {
		value = new(big.Int).Mul(a.Value, b.Value)
	}
	value, err := vm.fit(value, a.Type)
	if err != nil {
		return circuit.Primitive{}, err
	}
	v, err := vm.Backend.Mul(a.Var, b.Var)
	if err != nil {
		return circuit.Primitive{}, err
	}
	return circuit.Primitive{Value: value, Var: v, Type: a.Type}, nil
}

func (vm *VMState) neg(x circuit.Primitive) (circuit.Primitive, error) {
	if !x.Type.IsField() && !x.Type.Signed {
		return circuit.Primitive{}, fmt.Errorf("%w: negation of %s", ErrTypeMismatch, x.Type)
	}
	var value *big.Int
	if x.Known() {
		value = new(big.Int).Neg(x.Value)
	}
	return vm.bind(value, x.Type, []circuit.Term{term(-1, x)}, nil)
}

// divide proves a = q·b + r with 0 ≤ r < |b| (Euclidean division) for
// integers, and a = q·b for field elements. Inside a branch the divisor is
// replaced by one on dead paths so the proof of b ≠ 0 stays satisfiable.
func (vm *VMState) divide(a, b circuit.Primitive, remainder bool) (circuit.Primitive, error) {
	t := a.Type
	top := vm.conditionTop()

	if vm.live() && b.Known() && vm.reduce(b.Value).Sign() == 0 {
		return circuit.Primitive{}, ErrDivisionByZero
	}

	divisor, err := circuit.Gate(vm.Backend, b, big.NewInt(1), top)
	if err != nil {
		return circuit.Primitive{}, err
	}

	// divisor · inverse = 1
	var inverse *big.Int
	if divisor.Known() {
		e := vm.field.NewElement(divisor.Value)
		if e.IsZero() {
			return circuit.Primitive{}, ErrDivisionByZero
		}
		inv, err := e.Inv()
		if err != nil {
			return circuit.Primitive{}, err
		}
		inverse = inv.Big()
	}
	invVar, err := vm.Backend.AllocateWitness(inverse)
	if err != nil {
		return circuit.Primitive{}, err
	}
	product, err := vm.Backend.Mul(divisor.Var, invVar)
	if err != nil {
		return circuit.Primitive{}, err
	}
	one, err := circuit.Constant(vm.Backend, big.NewInt(1))
	if err != nil {
		return circuit.Primitive{}, err
	}
	if err := vm.Backend.AssertEqual(product, one); err != nil {
		return circuit.Primitive{}, err
	}

	if t.IsField() {
		var value *big.Int
		if a.Known() && inverse != nil {
			value = vm.reduce(new(big.Int).Mul(a.Value, inverse))
		}
		q, err := vm.Backend.Mul(a.Var, invVar)
		if err != nil {
			return circuit.Primitive{}, err
		}
		return circuit.Primitive{Value: value, Var: q, Type: t}, nil
	}

	var qValue, rValue *big.Int
	if a.Known() && divisor.Known() {
		qValue, rValue = new(big.Int).DivMod(a.Value, divisor.Value, new(big.Int))
	}
	if vm.live() && qValue != nil && !t.Contains(qValue) {
		return circuit.Primitive{}, fmt.Errorf("%w: quotient %s does not fit %s", ErrOverflow, qValue, t)
	}

	qVar, err := vm.Backend.AllocateWitness(circuit.FieldValue(vm.Backend, qValue))
	if err != nil {
		return circuit.Primitive{}, err
	}
	rVar, err := vm.Backend.AllocateWitness(circuit.FieldValue(vm.Backend, rValue))
	if err != nil {
		return circuit.Primitive{}, err
	}
	q := circuit.Primitive{Value: qValue, Var: qVar, Type: t}
	r := circuit.Primitive{Value: rValue, Var: rVar, Type: t}

	// q·b + r = a
	qb, err := vm.Backend.Mul(qVar, divisor.Var)
	if err != nil {
		return circuit.Primitive{}, err
	}
	recomposed, err := vm.Backend.LinearCombination([]circuit.Term{
		{Coeff: big.NewInt(1), Var: qb},
		{Coeff: big.NewInt(1), Var: rVar},
	}, nil)
	if err != nil {
		return circuit.Primitive{}, err
	}
	if err := vm.Backend.AssertEqual(recomposed, a.Var); err != nil {
		return circuit.Primitive{}, err
	}

	// 0 ≤ r < |b|
	n := int(t.BitLength)
	if err := circuit.RangeCheck(vm.Backend, r, circuit.UnsignedType(t.BitLength), top); err != nil {
		return circuit.Primitive{}, err
	}
	magnitude, err := vm.abs(divisor)
	if err != nil {
		return circuit.Primitive{}, err
	}
	bounded, err := circuit.LessThan(vm.Backend, r, magnitude, n, top)
	if err != nil {
		return circuit.Primitive{}, err
	}
	expect, err := vm.conditionVar()
	if err != nil {
		return circuit.Primitive{}, err
	}
	if err := vm.Backend.AssertEqual(bounded.Var, expect); err != nil {
		return circuit.Primitive{}, err
	}

	if err := circuit.RangeCheck(vm.Backend, q, t, top); err != nil {
		return circuit.Primitive{}, err
	}

	if remainder {
		return r, nil
	}
	return q, nil
}

// abs returns |x| for signed integers and x otherwise
func (vm *VMState) abs(x circuit.Primitive) (circuit.Primitive, error) {
	if !x.Type.Signed {
		return x, nil
	}
	zero, err := circuit.ConstantPrimitive(vm.Backend, big.NewInt(0), x.Type)
	if err != nil {
		return circuit.Primitive{}, err
	}
	negative, err := circuit.LessThan(vm.Backend, x, zero, int(x.Type.BitLength), vm.conditionTop())
	if err != nil {
		return circuit.Primitive{}, err
	}
	negated, err := vm.Backend.LinearCombination([]circuit.Term{term(-1, x)}, nil)
	if err != nil {
		return circuit.Primitive{}, err
	}
	v, err := vm.Backend.BooleanSelect(negative.Var, negated, x.Var)
	if err != nil {
		return circuit.Primitive{}, err
	}
	var value *big.Int
	if x.Known() {
		value = new(big.Int).Abs(x.Value)
	}
	return circuit.Primitive{Value: value, Var: v, Type: x.Type}, nil
}

// lessThan compares two integers of the same type, gated by the open
// branch selectors.
func (vm *VMState) lessThan(a, b circuit.Primitive) (circuit.Primitive, error) {
	return circuit.LessThan(vm.Backend, a, b, int(a.Type.BitLength), vm.conditionTop())
}

func (vm *VMState) not(x circuit.Primitive) (circuit.Primitive, error) {
	var value *big.Int
	if x.Known() {
		value = new(big.Int).Sub(big.NewInt(1), x.Value)
	}
	return vm.linear(value, circuit.BoolType, []circuit.Term{term(-1, x)}, big.NewInt(1))
}

func (vm *VMState) and(a, b circuit.Primitive) (circuit.Primitive, error) {
	v, err := vm.Backend.Mul(a.Var, b.Var)
	if err != nil {
		return circuit.Primitive{}, err
	}
	var value *big.Int
	if a.Known() && b.Known() {
		value = new(big.Int).Mul(a.Value, b.Value)
	}
	return circuit.Primitive{Value: value, Var: v, Type: circuit.BoolType}, nil
}

// or is a + b - a·b
func (vm *VMState) or(a, b circuit.Primitive) (circuit.Primitive, error) {
	return vm.mixBits(a, b, -1)
}

// xor is a + b - 2·a·b
func (vm *VMState) xor(a, b circuit.Primitive) (circuit.Primitive, error) {
	return vm.mixBits(a, b, -2)
}

func (vm *VMState) mixBits(a, b circuit.Primitive, k int64) (circuit.Primitive, error) {
	ab, err := vm.and(a, b)
	if err != nil {
		return circuit.Primitive{}, err
	}
	var value *big.Int
	if ab.Known() {
		value = sum(a, b, 1)
		value.Add(value, new(big.Int).Mul(big.NewInt(k), ab.Value))
	}
	return vm.linear(value, circuit.BoolType, []circuit.Term{term(1, a), term(1, b), term(k, ab)}, nil)
}

// cast retypes x. Widening changes metadata only; narrowing adds a range
// check gated by the open branch selectors.
func (vm *VMState) cast(x circuit.Primitive, t circuit.ScalarType) (circuit.Primitive, error) {
	if err := t.Validate(); err != nil {
		return circuit.Primitive{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	if x.Type == t {
		return x, nil
	}
	if t.IsField() {
		var value *big.Int
		if x.Known() {
			value = vm.reduce(x.Value)
		}
		return circuit.Primitive{Value: value, Var: x.Var, Type: t}, nil
	}

	var value *big.Int
	if x.Known() {
		value = new(big.Int).Set(x.Value)
		if x.Type.IsField() && t.Signed {
			value = vm.field.NewElement(x.Value).Signed()
		}
	}
	result := circuit.Primitive{Value: value, Var: x.Var, Type: t}
	if widens(x.Type, t) {
		return result, nil
	}

	if vm.live() && value != nil && !t.Contains(value) {
		return circuit.Primitive{}, fmt.Errorf("%w: cast of %s to %s", ErrOverflow, value, t)
	}
	if err := circuit.RangeCheck(vm.Backend, result, t, vm.conditionTop()); err != nil {
		return circuit.Primitive{}, err
	}
	return result, nil
}

// widens reports whether every integer of from is also an integer of to
func widens(from, to circuit.ScalarType) bool {
	if from.IsField() || to.IsField() {
		return false
	}
	return to.Min().Cmp(from.Min()) <= 0 && from.Max().Cmp(to.Max()) <= 0
}

// conditionVar is the handle of the selector conjunction, or the constant
// one at top level.
func (vm *VMState) conditionVar() (circuit.Var, error) {
	if top := vm.conditionTop(); top != nil {
		return top.Var, nil
	}
	return circuit.Constant(vm.Backend, big.NewInt(1))
}

func term(coeff int64, p circuit.Primitive) circuit.Term {
	return circuit.Term{Coeff: big.NewInt(coeff), Var: p.Var}
}

// sum returns a + k·b, or nil when either value is unknown
func sum(a, b circuit.Primitive, k int64) *big.Int {
	if !a.Known() || !b.Known() {
		return nil
	}
	return new(big.Int).Add(a.Value, new(big.Int).Mul(big.NewInt(k), b.Value))
}
