package circuit

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/tliron/commonlog"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
)

var log = commonlog.GetLogger("zinc.circuit")

// Constraint system errors
var (
	ErrInvalidVariable       = errors.New("circuit: invalid variable handle")
	ErrConstraintUnsatisfied = errors.New("circuit: constraint not satisfied")
	ErrWitnessIncomplete     = errors.New("circuit: witness assignment incomplete")
	ErrUnknownBuiltin        = errors.New("circuit: unknown builtin")
	ErrBuiltinArguments      = errors.New("circuit: invalid builtin arguments")
)

// Mode selects whether the system tracks a witness assignment
type Mode int

const (
	// WitnessMode keeps concrete values for every wire and checks each
	// constraint as it is added.
	WitnessMode Mode = iota

	// ConstraintMode records constraints only; values may be absent.
	ConstraintMode
)

// String returns the configuration spelling of the mode
func (m Mode) String() string {
	switch m {
	case WitnessMode:
		return "witness"
	case ConstraintMode:
		return "constraints"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// oneWire is the constant-one wire, always assigned 1
const oneWire = 0

// combination is a sparse linear combination over wires
type combination map[int]*big.Int

// Constraint is a single R1CS row: (A·w) * (B·w) = C·w
type Constraint struct {
	A combination
	B combination
	C combination
}

// gadgetRecord remembers an opaque gadget so Verify can re-evaluate it
type gadgetRecord struct {
	name    string
	inputs  []Var
	outputs []Var
}

// System is an in-memory rank-1 constraint system implementing Backend
type System struct {
	field       *core.Field
	mode        Mode
	wires       []*big.Int // wire values, nil when unknown
	handles     []combination
	constraints []Constraint
	gadgets     []gadgetRecord
}

// NewSystem creates an empty constraint system over the given field
func NewSystem(field *core.Field, mode Mode) *System {
	if field == nil {
		field = core.DefaultPrimeField
	}
	return &System{
		field:       field,
		mode:        mode,
		wires:       []*big.Int{big.NewInt(1)},
		handles:     make([]combination, 0, 64),
		constraints: make([]Constraint, 0, 64),
	}
}

// Field returns the prime field of the system
func (s *System) Field() *core.Field {
	return s.field
}

// Mode returns the system's execution mode
func (s *System) Mode() Mode {
	return s.mode
}

// NumConstraints returns the number of constraints added so far
func (s *System) NumConstraints() int {
	return len(s.constraints)
}

// NumWires returns the number of wires, including the constant-one wire
func (s *System) NumWires() int {
	return len(s.wires)
}

// Constraints returns a copy of the constraint rows
func (s *System) Constraints() []Constraint {
	out := make([]Constraint, len(s.constraints))
	copy(out, s.constraints)
	return out
}

// Value evaluates a handle against the current assignment
func (s *System) Value(v Var) (*big.Int, bool) {
	lc, err := s.lookup(v)
	if err != nil {
		return nil, false
	}
	e, ok := s.eval(lc)
	if !ok {
		return nil, false
	}
	return e.Big(), true
}

// AllocateWitness introduces a new wire holding value
func (s *System) AllocateWitness(value *big.Int) (Var, error) {
	if value == nil && s.mode == WitnessMode {
		return 0, fmt.Errorf("%w: witness mode requires a value", ErrWitnessIncomplete)
	}
	w := s.newWire(value)
	return s.newHandle(combination{w: big.NewInt(1)}), nil
}

// AssertEqual adds (lhs - rhs) * 1 = 0
func (s *System) AssertEqual(lhs, rhs Var) error {
	a, err := s.lookup(lhs)
	if err != nil {
		return err
	}
	b, err := s.lookup(rhs)
	if err != nil {
		return err
	}
	diff := s.combine(a, big.NewInt(1), b, s.minusOne())
	return s.addConstraint(diff, combination{oneWire: big.NewInt(1)}, combination{})
}

// LinearCombination builds a handle for constant + Σ coeff·var
func (s *System) LinearCombination(terms []Term, constant *big.Int) (Var, error) {
	lc := combination{}
	if constant != nil && constant.Sign() != 0 {
		lc[oneWire] = s.reduce(constant)
	}
	for _, term := range terms {
		src, err := s.lookup(term.Var)
		if err != nil {
			return 0, err
		}
		lc = s.combine(lc, big.NewInt(1), src, term.Coeff)
	}
	return s.newHandle(lc), nil
}

// Mul allocates c = a·b and adds a · b = c
func (s *System) Mul(a, b Var) (Var, error) {
	la, err := s.lookup(a)
	if err != nil {
		return 0, err
	}
	lb, err := s.lookup(b)
	if err != nil {
		return 0, err
	}

	var product *big.Int
	va, okA := s.eval(la)
	vb, okB := s.eval(lb)
	if okA && okB {
		product = va.Mul(vb).Big()
	}

	w := s.newWire(product)
	if err := s.addConstraint(la, lb, combination{w: big.NewInt(1)}); err != nil {
		return 0, err
	}
	return s.newHandle(combination{w: big.NewInt(1)}), nil
}

// BooleanSelect allocates m = selector·(ifTrue - ifFalse) and returns ifFalse + m
func (s *System) BooleanSelect(selector, ifTrue, ifFalse Var) (Var, error) {
	ls, err := s.lookup(selector)
	if err != nil {
		return 0, err
	}
	lt, err := s.lookup(ifTrue)
	if err != nil {
		return 0, err
	}
	lf, err := s.lookup(ifFalse)
	if err != nil {
		return 0, err
	}

	delta := s.combine(lt, big.NewInt(1), lf, s.minusOne())

	var blend *big.Int
	vs, okS := s.eval(ls)
	vd, okD := s.eval(delta)
	if okS && okD {
		blend = vs.Mul(vd).Big()
	}

	w := s.newWire(blend)
	if err := s.addConstraint(ls, delta, combination{w: big.NewInt(1)}); err != nil {
		return 0, err
	}

	result := s.combine(lf, big.NewInt(1), combination{w: big.NewInt(1)}, big.NewInt(1))
	return s.newHandle(result), nil
}

// Builtin dispatches to the registered gadget
func (s *System) Builtin(name string, args []Primitive) ([]Primitive, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBuiltin, name)
	}
	log.Debugf("builtin %s with %d arguments", name, len(args))
	return fn(s, args)
}

// Verify checks every constraint and recorded gadget against the assignment
func (s *System) Verify() error {
	for i, c := range s.constraints {
		if err := s.check(c); err != nil {
			log.Warningf("constraint %d failed verification", i)
			return fmt.Errorf("constraint %d: %w", i, err)
		}
	}
	for i, g := range s.gadgets {
		if err := s.verifyGadget(g); err != nil {
			return fmt.Errorf("gadget %d (%s): %w", i, g.name, err)
		}
	}
	return nil
}

// recordGadget stores an opaque gadget for later re-evaluation
func (s *System) recordGadget(name string, inputs, outputs []Var) {
	s.gadgets = append(s.gadgets, gadgetRecord{
		name:    name,
		inputs:  append([]Var(nil), inputs...),
		outputs: append([]Var(nil), outputs...),
	})
}

func (s *System) newWire(value *big.Int) int {
	if value != nil {
		value = s.reduce(value)
	}
	s.wires = append(s.wires, value)
	return len(s.wires) - 1
}

func (s *System) newHandle(lc combination) Var {
	s.handles = append(s.handles, lc)
	return Var(len(s.handles) - 1)
}

func (s *System) lookup(v Var) (combination, error) {
	if int(v) >= len(s.handles) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVariable, v)
	}
	return s.handles[v], nil
}

func (s *System) reduce(v *big.Int) *big.Int {
	return s.field.NewElement(v).Big()
}

func (s *System) minusOne() *big.Int {
	return s.field.One().Neg().Big()
}

// combine returns ka·a + kb·b as a fresh combination
func (s *System) combine(a combination, ka *big.Int, b combination, kb *big.Int) combination {
	fa, fb := s.field.NewElement(ka), s.field.NewElement(kb)
	out := make(combination, len(a)+len(b))
	for w, c := range a {
		out[w] = s.field.NewElement(c).Mul(fa).Big()
	}
	for w, c := range b {
		term := s.field.NewElement(c).Mul(fb)
		if prev, ok := out[w]; ok {
			term = term.Add(s.field.NewElement(prev))
		}
		if term.IsZero() {
			delete(out, w)
			continue
		}
		out[w] = term.Big()
	}
	return out
}

func (s *System) eval(lc combination) (*core.FieldElement, bool) {
	sum := s.field.Zero()
	for w, c := range lc {
		v := s.wires[w]
		if v == nil {
			return nil, false
		}
		sum = sum.Add(s.field.NewElement(c).Mul(s.field.NewElement(v)))
	}
	return sum, true
}

func (s *System) addConstraint(a, b, c combination) error {
	con := Constraint{A: a, B: b, C: c}
	s.constraints = append(s.constraints, con)
	if s.mode != WitnessMode {
		return nil
	}
	if err := s.check(con); err != nil && !errors.Is(err, ErrWitnessIncomplete) {
		return fmt.Errorf("constraint %d: %w", len(s.constraints)-1, err)
	}
	return nil
}

func (s *System) check(c Constraint) error {
	a, okA := s.eval(c.A)
	b, okB := s.eval(c.B)
	cv, okC := s.eval(c.C)
	if !okA || !okB || !okC {
		return ErrWitnessIncomplete
	}
	if !a.Mul(b).Equal(cv) {
		return fmt.Errorf("%w: (%s) * (%s) != %s", ErrConstraintUnsatisfied, a, b, cv)
	}
	return nil
}
