package vm

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/utils"
)

var (
	typeU8  = circuit.UnsignedType(8)
	typeU16 = circuit.UnsignedType(16)
	typeI8  = circuit.SignedType(8)
)

func push(v int64, typ circuit.ScalarType) bytecode.PushConst {
	return bytecode.PushConst{Value: big.NewInt(v), Type: typ}
}

func u8(v int64) bytecode.PushConst { return push(v, typeU8) }
func i8(v int64) bytecode.PushConst { return push(v, typeI8) }

func flag(b bool) bytecode.PushConst {
	if b {
		return push(1, circuit.BoolType)
	}
	return push(0, circuit.BoolType)
}

func op(code bytecode.Opcode) bytecode.Instruction {
	if bytecode.IsUnaryOp(code) {
		return bytecode.Unary{Op: code}
	}
	return bytecode.Binary{Op: code}
}

func input(v int64, typ circuit.ScalarType) Input {
	return Input{Value: big.NewInt(v), Type: typ}
}

// execute runs program on a fresh system. A nil config selects the defaults.
func execute(t *testing.T, config *utils.Config, program *bytecode.Program, inputs ...Input) ([]circuit.Primitive, *circuit.System, error) {
	t.Helper()
	if config == nil {
		config = utils.DefaultConfig()
	}
	mode := circuit.WitnessMode
	if config.Mode == utils.ModeConstraints {
		mode = circuit.ConstraintMode
	}
	system := circuit.NewSystem(nil, mode)
	machine, err := NewVM(program, system, config)
	if err != nil {
		return nil, system, err
	}
	out, err := machine.Run(inputs)
	return out, system, err
}

// mustExecute runs program in witness mode and verifies the constraints
func mustExecute(t *testing.T, program *bytecode.Program, inputs ...Input) ([]int64, *circuit.System) {
	t.Helper()
	out, system, err := execute(t, nil, program, inputs...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := system.Verify(); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	values := make([]int64, len(out))
	for i, p := range out {
		if !p.Known() {
			t.Fatalf("output %d unknown", i)
		}
		witness, ok := system.Value(p.Var)
		if !ok {
			t.Fatalf("output %d has no witness", i)
		}
		if witness.Cmp(circuit.FieldValue(system, p.Value)) != 0 {
			t.Fatalf("output %d: witness %s does not match value %s", i, witness, p.Value)
		}
		values[i] = p.Value.Int64()
	}
	return values, system
}

func expectValues(t *testing.T, got []int64, want ...int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d outputs %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("output %d = %d, want %d (all %v)", i, got[i], want[i], got)
		}
	}
}

// TestAddEndToEnd tests the smallest complete program
func TestAddEndToEnd(t *testing.T) {
	program := bytecode.NewProgram(u8(2), u8(3), op(bytecode.OpAdd), bytecode.Exit{Outputs: 1})
	out, system := mustExecute(t, program)
	expectValues(t, out, 5)
	if system.NumConstraints() != 1 {
		t.Errorf("expected exactly 1 constraint, got %d", system.NumConstraints())
	}
}

// TestInputs tests input allocation and range checks
func TestInputs(t *testing.T) {
	program := bytecode.NewProgram(op(bytecode.OpAdd), bytecode.Exit{Outputs: 1})

	t.Run("RangeChecked", func(t *testing.T) {
		out, system := mustExecute(t, program, input(40, typeU8), input(2, typeU8))
		expectValues(t, out, 42)
		// two 8-bit decompositions of 2·8+1 rows each, plus the addition
		if system.NumConstraints() != 35 {
			t.Errorf("expected 35 constraints, got %d", system.NumConstraints())
		}
	})

	tests := []struct {
		name   string
		inputs []Input
	}{
		{name: "OutOfRange", inputs: []Input{input(300, typeU8), input(1, typeU8)}},
		{name: "Negative", inputs: []Input{input(-1, typeU8), input(1, typeU8)}},
		{name: "MissingValue", inputs: []Input{{Type: typeU8}, input(1, typeU8)}},
		{name: "InvalidType", inputs: []Input{input(1, circuit.ScalarType{Signed: true}), input(1, typeU8)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, nil, program, tt.inputs...)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

// TestArithmetic tests native results and the overflow policy
func TestArithmetic(t *testing.T) {
	tests := []struct {
		name    string
		program []bytecode.Instruction
		want    int64
		wantErr error
	}{
		{name: "Sub", program: []bytecode.Instruction{u8(9), u8(4), op(bytecode.OpSub)}, want: 5},
		{name: "Mul", program: []bytecode.Instruction{u8(12), u8(11), op(bytecode.OpMul)}, want: 132},
		{name: "NegSigned", program: []bytecode.Instruction{i8(5), op(bytecode.OpNeg)}, want: -5},
		{name: "SignedSub", program: []bytecode.Instruction{i8(-100), i8(28), op(bytecode.OpSub)}, want: -128},
		{name: "AddOverflow", program: []bytecode.Instruction{u8(200), u8(100), op(bytecode.OpAdd)}, wantErr: ErrOverflow},
		{name: "SubUnderflow", program: []bytecode.Instruction{u8(1), u8(2), op(bytecode.OpSub)}, wantErr: ErrOverflow},
		{name: "MulOverflow", program: []bytecode.Instruction{u8(16), u8(16), op(bytecode.OpMul)}, wantErr: ErrOverflow},
		{name: "NegMinimum", program: []bytecode.Instruction{i8(-128), op(bytecode.OpNeg)}, wantErr: ErrOverflow},
		{name: "NegUnsigned", program: []bytecode.Instruction{u8(5), op(bytecode.OpNeg)}, wantErr: ErrTypeMismatch},
		{name: "MixedTypes", program: []bytecode.Instruction{u8(1), i8(1), op(bytecode.OpAdd)}, wantErr: ErrTypeMismatch},
		{name: "BoolArithmetic", program: []bytecode.Instruction{flag(true), flag(true), op(bytecode.OpAdd)}, wantErr: ErrTypeMismatch},
		{name: "Underflow", program: []bytecode.Instruction{u8(1), op(bytecode.OpAdd)}, wantErr: ErrStackUnderflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := bytecode.NewProgram(tt.program...)
			program.Add(bytecode.Exit{Outputs: 1})
			if tt.wantErr != nil {
				_, _, err := execute(t, nil, program)
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				var execErr *ExecutionError
				if !errors.As(err, &execErr) {
					t.Fatalf("expected an ExecutionError, got %T", err)
				}
				return
			}
			out, _ := mustExecute(t, program)
			expectValues(t, out, tt.want)
		})
	}
}

// TestFieldArithmetic tests that field values wrap around the modulus
func TestFieldArithmetic(t *testing.T) {
	pMinusOne := new(big.Int).Sub(core.DefaultPrimeField.Modulus(), big.NewInt(1))
	program := bytecode.NewProgram(
		bytecode.PushConst{Value: pMinusOne, Type: circuit.FieldType},
		push(2, circuit.FieldType),
		op(bytecode.OpAdd),
		bytecode.Exit{Outputs: 1},
	)
	out, _ := mustExecute(t, program)
	expectValues(t, out, 1)

	t.Run("Division", func(t *testing.T) {
		program := bytecode.NewProgram(push(6, circuit.FieldType), push(3, circuit.FieldType), op(bytecode.OpDiv), bytecode.Exit{Outputs: 1})
		out, _ := mustExecute(t, program)
		expectValues(t, out, 2)
	})

	t.Run("NoRemainder", func(t *testing.T) {
		program := bytecode.NewProgram(push(6, circuit.FieldType), push(3, circuit.FieldType), op(bytecode.OpRem), bytecode.Exit{Outputs: 1})
		if _, _, err := execute(t, nil, program); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("expected ErrTypeMismatch, got %v", err)
		}
	})

	t.Run("NoOrdering", func(t *testing.T) {
		program := bytecode.NewProgram(push(6, circuit.FieldType), push(3, circuit.FieldType), op(bytecode.OpLt), bytecode.Exit{Outputs: 1})
		if _, _, err := execute(t, nil, program); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("expected ErrTypeMismatch, got %v", err)
		}
	})
}

// TestDivision tests Euclidean quotient and remainder
func TestDivision(t *testing.T) {
	tests := []struct {
		name    string
		a, b    bytecode.PushConst
		q, r    int64
		wantErr error
	}{
		{name: "Unsigned", a: u8(17), b: u8(5), q: 3, r: 2},
		{name: "Exact", a: u8(255), b: u8(15), q: 17, r: 0},
		{name: "PositiveByPositive", a: i8(7), b: i8(2), q: 3, r: 1},
		{name: "NegativeByPositive", a: i8(-7), b: i8(2), q: -4, r: 1},
		{name: "PositiveByNegative", a: i8(7), b: i8(-2), q: -3, r: 1},
		{name: "NegativeByNegative", a: i8(-7), b: i8(-2), q: 4, r: 1},
		{name: "MinimumByMinimum", a: i8(-128), b: i8(-128), q: 1, r: 0},
		{name: "ByZero", a: u8(1), b: u8(0), wantErr: ErrDivisionByZero},
		{name: "QuotientOverflow", a: i8(-128), b: i8(-1), wantErr: ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := bytecode.NewProgram(
				tt.a, tt.b, op(bytecode.OpDiv),
				tt.a, tt.b, op(bytecode.OpRem),
				bytecode.Exit{Outputs: 2},
			)
			if tt.wantErr != nil {
				if _, _, err := execute(t, nil, program); !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			out, _ := mustExecute(t, program)
			expectValues(t, out, tt.q, tt.r)
		})
	}
}

// TestComparisons tests ordering and equality results
func TestComparisons(t *testing.T) {
	tests := []struct {
		name string
		a, b bytecode.PushConst
		want map[bytecode.Opcode]int64
	}{
		{
			name: "UnsignedLess",
			a:    u8(3), b: u8(200),
			want: map[bytecode.Opcode]int64{bytecode.OpLt: 1, bytecode.OpLe: 1, bytecode.OpEq: 0, bytecode.OpNe: 1, bytecode.OpGe: 0, bytecode.OpGt: 0},
		},
		{
			name: "UnsignedEqual",
			a:    u8(255), b: u8(255),
			want: map[bytecode.Opcode]int64{bytecode.OpLt: 0, bytecode.OpLe: 1, bytecode.OpEq: 1, bytecode.OpNe: 0, bytecode.OpGe: 1, bytecode.OpGt: 0},
		},
		{
			name: "SignedGreater",
			a:    i8(2), b: i8(-3),
			want: map[bytecode.Opcode]int64{bytecode.OpLt: 0, bytecode.OpLe: 0, bytecode.OpEq: 0, bytecode.OpNe: 1, bytecode.OpGe: 1, bytecode.OpGt: 1},
		},
		{
			name: "SignedExtremes",
			a:    i8(-128), b: i8(127),
			want: map[bytecode.Opcode]int64{bytecode.OpLt: 1, bytecode.OpLe: 1, bytecode.OpEq: 0, bytecode.OpNe: 1, bytecode.OpGe: 0, bytecode.OpGt: 0},
		},
	}

	for _, tt := range tests {
		for code, want := range tt.want {
			t.Run(tt.name+"/"+code.String(), func(t *testing.T) {
				program := bytecode.NewProgram(tt.a, tt.b, op(code), bytecode.Exit{Outputs: 1})
				out, _ := mustExecute(t, program)
				expectValues(t, out, want)
			})
		}
	}
}

// TestBooleanOperations tests the truth tables and the operand check
func TestBooleanOperations(t *testing.T) {
	truth := map[bytecode.Opcode]func(a, b int64) int64{
		bytecode.OpAnd: func(a, b int64) int64 { return a & b },
		bytecode.OpOr:  func(a, b int64) int64 { return a | b },
		bytecode.OpXor: func(a, b int64) int64 { return a ^ b },
	}
	for code, fn := range truth {
		for _, a := range []int64{0, 1} {
			for _, b := range []int64{0, 1} {
				program := bytecode.NewProgram(flag(a == 1), flag(b == 1), op(code), bytecode.Exit{Outputs: 1})
				out, _ := mustExecute(t, program)
				if out[0] != fn(a, b) {
					t.Errorf("%d %s %d = %d, want %d", a, code, b, out[0], fn(a, b))
				}
			}
		}
	}

	for _, a := range []bool{false, true} {
		out, _ := mustExecute(t, bytecode.NewProgram(flag(a), op(bytecode.OpNot), bytecode.Exit{Outputs: 1}))
		if (out[0] == 1) == a {
			t.Errorf("not %v = %d", a, out[0])
		}
	}

	t.Run("RequiresBool", func(t *testing.T) {
		for _, code := range []bytecode.Opcode{bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor} {
			program := bytecode.NewProgram(u8(1), u8(1), op(code), bytecode.Exit{Outputs: 1})
			if _, _, err := execute(t, nil, program); !errors.Is(err, ErrTypeMismatch) {
				t.Errorf("%s: expected ErrTypeMismatch, got %v", code, err)
			}
		}
		program := bytecode.NewProgram(u8(1), op(bytecode.OpNot), bytecode.Exit{Outputs: 1})
		if _, _, err := execute(t, nil, program); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("not: expected ErrTypeMismatch, got %v", err)
		}
	})
}

// TestCast tests widening, narrowing and field conversions
func TestCast(t *testing.T) {
	tests := []struct {
		name      string
		value     bytecode.PushConst
		to        circuit.ScalarType
		want      int64
		wantErr   error
		noRowsAdd bool
	}{
		{name: "Widen", value: u8(200), to: typeU16, want: 200, noRowsAdd: true},
		{name: "WidenSigned", value: i8(-5), to: circuit.SignedType(16), want: -5, noRowsAdd: true},
		{name: "NarrowFits", value: push(200, typeU16), to: typeU8, want: 200},
		{name: "NarrowOverflow", value: push(300, typeU16), to: typeU8, wantErr: ErrOverflow},
		{name: "SignedToUnsigned", value: i8(-1), to: typeU8, wantErr: ErrOverflow},
		{name: "UnsignedToSigned", value: u8(100), to: typeI8, want: 100},
		{name: "ToBool", value: u8(1), to: circuit.BoolType, want: 1},
		{name: "FieldToSigned", value: push(7, circuit.FieldType), to: typeI8, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := bytecode.NewProgram(tt.value, bytecode.Cast{Type: tt.to}, bytecode.Exit{Outputs: 1})
			if tt.wantErr != nil {
				if _, _, err := execute(t, nil, program); !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			out, system := mustExecute(t, program)
			expectValues(t, out, tt.want)
			if tt.noRowsAdd && system.NumConstraints() != 0 {
				t.Errorf("widening added %d constraints", system.NumConstraints())
			}
		})
	}

	t.Run("NegativeThroughField", func(t *testing.T) {
		program := bytecode.NewProgram(i8(-1), bytecode.Cast{Type: circuit.FieldType}, bytecode.Cast{Type: typeI8}, bytecode.Exit{Outputs: 1})
		out, _ := mustExecute(t, program)
		expectValues(t, out, -1)
	})
}

// TestLoops tests unrolled loops and the loop bound
func TestLoops(t *testing.T) {
	loop := func(iterations uint) *bytecode.Program {
		return bytecode.NewProgram(
			u8(0),
			bytecode.Store{Address: 0},
			bytecode.LoopBegin{Iterations: iterations},
			bytecode.Load{Address: 0},
			u8(3),
			op(bytecode.OpAdd),
			bytecode.Store{Address: 0},
			bytecode.LoopEnd{},
			bytecode.Load{Address: 0},
			bytecode.Exit{Outputs: 1},
		)
	}

	t.Run("Sum", func(t *testing.T) {
		out, system := mustExecute(t, loop(4))
		expectValues(t, out, 12)
		if system.NumConstraints() != 4 {
			t.Errorf("expected one addition per iteration, got %d constraints", system.NumConstraints())
		}
	})

	t.Run("Zero", func(t *testing.T) {
		out, _ := mustExecute(t, loop(0))
		expectValues(t, out, 0)
	})

	t.Run("Nested", func(t *testing.T) {
		program := bytecode.NewProgram(
			u8(0),
			bytecode.Store{Address: 0},
			bytecode.LoopBegin{Iterations: 3},
			bytecode.LoopBegin{Iterations: 5},
			bytecode.Load{Address: 0},
			u8(1),
			op(bytecode.OpAdd),
			bytecode.Store{Address: 0},
			bytecode.LoopEnd{},
			bytecode.LoopEnd{},
			bytecode.Load{Address: 0},
			bytecode.Exit{Outputs: 1},
		)
		out, _ := mustExecute(t, program)
		expectValues(t, out, 15)
	})

	t.Run("BoundExceeded", func(t *testing.T) {
		config := utils.DefaultConfig().WithMaxLoopIterations(3)
		if _, _, err := execute(t, config, loop(4)); !errors.Is(err, bytecode.ErrInvalidProgram) {
			t.Errorf("expected ErrInvalidProgram, got %v", err)
		}
	})

	t.Run("CycleLimit", func(t *testing.T) {
		config := utils.DefaultConfig().WithMaxCycles(10)
		if _, _, err := execute(t, config, loop(4)); !errors.Is(err, ErrCycleLimit) {
			t.Errorf("expected ErrCycleLimit, got %v", err)
		}
	})
}

// TestConstraintModeShape tests that generating constraints without values
// produces the same system shape as a witness run
func TestConstraintModeShape(t *testing.T) {
	program := bytecode.NewProgram(
		bytecode.Store{Address: 1},
		bytecode.Store{Address: 0},
		bytecode.Load{Address: 0}, bytecode.Load{Address: 1}, op(bytecode.OpDiv),
		bytecode.Load{Address: 0}, bytecode.Load{Address: 1}, op(bytecode.OpRem),
		op(bytecode.OpAdd),
		bytecode.Load{Address: 0}, bytecode.Load{Address: 1}, op(bytecode.OpLt),
		bytecode.If{},
		u8(1),
		bytecode.Else{},
		u8(2),
		bytecode.EndIf{},
		op(bytecode.OpMul),
		u8(4), u8(5), u8(6),
		bytecode.Store{Mode: bytecode.StorageMode{Sequence: true}, Address: 2, Len: 3},
		bytecode.Load{Address: 1},
		bytecode.Cast{Type: typeU8},
		u8(3), op(bytecode.OpRem),
		bytecode.Load{Mode: bytecode.StorageMode{ByIndex: true}, Address: 2, Len: 3},
		op(bytecode.OpAdd),
		bytecode.Exit{Outputs: 1},
	)
	inputs := []Input{input(17, typeU8), input(5, typeU8)}

	out, witnessSystem := mustExecute(t, program, inputs...)
	// (3 + 2) · 2 + element 5 % 3 = 2 of [4 5 6]
	expectValues(t, out, 16)

	config := utils.DefaultConfig().WithMode(utils.ModeConstraints)
	shapeOut, shapeSystem, err := execute(t, config, program, inputs...)
	if err != nil {
		t.Fatalf("constraint run failed: %v", err)
	}
	if shapeOut[0].Known() {
		t.Errorf("constraint run produced a concrete output %s", shapeOut[0])
	}
	if witnessSystem.NumConstraints() != shapeSystem.NumConstraints() {
		t.Errorf("constraint counts differ: witness %d, constraints %d", witnessSystem.NumConstraints(), shapeSystem.NumConstraints())
	}
	if witnessSystem.NumWires() != shapeSystem.NumWires() {
		t.Errorf("wire counts differ: witness %d, constraints %d", witnessSystem.NumWires(), shapeSystem.NumWires())
	}
	if err := shapeSystem.Verify(); !errors.Is(err, circuit.ErrWitnessIncomplete) {
		t.Errorf("expected ErrWitnessIncomplete from an unassigned system, got %v", err)
	}
}

// TestDbg tests debug output and its gating
func TestDbg(t *testing.T) {
	run := func(t *testing.T, program *bytecode.Program) string {
		t.Helper()
		system := circuit.NewSystem(nil, circuit.WitnessMode)
		machine, err := NewVM(program, system, nil)
		if err != nil {
			t.Fatalf("NewVM failed: %v", err)
		}
		var buf bytes.Buffer
		machine.SetDebugWriter(&buf)
		if _, err := machine.Run(nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return buf.String()
	}

	t.Run("Live", func(t *testing.T) {
		got := run(t, bytecode.NewProgram(u8(42), i8(-3), bytecode.Dbg{Format: "values:", Args: 2}, bytecode.Exit{}))
		if got != "values: -3 42\n" {
			t.Errorf("unexpected output %q", got)
		}
	})

	t.Run("DeadBranch", func(t *testing.T) {
		got := run(t, bytecode.NewProgram(
			flag(false),
			bytecode.If{},
			u8(1),
			bytecode.Dbg{Format: "then", Args: 1},
			bytecode.Else{},
			u8(2),
			bytecode.Dbg{Format: "else", Args: 1},
			bytecode.EndIf{},
			bytecode.Exit{},
		))
		if got != "else 2\n" {
			t.Errorf("unexpected output %q", got)
		}
	})
}

// TestBuiltins tests builtin dispatch through the VM
func TestBuiltins(t *testing.T) {
	t.Run("BitsRoundTrip", func(t *testing.T) {
		program := bytecode.NewProgram(
			u8(0xa5),
			bytecode.CallBuiltin{Builtin: bytecode.BuiltinToBits, Inputs: 1, Outputs: 8},
			bytecode.CallBuiltin{Builtin: bytecode.BuiltinArrayReverse, Inputs: 8, Outputs: 8},
			bytecode.CallBuiltin{Builtin: bytecode.BuiltinUnsignedFromBits, Inputs: 8, Outputs: 1},
			bytecode.Exit{Outputs: 1},
		)
		out, _ := mustExecute(t, program)
		// 1010_0101 reads the same reversed
		expectValues(t, out, 0xa5)
	})

	t.Run("DeadBranchArguments", func(t *testing.T) {
		program := bytecode.NewProgram(
			flag(false),
			bytecode.If{},
			i8(-7),
			bytecode.CallBuiltin{Builtin: bytecode.BuiltinToBits, Inputs: 1, Outputs: 8},
			bytecode.Pop{Count: 8},
			bytecode.EndIf{},
			bytecode.Exit{},
		)
		mustExecute(t, program)
	})

	t.Run("Unresolved", func(t *testing.T) {
		program := bytecode.NewProgram(u8(1), bytecode.CallBuiltin{Builtin: 99, Inputs: 1, Outputs: 1}, bytecode.Exit{Outputs: 1})
		if _, _, err := execute(t, nil, program); !errors.Is(err, ErrUnresolvedBuiltin) {
			t.Errorf("expected ErrUnresolvedBuiltin, got %v", err)
		}
	})

	t.Run("WrongArity", func(t *testing.T) {
		program := bytecode.NewProgram(u8(1), bytecode.CallBuiltin{Builtin: bytecode.BuiltinToBits, Inputs: 1, Outputs: 4}, bytecode.Exit{Outputs: 4})
		if _, _, err := execute(t, nil, program); !errors.Is(err, ErrUnbalancedStack) {
			t.Errorf("expected ErrUnbalancedStack, got %v", err)
		}
	})
}

// TestExecutionErrors tests error reporting
func TestExecutionErrors(t *testing.T) {
	t.Run("Location", func(t *testing.T) {
		program := bytecode.NewProgram(
			bytecode.FileMarker{File: "main.zn"},
			bytecode.FunctionMarker{Function: "main"},
			bytecode.LineMarker{Line: 3},
			bytecode.ColumnMarker{Column: 5},
			u8(1),
			u8(0),
			op(bytecode.OpDiv),
			bytecode.Exit{Outputs: 1},
		)
		_, _, err := execute(t, nil, program)
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			t.Fatalf("expected an ExecutionError, got %v", err)
		}
		if execErr.Index != 6 {
			t.Errorf("expected index 6, got %d", execErr.Index)
		}
		if got := execErr.Location.String(); got != "main.zn:main:3:5" {
			t.Errorf("unexpected location %q", got)
		}
		if !errors.Is(err, ErrDivisionByZero) {
			t.Errorf("expected ErrDivisionByZero, got %v", err)
		}
	})

	t.Run("NoExit", func(t *testing.T) {
		program := bytecode.NewProgram(bytecode.Call{Address: 2}, bytecode.Exit{}, bytecode.NoOperation{})
		if _, _, err := execute(t, nil, program); !errors.Is(err, ErrNoExit) {
			t.Errorf("expected ErrNoExit, got %v", err)
		}
	})

	t.Run("InvalidProgram", func(t *testing.T) {
		if _, _, err := execute(t, nil, bytecode.NewProgram(u8(1))); !errors.Is(err, bytecode.ErrInvalidProgram) {
			t.Errorf("expected ErrInvalidProgram, got %v", err)
		}
	})

	t.Run("StackOverflow", func(t *testing.T) {
		config := utils.DefaultConfig().WithMaxEvaluationStack(2)
		program := bytecode.NewProgram(u8(1), u8(2), u8(3), bytecode.Exit{Outputs: 3})
		if _, _, err := execute(t, config, program); !errors.Is(err, ErrStackOverflow) {
			t.Errorf("expected ErrStackOverflow, got %v", err)
		}
	})

	t.Run("FieldMismatch", func(t *testing.T) {
		small, err := core.NewField(big.NewInt(101))
		if err != nil {
			t.Fatalf("NewField failed: %v", err)
		}
		system := circuit.NewSystem(small, circuit.WitnessMode)
		if _, err := NewVM(bytecode.NewProgram(bytecode.Exit{}), system, nil); err == nil {
			t.Error("expected an error for a backend over another field")
		}
	})
}

// TestStackBalance tests that every non-control instruction changes the
// evaluation stack by its declared output count minus its input count
func TestStackBalance(t *testing.T) {
	seq := bytecode.StorageMode{Sequence: true}
	tests := []struct {
		name  string
		setup []bytecode.Instruction
		ins   bytecode.Instruction
	}{
		{name: "NoOperation", ins: bytecode.NoOperation{}},
		{name: "PushConst", ins: u8(1)},
		{name: "Pop", setup: []bytecode.Instruction{u8(1), u8(2)}, ins: bytecode.Pop{Count: 2}},
		{name: "Slice", setup: []bytecode.Instruction{u8(1), u8(2), u8(3)}, ins: bytecode.Slice{Total: 3, Offset: 1, Length: 1}},
		{name: "Swap", setup: []bytecode.Instruction{u8(1), u8(2)}, ins: bytecode.Swap{}},
		{name: "Add", setup: []bytecode.Instruction{u8(1), u8(2)}, ins: op(bytecode.OpAdd)},
		{name: "Div", setup: []bytecode.Instruction{u8(7), u8(2)}, ins: op(bytecode.OpDiv)},
		{name: "Lt", setup: []bytecode.Instruction{u8(1), u8(2)}, ins: op(bytecode.OpLt)},
		{name: "Xor", setup: []bytecode.Instruction{flag(true), flag(false)}, ins: op(bytecode.OpXor)},
		{name: "Not", setup: []bytecode.Instruction{flag(true)}, ins: op(bytecode.OpNot)},
		{name: "Neg", setup: []bytecode.Instruction{i8(3)}, ins: op(bytecode.OpNeg)},
		{name: "Cast", setup: []bytecode.Instruction{push(3, typeU16)}, ins: bytecode.Cast{Type: typeU8}},
		{name: "Ref", ins: bytecode.Ref{Address: 3}},
		{name: "Store", setup: []bytecode.Instruction{u8(1)}, ins: bytecode.Store{Address: 0}},
		{name: "StoreSequence", setup: []bytecode.Instruction{u8(1), u8(2)}, ins: bytecode.Store{Mode: seq, Len: 2}},
		{name: "Load", setup: []bytecode.Instruction{u8(1), bytecode.Store{}}, ins: bytecode.Load{}},
		{
			name:  "LoadSequenceByIndex",
			setup: []bytecode.Instruction{u8(1), u8(2), u8(3), u8(4), bytecode.Store{Mode: seq, Len: 4}, u8(1)},
			ins:   bytecode.Load{Mode: bytecode.StorageMode{Sequence: true, ByIndex: true}, Len: 4, ValueLen: 2},
		},
		{
			name:  "StoreByIndexByRef",
			setup: []bytecode.Instruction{u8(1), u8(2), bytecode.Store{Mode: seq, Len: 2}, u8(9), u8(1), bytecode.Ref{}},
			ins:   bytecode.Store{Mode: bytecode.StorageMode{ByIndex: true, ByRef: true}, Len: 2},
		},
		{
			name:  "LoadGlobalByRef",
			setup: []bytecode.Instruction{u8(5), bytecode.Store{Mode: bytecode.StorageMode{Global: true}}, bytecode.Ref{Global: true}},
			ins:   bytecode.Load{Mode: bytecode.StorageMode{Global: true, ByRef: true}},
		},
		{name: "CallBuiltin", setup: []bytecode.Instruction{u8(5)}, ins: bytecode.CallBuiltin{Builtin: bytecode.BuiltinToBits, Inputs: 1, Outputs: 8}},
		{name: "Assert", setup: []bytecode.Instruction{flag(true)}, ins: bytecode.Assert{Message: "ok"}},
		{name: "Dbg", setup: []bytecode.Instruction{u8(1), u8(2)}, ins: bytecode.Dbg{Format: "x", Args: 2}},
		{name: "LineMarker", ins: bytecode.LineMarker{Line: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system := circuit.NewSystem(nil, circuit.WitnessMode)
			machine, err := NewVM(bytecode.NewProgram(bytecode.Exit{}), system, nil)
			if err != nil {
				t.Fatalf("NewVM failed: %v", err)
			}
			for _, ins := range tt.setup {
				if err := machine.ExecuteInstruction(ins); err != nil {
					t.Fatalf("setup %s failed: %v", ins, err)
				}
			}

			before := machine.stack.Len()
			if err := machine.ExecuteInstruction(tt.ins); err != nil {
				t.Fatalf("%s failed: %v", tt.ins, err)
			}
			got := machine.stack.Len() - before
			want := tt.ins.OutputsCount() - tt.ins.InputsCount()
			if got != want {
				t.Errorf("%s changed the stack by %d, declared %d", tt.ins, got, want)
			}
		})
	}
}

// TestSegmentEffects tests how block and call instructions move values
// between evaluation stack segments
func TestSegmentEffects(t *testing.T) {
	steps := []struct {
		ins  bytecode.Instruction
		want int
	}{
		{ins: u8(1), want: 1},
		{ins: flag(true), want: 2},
		{ins: bytecode.If{}, want: 0},
		{ins: u8(2), want: 1},
		{ins: bytecode.Else{}, want: 0},
		{ins: u8(3), want: 1},
		{ins: bytecode.EndIf{}, want: 2},
		{ins: bytecode.Call{Address: 0, Inputs: 2}, want: 0},
		{ins: u8(4), want: 1},
		{ins: bytecode.Return{Outputs: 1}, want: 1},
	}

	system := circuit.NewSystem(nil, circuit.WitnessMode)
	machine, err := NewVM(bytecode.NewProgram(bytecode.Exit{}), system, nil)
	if err != nil {
		t.Fatalf("NewVM failed: %v", err)
	}
	for i, step := range steps {
		if err := machine.ExecuteInstruction(step.ins); err != nil {
			t.Fatalf("step %d (%s) failed: %v", i, step.ins, err)
		}
		if got := machine.stack.Len(); got != step.want {
			t.Errorf("after %s the active segment holds %d values, want %d", step.ins, got, step.want)
		}
	}
	if len(machine.frames) != 1 || machine.stack.size != 1 {
		t.Fatalf("expected one frame and one value, got %d frames and %d values", len(machine.frames), machine.stack.size)
	}
	if v := machine.stack.top()[0].Value; v.Int64() != 4 {
		t.Errorf("expected the returned 4, got %s", v)
	}
}
