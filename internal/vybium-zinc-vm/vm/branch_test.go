package vm

import (
	"errors"
	"testing"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// TestBranchMerge tests if/else selection with constant and witness conditions
func TestBranchMerge(t *testing.T) {
	branch := func(cond bytecode.Instruction) *bytecode.Program {
		program := bytecode.NewProgram()
		if cond != nil {
			program.Add(cond)
		}
		program.Add(
			bytecode.If{},
			u8(10),
			bytecode.Else{},
			u8(20),
			bytecode.EndIf{},
			bytecode.Exit{Outputs: 1},
		)
		return program
	}

	t.Run("Constant", func(t *testing.T) {
		taken, takenSystem := mustExecute(t, branch(flag(true)))
		expectValues(t, taken, 10)
		skipped, skippedSystem := mustExecute(t, branch(flag(false)))
		expectValues(t, skipped, 20)

		if takenSystem.NumConstraints() != skippedSystem.NumConstraints() {
			t.Errorf("constraint counts differ: %d and %d", takenSystem.NumConstraints(), skippedSystem.NumConstraints())
		}
		if takenSystem.NumWires() != skippedSystem.NumWires() {
			t.Errorf("wire counts differ: %d and %d", takenSystem.NumWires(), skippedSystem.NumWires())
		}
	})

	t.Run("Witness", func(t *testing.T) {
		for _, c := range []int64{0, 1} {
			out, _ := mustExecute(t, branch(nil), input(c, circuit.BoolType))
			want := int64(20)
			if c == 1 {
				want = 10
			}
			expectValues(t, out, want)
		}
	})

	t.Run("WithoutElse", func(t *testing.T) {
		program := bytecode.NewProgram(
			u8(1),
			bytecode.Store{Address: 0},
			flag(false),
			bytecode.If{},
			u8(9),
			bytecode.Store{Address: 0},
			bytecode.EndIf{},
			bytecode.Load{Address: 0},
			bytecode.Exit{Outputs: 1},
		)
		out, _ := mustExecute(t, program)
		expectValues(t, out, 1)
	})
}

// TestNestedBranches tests that nested selectors combine into the
// conjunction of every enclosing condition
func TestNestedBranches(t *testing.T) {
	program := bytecode.NewProgram(
		bytecode.Store{Address: 1},
		bytecode.Store{Address: 0},
		bytecode.Load{Address: 0},
		bytecode.If{},
		bytecode.Load{Address: 1},
		bytecode.If{},
		u8(1),
		bytecode.Else{},
		u8(2),
		bytecode.EndIf{},
		bytecode.Else{},
		bytecode.Load{Address: 1},
		bytecode.If{},
		u8(3),
		bytecode.Else{},
		u8(4),
		bytecode.EndIf{},
		bytecode.EndIf{},
		bytecode.Exit{Outputs: 1},
	)

	tests := []struct {
		a, b int64
		want int64
	}{
		{a: 1, b: 1, want: 1},
		{a: 1, b: 0, want: 2},
		{a: 0, b: 1, want: 3},
		{a: 0, b: 0, want: 4},
	}

	constraints := -1
	for _, tt := range tests {
		out, system := mustExecute(t, program, input(tt.a, circuit.BoolType), input(tt.b, circuit.BoolType))
		expectValues(t, out, tt.want)
		if constraints >= 0 && system.NumConstraints() != constraints {
			t.Errorf("a=%d b=%d: %d constraints, previous runs had %d", tt.a, tt.b, system.NumConstraints(), constraints)
		}
		constraints = system.NumConstraints()
	}

	t.Run("InnerElseUnderDeadOuter", func(t *testing.T) {
		// the inner else is only live when the outer branch is
		program := bytecode.NewProgram(
			bytecode.Store{Address: 1},
			bytecode.Store{Address: 0},
			bytecode.Load{Address: 0},
			bytecode.If{},
			bytecode.Load{Address: 1},
			bytecode.If{},
			bytecode.Else{},
			flag(false),
			bytecode.Assert{Message: "inner else"},
			bytecode.EndIf{},
			bytecode.EndIf{},
			bytecode.Exit{},
		)
		mustExecute(t, program, input(0, circuit.BoolType), input(0, circuit.BoolType))

		_, _, err := execute(t, nil, program, input(1, circuit.BoolType), input(0, circuit.BoolType))
		var assertion *AssertionError
		if !errors.As(err, &assertion) {
			t.Fatalf("expected an AssertionError, got %v", err)
		}
	})
}

// TestAssertGating tests that assertions only bind on live paths
func TestAssertGating(t *testing.T) {
	program := bytecode.NewProgram(
		bytecode.If{},
		flag(false),
		bytecode.Assert{Message: "unreachable"},
		bytecode.Else{},
		flag(true),
		bytecode.Assert{Message: "always holds"},
		bytecode.EndIf{},
		bytecode.Exit{},
	)

	t.Run("DeadBranch", func(t *testing.T) {
		mustExecute(t, program, input(0, circuit.BoolType))
	})

	t.Run("LiveBranch", func(t *testing.T) {
		_, _, err := execute(t, nil, program, input(1, circuit.BoolType))
		var assertion *AssertionError
		if !errors.As(err, &assertion) {
			t.Fatalf("expected an AssertionError, got %v", err)
		}
		if assertion.Message != "unreachable" || assertion.Index != 2 {
			t.Errorf("unexpected assertion %+v", assertion)
		}
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			t.Error("assertion failures must not be reported as execution errors")
		}
	})

	t.Run("TopLevel", func(t *testing.T) {
		_, _, err := execute(t, nil, bytecode.NewProgram(flag(false), bytecode.Assert{Message: "top"}, bytecode.Exit{}))
		var assertion *AssertionError
		if !errors.As(err, &assertion) {
			t.Fatalf("expected an AssertionError, got %v", err)
		}
	})

	t.Run("RequiresBool", func(t *testing.T) {
		_, _, err := execute(t, nil, bytecode.NewProgram(u8(1), bytecode.Assert{}, bytecode.Exit{}))
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("expected ErrTypeMismatch, got %v", err)
		}
	})

	t.Run("DeadDivisionByZero", func(t *testing.T) {
		program := bytecode.NewProgram(
			bytecode.If{},
			u8(1),
			u8(0),
			op(bytecode.OpDiv),
			bytecode.Else{},
			u8(2),
			bytecode.EndIf{},
			bytecode.Exit{Outputs: 1},
		)
		out, _ := mustExecute(t, program, input(0, circuit.BoolType))
		expectValues(t, out, 2)

		if _, _, err := execute(t, nil, program, input(1, circuit.BoolType)); !errors.Is(err, ErrDivisionByZero) {
			t.Errorf("expected ErrDivisionByZero, got %v", err)
		}
	})

	t.Run("DeadOverflow", func(t *testing.T) {
		program := bytecode.NewProgram(
			bytecode.If{},
			u8(200),
			u8(100),
			op(bytecode.OpAdd),
			bytecode.Cast{Type: circuit.BoolType},
			bytecode.Else{},
			flag(true),
			bytecode.EndIf{},
			bytecode.Exit{Outputs: 1},
		)
		out, _ := mustExecute(t, program, input(0, circuit.BoolType))
		expectValues(t, out, 1)
	})
}

// TestBranchErrors tests malformed branch usage
func TestBranchErrors(t *testing.T) {
	tests := []struct {
		name    string
		program *bytecode.Program
		wantErr error
	}{
		{
			name:    "UnequalBranches",
			program: bytecode.NewProgram(flag(true), bytecode.If{}, u8(1), bytecode.Else{}, bytecode.EndIf{}, bytecode.Exit{}),
			wantErr: ErrUnbalancedStack,
		},
		{
			name:    "ValueWithoutElse",
			program: bytecode.NewProgram(flag(true), bytecode.If{}, u8(1), bytecode.EndIf{}, bytecode.Exit{Outputs: 1}),
			wantErr: ErrUnbalancedStack,
		},
		{
			name:    "BranchTypes",
			program: bytecode.NewProgram(flag(true), bytecode.If{}, u8(1), bytecode.Else{}, i8(1), bytecode.EndIf{}, bytecode.Exit{Outputs: 1}),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "NonBoolCondition",
			program: bytecode.NewProgram(u8(1), bytecode.If{}, bytecode.EndIf{}, bytecode.Exit{}),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "PopOutsideBranch",
			program: bytecode.NewProgram(u8(1), flag(true), bytecode.If{}, bytecode.Pop{Count: 1}, bytecode.EndIf{}, bytecode.Exit{}),
			wantErr: ErrStackUnderflow,
		},
		{
			name: "StoredTypes",
			program: bytecode.NewProgram(
				flag(true), bytecode.If{},
				u8(1), bytecode.Store{Address: 0},
				bytecode.Else{},
				i8(1), bytecode.Store{Address: 0},
				bytecode.EndIf{},
				bytecode.Exit{},
			),
			wantErr: ErrTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, nil, tt.program)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestMemoryMerge tests that stores inside branches are merged at EndIf
func TestMemoryMerge(t *testing.T) {
	global := bytecode.StorageMode{Global: true}
	program := bytecode.NewProgram(
		u8(1), bytecode.Store{Address: 0},
		u8(1), bytecode.Store{Mode: global, Address: 0},
		bytecode.If{},
		u8(5), bytecode.Store{Address: 0},
		u8(50), bytecode.Store{Mode: global, Address: 0},
		bytecode.Else{},
		u8(7), bytecode.Store{Address: 0},
		bytecode.EndIf{},
		bytecode.Load{Address: 0},
		bytecode.Load{Mode: global, Address: 0},
		bytecode.Exit{Outputs: 2},
	)

	out, _ := mustExecute(t, program, input(1, circuit.BoolType))
	expectValues(t, out, 5, 50)
	out, _ = mustExecute(t, program, input(0, circuit.BoolType))
	expectValues(t, out, 7, 1)

	t.Run("Nested", func(t *testing.T) {
		program := bytecode.NewProgram(
			u8(1), bytecode.Store{Address: 2},
			bytecode.Store{Address: 1},
			bytecode.Store{Address: 0},
			bytecode.Load{Address: 0},
			bytecode.If{},
			bytecode.Load{Address: 1},
			bytecode.If{},
			u8(5), bytecode.Store{Address: 2},
			bytecode.EndIf{},
			bytecode.EndIf{},
			bytecode.Load{Address: 2},
			bytecode.Exit{Outputs: 1},
		)
		tests := []struct{ a, b, want int64 }{
			{a: 1, b: 1, want: 5},
			{a: 1, b: 0, want: 1},
			{a: 0, b: 1, want: 1},
			{a: 0, b: 0, want: 1},
		}
		for _, tt := range tests {
			out, _ := mustExecute(t, program, input(tt.a, circuit.BoolType), input(tt.b, circuit.BoolType))
			expectValues(t, out, tt.want)
		}
	})

	t.Run("BranchLocal", func(t *testing.T) {
		program := bytecode.NewProgram(
			bytecode.If{},
			u8(5), bytecode.Store{Address: 0},
			bytecode.EndIf{},
			bytecode.Load{Address: 0},
			bytecode.Exit{Outputs: 1},
		)
		if _, _, err := execute(t, nil, program, input(1, circuit.BoolType)); !errors.Is(err, ErrUninitialized) {
			t.Errorf("expected ErrUninitialized, got %v", err)
		}
	})
}
