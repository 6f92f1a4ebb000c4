// Package vm provides the dual-mode execution engine. Every instruction
// computes a concrete result when values are known and emits the constraints
// tying that result to its operands.
package vm

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/tliron/commonlog"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/utils"
)

var log = commonlog.GetLogger("zinc.vm")

// Input is one program argument. Value is ignored in constraints mode.
type Input struct {
	Value *big.Int
	Type  circuit.ScalarType
}

// VMState represents the complete state of one program run
type VMState struct {
	// Program memory (read-only)
	Program *bytecode.Program
	blocks  *bytecode.Blocks

	// Constraint backend and its field
	Backend circuit.Backend
	field   *core.Field

	Config  *utils.Config
	witness bool // inputs carry concrete values

	// Execution state
	InstructionPointer int
	CycleCount         int
	next               int // instruction executed after the current one
	halted             bool
	outputs            []circuit.Primitive

	// Storage
	stack      *evaluationStack
	data       *memory
	globals    *memory
	globalSize int // high-water mark of the global region

	// Control
	conditions []*conditionFrame
	frames     []callFrame
	loops      []loopFrame

	// Diagnostics
	location Location
	debug    io.Writer
}

// NewVM prepares a run of program against backend. A nil config selects the
// defaults.
func NewVM(program *bytecode.Program, backend circuit.Backend, config *utils.Config) (*VMState, error) {
	if config == nil {
		config = utils.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if program == nil {
		return nil, fmt.Errorf("%w: nil program", bytecode.ErrInvalidProgram)
	}
	if backend == nil {
		return nil, fmt.Errorf("nil backend")
	}
	field, err := config.Field()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !backend.Field().Equals(field) {
		return nil, fmt.Errorf("backend field does not match configured modulus")
	}

	if err := program.Validate(uint(config.MaxLoopIterations)); err != nil {
		return nil, err
	}
	blocks, err := program.MatchBlocks()
	if err != nil {
		return nil, err
	}

	return &VMState{
		Program: program,
		blocks:  blocks,
		Backend: backend,
		field:   backend.Field(),
		Config:  config,
		witness: config.Mode == utils.ModeWitness,
		stack:   newEvaluationStack(config.MaxEvaluationStack),
		data:    newMemory("data", config.MaxDataStack),
		globals: newMemory("global", config.MaxGlobals),
		frames:  []callFrame{{returnIP: -1}},
		debug:   io.Discard,
	}, nil
}

// SetDebugWriter directs Dbg output to w
func (vm *VMState) SetDebugWriter(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	vm.debug = w
}

// Location returns the source position set by the last debug markers
func (vm *VMState) Location() Location {
	return vm.location
}

// Halted reports whether the program reached Exit
func (vm *VMState) Halted() bool {
	return vm.halted
}

// Outputs returns the values popped by Exit
func (vm *VMState) Outputs() []circuit.Primitive {
	return append([]circuit.Primitive(nil), vm.outputs...)
}

// Run allocates the inputs and executes the program until Exit
func (vm *VMState) Run(inputs []Input) ([]circuit.Primitive, error) {
	log.Infof("running %d instructions with %d inputs in %s mode", vm.Program.Len(), len(inputs), vm.Config.Mode)

	for i, in := range inputs {
		p, err := vm.allocateInput(in)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrInvalidInput, i, err)
		}
		if err := vm.stack.push(p); err != nil {
			return nil, err
		}
	}

	for !vm.halted {
		if vm.CycleCount >= vm.Config.MaxCycles {
			return nil, vm.wrap(fmt.Errorf("%w: %d cycles", ErrCycleLimit, vm.CycleCount))
		}
		if err := vm.Step(); err != nil {
			return nil, err
		}
	}

	log.Infof("program exited after %d cycles with %d outputs", vm.CycleCount, len(vm.outputs))
	return vm.Outputs(), nil
}

// Step executes one instruction
func (vm *VMState) Step() error {
	if vm.halted {
		return fmt.Errorf("machine already halted")
	}

	ins, err := vm.CurrentInstruction()
	if err != nil {
		return vm.wrap(err)
	}

	vm.next = vm.InstructionPointer + 1
	if err := vm.ExecuteInstruction(ins); err != nil {
		var assertion *AssertionError
		if errors.As(err, &assertion) {
			return err
		}
		return vm.wrap(err)
	}

	vm.InstructionPointer = vm.next
	vm.CycleCount++
	return nil
}

// CurrentInstruction fetches the instruction at the instruction pointer
func (vm *VMState) CurrentInstruction() (bytecode.Instruction, error) {
	if vm.InstructionPointer < 0 || vm.InstructionPointer >= vm.Program.Len() {
		return nil, fmt.Errorf("%w: instruction pointer %d", ErrNoExit, vm.InstructionPointer)
	}
	return vm.Program.Instructions[vm.InstructionPointer], nil
}

// ExecuteInstruction dispatches to the appropriate instruction handler
func (vm *VMState) ExecuteInstruction(ins bytecode.Instruction) error {
	switch i := ins.(type) {
	// Stack
	case bytecode.NoOperation:
		return nil
	case bytecode.PushConst:
		return vm.execPushConst(i)
	case bytecode.Pop:
		return vm.execPop(i)
	case bytecode.Slice:
		return vm.execSlice(i)
	case bytecode.Swap:
		return vm.execSwap()

	// Storage
	case bytecode.Load:
		return vm.execLoad(i)
	case bytecode.Store:
		return vm.execStore(i)
	case bytecode.Ref:
		return vm.execRef(i)

	// Arithmetic, boolean and comparison
	case bytecode.Binary:
		return vm.execBinary(i)
	case bytecode.Unary:
		return vm.execUnary(i)
	case bytecode.Cast:
		return vm.execCast(i)

	// Control flow
	case bytecode.If:
		return vm.execIf()
	case bytecode.Else:
		return vm.execElse()
	case bytecode.EndIf:
		return vm.execEndIf()
	case bytecode.LoopBegin:
		return vm.execLoopBegin(i)
	case bytecode.LoopEnd:
		return vm.execLoopEnd()
	case bytecode.Call:
		return vm.execCall(i)
	case bytecode.Return:
		return vm.execReturn(i)
	case bytecode.Exit:
		return vm.execExit(i)

	// Side effects
	case bytecode.CallBuiltin:
		return vm.execCallBuiltin(i)
	case bytecode.Assert:
		return vm.execAssert(i)
	case bytecode.Dbg:
		return vm.execDbg(i)

	// Debug markers
	case bytecode.FileMarker:
		vm.location.File = i.File
		return nil
	case bytecode.FunctionMarker:
		vm.location.Function = i.Function
		return nil
	case bytecode.LineMarker:
		vm.location.Line = i.Line
		return nil
	case bytecode.ColumnMarker:
		vm.location.Column = i.Column
		return nil
	}
	return fmt.Errorf("%w: %T", bytecode.ErrUnknownInstructionCode, ins)
}

// allocateInput introduces an input as a range-checked witness
func (vm *VMState) allocateInput(in Input) (circuit.Primitive, error) {
	if err := in.Type.Validate(); err != nil {
		return circuit.Primitive{}, err
	}

	var value *big.Int
	if vm.witness {
		if in.Value == nil {
			return circuit.Primitive{}, fmt.Errorf("missing value for %s input", in.Type)
		}
		if !in.Type.Contains(in.Value) {
			return circuit.Primitive{}, fmt.Errorf("value %s out of range for %s", in.Value, in.Type)
		}
		value = new(big.Int).Set(in.Value)
		if in.Type.IsField() {
			value = vm.reduce(value)
		}
	}

	v, err := vm.Backend.AllocateWitness(circuit.FieldValue(vm.Backend, value))
	if err != nil {
		return circuit.Primitive{}, err
	}
	p := circuit.Primitive{Value: value, Var: v, Type: in.Type}

	if in.Type.IsBool() {
		err = circuit.AssertBoolean(vm.Backend, v)
	} else {
		err = circuit.RangeCheck(vm.Backend, p, in.Type, nil)
	}
	return p, err
}

// conditionTop is the conjunction of every open branch selector, nil at
// top level where everything is unconditionally live.
func (vm *VMState) conditionTop() *circuit.Primitive {
	if len(vm.conditions) == 0 {
		return nil
	}
	return &vm.conditions[len(vm.conditions)-1].active
}

// live reports whether side effects materialize: the selector conjunction
// is known and true.
func (vm *VMState) live() bool {
	top := vm.conditionTop()
	return top == nil || (top.Known() && top.Value.Sign() != 0)
}

func (vm *VMState) frame() *callFrame {
	return &vm.frames[len(vm.frames)-1]
}

func (vm *VMState) wrap(err error) error {
	var ins bytecode.Instruction
	if vm.InstructionPointer >= 0 && vm.InstructionPointer < vm.Program.Len() {
		ins = vm.Program.Instructions[vm.InstructionPointer]
	}
	return &ExecutionError{
		Index:       vm.InstructionPointer,
		Instruction: ins,
		Location:    vm.location,
		Err:         err,
	}
}

func (vm *VMState) reduce(v *big.Int) *big.Int {
	return vm.field.NewElement(v).Big()
}
