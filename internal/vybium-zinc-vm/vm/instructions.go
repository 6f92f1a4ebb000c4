package vm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// Stack Manipulation

func (vm *VMState) execPushConst(i bytecode.PushConst) error {
	if i.Value == nil {
		return fmt.Errorf("%w: push without value", bytecode.ErrInvalidOperand)
	}
	value := i.Value
	if i.Type.IsField() {
		value = vm.reduce(value)
	}
	p, err := circuit.ConstantPrimitive(vm.Backend, value, i.Type)
	if err != nil {
		return err
	}
	return vm.stack.push(p)
}

func (vm *VMState) execPop(i bytecode.Pop) error {
	_, err := vm.stack.popN(int(i.Count))
	return err
}

// execSlice keeps Length of the top Total values, starting Offset values
// above the deepest of them.
func (vm *VMState) execSlice(i bytecode.Slice) error {
	if i.Offset+i.Length > i.Total {
		return fmt.Errorf("%w: slice %d+%d of %d", ErrOutOfBounds, i.Offset, i.Length, i.Total)
	}
	values, err := vm.stack.popN(int(i.Total))
	if err != nil {
		return err
	}
	return vm.stack.push(values[i.Offset : i.Offset+i.Length]...)
}

func (vm *VMState) execSwap() error {
	values, err := vm.stack.popN(2)
	if err != nil {
		return err
	}
	return vm.stack.push(values[1], values[0])
}

// Loops are unrolled: the body is replayed Iterations times.

func (vm *VMState) execLoopBegin(i bytecode.LoopBegin) error {
	if i.Iterations == 0 {
		end, ok := vm.blocks.Close[vm.InstructionPointer]
		if !ok {
			return fmt.Errorf("%w: loop without end", bytecode.ErrInvalidProgram)
		}
		vm.next = end + 1
		return nil
	}
	vm.loops = append(vm.loops, loopFrame{begin: vm.InstructionPointer, remaining: i.Iterations})
	return nil
}

func (vm *VMState) execLoopEnd() error {
	if len(vm.loops) == 0 {
		return fmt.Errorf("%w: loop end without loop", bytecode.ErrInvalidProgram)
	}
	loop := &vm.loops[len(vm.loops)-1]
	loop.remaining--
	if loop.remaining > 0 {
		vm.next = loop.begin + 1
		return nil
	}
	vm.loops = vm.loops[:len(vm.loops)-1]
	return nil
}

// Calls

func (vm *VMState) execCall(i bytecode.Call) error {
	if len(vm.frames)-1 >= vm.Config.MaxCallDepth {
		return fmt.Errorf("%w: depth %d", ErrCallDepth, vm.Config.MaxCallDepth)
	}
	args, err := vm.stack.popN(int(i.Inputs))
	if err != nil {
		return err
	}

	caller := vm.frame()
	base := caller.base + caller.size
	if err := span(vm.data, base, len(args), len(vm.data.cells)); err != nil {
		return err
	}
	vm.frames = append(vm.frames, callFrame{
		returnIP:   vm.InstructionPointer + 1,
		base:       base,
		size:       len(args),
		conditions: len(vm.conditions),
		loops:      len(vm.loops),
	})
	for j, arg := range args {
		if err := vm.data.set(base+j, arg); err != nil {
			return err
		}
	}
	vm.stack.fork()

	log.Debugf("call %d with %d arguments, frame base %d", i.Address, len(args), base)
	vm.next = int(i.Address)
	return nil
}

func (vm *VMState) execReturn(i bytecode.Return) error {
	if len(vm.frames) == 1 {
		return fmt.Errorf("%w: return from the entry frame", ErrUnbalancedCall)
	}
	f := *vm.frame()
	if len(vm.conditions) != f.conditions {
		return fmt.Errorf("%w: return inside a conditional block", ErrUnbalancedCondition)
	}
	if len(vm.loops) != f.loops {
		return fmt.Errorf("%w: return inside a loop", ErrUnbalancedCall)
	}

	results, err := vm.stack.popN(int(i.Outputs))
	if err != nil {
		return err
	}
	if left := vm.stack.Len(); left != 0 {
		return fmt.Errorf("%w: %d values left in the returning frame", ErrUnbalancedStack, left)
	}
	if _, err := vm.stack.join(); err != nil {
		return err
	}
	vm.data.clear(f.base, f.base+f.size)
	vm.frames = vm.frames[:len(vm.frames)-1]

	log.Debugf("return %d values to instruction %d", len(results), f.returnIP)
	vm.next = f.returnIP
	return vm.stack.push(results...)
}

func (vm *VMState) execExit(i bytecode.Exit) error {
	if len(vm.frames) != 1 {
		return fmt.Errorf("%w: exit inside a call", ErrUnbalancedCall)
	}
	if len(vm.conditions) != 0 {
		return fmt.Errorf("%w: exit inside a conditional block", ErrUnbalancedCondition)
	}
	outputs, err := vm.stack.popN(int(i.Outputs))
	if err != nil {
		return err
	}
	vm.outputs = outputs
	vm.halted = true
	return nil
}

// Side effects. These consult the selector conjunction: native effects
// happen only on live paths and constraints are gated so dead paths stay
// satisfiable.

func (vm *VMState) execCallBuiltin(i bytecode.CallBuiltin) error {
	name := i.Builtin.Name()
	if name == "" {
		return fmt.Errorf("%w: %s", ErrUnresolvedBuiltin, i.Builtin)
	}
	args, err := vm.stack.popN(int(i.Inputs))
	if err != nil {
		return err
	}
	if top := vm.conditionTop(); top != nil {
		for j := range args {
			if args[j], err = circuit.Gate(vm.Backend, args[j], big.NewInt(0), top); err != nil {
				return err
			}
		}
	}

	results, err := vm.Backend.Builtin(name, args)
	if errors.Is(err, circuit.ErrUnknownBuiltin) {
		return fmt.Errorf("%w: %v", ErrUnresolvedBuiltin, err)
	}
	if err != nil {
		return fmt.Errorf("builtin %s: %w", name, err)
	}
	if len(results) != int(i.Outputs) {
		return fmt.Errorf("%w: builtin %s returned %d values, expected %d", ErrUnbalancedStack, name, len(results), i.Outputs)
	}
	return vm.stack.push(results...)
}

func (vm *VMState) execAssert(i bytecode.Assert) error {
	v, err := vm.stack.pop()
	if err != nil {
		return err
	}
	if !v.Type.IsBool() {
		return fmt.Errorf("%w: assertion on %s", ErrTypeMismatch, v.Type)
	}
	if vm.live() && v.Known() && v.Value.Sign() == 0 {
		return &AssertionError{Index: vm.InstructionPointer, Location: vm.location, Message: i.Message}
	}
	return vm.assertLive(v)
}

// assertLive constrains a boolean to one on live paths:
// v = 1 at top level, condition·(1 - v) = 0 inside a branch.
func (vm *VMState) assertLive(v circuit.Primitive) error {
	top := vm.conditionTop()
	if top == nil {
		one, err := circuit.Constant(vm.Backend, big.NewInt(1))
		if err != nil {
			return err
		}
		return vm.Backend.AssertEqual(v.Var, one)
	}

	notV, err := vm.Backend.LinearCombination([]circuit.Term{term(-1, v)}, big.NewInt(1))
	if err != nil {
		return err
	}
	m, err := vm.Backend.Mul(top.Var, notV)
	if err != nil {
		return err
	}
	zero, err := circuit.Constant(vm.Backend, big.NewInt(0))
	if err != nil {
		return err
	}
	return vm.Backend.AssertEqual(m, zero)
}

// execDbg prints the format text followed by the popped values, topmost
// first.
func (vm *VMState) execDbg(i bytecode.Dbg) error {
	args, err := vm.stack.popN(int(i.Args))
	if err != nil {
		return err
	}
	if !vm.live() {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(i.Format)
	for j := len(args) - 1; j >= 0; j-- {
		sb.WriteByte(' ')
		sb.WriteString(args[j].String())
	}
	line := sb.String()

	log.Infof("dbg: %s", line)
	_, err = fmt.Fprintln(vm.debug, line)
	return err
}
