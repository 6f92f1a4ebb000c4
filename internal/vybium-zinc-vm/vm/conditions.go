package vm

import (
	"fmt"
	"math/big"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// Both branches of a conditional always execute. If forks the evaluation
// stack and memory journals, Else swaps to the other branch and EndIf
// selects between the two outcomes with the frame's selector.

func (vm *VMState) execIf() error {
	c, err := vm.stack.pop()
	if err != nil {
		return err
	}
	if !c.Type.IsBool() {
		return fmt.Errorf("%w: condition of type %s", ErrTypeMismatch, c.Type)
	}

	frame := &conditionFrame{selector: c, active: c}
	if parent := vm.conditionTop(); parent != nil {
		p := *parent
		frame.parent = &p
		if frame.active, err = vm.and(p, c); err != nil {
			return err
		}
	}
	vm.conditions = append(vm.conditions, frame)

	vm.stack.fork()
	vm.data.fork()
	vm.globals.fork()
	return nil
}

func (vm *VMState) execElse() error {
	if len(vm.conditions) == 0 {
		return fmt.Errorf("%w: else without if", ErrUnbalancedCondition)
	}
	frame := vm.conditions[len(vm.conditions)-1]
	if frame.inElse {
		return fmt.Errorf("%w: second else", ErrUnbalancedCondition)
	}

	then, err := vm.stack.join()
	if err != nil {
		return err
	}
	frame.then = then
	frame.inElse = true
	vm.stack.fork()

	// the else branch is live under ¬selector and every enclosing selector
	notC, err := vm.not(frame.selector)
	if err != nil {
		return err
	}
	frame.active = notC
	if frame.parent != nil {
		if frame.active, err = vm.and(*frame.parent, notC); err != nil {
			return err
		}
	}

	if err := vm.data.switchBranch(); err != nil {
		return err
	}
	return vm.globals.switchBranch()
}

func (vm *VMState) execEndIf() error {
	if len(vm.conditions) == 0 {
		return fmt.Errorf("%w: endif without if", ErrUnbalancedCondition)
	}
	frame := vm.conditions[len(vm.conditions)-1]

	last, err := vm.stack.join()
	if err != nil {
		return err
	}
	then, otherwise := last, []circuit.Primitive(nil)
	if frame.inElse {
		then, otherwise = frame.then, last
	}
	if len(then) != len(otherwise) {
		return fmt.Errorf("%w: branches leave %d and %d values", ErrUnbalancedStack, len(then), len(otherwise))
	}

	merged := make([]circuit.Primitive, len(then))
	for i := range then {
		if merged[i], err = vm.selectValue(frame.selector, then[i], otherwise[i]); err != nil {
			return fmt.Errorf("stack value %d: %w", i, err)
		}
	}

	vm.conditions = vm.conditions[:len(vm.conditions)-1]

	merge := vm.mergeCell(frame.selector)
	if err := vm.data.join(merge); err != nil {
		return err
	}
	if err := vm.globals.join(merge); err != nil {
		return err
	}

	log.Debugf("merged %d stack values at instruction %d", len(merged), vm.InstructionPointer)
	return vm.stack.push(merged...)
}

// selectValue returns selector ? then : otherwise
func (vm *VMState) selectValue(selector, then, otherwise circuit.Primitive) (circuit.Primitive, error) {
	if then.Type != otherwise.Type {
		return circuit.Primitive{}, fmt.Errorf("%w: branches produce %s and %s", ErrTypeMismatch, then.Type, otherwise.Type)
	}
	v, err := vm.Backend.BooleanSelect(selector.Var, then.Var, otherwise.Var)
	if err != nil {
		return circuit.Primitive{}, err
	}

	var value *big.Int
	if selector.Known() {
		chosen := otherwise.Value
		if selector.Value.Sign() != 0 {
			chosen = then.Value
		}
		if chosen != nil {
			value = new(big.Int).Set(chosen)
		}
	}
	return circuit.Primitive{Value: value, Var: v, Type: then.Type}, nil
}

// mergeCell merges a memory cell written inside the closed block. A cell
// only one branch initialized stays uninitialized afterwards.
func (vm *VMState) mergeCell(selector circuit.Primitive) mergeFunc {
	return func(address int, then, otherwise *circuit.Primitive) (*circuit.Primitive, error) {
		if then == nil || otherwise == nil {
			return nil, nil
		}
		merged, err := vm.selectValue(selector, *then, *otherwise)
		if err != nil {
			return nil, err
		}
		return &merged, nil
	}
}
