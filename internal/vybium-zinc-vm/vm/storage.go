package vm

import (
	"fmt"
	"math/big"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// Locals are addressed relative to the active frame's base, globals
// absolutely. References always hold absolute addresses, so a callee can
// reach its caller's locals through one. Operands are popped in the order
// reference, index, values.

func (vm *VMState) execRef(i bytecode.Ref) error {
	address := int(i.Address)
	if !i.Global {
		address += vm.frame().base
	}
	ref, err := circuit.ConstantPrimitive(vm.Backend, big.NewInt(int64(address)), circuit.FieldType)
	if err != nil {
		return err
	}
	return vm.stack.push(ref)
}

func (vm *VMState) execLoad(i bytecode.Load) error {
	mem, base, err := vm.locate(i.Mode, i.Address)
	if err != nil {
		return err
	}
	width := i.Mode.Width(i.Len, i.ValueLen)

	if !i.Mode.ByIndex {
		if err := span(mem, base, width, vm.readLimit(i.Mode.Global)); err != nil {
			return err
		}
		values := make([]circuit.Primitive, width)
		for j := range values {
			if values[j], err = mem.get(base + j); err != nil {
				return err
			}
		}
		return vm.stack.push(values...)
	}

	index, err := vm.stack.pop()
	if err != nil {
		return err
	}
	if err := span(mem, base, int(i.Len), vm.readLimit(i.Mode.Global)); err != nil {
		return err
	}
	stride := elementStride(i.Mode, i.ValueLen)
	flags, err := vm.indexFlags(index, int(i.Len)/stride)
	if err != nil {
		return err
	}

	values := make([]circuit.Primitive, width)
	for j := range values {
		if values[j], err = vm.loadElement(mem, base+j, stride, flags); err != nil {
			return err
		}
	}
	return vm.stack.push(values...)
}

func (vm *VMState) execStore(i bytecode.Store) error {
	mem, base, err := vm.locate(i.Mode, i.Address)
	if err != nil {
		return err
	}
	width := i.Mode.Width(i.Len, i.ValueLen)

	if !i.Mode.ByIndex {
		limit := vm.readLimit(i.Mode.Global)
		if !i.Mode.ByRef {
			limit = len(mem.cells)
		}
		if err := span(mem, base, width, limit); err != nil {
			return err
		}
		values, err := vm.stack.popN(width)
		if err != nil {
			return err
		}
		for j, v := range values {
			if err := mem.set(base+j, v); err != nil {
				return err
			}
		}
		if !i.Mode.ByRef {
			vm.grow(i.Mode.Global, base+width)
		}
		return nil
	}

	index, err := vm.stack.pop()
	if err != nil {
		return err
	}
	values, err := vm.stack.popN(width)
	if err != nil {
		return err
	}
	if err := span(mem, base, int(i.Len), vm.readLimit(i.Mode.Global)); err != nil {
		return err
	}
	stride := elementStride(i.Mode, i.ValueLen)
	flags, err := vm.indexFlags(index, int(i.Len)/stride)
	if err != nil {
		return err
	}

	for k, flag := range flags {
		for j, v := range values {
			address := base + k*stride + j
			cell, err := mem.get(address)
			if err != nil {
				return err
			}
			updated, err := vm.selectValue(flag, v, cell)
			if err != nil {
				return fmt.Errorf("%s address %d: %w", mem.name, address, err)
			}
			if err := mem.set(address, updated); err != nil {
				return err
			}
		}
	}
	return nil
}

// locate resolves the region and absolute base address of an access,
// popping the reference for ByRef modes.
func (vm *VMState) locate(mode bytecode.StorageMode, address uint) (*memory, int, error) {
	mem := vm.data
	if mode.Global {
		mem = vm.globals
	}

	if mode.ByRef {
		ref, err := vm.stack.pop()
		if err != nil {
			return nil, 0, err
		}
		if !ref.Known() {
			return nil, 0, ErrUnknownAddress
		}
		if !ref.Value.IsInt64() || ref.Value.Sign() < 0 || ref.Value.Int64() > int64(len(mem.cells)) {
			return nil, 0, fmt.Errorf("%w: %s reference %s", ErrOutOfBounds, mem.name, ref.Value)
		}
		return mem, int(ref.Value.Int64()), nil
	}

	if address > uint(len(mem.cells)) {
		return nil, 0, fmt.Errorf("%w: %s address %d, capacity %d", ErrOutOfBounds, mem.name, address, len(mem.cells))
	}
	if mode.Global {
		return mem, int(address), nil
	}
	return mem, vm.frame().base + int(address), nil
}

// readLimit is the end of the allocated part of a region
func (vm *VMState) readLimit(global bool) int {
	if global {
		return vm.globalSize
	}
	f := vm.frame()
	return f.base + f.size
}

// grow extends the allocated part of a region to end
func (vm *VMState) grow(global bool, end int) {
	if global {
		if end > vm.globalSize {
			vm.globalSize = end
		}
		return
	}
	f := vm.frame()
	if end-f.base > f.size {
		f.size = end - f.base
	}
}

// span checks [base, base+extent) lies within [0, limit)
func span(mem *memory, base, extent, limit int) error {
	if base < 0 || extent < 0 || base > limit-extent {
		return fmt.Errorf("%w: %s access [%d, %d) outside allocated %d", ErrOutOfBounds, mem.name, base, base+extent, limit)
	}
	return nil
}

// elementStride is the number of cells per indexed element
func elementStride(mode bytecode.StorageMode, valueLen uint) int {
	if mode.Sequence {
		return int(valueLen)
	}
	return 1
}

// indexFlags returns one equality flag per element position. On live paths
// exactly one flag is set, so an out-of-range index cannot be proven.
func (vm *VMState) indexFlags(index circuit.Primitive, positions int) ([]circuit.Primitive, error) {
	if vm.live() && index.Known() {
		if index.Value.Sign() < 0 || index.Value.Cmp(big.NewInt(int64(positions))) >= 0 {
			return nil, fmt.Errorf("%w: index %s, length %d", ErrOutOfBounds, index.Value, positions)
		}
	}

	flags := make([]circuit.Primitive, positions)
	terms := make([]circuit.Term, positions)
	for k := range flags {
		position, err := circuit.ConstantPrimitive(vm.Backend, big.NewInt(int64(k)), index.Type)
		if err != nil {
			return nil, err
		}
		if flags[k], err = circuit.Equal(vm.Backend, index, position); err != nil {
			return nil, err
		}
		terms[k] = term(1, flags[k])
	}

	var value *big.Int
	if index.Known() {
		value = big.NewInt(0)
		for _, f := range flags {
			value.Add(value, f.Value)
		}
	}
	hit, err := vm.linear(value, circuit.BoolType, terms, nil)
	if err != nil {
		return nil, err
	}
	if err := vm.assertLive(hit); err != nil {
		return nil, err
	}
	return flags, nil
}

// loadElement returns Σ flag_k · cell[first + k·stride]
func (vm *VMState) loadElement(mem *memory, first, stride int, flags []circuit.Primitive) (circuit.Primitive, error) {
	terms := make([]circuit.Term, len(flags))
	value := big.NewInt(0)
	var t circuit.ScalarType
	for k, flag := range flags {
		cell, err := mem.get(first + k*stride)
		if err != nil {
			return circuit.Primitive{}, err
		}
		if k == 0 {
			t = cell.Type
		} else if cell.Type != t {
			return circuit.Primitive{}, fmt.Errorf("%w: indexed element of %s and %s", ErrTypeMismatch, t, cell.Type)
		}

		m, err := vm.Backend.Mul(flag.Var, cell.Var)
		if err != nil {
			return circuit.Primitive{}, err
		}
		terms[k] = circuit.Term{Coeff: big.NewInt(1), Var: m}

		if value != nil && flag.Known() && cell.Known() {
			value.Add(value, new(big.Int).Mul(flag.Value, cell.Value))
		} else {
			value = nil
		}
	}
	if value != nil && t.IsField() {
		value = vm.reduce(value)
	}
	return vm.linear(value, t, terms, nil)
}
