package vm

import (
	"fmt"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// journal remembers, for one open conditional block, the value every written
// cell had when the block was entered, and the then-branch values once the
// else branch starts.
type journal struct {
	original map[int]*circuit.Primitive
	then     map[int]*circuit.Primitive
	order    []int
	inElse   bool
}

// memory is a flat region of cells. nil cells are uninitialized.
type memory struct {
	name     string
	cells    []*circuit.Primitive
	journals []*journal
}

func newMemory(name string, capacity int) *memory {
	return &memory{
		name:  name,
		cells: make([]*circuit.Primitive, capacity),
	}
}

func (m *memory) check(address int) error {
	if address < 0 || address >= len(m.cells) {
		return fmt.Errorf("%w: %s address %d, capacity %d", ErrOutOfBounds, m.name, address, len(m.cells))
	}
	return nil
}

func (m *memory) get(address int) (circuit.Primitive, error) {
	if err := m.check(address); err != nil {
		return circuit.Primitive{}, err
	}
	cell := m.cells[address]
	if cell == nil {
		return circuit.Primitive{}, fmt.Errorf("%w: %s address %d", ErrUninitialized, m.name, address)
	}
	return *cell, nil
}

func (m *memory) set(address int, value circuit.Primitive) error {
	if err := m.check(address); err != nil {
		return err
	}
	m.record(address)
	m.cells[address] = &value
	return nil
}

// clear uninitializes the cells in [from, to)
func (m *memory) clear(from, to int) {
	for a := from; a < to && a < len(m.cells); a++ {
		if m.cells[a] != nil {
			m.record(a)
			m.cells[a] = nil
		}
	}
}

func (m *memory) record(address int) {
	if len(m.journals) == 0 {
		return
	}
	j := m.journals[len(m.journals)-1]
	if _, ok := j.original[address]; ok {
		return
	}
	j.original[address] = m.cells[address]
	j.order = append(j.order, address)
}

// fork starts tracking writes for a new conditional block
func (m *memory) fork() {
	m.journals = append(m.journals, &journal{
		original: make(map[int]*circuit.Primitive),
		then:     make(map[int]*circuit.Primitive),
	})
}

// switchBranch saves the then-branch values and restores the state the
// block was entered with.
func (m *memory) switchBranch() error {
	if len(m.journals) == 0 {
		return fmt.Errorf("%w: %s memory has no open block", ErrUnbalancedCondition, m.name)
	}
	j := m.journals[len(m.journals)-1]
	for _, a := range j.order {
		j.then[a] = m.cells[a]
		m.cells[a] = j.original[a]
	}
	j.inElse = true
	return nil
}

// mergeFunc combines the branch values of one cell into its merged value.
// Either side may be nil; returning nil leaves the cell uninitialized.
type mergeFunc func(address int, then, otherwise *circuit.Primitive) (*circuit.Primitive, error)

// join closes the innermost block, merging every written cell, and hands
// the writes on to the enclosing block.
func (m *memory) join(merge mergeFunc) error {
	if len(m.journals) == 0 {
		return fmt.Errorf("%w: %s memory has no open block", ErrUnbalancedCondition, m.name)
	}
	j := m.journals[len(m.journals)-1]
	m.journals = m.journals[:len(m.journals)-1]

	for _, a := range j.order {
		var then, otherwise *circuit.Primitive
		if j.inElse {
			then, otherwise = j.original[a], m.cells[a]
			if v, ok := j.then[a]; ok {
				then = v
			}
		} else {
			then, otherwise = m.cells[a], j.original[a]
		}

		merged, err := merge(a, then, otherwise)
		if err != nil {
			return fmt.Errorf("%s address %d: %w", m.name, a, err)
		}

		// the enclosing block sees this cell as written
		m.cells[a] = j.original[a]
		m.record(a)
		m.cells[a] = merged
	}
	return nil
}
