package vm

import "github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"

// conditionFrame is pushed by If and popped by the matching EndIf
type conditionFrame struct {
	selector circuit.Primitive  // the popped condition
	parent   *circuit.Primitive // conjunction of the enclosing frames, nil at top level
	active   circuit.Primitive  // conjunction including this frame's current branch
	inElse   bool
	then     []circuit.Primitive // then-branch evaluation values, saved by Else
}

// callFrame is an activation record. Locals live in the data region at
// [base, base+size); size grows as the function stores further out.
type callFrame struct {
	returnIP   int
	base       int
	size       int
	conditions int // condition stack depth at entry
	loops      int // loop stack depth at entry
}

// loopFrame tracks an unrolled loop still running
type loopFrame struct {
	begin     int
	remaining uint
}
