package vybiumzincvm

import (
	"math/big"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/utils"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/vm"
)

// FieldElement represents an element in a finite field
type FieldElement = core.FieldElement

// Field represents a finite field
type Field = core.Field

// Config represents configuration for the Vybium Zinc VM
type Config = utils.Config

// Program is a decoded bytecode program
type Program = bytecode.Program

// Instruction is one decoded instruction
type Instruction = bytecode.Instruction

// ScalarType is the type of a value: field, bool or a sized integer
type ScalarType = circuit.ScalarType

// Input is one program argument
type Input = vm.Input

// Snapshot is the portable form of a generated constraint system
type Snapshot = circuit.Snapshot

// Location is a source position recorded by debug markers
type Location = vm.Location

// Execution modes
const (
	ModeWitness     = utils.ModeWitness
	ModeConstraints = utils.ModeConstraints
)

// Scalar types
var (
	FieldType = circuit.FieldType
	BoolType  = circuit.BoolType
)

// UnsignedType returns the type of bits-wide unsigned integers
func UnsignedType(bits uint8) ScalarType {
	return circuit.UnsignedType(bits)
}

// SignedType returns the type of bits-wide two's complement integers
func SignedType(bits uint8) ScalarType {
	return circuit.SignedType(bits)
}

// Result is the outcome of one program run
type Result struct {
	// Output values in the order Exit popped them. Nil in constraints mode.
	Outputs []*big.Int

	// Cycle count
	CycleCount int

	// Constraint system size
	NumConstraints int
	NumWires       int

	// Digest of the executed program, base58 encoded
	ProgramDigest string

	system *circuit.System
}

// Snapshot captures the generated constraints and assignment
func (r *Result) Snapshot() *Snapshot {
	return r.system.Snapshot()
}

// MarshalSnapshot encodes the constraint system as CBOR, optionally zstd
// compressed.
func (r *Result) MarshalSnapshot(compress bool) ([]byte, error) {
	return r.system.MarshalSnapshot(compress)
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	return circuit.UnmarshalSnapshot(data)
}
