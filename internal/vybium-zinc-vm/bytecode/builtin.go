package bytecode

import (
	"fmt"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// BuiltinID identifies a backend builtin on the wire
type BuiltinID uint8

// Builtin identifiers
const (
	BuiltinToBits BuiltinID = iota + 1
	BuiltinUnsignedFromBits
	BuiltinSignedFromBits
	BuiltinFieldFromBits
	BuiltinArrayReverse
	BuiltinSha256
	BuiltinKeccak256
	BuiltinBlake3
	BuiltinPoseidon
)

var builtinNames = map[BuiltinID]string{
	BuiltinToBits:           circuit.BuiltinToBits,
	BuiltinUnsignedFromBits: circuit.BuiltinUnsignedFromBits,
	BuiltinSignedFromBits:   circuit.BuiltinSignedFromBits,
	BuiltinFieldFromBits:    circuit.BuiltinFieldFromBits,
	BuiltinArrayReverse:     circuit.BuiltinArrayReverse,
	BuiltinSha256:           circuit.BuiltinSha256,
	BuiltinKeccak256:        circuit.BuiltinKeccak256,
	BuiltinBlake3:           circuit.BuiltinBlake3,
	BuiltinPoseidon:         circuit.BuiltinPoseidon,
}

// Name returns the backend name of the builtin, or "" when unknown
func (b BuiltinID) Name() string {
	return builtinNames[b]
}

// String returns the backend name, or a numeric form for unknown identifiers
func (b BuiltinID) String() string {
	if name, ok := builtinNames[b]; ok {
		return name
	}
	return fmt.Sprintf("builtin(%d)", uint8(b))
}
