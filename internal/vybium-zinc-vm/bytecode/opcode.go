// Package bytecode provides the zinc VM instruction set, its binary codec
// and program-level validation.
package bytecode

import "fmt"

// Opcode is the first byte of every encoded instruction
type Opcode uint8

// Zinc VM instruction set
const (
	// ========== Stack Manipulation ==========

	// OpNoOperation does nothing
	OpNoOperation Opcode = 0x00

	// OpPushConst pushes a typed constant
	OpPushConst Opcode = 0x01

	// OpPop discards n values
	OpPop Opcode = 0x02

	// OpSlice keeps a static window of the top values
	OpSlice Opcode = 0x03

	// OpSwap exchanges the top two values
	OpSwap Opcode = 0x04

	// ========== Storage ==========
	// Storage opcodes are storageBase | store<<4 | global<<3 | ref<<2 | index<<1 | sequence

	OpLoad                            Opcode = 0x20
	OpLoadSequence                    Opcode = 0x21
	OpLoadByIndex                     Opcode = 0x22
	OpLoadSequenceByIndex             Opcode = 0x23
	OpLoadByRef                       Opcode = 0x24
	OpLoadSequenceByRef               Opcode = 0x25
	OpLoadByIndexByRef                Opcode = 0x26
	OpLoadSequenceByIndexByRef        Opcode = 0x27
	OpLoadGlobal                      Opcode = 0x28
	OpLoadSequenceGlobal              Opcode = 0x29
	OpLoadByIndexGlobal               Opcode = 0x2a
	OpLoadSequenceByIndexGlobal       Opcode = 0x2b
	OpLoadByRefGlobal                 Opcode = 0x2c
	OpLoadSequenceByRefGlobal         Opcode = 0x2d
	OpLoadByIndexByRefGlobal          Opcode = 0x2e
	OpLoadSequenceByIndexByRefGlobal  Opcode = 0x2f
	OpStore                           Opcode = 0x30
	OpStoreSequence                   Opcode = 0x31
	OpStoreByIndex                    Opcode = 0x32
	OpStoreSequenceByIndex            Opcode = 0x33
	OpStoreByRef                      Opcode = 0x34
	OpStoreSequenceByRef              Opcode = 0x35
	OpStoreByIndexByRef               Opcode = 0x36
	OpStoreSequenceByIndexByRef       Opcode = 0x37
	OpStoreGlobal                     Opcode = 0x38
	OpStoreSequenceGlobal             Opcode = 0x39
	OpStoreByIndexGlobal              Opcode = 0x3a
	OpStoreSequenceByIndexGlobal      Opcode = 0x3b
	OpStoreByRefGlobal                Opcode = 0x3c
	OpStoreSequenceByRefGlobal        Opcode = 0x3d
	OpStoreByIndexByRefGlobal         Opcode = 0x3e
	OpStoreSequenceByIndexByRefGlobal Opcode = 0x3f

	// OpRef pushes the absolute address of a local
	OpRef Opcode = 0x40

	// OpRefGlobal pushes the address of a global
	OpRefGlobal Opcode = 0x41

	// ========== Arithmetic ==========

	OpAdd Opcode = 0x50
	OpSub Opcode = 0x51
	OpMul Opcode = 0x52
	OpDiv Opcode = 0x53
	OpRem Opcode = 0x54
	OpNeg Opcode = 0x55

	// ========== Boolean ==========

	OpNot Opcode = 0x58
	OpAnd Opcode = 0x59
	OpOr  Opcode = 0x5a
	OpXor Opcode = 0x5b

	// ========== Comparison ==========

	OpLt Opcode = 0x60
	OpLe Opcode = 0x61
	OpEq Opcode = 0x62
	OpNe Opcode = 0x63
	OpGe Opcode = 0x64
	OpGt Opcode = 0x65

	// OpCast changes the scalar type, range-checking when narrowing
	OpCast Opcode = 0x68

	// ========== Control Flow ==========

	OpIf        Opcode = 0x70
	OpElse      Opcode = 0x71
	OpEndIf     Opcode = 0x72
	OpLoopBegin Opcode = 0x73
	OpLoopEnd   Opcode = 0x74
	OpCall      Opcode = 0x75
	OpReturn    Opcode = 0x76

	// OpCallBuiltin runs a backend-provided gadget
	OpCallBuiltin Opcode = 0x78

	// OpAssert fails the run when a live condition is false
	OpAssert Opcode = 0x79

	// OpDbg prints values when the enclosing conditions hold
	OpDbg Opcode = 0x7a

	// OpExit terminates the program
	OpExit Opcode = 0x7f

	// ========== Debug Markers ==========

	OpFileMarker     Opcode = 0x80
	OpFunctionMarker Opcode = 0x81
	OpLineMarker     Opcode = 0x82
	OpColumnMarker   Opcode = 0x83
)

const (
	storageBase = 0x20
	storageEnd  = 0x3f
)

// OpcodeInfo provides metadata about an opcode
type OpcodeInfo struct {
	Opcode      Opcode
	Name        string
	Description string
}

// AllOpcodes describes every opcode of the instruction set
var AllOpcodes = map[Opcode]OpcodeInfo{
	// Stack Manipulation
	OpNoOperation: {OpNoOperation, "noop", "No operation"},
	OpPushConst:   {OpPushConst, "push", "Push typed constant"},
	OpPop:         {OpPop, "pop", "Discard n values"},
	OpSlice:       {OpSlice, "slice", "Keep a window of the top values"},
	OpSwap:        {OpSwap, "swap", "Swap top two values"},

	// Storage
	OpRef:       {OpRef, "ref", "Push address of local"},
	OpRefGlobal: {OpRefGlobal, "ref_global", "Push address of global"},

	// Arithmetic
	OpAdd: {OpAdd, "add", "Add top two values"},
	OpSub: {OpSub, "sub", "Subtract top from second"},
	OpMul: {OpMul, "mul", "Multiply top two values"},
	OpDiv: {OpDiv, "div", "Euclidean division"},
	OpRem: {OpRem, "rem", "Euclidean remainder"},
	OpNeg: {OpNeg, "neg", "Negate top value"},

	// Boolean
	OpNot: {OpNot, "not", "Boolean negation"},
	OpAnd: {OpAnd, "and", "Boolean conjunction"},
	OpOr:  {OpOr, "or", "Boolean disjunction"},
	OpXor: {OpXor, "xor", "Boolean exclusive or"},

	// Comparison
	OpLt: {OpLt, "lt", "Less than"},
	OpLe: {OpLe, "le", "Less or equal"},
	OpEq: {OpEq, "eq", "Equal"},
	OpNe: {OpNe, "ne", "Not equal"},
	OpGe: {OpGe, "ge", "Greater or equal"},
	OpGt: {OpGt, "gt", "Greater than"},

	OpCast: {OpCast, "cast", "Change scalar type"},

	// Control Flow
	OpIf:          {OpIf, "if", "Open conditional block"},
	OpElse:        {OpElse, "else", "Switch to alternative branch"},
	OpEndIf:       {OpEndIf, "endif", "Merge conditional block"},
	OpLoopBegin:   {OpLoopBegin, "loop_begin", "Open unrolled loop"},
	OpLoopEnd:     {OpLoopEnd, "loop_end", "Close unrolled loop"},
	OpCall:        {OpCall, "call", "Call function"},
	OpReturn:      {OpReturn, "return", "Return from function"},
	OpCallBuiltin: {OpCallBuiltin, "call_builtin", "Call backend builtin"},
	OpAssert:      {OpAssert, "assert", "Assert top is true"},
	OpDbg:         {OpDbg, "dbg", "Print values"},
	OpExit:        {OpExit, "exit", "Terminate program"},

	// Debug Markers
	OpFileMarker:     {OpFileMarker, "marker_file", "Source file"},
	OpFunctionMarker: {OpFunctionMarker, "marker_function", "Source function"},
	OpLineMarker:     {OpLineMarker, "marker_line", "Source line"},
	OpColumnMarker:   {OpColumnMarker, "marker_column", "Source column"},
}

func init() {
	for code := Opcode(storageBase); code <= storageEnd; code++ {
		mode, store := storageFlags(code)
		verb := "Load"
		if store {
			verb = "Store"
		}
		AllOpcodes[code] = OpcodeInfo{
			Opcode:      code,
			Name:        mode.mnemonic(store),
			Description: fmt.Sprintf("%s %s", verb, mode.describe()),
		}
	}
}

// String returns the assembly mnemonic of the opcode
func (op Opcode) String() string {
	if info, ok := AllOpcodes[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(op))
}

// Info returns metadata about the opcode
func (op Opcode) Info() (OpcodeInfo, error) {
	info, ok := AllOpcodes[op]
	if !ok {
		return OpcodeInfo{}, fmt.Errorf("%w: 0x%02x", ErrUnknownInstructionCode, uint8(op))
	}
	return info, nil
}

// IsStorage reports whether the opcode is one of the load/store combinations
func (op Opcode) IsStorage() bool {
	return op >= storageBase && op <= storageEnd
}

// storageFlags splits a storage opcode into its addressing mode
func storageFlags(op Opcode) (StorageMode, bool) {
	bits := uint8(op) - storageBase
	return StorageMode{
		Sequence: bits&0x01 != 0,
		ByIndex:  bits&0x02 != 0,
		ByRef:    bits&0x04 != 0,
		Global:   bits&0x08 != 0,
	}, bits&0x10 != 0
}

// storageOpcode is the inverse of storageFlags
func storageOpcode(mode StorageMode, store bool) Opcode {
	bits := uint8(storageBase)
	if mode.Sequence {
		bits |= 0x01
	}
	if mode.ByIndex {
		bits |= 0x02
	}
	if mode.ByRef {
		bits |= 0x04
	}
	if mode.Global {
		bits |= 0x08
	}
	if store {
		bits |= 0x10
	}
	return Opcode(bits)
}
