package bytecode

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// Instruction is one decoded VM instruction. The set of implementations is
// closed: only this package can add variants.
type Instruction interface {
	// Code is the opcode the instruction encodes to
	Code() Opcode

	// InputsCount is the number of values popped from the active segment of
	// the evaluation stack
	InputsCount() int

	// OutputsCount is the number of values pushed onto the active segment.
	// If and Call then open a fresh segment and Else parks the then-arm
	// values before opening one. EndIf and Return close their segment and
	// hand the merged arm values or the returned results to the enclosing
	// segment; those transfers are not counted here.
	OutputsCount() int

	// String renders the instruction as assembly text
	String() string

	encodeOperands(w *writer)
}

// NoOperation does nothing
type NoOperation struct{}

// PushConst pushes a typed constant
type PushConst struct {
	Value *big.Int
	Type  circuit.ScalarType
}

// Pop discards Count values
type Pop struct {
	Count uint
}

// Slice replaces the top Total values by the Length values starting at Offset,
// counted from the deepest of them.
type Slice struct {
	Total  uint
	Offset uint
	Length uint
}

// Swap exchanges the top two values
type Swap struct{}

// StorageMode selects one cell of the load/store addressing matrix
type StorageMode struct {
	Global   bool // global region instead of the frame's locals
	ByRef    bool // address popped from the stack instead of an operand
	Sequence bool // several consecutive values instead of one
	ByIndex  bool // element offset popped from the stack
}

// Load copies memory onto the evaluation stack. Address is ignored for ByRef
// modes. Len is the value count of a sequence or of an indexed aggregate.
// ValueLen is the element width when indexing a sequence, the popped index
// then counting whole elements.
type Load struct {
	Mode     StorageMode
	Address  uint
	Len      uint
	ValueLen uint
}

// Store moves values from the evaluation stack into memory. Operands mirror Load.
type Store struct {
	Mode     StorageMode
	Address  uint
	Len      uint
	ValueLen uint
}

// Ref pushes the absolute address of a local or global cell
type Ref struct {
	Global  bool
	Address uint
}

// Binary pops two operands and pushes one result. Op is one of the
// arithmetic, boolean or comparison opcodes.
type Binary struct {
	Op Opcode
}

// Unary pops one operand and pushes one result. Op is OpNeg or OpNot.
type Unary struct {
	Op Opcode
}

// Cast retypes the top value
type Cast struct {
	Type circuit.ScalarType
}

// If opens a conditional block on the popped boolean
type If struct{}

// Else switches to the alternative branch of the innermost If
type Else struct{}

// EndIf closes the innermost If and merges both branches
type EndIf struct{}

// LoopBegin repeats the body up to the matching LoopEnd Iterations times
type LoopBegin struct {
	Iterations uint
}

// LoopEnd closes the innermost loop
type LoopEnd struct{}

// Call invokes the function at instruction index Address with Inputs arguments
type Call struct {
	Address uint
	Inputs  uint
}

// Return leaves the current function with Outputs results
type Return struct {
	Outputs uint
}

// CallBuiltin runs a backend gadget
type CallBuiltin struct {
	Builtin BuiltinID
	Inputs  uint
	Outputs uint
}

// Assert fails the run when the popped boolean is false on a live path
type Assert struct {
	Message string
}

// Dbg prints Format followed by Args popped values on a live path
type Dbg struct {
	Format string
	Args   uint
}

// Exit terminates the program with Outputs results
type Exit struct {
	Outputs uint
}

// FileMarker records the current source file
type FileMarker struct {
	File string
}

// FunctionMarker records the current source function
type FunctionMarker struct {
	Function string
}

// LineMarker records the current source line
type LineMarker struct {
	Line uint
}

// ColumnMarker records the current source column
type ColumnMarker struct {
	Column uint
}

func (NoOperation) Code() Opcode             { return OpNoOperation }
func (NoOperation) InputsCount() int         { return 0 }
func (NoOperation) OutputsCount() int        { return 0 }
func (NoOperation) String() string           { return OpNoOperation.String() }
func (NoOperation) encodeOperands(w *writer) {}

func (PushConst) Code() Opcode      { return OpPushConst }
func (PushConst) InputsCount() int  { return 0 }
func (PushConst) OutputsCount() int { return 1 }
func (i PushConst) String() string {
	return fmt.Sprintf("%s %s %s", OpPushConst, i.Type, i.Value)
}
func (i PushConst) encodeOperands(w *writer) {
	encodeType(w, i.Type)
	w.putBigInt(i.Value)
}

func (Pop) Code() Opcode               { return OpPop }
func (i Pop) InputsCount() int         { return int(i.Count) }
func (Pop) OutputsCount() int          { return 0 }
func (i Pop) String() string           { return fmt.Sprintf("%s %d", OpPop, i.Count) }
func (i Pop) encodeOperands(w *writer) { w.putUint(uint64(i.Count)) }

func (Slice) Code() Opcode        { return OpSlice }
func (i Slice) InputsCount() int  { return int(i.Total) }
func (i Slice) OutputsCount() int { return int(i.Length) }
func (i Slice) String() string {
	return fmt.Sprintf("%s %d %d %d", OpSlice, i.Total, i.Offset, i.Length)
}
func (i Slice) encodeOperands(w *writer) {
	w.putUint(uint64(i.Total))
	w.putUint(uint64(i.Offset))
	w.putUint(uint64(i.Length))
}

func (Swap) Code() Opcode             { return OpSwap }
func (Swap) InputsCount() int         { return 2 }
func (Swap) OutputsCount() int        { return 2 }
func (Swap) String() string           { return OpSwap.String() }
func (Swap) encodeOperands(w *writer) {}

// Width is the number of values moved by one access
func (m StorageMode) Width(length, valueLen uint) int {
	switch {
	case m.Sequence && m.ByIndex:
		return int(valueLen)
	case m.Sequence:
		return int(length)
	default:
		return 1
	}
}

// stackOperands counts the address and index values popped before the data
func (m StorageMode) stackOperands() int {
	n := 0
	if m.ByRef {
		n++
	}
	if m.ByIndex {
		n++
	}
	return n
}

func (m StorageMode) mnemonic(store bool) string {
	parts := []string{"load"}
	if store {
		parts[0] = "store"
	}
	if m.Sequence {
		parts = append(parts, "sequence")
	}
	if m.ByIndex {
		parts = append(parts, "by_index")
	}
	if m.ByRef {
		parts = append(parts, "by_ref")
	}
	if m.Global {
		parts = append(parts, "global")
	}
	return strings.Join(parts, "_")
}

func (m StorageMode) describe() string {
	region := "local"
	if m.Global {
		region = "global"
	}
	arity := "value"
	if m.Sequence {
		arity = "sequence"
	}
	desc := region + " " + arity
	if m.ByIndex {
		desc += " by index"
	}
	if m.ByRef {
		desc += " by reference"
	}
	return desc
}

func (m StorageMode) operandString(address, length, valueLen uint) string {
	var ops []string
	if !m.ByRef {
		ops = append(ops, strconv.FormatUint(uint64(address), 10))
	}
	if m.Sequence || m.ByIndex {
		ops = append(ops, strconv.FormatUint(uint64(length), 10))
	}
	if m.Sequence && m.ByIndex {
		ops = append(ops, strconv.FormatUint(uint64(valueLen), 10))
	}
	return strings.Join(ops, " ")
}

func (m StorageMode) encode(w *writer, address, length, valueLen uint) {
	if !m.ByRef {
		w.putUint(uint64(address))
	}
	if m.Sequence || m.ByIndex {
		w.putUint(uint64(length))
	}
	if m.Sequence && m.ByIndex {
		w.putUint(uint64(valueLen))
	}
}

func joinAsm(op Opcode, operands string) string {
	if operands == "" {
		return op.String()
	}
	return op.String() + " " + operands
}

func (i Load) Code() Opcode      { return storageOpcode(i.Mode, false) }
func (i Load) InputsCount() int  { return i.Mode.stackOperands() }
func (i Load) OutputsCount() int { return i.Mode.Width(i.Len, i.ValueLen) }
func (i Load) String() string {
	return joinAsm(i.Code(), i.Mode.operandString(i.Address, i.Len, i.ValueLen))
}
func (i Load) encodeOperands(w *writer) { i.Mode.encode(w, i.Address, i.Len, i.ValueLen) }

func (i Store) Code() Opcode { return storageOpcode(i.Mode, true) }
func (i Store) InputsCount() int {
	return i.Mode.stackOperands() + i.Mode.Width(i.Len, i.ValueLen)
}
func (i Store) OutputsCount() int { return 0 }
func (i Store) String() string {
	return joinAsm(i.Code(), i.Mode.operandString(i.Address, i.Len, i.ValueLen))
}
func (i Store) encodeOperands(w *writer) { i.Mode.encode(w, i.Address, i.Len, i.ValueLen) }

func (i Ref) Code() Opcode {
	if i.Global {
		return OpRefGlobal
	}
	return OpRef
}
func (Ref) InputsCount() int           { return 0 }
func (Ref) OutputsCount() int          { return 1 }
func (i Ref) String() string           { return fmt.Sprintf("%s %d", i.Code(), i.Address) }
func (i Ref) encodeOperands(w *writer) { w.putUint(uint64(i.Address)) }

func (i Binary) Code() Opcode           { return i.Op }
func (Binary) InputsCount() int         { return 2 }
func (Binary) OutputsCount() int        { return 1 }
func (i Binary) String() string         { return i.Op.String() }
func (Binary) encodeOperands(w *writer) {}

func (i Unary) Code() Opcode           { return i.Op }
func (Unary) InputsCount() int         { return 1 }
func (Unary) OutputsCount() int        { return 1 }
func (i Unary) String() string         { return i.Op.String() }
func (Unary) encodeOperands(w *writer) {}

func (Cast) Code() Opcode               { return OpCast }
func (Cast) InputsCount() int           { return 1 }
func (Cast) OutputsCount() int          { return 1 }
func (i Cast) String() string           { return fmt.Sprintf("%s %s", OpCast, i.Type) }
func (i Cast) encodeOperands(w *writer) { encodeType(w, i.Type) }

func (If) Code() Opcode             { return OpIf }
func (If) InputsCount() int         { return 1 }
func (If) OutputsCount() int        { return 0 }
func (If) String() string           { return OpIf.String() }
func (If) encodeOperands(w *writer) {}

func (Else) Code() Opcode             { return OpElse }
func (Else) InputsCount() int         { return 0 }
func (Else) OutputsCount() int        { return 0 }
func (Else) String() string           { return OpElse.String() }
func (Else) encodeOperands(w *writer) {}

func (EndIf) Code() Opcode             { return OpEndIf }
func (EndIf) InputsCount() int         { return 0 }
func (EndIf) OutputsCount() int        { return 0 }
func (EndIf) String() string           { return OpEndIf.String() }
func (EndIf) encodeOperands(w *writer) {}

func (LoopBegin) Code() Opcode               { return OpLoopBegin }
func (LoopBegin) InputsCount() int           { return 0 }
func (LoopBegin) OutputsCount() int          { return 0 }
func (i LoopBegin) String() string           { return fmt.Sprintf("%s %d", OpLoopBegin, i.Iterations) }
func (i LoopBegin) encodeOperands(w *writer) { w.putUint(uint64(i.Iterations)) }

func (LoopEnd) Code() Opcode             { return OpLoopEnd }
func (LoopEnd) InputsCount() int         { return 0 }
func (LoopEnd) OutputsCount() int        { return 0 }
func (LoopEnd) String() string           { return OpLoopEnd.String() }
func (LoopEnd) encodeOperands(w *writer) {}

func (Call) Code() Opcode       { return OpCall }
func (i Call) InputsCount() int { return int(i.Inputs) }
func (Call) OutputsCount() int  { return 0 }
func (i Call) String() string   { return fmt.Sprintf("%s %d %d", OpCall, i.Address, i.Inputs) }
func (i Call) encodeOperands(w *writer) {
	w.putUint(uint64(i.Address))
	w.putUint(uint64(i.Inputs))
}

func (Return) Code() Opcode               { return OpReturn }
func (i Return) InputsCount() int         { return int(i.Outputs) }
func (Return) OutputsCount() int          { return 0 }
func (i Return) String() string           { return fmt.Sprintf("%s %d", OpReturn, i.Outputs) }
func (i Return) encodeOperands(w *writer) { w.putUint(uint64(i.Outputs)) }

func (CallBuiltin) Code() Opcode        { return OpCallBuiltin }
func (i CallBuiltin) InputsCount() int  { return int(i.Inputs) }
func (i CallBuiltin) OutputsCount() int { return int(i.Outputs) }
func (i CallBuiltin) String() string {
	return fmt.Sprintf("%s %s %d %d", OpCallBuiltin, i.Builtin, i.Inputs, i.Outputs)
}
func (i CallBuiltin) encodeOperands(w *writer) {
	w.putByte(byte(i.Builtin))
	w.putUint(uint64(i.Inputs))
	w.putUint(uint64(i.Outputs))
}

func (Assert) Code() Opcode      { return OpAssert }
func (Assert) InputsCount() int  { return 1 }
func (Assert) OutputsCount() int { return 0 }
func (i Assert) String() string {
	if i.Message == "" {
		return OpAssert.String()
	}
	return fmt.Sprintf("%s %q", OpAssert, i.Message)
}
func (i Assert) encodeOperands(w *writer) { w.putString(i.Message) }

func (Dbg) Code() Opcode       { return OpDbg }
func (i Dbg) InputsCount() int { return int(i.Args) }
func (Dbg) OutputsCount() int  { return 0 }
func (i Dbg) String() string   { return fmt.Sprintf("%s %q %d", OpDbg, i.Format, i.Args) }
func (i Dbg) encodeOperands(w *writer) {
	w.putString(i.Format)
	w.putUint(uint64(i.Args))
}

func (Exit) Code() Opcode               { return OpExit }
func (i Exit) InputsCount() int         { return int(i.Outputs) }
func (Exit) OutputsCount() int          { return 0 }
func (i Exit) String() string           { return fmt.Sprintf("%s %d", OpExit, i.Outputs) }
func (i Exit) encodeOperands(w *writer) { w.putUint(uint64(i.Outputs)) }

func (FileMarker) Code() Opcode               { return OpFileMarker }
func (FileMarker) InputsCount() int           { return 0 }
func (FileMarker) OutputsCount() int          { return 0 }
func (i FileMarker) String() string           { return fmt.Sprintf("%s %q", OpFileMarker, i.File) }
func (i FileMarker) encodeOperands(w *writer) { w.putString(i.File) }

func (FunctionMarker) Code() Opcode      { return OpFunctionMarker }
func (FunctionMarker) InputsCount() int  { return 0 }
func (FunctionMarker) OutputsCount() int { return 0 }
func (i FunctionMarker) String() string {
	return fmt.Sprintf("%s %q", OpFunctionMarker, i.Function)
}
func (i FunctionMarker) encodeOperands(w *writer) { w.putString(i.Function) }

func (LineMarker) Code() Opcode               { return OpLineMarker }
func (LineMarker) InputsCount() int           { return 0 }
func (LineMarker) OutputsCount() int          { return 0 }
func (i LineMarker) String() string           { return fmt.Sprintf("%s %d", OpLineMarker, i.Line) }
func (i LineMarker) encodeOperands(w *writer) { w.putUint(uint64(i.Line)) }

func (ColumnMarker) Code() Opcode               { return OpColumnMarker }
func (ColumnMarker) InputsCount() int           { return 0 }
func (ColumnMarker) OutputsCount() int          { return 0 }
func (i ColumnMarker) String() string           { return fmt.Sprintf("%s %d", OpColumnMarker, i.Column) }
func (i ColumnMarker) encodeOperands(w *writer) { w.putUint(uint64(i.Column)) }

// encodeType writes the signedness flag followed by the bit length
func encodeType(w *writer, t circuit.ScalarType) {
	var flag byte
	if t.Signed {
		flag = 1
	}
	w.putByte(flag)
	w.putUint(uint64(t.BitLength))
}

// IsBinaryOp reports whether op is valid in a Binary instruction
func IsBinaryOp(op Opcode) bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem,
		OpAnd, OpOr, OpXor,
		OpLt, OpLe, OpEq, OpNe, OpGe, OpGt:
		return true
	}
	return false
}

// IsUnaryOp reports whether op is valid in a Unary instruction
func IsUnaryOp(op Opcode) bool {
	return op == OpNeg || op == OpNot
}

// Encode returns the binary form of a single instruction
func Encode(ins Instruction) []byte {
	w := &writer{}
	w.putByte(byte(ins.Code()))
	ins.encodeOperands(w)
	return w.buf
}
