package bytecode

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// Decoding errors
var (
	ErrUnexpectedEOF          = errors.New("unexpected end of bytecode")
	ErrUnknownInstructionCode = errors.New("unknown instruction code")
	ErrConstantTooLong        = errors.New("constant too long")
	ErrUTF8                   = errors.New("invalid utf-8 in string operand")
	ErrInvalidOperand         = errors.New("invalid operand")
)

// DecodeError reports where decoding stopped
type DecodeError struct {
	Offset int    // byte offset of the failing instruction
	Code   Opcode // opcode byte read at Offset
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode instruction 0x%02x at byte %d: %v", uint8(e.Code), e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeInstruction decodes the instruction at the start of data and returns
// it with the number of bytes consumed.
func DecodeInstruction(data []byte) (Instruction, int, error) {
	r := &reader{data: data}
	ins, err := decodeNext(r)
	if err != nil {
		return nil, 0, err
	}
	return ins, r.pos, nil
}

// Decode decodes a whole program using the default string limit
func Decode(data []byte) (*Program, error) {
	return DecodeWithLimit(data, DefaultMaxStringLength)
}

// DecodeWithLimit decodes a whole program, rejecting string operands longer
// than maxStringLength bytes.
func DecodeWithLimit(data []byte, maxStringLength int) (*Program, error) {
	r := &reader{data: data, maxStringSize: maxStringLength}
	program := NewProgram()
	for !r.done() {
		ins, err := decodeNext(r)
		if err != nil {
			return nil, err
		}
		program.Add(ins)
	}
	return program, nil
}

func decodeNext(r *reader) (Instruction, error) {
	start := r.pos
	b, err := r.readByte()
	if err != nil {
		return nil, &DecodeError{Offset: start, Err: err}
	}
	op := Opcode(b)
	ins, err := decodeOperands(r, op)
	if err != nil {
		return nil, &DecodeError{Offset: start, Code: op, Err: err}
	}
	return ins, nil
}

func decodeOperands(r *reader, op Opcode) (Instruction, error) {
	if op.IsStorage() {
		return decodeStorage(r, op)
	}
	if IsBinaryOp(op) {
		return Binary{Op: op}, nil
	}
	if IsUnaryOp(op) {
		return Unary{Op: op}, nil
	}

	switch op {
	case OpNoOperation:
		return NoOperation{}, nil
	case OpPushConst:
		t, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		value, err := r.readBigInt()
		if err != nil {
			return nil, err
		}
		if !t.Contains(value) {
			return nil, fmt.Errorf("%w: constant %s out of range for %s", ErrInvalidOperand, value, t)
		}
		return PushConst{Value: value, Type: t}, nil
	case OpPop:
		n, err := r.readCount()
		return Pop{Count: n}, err
	case OpSlice:
		ops, err := readCounts(r, 3)
		if err != nil {
			return nil, err
		}
		return Slice{Total: ops[0], Offset: ops[1], Length: ops[2]}, nil
	case OpSwap:
		return Swap{}, nil
	case OpRef, OpRefGlobal:
		address, err := r.readCount()
		return Ref{Global: op == OpRefGlobal, Address: address}, err
	case OpCast:
		t, err := decodeType(r)
		return Cast{Type: t}, err
	case OpIf:
		return If{}, nil
	case OpElse:
		return Else{}, nil
	case OpEndIf:
		return EndIf{}, nil
	case OpLoopBegin:
		n, err := r.readCount()
		return LoopBegin{Iterations: n}, err
	case OpLoopEnd:
		return LoopEnd{}, nil
	case OpCall:
		ops, err := readCounts(r, 2)
		if err != nil {
			return nil, err
		}
		return Call{Address: ops[0], Inputs: ops[1]}, nil
	case OpReturn:
		n, err := r.readCount()
		return Return{Outputs: n}, err
	case OpCallBuiltin:
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		ops, err := readCounts(r, 2)
		if err != nil {
			return nil, err
		}
		return CallBuiltin{Builtin: BuiltinID(id), Inputs: ops[0], Outputs: ops[1]}, nil
	case OpAssert:
		msg, err := r.readString()
		return Assert{Message: msg}, err
	case OpDbg:
		format, err := r.readString()
		if err != nil {
			return nil, err
		}
		n, err := r.readCount()
		return Dbg{Format: format, Args: n}, err
	case OpExit:
		n, err := r.readCount()
		return Exit{Outputs: n}, err
	case OpFileMarker:
		s, err := r.readString()
		return FileMarker{File: s}, err
	case OpFunctionMarker:
		s, err := r.readString()
		return FunctionMarker{Function: s}, err
	case OpLineMarker:
		n, err := r.readCount()
		return LineMarker{Line: n}, err
	case OpColumnMarker:
		n, err := r.readCount()
		return ColumnMarker{Column: n}, err
	}
	return nil, ErrUnknownInstructionCode
}

func decodeStorage(r *reader, op Opcode) (Instruction, error) {
	mode, store := storageFlags(op)
	var address, length, valueLen uint
	var err error
	if !mode.ByRef {
		if address, err = r.readCount(); err != nil {
			return nil, err
		}
	}
	if mode.Sequence || mode.ByIndex {
		if length, err = r.readCount(); err != nil {
			return nil, err
		}
	}
	if mode.Sequence && mode.ByIndex {
		if valueLen, err = r.readCount(); err != nil {
			return nil, err
		}
	}
	if store {
		return Store{Mode: mode, Address: address, Len: length, ValueLen: valueLen}, nil
	}
	return Load{Mode: mode, Address: address, Len: length, ValueLen: valueLen}, nil
}

func decodeType(r *reader) (circuit.ScalarType, error) {
	flag, err := r.readByte()
	if err != nil {
		return circuit.ScalarType{}, err
	}
	bits, err := r.readUint()
	if err != nil {
		return circuit.ScalarType{}, err
	}
	if flag > 1 || bits > circuit.MaxIntegerBitLength {
		return circuit.ScalarType{}, fmt.Errorf("%w: type flag %d bits %d", ErrInvalidOperand, flag, bits)
	}
	t := circuit.ScalarType{Signed: flag == 1, BitLength: uint8(bits)}
	if err := t.Validate(); err != nil {
		return circuit.ScalarType{}, fmt.Errorf("%w: %v", ErrInvalidOperand, err)
	}
	return t, nil
}

func readCounts(r *reader, n int) ([]uint, error) {
	out := make([]uint, n)
	for i := range out {
		v, err := r.readCount()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
