package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"
)

// ErrInvalidProgram is wrapped by every validation failure
var ErrInvalidProgram = errors.New("invalid program")

// DigestLength is the number of field elements in a program digest
const DigestLength = 5

// digestChunk is the number of encoded bytes packed into one field element
const digestChunk = 7

// Program is a decoded instruction sequence. Call targets index into
// Instructions.
type Program struct {
	Instructions []Instruction
}

// NewProgram creates an empty program
func NewProgram(instructions ...Instruction) *Program {
	return &Program{Instructions: append(make([]Instruction, 0, len(instructions)), instructions...)}
}

// Add appends instructions to the program
func (p *Program) Add(instructions ...Instruction) {
	p.Instructions = append(p.Instructions, instructions...)
}

// Len returns the number of instructions
func (p *Program) Len() int {
	return len(p.Instructions)
}

// Encode returns the binary form of the program
func (p *Program) Encode() []byte {
	w := &writer{}
	for _, ins := range p.Instructions {
		w.putByte(byte(ins.Code()))
		ins.encodeOperands(w)
	}
	return w.buf
}

// Disassemble renders the program as numbered assembly lines
func (p *Program) Disassemble() string {
	var sb strings.Builder
	depth := 0
	for i, ins := range p.Instructions {
		switch ins.(type) {
		case Else, EndIf, LoopEnd:
			if depth > 0 {
				depth--
			}
		}
		fmt.Fprintf(&sb, "%04d  %s%s\n", i, strings.Repeat("  ", depth), ins)
		switch ins.(type) {
		case If, Else, LoopBegin:
			depth++
		}
	}
	return sb.String()
}

// Blocks maps each If, Else and LoopBegin to the index of the instruction
// closing it, and each LoopEnd back to its LoopBegin.
type Blocks struct {
	Close map[int]int
	Open  map[int]int
}

// MatchBlocks pairs block delimiters, checking they nest properly
func (p *Program) MatchBlocks() (*Blocks, error) {
	type open struct {
		index   int
		loop    bool
		hasElse bool
	}
	blocks := &Blocks{Close: make(map[int]int), Open: make(map[int]int)}
	var stack []open

	for i, ins := range p.Instructions {
		switch ins.(type) {
		case If:
			stack = append(stack, open{index: i})
		case LoopBegin:
			stack = append(stack, open{index: i, loop: true})
		case Else:
			if len(stack) == 0 || stack[len(stack)-1].loop {
				return nil, fmt.Errorf("%w: else at %d without if", ErrInvalidProgram, i)
			}
			top := &stack[len(stack)-1]
			if top.hasElse {
				return nil, fmt.Errorf("%w: second else at %d", ErrInvalidProgram, i)
			}
			top.hasElse = true
			blocks.Close[top.index] = i
			top.index = i
		case EndIf:
			if len(stack) == 0 || stack[len(stack)-1].loop {
				return nil, fmt.Errorf("%w: endif at %d without if", ErrInvalidProgram, i)
			}
			blocks.Close[stack[len(stack)-1].index] = i
			stack = stack[:len(stack)-1]
		case LoopEnd:
			if len(stack) == 0 || !stack[len(stack)-1].loop {
				return nil, fmt.Errorf("%w: loop_end at %d without loop_begin", ErrInvalidProgram, i)
			}
			begin := stack[len(stack)-1].index
			blocks.Close[begin] = i
			blocks.Open[i] = begin
			stack = stack[:len(stack)-1]
		case Return, Exit:
			if len(stack) > 0 {
				return nil, fmt.Errorf("%w: %s at %d inside open block %d", ErrInvalidProgram, ins, i, stack[len(stack)-1].index)
			}
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: block opened at %d is never closed", ErrInvalidProgram, stack[len(stack)-1].index)
	}
	return blocks, nil
}

// Validate checks the program is well formed. maxLoopIterations bounds the
// trip count of every loop; zero disables the bound.
func (p *Program) Validate(maxLoopIterations uint) error {
	if len(p.Instructions) == 0 {
		return fmt.Errorf("%w: empty program", ErrInvalidProgram)
	}

	hasExit := false
	for i, ins := range p.Instructions {
		switch v := ins.(type) {
		case Exit:
			hasExit = true
		case Call:
			if int(v.Address) >= len(p.Instructions) {
				return fmt.Errorf("%w: call target %d out of range at %d", ErrInvalidProgram, v.Address, i)
			}
		case LoopBegin:
			if maxLoopIterations > 0 && v.Iterations > maxLoopIterations {
				return fmt.Errorf("%w: loop at %d runs %d iterations, limit %d", ErrInvalidProgram, i, v.Iterations, maxLoopIterations)
			}
		case Binary:
			if !IsBinaryOp(v.Op) {
				return fmt.Errorf("%w: %s is not a binary operation", ErrInvalidProgram, v.Op)
			}
		case Unary:
			if !IsUnaryOp(v.Op) {
				return fmt.Errorf("%w: %s is not a unary operation", ErrInvalidProgram, v.Op)
			}
		case PushConst:
			if v.Value == nil {
				return fmt.Errorf("%w: push without value at %d", ErrInvalidProgram, i)
			}
		case Slice:
			if v.Offset+v.Length > v.Total {
				return fmt.Errorf("%w: slice %d+%d exceeds %d at %d", ErrInvalidProgram, v.Offset, v.Length, v.Total, i)
			}
		case Load:
			if err := validateStorage(v.Mode, v.Len, v.ValueLen); err != nil {
				return fmt.Errorf("%w: %s at %d: %v", ErrInvalidProgram, v, i, err)
			}
		case Store:
			if err := validateStorage(v.Mode, v.Len, v.ValueLen); err != nil {
				return fmt.Errorf("%w: %s at %d: %v", ErrInvalidProgram, v, i, err)
			}
		}
	}
	if !hasExit {
		return fmt.Errorf("%w: no exit instruction", ErrInvalidProgram)
	}

	blocks, err := p.MatchBlocks()
	if err != nil {
		return err
	}
	if !p.exitReachable(blocks) {
		return fmt.Errorf("%w: no exit reachable from the entry", ErrInvalidProgram)
	}
	return nil
}

// exitReachable walks control flow from instruction 0. A call continues
// both at its target and after itself, a loop body may be skipped, and
// Return or Exit end a path.
func (p *Program) exitReachable(blocks *Blocks) bool {
	seen := make([]bool, len(p.Instructions))
	work := []int{0}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		if i >= len(p.Instructions) || seen[i] {
			continue
		}
		seen[i] = true

		switch v := p.Instructions[i].(type) {
		case Exit:
			return true
		case Return:
			continue
		case Call:
			work = append(work, int(v.Address))
		case LoopBegin:
			work = append(work, blocks.Close[i]+1)
		}
		work = append(work, i+1)
	}
	return false
}

func validateStorage(mode StorageMode, length, valueLen uint) error {
	if !mode.ByIndex {
		return nil
	}
	if length == 0 {
		return fmt.Errorf("indexing an empty aggregate")
	}
	if mode.Sequence && (valueLen == 0 || length%valueLen != 0) {
		return fmt.Errorf("element width %d does not divide aggregate %d", valueLen, length)
	}
	return nil
}

// Digest hashes the encoded program with Poseidon. The first element covers
// the whole encoding; each following element chains from the previous one.
func (p *Program) Digest() [DigestLength]field.Element {
	encoded := p.Encode()
	elements := make([]field.Element, 0, len(encoded)/digestChunk+2)
	elements = append(elements, field.New(uint64(len(encoded))))
	for start := 0; start < len(encoded); start += digestChunk {
		end := start + digestChunk
		if end > len(encoded) {
			end = len(encoded)
		}
		var chunk [8]byte
		copy(chunk[8-(end-start):], encoded[start:end])
		elements = append(elements, field.New(binary.BigEndian.Uint64(chunk[:])))
	}

	var digest [DigestLength]field.Element
	digest[0] = hash.PoseidonHash(elements)
	for i := 1; i < DigestLength; i++ {
		digest[i] = hash.PoseidonHash([]field.Element{digest[i-1], field.New(uint64(i))})
	}
	return digest
}

// DigestString renders the digest in base58
func (p *Program) DigestString() string {
	digest := p.Digest()
	buf := make([]byte, 0, DigestLength*8)
	for _, e := range digest {
		buf = binary.BigEndian.AppendUint64(buf, e.Value())
	}
	return base58.Encode(buf)
}
