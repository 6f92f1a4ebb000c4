package bytecode

import (
	"fmt"
	"math/big"
	"unicode/utf8"
)

const (
	// MaxConstantBytes bounds the VLQ encoding of a big-integer constant,
	// enough for any value of the widest supported field.
	MaxConstantBytes = 40

	// maxUintBytes is the longest VLQ a uint64 operand can take
	maxUintBytes = 10

	// DefaultMaxStringLength bounds string operands unless configured otherwise
	DefaultMaxStringLength = 1024
)

// writer accumulates the encoding of a program
type writer struct {
	buf []byte
}

func (w *writer) putByte(b byte) {
	w.buf = append(w.buf, b)
}

// putUint writes an unsigned VLQ, least significant group first
func (w *writer) putUint(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// putBigInt writes a zigzag-mapped VLQ so negative constants stay short
func (w *writer) putBigInt(v *big.Int) {
	z := new(big.Int).Lsh(v, 1)
	if v.Sign() < 0 {
		z.Neg(z)
		z.Sub(z, big.NewInt(1))
	}
	group := new(big.Int)
	mask := big.NewInt(0x7f)
	for z.BitLen() > 7 {
		group.And(z, mask)
		w.buf = append(w.buf, byte(group.Uint64())|0x80)
		z.Rsh(z, 7)
	}
	w.buf = append(w.buf, byte(z.Uint64()))
}

func (w *writer) putString(s string) {
	w.putUint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// reader walks an encoded program, tracking the byte offset for errors
type reader struct {
	data          []byte
	pos           int
	maxStringSize int
}

func (r *reader) done() bool {
	return r.pos >= len(r.data)
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readUint() (uint64, error) {
	var v uint64
	for i := 0; ; i++ {
		if i >= maxUintBytes {
			return 0, fmt.Errorf("%w: integer operand exceeds %d bytes", ErrConstantTooLong, maxUintBytes)
		}
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		// the tenth group holds only bit 63
		if i == maxUintBytes-1 && b > 1 {
			return 0, fmt.Errorf("%w: integer operand exceeds 64 bits", ErrConstantTooLong)
		}
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

// readCount reads an unsigned operand that must fit an int
func (r *reader) readCount() (uint, error) {
	v, err := r.readUint()
	if err != nil {
		return 0, err
	}
	if v > uint64(^uint(0)>>1) {
		return 0, fmt.Errorf("%w: operand %d", ErrConstantTooLong, v)
	}
	return uint(v), nil
}

func (r *reader) readBigInt() (*big.Int, error) {
	z := new(big.Int)
	for i := 0; ; i++ {
		if i >= MaxConstantBytes {
			return nil, fmt.Errorf("%w: constant exceeds %d bytes", ErrConstantTooLong, MaxConstantBytes)
		}
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		group := new(big.Int).SetUint64(uint64(b & 0x7f))
		z.Or(z, group.Lsh(group, 7*uint(i)))
		if b&0x80 == 0 {
			break
		}
	}

	// undo zigzag: even values are non-negative
	v := new(big.Int).Rsh(z, 1)
	if z.Bit(0) == 1 {
		v.Add(v, big.NewInt(1))
		v.Neg(v)
	}
	return v, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readUint()
	if err != nil {
		return "", err
	}
	limit := r.maxStringSize
	if limit <= 0 {
		limit = DefaultMaxStringLength
	}
	if n > uint64(limit) {
		return "", fmt.Errorf("%w: string of %d bytes exceeds %d", ErrConstantTooLong, n, limit)
	}
	if uint64(len(r.data)-r.pos) < n {
		return "", ErrUnexpectedEOF
	}
	raw := r.data[r.pos : r.pos+int(n)]
	if !utf8.Valid(raw) {
		return "", ErrUTF8
	}
	r.pos += int(n)
	return string(raw), nil
}
