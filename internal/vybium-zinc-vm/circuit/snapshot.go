package circuit

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
)

// zstdMagic prefixes every zstd frame
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// TermRecord is one coefficient of a serialized linear combination
type TermRecord struct {
	Wire  uint32 `cbor:"1,keyasint"`
	Coeff []byte `cbor:"2,keyasint"`
}

// ConstraintRecord is a serialized R1CS row
type ConstraintRecord struct {
	A []TermRecord `cbor:"1,keyasint"`
	B []TermRecord `cbor:"2,keyasint"`
	C []TermRecord `cbor:"3,keyasint"`
}

// GadgetRecord is a serialized opaque gadget. Each input and output is a
// linear combination over the snapshot's wires.
type GadgetRecord struct {
	Name    string         `cbor:"1,keyasint"`
	Inputs  [][]TermRecord `cbor:"2,keyasint"`
	Outputs [][]TermRecord `cbor:"3,keyasint"`
}

// Snapshot is the portable form of a constraint system. Witness holds one
// entry per wire; an empty entry marks an unknown value.
type Snapshot struct {
	Modulus     []byte             `cbor:"1,keyasint"`
	Mode        string             `cbor:"2,keyasint"`
	NumWires    uint32             `cbor:"3,keyasint"`
	Constraints []ConstraintRecord `cbor:"4,keyasint"`
	Witness     [][]byte           `cbor:"5,keyasint,omitempty"`
	Gadgets     []GadgetRecord     `cbor:"6,keyasint,omitempty"`
}

// Snapshot captures the constraints and, in witness mode, the assignment
func (s *System) Snapshot() *Snapshot {
	snap := &Snapshot{
		Modulus:     s.field.Modulus().Bytes(),
		Mode:        s.mode.String(),
		NumWires:    uint32(len(s.wires)),
		Constraints: make([]ConstraintRecord, len(s.constraints)),
	}
	for i, c := range s.constraints {
		snap.Constraints[i] = ConstraintRecord{
			A: termRecords(c.A),
			B: termRecords(c.B),
			C: termRecords(c.C),
		}
	}
	for _, g := range s.gadgets {
		snap.Gadgets = append(snap.Gadgets, GadgetRecord{
			Name:    g.name,
			Inputs:  s.handleRecords(g.inputs),
			Outputs: s.handleRecords(g.outputs),
		})
	}
	if s.mode == WitnessMode {
		snap.Witness = make([][]byte, len(s.wires))
		for i, w := range s.wires {
			if w != nil {
				snap.Witness[i] = append([]byte{1}, w.Bytes()...)
			}
		}
	}
	return snap
}

// MarshalSnapshot encodes the system as canonical CBOR, zstd-compressed
// when compress is set.
func (s *System) MarshalSnapshot(compress bool) ([]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	data, err := em.Marshal(s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if !compress {
		return data, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot,
// detecting compression from the frame header.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress snapshot: %w", err)
		}
	}

	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Verify checks every row and recorded gadget of the snapshot against its
// witness
func (snap *Snapshot) Verify() error {
	if len(snap.Witness) != int(snap.NumWires) {
		return fmt.Errorf("%w: snapshot has %d of %d wire values", ErrWitnessIncomplete, len(snap.Witness), snap.NumWires)
	}
	f, err := core.NewField(new(big.Int).SetBytes(snap.Modulus))
	if err != nil {
		return fmt.Errorf("snapshot field: %w", err)
	}

	eval := func(terms []TermRecord) (*core.FieldElement, error) {
		sum := f.Zero()
		for _, t := range terms {
			if t.Wire >= snap.NumWires {
				return nil, fmt.Errorf("%w: wire %d", ErrInvalidVariable, t.Wire)
			}
			w := snap.Witness[t.Wire]
			if len(w) == 0 {
				return nil, ErrWitnessIncomplete
			}
			v := f.NewElement(new(big.Int).SetBytes(w[1:]))
			sum = sum.Add(v.Mul(f.NewElement(new(big.Int).SetBytes(t.Coeff))))
		}
		return sum, nil
	}
	evalAll := func(lcs [][]TermRecord) ([]*big.Int, error) {
		out := make([]*big.Int, len(lcs))
		for i, lc := range lcs {
			v, err := eval(lc)
			if err != nil {
				return nil, err
			}
			out[i] = v.Big()
		}
		return out, nil
	}

	for i, c := range snap.Constraints {
		a, err := eval(c.A)
		if err != nil {
			return fmt.Errorf("constraint %d: %w", i, err)
		}
		b, err := eval(c.B)
		if err != nil {
			return fmt.Errorf("constraint %d: %w", i, err)
		}
		cv, err := eval(c.C)
		if err != nil {
			return fmt.Errorf("constraint %d: %w", i, err)
		}
		if !a.Mul(b).Equal(cv) {
			return fmt.Errorf("constraint %d: %w", i, ErrConstraintUnsatisfied)
		}
	}
	for i, g := range snap.Gadgets {
		inputs, err := evalAll(g.Inputs)
		if err != nil {
			return fmt.Errorf("gadget %d (%s): %w", i, g.Name, err)
		}
		outputs, err := evalAll(g.Outputs)
		if err != nil {
			return fmt.Errorf("gadget %d (%s): %w", i, g.Name, err)
		}
		if err := checkGadget(g.Name, inputs, outputs); err != nil {
			return fmt.Errorf("gadget %d (%s): %w", i, g.Name, err)
		}
	}
	return nil
}

// handleRecords resolves handles to their combinations
func (s *System) handleRecords(vars []Var) [][]TermRecord {
	out := make([][]TermRecord, len(vars))
	for i, v := range vars {
		out[i] = termRecords(s.handles[v])
	}
	return out
}

// termRecords flattens a combination in wire order
func termRecords(lc combination) []TermRecord {
	out := make([]TermRecord, 0, len(lc))
	for w, c := range lc {
		out = append(out, TermRecord{Wire: uint32(w), Coeff: c.Bytes()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wire < out[j].Wire })
	return out
}
