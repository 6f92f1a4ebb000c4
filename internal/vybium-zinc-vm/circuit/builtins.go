package circuit

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"

	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Builtin names understood by System.Builtin
const (
	BuiltinToBits           = "to_bits"
	BuiltinUnsignedFromBits = "unsigned_from_bits"
	BuiltinSignedFromBits   = "signed_from_bits"
	BuiltinFieldFromBits    = "field_from_bits"
	BuiltinArrayReverse     = "array_reverse"
	BuiltinSha256           = "crypto_sha256"
	BuiltinKeccak256        = "crypto_keccak256"
	BuiltinBlake3           = "crypto_blake3"
	BuiltinPoseidon         = "crypto_poseidon"
)

type builtinFunc func(s *System, args []Primitive) ([]Primitive, error)

var builtins = map[string]builtinFunc{
	BuiltinToBits:           toBits,
	BuiltinUnsignedFromBits: fromBits(false, false),
	BuiltinSignedFromBits:   fromBits(true, false),
	BuiltinFieldFromBits:    fromBits(false, true),
	BuiltinArrayReverse:     arrayReverse,
	BuiltinSha256:           bitHash(BuiltinSha256),
	BuiltinKeccak256:        bitHash(BuiltinKeccak256),
	BuiltinBlake3:           bitHash(BuiltinBlake3),
	BuiltinPoseidon:         poseidon,
}

// digesters maps the bit-oriented hash builtins to their byte functions
var digesters = map[string]func([]byte) []byte{
	BuiltinSha256: func(data []byte) []byte {
		sum := sha256.Sum256(data)
		return sum[:]
	},
	BuiltinKeccak256: func(data []byte) []byte {
		h := sha3.NewLegacyKeccak256()
		h.Write(data)
		return h.Sum(nil)
	},
	BuiltinBlake3: func(data []byte) []byte {
		sum := blake3.Sum256(data)
		return sum[:]
	},
}

// BuiltinNames lists the registered builtins in sorted order
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// toBits returns the big-endian bit decomposition of a single scalar
func toBits(s *System, args []Primitive) ([]Primitive, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: %s takes 1 argument, got %d", ErrBuiltinArguments, BuiltinToBits, len(args))
	}
	x := args[0]

	n := int(x.Type.BitLength)
	var (
		bits []Var
		err  error
	)
	switch {
	case x.Type.IsField():
		n = s.field.BitLength()
		bits, err = ToBits(s, x.Var, FieldValue(s, x.Value), n)
	case x.Type.Signed:
		bits, err = ToBitsSigned(s, x.Var, x.Value, n)
	default:
		bits, err = ToBits(s, x.Var, FieldValue(s, x.Value), n)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", BuiltinToBits, err)
	}

	out := make([]Primitive, n)
	for i := 0; i < n; i++ {
		lsb := n - 1 - i
		value, _ := s.Value(bits[lsb])
		out[i] = Primitive{Value: value, Var: bits[lsb], Type: BoolType}
	}
	return out, nil
}

// fromBits recomposes big-endian bits into an integer or field element
func fromBits(signed, toField bool) builtinFunc {
	return func(s *System, args []Primitive) ([]Primitive, error) {
		n := len(args)
		limit := MaxIntegerBitLength
		if toField {
			limit = s.field.BitLength()
		}
		if n == 0 || n > limit || (signed && n < 2) {
			return nil, fmt.Errorf("%w: cannot recompose %d bits", ErrBuiltinArguments, n)
		}

		terms := make([]Term, n)
		known := true
		value := new(big.Int)
		for i, bit := range args {
			if !bit.Type.IsBool() {
				return nil, fmt.Errorf("%w: argument %d is %s, want bool", ErrBuiltinArguments, i, bit.Type)
			}
			coeff := new(big.Int).Lsh(big.NewInt(1), uint(n-1-i))
			if signed && i == 0 {
				coeff.Neg(coeff)
			}
			terms[i] = Term{Coeff: coeff, Var: bit.Var}
			if bit.Value == nil {
				known = false
				continue
			}
			value.Add(value, new(big.Int).Mul(coeff, bit.Value))
		}

		v, err := s.LinearCombination(terms, nil)
		if err != nil {
			return nil, err
		}

		t := UnsignedType(uint8(n))
		switch {
		case toField:
			t = FieldType
			value = FieldValue(s, value)
		case signed:
			t = SignedType(uint8(n))
		}
		if !known {
			value = nil
		}
		return []Primitive{{Value: value, Var: v, Type: t}}, nil
	}
}

func arrayReverse(_ *System, args []Primitive) ([]Primitive, error) {
	out := make([]Primitive, len(args))
	for i, arg := range args {
		out[len(args)-1-i] = arg
	}
	return out, nil
}

// bitHash hashes a big-endian bit string into 256 output bits. The hash
// itself is recorded as an opaque gadget and re-checked by Verify; the
// outputs are constrained to be boolean.
func bitHash(name string) builtinFunc {
	return func(s *System, args []Primitive) ([]Primitive, error) {
		if len(args)%8 != 0 {
			return nil, fmt.Errorf("%w: %s needs a whole number of bytes, got %d bits", ErrBuiltinArguments, name, len(args))
		}
		inputs := make([]Var, len(args))
		values := make([]*big.Int, len(args))
		known := true
		for i, bit := range args {
			if !bit.Type.IsBool() {
				return nil, fmt.Errorf("%w: argument %d is %s, want bool", ErrBuiltinArguments, i, bit.Type)
			}
			inputs[i] = bit.Var
			values[i] = bit.Value
			known = known && bit.Value != nil
		}

		var digest []byte
		if known {
			digest = digesters[name](packBits(values))
		}

		out := make([]Primitive, 256)
		outputs := make([]Var, 256)
		for i := range out {
			var value *big.Int
			if digest != nil {
				value = big.NewInt(int64(digest[i/8] >> (7 - uint(i%8)) & 1))
			}
			v, err := s.AllocateWitness(value)
			if err != nil {
				return nil, err
			}
			if err := AssertBoolean(s, v); err != nil {
				return nil, err
			}
			outputs[i] = v
			out[i] = Primitive{Value: value, Var: v, Type: BoolType}
		}
		s.recordGadget(name, inputs, outputs)
		return out, nil
	}
}

// poseidon hashes scalars below the Goldilocks modulus into one field element
func poseidon(s *System, args []Primitive) ([]Primitive, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one argument", ErrBuiltinArguments, BuiltinPoseidon)
	}
	inputs := make([]Var, len(args))
	values := make([]*big.Int, len(args))
	known := true
	for i, arg := range args {
		inputs[i] = arg.Var
		values[i] = arg.Value
		known = known && arg.Value != nil
	}

	var value *big.Int
	if known {
		digest, err := poseidonDigest(values)
		if err != nil {
			return nil, err
		}
		value = digest
	}

	v, err := s.AllocateWitness(value)
	if err != nil {
		return nil, err
	}
	s.recordGadget(BuiltinPoseidon, inputs, []Var{v})
	return []Primitive{{Value: value, Var: v, Type: FieldType}}, nil
}

func poseidonDigest(values []*big.Int) (*big.Int, error) {
	limit := new(big.Int).SetUint64(field.P)
	elements := make([]field.Element, len(values))
	for i, v := range values {
		if v.Sign() < 0 || v.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("%w: %s input %d out of range", ErrBuiltinArguments, BuiltinPoseidon, i)
		}
		elements[i] = field.New(v.Uint64())
	}
	digest := hash.PoseidonHash(elements)
	return new(big.Int).SetUint64(digest.Value()), nil
}

// packBits packs big-endian bits into bytes
func packBits(bits []*big.Int) []byte {
	out := make([]byte, len(bits)/8)
	for i, bit := range bits {
		if bit.Sign() != 0 {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}

// verifyGadget recomputes a recorded gadget from the witness assignment
func (s *System) verifyGadget(g gadgetRecord) error {
	inputs, err := s.values(g.inputs)
	if err != nil {
		return err
	}
	outputs, err := s.values(g.outputs)
	if err != nil {
		return err
	}
	return checkGadget(g.name, inputs, outputs)
}

func (s *System) values(vars []Var) ([]*big.Int, error) {
	out := make([]*big.Int, len(vars))
	for i, v := range vars {
		value, ok := s.Value(v)
		if !ok {
			return nil, ErrWitnessIncomplete
		}
		out[i] = value
	}
	return out, nil
}

// checkGadget compares the outputs of an opaque gadget with the digest of
// its inputs
func checkGadget(name string, inputs, outputs []*big.Int) error {
	switch name {
	case BuiltinPoseidon:
		if len(outputs) != 1 {
			return fmt.Errorf("%w: poseidon has %d outputs", ErrBuiltinArguments, len(outputs))
		}
		want, err := poseidonDigest(inputs)
		if err != nil {
			return err
		}
		if outputs[0].Cmp(want) != 0 {
			return fmt.Errorf("%w: poseidon digest mismatch", ErrConstraintUnsatisfied)
		}
		return nil
	default:
		digester, ok := digesters[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownBuiltin, name)
		}
		if len(inputs)%8 != 0 || len(outputs) != 256 {
			return fmt.Errorf("%w: %s over %d bits into %d", ErrBuiltinArguments, name, len(inputs), len(outputs))
		}
		if !bytes.Equal(packBits(outputs), digester(packBits(inputs))) {
			return fmt.Errorf("%w: %s digest mismatch", ErrConstraintUnsatisfied, name)
		}
		return nil
	}
}
