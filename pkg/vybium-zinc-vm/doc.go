// Package vybiumzincvm runs zinc bytecode and turns it into a rank-1
// constraint system.
//
// Every instruction executes natively on the concrete inputs and, at the
// same time, emits the R1CS constraints proving that execution. Both arms of
// every conditional are executed; their results are merged with a selector so
// the constraint shape never depends on input values.
//
// # Features
//
// - Stack VM over typed scalars: field elements, booleans and integers of 1
// to 248 bits
// - Witness mode (values known) and constraints mode (shape only) producing
// identical constraint systems
// - Local and global memory with value, sequence, indexed and by-reference
// addressing
// - Bounded loops, calls, assertions and debug output
// - Builtins: bit decomposition, sha256, keccak256, blake3 and Poseidon
// - CBOR snapshots of the generated constraint system, optionally zstd
// compressed
//
// # Quick Start
//
// Decoding and executing a program:
//
//	result, err := vybiumzincvm.Run(code, []vybiumzincvm.Input{
//		{Value: big.NewInt(2), Type: vybiumzincvm.UnsignedType(8)},
//		{Value: big.NewInt(3), Type: vybiumzincvm.UnsignedType(8)},
//	}, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(result.Outputs, result.NumConstraints)
//
// Generating the constraints alone:
//
//	machine, err := vybiumzincvm.NewVM(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := machine.GenerateConstraints(program, []vybiumzincvm.ScalarType{
//		vybiumzincvm.UnsignedType(8),
//		vybiumzincvm.UnsignedType(8),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	snapshot, err := result.MarshalSnapshot(true)
//
// # Architecture
//
// - pkg/vybium-zinc-vm/: Public API (this package)
// - internal/vybium-zinc-vm/: Private implementation (not importable)
//
// Errors returned by this package are *VMError values; Code classifies them
// and errors.As reaches the underlying execution or decode error.
package vybiumzincvm
