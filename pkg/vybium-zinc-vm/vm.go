package vybiumzincvm

import (
	"io"
	"math/big"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/bytecode"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/utils"
	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/vm"
)

// VM is the public interface for the Vybium Zinc VM
type VM interface {
	// Execute runs a program on concrete inputs, checks the generated
	// constraints against the witness and returns the outputs
	Execute(program *Program, inputs []Input) (*Result, error)

	// GenerateConstraints runs a program on inputs of the given types
	// without values and returns the constraint system only
	GenerateConstraints(program *Program, inputs []ScalarType) (*Result, error)

	// GetState returns the state of the last run
	GetState() *VMState
}

// VMState represents the state of the last run (read-only)
type VMState struct {
	// Instruction pointer
	InstructionPointer int

	// Cycle count
	CycleCount int

	// Halted flag
	Halted bool

	// Source position of the last executed debug markers
	Location Location
}

// vmImpl is the internal implementation of VM
type vmImpl struct {
	field   *core.Field
	config  *Config
	debug   io.Writer
	vmState *vm.VMState
}

// NewVM creates a new Vybium Zinc VM with the given configuration. A nil
// config selects DefaultConfig.
func NewVM(config *Config) (VM, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, &VMError{
			Code:    ErrInvalidConfig,
			Message: "invalid configuration",
			Cause:   err,
		}
	}

	field, err := config.Field()
	if err != nil {
		return nil, &VMError{
			Code:    ErrInvalidConfig,
			Message: "failed to create field",
			Cause:   err,
		}
	}

	if config.LogVerbosity > 0 {
		ConfigureLogging(config.LogVerbosity, nil)
	}

	return &vmImpl{
		field:  field,
		config: config.Clone(),
		debug:  io.Discard,
	}, nil
}

// NewVMWithDebug creates a VM that writes Dbg output to w
func NewVMWithDebug(config *Config, w io.Writer) (VM, error) {
	machine, err := NewVM(config)
	if err != nil {
		return nil, err
	}
	if w != nil {
		machine.(*vmImpl).debug = w
	}
	return machine, nil
}

// Execute runs a program in witness mode
func (v *vmImpl) Execute(program *Program, inputs []Input) (*Result, error) {
	config := v.config.Clone().WithMode(utils.ModeWitness)
	system := circuit.NewSystem(v.field, circuit.WitnessMode)

	outputs, err := v.run(program, system, config, inputs)
	if err != nil {
		return nil, err
	}

	if err := system.Verify(); err != nil {
		return nil, &VMError{
			Code:    ErrConstraintVerification,
			Message: "witness does not satisfy the constraints",
			Cause:   err,
		}
	}

	result := v.result(program, system)
	result.Outputs = make([]*big.Int, len(outputs))
	for i, out := range outputs {
		result.Outputs[i] = out.Value
	}
	return result, nil
}

// GenerateConstraints runs a program in constraints mode
func (v *vmImpl) GenerateConstraints(program *Program, inputs []ScalarType) (*Result, error) {
	config := v.config.Clone().WithMode(utils.ModeConstraints)
	system := circuit.NewSystem(v.field, circuit.ConstraintMode)

	typed := make([]Input, len(inputs))
	for i, t := range inputs {
		typed[i] = Input{Type: t}
	}
	if _, err := v.run(program, system, config, typed); err != nil {
		return nil, err
	}
	return v.result(program, system), nil
}

func (v *vmImpl) run(program *Program, system *circuit.System, config *Config, inputs []Input) ([]circuit.Primitive, error) {
	state, err := vm.NewVM(program, system, config)
	if err != nil {
		return nil, &VMError{
			Code:    ErrDecode,
			Message: "program rejected",
			Cause:   err,
		}
	}
	state.SetDebugWriter(v.debug)
	v.vmState = state

	outputs, err := state.Run(inputs)
	if err != nil {
		return nil, executionError(err)
	}
	return outputs, nil
}

func (v *vmImpl) result(program *Program, system *circuit.System) *Result {
	return &Result{
		CycleCount:     v.vmState.CycleCount,
		NumConstraints: system.NumConstraints(),
		NumWires:       system.NumWires(),
		ProgramDigest:  program.DigestString(),
		system:         system,
	}
}

// GetState returns the state of the last run
func (v *vmImpl) GetState() *VMState {
	if v.vmState == nil {
		return &VMState{}
	}

	return &VMState{
		InstructionPointer: v.vmState.InstructionPointer,
		CycleCount:         v.vmState.CycleCount,
		Halted:             v.vmState.Halted(),
		Location:           v.vmState.Location(),
	}
}

// Decode parses a whole bytecode program
func Decode(data []byte, config *Config) (*Program, error) {
	if config == nil {
		config = DefaultConfig()
	}
	program, err := bytecode.DecodeWithLimit(data, config.MaxStringLength)
	if err != nil {
		return nil, &VMError{
			Code:    ErrDecode,
			Message: "malformed bytecode",
			Cause:   err,
		}
	}
	return program, nil
}

// Run decodes bytecode and executes it on concrete inputs
func Run(data []byte, inputs []Input, config *Config) (*Result, error) {
	machine, err := NewVM(config)
	if err != nil {
		return nil, err
	}
	program, err := Decode(data, config)
	if err != nil {
		return nil, err
	}
	return machine.Execute(program, inputs)
}

// DefaultConfig returns a default VM configuration over the BN254 scalar
// field
func DefaultConfig() *Config {
	return utils.DefaultConfig()
}

// LoadConfig reads a TOML configuration file
func LoadConfig(path string) (*Config, error) {
	config, err := utils.LoadConfig(path)
	if err != nil {
		return nil, &VMError{
			Code:    ErrInvalidConfig,
			Message: "failed to load configuration",
			Cause:   err,
		}
	}
	return config, nil
}

// ConfigureLogging sets the log verbosity of every package. Zero keeps
// only errors; path nil writes to stderr.
func ConfigureLogging(verbosity int, path *string) {
	commonlog.Configure(verbosity, path)
}
