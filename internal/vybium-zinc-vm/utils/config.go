package utils

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/core"
)

// Execution modes
const (
	ModeWitness     = "witness"
	ModeConstraints = "constraints"
)

// Config represents the configuration of a VM run
type Config struct {
	// Field parameters
	FieldModulus *big.Int

	// Mode is "witness" (concrete values, constraints checked eagerly) or
	// "constraints" (shape only, no values)
	Mode string

	// Resource limits
	MaxCycles          int // Instructions executed before the run is aborted
	MaxEvaluationStack int // Evaluation stack depth
	MaxDataStack       int // Cells in the local data region, shared by all frames
	MaxGlobals         int // Cells in the global region
	MaxCallDepth       int // Nested calls
	MaxLoopIterations  int // Trip count of a single loop

	// Decoding
	MaxStringLength int // Bytes in a string operand

	// Logging
	LogVerbosity int // commonlog verbosity, 0 silences the VM
}

// fileConfig is the TOML layout of a config file
type fileConfig struct {
	FieldModulus       string `toml:"field_modulus"`
	Mode               string `toml:"mode"`
	MaxCycles          int    `toml:"max_cycles"`
	MaxEvaluationStack int    `toml:"max_evaluation_stack"`
	MaxDataStack       int    `toml:"max_data_stack"`
	MaxGlobals         int    `toml:"max_globals"`
	MaxCallDepth       int    `toml:"max_call_depth"`
	MaxLoopIterations  int    `toml:"max_loop_iterations"`
	MaxStringLength    int    `toml:"max_string_length"`
	LogVerbosity       int    `toml:"log_verbosity"`
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() *Config {
	return &Config{
		FieldModulus:       core.DefaultPrimeField.Modulus(), // BN254 scalar field
		Mode:               ModeWitness,
		MaxCycles:          1 << 24,
		MaxEvaluationStack: 1 << 16,
		MaxDataStack:       1 << 16,
		MaxGlobals:         1 << 12,
		MaxCallDepth:       256,
		MaxLoopIterations:  1 << 20,
		MaxStringLength:    1024,
		LogVerbosity:       0,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.FieldModulus == nil || c.FieldModulus.Cmp(big.NewInt(2)) <= 0 {
		return fmt.Errorf("field modulus must be greater than 2")
	}

	if !c.FieldModulus.ProbablyPrime(20) {
		return fmt.Errorf("field modulus must be prime")
	}

	if c.Mode != ModeWitness && c.Mode != ModeConstraints {
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", ModeWitness, ModeConstraints, c.Mode)
	}

	if c.MaxCycles <= 0 {
		return fmt.Errorf("max cycles must be positive")
	}

	if c.MaxEvaluationStack <= 0 {
		return fmt.Errorf("max evaluation stack must be positive")
	}

	if c.MaxDataStack < 0 || c.MaxGlobals < 0 {
		return fmt.Errorf("memory sizes must not be negative")
	}

	if c.MaxCallDepth <= 0 {
		return fmt.Errorf("max call depth must be positive")
	}

	if c.MaxLoopIterations <= 0 {
		return fmt.Errorf("max loop iterations must be positive")
	}

	if c.MaxStringLength <= 0 {
		return fmt.Errorf("max string length must be positive")
	}

	if c.LogVerbosity < 0 {
		return fmt.Errorf("log verbosity must not be negative")
	}

	return nil
}

// Field builds the prime field described by the configuration
func (c *Config) Field() (*core.Field, error) {
	return core.NewField(c.FieldModulus)
}

// WithFieldModulus sets the field modulus
func (c *Config) WithFieldModulus(modulus *big.Int) *Config {
	c.FieldModulus = new(big.Int).Set(modulus)
	return c
}

// WithMode sets the execution mode
func (c *Config) WithMode(mode string) *Config {
	c.Mode = mode
	return c
}

// WithMaxCycles sets the cycle limit
func (c *Config) WithMaxCycles(cycles int) *Config {
	c.MaxCycles = cycles
	return c
}

// WithMaxEvaluationStack sets the evaluation stack depth
func (c *Config) WithMaxEvaluationStack(depth int) *Config {
	c.MaxEvaluationStack = depth
	return c
}

// WithMemory sets the sizes of the data and global regions
func (c *Config) WithMemory(data, globals int) *Config {
	c.MaxDataStack = data
	c.MaxGlobals = globals
	return c
}

// WithMaxCallDepth sets the call depth limit
func (c *Config) WithMaxCallDepth(depth int) *Config {
	c.MaxCallDepth = depth
	return c
}

// WithMaxLoopIterations sets the loop trip count limit
func (c *Config) WithMaxLoopIterations(iterations int) *Config {
	c.MaxLoopIterations = iterations
	return c
}

// WithMaxStringLength sets the string operand limit
func (c *Config) WithMaxStringLength(length int) *Config {
	c.MaxStringLength = length
	return c
}

// WithLogVerbosity sets the log verbosity
func (c *Config) WithLogVerbosity(verbosity int) *Config {
	c.LogVerbosity = verbosity
	return c
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	if c.FieldModulus != nil {
		clone.FieldModulus = new(big.Int).Set(c.FieldModulus)
	}
	return &clone
}

// LoadConfig reads a TOML config file layered over DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return c, nil
}

// ParseConfig decodes TOML config text layered over DefaultConfig
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	fc := fileConfig{
		FieldModulus:       c.FieldModulus.String(),
		Mode:               c.Mode,
		MaxCycles:          c.MaxCycles,
		MaxEvaluationStack: c.MaxEvaluationStack,
		MaxDataStack:       c.MaxDataStack,
		MaxGlobals:         c.MaxGlobals,
		MaxCallDepth:       c.MaxCallDepth,
		MaxLoopIterations:  c.MaxLoopIterations,
		MaxStringLength:    c.MaxStringLength,
		LogVerbosity:       c.LogVerbosity,
	}
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return nil, err
	}

	modulus, ok := new(big.Int).SetString(fc.FieldModulus, 0)
	if !ok {
		return nil, fmt.Errorf("invalid field modulus %q", fc.FieldModulus)
	}
	c.FieldModulus = modulus
	c.Mode = fc.Mode
	c.MaxCycles = fc.MaxCycles
	c.MaxEvaluationStack = fc.MaxEvaluationStack
	c.MaxDataStack = fc.MaxDataStack
	c.MaxGlobals = fc.MaxGlobals
	c.MaxCallDepth = fc.MaxCallDepth
	c.MaxLoopIterations = fc.MaxLoopIterations
	c.MaxStringLength = fc.MaxStringLength
	c.LogVerbosity = fc.LogVerbosity

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
