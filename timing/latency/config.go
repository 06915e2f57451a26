package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// CostConfig holds the base cost, in cycles, of each instruction class.
// Memory instructions pay a random memory cost on top of their base cost.
type CostConfig struct {
	// ALU is the cost of integer arithmetic, logic and shifts.
	ALU uint32 `json:"alu" yaml:"alu"`

	// Branch is the cost of conditional branches.
	Branch uint32 `json:"branch" yaml:"branch"`

	// Jump is the cost of jal, jalr and their compressed forms.
	Jump uint32 `json:"jump" yaml:"jump"`

	Load   uint32 `json:"load" yaml:"load"`
	Store  uint32 `json:"store" yaml:"store"`
	Atomic uint32 `json:"atomic" yaml:"atomic"`

	// Multiply is the cost of mul, mulh, mulhsu, mulhu and the W forms.
	Multiply uint32 `json:"multiply" yaml:"multiply"`

	// Divide is the cost of div, divu, rem, remu and the W forms.
	Divide uint32 `json:"divide" yaml:"divide"`

	FloatArith   uint32 `json:"float_arith" yaml:"float_arith"`
	FloatFused   uint32 `json:"float_fused" yaml:"float_fused"`
	FloatDivSqrt uint32 `json:"float_div_sqrt" yaml:"float_div_sqrt"`
	FloatConvert uint32 `json:"float_convert" yaml:"float_convert"`

	// CSR is the cost of the Zicsr instructions.
	CSR uint32 `json:"csr" yaml:"csr"`

	// System is the cost of ecall, ebreak and the fences.
	System uint32 `json:"system" yaml:"system"`
}

// DefaultCostConfig returns one cycle for every class except multiply and
// divide.
func DefaultCostConfig() *CostConfig {
	return &CostConfig{
		ALU:          1,
		Branch:       1,
		Jump:         1,
		Load:         1,
		Store:        1,
		Atomic:       1,
		Multiply:     3,
		Divide:       10,
		FloatArith:   1,
		FloatFused:   1,
		FloatDivSqrt: 1,
		FloatConvert: 1,
		CSR:          1,
		System:       1,
	}
}

// LoadCostConfig loads a CostConfig from a JSON file. Missing fields keep
// their default values.
func LoadCostConfig(path string) (*CostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cost config file: %w", err)
	}

	config := DefaultCostConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse cost config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a CostConfig to a JSON file.
func (c *CostConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cost config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cost config file: %w", err)
	}

	return nil
}

// Validate checks that every class costs at least one cycle.
func (c *CostConfig) Validate() error {
	for class := ClassALU; class < numClasses; class++ {
		if c.Cost(class) == 0 {
			return fmt.Errorf("%s cost must be > 0", class)
		}
	}
	return nil
}

// Clone returns a copy of the CostConfig.
func (c *CostConfig) Clone() *CostConfig {
	clone := *c
	return &clone
}

// Cost returns the configured cost of class.
func (c *CostConfig) Cost(class Class) uint32 {
	switch class {
	case ClassBranch:
		return c.Branch
	case ClassJump:
		return c.Jump
	case ClassLoad:
		return c.Load
	case ClassStore:
		return c.Store
	case ClassAtomic:
		return c.Atomic
	case ClassMultiply:
		return c.Multiply
	case ClassDivide:
		return c.Divide
	case ClassFloatArith:
		return c.FloatArith
	case ClassFloatFused:
		return c.FloatFused
	case ClassFloatDivSqrt:
		return c.FloatDivSqrt
	case ClassFloatConvert:
		return c.FloatConvert
	case ClassCSR:
		return c.CSR
	case ClassSystem:
		return c.System
	default:
		return c.ALU
	}
}
