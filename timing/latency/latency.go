// Package latency provides the instruction cost model: per-class base
// costs, the random memory cost added to memory instructions and prefetch
// fills, and the cost-override file.
package latency

import (
	"math/rand/v2"
	"strings"

	"github.com/sarchlab/revsim/insts"
)

// Class is a group of instructions that share a base cost.
type Class uint8

// Instruction classes.
const (
	ClassALU Class = iota
	ClassBranch
	ClassJump
	ClassLoad
	ClassStore
	ClassAtomic
	ClassMultiply
	ClassDivide
	ClassFloatArith
	ClassFloatFused
	ClassFloatDivSqrt
	ClassFloatConvert
	ClassCSR
	ClassSystem

	numClasses
)

var classNames = [...]string{
	"alu", "branch", "jump", "load", "store", "atomic", "multiply", "divide",
	"float_arith", "float_fused", "float_div_sqrt", "float_convert", "csr", "system",
}

func (c Class) String() string {
	if c < numClasses {
		return classNames[c]
	}
	return "unknown"
}

// Classify returns the class of a table entry.
func Classify(e *insts.Entry) Class {
	name := strings.TrimPrefix(e.Name(), "c.")

	switch {
	case e.Opcode == insts.OpAMO && !e.Compressed:
		return ClassAtomic
	case e.Memory && e.RdClass != insts.RegUnused:
		return ClassLoad
	case e.Memory:
		return ClassStore
	case name == "ecall" || name == "ebreak" || strings.HasPrefix(name, "fence"):
		return ClassSystem
	case strings.HasPrefix(name, "csr"):
		return ClassCSR
	case name == "j" || name == "jal" || name == "jr" || name == "jalr":
		return ClassJump
	case e.Format == insts.FormatB || e.Format == insts.FormatCB && strings.HasPrefix(name, "b"):
		return ClassBranch
	case strings.HasPrefix(name, "mul"):
		return ClassMultiply
	case strings.HasPrefix(name, "div") || strings.HasPrefix(name, "rem"):
		return ClassDivide
	case strings.HasPrefix(name, "fdiv") || strings.HasPrefix(name, "fsqrt"):
		return ClassFloatDivSqrt
	case strings.HasPrefix(name, "fm") && strings.Contains(name, "add") ||
		strings.HasPrefix(name, "fm") && strings.Contains(name, "sub") ||
		strings.HasPrefix(name, "fnm"):
		return ClassFloatFused
	case strings.HasPrefix(name, "fcvt") || strings.HasPrefix(name, "fmv"):
		return ClassFloatConvert
	case strings.HasPrefix(name, "f"):
		return ClassFloatArith
	}
	return ClassALU
}

// Apply sets the cost of every entry of t from its class.
func (c *CostConfig) Apply(t *insts.Table) {
	for i := 0; i < t.Len(); i++ {
		e := t.Entry(i)
		e.Cost = c.Cost(Classify(e))
	}
}

// MemCost draws memory access costs uniformly from [Min, Max].
type MemCost struct {
	Min, Max uint32
	rng      *rand.Rand
}

// NewMemCost creates a MemCost. A Max below Min is raised to Min.
func NewMemCost(lo, hi uint32, seed uint64) *MemCost {
	return &MemCost{
		Min: lo,
		Max: max(lo, hi),
		rng: rand.New(rand.NewPCG(seed, seed^0x2545F4914F6CDD1D)),
	}
}

// RandCost returns a random memory cost.
func (m *MemCost) RandCost() uint32 {
	if m.Max == m.Min {
		return m.Min
	}
	return m.Min + m.rng.Uint32N(m.Max-m.Min+1)
}
