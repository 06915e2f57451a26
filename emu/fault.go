package emu

import (
	"fmt"
	"math/bits"
	"math/rand/v2"
	"strings"

	"github.com/sarchlab/revsim/insts"
)

// FaultKind is a bitmask of injectable fault classes.
type FaultKind uint8

// Fault classes.
const (
	FaultCrack FaultKind = 1 << iota // corrupt the next fetched word
	FaultMem                         // corrupt the next memory read
	FaultReg                         // corrupt a register of the running thread
	FaultALU                         // corrupt the next result written to rd

	FaultAll = FaultCrack | FaultMem | FaultReg | FaultALU
)

var faultNames = map[string]FaultKind{
	"crack": FaultCrack,
	"mem":   FaultMem,
	"reg":   FaultReg,
	"alu":   FaultALU,
	"all":   FaultAll,
}

// ParseFaultKinds parses a comma separated list such as "crack,alu".
func ParseFaultKinds(s string) (FaultKind, error) {
	var k FaultKind
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		v, ok := faultNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown fault kind %q", name)
		}
		k |= v
	}
	return k, nil
}

func (k FaultKind) String() string {
	var names []string
	for _, n := range []string{"crack", "mem", "reg", "alu"} {
		if k&faultNames[n] != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, ",")
}

// FaultInjector fires exactly one fault at or after a trigger cycle. Crack
// and ALU faults are armed when they fire and consumed by the next decode
// or execute.
type FaultInjector struct {
	kinds FaultKind
	width uint
	cycle uint64
	rng   *rand.Rand

	fired      bool
	crackArmed bool
	aluArmed   bool
}

// NewFaultInjector creates an injector flipping width bits per fault.
func NewFaultInjector(kinds FaultKind, width uint, cycle, seed uint64) (*FaultInjector, error) {
	if kinds == 0 {
		return nil, fmt.Errorf("fault injector: no fault kinds enabled")
	}
	if width == 0 || width > 64 {
		return nil, fmt.Errorf("fault injector: width %d outside [1, 64]", width)
	}
	return &FaultInjector{
		kinds: kinds,
		width: width,
		cycle: cycle,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}, nil
}

// Width returns the number of bits each fault flips.
func (f *FaultInjector) Width() uint { return f.width }

// Tick returns the fault class that fires at cycle, or zero. Mem and reg
// faults must be applied by the caller immediately.
func (f *FaultInjector) Tick(cycle uint64) FaultKind {
	if f.fired || cycle < f.cycle {
		return 0
	}
	f.fired = true

	choices := make([]FaultKind, 0, 4)
	for k := FaultCrack; k <= FaultALU; k <<= 1 {
		if f.kinds&k != 0 {
			choices = append(choices, k)
		}
	}
	kind := choices[f.rng.IntN(len(choices))]

	switch kind {
	case FaultCrack:
		f.crackArmed = true
	case FaultALU:
		f.aluArmed = true
	}
	return kind
}

// Flip inverts width distinct random bits among the low size bits of v.
func (f *FaultInjector) Flip(v uint64, size uint) uint64 {
	n := min(f.width, size)
	var m uint64
	for uint(bits.OnesCount64(m)) < n {
		m |= 1 << f.rng.UintN(size)
	}
	return v ^ m
}

// CrackWord corrupts w if a crack fault is armed.
func (f *FaultInjector) CrackWord(w uint32) uint32 {
	if !f.crackArmed {
		return w
	}
	f.crackArmed = false
	return uint32(f.Flip(uint64(w), 32))
}

// CorruptResult corrupts the destination of an executed instruction if an
// ALU fault is armed.
func (f *FaultInjector) CorruptResult(regs *RegFile, class insts.RegClass, rd uint8) bool {
	if !f.aluArmed {
		return false
	}
	f.aluArmed = false

	switch class {
	case insts.RegGPR:
		regs.SetX(rd, f.Flip(regs.GetX(rd), uint(regs.XLEN())))
	case insts.RegFloat:
		regs.SetF64(rd, f.Flip(regs.GetF64(rd), 64))
	}
	return true
}

// CorruptRegister flips bits in a random integer register other than x0.
func (f *FaultInjector) CorruptRegister(regs *RegFile) uint8 {
	reg := uint8(1 + f.rng.IntN(31))
	regs.SetX(reg, f.Flip(regs.GetX(reg), uint(regs.XLEN())))
	return reg
}
