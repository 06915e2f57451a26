// Package feature parses RISC-V machine-model strings such as "RV64GC" into
// an immutable capability descriptor.
package feature

import (
	"fmt"
	"strings"
)

// Flag is one ISA extension bit.
type Flag uint32

// Extension flags.
const (
	FlagI Flag = 1 << iota
	FlagE
	FlagM
	FlagA
	FlagF
	FlagD
	FlagQ
	FlagL
	FlagC
	FlagB
	FlagJ
	FlagT
	FlagP
	FlagV
	FlagN
	FlagH
	FlagZicsr
	FlagZifencei
	FlagZicntr
	FlagZam
	FlagZfa
	FlagZtso
	FlagZicond
	FlagZba
	FlagZbb
	FlagZbs
)

// token is one entry of the canonical extension ordering. own is the flag
// the token names; implied holds the flags it drags in. Tokens without
// instructions behind them are recognised so that ordering errors stay
// precise, but a machine naming one is rejected.
type token struct {
	name          string
	own           Flag
	implied       Flag
	unimplemented bool
}

// canonical lists extension tokens in the only order they may appear.
var canonical = []token{
	{"I", FlagI, 0, false},
	{"E", FlagE, 0, true},
	{"M", FlagM, 0, false},
	{"A", FlagA, 0, false},
	{"F", FlagF, FlagZicsr, false},
	{"D", FlagD, FlagF | FlagZicsr, false},
	{"G", 0, FlagI | FlagM | FlagA | FlagF | FlagD | FlagZicsr | FlagZifencei, false},
	{"Q", FlagQ, FlagD | FlagF | FlagZicsr, true},
	{"L", FlagL, 0, true},
	{"C", FlagC, 0, false},
	{"B", FlagB, FlagZba | FlagZbb | FlagZbs, false},
	{"J", FlagJ, 0, true},
	{"T", FlagT, 0, true},
	{"P", FlagP, 0, true},
	{"V", FlagV, FlagD | FlagF | FlagZicsr, true},
	{"N", FlagN, 0, true},
	{"H", FlagH, 0, true},
	{"Zicsr", FlagZicsr, 0, false},
	{"Zifencei", FlagZifencei, 0, false},
	{"Zicntr", FlagZicntr, FlagZicsr, false},
	{"Zicond", FlagZicond, 0, false},
	{"Zam", FlagZam, FlagA, false},
	{"Zfa", FlagZfa, FlagF | FlagZicsr, true},
	{"Zba", FlagZba, 0, false},
	{"Zbb", FlagZbb, 0, false},
	{"Zbs", FlagZbs, 0, false},
	{"Ztso", FlagZtso, 0, false},
}

// Feature describes the capabilities of one core. It is immutable once
// returned by Parse.
type Feature struct {
	machine string
	flags   Flag
	xlen    int
	minCost uint32
	maxCost uint32
}

// Parse builds a Feature from a machine string. minCost and maxCost bound
// the random memory latency applied by the core.
func Parse(machine string, minCost, maxCost uint32) (*Feature, error) {
	if minCost > maxCost {
		return nil, fmt.Errorf("machine %q: min cost %d exceeds max cost %d",
			machine, minCost, maxCost)
	}

	f := &Feature{machine: machine, minCost: minCost, maxCost: maxCost}

	upper := strings.ToUpper(machine)
	switch {
	case strings.HasPrefix(upper, "RV32"):
		f.xlen = 32
	case strings.HasPrefix(upper, "RV64"):
		f.xlen = 64
	default:
		return nil, fmt.Errorf("machine %q: missing RV32/RV64 prefix", machine)
	}

	if err := f.parseExtensions(machine[4:]); err != nil {
		return nil, fmt.Errorf("machine %q: %w", machine, err)
	}

	if f.flags&FlagI == 0 {
		return nil, fmt.Errorf("machine %q: no base integer ISA (I or G)", machine)
	}

	return f, nil
}

func (f *Feature) parseExtensions(arch string) error {
	next := 0
	pos := 0

	for pos < len(arch) {
		if arch[pos] == '_' {
			pos++
			continue
		}

		idx, n := longestMatch(arch[pos:], next)
		if idx < 0 {
			if earlier, _ := longestMatch(arch[pos:], 0); earlier >= 0 {
				return fmt.Errorf("extension %q out of canonical order at offset %d",
					canonical[earlier].name, pos+4)
			}
			return fmt.Errorf("unknown extension at offset %d: %q", pos+4, arch[pos:])
		}

		if canonical[idx].unimplemented {
			return fmt.Errorf("extension %q at offset %d is not implemented",
				canonical[idx].name, pos+4)
		}
		f.flags |= canonical[idx].own | canonical[idx].implied
		next = idx + 1
		pos += n
	}

	return nil
}

// longestMatch finds the longest canonical token at the start of s whose
// table index is at least from. It returns the index and the matched
// length, or -1.
func longestMatch(s string, from int) (int, int) {
	best, bestLen := -1, 0
	for i := from; i < len(canonical); i++ {
		name := canonical[i].name
		if len(name) <= bestLen || len(name) > len(s) {
			continue
		}
		if strings.EqualFold(s[:len(name)], name) {
			best, bestLen = i, len(name)
		}
	}
	return best, bestLen
}

// Machine returns the string the feature was parsed from.
func (f *Feature) Machine() string { return f.machine }

// XLEN returns the integer register width in bits.
func (f *Feature) XLEN() int { return f.xlen }

// Flags returns the full extension bitmask.
func (f *Feature) Flags() Flag { return f.flags }

// Has reports whether every flag in mask is enabled.
func (f *Feature) Has(mask Flag) bool { return f.flags&mask == mask }

// IsRV32 reports a 32-bit machine.
func (f *Feature) IsRV32() bool { return f.xlen == 32 }

// IsRV64 reports a 64-bit machine.
func (f *Feature) IsRV64() bool { return f.xlen == 64 }

// HasCompressed reports whether 16-bit instructions are enabled.
func (f *Feature) HasCompressed() bool { return f.Has(FlagC) }

// MinCost returns the minimum memory cost in cycles.
func (f *Feature) MinCost() uint32 { return f.minCost }

// MaxCost returns the maximum memory cost in cycles.
func (f *Feature) MaxCost() uint32 { return f.maxCost }

// String renders the enabled feature set in canonical order.
func (f *Feature) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RV%d", f.xlen)
	for _, t := range canonical {
		if t.own == 0 || f.flags&t.own == 0 {
			continue
		}
		if len(t.name) > 1 {
			sb.WriteByte('_')
		}
		sb.WriteString(t.name)
	}
	return sb.String()
}
