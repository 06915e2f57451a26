// Validate decoder performance - measures decode rate and allocations.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
)

var words = []struct {
	word uint32
	text string
}{
	{0x02A58513, "addi a0, a1, 42"},
	{0x00C58533, "add a0, a1, a2"},
	{0x00813503, "ld a0, 8(sp)"},
	{0x02B50533, "mul a0, a0, a1"},
	{0x0505, "c.addi a0, 1"},
}

func main() {
	f, err := feature.Parse("RV64GC", 1, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	table, _, err := emu.BuildTable(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	decoder := insts.NewDecoder(table, f)

	for _, w := range words {
		inst, err := decoder.Decode(w.word, 0x1000)
		if err != nil {
			fmt.Fprintf(os.Stderr, "decode %q: %v\n", w.text, err)
			os.Exit(1)
		}
		fmt.Printf("0x%08x %-16s -> %s\n", w.word, w.text, inst.Mnemonic())
	}

	// Warm up
	for i := 0; i < 1000; i++ {
		_, _ = decoder.Decode(words[0].word, 0x1000)
	}

	runtime.GC()
	var m1, m2 runtime.MemStats
	runtime.ReadMemStats(&m1)

	start := time.Now()
	iterations := 100000
	for i := 0; i < iterations; i++ {
		for _, w := range words {
			_, _ = decoder.Decode(w.word, 0x1000)
		}
	}

	elapsed := time.Since(start)
	runtime.ReadMemStats(&m2)

	totalDecodes := iterations * len(words)
	allocations := m2.Mallocs - m1.Mallocs
	allocatedBytes := m2.TotalAlloc - m1.TotalAlloc

	fmt.Printf("\nDecoder Validation Results:\n")
	fmt.Printf("===========================\n")
	fmt.Printf("Total decode operations: %d\n", totalDecodes)
	fmt.Printf("Time elapsed: %v\n", elapsed)
	fmt.Printf("Decodes per second: %.0f\n", float64(totalDecodes)/elapsed.Seconds())
	fmt.Printf("Allocations per decode: %.3f\n", float64(allocations)/float64(totalDecodes))
	fmt.Printf("Bytes per decode: %.1f\n", float64(allocatedBytes)/float64(totalDecodes))
}
