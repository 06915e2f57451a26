package driver

import (
	"fmt"
	"io"
)

// IPC returns retired instructions per cycle.
func (s Stats) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Retired()) / float64(s.Cycles)
}

func pct(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}

// Report writes a human readable summary of s to w.
func (s Stats) Report(w io.Writer) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("Total Cycles: %d\n", s.Cycles)
	printf("Total Instructions: %d\n", s.Retired())
	printf("IPC: %.3f\n", s.IPC())

	for i, c := range s.Cores {
		printf("\nCore %d:\n", i)
		printf("  Retired:        %d\n", c.Retired)
		printf("  Float ops:      %d\n", c.FloatsExec)
		printf("  Pipeline idle:  %d cycles (%5.1f%%)\n", c.CyclesIdlePipeline, pct(c.CyclesIdlePipeline, c.Cycles))
		printf("  Core idle:      %d cycles (%5.1f%%)\n", c.CyclesIdleTotal, pct(c.CyclesIdleTotal, c.Cycles))
		printf("  Firmware spin:  %d cycles\n", c.SpinCycles)
		printf("  Fetch stalls:   %d\n", c.FetchStalls)
		printf("  Switches:       %d\n", c.ContextSwitches)
	}

	m := s.Memory
	printf("\nMemory:\n")
	printf("  TLB hits:       %d\n", m.TLBHits)
	printf("  TLB misses:     %d (%5.1f%%)\n", m.TLBMisses, pct(m.TLBMisses, m.TLBHits+m.TLBMisses))
	printf("  Bytes read:     %d\n", m.BytesRead)
	printf("  Bytes written:  %d\n", m.BytesWritten)
	printf("  Floats r/w:     %d/%d\n", m.FloatsRead, m.FloatsWritten)
	printf("  Doubles r/w:    %d/%d\n", m.DoublesRead, m.DoublesWritten)
	return err
}
