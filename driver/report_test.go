package driver_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/driver"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/timing/core"
)

var _ = Describe("Stats", func() {
	s := driver.Stats{
		Cycles: 200,
		Cores: []core.Stats{
			{Cycles: 200, Retired: 60, CyclesIdlePipeline: 50, ContextSwitches: 2},
			{Cycles: 200, Retired: 40},
		},
		Memory: mem.Stats{TLBHits: 3, TLBMisses: 1},
	}

	It("should sum retired instructions across cores", func() {
		Expect(s.Retired()).To(Equal(uint64(100)))
		Expect(s.IPC()).To(BeNumerically("~", 0.5, 1e-9))
	})

	It("should report zero IPC before the first cycle", func() {
		Expect(driver.Stats{}.IPC()).To(BeZero())
	})

	It("should print one section per core", func() {
		var buf bytes.Buffer
		Expect(s.Report(&buf)).To(Succeed())

		out := buf.String()
		Expect(out).To(ContainSubstring("Total Instructions: 100"))
		Expect(out).To(ContainSubstring("IPC: 0.500"))
		Expect(out).To(ContainSubstring("Core 1:"))
		Expect(out).To(ContainSubstring("Pipeline idle:  50 cycles ( 25.0%)"))
		Expect(out).To(ContainSubstring("TLB misses:     1 ( 25.0%)"))
	})
})
