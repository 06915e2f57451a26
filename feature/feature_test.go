package feature_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/feature"
)

var _ = Describe("Feature", func() {
	Describe("Parse", func() {
		It("should set xlen from the prefix", func() {
			f, err := feature.Parse("RV32I", 1, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.XLEN()).To(Equal(32))
			Expect(f.IsRV32()).To(BeTrue())
			Expect(f.IsRV64()).To(BeFalse())

			f, err = feature.Parse("RV64I", 1, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.XLEN()).To(Equal(64))
		})

		It("should expand G into its implied extensions", func() {
			f, err := feature.Parse("RV64GC", 1, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Has(feature.FlagI | feature.FlagM | feature.FlagA)).To(BeTrue())
			Expect(f.Has(feature.FlagF | feature.FlagD)).To(BeTrue())
			Expect(f.Has(feature.FlagZicsr | feature.FlagZifencei)).To(BeTrue())
			Expect(f.HasCompressed()).To(BeTrue())
		})

		It("should imply F and Zicsr from D", func() {
			f, err := feature.Parse("RV32ID", 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Has(feature.FlagD)).To(BeTrue())
			Expect(f.Has(feature.FlagF)).To(BeTrue())
			Expect(f.Has(feature.FlagZicsr)).To(BeTrue())
		})

		It("should accept underscore separated multi-letter extensions", func() {
			f, err := feature.Parse("RV64IMAC_Zicsr_Zifencei", 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Has(feature.FlagZifencei)).To(BeTrue())
			Expect(f.Has(feature.FlagF)).To(BeFalse())
		})

		It("should match tokens case-insensitively", func() {
			f, err := feature.Parse("rv64imafdc", 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Has(feature.FlagD | feature.FlagC)).To(BeTrue())
		})

		It("should reject out-of-order extensions", func() {
			_, err := feature.Parse("RV64IMCA", 1, 1)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("out of canonical order"))
		})

		It("should reject unknown extensions", func() {
			_, err := feature.Parse("RV64IX", 1, 1)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unknown extension"))
		})

		It("should reject extensions with no instructions behind them", func() {
			for _, machine := range []string{"RV64GCV", "RV32E", "RV64GQ", "RV64GC_Zfa"} {
				_, err := feature.Parse(machine, 1, 1)
				Expect(err).To(MatchError(ContainSubstring("not implemented")), machine)
			}
		})

		It("should expand B into its bit-manipulation parts", func() {
			f, err := feature.Parse("RV64IMB", 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Has(feature.FlagZba | feature.FlagZbb | feature.FlagZbs)).To(BeTrue())
		})

		It("should accept the conditional and bit-manipulation extensions", func() {
			f, err := feature.Parse("RV32IM_Zicond_Zba_Zbb", 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Has(feature.FlagZicond | feature.FlagZba | feature.FlagZbb)).To(BeTrue())
			Expect(f.Has(feature.FlagZbs)).To(BeFalse())
		})

		It("should reject a missing prefix", func() {
			_, err := feature.Parse("IMAFD", 1, 1)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a machine with no base ISA", func() {
			_, err := feature.Parse("RV64MA", 1, 1)
			Expect(err).To(HaveOccurred())
		})

		It("should reject an inverted cost range", func() {
			_, err := feature.Parse("RV64I", 10, 1)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Accessors", func() {
		It("should expose the cost range and machine", func() {
			f, err := feature.Parse("RV64IMA", 2, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.MinCost()).To(Equal(uint32(2)))
			Expect(f.MaxCost()).To(Equal(uint32(7)))
			Expect(f.Machine()).To(Equal("RV64IMA"))
		})

		It("should render the canonical string", func() {
			f, err := feature.Parse("RV64GC", 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.String()).To(Equal("RV64IMAFDC_Zicsr_Zifencei"))
		})
	})
})
