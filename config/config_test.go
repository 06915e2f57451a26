package config_test

import (
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/config"
	"github.com/sarchlab/revsim/emu"
)

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("should validate the defaults", func() {
		cfg := config.DefaultConfig()
		Expect(cfg.Validate()).To(Succeed())

		f, err := cfg.Feature()
		Expect(err).NotTo(HaveOccurred())
		Expect(f.XLEN()).To(Equal(64))
		Expect(f.HasCompressed()).To(BeTrue())
	})

	DescribeTable("should reject invalid settings",
		func(mutate func(*config.Config), msg string) {
			cfg := config.DefaultConfig()
			mutate(cfg)
			Expect(cfg.Validate()).To(MatchError(ContainSubstring(msg)))
		},
		Entry("machine", func(c *config.Config) { c.Machine = "RV64MI" }, "machine"),
		Entry("cost bounds", func(c *config.Config) { c.MemCostMin = 5; c.MemCostMax = 2 }, "machine"),
		Entry("cores", func(c *config.Config) { c.NumCores = 0 }, "num_cores"),
		Entry("harts", func(c *config.Config) { c.NumHarts = 33 }, "num_harts"),
		Entry("streams", func(c *config.Config) { c.PrefetchStreams = 1 }, "prefetch_streams"),
		Entry("page size", func(c *config.Config) { c.PageSize = 3000 }, "page_size"),
		Entry("firmware jump", func(c *config.Config) { c.FirmwareJump = 0x10001 }, "firmware_jump"),
		Entry("fault kind", func(c *config.Config) { c.Faults.Kinds = "cosmic" }, "faults"),
		Entry("fault width", func(c *config.Config) { c.Faults = config.FaultConfig{Kinds: "alu", Width: 0} }, "faults.width"),
		Entry("costs", func(c *config.Config) { c.Costs.Load = 0 }, "costs"),
	)

	It("should round-trip through JSON", func() {
		path := filepath.Join(dir, "run.json")
		cfg := config.DefaultConfig()
		cfg.NumHarts = 4
		cfg.Faults = config.FaultConfig{Kinds: "crack,alu", Width: 3, Cycle: 100}
		cfg.Costs.Divide = 40
		Expect(cfg.SaveConfig(path)).To(Succeed())

		loaded, err := config.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cmp.Diff(cfg, loaded)).To(BeEmpty())
	})

	It("should round-trip through YAML", func() {
		path := filepath.Join(dir, "run.yaml")
		cfg := config.DefaultConfig()
		cfg.Machine = "RV32IMAC"
		cfg.FirmwareJump = 0x10000
		Expect(cfg.SaveConfig(path)).To(Succeed())

		loaded, err := config.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cmp.Diff(cfg, loaded)).To(BeEmpty())
	})

	It("should fill missing fields with defaults", func() {
		path := filepath.Join(dir, "partial.yml")
		Expect(os.WriteFile(path, []byte("machine: RV32I\nnum_harts: 2\n"), 0644)).To(Succeed())

		loaded, err := config.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())

		want := config.DefaultConfig()
		want.Machine = "RV32I"
		want.NumHarts = 2
		Expect(cmp.Diff(want, loaded)).To(BeEmpty())
	})

	It("should report parse errors", func() {
		path := filepath.Join(dir, "bad.json")
		Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())
		_, err := config.LoadConfig(path)
		Expect(err).To(MatchError(ContainSubstring("failed to parse config")))

		_, err = config.LoadConfig(filepath.Join(dir, "missing.json"))
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
	})

	It("should clone deeply", func() {
		cfg := config.DefaultConfig()
		clone := cfg.Clone()
		Expect(cmp.Diff(cfg, clone)).To(BeEmpty())

		clone.Costs.ALU = 9
		clone.Faults.Width = 9
		Expect(cfg.Costs.ALU).To(Equal(uint32(1)))
		Expect(cfg.Faults.Width).To(Equal(uint(1)))
	})

	It("should expose derived settings", func() {
		cfg := config.DefaultConfig()
		cfg.Faults.Kinds = "mem,reg"
		kinds, err := cfg.FaultKinds()
		Expect(err).NotTo(HaveOccurred())
		Expect(kinds).To(Equal(emu.FaultMem | emu.FaultReg))

		Expect(cfg.MemConfig().TLBSize).To(Equal(cfg.TLBSize))
		Expect(cfg.PrefetchConfig().Streams).To(Equal(cfg.PrefetchStreams))
	})
})
