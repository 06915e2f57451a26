package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Command line", func() {
	var usage *bytes.Buffer

	BeforeEach(func() {
		usage = &bytes.Buffer{}
	})

	It("should split options from the guest command line", func() {
		o, err := parseArgs([]string{"revsim", "-m", "RV32IMC", "--harts", "4",
			"--max-cycles", "1000", "-f", "prog.elf", "a", "b"}, usage)
		Expect(err).NotTo(HaveOccurred())
		Expect(o.machine).To(Equal("RV32IMC"))
		Expect(o.harts).To(Equal(4))
		Expect(o.maxCycles).To(Equal(uint64(1000)))
		Expect(o.functional).To(BeTrue())
		Expect(o.program).To(Equal("prog.elf"))
		Expect(o.argv).To(Equal([]string{"prog.elf", "a", "b"}))
	})

	It("should print usage on request", func() {
		_, err := parseArgs([]string{"revsim", "-h"}, usage)
		Expect(errors.Is(err, errHelp)).To(BeTrue())
		Expect(usage.String()).To(ContainSubstring("--machine"))
	})

	It("should require a program", func() {
		_, err := parseArgs([]string{"revsim", "-d"}, usage)
		Expect(err).To(HaveOccurred())
		Expect(usage.Len()).To(BeNumerically(">", 0))
	})

	It("should reject unknown options", func() {
		_, err := parseArgs([]string{"revsim", "--bogus", "prog.elf"}, usage)
		Expect(err).To(HaveOccurred())
	})

	Describe("configuration", func() {
		It("should apply overrides on top of the defaults", func() {
			o := &options{machine: "RV64IMAC", cores: 2, harts: 3, maxCycles: 50}
			cfg, err := o.loadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Machine).To(Equal("RV64IMAC"))
			Expect(cfg.NumCores).To(Equal(2))
			Expect(cfg.NumHarts).To(Equal(3))
			Expect(cfg.MaxCycles).To(Equal(uint64(50)))
		})

		It("should let the command line win over the file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "run.yaml")
			Expect(os.WriteFile(path, []byte("num_cores: 4\nnum_harts: 2\n"), 0o644)).To(Succeed())

			o := &options{config: path, harts: 8}
			cfg, err := o.loadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.NumCores).To(Equal(4))
			Expect(cfg.NumHarts).To(Equal(8))
		})

		It("should reject an invalid machine", func() {
			o := &options{machine: "XYZ"}
			_, err := o.loadConfig()
			Expect(err).To(HaveOccurred())
		})
	})

	It("should fail when the program cannot be loaded", func() {
		o := &options{program: filepath.Join(GinkgoT().TempDir(), "missing.elf")}
		_, err := run(o, slog.Default(), streams{out: &bytes.Buffer{}, err: &bytes.Buffer{}})
		Expect(err).To(HaveOccurred())
	})
})
