package core_test

import (
	"bytes"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/timing/core"
	"github.com/sarchlab/revsim/timing/latency"
)

var _ = Describe("Core", func() {
	var (
		m    *mem.Memory
		tids *emu.TIDAllocator
	)

	BeforeEach(func() {
		m = newTestMemory()
		tids = emu.NewTIDAllocator()
	})

	newCore := func(f *feature.Feature, cfg core.Config, opts ...core.Option) *core.Core {
		opts = append([]core.Option{core.WithTIDAllocator(tids)}, opts...)
		c, err := core.New(cfg, f, m, opts...)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	boot := func(machine string, words []uint32, opts ...core.Option) (*core.Core, *emu.Thread) {
		f := parse(machine)
		loadAt(m, codeBase, words)
		c := newCore(f, defaultConfig(1), opts...)
		root := newThread(f, m, tids, 0, codeBase)
		Expect(c.AssignThread(0, root)).To(Succeed())
		return c, root
	}

	Describe("Construction", func() {
		It("should reject a core without harts", func() {
			_, err := core.New(core.Config{}, parse("RV64I"), m)
			Expect(err).To(MatchError(ContainSubstring("hart count")))
		})

		It("should reject a prefetcher with a single stream", func() {
			cfg := defaultConfig(1)
			cfg.Prefetch.Streams = 1
			_, err := core.New(cfg, parse("RV64I"), m)
			Expect(err).To(HaveOccurred())
		})

		It("should reject an odd firmware jump address", func() {
			cfg := defaultConfig(1)
			cfg.FirmwareJump = 0x10001
			_, err := core.New(cfg, parse("RV64I"), m)
			Expect(err).To(MatchError(ContainSubstring("firmware jump")))
		})
	})

	Describe("Hart assignment", func() {
		It("should track idle harts", func() {
			f := parse("RV64I")
			c := newCore(f, defaultConfig(3))
			Expect(c.IdleHarts()).To(Equal([]int{0, 1, 2}))
			Expect(c.HasNoWork()).To(BeTrue())

			Expect(c.AssignThread(0, newThread(f, m, tids, 0, codeBase))).To(Succeed())
			Expect(c.IdleHarts()).To(Equal([]int{1, 2}))
			i, ok := c.FindIdleHart()
			Expect(ok).To(BeTrue())
			Expect(i).To(Equal(1))
			Expect(c.HasNoWork()).To(BeFalse())
		})

		It("should refuse a busy hart", func() {
			f := parse("RV64I")
			c := newCore(f, defaultConfig(1))
			Expect(c.AssignThread(0, newThread(f, m, tids, 0, codeBase))).To(Succeed())
			Expect(c.AssignThread(0, newThread(f, m, tids, 0, codeBase))).
				To(MatchError(ContainSubstring("busy")))
			Expect(c.AssignThread(4, newThread(f, m, tids, 0, codeBase))).To(HaveOccurred())

			_, ok := c.FindIdleHart()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Execution", func() {
		It("should run a program to its exit code", func() {
			c, root := boot("RV64IM", program([]uint32{
				addi(a1, zero, 6),
				addi(a2, zero, 7),
				mul(a0, a1, a2),
			}, exitWith()))

			changes, err := run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Halted()).To(BeTrue())
			Expect(c.ExitCode()).To(Equal(int64(42)))
			Expect(c.Stats().Retired).To(Equal(uint64(5)))
			Expect(root.State).To(Equal(emu.ThreadDone))
			Expect(changes).To(ConsistOf(root))

			_, ok := c.Thread(root.ID)
			Expect(ok).To(BeFalse())
		})

		It("should stop ticking once halted", func() {
			c, _ := boot("RV64I", program([]uint32{addi(a0, zero, 1)}, exitWith()))
			_, err := run(c, 1000)
			Expect(err).NotTo(HaveOccurred())

			cycles := c.Stats().Cycles
			busy, err := c.ClockTick(cycles)
			Expect(err).NotTo(HaveOccurred())
			Expect(busy).To(BeFalse())
			Expect(c.Stats().Cycles).To(Equal(cycles))
		})

		It("should exit through a jump to address zero", func() {
			c, _ := boot("RV64I", []uint32{
				addi(a0, zero, 3),
				encI(opJALR, 0, zero, zero, 0),
			})
			_, err := run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Halted()).To(BeTrue())
			Expect(c.ExitCode()).To(Equal(int64(3)))
		})

		It("should complete queued writes when the root exits", func() {
			f := parse("RV64IM")
			table, exts, err := emu.BuildTable(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(table.SetCost("mul", 200)).To(BeTrue())

			c, root := boot("RV64IM", []uint32{
				mul(t0, t1, t2),
				ecall,
			}, core.WithTable(table, exts))
			root.Regs.SetX(a0, 4)
			root.Regs.SetX(a7, 93)

			_, err = run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ExitCode()).To(Equal(int64(4)))
			Expect(c.Stats().Cycles).To(BeNumerically("<", 200))
			Expect(c.Pending()).To(BeZero())
			Expect(c.Stats().DrainedWrites).To(Equal(uint64(1)))
			Expect(root.Regs.AnyBusy()).To(BeFalse())
			Expect(c.HasNoWork()).To(BeTrue())
		})

		It("should charge configured costs", func() {
			f := parse("RV64IM")
			table, exts, err := emu.BuildTable(f)
			Expect(err).NotTo(HaveOccurred())
			cheap := program([]uint32{mul(a0, a1, a2)}, exitWith())

			c1, _ := boot("RV64IM", cheap, core.WithTable(table, exts))
			_, err = run(c1, 1000)
			Expect(err).NotTo(HaveOccurred())
			base := c1.Stats().Cycles

			table2, exts2, err := emu.BuildTable(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(table2.SetCost("mul", 20)).To(BeTrue())
			c2, _ := boot("RV64IM", cheap, core.WithTable(table2, exts2))
			_, err = run(c2, 1000)
			Expect(err).NotTo(HaveOccurred())

			Expect(c2.Stats().Cycles).To(BeNumerically(">=", base+19))
			Expect(c2.Stats().Retired).To(Equal(c1.Stats().Retired))
		})

		It("should add random memory latency to loads", func() {
			words := program([]uint32{
				encU(opLUI, a1, dataBase),
				encI(opLoad, 0b011, a0, a1, 0), // ld a0, 0(a1)
			}, exitWith())

			c1, _ := boot("RV64I", words)
			_, err := run(c1, 1000)
			Expect(err).NotTo(HaveOccurred())

			c2, _ := boot("RV64I", words, core.WithMemCost(latency.NewMemCost(10, 10, 1)))
			_, err = run(c2, 1000)
			Expect(err).NotTo(HaveOccurred())

			Expect(c2.Stats().Cycles).To(BeNumerically(">", c1.Stats().Cycles+10))
		})

		It("should invalidate fetched words on fence.i", func() {
			c, _ := boot("RV64GC", program([]uint32{
				0x0000100F, // fence.i
				addi(a0, zero, 0),
			}, exitWith()))
			_, err := run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Hart(0).Prefetcher().Stats().Fills).To(BeNumerically(">=", 2))
		})

		It("should count floating-point instructions", func() {
			c, _ := boot("RV64GC", program([]uint32{
				addi(a0, zero, 2),
				encR(0b1010011, 0b111, 0b1101000, 0, a0, 0), // fcvt.s.w f0, a0
				encR(0b1010011, 0b111, 0b0000000, 1, 0, 0),  // fadd.s f1, f0, f0
				addi(a0, zero, 0),
			}, exitWith()))
			_, err := run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Stats().FloatsExec).To(Equal(uint64(2)))
		})
	})

	Describe("Errors", func() {
		It("should surface illegal instructions with the hart", func() {
			c, _ := boot("RV64I", []uint32{0xFFFFFFFF})
			_, err := run(c, 1000)

			var ill *insts.IllegalInstructionError
			Expect(errors.As(err, &ill)).To(BeTrue())
			Expect(ill.PC).To(Equal(uint64(codeBase)))
			Expect(err.Error()).To(ContainSubstring("core 0 hart 0"))
		})

		It("should surface fetches from unmapped memory", func() {
			c, _ := boot("RV64I", []uint32{encI(opJALR, 0, zero, a1, 0)}) // jr a1
			t, _ := c.Thread(1)
			t.Regs.SetX(a1, 0x500000)
			_, err := run(c, 1000)

			var sf *mem.SegFaultError
			Expect(errors.As(err, &sf)).To(BeTrue())
			Expect(sf.Addr).To(Equal(uint64(0x500000)))
		})

		It("should surface unknown ecalls", func() {
			c, _ := boot("RV64I", []uint32{addi(a7, zero, 999), ecall})
			_, err := run(c, 1000)
			Expect(err).To(MatchError(emu.ErrUnknownEcall))
		})
	})

	Describe("Scoreboard", func() {
		It("should stall on writes queued behind another hart and clear every bit", func() {
			f := parse("RV64IM")
			table, exts, err := emu.BuildTable(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(table.SetCost("mul", 6)).To(BeTrue())

			loadAt(m, codeBase, program([]uint32{
				addi(a1, zero, 6),
				addi(a2, zero, 7),
				mul(a0, a1, a2),
				addi(a3, zero, 20),
				addi(a3, a3, -1),
				encB(0b001, a3, zero, -4), // bne a3, zero, -4
			}, exitWith()))
			loadAt(m, codeBase+0x100, program([]uint32{
				addi(a0, zero, 1),
				addi(a0, a0, 1),
				addi(a0, a0, 1),
			}, exitWith()))

			c := newCore(f, defaultConfig(2), core.WithTable(table, exts))
			root := newThread(f, m, tids, 0, codeBase)
			child := newThread(f, m, tids, root.ID, codeBase+0x100)
			Expect(c.AssignThread(0, root)).To(Succeed())
			Expect(c.AssignThread(1, child)).To(Succeed())

			_, err = run(c, 10000)
			Expect(err).NotTo(HaveOccurred())

			s := c.Stats()
			Expect(c.ExitCode()).To(Equal(int64(42)))
			Expect(child.State).To(Equal(emu.ThreadDone))
			Expect(child.ExitCode).To(Equal(int64(3)))
			Expect(s.Retired).To(Equal(uint64(51)))
			Expect(s.Retired).To(BeNumerically("<=", s.Cycles))
			Expect(s.CyclesIdlePipeline).To(BeNumerically(">", 0))

			Expect(root.Regs.AnyBusy()).To(BeFalse())
			Expect(child.Regs.AnyBusy()).To(BeFalse())
		})
	})

	Describe("Threads", func() {
		It("should run a cloned child before its parent and reap it", func() {
			c, root := boot("RV64I", []uint32{
				addi(a0, zero, 0),
				addi(a1, zero, 0),
				addi(a7, zero, 220),
				ecall,
				encB(0b001, a0, zero, 16),
				addi(a0, zero, 7),
				addi(a7, zero, 93),
				ecall,
				addi(s0, a0, 0),
				encU(opLUI, a1, dataBase),
				addi(a2, zero, 0),
				addi(a7, zero, 260),
				ecall,
				encI(opLoad, 0b010, a0, a1, 0), // lw a0, 0(a1)
				addi(a7, zero, 93),
				ecall,
			})

			changes, err := run(c, 10000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ExitCode()).To(Equal(int64(7 << 8)))

			childID := root.ID + 1
			Expect(root.Regs.GetX(s0)).To(Equal(uint64(childID)))
			Expect(c.Stats().ContextSwitches).To(Equal(uint64(2)))

			ids := make([]uint32, len(changes))
			for i, t := range changes {
				ids[i] = t.ID
			}
			Expect(ids).To(Equal([]uint32{childID, root.ID, root.ID, childID, root.ID}))
			Expect(changes[3].State).To(Equal(emu.ThreadDone))
			Expect(changes[3].ExitCode).To(Equal(int64(7)))

			_, ok := c.Thread(childID)
			Expect(ok).To(BeFalse())
		})

		It("should release a hart whose thread blocks in wait4", func() {
			f := parse("RV64I")
			loadAt(m, codeBase, []uint32{
				addi(a0, zero, -1),
				addi(a1, zero, 0),
				addi(a2, zero, 0),
				addi(a7, zero, 260),
				ecall,
			})
			loadAt(m, codeBase+0x100, []uint32{encB(0b000, zero, zero, 0)}) // spin

			c := newCore(f, defaultConfig(2))
			root := newThread(f, m, tids, 0, codeBase)
			child := newThread(f, m, tids, root.ID, codeBase+0x100)
			Expect(c.AssignThread(0, root)).To(Succeed())
			Expect(c.AssignThread(1, child)).To(Succeed())

			var changes []*emu.Thread
			for cycle := uint64(0); cycle < 100; cycle++ {
				_, err := c.ClockTick(cycle)
				Expect(err).NotTo(HaveOccurred())
				changes = append(changes, c.TransferStateChanges()...)
			}

			Expect(changes).To(ConsistOf(root))
			Expect(root.State).To(Equal(emu.ThreadBlocked))
			Expect(root.WaitingToJoinTID).To(Equal(child.ID))
			Expect(root.Regs.PC).To(Equal(uint64(codeBase + 16)))
			Expect(c.IdleHarts()).To(Equal([]int{0}))
		})
	})

	Describe("Hart switching", func() {
		It("should not hand a draining parent to the hart of its exiting child", func() {
			f := parse("RV64IM")
			table, exts, err := emu.BuildTable(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(table.SetCost("mul", 200)).To(BeTrue())

			nop := addi(zero, zero, 0)
			// The mul holds the head of the shared retire queue.
			loadAt(m, codeBase, []uint32{
				mul(t0, t1, t2),
				encB(0b000, zero, zero, 0),
			})
			// The parent queues a write behind the mul and then waits.
			loadAt(m, codeBase+0x100, []uint32{nop, nop, nop, addi(s0, s0, 1), ecall})
			loadAt(m, codeBase+0x200, []uint32{nop, nop, nop, nop, nop, nop, nop, nop, ecall})

			c := newCore(f, defaultConfig(3), core.WithTable(table, exts))
			holder := newThread(f, m, tids, 0, codeBase)
			parent := newThread(f, m, tids, 0, codeBase+0x100)
			child := newThread(f, m, tids, parent.ID, codeBase+0x200)
			parent.Regs.SetX(a0, ^uint64(0))
			parent.Regs.SetX(a7, 260)
			child.Regs.SetX(a0, 3)
			child.Regs.SetX(a7, 93)
			Expect(c.AssignThread(0, holder)).To(Succeed())
			Expect(c.AssignThread(1, parent)).To(Succeed())
			Expect(c.AssignThread(2, child)).To(Succeed())

			var changes []*emu.Thread
			for cycle := uint64(0); cycle < 400; cycle++ {
				_, err := c.ClockTick(cycle)
				Expect(err).NotTo(HaveOccurred())
				changes = append(changes, c.TransferStateChanges()...)

				bound := 0
				for i := 0; i < c.NumHarts(); i++ {
					if c.Hart(i).Thread() == parent {
						bound++
					}
				}
				Expect(bound).To(BeNumerically("<=", 1), "cycle %d", cycle)
			}

			Expect(child.State).To(Equal(emu.ThreadDone))
			Expect(parent.State).To(Equal(emu.ThreadBlocked))
			Expect(parent.WaitingToJoinTID).To(Equal(child.ID))
			Expect(parent.Regs.PC).To(Equal(uint64(codeBase + 0x100 + 16)))
			Expect(changes).To(ConsistOf(child, parent))
			Expect(c.IdleHarts()).To(Equal([]int{1, 2}))
		})
	})

	Describe("Firmware jump", func() {
		It("should spin until redirected", func() {
			f := parse("RV64I")
			loadAt(m, codeBase, program([]uint32{addi(a0, zero, 9)}, exitWith()))

			cfg := defaultConfig(1)
			cfg.FirmwareJump = codeBase + 0x800
			c := newCore(f, cfg)
			Expect(c.AssignThread(0, newThread(f, m, tids, 0, cfg.FirmwareJump))).To(Succeed())

			for cycle := uint64(0); cycle < 5; cycle++ {
				busy, err := c.ClockTick(cycle)
				Expect(err).NotTo(HaveOccurred())
				Expect(busy).To(BeTrue())
			}
			Expect(c.Stats().SpinCycles).To(Equal(uint64(5)))
			Expect(c.Stats().Retired).To(BeZero())
			Expect(c.Stats().CyclesIdleTotal).To(Equal(uint64(5)))

			Expect(c.Redirect(0, codeBase)).To(Succeed())
			_, err := run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ExitCode()).To(Equal(int64(9)))
		})

		It("should refuse to redirect an idle hart", func() {
			c := newCore(parse("RV64I"), defaultConfig(1))
			Expect(c.Redirect(0, codeBase)).To(MatchError(emu.ErrNoSuchThread))
		})
	})

	Describe("Tracing", func() {
		It("should write one line per executed instruction", func() {
			buf := new(bytes.Buffer)
			c, _ := boot("RV64I", program([]uint32{addi(a0, zero, 0)}, exitWith()),
				core.WithTracer(core.NewTextTracer(buf)))
			_, err := run(c, 1000)
			Expect(err).NotTo(HaveOccurred())

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			Expect(lines).To(HaveLen(3))
			Expect(lines[0]).To(ContainSubstring("addi"))
			Expect(lines[0]).To(ContainSubstring("0x00010000"))
			Expect(lines[2]).To(ContainSubstring("ecall"))
		})
	})

	Describe("Fault injection", func() {
		It("should corrupt the first result after the trigger cycle", func() {
			faults, err := emu.NewFaultInjector(emu.FaultALU, 1, 0, 7)
			Expect(err).NotTo(HaveOccurred())

			c, _ := boot("RV64I", program([]uint32{addi(a0, zero, 0)}, exitWith()),
				core.WithFaultInjector(faults))
			_, err = run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ExitCode()).NotTo(BeZero())
		})

		It("should corrupt the next data read and not a fetch", func() {
			Expect(m.WriteUint(mem.NoHart, dataBase, 8, 0)).To(Succeed())
			faults, err := emu.NewFaultInjector(emu.FaultMem, 64, 2, 7)
			Expect(err).NotTo(HaveOccurred())

			// The countdown keeps fetching after the fault is armed.
			c, _ := boot("RV64I", program([]uint32{
				addi(a3, zero, 10),
				addi(a3, a3, -1),
				encB(0b001, a3, zero, -4),
				encU(opLUI, a1, dataBase),
				encI(opLoad, 0b011, a0, a1, 0), // ld a0, 0(a1)
			}, exitWith()), core.WithFaultInjector(faults))
			_, err = run(c, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Hart(0).Prefetcher().Stats().Fills).To(BeNumerically(">=", 1))
			Expect(c.ExitCode()).NotTo(BeZero())
		})
	})
})
