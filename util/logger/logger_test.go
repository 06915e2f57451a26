package logger_test

import (
	"bytes"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/util/logger"
)

var _ = Describe("LogHandler", func() {
	var file, console *bytes.Buffer

	BeforeEach(func() {
		file = new(bytes.Buffer)
		console = new(bytes.Buffer)
	})

	It("should format records with their attributes", func() {
		log := slog.New(logger.NewHandler(file, console, nil, false))
		log.Info("thread exited", "tid", 2, "code", 0)

		Expect(file.String()).To(MatchRegexp(`^\d{4}/\d\d/\d\d \d\d:\d\d:\d\d INFO: thread exited tid=2 code=0\n$`))
		Expect(console.String()).To(Equal(file.String()))
	})

	It("should keep debug records off the console by default", func() {
		h := logger.NewHandler(file, console, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
		slog.New(h).Debug("fetch", "pc", "0x10000")

		Expect(file.String()).To(ContainSubstring("DEBUG: fetch pc=0x10000"))
		Expect(console.Len()).To(BeZero())

		h.SetDebug(true)
		slog.New(h).Debug("fetch")
		Expect(console.String()).To(ContainSubstring("DEBUG: fetch"))
	})

	It("should drop records below the level", func() {
		slog.New(logger.NewHandler(file, console, nil, false)).Debug("hidden")
		Expect(file.Len()).To(BeZero())
	})

	It("should carry attributes and groups", func() {
		log := slog.New(logger.NewHandler(file, nil, nil, false)).
			With("core", 1).WithGroup("hart").With("id", 3)
		log.Warn("spin", "pc", 7)

		Expect(file.String()).To(ContainSubstring("WARN: spin core=1 hart.id=3 hart.pc=7"))
	})
})
