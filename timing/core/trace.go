package core

import (
	"fmt"
	"io"
)

// TraceRecord describes one executed instruction.
type TraceRecord struct {
	Cycle    uint64
	Core     int
	Hart     int
	TID      uint32
	PC       uint64
	Raw      uint32
	Size     uint8
	Mnemonic string
}

// Tracer receives a record per executed instruction.
type Tracer interface {
	Trace(r TraceRecord)
}

// TextTracer writes one line per instruction.
type TextTracer struct {
	w   io.Writer
	err error
}

// NewTextTracer creates a tracer writing to w.
func NewTextTracer(w io.Writer) *TextTracer {
	return &TextTracer{w: w}
}

// Trace implements Tracer. The first write error stops tracing.
func (t *TextTracer) Trace(r TraceRecord) {
	if t.err != nil {
		return
	}
	word := fmt.Sprintf("%08x", r.Raw)
	if r.Size == 2 {
		word = fmt.Sprintf("    %04x", r.Raw)
	}
	_, t.err = fmt.Fprintf(t.w, "%10d c%d h%d t%d 0x%08x %s %s\n",
		r.Cycle, r.Core, r.Hart, r.TID, r.PC, word, r.Mnemonic)
}

// Err returns the first write error.
func (t *TextTracer) Err() error { return t.err }
