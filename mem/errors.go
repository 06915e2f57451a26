package mem

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHeapExhausted is returned when an allocation would grow the heap past
// its ceiling.
var ErrHeapExhausted = errors.New("heap exhausted")

// SegFaultError reports an access outside every live segment.
type SegFaultError struct {
	Addr     uint64
	Segments []string
}

func (e *SegFaultError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "segmentation fault at 0x%x; live segments:", e.Addr)
	for _, s := range e.Segments {
		sb.WriteString("\n  ")
		sb.WriteString(s)
	}
	return sb.String()
}

// HeapError reports a deallocation that does not match the segment lists.
type HeapError struct {
	Op     string
	Addr   uint64
	Size   uint64
	Reason string
}

func (e *HeapError) Error() string {
	return fmt.Sprintf("%s(0x%x, %d): %s", e.Op, e.Addr, e.Size, e.Reason)
}
