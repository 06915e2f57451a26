package mem

import (
	"encoding/binary"
	"fmt"
)

// NoHart marks accesses made by the host rather than a guest hart.
const NoHart = -1

func (m *Memory) pageMask() uint64 { return m.cfg.PageSize - 1 }

// translate resolves a virtual address to a physical one, validating it
// against the live segments on a TLB miss and assigning a physical page on
// first touch.
func (m *Memory) translate(vaddr uint64) (uint64, error) {
	vPage := vaddr >> m.pageShift
	off := vaddr & m.pageMask()

	if phys, ok := m.tlb.Lookup(vPage); ok {
		m.stats.TLBHits++
		return phys<<m.pageShift | off, nil
	}
	m.stats.TLBMisses++

	if _, ok := m.segs.findLive(vaddr, 1); !ok {
		return 0, m.segFault(vaddr)
	}

	pe, ok := m.pageMap[vPage]
	if !ok {
		pe = pageEntry{phys: uint64(len(m.pages)), used: true}
		m.pages = append(m.pages, make([]byte, m.cfg.PageSize))
		m.pageMap[vPage] = pe
	}

	if evicted, did := m.tlb.Insert(vPage, pe.phys); did {
		m.logger.Debug("tlb eviction", "vpage", fmt.Sprintf("0x%x", evicted))
	}

	return pe.phys<<m.pageShift | off, nil
}

func (m *Memory) segFault(addr uint64) error {
	e := &SegFaultError{Addr: addr}
	for _, kind := range []SegKind{SegStatic, SegThread, SegHeap} {
		for _, s := range m.segs.sorted(kind) {
			e.Segments = append(e.Segments, kind.String()+" "+s.String())
		}
	}
	return e
}

// read copies len(buf) bytes starting at addr, one page piece at a time.
func (m *Memory) read(addr uint64, buf []byte) error {
	for len(buf) > 0 {
		phys, err := m.translate(addr)
		if err != nil {
			return err
		}
		page := m.pages[phys>>m.pageShift]
		n := copy(buf, page[phys&m.pageMask():])
		buf = buf[n:]
		addr += uint64(n)
	}
	return nil
}

func (m *Memory) write(hart int, addr uint64, data []byte) error {
	m.breakReservations(hart, addr, uint64(len(data)))
	for len(data) > 0 {
		phys, err := m.translate(addr)
		if err != nil {
			return err
		}
		page := m.pages[phys>>m.pageShift]
		n := copy(page[phys&m.pageMask():], data)
		data = data[n:]
		addr += uint64(n)
	}
	return nil
}

func (m *Memory) fetchUint(addr uint64, size int) (uint64, error) {
	var buf [8]byte
	if size < 1 || size > 8 {
		return 0, fmt.Errorf("unsupported access size %d at 0x%x", size, addr)
	}
	if err := m.read(addr, buf[:size]); err != nil {
		return 0, err
	}
	m.stats.BytesRead += uint64(size)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// readUint is a data read. It consumes an armed fault.
func (m *Memory) readUint(addr uint64, size int) (uint64, error) {
	v, err := m.fetchUint(addr, size)
	if err != nil {
		return 0, err
	}
	if m.faultArmed {
		m.faultArmed = false
		v |= m.rng.Uint64() & mask(m.faultWidth)
		m.logger.Debug("memory fault injected", "addr", fmt.Sprintf("0x%x", addr),
			"width", m.faultWidth)
	}
	if size < 8 {
		v &= mask(uint(size) * 8)
	}
	return v, nil
}

func (m *Memory) writeUint(hart int, addr uint64, size int, v uint64) error {
	var buf [8]byte
	if size < 1 || size > 8 {
		return fmt.Errorf("unsupported access size %d at 0x%x", size, addr)
	}
	binary.LittleEndian.PutUint64(buf[:], v)
	if err := m.write(hart, addr, buf[:size]); err != nil {
		return err
	}
	m.stats.BytesWritten += uint64(size)
	return nil
}

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}

// Read copies len(buf) bytes from addr.
func (m *Memory) Read(addr uint64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.read(addr, buf); err != nil {
		return err
	}
	m.stats.BytesRead += uint64(len(buf))
	return nil
}

// Write copies data to addr on behalf of hart.
func (m *Memory) Write(hart int, addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(hart, addr, data); err != nil {
		return err
	}
	m.stats.BytesWritten += uint64(len(data))
	return nil
}

// ReadUint reads a little-endian value of size bytes, zero-extended.
func (m *Memory) ReadUint(addr uint64, size int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readUint(addr, size)
}

// FetchUint reads an instruction word of size bytes. Unlike ReadUint it
// never takes an armed fault.
func (m *Memory) FetchUint(addr uint64, size int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchUint(addr, size)
}

// WriteUint writes the low size bytes of v.
func (m *Memory) WriteUint(hart int, addr uint64, size int, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeUint(hart, addr, size, v)
}

// ReadFloat reads the raw bits of a 4- or 8-byte floating-point value.
func (m *Memory) ReadFloat(addr uint64, size int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size == 8 {
		m.stats.DoublesRead++
	} else {
		m.stats.FloatsRead++
	}
	return m.readUint(addr, size)
}

// WriteFloat writes the raw bits of a 4- or 8-byte floating-point value.
func (m *Memory) WriteFloat(hart int, addr uint64, size int, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size == 8 {
		m.stats.DoublesWritten++
	} else {
		m.stats.FloatsWritten++
	}
	return m.writeUint(hart, addr, size, v)
}

// ReadString reads a NUL-terminated string of at most limit bytes.
func (m *Memory) ReadString(addr uint64, limit int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]byte, 0, 64)
	var b [1]byte
	for len(out) < limit {
		if err := m.read(addr+uint64(len(out)), b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
	}
	m.stats.BytesRead += uint64(len(out))
	return string(out), nil
}
