package mem

import "fmt"

// AMOOp selects the read-modify-write function of an AMO.
type AMOOp int

// AMO functions.
const (
	AMOSwap AMOOp = iota
	AMOAdd
	AMOXor
	AMOAnd
	AMOOr
	AMOMin
	AMOMax
	AMOMinU
	AMOMaxU
)

// breakReservations drops the reservation of every other hart that overlaps
// [addr, addr+size).
func (m *Memory) breakReservations(hart int, addr, size uint64) {
	for h, r := range m.reserved {
		if h == hart {
			continue
		}
		if addr < r.addr+r.size && r.addr < addr+size {
			delete(m.reserved, h)
		}
	}
}

// LoadReserved reads size bytes and records a reservation for hart,
// replacing any earlier one.
func (m *Memory) LoadReserved(hart int, addr uint64, size int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.readUint(addr, size)
	if err != nil {
		return 0, err
	}
	m.reserved[hart] = reservation{addr: addr, size: uint64(size)}
	return v, nil
}

// StoreConditional writes v when hart holds a reservation covering the
// store. The reservation is released either way.
func (m *Memory) StoreConditional(hart int, addr uint64, size int, v uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reserved[hart]
	delete(m.reserved, hart)
	if !ok || addr < r.addr || addr+uint64(size) > r.addr+r.size {
		return false, nil
	}

	if err := m.writeUint(hart, addr, size, v); err != nil {
		return false, err
	}
	return true, nil
}

// HasReservation reports whether hart holds a reservation.
func (m *Memory) HasReservation(hart int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reserved[hart]
	return ok
}

// AMO atomically applies op to the size-byte value at addr and operand. It
// returns the old value, sign-extended from 32 bits when size is 4.
func (m *Memory) AMO(hart int, addr uint64, size int, op AMOOp, operand uint64) (uint64, error) {
	if size != 4 && size != 8 {
		return 0, fmt.Errorf("amo of %d bytes at 0x%x: size must be 4 or 8", size, addr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.readUint(addr, size)
	if err != nil {
		return 0, err
	}

	old, src := raw, operand
	if size == 4 {
		old = uint64(int64(int32(raw)))
		src = uint64(int64(int32(operand)))
	}

	var res uint64
	switch op {
	case AMOSwap:
		res = src
	case AMOAdd:
		res = old + src
	case AMOXor:
		res = old ^ src
	case AMOAnd:
		res = old & src
	case AMOOr:
		res = old | src
	case AMOMin:
		res = old
		if int64(src) < int64(old) {
			res = src
		}
	case AMOMax:
		res = old
		if int64(src) > int64(old) {
			res = src
		}
	case AMOMinU:
		res = old
		if unsigned(src, size) < unsigned(old, size) {
			res = src
		}
	case AMOMaxU:
		res = old
		if unsigned(src, size) > unsigned(old, size) {
			res = src
		}
	default:
		return 0, fmt.Errorf("unknown amo function %d", op)
	}

	if err := m.writeUint(hart, addr, size, res); err != nil {
		return 0, err
	}
	return old, nil
}

func unsigned(v uint64, size int) uint64 {
	if size == 4 {
		return v & 0xFFFFFFFF
	}
	return v
}
