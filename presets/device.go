package presets

import (
	"sync"

	"github.com/pkg/errors"
)

// erased is the value of a cell that has never been written, as on an EEPROM.
const erased = 0xFF

// A Device is a byte-addressable persistent store with a limited write budget.
type Device interface {
	// Read returns the byte stored at addr.
	Read(addr int) (byte, error)
	// Write stores b at addr.
	Write(addr int, b byte) error
	// Size returns the number of addressable cells.
	Size() int
	// Close releases the device.
	Close() error
}

func checkAddr(addr, size int) error {
	if addr < 0 || addr >= size {
		return errors.Errorf("address %d out of range [0, %d)", addr, size)
	}
	return nil
}

// MemoryDevice is a volatile Device that counts writes per cell.
type MemoryDevice struct {
	mu     sync.Mutex
	cells  []byte
	writes []int
}

// NewMemoryDevice returns an erased in-memory device of the given size.
func NewMemoryDevice(size int) *MemoryDevice {
	m := &MemoryDevice{cells: make([]byte, size), writes: make([]int, size)}
	for i := range m.cells {
		m.cells[i] = erased
	}
	return m
}

// Read implements Device.
func (m *MemoryDevice) Read(addr int) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkAddr(addr, len(m.cells)); err != nil {
		return 0, err
	}
	return m.cells[addr], nil
}

// Write implements Device.
func (m *MemoryDevice) Write(addr int, b byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkAddr(addr, len(m.cells)); err != nil {
		return err
	}
	m.cells[addr] = b
	m.writes[addr]++
	return nil
}

// Size implements Device.
func (m *MemoryDevice) Size() int {
	return len(m.cells)
}

// Close implements Device.
func (m *MemoryDevice) Close() error {
	return nil
}

// Writes returns how many times addr was written.
func (m *MemoryDevice) Writes(addr int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if checkAddr(addr, len(m.writes)) != nil {
		return 0
	}
	return m.writes[addr]
}

// TotalWrites returns the number of writes across all cells.
func (m *MemoryDevice) TotalWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, w := range m.writes {
		total += w
	}
	return total
}
