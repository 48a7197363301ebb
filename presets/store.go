// Package presets persists limb positions and presets on a byte-addressable device.
//
// Each limb owns a block of MaxPresets+1 cells starting at limb*(MaxPresets+1).
// Cell 0 of the block holds the last known position, cells 1..MaxPresets the
// presets. Writes are only issued when a cell's value changes, which bounds
// device wear by the number of distinct changes rather than the number of saves.
package presets

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	pedalutils "pedalbot/utils"
)

// BlockSize is the number of cells each limb occupies.
const BlockSize = pedalutils.MaxPresets + 1

var (
	// ErrInvalidSlot is returned for slots outside [-1, MaxPresets).
	ErrInvalidSlot = errors.New("invalid preset slot")
	// ErrInvalidLimb is returned when a limb's block does not fit on the device.
	ErrInvalidLimb = errors.New("limb block does not fit on storage device")
)

// A StorageError reports a failed device access.
type StorageError struct {
	Op   string
	Addr int
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s at address %d: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the device error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store maps (limb, slot) pairs onto device cells.
type Store struct {
	dev    Device
	logger logging.Logger
}

// NewStore returns a store over dev.
func NewStore(dev Device, logger logging.Logger) *Store {
	return &Store{dev: dev, logger: logger}
}

// Device returns the underlying device.
func (s *Store) Device() Device {
	return s.dev
}

func (s *Store) address(limb, slot int) (int, error) {
	if slot != pedalutils.NoSlot && !pedalutils.ValidSlot(slot) {
		return 0, errors.Wrapf(ErrInvalidSlot, "slot %d", slot)
	}
	base := limb * BlockSize
	if limb < 0 || base+BlockSize > s.dev.Size() {
		return 0, errors.Wrapf(ErrInvalidLimb, "limb %d", limb)
	}
	return base + slot + 1, nil
}

func (s *Store) read(addr int) (pedalutils.Position, error) {
	b, err := s.dev.Read(addr)
	if err != nil {
		return 0, &StorageError{Op: "read", Addr: addr, Err: err}
	}
	return pedalutils.Position(b), nil
}

// Load reads the limb's last position and all of its presets.
func (s *Store) Load(limb int) (pedalutils.Position, [pedalutils.MaxPresets]pedalutils.Position, error) {
	var presets [pedalutils.MaxPresets]pedalutils.Position
	addr, err := s.address(limb, pedalutils.NoSlot)
	if err != nil {
		return 0, presets, err
	}
	current, err := s.read(addr)
	if err != nil {
		return 0, presets, err
	}
	for slot := range presets {
		if presets[slot], err = s.read(addr + 1 + slot); err != nil {
			return 0, presets, err
		}
	}
	return current, presets, nil
}

// Read returns a single stored value. Slot NoSlot reads the position cell.
func (s *Store) Read(limb, slot int) (pedalutils.Position, error) {
	addr, err := s.address(limb, slot)
	if err != nil {
		return 0, err
	}
	return s.read(addr)
}

// WriteIfChanged stores value in the slot unless it already holds it.
// Slot NoSlot addresses the position cell. It reports whether the device was written.
func (s *Store) WriteIfChanged(limb, slot int, value pedalutils.Position) (bool, error) {
	addr, err := s.address(limb, slot)
	if err != nil {
		return false, err
	}
	stored, err := s.read(addr)
	if err != nil {
		return false, err
	}
	if stored == value {
		return false, nil
	}
	if err := s.dev.Write(addr, byte(value)); err != nil {
		return false, &StorageError{Op: "write", Addr: addr, Err: err}
	}
	return true, nil
}

// ClearAll marks every preset of the limb as unset. The position cell is left alone.
func (s *Store) ClearAll(limb int) error {
	written := 0
	for slot := 0; slot < pedalutils.MaxPresets; slot++ {
		changed, err := s.WriteIfChanged(limb, slot, pedalutils.Unset)
		if err != nil {
			return err
		}
		if changed {
			written++
		}
	}
	s.logger.Debugf("cleared presets of limb %d with %d writes", limb, written)
	return nil
}
