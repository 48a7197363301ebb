package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.viam.com/rdk/logging"
)

// ImageDevice mirrors an EEPROM image file in memory. Every write rewrites the
// image atomically, so a power cut leaves either the old or the new image.
type ImageDevice struct {
	mu     sync.Mutex
	path   string
	mode   os.FileMode
	cells  []byte
	logger logging.Logger
}

// OpenImageDevice loads the image at path, creating an erased one if it does
// not exist. A short image is padded with erased cells.
func OpenImageDevice(path string, size int, logger logging.Logger) (*ImageDevice, error) {
	path = filepath.Clean(path)
	d := &ImageDevice{path: path, mode: 0o644, cells: make([]byte, size), logger: logger}
	for i := range d.cells {
		d.cells[i] = erased
	}

	fileInfo, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		logger.Infof("creating erased eeprom image %s (%d bytes)", path, size)
		if err := d.flush(); err != nil {
			return nil, err
		}
		return d, nil
	case err != nil:
		return nil, fmt.Errorf("failed to stat eeprom image %s: %w", path, err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read eeprom image %s: %w", path, err)
	}
	if len(content) > size {
		return nil, fmt.Errorf("eeprom image %s is %d bytes, larger than device size %d", path, len(content), size)
	}
	copy(d.cells, content)
	d.mode = fileInfo.Mode()
	return d, nil
}

// Read implements Device.
func (d *ImageDevice) Read(addr int) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkAddr(addr, len(d.cells)); err != nil {
		return 0, err
	}
	return d.cells[addr], nil
}

// Write implements Device. The cell keeps its old value if the image cannot be written.
func (d *ImageDevice) Write(addr int, b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkAddr(addr, len(d.cells)); err != nil {
		return err
	}
	old := d.cells[addr]
	d.cells[addr] = b
	if err := d.flush(); err != nil {
		d.cells[addr] = old
		return err
	}
	return nil
}

// Size implements Device.
func (d *ImageDevice) Size() int {
	return len(d.cells)
}

// Close implements Device.
func (d *ImageDevice) Close() error {
	return nil
}

// flush writes the image to a temp file and renames it over the original,
// preserving the file mode.
func (d *ImageDevice) flush() error {
	tempFile := d.path + ".tmp"
	if err := os.WriteFile(tempFile, d.cells, d.mode); err != nil {
		return fmt.Errorf("failed to write temp eeprom image %s: %w", tempFile, err)
	}
	if err := os.Rename(tempFile, d.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			d.logger.Warnf("Failed to clean up temp file %s: %v", tempFile, removeErr)
		}
		return fmt.Errorf("failed to replace eeprom image %s: %w", d.path, err)
	}
	return nil
}
