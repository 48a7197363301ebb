package presets

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// DefaultDeviceSize is the EEPROM size of the controller the rig was built on.
const DefaultDeviceSize = 4096

// DeviceType selects a Device implementation.
type DeviceType string

const (
	// DeviceMemory keeps presets in memory only.
	DeviceMemory DeviceType = "memory"
	// DeviceBolt keeps presets in a bolt database file.
	DeviceBolt DeviceType = "bolt"
	// DeviceImage keeps presets in a raw EEPROM image file.
	DeviceImage DeviceType = "image"
)

// StorageConfig describes the device presets are persisted to.
type StorageConfig struct {
	Type DeviceType `json:"type,omitempty"`
	Path string     `json:"path,omitempty"`
	Size int        `json:"size,omitempty"`
}

// Validate ensures the storage config can be opened.
func (conf *StorageConfig) Validate(path string) error {
	switch conf.Type {
	case "":
		return resource.NewConfigValidationFieldRequiredError(path, "storage.type")
	case DeviceMemory:
	case DeviceBolt, DeviceImage:
		if conf.Path == "" {
			return resource.NewConfigValidationFieldRequiredError(path, "storage.path")
		}
	default:
		return resource.NewConfigValidationError(path,
			fmt.Errorf("invalid storage type %q, supported types are memory, bolt and image", conf.Type))
	}
	if conf.Size < 0 {
		return resource.NewConfigValidationError(path, errors.New("storage size cannot be negative"))
	}
	return nil
}

// All limbs address one device, so file-backed devices are shared between
// every limb that names the same path and closed when the last one releases it.
var (
	sharedMu sync.Mutex
	shared   = map[string]*sharedDevice{}
)

type sharedDevice struct {
	Device
	key  string
	refs int
}

type deviceHandle struct {
	*sharedDevice
	once sync.Once
}

// Close releases this handle. The device closes with its last handle.
func (h *deviceHandle) Close() error {
	var err error
	h.once.Do(func() {
		sharedMu.Lock()
		defer sharedMu.Unlock()
		h.refs--
		if h.refs == 0 {
			delete(shared, h.key)
			err = h.Device.Close()
		}
	})
	return err
}

// Open returns the device described by conf.
func Open(conf StorageConfig, logger logging.Logger) (Device, error) {
	size := conf.Size
	if size == 0 {
		size = DefaultDeviceSize
	}
	switch conf.Type {
	case "":
		return nil, errors.New("storage type is required")
	case DeviceMemory:
		logger.Warnf("presets are kept in memory and will be lost on restart")
		return NewMemoryDevice(size), nil
	}

	abs, err := filepath.Abs(conf.Path)
	if err != nil {
		return nil, err
	}
	key := string(conf.Type) + ":" + abs

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sd, ok := shared[key]; ok {
		if sd.Size() != size {
			return nil, errors.Errorf("storage %s already open with size %d, not %d", abs, sd.Size(), size)
		}
		sd.refs++
		return &deviceHandle{sharedDevice: sd}, nil
	}

	var dev Device
	switch conf.Type {
	case DeviceBolt:
		dev, err = OpenBoltDevice(abs, size)
	case DeviceImage:
		dev, err = OpenImageDevice(abs, size, logger)
	default:
		err = errors.Errorf("unknown storage type %q", conf.Type)
	}
	if err != nil {
		return nil, err
	}
	sd := &sharedDevice{Device: dev, key: key, refs: 1}
	shared[key] = sd
	logger.Debugf("opened %s storage %s", conf.Type, abs)
	return &deviceHandle{sharedDevice: sd}, nil
}
