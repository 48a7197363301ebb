package presets

import (
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var eepromBucket = []byte("eeprom")

// BoltDevice keeps cells in a bolt database file, one key per written address.
type BoltDevice struct {
	db   *bolt.DB
	size int
}

// OpenBoltDevice opens or creates the database at path.
func OpenBoltDevice(path string, size int) (*BoltDevice, error) {
	if size <= 0 || size > 1<<16 {
		return nil, errors.Errorf("bolt device size %d out of range (0, 65536]", size)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open bolt device %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eepromBucket)
		return err
	})
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot create eeprom bucket"), db.Close())
	}
	return &BoltDevice{db: db, size: size}, nil
}

func boltKey(addr int) []byte {
	k := make([]byte, 2)
	binary.BigEndian.PutUint16(k, uint16(addr))
	return k
}

// Read implements Device. Addresses never written read as erased.
func (d *BoltDevice) Read(addr int) (byte, error) {
	if err := checkAddr(addr, d.size); err != nil {
		return 0, err
	}
	b := byte(erased)
	err := d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(eepromBucket).Get(boltKey(addr)); len(v) > 0 {
			b = v[0]
		}
		return nil
	})
	return b, err
}

// Write implements Device.
func (d *BoltDevice) Write(addr int, b byte) error {
	if err := checkAddr(addr, d.size); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eepromBucket).Put(boltKey(addr), []byte{b})
	})
}

// Size implements Device.
func (d *BoltDevice) Size() int {
	return d.size
}

// Close implements Device.
func (d *BoltDevice) Close() error {
	return d.db.Close()
}
