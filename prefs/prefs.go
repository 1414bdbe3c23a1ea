// Package prefs stores small user preferences in a bbolt file: currently the
// ISO and device of the last accepted write.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSelection = []byte("selection")

	keyISO       = []byte("iso")
	keyDevice    = []byte("device")
	keyUpdatedAt = []byte("updated_at")
)

// Store is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create prefs directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open prefs %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSelection)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init prefs: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSelection remembers the ISO name and device id.
func (s *Store) SaveSelection(isoName, deviceID string) error {
	if isoName == "" || deviceID == "" {
		return errors.New("prefs: empty selection")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSelection)
		if err := b.Put(keyISO, []byte(isoName)); err != nil {
			return err
		}
		if err := b.Put(keyDevice, []byte(deviceID)); err != nil {
			return err
		}
		return b.Put(keyUpdatedAt, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

// Selection is a remembered selection.
type Selection struct {
	ISOName   string
	DeviceID  string
	UpdatedAt time.Time
}

// LastSelection returns the remembered selection. ok is false when nothing
// was saved yet.
func (s *Store) LastSelection() (sel Selection, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSelection)
		iso, dev := b.Get(keyISO), b.Get(keyDevice)
		if iso == nil || dev == nil {
			return nil
		}
		ok = true
		sel.ISOName = string(iso)
		sel.DeviceID = string(dev)
		if ts := b.Get(keyUpdatedAt); ts != nil {
			sel.UpdatedAt, _ = time.Parse(time.RFC3339, string(ts))
		}
		return nil
	})
	return sel, ok, err
}

// Forget removes the remembered selection.
func (s *Store) Forget() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSelection)
		for _, k := range [][]byte{keyISO, keyDevice, keyUpdatedAt} {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
