package catalog

import (
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/yakeru/usbwriter"
)

const (
	tableISO    = "iso"
	tableDevice = "device"
)

type isoRow struct {
	Name  string
	Order string
	ISO   usbwriter.ISOFile
}

type deviceRow struct {
	ID     string
	Order  string
	Device usbwriter.USBDevice
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableISO: {
				Name: tableISO,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
					"order": {Name: "order", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Order"}},
				},
			},
			tableDevice: {
				Name: tableDevice,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"order": {Name: "order", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Order"}},
				},
			},
		},
	}
}

// index keeps the last known lists in backend order with lookups by key.
// Entries without a key cannot be selected and are not indexed.
type index struct {
	db *memdb.MemDB
}

func newIndex() (*index, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog index: %w", err)
	}
	return &index{db: db}, nil
}

// order keys sort lexically in list order.
func order(i int) string { return fmt.Sprintf("%08d", i) }

func (x *index) replaceISOs(isos []usbwriter.ISOFile) error {
	txn := x.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableISO, "id"); err != nil {
		return fmt.Errorf("failed to clear iso table: %w", err)
	}
	for i, iso := range isos {
		if iso.Name == "" {
			continue
		}
		if err := txn.Insert(tableISO, &isoRow{Name: iso.Name, Order: order(i), ISO: iso}); err != nil {
			return fmt.Errorf("failed to index iso %q: %w", iso.Name, err)
		}
	}
	txn.Commit()
	return nil
}

func (x *index) replaceDevices(devices []usbwriter.USBDevice) error {
	txn := x.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableDevice, "id"); err != nil {
		return fmt.Errorf("failed to clear device table: %w", err)
	}
	for i, dev := range devices {
		if dev.ID == "" {
			continue
		}
		if err := txn.Insert(tableDevice, &deviceRow{ID: dev.ID, Order: order(i), Device: dev}); err != nil {
			return fmt.Errorf("failed to index device %q: %w", dev.ID, err)
		}
	}
	txn.Commit()
	return nil
}

func (x *index) isos() []usbwriter.ISOFile {
	txn := x.db.Txn(false)
	it, err := txn.Get(tableISO, "order")
	if err != nil {
		return nil
	}
	var out []usbwriter.ISOFile
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*isoRow).ISO)
	}
	return out
}

func (x *index) devices() []usbwriter.USBDevice {
	txn := x.db.Txn(false)
	it, err := txn.Get(tableDevice, "order")
	if err != nil {
		return nil
	}
	var out []usbwriter.USBDevice
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*deviceRow).Device)
	}
	return out
}

func (x *index) countDevices() int {
	return len(x.devices())
}

func (x *index) iso(name string) (usbwriter.ISOFile, bool) {
	obj, err := x.db.Txn(false).First(tableISO, "id", name)
	if err != nil || obj == nil {
		return usbwriter.ISOFile{}, false
	}
	return obj.(*isoRow).ISO, true
}

func (x *index) device(id string) (usbwriter.USBDevice, bool) {
	obj, err := x.db.Txn(false).First(tableDevice, "id", id)
	if err != nil || obj == nil {
		return usbwriter.USBDevice{}, false
	}
	return obj.(*deviceRow).Device, true
}
