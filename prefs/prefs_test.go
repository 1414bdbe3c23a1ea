package prefs

import (
	"path/filepath"
	"testing"
)

func TestSelectionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs", "prefs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, err := s.LastSelection(); err != nil || ok {
		t.Fatalf("LastSelection() on empty store = %v, %v", ok, err)
	}
	if err := s.SaveSelection("arch.iso", "sdb"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	sel, ok, err := s.LastSelection()
	if err != nil || !ok {
		t.Fatalf("LastSelection() = %v, %v", ok, err)
	}
	if sel.ISOName != "arch.iso" || sel.DeviceID != "sdb" || sel.UpdatedAt.IsZero() {
		t.Fatalf("selection = %+v", sel)
	}

	if err := s.Forget(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.LastSelection(); ok {
		t.Fatal("selection survived Forget")
	}
}

func TestSaveRejectsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.SaveSelection("", "sdb"); err == nil {
		t.Fatal("saved empty ISO name")
	}
}
