package status

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		token string
		want  Category
	}{
		{"completed", CategoryCompleted},
		{"writing", Normal},
		{"started", Normal},
		{"idle", Normal},
		{"", Normal},
		{"error_device_busy", CategoryError},
		{"error", CategoryError},
		{"error: disk vanished", CategoryError},
		{"completed_with_warnings", Normal},
	}
	for _, tt := range tests {
		if got := Classify(tt.token); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestTranslatorMessages(t *testing.T) {
	tr := New()
	tests := []struct {
		token string
		want  string
	}{
		{"writing", "Writing..."},
		{"completed", "Completed"},
		{"writing (retry 2/3)", "Retrying write... 2/3 (recovering)"},
		{"writing chunk", "writing chunk"},
		{"checking_volumes_c", "Checking volumes..."},
		{"dismounting_sdb1", "Unmounting drive..."},
		{"error_device_busy", "Error: device is busy. Make sure it is not mounted."},
		{"error_code_17", "Error: write failed. Check that the USB device is not write-protected."},
		{"error_no_permission", "Error: insufficient permissions. Run as administrator."},
		{"error_disk_full", "Error: disk full"},
		{"error: device vanished", "Error: device vanished"},
		{"something_new", "something_new"},
	}
	for _, tt := range tests {
		if got := tr.Message(tt.token); got != tt.want {
			t.Errorf("Message(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestTranslate(t *testing.T) {
	cat, msg := New().Translate("error_write_failed")
	if cat != CategoryError || !cat.Terminal() {
		t.Fatalf("category = %v, want terminal error", cat)
	}
	if msg != "Error: write failed. Check the USB device." {
		t.Fatalf("message = %q", msg)
	}
}

func TestLoadOverridesSelectedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	data := []byte("messages:\n  writing: \"Schreibe...\"\nerrors:\n  generic: \"Fehler: %s\"\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := tr.Message("writing"); got != "Schreibe..." {
		t.Errorf("Message(writing) = %q", got)
	}
	if got := tr.Message("verifying"); got != "Verifying data..." {
		t.Errorf("Message(verifying) = %q, want built-in entry", got)
	}
	if got := tr.Message("error_disk_full"); got != "Fehler: disk full" {
		t.Errorf("Message(error_disk_full) = %q", got)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("messages: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() succeeded on malformed YAML")
	}
}
