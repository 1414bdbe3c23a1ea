package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/database"
	"github.com/yakeru/usbwriter/mockbackend"
)

// isolate points HOME at a temp dir so no real config or database is read.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func startMock(t *testing.T) (*mockbackend.Server, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := mockbackend.New(mockbackend.Config{
		ISOs:    demoISOs(),
		Devices: demoDevices(),
		Logger:  logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL + "/api"
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoadConfigDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := loadConfig(viper.New(), "", pflag.NewFlagSet("test", pflag.ContinueOnError))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.BackendURL != "http://localhost:5000/api" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.PollBaseInterval != 2*time.Second || cfg.PollNearInterval != time.Second || cfg.PollFinalInterval != 200*time.Millisecond {
		t.Errorf("poll intervals = %v/%v/%v", cfg.PollBaseInterval, cfg.PollNearInterval, cfg.PollFinalInterval)
	}
	if cfg.StallThreshold != 60*time.Second || cfg.StallFinalThreshold != 20*time.Second {
		t.Errorf("stall thresholds = %v/%v", cfg.StallThreshold, cfg.StallFinalThreshold)
	}
	if want := filepath.Join(home, ".local", "share", "usbwriter", "history.db"); cfg.HistoryDB != want {
		t.Errorf("HistoryDB = %q, want %q", cfg.HistoryDB, want)
	}
	if !cfg.Animate {
		t.Error("Animate should default to true")
	}
}

func TestLoadConfigFileEnvAndFlags(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `backend_url: http://file:5000/api
log_level: debug
poll:
  base_interval: 4s
stall:
  threshold: 90s
mirror:
  bucket: isos
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("USBWRITER_LOG_LEVEL", "warn")
	t.Setenv("USBWRITER_POLL_WARMUP", "1s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backend-url", "", "")
	if err := flags.Parse([]string{"--backend-url", "http://flag:5000/api"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(viper.New(), path, flags)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.BackendURL != "http://flag:5000/api" {
		t.Errorf("flag should win: BackendURL = %q", cfg.BackendURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("env should beat file: LogLevel = %q", cfg.LogLevel)
	}
	if cfg.PollBaseInterval != 4*time.Second || cfg.StallThreshold != 90*time.Second {
		t.Errorf("file values not applied: %v %v", cfg.PollBaseInterval, cfg.StallThreshold)
	}
	if cfg.PollWarmup != time.Second {
		t.Errorf("PollWarmup = %v", cfg.PollWarmup)
	}
	if cfg.Mirror.Bucket != "isos" || cfg.Mirror.Region != "us-east-1" {
		t.Errorf("Mirror = %+v", cfg.Mirror)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"), pflag.NewFlagSet("test", pflag.ContinueOnError))
	if err == nil {
		t.Fatal("expected an error for a missing --config file")
	}
}

func TestListCommands(t *testing.T) {
	isolate(t)
	_, url := startMock(t)

	out, err := execute(t, "isos", "--backend-url", url)
	if err != nil {
		t.Fatalf("isos: %v", err)
	}
	if !strings.Contains(out, "ubuntu-24.04-desktop-amd64.iso") || !strings.Contains(out, "5.7 GB") {
		t.Errorf("isos output:\n%s", out)
	}

	out, err = execute(t, "devices", "--rescan", "--backend-url", url)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "SanDisk Ultra") || !strings.Contains(out, "sdc") {
		t.Errorf("devices output:\n%s", out)
	}

	out, err = execute(t, "status", "--backend-url", url)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Health:   ok") || !strings.Contains(out, "(0%) [normal]") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestDevicesWhileLocked(t *testing.T) {
	isolate(t)
	srv, url := startMock(t)
	srv.SetLocked(true)

	_, err := execute(t, "devices", "--backend-url", url)
	if err == nil || !usbwriter.IsNoUpdate(err) {
		t.Fatalf("err = %v, want a no-update error", err)
	}
}

func TestWriteRequiresConfirmation(t *testing.T) {
	isolate(t)
	_, url := startMock(t)

	_, err := execute(t, "write", "--iso", "ubuntu-24.04-desktop-amd64.iso", "--device", "sdb", "--backend-url", url)
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteUnknownDevice(t *testing.T) {
	isolate(t)
	_, url := startMock(t)

	_, err := execute(t, "write", "--yes", "--iso", "ubuntu-24.04-desktop-amd64.iso", "--device", "sdz", "--backend-url", url)
	if err == nil || !strings.Contains(err.Error(), "sdz") {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteRunsToCompletionAndRecordsHistory(t *testing.T) {
	home := isolate(t)
	srv, url := startMock(t)
	t.Setenv("USBWRITER_POLL_BASE_INTERVAL", "10ms")
	t.Setenv("USBWRITER_POLL_NEAR_INTERVAL", "10ms")
	t.Setenv("USBWRITER_POLL_FINAL_INTERVAL", "5ms")
	t.Setenv("USBWRITER_POLL_WARMUP", "1ms")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx, 5*time.Millisecond)

	out, err := execute(t, "write", "--yes", "--no-color",
		"--iso", "debian-12.5.0-amd64-netinst.iso", "--device", "sdb", "--backend-url", url)
	if err != nil {
		t.Fatalf("write: %v\n%s", err, out)
	}
	if writes := srv.Writes(); len(writes) != 1 || writes[0].Device != "sdb" {
		t.Fatalf("backend writes = %+v", writes)
	}

	db, err := database.New(database.Config{Path: filepath.Join(home, ".local", "share", "usbwriter", "history.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	records, err := db.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Outcome != usbwriter.OutcomeCompleted {
		t.Fatalf("history = %+v", records)
	}

	out, err = execute(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "debian-12.5.0-amd64-netinst.iso") || !strings.Contains(out, "1 completed") {
		t.Errorf("history output:\n%s", out)
	}
}

func TestWriteRejectedByBackend(t *testing.T) {
	isolate(t)
	srv, url := startMock(t)
	srv.FailWrite(500, "device is write protected")

	_, err := execute(t, "write", "--yes", "--no-color",
		"--iso", "debian-12.5.0-amd64-netinst.iso", "--device", "sdb", "--backend-url", url)
	if err == nil {
		t.Fatal("expected the write to fail")
	}
}

func TestDisplayAddr(t *testing.T) {
	if got := displayAddr(":5000"); got != "localhost:5000" {
		t.Errorf("displayAddr(:5000) = %q", got)
	}
	if got := displayAddr("127.0.0.1:8080"); got != "127.0.0.1:8080" {
		t.Errorf("displayAddr = %q", got)
	}
}
