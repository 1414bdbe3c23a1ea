package tui

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/catalog"
	"github.com/yakeru/usbwriter/clock"
	"github.com/yakeru/usbwriter/notify"
	"github.com/yakeru/usbwriter/screens"
	"github.com/yakeru/usbwriter/session"
	"github.com/yakeru/usbwriter/watchdog"
	"github.com/yakeru/usbwriter/wizard"
)

func TestBar(t *testing.T) {
	tests := []struct {
		percent int
		want    string
	}{
		{0, "[>         ]"},
		{50, "[=====>    ]"},
		{100, "[==========]"},
		{150, "[==========]"},
	}
	for _, tt := range tests {
		if got := bar(tt.percent, 10); got != tt.want {
			t.Errorf("bar(%d) = %q, want %q", tt.percent, got, tt.want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"NAME", "SIZE"}, [][]string{{"ubuntu.iso", "5.0 GiB"}, {"a.iso"}}, PlainStyles())
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[1], "ubuntu.iso") || !strings.Contains(lines[1], "5.0 GiB") {
		t.Fatalf("row = %q", lines[1])
	}
}

func TestFormatBytes(t *testing.T) {
	if got := FormatBytes(5 << 30); got != "5.0 GiB" {
		t.Fatalf("FormatBytes = %q", got)
	}
	if got := FormatBytes(-1); got != "0 B" {
		t.Fatalf("FormatBytes(-1) = %q", got)
	}
}

func TestCLIProgressPrintsStatusChanges(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgress(false, true, false)
	p.SetWriter(&buf)

	iso := &usbwriter.ISOFile{Name: "ubuntu.iso"}
	dev := &usbwriter.USBDevice{ID: "sdb"}
	p.HandleEvent(session.Event{Kind: session.Started, SessionID: "ws_1", Selection: usbwriter.Selection{ISO: iso, Device: dev}})
	p.HandleEvent(session.Event{Kind: session.Progress, Progress: 10, Status: "writing", Message: "Writing..."})
	p.HandleEvent(session.Event{Kind: session.Progress, Progress: 20, Status: "writing", Message: "Writing..."})
	p.HandleEvent(session.Event{Kind: session.Progress, Progress: 96, Status: "syncing", Message: "Syncing disk..."})
	p.HandleEvent(session.Event{Kind: session.Completed, Progress: 100, Forced: true})

	out := buf.String()
	for _, want := range []string{"Writing ubuntu.iso to sdb", " 10% Writing...", " 96% Syncing disk...", "Write completed", "stall"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, " 20%") {
		t.Errorf("unchanged status printed twice:\n%s", out)
	}
}

type stubBackend struct{}

func (stubBackend) StartWrite(context.Context, usbwriter.WriteRequest) (usbwriter.WriteResponse, error) {
	return usbwriter.WriteResponse{Status: "ok"}, nil
}
func (stubBackend) ResetStatus(context.Context) error { return nil }

type stubSamples struct {
	*notify.Hub[usbwriter.ProgressSample]
}

func (stubSamples) Connect()    {}
func (stubSamples) Disconnect() {}

type stubLists struct{ snap catalog.Snapshot }

func (l stubLists) Snapshot() catalog.Snapshot          { return l.snap }
func (l stubLists) RefreshNow(ctx context.Context) bool { return true }
func (l stubLists) FindISO(name string) (usbwriter.ISOFile, bool) {
	for _, iso := range l.snap.ISOs {
		if iso.Name == name {
			return iso, true
		}
	}
	return usbwriter.ISOFile{}, false
}
func (l stubLists) FindDevice(id string) (usbwriter.USBDevice, bool) {
	for _, d := range l.snap.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return usbwriter.USBDevice{}, false
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModelDrivesWizard(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clk := clock.NewFake(time.Unix(0, 0))
	samples := stubSamples{notify.NewHub[usbwriter.ProgressSample]("samples", logger)}

	mgr, err := session.New(session.Dependencies{
		Backend:  stubBackend{},
		Samples:  samples,
		Watchdog: watchdog.New(watchdog.Config{Clock: clk, Logger: logger}),
		Clock:    clk,
		Logger:   logger,
		Go:       func(fn func()) { fn() },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	lists := stubLists{snap: catalog.Snapshot{
		ISOs:    []usbwriter.ISOFile{{Name: "a.iso"}, {Name: "b.iso"}},
		Devices: []usbwriter.USBDevice{{ID: "sdb", Name: "Kingston"}},
	}}
	ctl := screens.New(screens.Config{Logger: logger})
	ctl.Watch(mgr)
	m := NewModel(Deps{
		Wizard:  wizard.New(mgr, ctl, lists, logger),
		Screens: ctl,
		Lists:   lists,
		Styles:  PlainStyles(),
	})

	settle := func() {
		for i := 0; i < 4; i++ {
			m.Update(tickMsg(time.Now()))
		}
	}

	m.Update(key("enter"))
	settle()
	if m.view.Current != screens.IsoSelection {
		t.Fatalf("screen = %v", m.view.Current)
	}
	m.Update(key("down"))
	m.Update(key("enter"))
	settle()
	if sel := mgr.Selection(); sel.ISO == nil || sel.ISO.Name != "b.iso" {
		t.Fatalf("selection = %+v", sel)
	}
	m.Update(key("enter"))
	settle()
	if m.view.Current != screens.Confirmation {
		t.Fatalf("screen = %v", m.view.Current)
	}
	if !strings.Contains(m.View(), "b.iso") {
		t.Fatalf("confirmation view:\n%s", m.View())
	}

	m.Update(key("enter"))
	settle()
	if m.view.Current != screens.Writing || !mgr.Active() {
		t.Fatalf("screen = %v, active = %v", m.view.Current, mgr.Active())
	}

	m.Update(key("q"))
	if !m.confirmQuit {
		t.Fatal("quit while writing did not ask for confirmation")
	}
	m.Update(key("n"))
	if m.confirmQuit {
		t.Fatal("confirmation not dismissed")
	}

	samples.Emit(usbwriter.ProgressSample{Progress: 100, Status: "completed"})
	settle()
	if m.view.Current != screens.Result || !strings.Contains(m.View(), "completed successfully") {
		t.Fatalf("result view:\n%s", m.View())
	}

	m.Update(key("enter"))
	settle()
	if m.view.Current != screens.Title {
		t.Fatalf("screen after finish = %v", m.view.Current)
	}
}
