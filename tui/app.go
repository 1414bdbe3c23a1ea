package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yakeru/usbwriter"
	"github.com/yakeru/usbwriter/catalog"
	"github.com/yakeru/usbwriter/screens"
	"github.com/yakeru/usbwriter/wizard"
)

// Lists is the catalog view the wizard renders.
type Lists interface {
	Snapshot() catalog.Snapshot
	RefreshNow(ctx context.Context) bool
}

// Deps are the components the wizard front end drives.
type Deps struct {
	Wizard  *wizard.Wizard
	Screens *screens.Controller
	Lists   Lists
	// Animator, when set, fades screens during transitions.
	Animator *screens.Timed
	Styles   *Styles

	BackendURL string
	// TickInterval is the controller tick. Defaults to 50ms.
	TickInterval time.Duration
}

type tickMsg time.Time

type noticeMsg string

// Model is the bubbletea model of the writer wizard. It reads controller and
// catalog state on every tick, so no other goroutine sends it messages.
type Model struct {
	deps Deps

	view    screens.View
	isos    []usbwriter.ISOFile
	devices []usbwriter.USBDevice
	cursor  int

	bar  progress.Model
	spin spinner.Model

	confirmQuit bool
	notice      string
	width       int
	quitting    bool
}

// NewModel builds the wizard model.
func NewModel(deps Deps) *Model {
	if deps.Styles == nil {
		deps.Styles = DefaultStyles()
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = 50 * time.Millisecond
	}
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(ColorInfo)

	m := &Model{
		deps:  deps,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spin:  spin,
		width: 80,
	}
	m.sync()
	return m
}

// Run starts the wizard on the terminal and blocks until the user quits.
func Run(ctx context.Context, deps Deps) error {
	p := tea.NewProgram(NewModel(deps), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.deps.TickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.spin.Tick)
}

// sync pulls controller and catalog state into the model.
func (m *Model) sync() tea.Cmd {
	prev := m.view
	m.view = m.deps.Screens.View()
	snap := m.deps.Lists.Snapshot()
	m.isos, m.devices = snap.ISOs, snap.Devices

	if prev.Current != m.view.Current {
		debugLog("screen %s -> %s", prev.Current, m.view.Current)
		m.cursor = 0
		m.notice = ""
	}
	if n := m.listLen(); m.cursor >= n && n > 0 {
		m.cursor = n - 1
	}
	if m.view.Current == screens.Writing || m.view.Target == screens.Writing {
		return m.bar.SetPercent(float64(m.view.Progress) / 100)
	}
	return nil
}

func (m *Model) listLen() int {
	switch m.view.Current {
	case screens.IsoSelection:
		return len(m.isos)
	case screens.DeviceSelection:
		return len(m.devices)
	}
	return 0
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.deps.Screens.Tick()
		return m, tea.Batch(m.sync(), m.tick())

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		m.bar = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmQuit {
		switch msg.String() {
		case "y", "Y":
			m.quitting = true
			return m, tea.Quit
		default:
			m.confirmQuit = false
			return m, nil
		}
	}

	var err error
	switch msg.String() {
	case "ctrl+c", "q":
		if m.deps.Wizard.Quit(false) == wizard.NeedsConfirm {
			m.confirmQuit = true
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.listLen()-1 {
			m.cursor++
		}

	case "r":
		lists := m.deps.Lists
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if !lists.RefreshNow(ctx) {
				return noticeMsg("Refresh skipped while writing")
			}
			return noticeMsg("Lists refreshed")
		}

	case "esc", "backspace", "b":
		err = m.deps.Wizard.Back()

	case "enter", " ":
		err = m.enter()
	}

	if err != nil {
		m.notice = err.Error()
	} else if msg.String() == "enter" || msg.String() == " " {
		m.notice = ""
	}
	return m, m.sync()
}

func (m *Model) enter() error {
	switch m.view.Current {
	case screens.Title:
		return m.deps.Wizard.Next()
	case screens.IsoSelection:
		if len(m.isos) == 0 {
			return errors.New("no ISO images available")
		}
		if err := m.deps.Wizard.SelectISO(m.isos[m.cursor].Name); err != nil {
			return err
		}
		return m.deps.Wizard.Next()
	case screens.DeviceSelection:
		if len(m.devices) == 0 {
			return errors.New("no USB devices found")
		}
		if err := m.deps.Wizard.SelectDevice(m.devices[m.cursor].ID); err != nil {
			return err
		}
		return m.deps.Wizard.Next()
	case screens.Confirmation:
		_, err := m.deps.Wizard.Write()
		return err
	case screens.Result:
		return m.deps.Wizard.Finish()
	}
	return nil
}

// View renders the model
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.deps.Styles
	var b strings.Builder
	b.WriteString(s.Title.Render("USB Writer") + "\n")

	shown := m.view.Current
	if m.view.Phase == screens.EnteringNext {
		shown = m.view.Target
	}
	body := m.renderScreen(shown)
	if m.fading(shown) {
		body = s.Muted.Render(body)
	}
	b.WriteString(body)

	if m.notice != "" {
		b.WriteString("\n" + s.Warning.Render(m.notice) + "\n")
	}
	if m.confirmQuit {
		b.WriteString("\n" + s.Warning.Render(SymbolWarning+" A write is in progress. Quit anyway? (y/N)") + "\n")
	}
	b.WriteString("\n" + m.help() + "\n")
	return b.String()
}

func (m *Model) fading(shown screens.Screen) bool {
	if m.view.Phase == screens.Idle || m.deps.Animator == nil {
		return false
	}
	return m.deps.Animator.Fraction(shown) < 1
}

func (m *Model) renderScreen(sc screens.Screen) string {
	s := m.deps.Styles
	v := m.view
	var b strings.Builder

	switch sc {
	case screens.Title:
		b.WriteString(s.Subtitle.Render("Write an ISO image to a USB drive") + "\n\n")
		if m.deps.BackendURL != "" {
			b.WriteString(fmt.Sprintf("  %s %s\n", s.Muted.Render("Backend:"), m.deps.BackendURL))
		}
		b.WriteString(fmt.Sprintf("  %s %d ISO images, %d devices\n", s.Muted.Render("Found:"), len(m.isos), len(m.devices)))

	case screens.IsoSelection:
		b.WriteString(s.SectionHead.Render("Select ISO image") + "\n")
		if len(m.isos) == 0 {
			b.WriteString(s.Muted.Render("  No ISO images found") + "\n")
		}
		for i, iso := range m.isos {
			size := iso.SizeFormatted
			if size == "" {
				size = FormatBytes(iso.Size)
			}
			b.WriteString(m.row(i, iso.Name, size, v.Selection.ISO != nil && v.Selection.ISO.Name == iso.Name))
		}

	case screens.DeviceSelection:
		b.WriteString(s.SectionHead.Render("Select USB device") + "\n")
		if len(m.devices) == 0 {
			b.WriteString(s.Muted.Render("  No USB devices found. Insert a drive and press r") + "\n")
		}
		for i, d := range m.devices {
			label := d.Name
			if d.Vendor != "" {
				label = d.Vendor + " " + d.Name
			}
			b.WriteString(m.row(i, label, d.Size, v.Selection.Device != nil && v.Selection.Device.ID == d.ID))
		}

	case screens.Confirmation:
		b.WriteString(s.SectionHead.Render("Confirm") + "\n")
		if v.Selection.ISO != nil {
			b.WriteString(fmt.Sprintf("  %-8s %s\n", "ISO:", v.Selection.ISO.Name))
		}
		if d := v.Selection.Device; d != nil {
			b.WriteString(fmt.Sprintf("  %-8s %s (%s)\n", "Device:", d.Name, d.ID))
		}
		b.WriteString("\n" + s.Warning.Render(SymbolWarning+" All data on the device will be erased.") + "\n")

	case screens.Writing:
		b.WriteString(s.SectionHead.Render("Writing") + "\n")
		b.WriteString("  " + m.bar.View() + "\n\n")
		b.WriteString(fmt.Sprintf("  %s %s (%d%%)\n", m.spin.View(), v.Message, v.Progress))

	case screens.Result:
		b.WriteString(s.SectionHead.Render("Result") + "\n")
		if v.Outcome.Success {
			b.WriteString(s.Success.Render(SymbolSuccess+" Write completed successfully") + "\n")
			if v.Outcome.Forced {
				b.WriteString(s.Muted.Render("  The device stopped reporting progress near the end; completion was assumed.") + "\n")
			}
		} else {
			b.WriteString(s.Error.Render(SymbolError+" Write failed") + "\n")
			b.WriteString("  " + v.Outcome.Message + "\n")
		}
	}
	return b.String()
}

func (m *Model) row(i int, label, detail string, selected bool) string {
	s := m.deps.Styles
	cursor := "  "
	if i == m.cursor {
		cursor = SymbolArrow + " "
	}
	mark := SymbolPending
	if selected {
		mark = SymbolSuccess
	}
	line := fmt.Sprintf("%s%s %s  %s", cursor, mark, label, s.Muted.Render(detail))
	if i == m.cursor {
		line = s.Selected.Render(line)
	}
	return line + "\n"
}

func (m *Model) help() string {
	s := m.deps.Styles
	key := func(k, d string) string { return s.HelpKey.Render(k) + " " + s.HelpDesc.Render(d) }
	var parts []string
	switch m.view.Current {
	case screens.Title:
		parts = append(parts, key("enter", "start"))
	case screens.IsoSelection, screens.DeviceSelection:
		parts = append(parts, key("↑/↓", "move"), key("enter", "select"), key("esc", "back"), key("r", "refresh"))
	case screens.Confirmation:
		parts = append(parts, key("enter", "write"), key("esc", "back"))
	case screens.Result:
		parts = append(parts, key("enter", "finish"))
	}
	parts = append(parts, key("q", "quit"))
	return strings.Join(parts, s.Help.Render("  "+SymbolBullet+"  "))
}
