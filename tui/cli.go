package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yakeru/usbwriter/session"
)

// CLIProgress prints session events as plain progress lines, for the
// non-interactive write command.
type CLIProgress struct {
	mu sync.Mutex
	w  io.Writer

	quiet bool
	// inPlace redraws the progress bar on one line; otherwise a line is
	// printed whenever the status changes.
	inPlace bool

	styles     *Styles
	startTime  time.Time
	lastStatus string
	drawn      bool
}

// NewCLIProgress creates a progress printer on stdout.
func NewCLIProgress(quiet, noColor, inPlace bool) *CLIProgress {
	p := &CLIProgress{
		w:       os.Stdout,
		quiet:   quiet,
		inPlace: inPlace,
		styles:  DefaultStyles(),
	}
	if noColor {
		p.styles = PlainStyles()
	}
	return p
}

// SetWriter sets the output writer
func (p *CLIProgress) SetWriter(w io.Writer) {
	p.w = w
}

// HandleEvent prints one session event.
func (p *CLIProgress) HandleEvent(e session.Event) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case session.Started:
		p.startTime = time.Now()
		p.lastStatus = ""
		name := "image"
		if e.Selection.ISO != nil {
			name = e.Selection.ISO.Name
		}
		target := "device"
		if e.Selection.Device != nil {
			target = e.Selection.Device.ID
		}
		fmt.Fprintf(p.w, "%s Writing %s to %s (%s)\n", p.styles.Info.Render(SymbolInProgress), name, target, e.SessionID)

	case session.Progress:
		if p.inPlace {
			fmt.Fprintf(p.w, "\r\033[K  %s %3d%% %s", bar(e.Progress, 30), e.Progress, e.Message)
			p.drawn = true
			return
		}
		if e.Status != p.lastStatus {
			p.lastStatus = e.Status
			fmt.Fprintf(p.w, "  %3d%% %s\n", e.Progress, e.Message)
		}

	case session.Completed:
		p.clearLine()
		note := ""
		if e.Forced {
			note = " (completion assumed after stall)"
		}
		fmt.Fprintf(p.w, "%s Write completed in %s%s\n", p.styles.Success.Render(SymbolSuccess), FormatDuration(time.Since(p.startTime)), note)

	case session.Error:
		p.clearLine()
		fmt.Fprintf(p.w, "%s %s\n", p.styles.Error.Render(SymbolError), e.Message)

	case session.Reset:
		p.clearLine()
	}
}

func (p *CLIProgress) clearLine() {
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
		p.drawn = false
	}
}

// bar renders an ASCII progress bar of the given width.
func bar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	empty := width - filled

	b := "[" + strings.Repeat("=", filled)
	if filled < width {
		b += ">"
		empty--
	}
	return b + strings.Repeat(" ", empty) + "]"
}
