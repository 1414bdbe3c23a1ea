// Package tui is the terminal front end of the USB writer: a bubbletea
// wizard for interactive use and a line-oriented progress printer for plain
// output.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/yakeru/usbwriter"
)

// Color palette for consistent theming
var (
	ColorPrimary    = lipgloss.Color("#7D56F4") // Purple
	ColorSecondary  = lipgloss.Color("#6C757D") // Gray
	ColorSuccess    = lipgloss.Color("#28A745") // Green
	ColorWarning    = lipgloss.Color("#FFC107") // Yellow
	ColorError      = lipgloss.Color("#DC3545") // Red
	ColorInfo       = lipgloss.Color("#17A2B8") // Blue
	ColorMuted      = lipgloss.Color("#6C757D") // Muted gray
	ColorForeground = lipgloss.Color("#CDD6F4") // Light foreground
)

// Status indicator symbols
const (
	SymbolSuccess    = "✓"
	SymbolError      = "✗"
	SymbolWarning    = "⚠"
	SymbolInProgress = "⟳"
	SymbolPending    = "○"
	SymbolArrow      = "→"
	SymbolBullet     = "•"
)

// Styles provides consistent styling across the TUI
type Styles struct {
	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	SectionHead lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style

	Box      lipgloss.Style
	Selected lipgloss.Style

	TableHeader lipgloss.Style
	TableRow    lipgloss.Style

	Help     lipgloss.Style
	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1),

		Subtitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorForeground),

		SectionHead: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorInfo).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(ColorSecondary).
			MarginBottom(1),

		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Info:    lipgloss.NewStyle().Foreground(ColorInfo),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSecondary).
			Padding(1, 2),

		Selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary),

		TableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(ColorSecondary),

		TableRow: lipgloss.NewStyle().Foreground(ColorForeground),

		Help:     lipgloss.NewStyle().Foreground(ColorMuted),
		HelpKey:  lipgloss.NewStyle().Bold(true).Foreground(ColorInfo),
		HelpDesc: lipgloss.NewStyle().Foreground(ColorMuted),
	}
}

// PlainStyles renders everything unstyled, for --no-color and pipes.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Title: plain, Subtitle: plain, SectionHead: plain,
		Success: plain, Error: plain, Warning: plain, Info: plain, Muted: plain,
		Box: plain, Selected: plain, TableHeader: plain, TableRow: plain,
		Help: plain, HelpKey: plain, HelpDesc: plain,
	}
}

// OutcomeIcon returns a styled icon for a session outcome.
func (s *Styles) OutcomeIcon(outcome string) string {
	switch outcome {
	case usbwriter.OutcomeCompleted:
		return s.Success.Render(SymbolSuccess)
	case usbwriter.OutcomeFailed:
		return s.Error.Render(SymbolError)
	case usbwriter.OutcomeReset:
		return s.Warning.Render(SymbolWarning)
	case "writing":
		return s.Info.Render(SymbolInProgress)
	default:
		return s.Muted.Render(SymbolBullet)
	}
}

// FormatBytes formats a byte count with binary units.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatDuration formats duration into a human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
