package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderTable renders rows under headers with columns sized to fit.
func RenderTable(headers []string, rows [][]string, styles *Styles) string {
	if styles == nil {
		styles = DefaultStyles()
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = styles.TableHeader.Width(widths[i] + 2).Render(h)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	b.WriteString("\n")

	for _, row := range rows {
		for i := range headers {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = styles.TableRow.Width(widths[i] + 2).Render(cell)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}
	return b.String()
}
