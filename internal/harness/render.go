package harness

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ReportHeader opens the consolidated report.
const ReportHeader = "=== Consolidated Agent Responses ==="

// Render writes one labelled block per agent. Color is used only when w is a
// terminal.
func Render(w io.Writer, r Report) error {
	renderer := lipgloss.NewRenderer(w)
	var (
		header  = renderer.NewStyle().Bold(true)
		label   = renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
		failure = renderer.NewStyle().Foreground(lipgloss.Color("9"))
		summary = renderer.NewStyle().Faint(true)
	)

	var b strings.Builder
	b.WriteString(header.Render(ReportHeader))
	b.WriteString("\n")

	for _, o := range r.Outcomes {
		b.WriteString("\n")
		b.WriteString(label.Render("[" + strings.ToUpper(string(o.Role)) + "]"))
		b.WriteString("\n")

		if o.Err != nil {
			b.WriteString(failure.Render(fmt.Sprintf("FAILED (%s): %v", o.Kind(), o.Err)))
			b.WriteString("\n")
		}
		for _, line := range o.Lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(summary.Render(fmt.Sprintf("%d/%d agents completed", r.Succeeded(), len(r.Outcomes))))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
