package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles used throughout the TUI.
var (
	styleStatusBar = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Bold(true)

	styleInputPrompt = lipgloss.NewStyle().
				Foreground(lipgloss.Color("34"))

	styleText = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	styleHeading = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)

	styleField = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	styleRate = lipgloss.NewStyle().
			Foreground(lipgloss.Color("228")).
			Bold(true)

	styleInherited = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	styleSystem = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	styleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	styleInput = lipgloss.NewStyle().
			Foreground(lipgloss.Color("34"))

	styleTrace = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// lineKind identifies the type of an output line for styling.
type lineKind int

const (
	kindText lineKind = iota
	kindHeading
	kindField
	kindRate
	kindInherited
	kindError
	kindTrace
)

// classifyLine determines what kind of console output line this is.
func classifyLine(line string) lineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "Error:"):
		return kindError
	case strings.Contains(line, "  (from #"):
		return kindTrace
	case strings.HasPrefix(line, "  rate: "):
		return kindRate
	case strings.HasPrefix(trimmed, "^ "):
		return kindInherited
	case line != "" && !strings.HasPrefix(line, " ") && !strings.HasSuffix(line, ".") && strings.Contains(line, " #"):
		return kindHeading
	case strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "   ") && strings.Contains(trimmed, ":"):
		return kindField
	default:
		return kindText
	}
}

// renderLineKind applies the style for a given lineKind.
func renderLineKind(line string, kind lineKind) string {
	switch kind {
	case kindHeading:
		return styleHeading.Render(line)
	case kindField:
		return styledField(line)
	case kindRate:
		return styledField(line)
	case kindInherited:
		return styleInherited.Render(line)
	case kindError:
		return styleError.Render(line)
	case kindTrace:
		return styleTrace.Render(line)
	default:
		return styleText.Render(line)
	}
}

// styledField renders "  label: value" with the label dimmed; rate values
// are highlighted.
func styledField(line string) string {
	label, value, ok := strings.Cut(line, ": ")
	if !ok {
		return styleField.Render(line)
	}
	if strings.TrimSpace(label) == "rate" {
		return styleField.Render(label+": ") + styleRate.Render(value)
	}
	return styleField.Render(label+": ") + styleText.Render(value)
}

// styledSystemMsg renders a system message in gray with brackets.
func styledSystemMsg(text string) string {
	return styleSystem.Render("[" + text + "]")
}
