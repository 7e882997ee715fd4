package explain

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles of the explain report. Styles are bound to a
// renderer so colour is dropped when the output is not a terminal.
type Theme struct {
	Title lipgloss.Style
	Key   lipgloss.Style
	Value lipgloss.Style
	Dim   lipgloss.Style

	// Decision colours
	Run     lipgloss.Style
	Skip    lipgloss.Style
	Busy    lipgloss.Style
	Failure lipgloss.Style
}

// NewTheme builds the default theme for r.
func NewTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		Title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")),
		Key:   r.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Value: r.NewStyle(),
		Dim:   r.NewStyle().Foreground(lipgloss.Color("#888888")),

		Run:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF00")),
		Skip:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B")),
		Busy:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFF00")),
		Failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000")),
	}
}
