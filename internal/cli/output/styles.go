package output

import "github.com/charmbracelet/lipgloss"

// Status symbols used in text output.
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "!"
	SymbolSkipped = "-"
)

// Styles holds the lipgloss styles used in text mode.
type Styles struct {
	Header    lipgloss.Style
	Subheader lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Muted     lipgloss.Style
	Bold      lipgloss.Style
	ID        lipgloss.Style
	Formula   lipgloss.Style
}

// NewStyles creates styles bound to a lipgloss renderer. A renderer with
// the ASCII profile produces plain text.
func NewStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Header:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Subheader: r.NewStyle().Bold(true),
		Success:   r.NewStyle().Foreground(lipgloss.Color("10")),
		Error:     r.NewStyle().Foreground(lipgloss.Color("9")),
		Warning:   r.NewStyle().Foreground(lipgloss.Color("11")),
		Info:      r.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:     r.NewStyle().Foreground(lipgloss.Color("8")),
		Bold:      r.NewStyle().Bold(true),
		ID:        r.NewStyle().Foreground(lipgloss.Color("13")),
		Formula:   r.NewStyle().Foreground(lipgloss.Color("6")),
	}
}
