package term

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	subtitle  lipgloss.Style
	success   lipgloss.Style
	errorText lipgloss.Style
	status    lipgloss.Style
	progress  lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
}

// newStyles binds the palette to a renderer so colour output follows the
// capabilities of the writer it targets.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),

		subtitle: r.NewStyle().
			Foreground(lipgloss.Color("245")),

		success: r.NewStyle().
			Foreground(lipgloss.Color("78")),

		errorText: r.NewStyle().
			Foreground(lipgloss.Color("196")),

		status: r.NewStyle().
			Foreground(lipgloss.Color("214")),

		progress: r.NewStyle().
			Foreground(lipgloss.Color("44")),

		user: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("78")),

		assistant: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")),
	}
}
