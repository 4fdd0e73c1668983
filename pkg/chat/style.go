package chat

import "github.com/charmbracelet/lipgloss"

const (
	welcomeText  = "Welcome to the chatbot! Type 'exit' to quit."
	farewellText = "👋 Bye..."
	agentPrefix  = "🤖: "
	prompt       = "> "
)

// Styles holds the terminal styles of the REPL.
type Styles struct {
	Welcome  lipgloss.Style
	Farewell lipgloss.Style
	Error    lipgloss.Style
	Tool     lipgloss.Style
}

// DefaultStyles returns green banners on entry and red on exit.
func DefaultStyles() Styles {
	return Styles{
		Welcome:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Farewell: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Tool: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
			Light: "#666666",
			Dark:  "#999999",
		}),
	}
}
