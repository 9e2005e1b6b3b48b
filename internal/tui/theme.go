package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Title   lipgloss.Style
	RoleYou lipgloss.Style
	RoleAI  lipgloss.Style
	RoleSys lipgloss.Style
	RoleErr lipgloss.Style

	Thinking lipgloss.Style
	Tool     lipgloss.Style
	ToolOut  lipgloss.Style
	Muted    lipgloss.Style
	Footer   lipgloss.Style
}

func NewTheme() Theme {
	if os.Getenv("ADESK_NO_COLOR") == "1" {
		return noColorTheme()
	}
	return Theme{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C83FD")),
		RoleYou:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981")),
		RoleAI:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C83FD")),
		RoleSys:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		RoleErr:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
		Thinking: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#6B7280")),
		Tool:     lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
		ToolOut:  lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		Muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		Footer:   lipgloss.NewStyle().Faint(true),
	}
}

func noColorTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		Title: plain, RoleYou: plain, RoleAI: plain, RoleSys: plain, RoleErr: plain,
		Thinking: plain, Tool: plain, ToolOut: plain, Muted: plain, Footer: plain,
	}
}
