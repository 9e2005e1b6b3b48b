package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"agent-desk/internal/app"
)

// TranscriptModel is a read-only scrollable view over a finished chat.
type TranscriptModel struct {
	chat  *app.Chat
	theme Theme
	title string

	vp    viewport.Model
	ready bool
}

func NewTranscript(chat *app.Chat, title string) *TranscriptModel {
	return &TranscriptModel{
		chat:  chat,
		theme: NewTheme(),
		title: title,
	}
}

func (m *TranscriptModel) Init() tea.Cmd {
	return nil
}

func (m *TranscriptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.vp.GotoTop()
		case "G":
			m.vp.GotoBottom()
		}
	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 1
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.vp.SetContent(FormatChat(m.theme, m.chat))
			m.vp.GotoBottom()
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - headerHeight - footerHeight
			m.vp.SetContent(FormatChat(m.theme, m.chat))
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *TranscriptModel) View() string {
	if !m.ready {
		return "loading…"
	}
	header := m.theme.Title.Render(m.title) + "\n"
	footer := m.theme.Footer.Render(fmt.Sprintf(
		"~%d tokens · %d entries · q to quit · %3.0f%%",
		app.EstimateConversationTokens(m.chat.Primary),
		m.chat.Primary.Len(),
		m.vp.ScrollPercent()*100,
	))
	return header + "\n" + m.vp.View() + "\n" + footer
}

// Run blocks until the viewer exits.
func Run(chat *app.Chat, title string) error {
	p := tea.NewProgram(NewTranscript(chat, title), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// FormatChat renders the whole chat, primary conversation first and each
// subagent conversation as its own labeled section.
func FormatChat(theme Theme, chat *app.Chat) string {
	var b strings.Builder
	b.WriteString(FormatConversation(theme, chat.Primary))

	ids := make([]string, 0, len(chat.Agents))
	for id := range chat.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		agent := chat.Agents[id]
		conv, ok := chat.Subagents[agent.ConversationID]
		if !ok || conv.Len() == 0 {
			continue
		}
		b.WriteString("\n")
		b.WriteString(theme.RoleSys.Render(fmt.Sprintf("── %s (%s) ──", agent.Label, agent.Status)))
		b.WriteString("\n")
		b.WriteString(FormatConversation(theme, conv))
	}
	return b.String()
}

// FormatConversation renders every entry, one block per entry separated by a
// blank line.
func FormatConversation(theme Theme, conv *app.Conversation) string {
	blocks := make([]string, 0, conv.Len())
	for _, e := range conv.Entries {
		if line := FormatEntry(theme, e); line != "" {
			blocks = append(blocks, line)
		}
	}
	return strings.Join(blocks, "\n\n") + "\n"
}
