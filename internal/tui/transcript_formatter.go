package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"agent-desk/internal/app"
)

const toolOutputPreviewLines = 6

// FormatEntry renders one conversation entry as display lines.
func FormatEntry(theme Theme, e *app.Entry) string {
	switch e.Kind {
	case app.EntryText:
		if e.Role == "user" {
			return theme.RoleYou.Render("you") + "  " + e.Text
		}
		if e.Thinking {
			return theme.Thinking.Render("· thinking · " + e.Text)
		}
		label := "assistant"
		if e.IsStreaming {
			label = "assistant…"
		}
		return theme.RoleAI.Render(label) + "  " + e.Text
	case app.EntryToolUse:
		return formatToolEntry(theme, e)
	case app.EntryContextSummary:
		return theme.RoleSys.Render("context summary") + "\n" + theme.Muted.Render(e.Text)
	case app.EntryCompaction:
		trigger := "auto"
		if e.IsManual {
			trigger = "manual"
		}
		return theme.RoleSys.Render(fmt.Sprintf("— compacted (%s, %d tokens) —", trigger, e.PreTokens))
	case app.EntryNotice:
		return theme.RoleSys.Render(e.Text)
	case app.EntryUnknown:
		return theme.Muted.Render(fmt.Sprintf("[unknown message: %s]", e.OrigType))
	default:
		return ""
	}
}

func formatToolEntry(theme Theme, e *app.Entry) string {
	var b strings.Builder
	b.WriteString(theme.Tool.Render("tool " + e.ToolName))
	if summary := toolInputSummary(e.Input); summary != "" {
		b.WriteString("  " + theme.Muted.Render(app.RedactSecrets(summary)))
	}
	if e.IsStreaming {
		b.WriteString("  " + theme.Muted.Render("(running)"))
		return b.String()
	}
	if !e.HasResult {
		return b.String()
	}
	if e.IsError {
		b.WriteString("\n" + theme.RoleErr.Render("error: ") + previewLines(e.Result))
		return b.String()
	}
	if out := previewLines(e.Result); out != "" {
		b.WriteString("\n" + theme.ToolOut.Render(app.RedactSecrets(out)))
	}
	return b.String()
}

// toolInputSummary picks the most telling input field instead of dumping the
// whole map.
func toolInputSummary(input map[string]any) string {
	for _, key := range []string{"command", "file_path", "path", "pattern", "description", "url"} {
		if v, ok := input[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	if len(input) == 0 {
		return ""
	}
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(data)
}

func previewLines(text string) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= toolOutputPreviewLines {
		return text
	}
	kept := lines[:toolOutputPreviewLines]
	return strings.Join(kept, "\n") + fmt.Sprintf("\n… (+%d lines)", len(lines)-toolOutputPreviewLines)
}
