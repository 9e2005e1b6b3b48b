package app

import (
	"encoding/json"
	"fmt"
	"testing"
)

type recordedResult struct {
	callID  string
	result  string
	isError bool
}

type captureSink struct {
	entries []*Entry
	results []recordedResult
}

func (s *captureSink) AppendEntry(entry *Entry) {
	s.entries = append(s.entries, entry)
}

func (s *captureSink) AppendToolResult(callID, result string, isError bool) {
	s.results = append(s.results, recordedResult{callID: callID, result: result, isError: isError})
}

func newTestHandler(t *testing.T) (*MessageHandler, *Chat, *captureSink) {
	t.Helper()
	chat := NewChat("chat-1")
	sink := &captureSink{}
	h := NewMessageHandler(chat, HandlerOptions{History: sink})
	return h, chat, sink
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func assistantMessage(t *testing.T, blocks ...map[string]any) json.RawMessage {
	t.Helper()
	return raw(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"id":      "msg-1",
			"role":    "assistant",
			"model":   "claude-sonnet-4-5",
			"content": blocks,
		},
	})
}

func TestToolPairingSetsResultAndErrorFlag(t *testing.T) {
	h, chat, sink := newTestHandler(t)

	h.HandleMessage(assistantMessage(t, map[string]any{
		"type":  "tool_use",
		"id":    "t1",
		"name":  "Bash",
		"input": map[string]any{"command": "ls"},
	}))
	h.HandleMessage(raw(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "tool_result", "tool_use_id": "t1", "content": "ok"},
			},
		},
	}))

	if chat.Primary.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", chat.Primary.Len())
	}
	entry := chat.Primary.Entries[0]
	if entry.Kind != EntryToolUse || entry.ToolName != "Bash" || entry.CallID != "t1" {
		t.Fatalf("unexpected invocation entry: %+v", entry)
	}
	if !entry.HasResult || entry.Result != "ok" || entry.IsError {
		t.Fatalf("pairing failed: %+v", entry)
	}
	if len(sink.results) != 1 || sink.results[0].callID != "t1" {
		t.Fatalf("expected 1 recorded tool result, got %+v", sink.results)
	}
}

func TestToolResultPrefersOutOfBandPayload(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(assistantMessage(t, map[string]any{
		"type": "tool_use", "id": "t1", "name": "Read", "input": map[string]any{"path": "a.txt"},
	}))
	h.HandleMessage(raw(t, map[string]any{
		"type":            "user",
		"tool_use_result": "structured output",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "tool_result", "tool_use_id": "t1", "content": "inline fallback"},
			},
		},
	}))

	if got := chat.Primary.Entries[0].Result; got != "structured output" {
		t.Fatalf("expected out-of-band result, got %q", got)
	}
}

func TestToolResultUnknownCallIDIsSilentlyIgnored(t *testing.T) {
	h, chat, sink := newTestHandler(t)

	events := 0
	chat.Subscribe(func(ChatEvent) { events++ })

	h.HandleMessage(raw(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "tool_result", "tool_use_id": "nope", "content": "ok"},
			},
		},
	}))

	if chat.Primary.Len() != 0 {
		t.Fatalf("expected no entries, got %d", chat.Primary.Len())
	}
	if events != 0 {
		t.Fatalf("expected no notifications, got %d", events)
	}
	if len(sink.entries) != 0 || len(sink.results) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestToolResultClearsPendingPermission(t *testing.T) {
	chat := NewChat("chat-1")
	perms := NewPermissionRegistry()
	h := NewMessageHandler(chat, HandlerOptions{Permissions: perms})

	perms.Add(PermissionRequest{CallID: "t1", ToolName: "Bash"})

	h.HandleMessage(assistantMessage(t, map[string]any{
		"type": "tool_use", "id": "t1", "name": "Bash", "input": map[string]any{},
	}))
	h.HandleMessage(raw(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "tool_result", "tool_use_id": "t1", "content": "denied", "is_error": true},
			},
		},
	}))

	if perms.Len() != 0 {
		t.Fatalf("expected pending permission cleared")
	}
	if entry := chat.Primary.Entries[0]; !entry.IsError {
		t.Fatalf("expected error flag set")
	}
}

func TestCompactBoundaryThenUserMessageEmitsSummary(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{
		"type":             "system",
		"subtype":          "compact_boundary",
		"compact_metadata": map[string]any{"trigger": "manual", "pre_tokens": 120000},
	}))
	h.HandleMessage(raw(t, map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "The conversation so far covered X."},
	}))

	if chat.Primary.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", chat.Primary.Len())
	}
	boundary := chat.Primary.Entries[0]
	if boundary.Kind != EntryCompaction || !boundary.IsManual || boundary.PreTokens != 120000 {
		t.Fatalf("unexpected compaction entry: %+v", boundary)
	}
	summary := chat.Primary.Entries[1]
	if summary.Kind != EntryContextSummary || summary.Text == "" {
		t.Fatalf("unexpected summary entry: %+v", summary)
	}
}

func TestCompactBoundaryReplayUserMessageStaysArmed(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{
		"type":             "system",
		"subtype":          "compact_boundary",
		"compact_metadata": map[string]any{"trigger": "auto", "pre_tokens": 90000},
	}))
	h.HandleMessage(raw(t, map[string]any{
		"type":     "user",
		"isReplay": true,
		"message":  map[string]any{"role": "user", "content": "old prompt"},
	}))

	if chat.Primary.Len() != 1 {
		t.Fatalf("replay should not produce entries, got %d", chat.Primary.Len())
	}
	if !h.awaitingSummary {
		t.Fatalf("flag should stay armed through a replay")
	}

	h.HandleMessage(raw(t, map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "genuine summary"},
	}))
	if chat.Primary.Len() != 2 || chat.Primary.Entries[1].Kind != EntryContextSummary {
		t.Fatalf("genuine message should consume the flag")
	}
}

func TestSyntheticUserMessageEmitsSummary(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{
		"type":        "user",
		"isSynthetic": true,
		"message":     map[string]any{"role": "user", "content": "synopsis"},
	}))

	if chat.Primary.Len() != 1 || chat.Primary.Entries[0].Kind != EntryContextSummary {
		t.Fatalf("expected context summary, got %+v", chat.Primary.Entries)
	}
}

func TestStatusTogglesCompacting(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{"type": "system", "subtype": "status", "status": "compacting"}))
	if !chat.IsCompacting {
		t.Fatalf("expected compacting on")
	}
	h.HandleMessage(raw(t, map[string]any{"type": "system", "subtype": "status", "status": ""}))
	if chat.IsCompacting {
		t.Fatalf("expected compacting off")
	}
}

func TestResultSuppressedWhenAssistantSpoke(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(assistantMessage(t, map[string]any{"type": "text", "text": "done it"}))
	h.HandleMessage(raw(t, map[string]any{"type": "result", "subtype": "success", "result": "done it"}))

	for _, entry := range chat.Primary.Entries {
		if entry.Kind == EntryNotice {
			t.Fatalf("result banner should be suppressed after assistant output")
		}
	}

	// A second result in a silent turn does surface.
	h.HandleMessage(raw(t, map[string]any{"type": "result", "subtype": "success", "result": "background note"}))
	last := chat.Primary.Last()
	if last == nil || last.Kind != EntryNotice || last.Text != "background note" {
		t.Fatalf("expected notice entry, got %+v", last)
	}
}

func TestResultWithEmptyTextProducesNothing(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{"type": "result", "subtype": "success", "result": "   "}))
	if chat.Primary.Len() != 0 {
		t.Fatalf("expected no entries, got %d", chat.Primary.Len())
	}
}

func TestUnknownMessageTypeBecomesUnknownEntry(t *testing.T) {
	h, chat, sink := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{"type": "telemetry", "payload": 42}))

	if chat.Primary.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", chat.Primary.Len())
	}
	entry := chat.Primary.Entries[0]
	if entry.Kind != EntryUnknown || entry.OrigType != "telemetry" || len(entry.Payload) == 0 {
		t.Fatalf("unexpected unknown entry: %+v", entry)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("unknown entry should persist")
	}
}

func TestUserTextMessageAppendsEntry(t *testing.T) {
	h, chat, sink := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "hello"},
	}))

	entry := chat.Primary.Entries[0]
	if entry.Kind != EntryText || entry.Role != "user" || entry.Text != "hello" {
		t.Fatalf("unexpected user entry: %+v", entry)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("user entry should persist")
	}
}

func TestDisposeStopsConsumption(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.Dispose()
	h.HandleMessage(raw(t, map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "after dispose"},
	}))

	if chat.Primary.Len() != 0 {
		t.Fatalf("disposed handler must not consume messages")
	}
}

func TestSubagentRoutingAndLifecycle(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(assistantMessage(t, map[string]any{
		"type": "tool_use", "id": "task-1", "name": "Task",
		"input": map[string]any{"description": "explore repo", "subagent_type": "explorer"},
	}))

	agent, ok := chat.Agents["task-1"]
	if !ok {
		t.Fatalf("expected agent spawned")
	}
	if agent.Status != AgentWorking || agent.Label != "explore repo" {
		t.Fatalf("unexpected agent: %+v", agent)
	}

	// A message tagged with the spawning call id lands in the subagent
	// conversation, not the primary one.
	h.HandleMessage(raw(t, map[string]any{
		"type":               "assistant",
		"parent_tool_use_id": "task-1",
		"message": map[string]any{
			"model":   "claude-sonnet-4-5",
			"content": []map[string]any{{"type": "text", "text": "inside subagent"}},
		},
	}))
	sub := chat.Subagents[agent.ConversationID]
	if sub == nil || sub.Len() != 1 || sub.Entries[0].Text != "inside subagent" {
		t.Fatalf("subagent routing failed: %+v", sub)
	}

	h.HandleMessage(raw(t, map[string]any{
		"type": "result", "subtype": "success", "parent_tool_use_id": "task-1",
	}))
	if agent.Status != AgentCompleted {
		t.Fatalf("expected completed, got %s", agent.Status)
	}

	// Terminal states are final.
	h.HandleMessage(raw(t, map[string]any{
		"type": "result", "subtype": "error_tool", "parent_tool_use_id": "task-1",
	}))
	if agent.Status != AgentCompleted {
		t.Fatalf("terminal status must not change, got %s", agent.Status)
	}
}

func TestAgentErrorSubtypes(t *testing.T) {
	for i, subtype := range []string{"error_max_turns", "error_tool", "error_api", "error_budget"} {
		h, chat, _ := newTestHandler(t)
		callID := fmt.Sprintf("task-%d", i)
		h.HandleMessage(assistantMessage(t, map[string]any{
			"type": "tool_use", "id": callID, "name": "Task", "input": map[string]any{},
		}))
		h.HandleMessage(raw(t, map[string]any{
			"type": "result", "subtype": subtype, "parent_tool_use_id": callID,
		}))
		if chat.Agents[callID].Status != AgentError {
			t.Fatalf("subtype %s: expected error status", subtype)
		}
	}
}

func TestUnmatchedParentFallsBackToPrimary(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{
		"type":               "assistant",
		"parent_tool_use_id": "never-spawned",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": "orphan"}},
		},
	}))

	if chat.Primary.Len() != 1 || chat.Primary.Entries[0].Text != "orphan" {
		t.Fatalf("unmatched parent must fall back to primary, got %+v", chat.Primary.Entries)
	}
}

func TestSubagentDefaultLabel(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(assistantMessage(t, map[string]any{
		"type": "tool_use", "id": "task-1", "name": "Task", "input": map[string]any{},
	}))

	if got := chat.Agents["task-1"].Label; got != "Subagent #1" {
		t.Fatalf("expected default label, got %q", got)
	}
}

func TestSubagentCapRoutesOverflowToPrimary(t *testing.T) {
	chat := NewChat("chat-1")
	h := NewMessageHandler(chat, HandlerOptions{MaxAgents: 1})

	for _, id := range []string{"task-1", "task-2"} {
		h.HandleMessage(assistantMessage(t, map[string]any{
			"type": "tool_use", "id": id, "name": "Task", "input": map[string]any{},
		}))
	}

	if len(chat.Agents) != 1 {
		t.Fatalf("expected 1 agent at cap, got %d", len(chat.Agents))
	}
	if _, ok := chat.Agents["task-2"]; ok {
		t.Fatalf("second spawn must be rejected at cap")
	}

	// Messages addressed to the rejected call id land in the primary
	// conversation.
	h.HandleMessage(raw(t, map[string]any{
		"type":               "assistant",
		"parent_tool_use_id": "task-2",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": "overflow"}},
		},
	}))
	last := chat.Primary.Last()
	if last == nil || last.Text != "overflow" {
		t.Fatalf("overflow message must route to primary, got %+v", last)
	}
}

func TestMalformedToolInputBecomesEmptyMap(t *testing.T) {
	h, chat, _ := newTestHandler(t)

	h.HandleMessage(raw(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]any{
				{"type": "tool_use", "id": "t1", "name": "Bash", "input": "not an object"},
			},
		},
	}))

	entry := chat.Primary.Entries[0]
	if entry.Input == nil || len(entry.Input) != 0 {
		t.Fatalf("expected empty input map, got %+v", entry.Input)
	}
}
