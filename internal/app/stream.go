package app

import (
	"encoding/json"
)

// turnState is the streaming block registry for one conversation: the
// entries created by the current in-flight assistant message, keyed by block
// index. It is reset on message_start. Entries it creates are attached to
// the conversation immediately, so observers see incremental growth.
type turnState struct {
	blocks    map[int]*Entry
	turn      []*Entry // creation order, retained for authoritative matching
	inputBuf  map[int][]byte
	persisted map[*Entry]bool
}

func newTurnState() *turnState {
	return &turnState{
		blocks:    map[int]*Entry{},
		inputBuf:  map[int][]byte{},
		persisted: map[*Entry]bool{},
	}
}

// streamEvent is the inner payload of a stream_event envelope.
type streamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock json.RawMessage `json:"content_block,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
}

type streamContentBlock struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

func (h *MessageHandler) turnFor(conv *Conversation) *turnState {
	ts, ok := h.turns[conv.ID]
	if !ok {
		ts = newTurnState()
		h.turns[conv.ID] = ts
	}
	return ts
}

func (h *MessageHandler) handleStreamEvent(conv *Conversation, raw json.RawMessage) {
	var ev streamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.log.Error("undecodable stream event", map[string]any{"error": err.Error()})
		return
	}

	ts := h.turnFor(conv)

	switch ev.Type {
	case "message_start":
		h.turns[conv.ID] = newTurnState()
		h.observeMessageStart(ev.Message)

	case "content_block_start":
		var cb streamContentBlock
		if ev.ContentBlock != nil {
			if err := json.Unmarshal(ev.ContentBlock, &cb); err != nil {
				return
			}
		}
		entry := h.startBlock(cb)
		if entry == nil {
			return
		}
		ts.blocks[ev.Index] = entry
		ts.turn = append(ts.turn, entry)
		conv.Append(entry)
		h.notify(ChatEvent{Kind: EventEntryAdded, ConversationID: conv.ID, EntryID: entry.ID})

	case "content_block_delta":
		entry, ok := ts.blocks[ev.Index]
		if !ok || ev.Delta == nil {
			return
		}
		var d streamDelta
		if err := json.Unmarshal(ev.Delta, &d); err != nil {
			return
		}
		switch d.Type {
		case "text_delta":
			entry.Text += d.Text
		case "thinking_delta":
			entry.Text += d.Thinking
		case "input_json_delta":
			// Raw fragments accumulate; parsed only at content_block_stop.
			ts.inputBuf[ev.Index] = append(ts.inputBuf[ev.Index], d.PartialJSON...)
		}
		h.notify(ChatEvent{Kind: EventEntryUpdated, ConversationID: conv.ID, EntryID: entry.ID})

	case "content_block_stop":
		entry, ok := ts.blocks[ev.Index]
		if !ok {
			return
		}
		entry.IsStreaming = false
		if entry.Kind == EntryToolUse {
			entry.Input = parseToolInput(ts.inputBuf[ev.Index])
			h.registerToolEntry(entry)
		}
		h.notify(ChatEvent{Kind: EventEntryUpdated, ConversationID: conv.ID, EntryID: entry.ID})

	case "message_stop":
		// Entries remain attached to the conversation; only the index map
		// is dropped. The turn slice stays referenced so an authoritative
		// assistant message can still match against it.
		for _, entry := range ts.turn {
			h.persistTurnEntry(ts, entry)
		}
		ts.blocks = map[int]*Entry{}
		ts.inputBuf = map[int][]byte{}
	}
}

func (h *MessageHandler) startBlock(cb streamContentBlock) *Entry {
	switch cb.Type {
	case "text", "thinking":
		return &Entry{
			ID:          h.newID(),
			Kind:        EntryText,
			Role:        "assistant",
			Thinking:    cb.Type == "thinking",
			IsStreaming: true,
			CreatedAt:   h.now(),
		}
	case "tool_use":
		return &Entry{
			ID:          h.newID(),
			Kind:        EntryToolUse,
			ToolName:    cb.Name,
			CallID:      cb.ID,
			Input:       map[string]any{},
			IsStreaming: true,
			CreatedAt:   h.now(),
		}
	default:
		return nil
	}
}

// observeMessageStart feeds usage from the message_start payload into the
// metadata sink for context-window tracking.
func (h *MessageHandler) observeMessageStart(raw json.RawMessage) {
	if h.meta == nil || raw == nil {
		return
	}
	var msg struct {
		Usage wireUsage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	total := msg.Usage.InputTokens + msg.Usage.CacheCreationInputTokens + msg.Usage.CacheReadInputTokens
	if total > 0 {
		h.meta.ObserveContext(total)
	}
}

// parseToolInput parses an accumulated input_json fragment. Anything that is
// not a JSON object becomes an empty input map.
func parseToolInput(buf []byte) map[string]any {
	if len(buf) == 0 {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal(buf, &input); err != nil || input == nil {
		return map[string]any{}
	}
	return input
}

// persistTurnEntry appends a streamed entry to the sink exactly once per
// turn, whichever of message_stop and the authoritative assistant message
// comes first.
func (h *MessageHandler) persistTurnEntry(ts *turnState, entry *Entry) {
	if ts.persisted[entry] {
		return
	}
	ts.persisted[entry] = true
	h.persistEntry(entry)
}
