package app

import (
	"encoding/json"
	"time"
)

// EntryKind discriminates the variants of a conversation entry.
type EntryKind string

const (
	// EntryText is streamed assistant/user text or an extended-thinking block.
	EntryText EntryKind = "text"
	// EntryToolUse is a tool invocation, optionally carrying its paired result.
	EntryToolUse EntryKind = "tool_use"
	// EntryContextSummary is the synopsis produced after a compaction.
	EntryContextSummary EntryKind = "context_summary"
	// EntryCompaction marks a compaction boundary and its pre-compaction size.
	EntryCompaction EntryKind = "compaction"
	// EntryNotice is a free-text system notification.
	EntryNotice EntryKind = "notice"
	// EntryUnknown preserves messages with an unrecognized type tag.
	EntryUnknown EntryKind = "unknown"
)

// Entry is one unit of conversation content. Entries are append-only within
// a Conversation: they are mutated in place while IsStreaming is true and
// after that only result pairing may touch them.
type Entry struct {
	ID   string    `json:"id"`
	Kind EntryKind `json:"kind"`

	// Text entry fields.
	Role        string `json:"role,omitempty"` // user|assistant
	Thinking    bool   `json:"thinking,omitempty"`
	Text        string `json:"text,omitempty"`
	IsStreaming bool   `json:"is_streaming,omitempty"`

	// Tool invocation fields. Result/HasResult/IsError are set by pairing.
	ToolName  string         `json:"tool_name,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Result    string         `json:"result,omitempty"`
	HasResult bool           `json:"has_result,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Model     string         `json:"model,omitempty"`
	// RawLog keeps the raw wire messages that touched this invocation.
	// Diagnostic only, never persisted.
	RawLog []json.RawMessage `json:"-"`

	// Compaction fields.
	PreTokens int  `json:"pre_tokens,omitempty"`
	IsManual  bool `json:"is_manual,omitempty"`

	// Unknown-message fields.
	OrigType string          `json:"orig_type,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Conversation is an insertion-ordered sequence of entries owned by one chat
// or one subagent. Entries are never reordered or deleted.
type Conversation struct {
	ID      string
	Entries []*Entry
}

func NewConversation(id string) *Conversation {
	return &Conversation{ID: id}
}

func (c *Conversation) Append(e *Entry) {
	c.Entries = append(c.Entries, e)
}

func (c *Conversation) Len() int {
	return len(c.Entries)
}

// Last returns the most recently appended entry, or nil for an empty
// conversation.
func (c *Conversation) Last() *Entry {
	if len(c.Entries) == 0 {
		return nil
	}
	return c.Entries[len(c.Entries)-1]
}
