package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntrySink receives finalized entries for durable append. The handler never
// blocks on the sink; implementations queue their own I/O.
type EntrySink interface {
	AppendEntry(entry *Entry)
	AppendToolResult(callID, result string, isError bool)
}

// UsageDelta is the token/cost usage reported by one backend message.
type UsageDelta struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostUSD             float64
}

// MetadataSink receives usage and context-window observations for the
// debounced metadata snapshot.
type MetadataSink interface {
	ObserveContext(currentTokens int)
	ObserveUsage(delta UsageDelta)
}

// envelope is the top-level wire message, discriminated by Type. Unknown
// fields for a given type are simply absent.
type envelope struct {
	Type            string          `json:"type"`
	Subtype         string          `json:"subtype,omitempty"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
	Event           json.RawMessage `json:"event,omitempty"`
	Message         json.RawMessage `json:"message,omitempty"`
	Status          string          `json:"status,omitempty"`
	CompactMetadata *struct {
		Trigger   string `json:"trigger"`
		PreTokens int    `json:"pre_tokens"`
	} `json:"compact_metadata,omitempty"`
	IsSynthetic   bool            `json:"isSynthetic,omitempty"`
	IsReplay      bool            `json:"isReplay,omitempty"`
	ToolUseResult json.RawMessage `json:"tool_use_result,omitempty"`
	Result        string          `json:"result,omitempty"`
	TotalCostUSD  float64         `json:"total_cost_usd,omitempty"`
	Usage         *wireUsage      `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type wireMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"` // string or []wireBlock
	Usage   *wireUsage      `json:"usage,omitempty"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// HandlerOptions configures a MessageHandler. All fields are optional; nil
// sinks disable persistence and metadata tracking.
type HandlerOptions struct {
	Logger      *Logger
	Permissions *PermissionRegistry
	History     EntrySink
	Metadata    MetadataSink
	Now         func() time.Time
	NewID       func() string
	// MaxAgents caps how many subagents one chat may spawn; zero or
	// negative means no cap.
	MaxAgents int
}

// MessageHandler routes already-deserialized backend messages into a chat's
// conversations and hands finalized entries to the persistence sinks. One
// handler serves one chat; it is not safe for concurrent HandleMessage calls.
type MessageHandler struct {
	chat    *Chat
	log     *Logger
	perms   *PermissionRegistry
	history EntrySink
	meta    MetadataSink

	now       func() time.Time
	newID     func() string
	maxAgents int

	// pairing maps tool-call id to its invocation entry. Transient: cleared
	// on ClearPairing and Dispose, rebuilt from disk by the load-time merge.
	pairing map[string]*Entry
	// turns holds the streaming block registry per conversation id.
	turns map[string]*turnState

	// awaitingSummary is armed by a compact_boundary; the next genuine user
	// message becomes a context summary.
	awaitingSummary bool
	// assistantSpoke tracks whether the current turn produced assistant
	// output, to suppress redundant top-level result notifications.
	assistantSpoke bool

	disposed bool
}

func NewMessageHandler(chat *Chat, opts HandlerOptions) *MessageHandler {
	h := &MessageHandler{
		chat:      chat,
		log:       opts.Logger,
		perms:     opts.Permissions,
		history:   opts.History,
		meta:      opts.Metadata,
		now:       opts.Now,
		newID:     opts.NewID,
		maxAgents: opts.MaxAgents,
		pairing:   map[string]*Entry{},
		turns:     map[string]*turnState{},
	}
	if h.log == nil {
		h.log = NewLogger(nil)
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.newID == nil {
		h.newID = uuid.NewString
	}
	return h
}

func (h *MessageHandler) Chat() *Chat {
	return h.chat
}

// HandleMessage dispatches one wire message. Undecodable input is logged and
// skipped; unknown message types degrade to visible Unknown entries. No path
// through here is fatal.
func (h *MessageHandler) HandleMessage(raw json.RawMessage) {
	if h.disposed {
		return
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.log.Error("undecodable message", map[string]any{"error": err.Error()})
		return
	}

	switch env.Type {
	case "system":
		h.handleSystem(env)
	case "assistant":
		h.handleAssistant(env, raw)
	case "user":
		h.handleUser(env)
	case "result":
		h.handleResult(env)
	case "stream_event":
		conv := h.chat.ConversationFor(env.ParentToolUseID)
		h.handleStreamEvent(conv, env.Event)
	default:
		conv := h.chat.ConversationFor(env.ParentToolUseID)
		entry := &Entry{
			ID:        h.newID(),
			Kind:      EntryUnknown,
			OrigType:  env.Type,
			Payload:   append(json.RawMessage(nil), raw...),
			CreatedAt: h.now(),
		}
		conv.Append(entry)
		h.notify(ChatEvent{Kind: EventEntryAdded, ConversationID: conv.ID, EntryID: entry.ID})
		h.persistEntry(entry)
	}
}

// Consume drains a backend until its message channel closes, the context is
// canceled, or the handler is disposed. Backend errors are logged and do not
// stop consumption.
func (h *MessageHandler) Consume(ctx context.Context, backend Backend) {
	msgs := backend.Messages()
	errs := backend.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			h.log.Error("backend error", map[string]any{"error": err.Error()})
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			if h.disposed {
				return
			}
			h.HandleMessage(raw)
		}
	}
}

// ClearPairing drops all outstanding tool-call correlations.
func (h *MessageHandler) ClearPairing() {
	h.pairing = map[string]*Entry{}
}

// Dispose stops message consumption and abandons outstanding correlations.
// On-disk state stays exactly as already flushed.
func (h *MessageHandler) Dispose() {
	h.disposed = true
	h.pairing = map[string]*Entry{}
	h.turns = map[string]*turnState{}
}

func (h *MessageHandler) notify(ev ChatEvent) {
	h.chat.notify(ev)
}

func (h *MessageHandler) persistEntry(entry *Entry) {
	if h.history != nil {
		h.history.AppendEntry(entry)
	}
}

func (h *MessageHandler) handleSystem(env envelope) {
	switch env.Subtype {
	case "init":
		// Acknowledged only.
	case "compact_boundary":
		entry := &Entry{
			ID:        h.newID(),
			Kind:      EntryCompaction,
			CreatedAt: h.now(),
		}
		if env.CompactMetadata != nil {
			entry.PreTokens = env.CompactMetadata.PreTokens
			entry.IsManual = env.CompactMetadata.Trigger == "manual"
		}
		conv := h.chat.ConversationFor(env.ParentToolUseID)
		conv.Append(entry)
		h.awaitingSummary = true
		h.notify(ChatEvent{Kind: EventEntryAdded, ConversationID: conv.ID, EntryID: entry.ID})
		h.persistEntry(entry)
	case "status":
		h.chat.setCompacting(env.Status == "compacting")
	default:
		h.log.Debug("unhandled system subtype", map[string]any{"subtype": env.Subtype})
	}
}

func (h *MessageHandler) handleAssistant(env envelope, raw json.RawMessage) {
	conv := h.chat.ConversationFor(env.ParentToolUseID)
	var msg wireMessage
	if env.Message != nil {
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			h.log.Error("undecodable assistant message", map[string]any{"error": err.Error()})
			return
		}
	}
	h.assistantSpoke = true

	blocks := decodeContentBlocks(msg.Content)
	ts := h.turnFor(conv)

	// The authoritative message is matched positionally against whatever
	// entries this turn streamed: matches update in place, extra blocks
	// append, surplus retained entries stay untouched. This is what keeps a
	// streamed turn from being double-counted.
	for i, blk := range blocks {
		if i < len(ts.turn) {
			entry := ts.turn[i]
			h.applyBlock(entry, blk, msg.Model, raw)
			h.notify(ChatEvent{Kind: EventEntryUpdated, ConversationID: conv.ID, EntryID: entry.ID})
			h.persistTurnEntry(ts, entry)
			continue
		}
		entry := h.entryFromBlock(blk, msg.Model, raw)
		if entry == nil {
			continue
		}
		conv.Append(entry)
		h.notify(ChatEvent{Kind: EventEntryAdded, ConversationID: conv.ID, EntryID: entry.ID})
		h.persistEntry(entry)
	}
	ts.turn = nil
	ts.persisted = map[*Entry]bool{}

	if msg.Usage != nil {
		h.observeUsage(*msg.Usage, 0)
	}
}

// applyBlock overwrites a retained streamed entry with its authoritative
// content block and finalizes it.
func (h *MessageHandler) applyBlock(entry *Entry, blk wireBlock, model string, raw json.RawMessage) {
	entry.IsStreaming = false
	entry.Model = model
	switch blk.Type {
	case "text":
		entry.Kind = EntryText
		entry.Role = "assistant"
		entry.Thinking = false
		entry.Text = blk.Text
	case "thinking":
		entry.Kind = EntryText
		entry.Role = "assistant"
		entry.Thinking = true
		entry.Text = blk.Thinking
	case "tool_use":
		entry.Kind = EntryToolUse
		entry.ToolName = blk.Name
		entry.CallID = blk.ID
		entry.Input = parseToolInput(blk.Input)
		entry.RawLog = append(entry.RawLog, append(json.RawMessage(nil), raw...))
		h.registerToolEntry(entry)
	}
}

func (h *MessageHandler) entryFromBlock(blk wireBlock, model string, raw json.RawMessage) *Entry {
	switch blk.Type {
	case "text":
		return &Entry{
			ID:        h.newID(),
			Kind:      EntryText,
			Role:      "assistant",
			Text:      blk.Text,
			Model:     model,
			CreatedAt: h.now(),
		}
	case "thinking":
		return &Entry{
			ID:        h.newID(),
			Kind:      EntryText,
			Role:      "assistant",
			Thinking:  true,
			Text:      blk.Thinking,
			Model:     model,
			CreatedAt: h.now(),
		}
	case "tool_use":
		entry := &Entry{
			ID:        h.newID(),
			Kind:      EntryToolUse,
			ToolName:  blk.Name,
			CallID:    blk.ID,
			Input:     parseToolInput(blk.Input),
			Model:     model,
			RawLog:    []json.RawMessage{append(json.RawMessage(nil), raw...)},
			CreatedAt: h.now(),
		}
		h.registerToolEntry(entry)
		return entry
	default:
		return nil
	}
}

// registerToolEntry records the invocation for result pairing and spawns a
// subagent for Task invocations.
func (h *MessageHandler) registerToolEntry(entry *Entry) {
	if entry.CallID == "" {
		return
	}
	h.pairing[entry.CallID] = entry
	if entry.ToolName != "Task" {
		return
	}
	if _, exists := h.chat.Agents[entry.CallID]; !exists &&
		h.maxAgents > 0 && len(h.chat.Agents) >= h.maxAgents {
		h.log.Info("subagent cap reached, routing to primary", map[string]any{
			"call_id": entry.CallID, "cap": h.maxAgents,
		})
		return
	}
	h.chat.SpawnAgent(entry.CallID, subagentLabel(entry.Input))
}

func subagentLabel(input map[string]any) string {
	if input == nil {
		return ""
	}
	if desc, ok := input["description"].(string); ok && strings.TrimSpace(desc) != "" {
		return strings.TrimSpace(desc)
	}
	if typ, ok := input["subagent_type"].(string); ok && strings.TrimSpace(typ) != "" {
		return strings.TrimSpace(typ)
	}
	return ""
}

func (h *MessageHandler) handleUser(env envelope) {
	conv := h.chat.ConversationFor(env.ParentToolUseID)
	var msg wireMessage
	if env.Message != nil {
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			h.log.Error("undecodable user message", map[string]any{"error": err.Error()})
			return
		}
	}
	blocks := decodeContentBlocks(msg.Content)

	paired := false
	for _, blk := range blocks {
		if blk.Type != "tool_result" {
			continue
		}
		h.pairToolResult(blk, env.ToolUseResult)
		paired = true
	}
	if paired {
		return
	}

	text := textFromBlocks(blocks)

	if env.IsReplay {
		// Replayed history is already on disk; a replay never satisfies an
		// armed compaction flag either.
		return
	}

	if env.IsSynthetic || h.awaitingSummary {
		h.awaitingSummary = false
		if strings.TrimSpace(text) == "" {
			return
		}
		entry := &Entry{
			ID:        h.newID(),
			Kind:      EntryContextSummary,
			Text:      text,
			CreatedAt: h.now(),
		}
		conv.Append(entry)
		h.notify(ChatEvent{Kind: EventEntryAdded, ConversationID: conv.ID, EntryID: entry.ID})
		h.persistEntry(entry)
		return
	}

	if strings.TrimSpace(text) == "" {
		return
	}
	entry := &Entry{
		ID:        h.newID(),
		Kind:      EntryText,
		Role:      "user",
		Text:      text,
		CreatedAt: h.now(),
	}
	conv.Append(entry)
	h.notify(ChatEvent{Kind: EventEntryAdded, ConversationID: conv.ID, EntryID: entry.ID})
	h.persistEntry(entry)
}

// pairToolResult attaches a tool_result block to its invocation entry. The
// out-of-band tool_use_result field wins over the inline fallback content.
// An unknown call id is ignored without notification.
func (h *MessageHandler) pairToolResult(blk wireBlock, outOfBand json.RawMessage) {
	callID := blk.ToolUseID
	if callID == "" {
		return
	}
	// The result also settles any pending permission request for this call,
	// covering SDK-side permission timeouts.
	if h.perms != nil {
		h.perms.Remove(callID)
	}
	entry, ok := h.pairing[callID]
	if !ok {
		return
	}
	result := resultText(blk.Content, outOfBand)
	entry.Result = result
	entry.HasResult = true
	entry.IsError = blk.IsError
	h.notify(ChatEvent{Kind: EventEntryUpdated, ConversationID: h.chat.Primary.ID, EntryID: entry.ID})
	if h.history != nil {
		h.history.AppendToolResult(callID, result, blk.IsError)
	}
}

func (h *MessageHandler) handleResult(env envelope) {
	if env.ParentToolUseID != "" {
		if _, ok := h.chat.Agents[env.ParentToolUseID]; ok {
			h.chat.AdvanceAgent(env.ParentToolUseID, agentStatusForResult(env.Subtype))
			return
		}
	}

	spoke := h.assistantSpoke
	h.assistantSpoke = false

	if env.Usage != nil || env.TotalCostUSD != 0 {
		var usage wireUsage
		if env.Usage != nil {
			usage = *env.Usage
		}
		h.observeUsage(usage, env.TotalCostUSD)
	}

	// A parentless result only surfaces when the assistant stayed silent
	// this turn; otherwise it would duplicate the reply as a banner.
	if spoke || strings.TrimSpace(env.Result) == "" {
		return
	}
	entry := &Entry{
		ID:        h.newID(),
		Kind:      EntryNotice,
		Text:      env.Result,
		CreatedAt: h.now(),
	}
	h.chat.Primary.Append(entry)
	h.notify(ChatEvent{Kind: EventEntryAdded, ConversationID: h.chat.Primary.ID, EntryID: entry.ID})
	h.persistEntry(entry)
}

func agentStatusForResult(subtype string) AgentStatus {
	switch subtype {
	case "error_max_turns", "error_tool", "error_api", "error_budget":
		return AgentError
	default:
		return AgentCompleted
	}
}

func (h *MessageHandler) observeUsage(u wireUsage, costUSD float64) {
	if h.meta == nil {
		return
	}
	h.meta.ObserveUsage(UsageDelta{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadInputTokens,
		CacheCreationTokens: u.CacheCreationInputTokens,
		CostUSD:             costUSD,
	})
}

// decodeContentBlocks accepts either a bare string or a block array, the two
// shapes the wire protocol uses for message content.
func decodeContentBlocks(raw json.RawMessage) []wireBlock {
	if len(raw) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []wireBlock{{Type: "text", Text: text}}
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

func textFromBlocks(blocks []wireBlock) string {
	var parts []string
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			parts = append(parts, blk.Text)
		case "thinking":
			parts = append(parts, blk.Thinking)
		}
	}
	return strings.Join(parts, "\n")
}

// resultText renders a tool result payload to display text. A structured
// out-of-band payload takes precedence over the inline content blocks.
func resultText(inline, outOfBand json.RawMessage) string {
	if len(outOfBand) > 0 {
		var s string
		if err := json.Unmarshal(outOfBand, &s); err == nil {
			return s
		}
		return string(outOfBand)
	}
	if len(inline) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(inline, &s); err == nil {
		return s
	}
	return textFromBlocks(decodeContentBlocks(inline))
}
