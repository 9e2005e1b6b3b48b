package app

import "fmt"

// AgentStatus is the lifecycle state of a spawned subagent.
type AgentStatus string

const (
	AgentWorking   AgentStatus = "working"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
)

// AgentRun tracks one subagent spawned by a Task tool invocation. Its ID is
// the spawning tool-call id. Terminal states are final.
type AgentRun struct {
	ID             string
	ConversationID string
	Label          string
	Status         AgentStatus
}

func (a *AgentRun) Terminal() bool {
	return a.Status == AgentCompleted || a.Status == AgentError
}

// ChatEventKind classifies change notifications emitted by a chat.
type ChatEventKind string

const (
	EventEntryAdded   ChatEventKind = "entry_added"
	EventEntryUpdated ChatEventKind = "entry_updated"
	EventAgentChanged ChatEventKind = "agent_changed"
	EventCompacting   ChatEventKind = "compacting"
)

// ChatEvent is one logically atomic change to a chat. Listeners receive a
// single event per handled message mutation, not one per field write.
type ChatEvent struct {
	Kind           ChatEventKind
	ConversationID string
	EntryID        string
	AgentID        string
}

// Chat owns one primary conversation plus any subagent conversations spawned
// during its lifetime.
type Chat struct {
	ID      string
	Primary *Conversation

	// Subagents maps conversation id to the subagent conversation.
	Subagents map[string]*Conversation
	// Agents maps spawning tool-call id to the agent run. A call id appears
	// here at most once; terminal agents stay in the map so they are never
	// re-added.
	Agents map[string]*AgentRun

	IsCompacting bool

	listeners []func(ChatEvent)
}

func NewChat(id string) *Chat {
	return &Chat{
		ID:        id,
		Primary:   NewConversation(id),
		Subagents: map[string]*Conversation{},
		Agents:    map[string]*AgentRun{},
	}
}

// Subscribe registers a listener for chat change events. Not safe for
// concurrent use with message handling; subscribe before consuming.
func (c *Chat) Subscribe(fn func(ChatEvent)) {
	if fn == nil {
		return
	}
	c.listeners = append(c.listeners, fn)
}

func (c *Chat) notify(ev ChatEvent) {
	for _, fn := range c.listeners {
		fn(ev)
	}
}

// ConversationFor resolves the routing target for a message. A parent tool
// use id that matches a known agent routes to that agent's conversation;
// anything else, including an unmatched id, falls back to the primary
// conversation.
func (c *Chat) ConversationFor(parentToolUseID string) *Conversation {
	if parentToolUseID == "" {
		return c.Primary
	}
	agent, ok := c.Agents[parentToolUseID]
	if !ok {
		return c.Primary
	}
	conv, ok := c.Subagents[agent.ConversationID]
	if !ok {
		return c.Primary
	}
	return conv
}

// SpawnAgent registers a subagent for the given tool-call id and returns its
// run. Spawning is idempotent per call id: an existing run (terminal or not)
// is returned unchanged.
func (c *Chat) SpawnAgent(callID, label string) *AgentRun {
	if agent, ok := c.Agents[callID]; ok {
		return agent
	}
	if label == "" {
		label = fmt.Sprintf("Subagent #%d", len(c.Agents)+1)
	}
	conv := NewConversation(callID)
	c.Subagents[conv.ID] = conv
	agent := &AgentRun{
		ID:             callID,
		ConversationID: conv.ID,
		Label:          label,
		Status:         AgentWorking,
	}
	c.Agents[callID] = agent
	c.notify(ChatEvent{Kind: EventAgentChanged, ConversationID: conv.ID, AgentID: callID})
	return agent
}

// AdvanceAgent moves an agent to a terminal status. Transitions only go
// forward: once terminal, further transitions are ignored.
func (c *Chat) AdvanceAgent(callID string, status AgentStatus) bool {
	agent, ok := c.Agents[callID]
	if !ok || agent.Terminal() {
		return false
	}
	if status != AgentCompleted && status != AgentError {
		return false
	}
	agent.Status = status
	c.notify(ChatEvent{Kind: EventAgentChanged, ConversationID: agent.ConversationID, AgentID: callID})
	return true
}

func (c *Chat) setCompacting(on bool) {
	if c.IsCompacting == on {
		return
	}
	c.IsCompacting = on
	c.notify(ChatEvent{Kind: EventCompacting, ConversationID: c.Primary.ID})
}
