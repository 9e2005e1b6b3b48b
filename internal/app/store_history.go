package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ArchiveManager owns per-chat on-disk artifacts: the append-only history
// log and the metadata snapshot.
//
// Layout:
//
//	<root>/projects/<projectID>/<chatID>/history.jsonl
//	<root>/projects/<projectID>/<chatID>/metadata.json
//	<root>/history/<projectID>.json   (prompt history)
type ArchiveManager struct {
	Root  string
	queue *WriteQueue
	log   *Logger
}

func NewArchiveManager(root string, queue *WriteQueue, log *Logger) *ArchiveManager {
	if log == nil {
		log = NewLogger(nil)
	}
	if queue == nil {
		queue = NewWriteQueue(log)
	}
	return &ArchiveManager{Root: root, queue: queue, log: log}
}

func (a *ArchiveManager) chatDir(path ChatPath) string {
	return filepath.Join(a.Root, "projects", path.ProjectID, path.ChatID)
}

func (a *ArchiveManager) historyPath(path ChatPath) string {
	return filepath.Join(a.chatDir(path), "history.jsonl")
}

// Flush waits until every queued append has reached disk.
func (a *ArchiveManager) Flush() {
	a.queue.Flush()
}

// historyRecord is one line of the history file. Type is the on-disk
// discriminator: user | assistant | tool_use | tool_result | system.
type historyRecord struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Subtype   string          `json:"subtype,omitempty"`
	Text      string          `json:"text,omitempty"`
	Thinking  bool            `json:"thinking,omitempty"`
	Model     string          `json:"model,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	PreTokens int             `json:"pre_tokens,omitempty"`
	IsManual  bool            `json:"is_manual,omitempty"`
	OrigType  string          `json:"orig_type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

func recordFromEntry(e *Entry) (historyRecord, bool) {
	rec := historyRecord{
		ID:        e.ID,
		CreatedAt: e.CreatedAt,
	}
	switch e.Kind {
	case EntryText:
		if e.Role == "user" {
			rec.Type = "user"
		} else {
			rec.Type = "assistant"
			rec.Thinking = e.Thinking
			rec.Model = e.Model
		}
		rec.Text = e.Text
	case EntryToolUse:
		rec.Type = "tool_use"
		rec.ToolName = e.ToolName
		rec.CallID = e.CallID
		rec.Input = e.Input
		rec.Model = e.Model
	case EntryContextSummary:
		rec.Type = "system"
		rec.Subtype = "context_summary"
		rec.Text = e.Text
	case EntryCompaction:
		rec.Type = "system"
		rec.Subtype = "compaction"
		rec.PreTokens = e.PreTokens
		rec.IsManual = e.IsManual
	case EntryNotice:
		rec.Type = "system"
		rec.Subtype = "notice"
		rec.Text = e.Text
	case EntryUnknown:
		rec.Type = "system"
		rec.Subtype = "unknown"
		rec.OrigType = e.OrigType
		rec.Payload = e.Payload
	default:
		return historyRecord{}, false
	}
	return rec, true
}

func entryFromRecord(rec historyRecord) *Entry {
	e := &Entry{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
	}
	switch rec.Type {
	case "user":
		e.Kind = EntryText
		e.Role = "user"
		e.Text = rec.Text
	case "assistant":
		e.Kind = EntryText
		e.Role = "assistant"
		e.Thinking = rec.Thinking
		e.Text = rec.Text
		e.Model = rec.Model
	case "tool_use":
		e.Kind = EntryToolUse
		e.ToolName = rec.ToolName
		e.CallID = rec.CallID
		e.Input = rec.Input
		e.Model = rec.Model
	case "system":
		switch rec.Subtype {
		case "context_summary":
			e.Kind = EntryContextSummary
			e.Text = rec.Text
		case "compaction":
			e.Kind = EntryCompaction
			e.PreTokens = rec.PreTokens
			e.IsManual = rec.IsManual
		case "unknown":
			e.Kind = EntryUnknown
			e.OrigType = rec.OrigType
			e.Payload = rec.Payload
		default:
			e.Kind = EntryNotice
			e.Text = rec.Text
		}
	default:
		return nil
	}
	return e
}

// AppendEntry serializes an entry to one line and queues the append.
// Entries with no on-disk representation are dropped here, never upstream.
func (a *ArchiveManager) AppendEntry(path ChatPath, e *Entry) {
	rec, ok := recordFromEntry(e)
	if !ok {
		return
	}
	a.appendRecord(path, rec)
}

// AppendToolResult writes the transient tool_result line that the load-time
// merge folds back into its invocation.
func (a *ArchiveManager) AppendToolResult(path ChatPath, callID, result string, isError bool) {
	a.appendRecord(path, historyRecord{
		Type:      "tool_result",
		CallID:    callID,
		Result:    result,
		IsError:   isError,
		CreatedAt: time.Now(),
	})
}

func (a *ArchiveManager) appendRecord(path ChatPath, rec historyRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		a.log.Error("unserializable history record", map[string]any{"error": err.Error()})
		return
	}
	line = append(line, '\n')
	a.queue.Append(a.historyPath(path), line)
}

// LoadHistory reconstructs a chat's entries from disk. Corrupt bytes decode
// with replacement, unparseable lines are skipped and counted, and
// tool_result lines merge into their invocations so the returned list
// matches what the live dispatcher would have produced.
func (a *ArchiveManager) LoadHistory(path ChatPath) ([]*Entry, int, error) {
	data, err := os.ReadFile(a.historyPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	// A torn write can leave invalid UTF-8; replace rather than fail.
	text := strings.ToValidUTF8(string(data), "�")

	var entries []*Entry
	byCall := map[string]*Entry{}
	skipped := 0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec historyRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		if rec.Type == "tool_result" {
			if inv, ok := byCall[rec.CallID]; ok {
				inv.Result = rec.Result
				inv.HasResult = true
				inv.IsError = rec.IsError
			}
			// A result with no surviving invocation is dropped; pairing is
			// a property of the invocation entry, not a record of its own.
			continue
		}
		entry := entryFromRecord(rec)
		if entry == nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
		if entry.Kind == EntryToolUse && entry.CallID != "" {
			byCall[entry.CallID] = entry
		}
	}
	return entries, skipped, nil
}

// ChatSummary is a lightweight listing row derived from a chat's artifacts.
type ChatSummary struct {
	ChatID       string
	EntryCount   int
	LastActivity time.Time
}

// ListChats summarizes the chats stored for a project without materializing
// their entries.
func (a *ArchiveManager) ListChats(projectID string) ([]ChatSummary, error) {
	dir := filepath.Join(a.Root, "projects", projectID)
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []ChatSummary
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		path := ChatPath{ProjectID: projectID, ChatID: de.Name()}
		summary := ChatSummary{ChatID: de.Name()}
		if data, err := os.ReadFile(a.historyPath(path)); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.TrimSpace(line) != "" {
					summary.EntryCount++
				}
			}
		}
		if info, err := os.Stat(a.historyPath(path)); err == nil {
			summary.LastActivity = info.ModTime()
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}
