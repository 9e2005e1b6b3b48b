package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type ContextWindow struct {
	CurrentTokens int `json:"currentTokens"`
	MaxTokens     int `json:"maxTokens"`
}

type UsageTotals struct {
	InputTokens         int     `json:"inputTokens"`
	OutputTokens        int     `json:"outputTokens"`
	CacheReadTokens     int     `json:"cacheReadTokens"`
	CacheCreationTokens int     `json:"cacheCreationTokens"`
	CostUSD             float64 `json:"costUsd"`
}

// ChatMetadata is the wholesale-overwritten snapshot kept next to each
// chat's history file. It is regenerable; the history file is authoritative.
type ChatMetadata struct {
	Model          string        `json:"model"`
	BackendType    string        `json:"backendType"`
	PermissionMode string        `json:"permissionMode"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActiveAt   time.Time     `json:"lastActiveAt"`
	Context        ContextWindow `json:"context"`
	Usage          UsageTotals   `json:"usage"`
}

// MetadataWriter accumulates usage observations and writes the snapshot at
// most once per debounce interval. Each write is atomic relative to itself;
// no ordering is guaranteed against the history file.
type MetadataWriter struct {
	mu       sync.Mutex
	archive  *ArchiveManager
	chatPath ChatPath
	interval time.Duration
	timer    *time.Timer
	snapshot ChatMetadata
	dirty    bool
	log      *Logger
}

// ChatPath identifies one chat's storage location.
type ChatPath struct {
	ProjectID string
	ChatID    string
}

func NewMetadataWriter(archive *ArchiveManager, path ChatPath, initial ChatMetadata, interval time.Duration) *MetadataWriter {
	if interval <= 0 {
		interval = time.Second
	}
	log := NewLogger(nil)
	if archive != nil {
		log = archive.log
	}
	return &MetadataWriter{
		archive:  archive,
		chatPath: path,
		interval: interval,
		snapshot: initial,
		log:      log,
	}
}

// Update mutates the pending snapshot and schedules a debounced write.
func (w *MetadataWriter) Update(fn func(*ChatMetadata)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.snapshot)
	w.snapshot.LastActiveAt = time.Now()
	w.dirty = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.interval, w.flushTimer)
	}
}

// ObserveUsage implements MetadataSink.
func (w *MetadataWriter) ObserveUsage(delta UsageDelta) {
	w.Update(func(m *ChatMetadata) {
		m.Usage.InputTokens += delta.InputTokens
		m.Usage.OutputTokens += delta.OutputTokens
		m.Usage.CacheReadTokens += delta.CacheReadTokens
		m.Usage.CacheCreationTokens += delta.CacheCreationTokens
		m.Usage.CostUSD += delta.CostUSD
	})
}

// ObserveContext implements MetadataSink.
func (w *MetadataWriter) ObserveContext(currentTokens int) {
	w.Update(func(m *ChatMetadata) {
		m.Context.CurrentTokens = currentTokens
	})
}

func (w *MetadataWriter) flushTimer() {
	if err := w.Flush(); err != nil {
		w.log.Error("metadata flush failed", map[string]any{"error": err.Error()})
	}
}

// Flush writes the snapshot now if anything changed.
func (w *MetadataWriter) Flush() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if !w.dirty || w.archive == nil {
		w.mu.Unlock()
		return nil
	}
	snapshot := w.snapshot
	w.dirty = false
	w.mu.Unlock()
	return w.archive.SaveMetadata(w.chatPath, snapshot)
}

func (a *ArchiveManager) metadataPath(path ChatPath) string {
	return filepath.Join(a.chatDir(path), "metadata.json")
}

// SaveMetadata overwrites the snapshot via a temp-file rename so a crash
// never leaves a torn metadata file.
func (a *ArchiveManager) SaveMetadata(path ChatPath, meta ChatMetadata) error {
	dir := a.chatDir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := a.metadataPath(path) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, a.metadataPath(path))
}

func (a *ArchiveManager) LoadMetadata(path ChatPath) (ChatMetadata, error) {
	var meta ChatMetadata
	data, err := os.ReadFile(a.metadataPath(path))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}
