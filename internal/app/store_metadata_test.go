package app

import (
	"testing"
	"time"
)

func TestMetadataSaveAndLoad(t *testing.T) {
	archive := newTestArchive(t)
	path := ChatPath{ProjectID: "p1", ChatID: "c1"}

	meta := ChatMetadata{
		Model:          "claude-sonnet-4-5",
		BackendType:    "subprocess",
		PermissionMode: PermissionModeDefault,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		Context:        ContextWindow{CurrentTokens: 1200, MaxTokens: 200000},
		Usage:          UsageTotals{InputTokens: 10, OutputTokens: 20, CostUSD: 0.003},
	}
	if err := archive.SaveMetadata(path, meta); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := archive.LoadMetadata(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Model != meta.Model || loaded.Usage.CostUSD != meta.Usage.CostUSD {
		t.Fatalf("round trip lost fields: %+v", loaded)
	}
	if loaded.Context.CurrentTokens != 1200 {
		t.Fatalf("context window lost: %+v", loaded.Context)
	}
}

func TestMetadataWriterAccumulatesUsage(t *testing.T) {
	archive := newTestArchive(t)
	path := ChatPath{ProjectID: "p1", ChatID: "c1"}
	w := NewMetadataWriter(archive, path, ChatMetadata{Model: "m"}, 10*time.Millisecond)

	w.ObserveUsage(UsageDelta{InputTokens: 100, OutputTokens: 40, CostUSD: 0.01})
	w.ObserveUsage(UsageDelta{InputTokens: 50, CacheReadTokens: 9000, CostUSD: 0.002})
	w.ObserveContext(12345)
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	loaded, err := archive.LoadMetadata(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Usage.InputTokens != 150 || loaded.Usage.OutputTokens != 40 {
		t.Fatalf("usage not accumulated: %+v", loaded.Usage)
	}
	if loaded.Usage.CacheReadTokens != 9000 {
		t.Fatalf("cache tokens lost: %+v", loaded.Usage)
	}
	if loaded.Context.CurrentTokens != 12345 {
		t.Fatalf("context tokens lost: %+v", loaded.Context)
	}
	if loaded.LastActiveAt.IsZero() {
		t.Fatalf("last active must be stamped")
	}
}

func TestMetadataWriterDebouncesWrites(t *testing.T) {
	archive := newTestArchive(t)
	path := ChatPath{ProjectID: "p1", ChatID: "c1"}
	w := NewMetadataWriter(archive, path, ChatMetadata{}, 20*time.Millisecond)

	for i := 0; i < 10; i++ {
		w.ObserveUsage(UsageDelta{InputTokens: 1})
	}
	// Nothing on disk yet: writes are deferred to the debounce window.
	if _, err := archive.LoadMetadata(path); err == nil {
		t.Fatalf("expected no snapshot before the debounce fires")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		loaded, err := archive.LoadMetadata(path)
		if err == nil {
			if loaded.Usage.InputTokens != 10 {
				t.Fatalf("expected all updates coalesced, got %+v", loaded.Usage)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("debounced write never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMetadataFlushWithoutChangesIsNoop(t *testing.T) {
	archive := newTestArchive(t)
	w := NewMetadataWriter(archive, ChatPath{ProjectID: "p", ChatID: "c"}, ChatMetadata{}, time.Second)
	if err := w.Flush(); err != nil {
		t.Fatalf("flush of clean writer must be a no-op: %v", err)
	}
}
