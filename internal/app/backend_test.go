package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConsumeDrainsBackendUntilClose(t *testing.T) {
	chat := NewChat("c1")
	h := NewMessageHandler(chat, HandlerOptions{})
	backend := NewMockBackend(8)

	backend.EmitJSON(map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "one"},
	})
	backend.EmitJSON(map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "two"},
	})
	backend.EmitError(errors.New("transient backend error"))
	backend.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Consume(context.Background(), backend)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consume did not return after close")
	}

	if chat.Primary.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", chat.Primary.Len())
	}
}

func TestConsumeStopsOnContextCancel(t *testing.T) {
	chat := NewChat("c1")
	h := NewMessageHandler(chat, HandlerOptions{})
	backend := NewMockBackend(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Consume(ctx, backend)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consume did not honor cancellation")
	}
}
