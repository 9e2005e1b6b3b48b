package app

import "encoding/json"

// Backend supplies the inbound message stream for one chat. The real
// implementation wraps the agent subprocess transport; this core only
// consumes already-deserialized JSON objects from it.
type Backend interface {
	Messages() <-chan json.RawMessage
	Errors() <-chan error
}

// MockBackend is a scripted in-memory backend for tests and transcript
// replay.
type MockBackend struct {
	msgs chan json.RawMessage
	errs chan error
}

func NewMockBackend(buffer int) *MockBackend {
	if buffer <= 0 {
		buffer = 64
	}
	return &MockBackend{
		msgs: make(chan json.RawMessage, buffer),
		errs: make(chan error, 1),
	}
}

func (b *MockBackend) Messages() <-chan json.RawMessage {
	return b.msgs
}

func (b *MockBackend) Errors() <-chan error {
	return b.errs
}

func (b *MockBackend) Emit(raw json.RawMessage) {
	b.msgs <- raw
}

// EmitJSON marshals v and emits it. Marshal failures are sent on the error
// channel instead of panicking.
func (b *MockBackend) EmitJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.errs <- err
		return
	}
	b.msgs <- data
}

func (b *MockBackend) EmitError(err error) {
	b.errs <- err
}

// Close ends the message stream; Consume loops drain and return.
func (b *MockBackend) Close() {
	close(b.msgs)
}
