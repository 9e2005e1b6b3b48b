package app

import (
	"strings"
	"sync"
	"time"
)

const (
	PermissionModeDefault     = "default"
	PermissionModeAcceptEdits = "acceptEdits"
	PermissionModeBypass      = "bypassPermissions"
	PermissionModePlan        = "plan"
)

// ParsePermissionMode parses a user-provided permission mode into a
// canonical value.
func ParsePermissionMode(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "_", "-")
	value = strings.ReplaceAll(value, " ", "-")

	switch value {
	case "default", "ask", "prompt":
		return PermissionModeDefault, true
	case "acceptedits", "accept-edits", "auto-edit":
		return PermissionModeAcceptEdits, true
	case "bypasspermissions", "bypass-permissions", "bypass", "yolo":
		return PermissionModeBypass, true
	case "plan", "plan-mode":
		return PermissionModePlan, true
	default:
		return "", false
	}
}

// NormalizePermissionMode returns a valid mode, defaulting to "default".
func NormalizePermissionMode(raw string) string {
	mode, ok := ParsePermissionMode(raw)
	if !ok {
		return PermissionModeDefault
	}
	return mode
}

// PermissionRequest is one outstanding tool-permission prompt, keyed by the
// tool-call id that triggered it.
type PermissionRequest struct {
	CallID    string
	ToolName  string
	CreatedAt time.Time
}

// PermissionRegistry tracks pending permission requests by tool-call id. The
// dispatcher removes a request when the matching tool result arrives, which
// also covers backend-side permission timeouts.
type PermissionRegistry struct {
	mu      sync.Mutex
	pending map[string]PermissionRequest
}

func NewPermissionRegistry() *PermissionRegistry {
	return &PermissionRegistry{pending: map[string]PermissionRequest{}}
}

func (r *PermissionRegistry) Add(req PermissionRequest) {
	if strings.TrimSpace(req.CallID) == "" {
		return
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	r.mu.Lock()
	r.pending[req.CallID] = req
	r.mu.Unlock()
}

func (r *PermissionRegistry) Pending(callID string) (PermissionRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[callID]
	return req, ok
}

func (r *PermissionRegistry) Remove(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[callID]; !ok {
		return false
	}
	delete(r.pending, callID)
	return true
}

func (r *PermissionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *PermissionRegistry) Clear() {
	r.mu.Lock()
	r.pending = map[string]PermissionRequest{}
	r.mu.Unlock()
}
