package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const promptHistoryLimit = 100

type PromptHistory struct {
	Entries   []string  `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *ArchiveManager) promptHistoryPath(projectID string) string {
	return filepath.Join(a.Root, "history", projectID+".json")
}

// SavePromptHistory persists past user prompts for a project, trimmed,
// deduplicated in order, and capped at the most recent entries.
func (a *ArchiveManager) SavePromptHistory(projectID string, entries []string) error {
	seen := map[string]bool{}
	cleaned := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" || seen[entry] {
			continue
		}
		seen[entry] = true
		cleaned = append(cleaned, entry)
	}
	if len(cleaned) > promptHistoryLimit {
		cleaned = cleaned[len(cleaned)-promptHistoryLimit:]
	}

	if err := os.MkdirAll(filepath.Join(a.Root, "history"), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(PromptHistory{Entries: cleaned, UpdatedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.promptHistoryPath(projectID), data, 0o644)
}

func (a *ArchiveManager) LoadPromptHistory(projectID string) ([]string, error) {
	data, err := os.ReadFile(a.promptHistoryPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var hist PromptHistory
	if err := json.Unmarshal(data, &hist); err != nil {
		return nil, err
	}
	return hist.Entries, nil
}
