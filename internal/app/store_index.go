package app

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ChatRef is one chat listed under a worktree in the project index.
type ChatRef struct {
	Name          string `json:"name"`
	ChatID        string `json:"chatId"`
	LastSessionID string `json:"lastSessionId,omitempty"`
}

type Worktree struct {
	Type         string    `json:"type"` // primary|linked
	Name         string    `json:"name"`
	Chats        []ChatRef `json:"chats"`
	BaseOverride string    `json:"baseOverride,omitempty"`
}

type Project struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Worktrees map[string]Worktree `json:"worktrees"`
}

// ProjectIndex maps absolute project root to its record. One index exists
// per installation.
type ProjectIndex map[string]Project

// IndexManager owns the installation-wide project index file. Every save
// backs up the previous file first; a corrupt index degrades to the backup
// and then to an empty index, never to an error the caller must handle.
type IndexManager struct {
	Root string
	log  *Logger
}

func NewIndexManager(root string, log *Logger) *IndexManager {
	if log == nil {
		log = NewLogger(nil)
	}
	return &IndexManager{Root: root, log: log}
}

func (m *IndexManager) indexPath() string {
	return filepath.Join(m.Root, "index.json")
}

func (m *IndexManager) backupPath() string {
	return filepath.Join(m.Root, "index.json.bak")
}

// Load reads the index, restoring from the backup when the primary file is
// corrupt. Both failing yields an empty index: projects can always be
// re-discovered.
func (m *IndexManager) Load() ProjectIndex {
	if idx, err := readIndexFile(m.indexPath()); err == nil {
		return idx
	} else if !os.IsNotExist(err) {
		m.log.Error("index unreadable, trying backup", map[string]any{"error": err.Error()})
	}
	if idx, err := readIndexFile(m.backupPath()); err == nil {
		m.log.Info("index restored from backup", nil)
		return idx
	}
	return ProjectIndex{}
}

// Save backs up the current file, then writes the new index atomically.
func (m *IndexManager) Save(idx ProjectIndex) error {
	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return err
	}
	if current, err := os.ReadFile(m.indexPath()); err == nil {
		if err := os.WriteFile(m.backupPath(), current, 0o644); err != nil {
			m.log.Error("index backup failed", map[string]any{"error": err.Error()})
		}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.indexPath())
}

// RegisterChat records a chat under the given project root and worktree
// path, creating records as needed, and saves the index.
func (m *IndexManager) RegisterChat(projectRoot, worktreePath string, ref ChatRef) error {
	idx := m.Load()

	id, abs, err := ProjectID(projectRoot)
	if err != nil {
		return err
	}
	project, ok := idx[abs]
	if !ok {
		project = Project{
			ID:        id,
			Name:      filepath.Base(abs),
			Worktrees: map[string]Worktree{},
		}
	}
	if worktreePath == "" {
		worktreePath = abs
	}
	wt, ok := project.Worktrees[worktreePath]
	if !ok {
		wtType := "linked"
		if worktreePath == abs {
			wtType = "primary"
		}
		wt = Worktree{Type: wtType, Name: filepath.Base(worktreePath)}
	}
	replaced := false
	for i, existing := range wt.Chats {
		if existing.ChatID == ref.ChatID {
			wt.Chats[i] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		wt.Chats = append(wt.Chats, ref)
	}
	project.Worktrees[worktreePath] = wt
	idx[abs] = project
	return m.Save(idx)
}

func readIndexFile(path string) (ProjectIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx ProjectIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	if idx == nil {
		idx = ProjectIndex{}
	}
	return idx, nil
}
