package app

import "time"

// Store is the persistence façade: an index manager for the installation-wide
// project index and an archive manager for per-chat history and metadata.
// Explicit composition, no shared state between the two beyond the root.
type Store struct {
	Index   *IndexManager
	Archive *ArchiveManager

	cfg Config
	log *Logger
}

func NewStore(cfg Config, log *Logger) *Store {
	if log == nil {
		log = NewLogger(nil)
	}
	root := cfg.ResolvedStorageRoot()
	queue := NewWriteQueue(log)
	return &Store{
		Index:   NewIndexManager(root, log),
		Archive: NewArchiveManager(root, queue, log),
		cfg:     cfg,
		log:     log,
	}
}

// OpenChat binds a chat's sinks: a history writer for finalized entries and
// a debounced metadata writer. The metadata snapshot starts from the
// on-disk state when present.
func (s *Store) OpenChat(path ChatPath) (*HistoryWriter, *MetadataWriter) {
	meta, err := s.Archive.LoadMetadata(path)
	if err != nil {
		meta = ChatMetadata{
			Model:          s.cfg.Model,
			BackendType:    "subprocess",
			PermissionMode: s.cfg.PermissionMode,
			CreatedAt:      time.Now(),
		}
	}
	writer := NewMetadataWriter(s.Archive, path, meta, s.cfg.MetadataDebounce())
	return &HistoryWriter{archive: s.Archive, path: path}, writer
}

// Flush drains all queued history appends.
func (s *Store) Flush() {
	s.Archive.Flush()
}

// HistoryWriter adapts the archive manager to the dispatcher's EntrySink for
// one chat.
type HistoryWriter struct {
	archive *ArchiveManager
	path    ChatPath
}

func (w *HistoryWriter) AppendEntry(entry *Entry) {
	w.archive.AppendEntry(w.path, entry)
}

func (w *HistoryWriter) AppendToolResult(callID, result string, isError bool) {
	w.archive.AppendToolResult(w.path, callID, result, isError)
}
