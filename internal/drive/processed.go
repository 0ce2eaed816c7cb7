package drive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Entry is a terminal outcome for one drive file.
type Entry struct {
	ID     string    `json:"id"`
	Name   string    `json:"name,omitempty"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ProcessedSet is the persisted set of drive-file ids whose handling has
// reached a terminal outcome. The on-disk form is a JSON array; entries are
// either bare id strings or objects with an "id" field. Entries this
// process does not recognise are carried through rewrites untouched, and
// the set never shrinks during a process lifetime.
type ProcessedSet struct {
	path string

	mu      sync.Mutex
	ids     map[string]struct{}
	entries []json.RawMessage
}

// LoadProcessedSet reads the set from path. A missing file yields an empty
// set; an unreadable or malformed file is an error so a corrupt state file
// is noticed instead of triggering mass reprocessing.
func LoadProcessedSet(path string) (*ProcessedSet, error) {
	s := &ProcessedSet{path: path, ids: make(map[string]struct{})}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drive: read processed set %q: %w", path, err)
	}

	if err := json.Unmarshal(raw, &s.entries); err != nil {
		return nil, fmt.Errorf("drive: parse processed set %q: %w", path, err)
	}
	for _, e := range s.entries {
		if id, ok := entryID(e); ok {
			s.ids[id] = struct{}{}
		}
	}

	slog.Info("processed set loaded", "path", path, "entries", len(s.entries))
	return s, nil
}

// entryID extracts the file id from one raw entry: a bare string, or an
// object with an "id" field.
func entryID(raw json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, true
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
		return obj.ID, true
	}
	return "", false
}

// Contains reports whether the file id has reached a terminal outcome.
func (s *ProcessedSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of recorded entries.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Mark records a terminal outcome and persists the whole set atomically.
// Marking an id that is already present is a no-op.
func (s *ProcessedSet) Mark(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[e.ID]; ok {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("drive: encode processed entry: %w", err)
	}
	s.entries = append(s.entries, raw)
	s.ids[e.ID] = struct{}{}

	if err := s.save(); err != nil {
		// Roll back so a later Mark retries the write.
		s.entries = s.entries[:len(s.entries)-1]
		delete(s.ids, e.ID)
		return err
	}
	return nil
}

// save writes the entry list with write-to-temp-then-rename semantics.
// Must be called with s.mu held.
func (s *ProcessedSet) save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("drive: encode processed set: %w", err)
	}

	f, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("drive: stage processed set %q: %w", s.path, err)
	}
	defer f.Cleanup()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("drive: write processed set: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("drive: replace processed set %q: %w", s.path, err)
	}
	return nil
}
