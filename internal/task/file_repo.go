package task

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DataFile is the file NewFileBackend persists to inside its data directory.
const DataFile = "tasks.json"

type memoryState struct {
	Tasks []Record     `json:"tasks"`
	Rules []memoryRule `json:"rules"`
}

type fileStore struct {
	path string
}

// NewFileBackend returns a MemoryBackend persisted to dataDir/DataFile. The
// file is loaded once and rewritten after every mutation.
func NewFileBackend(dataDir string) (*MemoryBackend, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	st := &fileStore{path: filepath.Join(dataDir, DataFile)}
	loaded, err := st.load()
	if err != nil {
		return nil, err
	}

	b := NewMemoryBackend()
	b.rows = loaded.Tasks
	b.rules = loaded.Rules
	b.file = st
	return b, nil
}

func (s *fileStore) load() (memoryState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return memoryState{}, nil
		}
		return memoryState{}, err
	}

	var loaded memoryState
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return memoryState{}, err
	}
	return loaded, nil
}

// save writes a temp file and renames it over the target.
func (s *fileStore) save(st memoryState) error {
	if st.Tasks == nil {
		st.Tasks = []Record{}
	}
	if st.Rules == nil {
		st.Rules = []memoryRule{}
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
