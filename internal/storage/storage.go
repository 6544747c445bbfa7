package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/paxoscluster/paxos/internal/protocol"
)

// FileStorage is the durable Store implementation the design note
// asks for: one JSON record per instance, fsynced before Save returns,
// so a crashed-and-restarted acceptor cannot re-promise at a ballot
// lower than one it already acknowledged. Layout is deliberately simple
// (one file per instance under dir) rather than a single append-only
// log, since instances are never retired or compacted in this core.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage creates dir if needed and returns a Store rooted there.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "storage: create %s", dir)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(id protocol.InstanceID) string {
	return filepath.Join(f.dir, id.String()+".json")
}

// Save writes state to a temp file, fsyncs it, then renames it into
// place. The rename is atomic on the same filesystem, so a reader never
// observes a half-written record; the Sync before rename is what
// actually guarantees the bytes survive a crash.
func (f *FileStorage) Save(state AcceptorState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "storage: marshal state")
	}

	final := f.path(state.InstanceID)
	tmp := final + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "storage: open temp file")
	}
	if _, err := file.Write(body); err != nil {
		file.Close()
		return errors.Wrap(err, "storage: write temp file")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return errors.Wrap(err, "storage: fsync temp file")
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "storage: close temp file")
	}
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrap(err, "storage: rename into place")
	}
	return nil
}

func (f *FileStorage) Load(id protocol.InstanceID) (AcceptorState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return AcceptorState{}, false, nil
	}
	if err != nil {
		return AcceptorState{}, false, errors.Wrap(err, "storage: read state file")
	}

	var state AcceptorState
	if err := json.Unmarshal(body, &state); err != nil {
		return AcceptorState{}, false, errors.Wrap(err, "storage: unmarshal state")
	}
	return state, true, nil
}
