package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/8001800/charta/storage"
)

// ErrInvalidSnapshot is returned when reverting to an unknown snapshot id.
var ErrInvalidSnapshot = errors.New("state: invalid snapshot id")

// State is a journaled key-value overlay on top of a storage.Database. Writes
// accumulate in memory and reach the backing store only on Commit, which
// flushes them through a single write batch. Snapshot and RevertToSnapshot
// bound multi-step transitions so a failing step leaves no observable
// mutation.
type State struct {
	mu      sync.Mutex
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key      string
	prev     []byte
	hadDirty bool
}

// NewState wraps the given database in an empty overlay.
func NewState(db storage.Database) *State {
	return &State{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

func (s *State) rawGet(key string) ([]byte, bool, error) {
	if value, ok := s.dirty[key]; ok {
		return value, true, nil
	}
	value, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *State) rawPut(key string, value []byte) {
	prev, hadDirty := s.dirty[key]
	s.journal = append(s.journal, journalEntry{key: key, prev: prev, hadDirty: hadDirty})
	s.dirty[key] = append([]byte(nil), value...)
}

// KVGet decodes the stored value for key into out and reports whether the key
// exists.
func (s *State) KVGet(key []byte, out interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.rawGet(string(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", string(key), err)
	}
	return true, nil
}

// KVPut encodes value and stages it under key.
func (s *State) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", string(key), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawPut(string(key), raw)
	return nil
}

// KVAppend appends value to the list stored under key, preserving insertion
// order.
func (s *State) KVAppend(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.rawGet(string(key))
	if err != nil {
		return err
	}
	var list [][]byte
	if ok {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("state: decode list %q: %w", string(key), err)
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("state: encode list %q: %w", string(key), err)
	}
	s.rawPut(string(key), encoded)
	return nil
}

// KVGetList decodes the list stored under key into out. A missing key yields
// an empty list.
func (s *State) KVGetList(key []byte, out *[][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.rawGet(string(key))
	if err != nil {
		return err
	}
	if !ok {
		*out = nil
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Snapshot marks the current journal position. The returned id is only valid
// until the next Commit.
func (s *State) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal)
}

// RevertToSnapshot unwinds every write staged after the given snapshot.
func (s *State) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id > len(s.journal) {
		return ErrInvalidSnapshot
	}
	for i := len(s.journal) - 1; i >= id; i-- {
		entry := s.journal[i]
		if entry.hadDirty {
			s.dirty[entry.key] = entry.prev
		} else {
			delete(s.dirty, entry.key)
		}
	}
	s.journal = s.journal[:id]
	return nil
}

// Commit flushes staged writes to the backing store in one batch and resets
// the journal. Snapshot ids taken before Commit are invalidated.
func (s *State) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		s.journal = nil
		return nil
	}
	batch := s.db.NewBatch()
	for key, value := range s.dirty {
		batch.Put([]byte(key), value)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.journal = nil
	return nil
}
