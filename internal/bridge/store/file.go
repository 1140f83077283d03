package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// fileSnapshot is the on-disk representation: one JSON document whose
// schema_version field makes the file self-describing.
type fileSnapshot struct {
	SchemaVersion uint8                `json:"schema_version"`
	NextID        uint64               `json:"next_id"`
	Records       map[uint64]*Operation `json:"operations"`
	Archived      map[uint64]*Operation `json:"operation_archive"`
}

const currentSchemaVersion uint8 = 1

// FileStore persists operations to a JSON file with atomic
// temp-then-rename writes, directly generalizing the reference
// chain-adapter's FileTxStore (src/chainadapter/storage/file.go) from a
// single table to the operations/by_user/by_memo layout, with the
// secondary indices rebuilt from the primary table on load rather than
// persisted redundantly.
type FileStore struct {
	mu       sync.RWMutex
	guard    *perIDGuard
	filePath string
	nextID   uint64
	records  map[uint64]*Operation
	archived map[uint64]*Operation
	byUser   map[[20]byte][]uint64
	byMemo   map[[32]byte]uint64
	byKey    map[string]uint64
}

func NewFileStore(filePath string) (*FileStore, error) {
	s := &FileStore{
		guard:    newPerIDGuard(),
		filePath: filePath,
		nextID:   1,
		records:  make(map[uint64]*Operation),
		archived: make(map[uint64]*Operation),
		byUser:   make(map[[20]byte][]uint64),
		byMemo:   make(map[[32]byte]uint64),
		byKey:    make(map[string]uint64),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load operation store from file: %w", err)
	}
	return s, nil
}

func (s *FileStore) load() error {
	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	if snap.Records == nil {
		snap.Records = make(map[uint64]*Operation)
	}
	if snap.Archived == nil {
		snap.Archived = make(map[uint64]*Operation)
	}
	s.nextID = snap.NextID
	if s.nextID == 0 {
		s.nextID = 1
	}
	s.records = snap.Records
	s.archived = snap.Archived
	s.rebuildIndices()
	return nil
}

func (s *FileStore) rebuildIndices() {
	s.byUser = make(map[[20]byte][]uint64)
	s.byMemo = make(map[[32]byte]uint64)
	s.byKey = make(map[string]uint64)
	for id, op := range s.records {
		s.byUser[op.User] = insertSorted(s.byUser[op.User], id)
		if op.Memo != ([32]byte{}) {
			s.byMemo[op.Memo] = id
		}
		if op.SourceTx != "" {
			s.byKey[op.Key()] = id
		}
	}
}

// persist saves the current state to disk atomically. Must hold the
// write lock.
func (s *FileStore) persist() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	snap := fileSnapshot{
		SchemaVersion: currentSchemaVersion,
		NextID:        s.nextID,
		Records:       s.records,
		Archived:      s.archived,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (s *FileStore) Create(op Operation) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	op.ID = id
	now := op.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	op.CreatedAt, op.UpdatedAt = now, now

	stored := copyOperation(&op)
	s.records[id] = stored
	s.byUser[op.User] = insertSorted(s.byUser[op.User], id)
	if op.Memo != ([32]byte{}) {
		s.byMemo[op.Memo] = id
	}
	if op.SourceTx != "" {
		s.byKey[op.Key()] = id
	}
	if err := s.persist(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *FileStore) Get(id uint64) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if op, ok := s.records[id]; ok {
		return copyOperation(op), nil
	}
	if op, ok := s.archived[id]; ok {
		return copyOperation(op), nil
	}
	return nil, nil
}

func (s *FileStore) Update(id uint64, fn UpdateFunc) error {
	lock := s.guard.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[id]
	if !ok {
		if _, archived := s.archived[id]; archived {
			return errArchived
		}
		return chainerr.Deterministic(chainerr.CodeTxNotFound, "operation not found", nil)
	}

	working := copyOperation(existing)
	prevState := working.State
	if err := fn(working); err != nil {
		return err
	}
	if prevState.IsTerminal() && working.State != prevState {
		return chainerr.Fatal("ERR_TERMINAL_REENTRY", "operation re-entered non-terminal state after reaching a terminal state", nil)
	}
	working.UpdatedAt = time.Now()

	s.records[id] = working
	if working.Memo != ([32]byte{}) {
		s.byMemo[working.Memo] = id
	}
	return s.persist()
}

func (s *FileStore) ByUser(addr [20]byte) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[addr]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *FileStore) ByMemo(memo [32]byte) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMemo[memo]
	return id, ok, nil
}

func (s *FileStore) ByKey(key string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	return id, ok, nil
}

func (s *FileStore) ArchiveOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, op := range s.records {
		if op.State.IsTerminal() && op.UpdatedAt.Before(cutoff) {
			s.archived[id] = op
			delete(s.records, id)
			count++
		}
	}
	if count > 0 {
		if err := s.persist(); err != nil {
			return count, err
		}
	}
	return count, nil
}
