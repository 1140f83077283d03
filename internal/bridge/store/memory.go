package store

import (
	"sync"
	"time"

	"github.com/btfbridge/coordinator/internal/bridge/chainerr"
)

// MemoryStore implements Store using in-memory maps, generalizing the
// reference chain-adapter's MemoryTxStore to the four-table layout.
type MemoryStore struct {
	mu        sync.RWMutex
	guard     *perIDGuard
	nextID    uint64
	records   map[uint64]*Operation
	archived  map[uint64]*Operation
	byUser    map[[20]byte][]uint64
	byMemo    map[[32]byte]uint64
	byKey     map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		guard:    newPerIDGuard(),
		nextID:   1,
		records:  make(map[uint64]*Operation),
		archived: make(map[uint64]*Operation),
		byUser:   make(map[[20]byte][]uint64),
		byMemo:   make(map[[32]byte]uint64),
		byKey:    make(map[string]uint64),
	}
}

func (s *MemoryStore) Create(op Operation) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	op.ID = id
	now := op.CreatedAt
	if now.IsZero() {
		now = op.UpdatedAt
	}
	op.CreatedAt, op.UpdatedAt = now, now

	s.records[id] = copyOperation(&op)
	s.byUser[op.User] = insertSorted(s.byUser[op.User], id)
	if op.Memo != ([32]byte{}) {
		s.byMemo[op.Memo] = id
	}
	if op.SourceTx != "" {
		s.byKey[op.Key()] = id
	}
	return id, nil
}

func (s *MemoryStore) Get(id uint64) (*Operation, error) {
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

func (s *MemoryStore) Update(id uint64, fn UpdateFunc) error {
	lock := s.guard.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	existing, ok := s.records[id]
	s.mu.Unlock()
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = working
	if working.Memo != ([32]byte{}) {
		s.byMemo[working.Memo] = id
	}
	return nil
}

func (s *MemoryStore) ByUser(addr [20]byte) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[addr]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) ByMemo(memo [32]byte) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMemo[memo]
	return id, ok, nil
}

func (s *MemoryStore) ByKey(key string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	return id, ok, nil
}

func (s *MemoryStore) ArchiveOlderThan(cutoff time.Time) (int, error) {
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
	return count, nil
}
