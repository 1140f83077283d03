package eventlog

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryCheckpointStore is an in-process CheckpointStore. The tail's
// scan position is lost on restart, so the next scan starts again from
// block 1 and re-delivers logs to subscribers; the Operation Store they
// feed dedupes on (tx_hash, log_index), so a re-delivered log does not
// create a second operation.
type MemoryCheckpointStore struct {
	mu        sync.Mutex
	cp        Checkpoint
	blockHash common.Hash
	loaded    bool
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{}
}

func (s *MemoryCheckpointStore) Load(ctx context.Context) (Checkpoint, common.Hash, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp, s.blockHash, s.loaded, nil
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, cp Checkpoint, blockHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp, s.blockHash, s.loaded = cp, blockHash, true
	return nil
}
