// Package scheduler implements the Task Scheduler: a durable,
// cooperative, single-threaded priority queue of named task kinds with
// retry/backoff, per-operation leases, and cancellation on terminal
// operation state.
//
// The due-task priority queue generalizes the reference repo's
// ratelimit.RateLimiter sliding-window bookkeeping
// (internal/services/ratelimit/limiter.go) from "attempts in a window"
// to "due tasks in a priority queue"; durable persistence follows the
// audit package's append-only NDJSON log style
// (internal/services/audit/logger.go); backoff numbers reuse the
// reference rpc.SimpleHealthTracker circuit-breaker thresholds
// (src/chainadapter/rpc/health.go) recast as the full-jitter formula.
package scheduler

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"
)

// Kind names the scheduler's task kinds.
type Kind string

const (
	KindCollectEvmEvents  Kind = "CollectEvmEvents"
	KindDepositScan       Kind = "DepositScan"
	KindIssueMintOrder    Kind = "IssueMintOrder"
	KindDeliverMintOrder  Kind = "DeliverMintOrder"
	KindRefreshTokenPairs Kind = "RefreshTokenPairs"
)

// priority returns the preemption rank for a kind; higher runs first
// among tasks that are simultaneously due. Event collection and order
// delivery preempt background pair refresh, per the ordering guarantee.
func priority(k Kind) int {
	switch k {
	case KindCollectEvmEvents, KindDeliverMintOrder:
		return 100
	case KindIssueMintOrder:
		return 80
	case KindDepositScan:
		return 60
	case KindRefreshTokenPairs:
		return 40
	default:
		return 0
	}
}

// leaseKey returns the operation-scoped lease key a task holds, or ""
// if the kind doesn't need mutual exclusion.
func leaseKey(k Kind, opID uint64) string {
	switch k {
	case KindIssueMintOrder, KindDeliverMintOrder:
		return "op:" + itoa(opID)
	default:
		return ""
	}
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Task is one unit of scheduled work.
type Task struct {
	ID         uint64
	Kind       Kind
	OpID       uint64   // set for IssueMintOrder/DeliverMintOrder
	Source     string   // set for DepositScan
	Addr       [20]byte // recipient, set for DepositScan/IssueMintOrder/DeliverMintOrder
	DueAt      time.Time
	Attempt    int
	EnqueuedAt time.Time
	seq        uint64
	cancelled  bool
}

// Handler executes a task body. Which returned errors reschedule the
// task with backoff and which fail it permanently is decided by the
// caller that drives the scheduler (the coordinator retries Transient,
// ConfirmationPending and StateDivergence errors and fails the rest,
// having already transitioned the owning operation where needed).
type Handler func(ctx taskContext, t Task) error

// taskContext is the narrow context handlers receive; defined here (not
// imported from the standard context package) because handlers must
// also observe cancellation via the owning operation, not just ctx.Done.
type taskContext struct {
	Cancelled func() bool
}

// BackoffConfig tunes the retry delay.
type BackoffConfig struct {
	BaseMs uint64
	CapMs  uint64
}

func (c BackoffConfig) delay(attempt int) time.Duration {
	base := c.BaseMs
	if base == 0 {
		base = 500
	}
	capMs := c.CapMs
	if capMs == 0 {
		capMs = 30_000
	}
	raw := base << uint(minInt(attempt, 20))
	if raw > capMs || raw < base {
		raw = capMs
	}
	return time.Duration(rand.Int63n(int64(raw)+1)) * time.Millisecond
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// taskHeap orders ready tasks by priority desc, then earliest DueAt,
// then FIFO enqueue order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	pi, pj := priority(h[i].Kind), priority(h[j].Kind)
	if pi != pj {
		return pi > pj
	}
	if !h[i].DueAt.Equal(h[j].DueAt) {
		return h[i].DueAt.Before(h[j].DueAt)
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler is the cooperative single-threaded Task Scheduler.
type Scheduler struct {
	mu       sync.Mutex
	ready    taskHeap
	waiting  []*Task // due in the future, checked on each Tick
	leases   map[string]uint64 // lease key -> holding task id
	cancelledOps map[uint64]bool
	nextID   uint64
	nextSeq  uint64
	backoff  BackoffConfig
	journal  *journal
}

func New(backoff BackoffConfig, journalPath string) (*Scheduler, error) {
	j, tasks, leases, nextID, err := openJournal(journalPath)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		leases:       leases,
		cancelledOps: make(map[uint64]bool),
		nextID:       nextID,
		backoff:      backoff,
		journal:      j,
	}
	for _, t := range tasks {
		s.waiting = append(s.waiting, t)
	}
	s.promoteDue(time.Now())
	return s, nil
}

// Enqueue durably records and schedules a new task, returning its id.
// Persistence happens before the call returns, per the scheduler's
// durability property.
func (s *Scheduler) Enqueue(kind Kind, opID uint64, source string, addr [20]byte, dueAt time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.nextSeq++
	t := &Task{
		ID: s.nextID, Kind: kind, OpID: opID, Source: source, Addr: addr,
		DueAt: dueAt, EnqueuedAt: time.Now(), seq: s.nextSeq,
	}
	if err := s.journal.recordEnqueue(t); err != nil {
		return 0, err
	}
	if dueAt.After(time.Now()) {
		s.waiting = append(s.waiting, t)
	} else {
		heap.Push(&s.ready, t)
	}
	return t.ID, nil
}

// CancelForOp logically cancels every scheduled task tagged with opID,
// per "an operation transitioning to Failed or Finalized logically
// cancels any scheduled tasks tagged with its id".
func (s *Scheduler) CancelForOp(opID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelledOps[opID] = true
}

func (s *Scheduler) promoteDue(now time.Time) {
	remaining := s.waiting[:0]
	for _, t := range s.waiting {
		if !t.DueAt.After(now) {
			heap.Push(&s.ready, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	s.waiting = remaining
}

// Next pops the highest-priority ready task that isn't cancelled or
// lease-blocked, acquiring its lease. Returns (nil, false) if nothing
// is runnable right now.
func (s *Scheduler) Next() (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteDue(time.Now())

	var deferred []*Task
	defer func() {
		for _, t := range deferred {
			heap.Push(&s.ready, t)
		}
	}()

	for s.ready.Len() > 0 {
		t := heap.Pop(&s.ready).(*Task)
		if s.cancelledOps[t.OpID] && (t.Kind == KindIssueMintOrder || t.Kind == KindDeliverMintOrder) {
			s.journal.recordDrop(t.ID)
			continue
		}
		key := leaseKey(t.Kind, t.OpID)
		if key != "" {
			if _, held := s.leases[key]; held {
				deferred = append(deferred, t)
				continue
			}
			s.leases[key] = t.ID
		}
		return t, true
	}
	return nil, false
}

// Complete releases t's lease and marks it durably done.
func (s *Scheduler) Complete(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLease(t)
	return s.journal.recordComplete(t.ID)
}

// Retry releases t's lease and reschedules it at now + backoff(attempt)
// for transient failures.
func (s *Scheduler) Retry(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLease(t)
	t.Attempt++
	t.DueAt = time.Now().Add(s.backoff.delay(t.Attempt))
	if err := s.journal.recordEnqueue(t); err != nil {
		return err
	}
	s.waiting = append(s.waiting, t)
	return nil
}

// Fail releases t's lease and durably drops it (the caller has already
// transitioned the owning operation to Failed).
func (s *Scheduler) Fail(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLease(t)
	return s.journal.recordDrop(t.ID)
}

func (s *Scheduler) releaseLease(t *Task) {
	key := leaseKey(t.Kind, t.OpID)
	if key == "" {
		return
	}
	if holder, ok := s.leases[key]; ok && holder == t.ID {
		delete(s.leases, key)
	}
}
