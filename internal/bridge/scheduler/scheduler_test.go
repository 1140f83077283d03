package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(BackoffConfig{BaseMs: 10, CapMs: 100}, filepath.Join(t.TempDir(), "journal.ndjson"))
	require.NoError(t, err)
	return s
}

func TestScheduler_NextReturnsHighestPriorityFirst(t *testing.T) {
	s := newScheduler(t)
	now := time.Now()

	_, err := s.Enqueue(KindRefreshTokenPairs, 0, "", [20]byte{}, now)
	require.NoError(t, err)
	_, err = s.Enqueue(KindDeliverMintOrder, 1, "", [20]byte{}, now)
	require.NoError(t, err)
	_, err = s.Enqueue(KindDepositScan, 0, "btc", [20]byte{}, now)
	require.NoError(t, err)

	task, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, KindDeliverMintOrder, task.Kind, "highest-priority ready task must run first")
}

func TestScheduler_FutureTasksStayWaitingUntilDue(t *testing.T) {
	s := newScheduler(t)
	_, err := s.Enqueue(KindDepositScan, 0, "btc", [20]byte{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, ok := s.Next()
	assert.False(t, ok, "a task due in the future must not be returned yet")
}

func TestScheduler_LeaseBlocksSameOperationTask(t *testing.T) {
	s := newScheduler(t)
	now := time.Now()
	_, err := s.Enqueue(KindIssueMintOrder, 42, "", [20]byte{}, now)
	require.NoError(t, err)
	_, err = s.Enqueue(KindDeliverMintOrder, 42, "", [20]byte{}, now)
	require.NoError(t, err)

	first, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(42), first.OpID)

	_, ok = s.Next()
	assert.False(t, ok, "a second task on the same operation must be blocked while the first holds the lease")

	require.NoError(t, s.Complete(first))
	second, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(42), second.OpID)
}

func TestScheduler_CancelForOpDropsQueuedLeaseBearingTasks(t *testing.T) {
	s := newScheduler(t)
	now := time.Now()
	_, err := s.Enqueue(KindIssueMintOrder, 7, "", [20]byte{}, now)
	require.NoError(t, err)

	s.CancelForOp(7)
	_, ok := s.Next()
	assert.False(t, ok, "cancelled operation's lease-bearing task must not run")
}

func TestScheduler_CancelForOpDoesNotDropNonLeaseTasks(t *testing.T) {
	s := newScheduler(t)
	now := time.Now()
	_, err := s.Enqueue(KindDepositScan, 7, "btc", [20]byte{}, now)
	require.NoError(t, err)

	s.CancelForOp(7)
	task, ok := s.Next()
	assert.True(t, ok, "DepositScan has no opID-scoped lease so cancellation of an unrelated opID concept must not affect it")
	assert.Equal(t, KindDepositScan, task.Kind)
}

func TestScheduler_RetryReschedulesWithBackoffAndIncrementsAttempt(t *testing.T) {
	s := newScheduler(t)
	_, err := s.Enqueue(KindDepositScan, 0, "btc", [20]byte{}, time.Now())
	require.NoError(t, err)
	task, ok := s.Next()
	require.True(t, ok)

	before := time.Now()
	require.NoError(t, s.Retry(task))
	assert.Equal(t, 1, task.Attempt)
	assert.True(t, task.DueAt.After(before))

	_, ok = s.Next()
	assert.False(t, ok, "a retried task must not be immediately ready again")
}

func TestBackoffConfig_DelayStaysWithinCap(t *testing.T) {
	c := BackoffConfig{BaseMs: 500, CapMs: 2000}
	for attempt := 0; attempt < 10; attempt++ {
		d := c.delay(attempt)
		assert.LessOrEqual(t, d, 2*time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestBackoffConfig_DelayUsesDefaultsWhenZero(t *testing.T) {
	c := BackoffConfig{}
	d := c.delay(0)
	assert.LessOrEqual(t, d, 30*time.Second)
}

func TestScheduler_JournalReplayRestoresInFlightTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.ndjson")
	s1, err := New(BackoffConfig{BaseMs: 10, CapMs: 100}, path)
	require.NoError(t, err)

	id, err := s1.Enqueue(KindDepositScan, 0, "btc", [20]byte{}, time.Now())
	require.NoError(t, err)

	s2, err := New(BackoffConfig{BaseMs: 10, CapMs: 100}, path)
	require.NoError(t, err)
	task, ok := s2.Next()
	require.True(t, ok, "an enqueued-but-never-completed task must survive a restart via journal replay")
	assert.Equal(t, id, task.ID)
}

func TestScheduler_JournalReplayOmitsCompletedTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.ndjson")
	s1, err := New(BackoffConfig{BaseMs: 10, CapMs: 100}, path)
	require.NoError(t, err)

	_, err = s1.Enqueue(KindDepositScan, 0, "btc", [20]byte{}, time.Now())
	require.NoError(t, err)
	task, ok := s1.Next()
	require.True(t, ok)
	require.NoError(t, s1.Complete(task))

	s2, err := New(BackoffConfig{BaseMs: 10, CapMs: 100}, path)
	require.NoError(t, err)
	_, ok = s2.Next()
	assert.False(t, ok, "a completed task must not reappear after replay")
}

func TestFail_ReleasesLeaseAndDropsTask(t *testing.T) {
	s := newScheduler(t)
	_, err := s.Enqueue(KindIssueMintOrder, 3, "", [20]byte{}, time.Now())
	require.NoError(t, err)
	task, ok := s.Next()
	require.True(t, ok)
	require.NoError(t, s.Fail(task))

	_, err = s.Enqueue(KindDeliverMintOrder, 3, "", [20]byte{}, time.Now())
	require.NoError(t, err)
	next, ok := s.Next()
	require.True(t, ok, "failing a task must release its lease so other tasks on the same operation can run")
	assert.Equal(t, uint64(3), next.OpID)
}
