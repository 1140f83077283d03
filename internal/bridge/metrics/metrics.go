// Package metrics generalizes the reference chain-adapter's
// ChainMetrics/PrometheusMetrics (src/chainadapter/metrics/{metrics,prometheus}.go)
// from per-chain RPC/build/sign/broadcast counters to the coordinator's
// own operational surface: scheduler task outcomes, event tail
// progress, and operation lifecycle transitions.
package metrics

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// CoordinatorMetrics is the interface the scheduler, event tail, and
// coordinator facade record against.
type CoordinatorMetrics interface {
	RecordTaskRun(kind string, duration time.Duration, success bool)
	RecordOperationTransition(from, to string)
	RecordEventsTailed(count int)
	RecordChainpointAdvance(block uint64)
	Snapshot() Snapshot
	Export() string
}

// Snapshot matches the Coordinator query surface's
// get_metrics() -> {cycles, memory, heap} shape, plus task/operation
// counters used internally and exported to Prometheus.
type Snapshot struct {
	Cycles            uint64
	MemoryBytes       uint64
	HeapBytes         uint64
	TaskRuns          map[string]taskCounters
	OperationCounts   map[string]uint64
	EventsTailedTotal uint64
	LastCheckpoint    uint64
}

type taskCounters struct {
	Success  uint64
	Failure  uint64
	TotalDur time.Duration
}

// PrometheusMetrics is the default CoordinatorMetrics implementation,
// exporting Prometheus text format the way PrometheusMetrics.Export
// does for the reference chain-adapter.
type PrometheusMetrics struct {
	mu                sync.Mutex
	cycles            uint64
	taskRuns          map[string]taskCounters
	operationCounts   map[string]uint64
	eventsTailedTotal uint64
	lastCheckpoint    uint64
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		taskRuns:        make(map[string]taskCounters),
		operationCounts: make(map[string]uint64),
	}
}

func (m *PrometheusMetrics) RecordTaskRun(kind string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	c := m.taskRuns[kind]
	c.TotalDur += duration
	if success {
		c.Success++
	} else {
		c.Failure++
	}
	m.taskRuns[kind] = c
}

func (m *PrometheusMetrics) RecordOperationTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operationCounts[to]++
}

func (m *PrometheusMetrics) RecordEventsTailed(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsTailedTotal += uint64(count)
}

func (m *PrometheusMetrics) RecordChainpointAdvance(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block > m.lastCheckpoint {
		m.lastCheckpoint = block
	}
}

func (m *PrometheusMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	taskRuns := make(map[string]taskCounters, len(m.taskRuns))
	for k, v := range m.taskRuns {
		taskRuns[k] = v
	}
	opCounts := make(map[string]uint64, len(m.operationCounts))
	for k, v := range m.operationCounts {
		opCounts[k] = v
	}

	return Snapshot{
		Cycles:            m.cycles,
		MemoryBytes:       memStats.Alloc,
		HeapBytes:         memStats.HeapAlloc,
		TaskRuns:          taskRuns,
		OperationCounts:   opCounts,
		EventsTailedTotal: m.eventsTailedTotal,
		LastCheckpoint:    m.lastCheckpoint,
	}
}

func (m *PrometheusMetrics) Export() string {
	snap := m.Snapshot()
	var sb strings.Builder

	sb.WriteString("# HELP btfbridge_scheduler_cycles_total Total scheduler task runs\n")
	sb.WriteString("# TYPE btfbridge_scheduler_cycles_total counter\n")
	sb.WriteString(fmt.Sprintf("btfbridge_scheduler_cycles_total %d\n\n", snap.Cycles))

	sb.WriteString("# HELP btfbridge_task_runs_total Task runs by kind and outcome\n")
	sb.WriteString("# TYPE btfbridge_task_runs_total counter\n")
	for kind, c := range snap.TaskRuns {
		sb.WriteString(fmt.Sprintf("btfbridge_task_runs_total{kind=%q,status=\"success\"} %d\n", kind, c.Success))
		sb.WriteString(fmt.Sprintf("btfbridge_task_runs_total{kind=%q,status=\"failure\"} %d\n", kind, c.Failure))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP btfbridge_operations_total Operations reaching each state\n")
	sb.WriteString("# TYPE btfbridge_operations_total counter\n")
	for state, count := range snap.OperationCounts {
		sb.WriteString(fmt.Sprintf("btfbridge_operations_total{state=%q} %d\n", state, count))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP btfbridge_events_tailed_total Decoded bridge contract logs delivered to subscribers\n")
	sb.WriteString("# TYPE btfbridge_events_tailed_total counter\n")
	sb.WriteString(fmt.Sprintf("btfbridge_events_tailed_total %d\n\n", snap.EventsTailedTotal))

	sb.WriteString("# HELP btfbridge_checkpoint_block Last block number the event tail checkpointed past\n")
	sb.WriteString("# TYPE btfbridge_checkpoint_block gauge\n")
	sb.WriteString(fmt.Sprintf("btfbridge_checkpoint_block %d\n\n", snap.LastCheckpoint))

	sb.WriteString("# HELP btfbridge_memory_bytes Process resident heap allocation\n")
	sb.WriteString("# TYPE btfbridge_memory_bytes gauge\n")
	sb.WriteString(fmt.Sprintf("btfbridge_memory_bytes %d\n", snap.MemoryBytes))

	return sb.String()
}
