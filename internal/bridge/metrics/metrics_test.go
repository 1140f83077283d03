package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetrics_RecordTaskRunAggregatesByKind(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordTaskRun("DepositScan", 10*time.Millisecond, true)
	m.RecordTaskRun("DepositScan", 20*time.Millisecond, false)
	m.RecordTaskRun("DeliverMintOrder", 5*time.Millisecond, true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.Cycles)
	assert.Equal(t, uint64(1), snap.TaskRuns["DepositScan"].Success)
	assert.Equal(t, uint64(1), snap.TaskRuns["DepositScan"].Failure)
	assert.Equal(t, uint64(1), snap.TaskRuns["DeliverMintOrder"].Success)
}

func TestPrometheusMetrics_RecordOperationTransitionCountsDestinationState(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordOperationTransition("Scheduled", "AwaitingConfirmations")
	m.RecordOperationTransition("AwaitingConfirmations", "Signed")
	m.RecordOperationTransition("Signed", "Finalized")
	m.RecordOperationTransition("Scheduled", "AwaitingConfirmations")

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.OperationCounts["AwaitingConfirmations"])
	assert.Equal(t, uint64(1), snap.OperationCounts["Finalized"])
}

func TestPrometheusMetrics_RecordChainpointAdvanceNeverRegresses(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordChainpointAdvance(100)
	m.RecordChainpointAdvance(50)
	m.RecordChainpointAdvance(150)

	assert.Equal(t, uint64(150), m.Snapshot().LastCheckpoint)
}

func TestPrometheusMetrics_RecordEventsTailedAccumulates(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordEventsTailed(3)
	m.RecordEventsTailed(7)
	assert.Equal(t, uint64(10), m.Snapshot().EventsTailedTotal)
}

func TestPrometheusMetrics_ExportContainsPrometheusFormatMarkers(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordTaskRun("DepositScan", time.Millisecond, true)
	m.RecordOperationTransition("Scheduled", "Finalized")
	m.RecordChainpointAdvance(42)

	out := m.Export()
	assert.Contains(t, out, "# HELP btfbridge_scheduler_cycles_total")
	assert.Contains(t, out, "# TYPE btfbridge_task_runs_total counter")
	assert.Contains(t, out, `btfbridge_task_runs_total{kind="DepositScan",status="success"} 1`)
	assert.Contains(t, out, `btfbridge_operations_total{state="Finalized"} 1`)
	assert.Contains(t, out, "btfbridge_checkpoint_block 42")
	assert.True(t, strings.Count(out, "# HELP") >= 5)
}

func TestNewPrometheusMetrics_StartsAtZero(t *testing.T) {
	snap := NewPrometheusMetrics().Snapshot()
	assert.Equal(t, uint64(0), snap.Cycles)
	assert.Equal(t, uint64(0), snap.EventsTailedTotal)
	assert.Equal(t, uint64(0), snap.LastCheckpoint)
}
