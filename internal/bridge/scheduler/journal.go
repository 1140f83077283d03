package scheduler

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// journalEntry is one NDJSON line: an enqueue carries the full task,
// complete/drop carry just the id, following the audit package's
// append-only log style.
type journalEntry struct {
	Op      string    `json:"op"` // "enqueue" | "complete" | "drop"
	TaskID  uint64    `json:"task_id"`
	Kind    Kind      `json:"kind,omitempty"`
	OpID    uint64    `json:"op_id,omitempty"`
	Source  string    `json:"source,omitempty"`
	Addr    [20]byte  `json:"addr,omitempty"`
	DueAt   time.Time `json:"due_at,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
}

// journal is an append-only NDJSON write-ahead log for the scheduler's
// durability property: every enqueue and state change is flushed
// before observable effects.
type journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// openJournal replays path to reconstruct in-flight tasks (re-entering
// the ready queue on restart, per "Persistence"), then returns a
// journal appending to the same file.
func openJournal(path string) (*journal, []*Task, map[string]uint64, uint64, error) {
	live := make(map[uint64]*Task)
	leases := make(map[string]uint64)
	var maxID uint64

	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			var e journalEntry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				continue
			}
			switch e.Op {
			case "enqueue":
				live[e.TaskID] = &Task{
					ID: e.TaskID, Kind: e.Kind, OpID: e.OpID, Source: e.Source,
					Addr: e.Addr, DueAt: e.DueAt, Attempt: e.Attempt,
				}
			case "complete", "drop":
				delete(live, e.TaskID)
			}
			if e.TaskID > maxID {
				maxID = e.TaskID
			}
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return nil, nil, nil, 0, err
	}

	tasks := make([]*Task, 0, len(live))
	seq := uint64(0)
	for _, t := range live {
		seq++
		t.seq = seq
		tasks = append(tasks, t)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, nil, nil, 0, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	return &journal{path: path, file: f}, tasks, leases, maxID, nil
}

func (j *journal) append(e journalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *journal) recordEnqueue(t *Task) error {
	return j.append(journalEntry{
		Op: "enqueue", TaskID: t.ID, Kind: t.Kind, OpID: t.OpID,
		Source: t.Source, Addr: t.Addr, DueAt: t.DueAt, Attempt: t.Attempt,
	})
}

func (j *journal) recordComplete(taskID uint64) error {
	return j.append(journalEntry{Op: "complete", TaskID: taskID})
}

func (j *journal) recordDrop(taskID uint64) error {
	return j.append(journalEntry{Op: "drop", TaskID: taskID})
}
