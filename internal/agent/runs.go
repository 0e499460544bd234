package agent

import (
	"errors"
	"sync"
	"time"

	"example.com/openrobot-bhv/internal/agent/behavior"
	"github.com/google/uuid"
)

// ErrBusy is returned when a run is requested while another is active.
var ErrBusy = errors.New("a run is already active")

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunRecord describes one run of a catalog tree.
type RunRecord struct {
	ID         string           `json:"id"`
	Tree       string           `json:"tree"`
	Status     RunStatus        `json:"status"`
	Resumes    int              `json:"resumes"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Events     []behavior.Event `json:"events,omitempty"`
}

func (r RunRecord) snapshot() RunRecord {
	r.Events = append([]behavior.Event(nil), r.Events...)
	return r
}

type activeRun struct {
	record RunRecord
	run    *behavior.Run
	// fresh holds events reported during the current resume
	fresh []behavior.Event
}

// RunManager owns at most one active run. Start, Resume and Cancel must be
// called from the goroutine that drives the trees; Current and Last may be
// called from anywhere.
type RunManager struct {
	mu      sync.RWMutex
	current *activeRun
	last    *RunRecord

	// OnEvent is called for every event a run reports.
	OnEvent func(runID string, e behavior.Event)
	// OnFinish is called once a run has finished or been cancelled.
	OnFinish func(RunRecord)
}

func NewRunManager() *RunManager {
	return &RunManager{}
}

// Start builds a new task tree from root. It rejects the request while
// another run is active.
func (m *RunManager) Start(tree string, root behavior.Composite) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return "", ErrBusy
	}
	active := &activeRun{
		record: RunRecord{
			ID:        uuid.NewString(),
			Tree:      tree,
			Status:    RunStatusRunning,
			StartedAt: time.Now(),
		},
	}
	active.run = behavior.NewRun(root, behavior.WithObserver(func(e behavior.Event) {
		m.mu.Lock()
		active.record.Events = append(active.record.Events, e)
		active.fresh = append(active.fresh, e)
		m.mu.Unlock()
	}))
	m.current = active
	return active.record.ID, nil
}

// Woken fires when the active run wants to be resumed. It returns nil, which
// blocks forever in a select, when nothing is running.
func (m *RunManager) Woken() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	return m.current.run.Woken()
}

// Wake asks for the active run to be resumed, so that its conditions are
// checked again.
func (m *RunManager) Wake() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != nil {
		m.current.run.Wake()
	}
}

// Resume advances the active run once. It reports the final record when the
// run finishes.
func (m *RunManager) Resume() (RunRecord, bool) {
	active := m.active()
	if active == nil {
		return RunRecord{}, false
	}
	// unlocked: leaves may read the manager while they run
	status, done := active.run.Resume()

	m.mu.Lock()
	active.record.Resumes = active.run.Resumes()
	fresh := active.fresh
	active.fresh = nil
	var rec RunRecord
	if done {
		if status == behavior.Success {
			rec = m.finishLocked(RunStatusSuccess)
		} else {
			rec = m.finishLocked(RunStatusFailed)
		}
	}
	m.mu.Unlock()

	m.emit(active.record.ID, fresh)
	if done {
		m.finished(rec)
	}
	return rec, done
}

// Cancel abandons the active run, if any. Leaf cleanups have run by the time
// it returns.
func (m *RunManager) Cancel() (RunRecord, bool) {
	active := m.active()
	if active == nil {
		return RunRecord{}, false
	}
	active.run.Abandon()

	m.mu.Lock()
	fresh := active.fresh
	active.fresh = nil
	rec := m.finishLocked(RunStatusCancelled)
	m.mu.Unlock()

	m.emit(rec.ID, fresh)
	m.finished(rec)
	return rec, true
}

func (m *RunManager) active() *activeRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *RunManager) finishLocked(status RunStatus) RunRecord {
	rec := m.current.record
	rec.Status = status
	rec.FinishedAt = time.Now()
	m.last = &rec
	m.current = nil
	return rec.snapshot()
}

func (m *RunManager) emit(id string, events []behavior.Event) {
	if m.OnEvent == nil {
		return
	}
	for _, e := range events {
		m.OnEvent(id, e)
	}
}

func (m *RunManager) finished(rec RunRecord) {
	if m.OnFinish != nil {
		m.OnFinish(rec)
	}
}

// Current returns a snapshot of the active run.
func (m *RunManager) Current() (RunRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return RunRecord{}, false
	}
	return m.current.record.snapshot(), true
}

// Last returns the most recently finished run.
func (m *RunManager) Last() (RunRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return RunRecord{}, false
	}
	return m.last.snapshot(), true
}
