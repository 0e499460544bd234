package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// probe is a scripted leaf. Run n reports outcomes[n] (the last outcome
// repeats) after staying pending for `pending` resumes. Pending resumes wake
// the driver straight away, as if the awaited event had already arrived.
type probe struct {
	name     string
	outcomes []Status
	pending  int

	starts   int
	resumes  int
	abandons int
}

func newProbe(name string, pending int, outcomes ...Status) *probe {
	if len(outcomes) == 0 {
		outcomes = []Status{Success}
	}
	return &probe{name: name, outcomes: outcomes, pending: pending}
}

func (p *probe) Composite() Composite {
	return New(p.name, func() Task {
		run := p.starts
		p.starts++
		outcome := p.outcomes[len(p.outcomes)-1]
		if run < len(p.outcomes) {
			outcome = p.outcomes[run]
		}
		return &probeTask{probe: p, outcome: outcome, remaining: p.pending}
	})
}

type probeTask struct {
	probe     *probe
	outcome   Status
	remaining int
	finished  bool
}

func (t *probeTask) Resume(w Waker) (Status, bool) {
	t.probe.resumes++
	if t.remaining > 0 {
		t.remaining--
		w.Wake()
		return Failure, false
	}
	t.finished = true
	return t.outcome, true
}

func (t *probeTask) Abandon() {
	if !t.finished {
		t.probe.abandons++
	}
}

// counter is a condition that records how often it was evaluated.
type counter struct {
	value bool
	calls int
}

func (c *counter) check() bool {
	c.calls++
	return c.value
}

func drive(t *testing.T, root Child) (Status, *Run) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run := NewRun(root)
	status, err := run.Wait(ctx)
	require.NoError(t, err)
	return status, run
}

// nopWaker is used when resuming tasks by hand.
type nopWaker struct{ wakes int }

func (w *nopWaker) Wake() { w.wakes++ }
