package behavior

import "context"

// Run drives one task tree built from a root Composite. It is the Waker and
// Observer handed to the tree: wakes from any goroutine are coalesced into a
// single pending signal, and the tree is only ever resumed by the goroutine
// that owns the Run.
type Run struct {
	name     string
	task     Task
	wake     chan struct{}
	observer func(Event)
	resumes  int
	settled
}

// RunOption configures a Run.
type RunOption func(*Run)

// WithObserver receives every event the tree reports.
func WithObserver(fn func(Event)) RunOption {
	return func(r *Run) { r.observer = fn }
}

// NewRun starts a fresh task tree from root. The run is created already
// woken, so the first Resume or Wait call starts the tree.
func NewRun(root Child, opts ...RunOption) *Run {
	c := mustChild("Run", root)
	r := &Run{
		name: c.Name(),
		task: c.Start(),
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Wake()
	return r
}

func (r *Run) Name() string { return r.name }

// Wake implements Waker.
func (r *Run) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Observe implements Observer.
func (r *Run) Observe(e Event) {
	if r.observer != nil {
		r.observer(e)
	}
}

// Woken delivers a value whenever the tree asked to be resumed.
func (r *Run) Woken() <-chan struct{} { return r.wake }

// Resumes reports how many times the root task has been resumed.
func (r *Run) Resumes() int { return r.resumes }

// Done reports whether the run has reached a terminal status.
func (r *Run) Done() (Status, bool) { return r.status, r.done }

// Resume resumes the root task once.
func (r *Run) Resume() (Status, bool) {
	if r.done {
		return r.status, true
	}
	r.resumes++
	status, done := r.task.Resume(r)
	if !done {
		return running()
	}
	return r.finish(status)
}

// Wait drives the tree until it finishes. If ctx ends first the tree is
// abandoned and ctx.Err() is returned along with Failure.
func (r *Run) Wait(ctx context.Context) (Status, error) {
	for {
		select {
		case <-ctx.Done():
			r.Abandon()
			return Failure, ctx.Err()
		case <-r.wake:
		}
		if status, done := r.Resume(); done {
			return status, nil
		}
	}
}

// Abandon stops the tree if it is still running.
func (r *Run) Abandon() {
	if r.done {
		return
	}
	r.task.Abandon()
	r.finish(Failure)
}
