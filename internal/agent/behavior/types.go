package behavior

// Status is the outcome of a finished run.
type Status int

const (
	// Failure is the zero value and doubles as the default outcome.
	Failure Status = iota
	Success
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Invert swaps Success and Failure.
func (s Status) Invert() Status {
	if s == Success {
		return Failure
	}
	return Success
}

// Waker is handed to a task on every resume. Calling Wake asks the driver to
// resume the root task again. It is safe to call from any goroutine.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to Waker.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Task is one in-progress run of a Composite. A task is owned by exactly one
// driver; it is never resumed concurrently.
type Task interface {
	// Resume advances the run and reports done=false while it is still in
	// progress. A task that returns done=false with more work ready must
	// call w.Wake first, otherwise nothing will resume it until an outside
	// event does.
	Resume(w Waker) (status Status, done bool)
	// Abandon stops an unfinished run. Every live descendant is abandoned
	// and leaf cleanups have completed when Abandon returns. It is a no-op
	// on a finished run.
	Abandon()
}

// Condition is a shared predicate used by the decorator family.
type Condition func() bool

// running is the result of a resume that has not finished.
func running() (Status, bool) { return Failure, false }

// settled makes the terminal state of a node absorbing.
type settled struct {
	done   bool
	status Status
}

func (s *settled) finish(status Status) (Status, bool) {
	s.done = true
	s.status = status
	return status, true
}

// abandonChild drops an unfinished child run and marks the owner as failed.
func (s *settled) abandonChild(active *Task) {
	if *active != nil {
		(*active).Abandon()
		*active = nil
	}
	if !s.done {
		s.finish(Failure)
	}
}
