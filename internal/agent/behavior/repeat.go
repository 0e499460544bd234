package behavior

// repeat restarts its child from a fresh run until the child reports until.
type repeat struct {
	name     string
	until    Status
	child    Composite
	active   Task
	attempts int
	settled
}

func (r *repeat) fresh() repeat {
	return repeat{name: r.name, until: r.until, child: r.child}
}

func (r *repeat) Resume(w Waker) (Status, bool) {
	if r.done {
		return r.status, true
	}
	if r.active == nil {
		observeStart(w, r.name, r.child, r.attempts, 0)
		r.active = r.child.Start()
		r.attempts++
	}
	status, done := r.active.Resume(w)
	if !done {
		return running()
	}
	r.active = nil
	if status == r.until {
		return r.finish(status)
	}
	// discard the finished run; the next resume starts a new one
	w.Wake()
	return running()
}

func (r *repeat) Abandon() { r.abandonChild(&r.active) }

// Attempts reports how many child runs this run has started.
func (r *repeat) Attempts() int { return r.attempts }

// UntilSuccess reruns its child until it succeeds.
type UntilSuccess struct {
	repeat
}

func NewUntilSuccess(child Child) *UntilSuccess {
	return &UntilSuccess{repeat{name: UntilSuccessName, until: Success, child: mustChild(UntilSuccessName, child)}}
}

func (u *UntilSuccess) Clone() Task { return &UntilSuccess{u.fresh()} }

func (u *UntilSuccess) Composite() Composite { return Adapt(UntilSuccessName, u) }

// UntilFailure reruns its child until it fails.
type UntilFailure struct {
	repeat
}

func NewUntilFailure(child Child) *UntilFailure {
	return &UntilFailure{repeat{name: UntilFailureName, until: Failure, child: mustChild(UntilFailureName, child)}}
}

func (u *UntilFailure) Clone() Task { return &UntilFailure{u.fresh()} }

func (u *UntilFailure) Composite() Composite { return Adapt(UntilFailureName, u) }
