package behavior

// Sequence runs its children in order, one at a time. It succeeds when every
// child succeeds and fails at the first child that fails.
type Sequence struct {
	children []Composite
	cursor   int
	active   Task
	settled
}

func NewSequence(children ...Child) *Sequence {
	return &Sequence{children: mustChildren(SequenceName, children)}
}

func (s *Sequence) Clone() Task { return &Sequence{children: s.children} }

func (s *Sequence) Composite() Composite { return Adapt(SequenceName, s) }

func (s *Sequence) Resume(w Waker) (Status, bool) {
	if s.done {
		return s.status, true
	}
	if len(s.children) == 0 {
		return s.finish(Success)
	}
	if s.active == nil {
		child := s.children[s.cursor]
		observeStart(w, SequenceName, child, s.cursor, len(s.children))
		s.active = child.Start()
	}
	status, done := s.active.Resume(w)
	if !done {
		return running()
	}
	s.active = nil
	if status == Failure {
		return s.finish(Failure)
	}
	if s.cursor+1 >= len(s.children) {
		return s.finish(Success)
	}
	s.cursor++
	// the next child has not been started yet, so nothing else will wake us
	w.Wake()
	return running()
}

func (s *Sequence) Abandon() { s.abandonChild(&s.active) }

// optionalNames tags children that must never make a selector succeed.
var optionalNames = map[string]bool{
	DecoratorContinueName: true,
}

func isOptional(name string) bool { return optionalNames[name] }

// PrioritySelector runs its children in order until one succeeds. It fails
// only when every child fails.
//
// Children named DecoratorContinue are optional: whatever they report is
// treated as Failure, so they run and then hand over to the next sibling.
type PrioritySelector struct {
	children []Composite
	cursor   int
	active   Task
	optional bool
	settled
}

func NewPrioritySelector(children ...Child) *PrioritySelector {
	return &PrioritySelector{children: mustChildren(PrioritySelectorName, children)}
}

func (p *PrioritySelector) Clone() Task { return &PrioritySelector{children: p.children} }

func (p *PrioritySelector) Composite() Composite { return Adapt(PrioritySelectorName, p) }

func (p *PrioritySelector) Resume(w Waker) (Status, bool) {
	if p.done {
		return p.status, true
	}
	if len(p.children) == 0 {
		return p.finish(Failure)
	}
	if p.active == nil {
		child := p.children[p.cursor]
		observeStart(w, PrioritySelectorName, child, p.cursor, len(p.children))
		p.active = child.Start()
		p.optional = isOptional(child.Name())
	}
	status, done := p.active.Resume(w)
	if !done {
		return running()
	}
	p.active = nil
	if p.optional {
		status = Failure
	}
	if status == Success {
		return p.finish(Success)
	}
	if p.cursor+1 >= len(p.children) {
		return p.finish(Failure)
	}
	p.cursor++
	w.Wake()
	return running()
}

func (p *PrioritySelector) Abandon() { p.abandonChild(&p.active) }
