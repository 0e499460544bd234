package behavior

// Decorator runs its child only if the condition holds when the run starts,
// otherwise it fails without starting the child. The condition is checked
// once per run.
type Decorator struct {
	condition Condition
	child     Composite
	active    Task
	settled
}

func NewDecorator(condition Condition, child Child) *Decorator {
	return &Decorator{
		condition: mustCondition(DecoratorName, condition),
		child:     mustChild(DecoratorName, child),
	}
}

func (d *Decorator) Clone() Task {
	return &Decorator{condition: d.condition, child: d.child}
}

func (d *Decorator) Composite() Composite { return Adapt(DecoratorName, d) }

func (d *Decorator) Resume(w Waker) (Status, bool) {
	if d.done {
		return d.status, true
	}
	if d.active == nil {
		if !d.condition() {
			return d.finish(Failure)
		}
		observeStart(w, DecoratorName, d.child, 0, 1)
		d.active = d.child.Start()
	}
	status, done := d.active.Resume(w)
	if !done {
		return running()
	}
	d.active = nil
	return d.finish(status)
}

func (d *Decorator) Abandon() { d.abandonChild(&d.active) }

// DecoratorContinue is an optional execution: the child runs only if the
// condition holds, and the node reports Success whatever happens. Use it for
// "do this if needed, otherwise carry on" steps inside a Sequence.
type DecoratorContinue struct {
	condition Condition
	child     Composite
	active    Task
	settled
}

func NewDecoratorContinue(condition Condition, child Child) *DecoratorContinue {
	return &DecoratorContinue{
		condition: mustCondition(DecoratorContinueName, condition),
		child:     mustChild(DecoratorContinueName, child),
	}
}

func (d *DecoratorContinue) Clone() Task {
	return &DecoratorContinue{condition: d.condition, child: d.child}
}

func (d *DecoratorContinue) Composite() Composite { return Adapt(DecoratorContinueName, d) }

func (d *DecoratorContinue) Resume(w Waker) (Status, bool) {
	if d.done {
		return d.status, true
	}
	if d.active == nil {
		if !d.condition() {
			return d.finish(Success)
		}
		observeStart(w, DecoratorContinueName, d.child, 0, 1)
		d.active = d.child.Start()
	}
	if _, done := d.active.Resume(w); !done {
		return running()
	}
	d.active = nil
	return d.finish(Success)
}

func (d *DecoratorContinue) Abandon() { d.abandonChild(&d.active) }

// InterruptAction runs its child and re-checks the condition every time the
// child is still running. Once the condition is false the child is abandoned
// and the node fails. A child that finishes on its own reports its real
// outcome regardless of the condition.
type InterruptAction struct {
	condition Condition
	child     Composite
	active    Task
	settled
}

func NewInterruptAction(condition Condition, child Child) *InterruptAction {
	return &InterruptAction{
		condition: mustCondition(InterruptActionName, condition),
		child:     mustChild(InterruptActionName, child),
	}
}

func (i *InterruptAction) Clone() Task {
	return &InterruptAction{condition: i.condition, child: i.child}
}

func (i *InterruptAction) Composite() Composite { return Adapt(InterruptActionName, i) }

func (i *InterruptAction) Resume(w Waker) (Status, bool) {
	if i.done {
		return i.status, true
	}
	if i.active == nil {
		observeStart(w, InterruptActionName, i.child, 0, 1)
		i.active = i.child.Start()
	}
	status, done := i.active.Resume(w)
	if done {
		i.active = nil
		return i.finish(status)
	}
	if !i.condition() {
		i.active.Abandon()
		i.active = nil
		observe(w, Event{Kind: EventInterrupt, Node: InterruptActionName, Child: i.child.Name(), Total: 1})
		return i.finish(Failure)
	}
	// keep the driver polling so the condition is checked again
	w.Wake()
	return running()
}

func (i *InterruptAction) Abandon() { i.abandonChild(&i.active) }

// Inverter runs its child and swaps Success and Failure.
type Inverter struct {
	child  Composite
	active Task
	settled
}

func NewInverter(child Child) *Inverter {
	return &Inverter{child: mustChild(InverterName, child)}
}

func (v *Inverter) Clone() Task { return &Inverter{child: v.child} }

func (v *Inverter) Composite() Composite { return Adapt(InverterName, v) }

func (v *Inverter) Resume(w Waker) (Status, bool) {
	if v.done {
		return v.status, true
	}
	if v.active == nil {
		observeStart(w, InverterName, v.child, 0, 1)
		v.active = v.child.Start()
	}
	status, done := v.active.Resume(w)
	if !done {
		return running()
	}
	v.active = nil
	return v.finish(status.Invert())
}

func (v *Inverter) Abandon() { v.abandonChild(&v.active) }
