package behavior

import (
	"context"
	"sync"
)

// Func adapts a synchronous function into a task that finishes on its first
// resume.
func Func(fn func() Status) Task {
	return &funcTask{fn: fn}
}

type funcTask struct {
	fn func() Status
	settled
}

func (t *funcTask) Resume(Waker) (Status, bool) {
	if t.done {
		return t.status, true
	}
	return t.finish(t.fn())
}

func (t *funcTask) Abandon() {}

// Action wraps a synchronous function as a leaf Composite.
func Action(fn func() Status) Composite {
	if fn == nil {
		panic("behavior: nil action")
	}
	return NewAction(func() Task { return Func(fn) })
}

// Succeed is a leaf that always succeeds.
func Succeed() Composite { return Action(func() Status { return Success }) }

// Fail is a leaf that always fails.
func Fail() Composite { return Action(func() Status { return Failure }) }

// PollFunc adapts a hand-written resume function into a task. The function
// follows the Task.Resume contract, including waking when it has more work.
func PollFunc(fn func(w Waker) (Status, bool)) Task {
	return &pollTask{fn: fn}
}

type pollTask struct {
	fn func(w Waker) (Status, bool)
	settled
}

func (t *pollTask) Resume(w Waker) (Status, bool) {
	if t.done {
		return t.status, true
	}
	status, done := t.fn(w)
	if !done {
		return running()
	}
	return t.finish(status)
}

func (t *pollTask) Abandon() {
	if !t.done {
		t.finish(Failure)
	}
}

// Go runs fn on its own goroutine the first time the task is resumed and
// wakes the driver when fn returns. Abandon cancels ctx and waits for fn to
// return, so any cleanup deferred inside fn has run by then.
//
// fn must not touch the tree; it only produces the leaf outcome.
func Go(fn func(ctx context.Context) Status) Task {
	return &goTask{fn: fn}
}

// GoAction wraps fn as a goroutine-backed leaf Composite.
func GoAction(name string, fn func(ctx context.Context) Status) Composite {
	if fn == nil {
		panic("behavior: nil action for " + name)
	}
	return New(name, func() Task { return Go(fn) })
}

type goTask struct {
	fn     func(ctx context.Context) Status
	cancel context.CancelFunc
	result chan Status
	exited chan struct{}

	mu    sync.Mutex
	waker Waker

	settled
}

func (t *goTask) setWaker(w Waker) {
	t.mu.Lock()
	t.waker = w
	t.mu.Unlock()
}

func (t *goTask) wake() {
	t.mu.Lock()
	w := t.waker
	t.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

func (t *goTask) Resume(w Waker) (Status, bool) {
	if t.done {
		return t.status, true
	}
	t.setWaker(w)
	if t.result == nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.result = make(chan Status, 1)
		t.exited = make(chan struct{})
		go func() {
			defer close(t.exited)
			t.result <- t.fn(ctx)
			t.wake()
		}()
	}
	select {
	case status := <-t.result:
		t.cancel()
		return t.finish(status)
	default:
		return running()
	}
}

func (t *goTask) Abandon() {
	if t.done {
		return
	}
	if t.cancel != nil {
		t.cancel()
		<-t.exited
	}
	t.finish(Failure)
}
