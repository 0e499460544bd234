package behavior

// EventKind classifies progress reported by nodes.
type EventKind string

const (
	// EventStart is reported when a node starts a run of one of its children.
	EventStart EventKind = "start"
	// EventInterrupt is reported when an InterruptAction abandons its child.
	EventInterrupt EventKind = "interrupt"
)

// Event describes one step of tree progress.
type Event struct {
	Kind  EventKind `json:"kind"`
	Node  string    `json:"node"`
	Child string    `json:"child"`
	// Index is the child position for containers and the attempt number
	// (starting at 0) for repeat loops.
	Index int `json:"index"`
	// Total is the number of children, or 0 for repeat loops.
	Total int `json:"total"`
}

// Observer is implemented by wakers that want to see tree progress. Nodes
// only report events when the waker they are resumed with is an Observer.
type Observer interface {
	Observe(Event)
}

func observe(w Waker, e Event) {
	if o, ok := w.(Observer); ok {
		o.Observe(e)
	}
}

func observeStart(w Waker, node string, child Composite, index, total int) {
	observe(w, Event{Kind: EventStart, Node: node, Child: child.Name(), Index: index, Total: total})
}
