package behavior

import "fmt"

// Node names double as the Composite names produced by each node type.
const (
	ActionName            = "Action"
	SequenceName          = "Sequence"
	PrioritySelectorName  = "PrioritySelector"
	DecoratorName         = "Decorator"
	DecoratorContinueName = "DecoratorContinue"
	InterruptActionName   = "InterruptAction"
	InverterName          = "Inverter"
	UntilSuccessName      = "UntilSuccess"
	UntilFailureName      = "UntilFailure"
)

// Factory creates one fresh run each time it is called.
type Factory func() Task

// Composite is a named, reusable tree definition. Copies share the same
// factory, so a Composite can sit in any number of parents.
type Composite struct {
	name    string
	factory Factory
}

// New builds a Composite from a raw factory. It panics if factory is nil.
func New(name string, factory Factory) Composite {
	if factory == nil {
		panic(fmt.Sprintf("behavior: nil factory for %q", name))
	}
	return Composite{name: name, factory: factory}
}

// NewAction builds a leaf Composite named "Action".
func NewAction(factory Factory) Composite {
	return New(ActionName, factory)
}

func (c Composite) Name() string { return c.name }

// Start creates a new, independent run.
func (c Composite) Start() Task { return c.factory() }

// Composite lets a Composite be passed wherever a Child is accepted.
func (c Composite) Composite() Composite { return c }

func (c Composite) IsZero() bool { return c.factory == nil }

// Child is anything that can be stored as a child of a node.
type Child interface {
	Composite() Composite
}

// Cloner is a node definition that hands out fresh runs of itself.
type Cloner interface {
	Clone() Task
}

// Adapt turns a node definition into a Composite whose factory clones the
// definition on every call.
func Adapt(name string, n Cloner) Composite {
	return New(name, n.Clone)
}

func mustChild(node string, c Child) Composite {
	if c == nil {
		panic(fmt.Sprintf("behavior: nil child for %s", node))
	}
	comp := c.Composite()
	if comp.IsZero() {
		panic(fmt.Sprintf("behavior: zero Composite child for %s", node))
	}
	return comp
}

func mustChildren(node string, children []Child) []Composite {
	out := make([]Composite, len(children))
	for i, c := range children {
		out[i] = mustChild(node, c)
	}
	return out
}

func mustCondition(node string, cond Condition) Condition {
	if cond == nil {
		panic(fmt.Sprintf("behavior: nil condition for %s", node))
	}
	return cond
}
