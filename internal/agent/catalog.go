package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"example.com/openrobot-bhv/internal/agent/behavior"
)

// ErrUnknownTree is returned when a command names a tree that is not registered.
var ErrUnknownTree = errors.New("unknown tree")

// Catalog holds the named root trees an agent can run. Trees are built once
// and reused for every run.
type Catalog struct {
	mu    sync.RWMutex
	trees map[string]behavior.Composite
}

func NewCatalog() *Catalog {
	return &Catalog{trees: make(map[string]behavior.Composite)}
}

// Register adds a tree. It panics on an empty or duplicate name, since
// catalogs are assembled at startup.
func (c *Catalog) Register(name string, tree behavior.Child) {
	if name == "" {
		panic("agent: empty tree name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.trees[name]; ok {
		panic(fmt.Sprintf("agent: tree %q registered twice", name))
	}
	c.trees[name] = tree.Composite()
}

func (c *Catalog) Get(name string) (behavior.Composite, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tree, ok := c.trees[name]
	if !ok {
		return behavior.Composite{}, fmt.Errorf("%w: %s", ErrUnknownTree, name)
	}
	return tree, nil
}

// Names returns the registered tree names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.trees))
	for name := range c.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
