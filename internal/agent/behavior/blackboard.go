package behavior

import (
	"sort"
	"sync"
)

// Blackboard is a thread-safe key/value store that leaf actions and
// conditions read and write. Nodes never keep run state in it.
type Blackboard struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

func NewBlackboard() *Blackboard {
	return &Blackboard{
		data: make(map[string]interface{}),
	}
}

func (b *Blackboard) Set(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func (b *Blackboard) Get(key string) interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data[key]
}

func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

func (b *Blackboard) GetString(key string) string {
	val := b.Get(key)
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

// GetBool treats anything but a true bool as false.
func (b *Blackboard) GetBool(key string) bool {
	val, _ := b.Get(key).(bool)
	return val
}

// Keys returns the stored keys in sorted order.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flag returns a Condition that holds while key is set to true.
func (b *Blackboard) Flag(key string) Condition {
	return func() bool { return b.GetBool(key) }
}
