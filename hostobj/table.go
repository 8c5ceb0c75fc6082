package hostobj

import (
	"sync"
)

// Key is an opaque reference to a host object stored in a Table.
// Key 0 is reserved and always invalid.
type Key uint32

// Dropper is optionally implemented by values that need cleanup when
// removed from a table.
type Dropper interface {
	Drop()
}

// Table maps integer keys to host objects. Capability modules store a key
// in a guest object's internal slot instead of the host object itself,
// which keeps the guest object graph free of host references and breaks
// the object-holds-function-holds-object cycle.
type Table struct {
	mu     sync.RWMutex
	items  map[Key]any
	next   Key
	closed bool
}

func NewTable() *Table {
	return &Table{
		items: make(map[Key]any),
		next:  1,
	}
}

// Insert stores value and returns its key. Returns 0 after Close.
func (t *Table) Insert(value any) Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	key := t.next
	t.next++
	t.items[key] = value
	return key
}

// Get retrieves a value by key.
func (t *Table) Get(key Key) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[key]
	return v, ok
}

// Remove drops a value and returns (value, true) if found. Values
// implementing Dropper are dropped.
func (t *Table) Remove(key Key) (any, bool) {
	t.mu.Lock()
	v, ok := t.items[key]
	if ok {
		delete(t.items, key)
	}
	t.mu.Unlock()

	if ok {
		if d, isDropper := v.(Dropper); isDropper {
			d.Drop()
		}
	}
	return v, ok
}

// Len returns the number of stored objects.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Close drops all stored objects and stops accepting inserts.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	items := t.items
	t.items = make(map[Key]any)
	t.mu.Unlock()

	for _, v := range items {
		if d, ok := v.(Dropper); ok {
			d.Drop()
		}
	}
}

// Dispose implements scope.Disposable.
func (t *Table) Dispose() { t.Close() }
