package exchange

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCompletedCapacity bounds how many completed exchange IDs are
// remembered for spotting late re-entries.
const DefaultCompletedCapacity = 4096

// Table maps exchange IDs to live exchanges. Dispatches of one exchange may
// run on different goroutines; the mutex makes a write in one dispatch
// visible to the read in the next.
type Table struct {
	mu        sync.Mutex
	live      map[string]*Exchange
	completed *lru.Cache
}

// NewTable remembers up to capacity completed IDs.
func NewTable(capacity int) (*Table, error) {
	if capacity <= 0 {
		capacity = DefaultCompletedCapacity
	}
	completed, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("completed exchanges cache: %w", err)
	}
	return &Table{
		live:      make(map[string]*Exchange),
		completed: completed,
	}, nil
}

// Load returns the live exchange for id.
func (t *Table) Load(id string) (*Exchange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	x, ok := t.live[id]
	return x, ok
}

// Insert stores x. It fails if id is live or already completed.
func (t *Table) Insert(x *Exchange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[x.id]; ok {
		return fmt.Errorf("exchange %s: %w", x.id, ErrDuplicate)
	}
	if t.completed.Contains(x.id) {
		return fmt.Errorf("exchange %s: %w", x.id, ErrCompleted)
	}
	t.live[x.id] = x
	return nil
}

// Complete removes id and remembers it as completed. It reports false if id
// was not live, so the caller that wins is the only one to finalize.
func (t *Table) Complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return false
	}
	delete(t.live, id)
	t.completed.Add(id, struct{}{})
	return true
}

// Abandon drops id without remembering it as completed.
func (t *Table) Abandon(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return false
	}
	delete(t.live, id)
	return true
}

// Completed reports whether id completed recently.
func (t *Table) Completed(id string) bool {
	return t.completed.Contains(id)
}

// Len returns the number of live exchanges.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
