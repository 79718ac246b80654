package ledger

import (
	"sort"
	"sync"
)

// lockTable hands out one mutex per account. Entries are reference counted
// and dropped once no caller holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*accountLock)}
}

// acquire locks every distinct id in ascending order and returns a function
// that releases them. Sorted acquisition makes overlapping callers queue
// instead of deadlocking.
func (t *lockTable) acquire(ids ...string) func() {
	keys := uniqueSorted(ids)

	held := make([]*accountLock, 0, len(keys))
	for _, id := range keys {
		t.mu.Lock()
		l, ok := t.locks[id]
		if !ok {
			l = &accountLock{}
			t.locks[id] = l
		}
		l.refs++
		t.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			t.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(t.locks, keys[i])
			}
			t.mu.Unlock()
		}
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
