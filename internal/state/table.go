package state

import (
	"sort"
	"strings"
	"sync"
)

// Table is a keyed set of counters. Keys are unique and compared after
// trimming surrounding whitespace; reads of a missing key fall back to the
// caller's default and never create the key.
type Table struct {
	mu    sync.RWMutex
	items map[string]int64
}

func NewTable() *Table {
	return &Table{items: make(map[string]int64)}
}

// Get returns the value for key, or def when the key is absent.
func (t *Table) Get(key string, def int64) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.items[normalizeKey(key)]; ok {
		return v
	}
	return def
}

// Lookup reports whether key is present.
func (t *Table) Lookup(key string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[normalizeKey(key)]
	return v, ok
}

func (t *Table) Set(key string, v int64) {
	key = normalizeKey(key)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[key] = v
}

// Keys returns the stored keys in sorted order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.items))
	for k := range t.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
