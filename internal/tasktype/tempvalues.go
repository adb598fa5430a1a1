package tasktype

import (
	"sort"
	"sync"
)

// TempValues is the transient key-value exchange shared by all task contexts
// of one batch run. Keys compare by value. Nothing in it is persisted.
type TempValues struct {
	values map[string]any
	mu     sync.Mutex
}

// NewTempValues creates an empty map
func NewTempValues() *TempValues {
	return &TempValues{values: make(map[string]any)}
}

// Get returns the value stored under key
func (t *TempValues) Get(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[key]
	return v, ok
}

// GetString returns the value under key if it is a string
func (t *TempValues) GetString(key string) (string, bool) {
	v, ok := t.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores value under key, replacing any previous value
func (t *TempValues) Set(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
}

// Delete removes key
func (t *TempValues) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, key)
}

// Keys returns the stored keys, sorted
func (t *TempValues) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
