package guard

import "sync"

const markPrefix = "guard:"

// Marks is the per-session key/value storage the tracker remembers decisions
// in. shared.Session satisfies it.
type Marks interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
}

// Tracker fires one notification per transition into Denied.
type Tracker struct{}

// Observe records decision d for key and reports whether a denial
// notification is due. Loading and Failed leave the record untouched.
func (Tracker) Observe(marks Marks, key string, d Decision) bool {
	if marks == nil {
		return d == Denied
	}
	mark := markPrefix + key
	switch d {
	case Denied:
		if marks.Get(mark) == string(Denied) {
			return false
		}
		marks.Set(mark, string(Denied))
		return true
	case Allowed:
		if marks.Get(mark) != "" {
			marks.Delete(mark)
		}
	}
	return false
}

// MemoryMarks is an in-memory Marks.
type MemoryMarks struct {
	mu     sync.Mutex
	values map[string]string
}

// Get implements Marks.
func (m *MemoryMarks) Get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

// Set implements Marks.
func (m *MemoryMarks) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
}

// Delete implements Marks.
func (m *MemoryMarks) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}
