package credential

import "sync"

// Source exposes the current credential. An empty string means anonymous.
type Source interface {
	Credential() string
}

// Holder is the in-memory credential cell of one session.
type Holder struct {
	mu      sync.RWMutex
	value   string
	revoked string
	signal  Signal
}

// NewHolder returns a Holder seeded with value without notifying anyone.
func NewHolder(value string) *Holder {
	return &Holder{value: value}
}

// Credential returns the current credential.
func (h *Holder) Credential() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Signal returns the change broadcast of this holder.
func (h *Holder) Signal() *Signal {
	return &h.signal
}

// Set replaces the credential (login). Setting the same value is a no-op.
func (h *Holder) Set(value string) {
	h.mu.Lock()
	if h.value == value {
		h.mu.Unlock()
		return
	}
	h.value = value
	if value != "" && value == h.revoked {
		h.revoked = ""
	}
	h.mu.Unlock()
	h.signal.Notify()
}

// Clear drops the credential (logout).
func (h *Holder) Clear() {
	h.Set("")
}

// Invalidate drops value after the server rejected it. The value is remembered
// so a stale copy elsewhere cannot bring it back through Sync. It reports
// whether the current credential was changed.
func (h *Holder) Invalidate(value string) bool {
	if value == "" {
		return false
	}
	h.mu.Lock()
	h.revoked = value
	if h.value != value {
		h.mu.Unlock()
		return false
	}
	h.value = ""
	h.mu.Unlock()
	h.signal.Notify()
	return true
}

// Sync adopts value from persistent storage unless it has been invalidated,
// and returns the credential now in effect.
func (h *Holder) Sync(value string) string {
	h.mu.Lock()
	if value != "" && value == h.revoked {
		current := h.value
		h.mu.Unlock()
		return current
	}
	if h.value == value {
		h.mu.Unlock()
		return value
	}
	h.value = value
	h.mu.Unlock()
	h.signal.Notify()
	return value
}
