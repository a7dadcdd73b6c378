package permstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snies/snies-admin/internal/credential"
)

// Entry is the per-session pair of credential holder and store.
type Entry struct {
	Holder *credential.Holder
	Store  *Store

	lastSeen time.Time
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Fetcher  Fetcher
	Logger   *slog.Logger
	Observer RefreshObserver
	IdleTTL  time.Duration
}

// Registry owns one Store per dashboard session.
type Registry struct {
	fetcher  Fetcher
	logger   *slog.Logger
	observer RefreshObserver
	idleTTL  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry builds an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		fetcher:  cfg.Fetcher,
		logger:   logger,
		observer: cfg.Observer,
		idleTTL:  ttl,
		now:      time.Now,
		entries:  make(map[string]*Entry),
	}
}

// Acquire returns the entry for sessionID, creating and starting it on first
// use with the given credential.
func (r *Registry) Acquire(sessionID, cred string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[sessionID]; ok {
		entry.lastSeen = r.now()
		return entry
	}
	holder := credential.NewHolder(cred)
	store := New(r.fetcher, holder, Options{Logger: r.logger.With(slog.String("component", "permstore")), Observer: r.observer})
	store.Bind(holder.Signal())
	store.Start()
	entry := &Entry{Holder: holder, Store: store, lastSeen: r.now()}
	r.entries[sessionID] = entry
	return entry
}

// Lookup returns the entry for sessionID without creating it and marks it
// as seen.
func (r *Registry) Lookup(sessionID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if ok {
		entry.lastSeen = r.now()
	}
	return entry, ok
}

// Release tears down the entry of sessionID.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok {
		entry.Store.Close()
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep releases entries idle for longer than the configured TTL.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	var stale []*Entry
	for id, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			stale = append(stale, entry)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
	for _, entry := range stale {
		entry.Store.Close()
	}
	return len(stale)
}

// Invalidate fires the credential signal of every session so each store
// refetches its matrix.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	holders := make([]*credential.Holder, 0, len(r.entries))
	for _, entry := range r.entries {
		holders = append(holders, entry.Holder)
	}
	r.mu.Unlock()
	for _, h := range holders {
		h.Signal().Notify()
	}
}

// Run sweeps idle entries until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept idle permission stores", slog.Int("count", n))
			}
		}
	}
}

// Close releases every entry.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()
	for _, entry := range entries {
		entry.Store.Close()
	}
}

// ListenForInvalidation subscribes to channel and invalidates every store on
// each message. It returns once the subscription is confirmed.
func (r *Registry) ListenForInvalidation(ctx context.Context, client *redis.Client, channel string) error {
	if client == nil {
		return nil
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				r.logger.Info("permission matrix invalidated")
				r.Invalidate()
			}
		}
	}()
	return nil
}
