package permstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/credential"
)

// Refresh outcomes reported to a RefreshObserver.
const (
	OutcomeOK          = "ok"
	OutcomeAnonymous   = "anonymous"
	OutcomeExpired     = "expired"
	OutcomeDenied      = "denied"
	OutcomeUnavailable = "unavailable"
	OutcomeSuperseded  = "superseded"
)

// RefreshObserver is notified of every refresh outcome.
type RefreshObserver interface {
	ObserveRefresh(outcome string)
}

// Invalidator is implemented by credential sources that can forget a
// credential the backend rejected.
type Invalidator interface {
	Invalidate(credential string) bool
}

// State is an immutable snapshot of the store.
type State struct {
	Loading    bool
	Err        error
	Role       *authz.Role
	Matrix     authz.Matrix
	Generation uint64
}

// Snapshot returns the predicate view of the state.
func (s State) Snapshot() authz.Snapshot {
	return authz.Snapshot{Role: s.Role, Matrix: s.Matrix}
}

// Message returns the user facing error text, empty when there is none.
func (s State) Message() string {
	return Message(s.Err)
}

// Options configures a Store.
type Options struct {
	Logger   *slog.Logger
	Observer RefreshObserver
}

// Store holds role and matrix for one session. It starts in the loading
// state and stays there until the first refresh completes.
type Store struct {
	fetcher  Fetcher
	source   credential.Source
	logger   *slog.Logger
	observer RefreshObserver

	mu      sync.Mutex
	state   State
	seq     uint64
	owner   string
	expired bool
	changed chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	unbind func()
}

// New constructs a Store reading credentials from source.
func New(fetcher Fetcher, source credential.Source, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		fetcher:  fetcher,
		source:   source,
		logger:   logger,
		observer: opts.Observer,
		state:    State{Loading: true},
		changed:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bind refreshes the store in the background every time sig fires.
func (s *Store) Bind(sig *credential.Signal) {
	if sig == nil {
		return
	}
	unbind := sig.Subscribe(func() {
		go s.Refresh(s.ctx)
	})
	s.mu.Lock()
	if s.unbind != nil {
		s.unbind()
	}
	s.unbind = unbind
	s.mu.Unlock()
}

// Start runs the initial load in the background.
func (s *Store) Start() {
	go s.Refresh(s.ctx)
}

// Close detaches the store from its signal and abandons in-flight refreshes.
func (s *Store) Close() {
	s.mu.Lock()
	unbind := s.unbind
	s.unbind = nil
	s.mu.Unlock()
	if unbind != nil {
		unbind()
	}
	s.cancel()
}

// WaitLoaded blocks until the store is not loading or ctx is done, and returns
// the state at that point.
func (s *Store) WaitLoaded(ctx context.Context) State {
	for {
		s.mu.Lock()
		state := s.state
		changed := s.changed
		s.mu.Unlock()
		if !state.Loading {
			return state
		}
		select {
		case <-ctx.Done():
			return s.State()
		case <-changed:
		}
	}
}

// Refresh reloads role and matrix for the current credential. Failures are
// recorded in the state, never returned. When refreshes overlap, the one
// started last wins.
func (s *Store) Refresh(ctx context.Context) State {
	cred := s.source.Credential()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	next := s.state
	next.Loading = true
	if cred != s.owner {
		// Never carry a matrix across a credential change.
		next.Role = nil
		next.Matrix = nil
		next.Err = nil
		s.owner = cred
	}
	s.publishLocked(next)
	expired := s.expired
	s.mu.Unlock()

	if cred == "" {
		var err error
		if expired {
			err = ErrSessionExpired
		}
		s.apply(seq, State{Err: err}, OutcomeAnonymous, nil)
		return s.State()
	}

	grant, err := s.fetcher.FetchPermissions(ctx, cred)
	switch {
	case err == nil:
		role := grant.Role
		s.apply(seq, State{Role: &role, Matrix: grant.Matrix.Clone()}, OutcomeOK, func() { s.expired = false })
	case errors.Is(err, ErrNotAuthenticated):
		s.logger.Info("permissions rejected credential")
		applied := s.apply(seq, State{Err: ErrSessionExpired}, OutcomeExpired, func() { s.expired = true })
		if inv, ok := s.source.(Invalidator); ok && applied {
			inv.Invalidate(cred)
		}
	case errors.Is(err, ErrNotAuthorized):
		s.apply(seq, State{Err: ErrNotAuthorized}, OutcomeDenied, func() { s.expired = false })
	default:
		s.logger.Warn("refresh permissions", slog.Any("error", err))
		if !errors.Is(err, ErrUnavailable) {
			err = errors.Join(ErrUnavailable, err)
		}
		s.apply(seq, State{Err: err}, OutcomeUnavailable, func() { s.expired = false })
	}
	return s.State()
}

func (s *Store) apply(seq uint64, next State, outcome string, onApply func()) bool {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		s.observe(OutcomeSuperseded)
		return false
	}
	if onApply != nil {
		onApply()
	}
	next.Loading = false
	s.publishLocked(next)
	s.mu.Unlock()
	s.observe(outcome)
	return true
}

func (s *Store) publishLocked(next State) {
	next.Generation = s.state.Generation + 1
	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveRefresh(outcome)
	}
}
