package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

const defaultPersistTimeout = 3 * time.Second

// Store is the in-memory Entity Store, optionally written through to a shuttle.Persister.
type Store struct {
	mu       sync.RWMutex // guards state
	commitMu sync.Mutex   // serializes version checks, persistence and apply
	state    state
	locks    *keyLocks

	persister      shuttle.Persister
	persistTimeout time.Duration
	nowFn          func() time.Time
	newID          func() string
}

var _ shuttle.Store = (*Store)(nil) // interface compliance check

type Option func(*Store)

// WithPersister writes every commit through p, bounded by timeout.
func WithPersister(p shuttle.Persister, timeout time.Duration) Option {
	return func(s *Store) {
		s.persister = p
		if timeout > 0 {
			s.persistTimeout = timeout
		}
	}
}

// WithRecords seeds the store, eg: with what a shuttle.Loader returned.
func WithRecords(r shuttle.Records) Option {
	return func(s *Store) { s.state = stateFromRecords(r) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		state:          newState(),
		locks:          newKeyLocks(),
		persistTimeout: defaultPersistTimeout,
		nowFn:          func() time.Time { return time.Now().UTC() },
		newID:          func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Records exports a copy of the whole committed state.
func (s *Store) Records() shuttle.Records {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.records()
}

// View runs fn against committed state under a shared lock. fn must not call Update.
func (s *Store) View(ctx context.Context, fn func(v shuttle.View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{st: &s.state})
}

func (s *Store) Update(ctx context.Context, keys []string, fn func(tx shuttle.Tx) error) (shuttle.Outbox, error) {
	release, err := s.locks.acquire(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	t := newTx(s)
	if err := fn(t); err != nil {
		return nil, err
	}
	return s.commit(ctx, t)
}

func (s *Store) commit(ctx context.Context, t *tx) (shuttle.Outbox, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "committing")
	}
	if err := t.checkVersions(); err != nil {
		return nil, err
	}
	changes, outbox := t.changes()
	if changes.Empty() {
		return nil, nil
	}

	if s.persister != nil {
		pctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
		defer cancel()
		if err := s.persister.Persist(pctx, changes); err != nil {
			return nil, core.DependencyFailure(err, "persisting changes")
		}
	}

	s.mu.Lock()
	s.state.apply(changes)
	s.mu.Unlock()

	return outbox, nil
}
