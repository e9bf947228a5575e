package inmemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// keyLocks hands out one exclusive lock per entity key.
// Locks are channels so that waiting can be abandoned when the context is done.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire locks every key in sorted order, so that two callers never wait on each other in a cycle.
func (kl *keyLocks) acquire(ctx context.Context, keys []string) (func(), error) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k != "" && !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	held := make([]string, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			kl.unlock(held[i])
		}
	}
	for _, k := range sorted {
		if err := kl.lock(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	return release, nil
}

func (kl *keyLocks) lock(ctx context.Context, key string) error {
	kl.mu.Lock()
	l, ok := kl.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		kl.locks[key] = l
	}
	l.refs++
	kl.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		kl.deref(key, l)
		return errors.Wrapf(ctx.Err(), "acquiring lock %s", key)
	}
}

func (kl *keyLocks) unlock(key string) {
	kl.mu.Lock()
	l := kl.locks[key]
	kl.mu.Unlock()

	<-l.ch
	kl.deref(key, l)
}

func (kl *keyLocks) deref(key string, l *keyLock) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(kl.locks, key)
	}
}
