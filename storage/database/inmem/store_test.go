package inmemdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
	inmemdb "github.com/trezcool/shuttle/storage/database/inmem"
	testutil "github.com/trezcool/shuttle/tests"
)

var now = time.Date(2024, time.January, 8, 6, 0, 0, 0, time.UTC)

type persister struct {
	mu      sync.Mutex
	err     error
	batches []shuttle.Records
}

func (p *persister) Persist(_ context.Context, changes shuttle.Records) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, changes)
	return nil
}

func newStore(opts ...inmemdb.Option) *inmemdb.Store {
	return inmemdb.NewStore(append([]inmemdb.Option{inmemdb.WithClock(testutil.FixedClock(now))}, opts...)...)
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	testutil.CreateBus(t, store, "b-1", "BUS-1", 28, shuttle.BusOperational)

	outbox, err := store.Update(ctx, []string{shuttle.BusKey("b-1")}, func(tx shuttle.Tx) error {
		b, err := tx.Bus("b-1")
		if err != nil {
			return err
		}
		b.Odometer = 100
		if err := tx.PutBus(b); err != nil {
			return err
		}

		// reads see staged writes
		staged, err := tx.Bus("b-1")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(100), staged.Odometer)
		assert.Len(t, tx.Buses(), 1)

		tx.Notify(shuttle.CategoryInfo, shuttle.BusSubject("b-1"), "first")
		tx.Notify(shuttle.CategoryWarning, shuttle.BusSubject("b-1"), "second")
		assert.Len(t, tx.Notifications(), 2)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, outbox, 2)
	assert.Equal(t, "first", outbox[0].Message)
	assert.Equal(t, "second", outbox[1].Message)
	assert.Equal(t, now, outbox[0].CreatedAt)
	assert.False(t, outbox[0].Read)

	err = store.View(ctx, func(v shuttle.View) error {
		b, err := v.Bus("b-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), b.Odometer)
		assert.Equal(t, 2, b.Version)
		assert.Len(t, v.Notifications(), 2)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	tests := []struct {
		name    string
		fnErr   error
		persist error
		wantErr error
	}{
		{name: "fn fails", fnErr: core.ErrCapacityExceeded, wantErr: core.ErrCapacityExceeded},
		{name: "persister fails", persist: boom, wantErr: core.ErrDependencyFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &persister{}
			store := newStore(inmemdb.WithPersister(p, time.Second))
			students := testutil.CreateStudents(t, store, "s", 2)
			before := store.Records()
			p.err = tt.persist

			outbox, err := store.Update(ctx, []string{shuttle.StudentKey(students[0])}, func(tx shuttle.Tx) error {
				s, err := tx.Student(students[0])
				if err != nil {
					return err
				}
				s.IsActive = false
				if err := tx.PutStudent(s); err != nil {
					return err
				}
				tx.Notify(shuttle.CategoryInfo, shuttle.StudentSubject(s.ID), "deactivated")
				return tt.fnErr
			})
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Nil(t, outbox)
			assert.Equal(t, before, store.Records())
			if tt.persist != nil {
				assert.True(t, errors.Is(err, boom))
			}
		})
	}
}

func TestStore_Persister(t *testing.T) {
	ctx := context.Background()
	p := &persister{}
	store := newStore(inmemdb.WithPersister(p, time.Second))
	testutil.CreateStudent(t, store, "s-01", "Amani", true)

	_, err := store.Update(ctx, nil, func(tx shuttle.Tx) error {
		s, err := tx.Student("s-01")
		if err != nil {
			return err
		}
		s.Name = "Amani K."
		return tx.PutStudent(s)
	})
	require.NoError(t, err)

	// no-op updates are not persisted
	_, err = store.Update(ctx, nil, func(tx shuttle.Tx) error { return nil })
	require.NoError(t, err)

	require.Len(t, p.batches, 2)
	require.Len(t, p.batches[1].Students, 1)
	assert.Equal(t, "Amani K.", p.batches[1].Students[0].Name)
	assert.Equal(t, 2, p.batches[1].Students[0].Version)

	// a store seeded with what was persisted carries on from the same versions
	var seed shuttle.Records
	seed.Students = p.batches[1].Students
	reloaded := newStore(inmemdb.WithRecords(seed))
	_, err = reloaded.Update(ctx, nil, func(tx shuttle.Tx) error {
		s, err := tx.Student("s-01")
		if err != nil {
			return err
		}
		assert.Equal(t, 2, s.Version)
		s.IsActive = false
		return tx.PutStudent(s)
	})
	require.NoError(t, err)
}

func TestStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	stale := testutil.CreateStudent(t, store, "s-01", "Amani", true)

	_, err := store.Update(ctx, nil, func(tx shuttle.Tx) error {
		s, err := tx.Student("s-01")
		if err != nil {
			return err
		}
		s.Name = "Amani K."
		return tx.PutStudent(s)
	})
	require.NoError(t, err)

	_, err = store.Update(ctx, nil, func(tx shuttle.Tx) error {
		stale.Name = "Stale"
		return tx.PutStudent(stale)
	})
	assert.True(t, errors.Is(err, core.ErrConflict), "got %v", err)

	_, err = store.Update(ctx, nil, func(tx shuttle.Tx) error {
		return tx.PutStudent(shuttle.Student{ID: "s-02", Version: 3})
	})
	assert.True(t, errors.Is(err, core.ErrConflict), "got %v", err)

	_, err = store.Update(ctx, nil, func(tx shuttle.Tx) error {
		return tx.PutStudent(shuttle.Student{})
	})
	assert.True(t, errors.Is(err, core.ErrInvalidState), "got %v", err)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	err := store.View(ctx, func(v shuttle.View) error {
		_, err := v.Route("nope")
		return err
	})
	assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)
}

func TestStore_ContextCancelled(t *testing.T) {
	store := newStore()
	testutil.CreateStudent(t, store, "s-01", "Amani", true)

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.View(cctx, func(v shuttle.View) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))

	// waiting on a held lock is abandoned when the deadline passes
	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = store.Update(context.Background(), []string{shuttle.StudentKey("s-01")}, func(tx shuttle.Tx) error {
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	_, err = store.Update(ctx, []string{shuttle.StudentKey("s-01")}, func(tx shuttle.Tx) error {
		ran = true
		return nil
	})
	close(done)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.False(t, ran)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	testutil.CreateBus(t, store, "b-1", "BUS-1", 28, shuttle.BusOperational)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, []string{shuttle.BusKey("b-1")}, func(tx shuttle.Tx) error {
				b, err := tx.Bus("b-1")
				if err != nil {
					return err
				}
				b.Odometer++
				return tx.PutBus(b)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records := store.Records()
	require.Len(t, records.Buses, 1)
	assert.Equal(t, int64(n), records.Buses[0].Odometer)
	assert.Equal(t, n+1, records.Buses[0].Version)
}

func TestStore_RecordsAreCopies(t *testing.T) {
	store := newStore()
	testutil.CreateRoute(t, store, testutil.RouteFixture{ID: "r-1", Enrolled: []string{"s-01", "s-02"}})

	records := store.Records()
	records.Routes[0].Enrolled[0] = "s-99"
	r := store.Records().Routes[0]
	assert.Equal(t, []string{"s-01", "s-02"}, r.Enrolled)
}
