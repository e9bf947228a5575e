package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/lifecycle"
	"github.com/trezcool/shuttle/core/shuttle"
	inmemdb "github.com/trezcool/shuttle/storage/database/inmem"
	testutil "github.com/trezcool/shuttle/tests"
)

var now = time.Date(2024, time.January, 8, 7, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*lifecycle.Service, *inmemdb.Store) {
	t.Helper()
	store := inmemdb.NewStore(inmemdb.WithClock(testutil.FixedClock(now)))
	return lifecycle.NewService(store), store
}

func TestService_Transitions(t *testing.T) {
	ctx := context.Background()
	states := []shuttle.RouteState{
		shuttle.RouteScheduled, shuttle.RouteInProgress, shuttle.RouteCompleted, shuttle.RouteCancelled,
	}
	ops := map[string]struct {
		to  shuttle.RouteState
		run func(svc *lifecycle.Service, id string) (shuttle.Route, shuttle.Outbox, error)
	}{
		"start": {to: shuttle.RouteInProgress, run: func(svc *lifecycle.Service, id string) (shuttle.Route, shuttle.Outbox, error) {
			return svc.Start(ctx, id, time.Time{})
		}},
		"complete": {to: shuttle.RouteCompleted, run: func(svc *lifecycle.Service, id string) (shuttle.Route, shuttle.Outbox, error) {
			return svc.Complete(ctx, id, time.Time{})
		}},
		"cancel": {to: shuttle.RouteCancelled, run: func(svc *lifecycle.Service, id string) (shuttle.Route, shuttle.Outbox, error) {
			return svc.Cancel(ctx, id, "")
		}},
	}
	allowed := map[shuttle.RouteState]map[string]bool{
		shuttle.RouteScheduled:  {"start": true, "cancel": true},
		shuttle.RouteInProgress: {"complete": true, "cancel": true},
	}

	for _, from := range states {
		for name, op := range ops {
			t.Run(string(from)+" "+name, func(t *testing.T) {
				svc, store := setup(t)
				testutil.CreateRoute(t, store, testutil.RouteFixture{ID: "r-1", State: from})

				route, outbox, err := op.run(svc, "r-1")
				if allowed[from][name] {
					require.NoError(t, err)
					assert.Equal(t, op.to, route.State)
					assert.Len(t, outbox, 1)
					return
				}
				assert.True(t, errors.Is(err, core.ErrInvalidTransition), "got %v", err)
				assert.Empty(t, outbox)
				assert.Empty(t, testutil.Notifications(t, store))
			})
		}
	}
}

func TestService_StartTwice(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	testutil.CreateRoute(t, store, testutil.RouteFixture{ID: "r-1", Destination: "Campus"})

	departed := now.Add(32 * time.Minute)
	route, outbox, err := svc.Start(ctx, "r-1", departed)
	require.NoError(t, err)
	assert.Equal(t, departed, route.DepartedAt)
	assert.Equal(t, 2, route.Version)
	require.Len(t, outbox, 1)
	assert.Equal(t, shuttle.CategoryInfo, outbox[0].Category)
	assert.Equal(t, shuttle.RouteSubject("r-1"), outbox[0].Subject)
	assert.Equal(t, "Route to Campus departed at 07:32", outbox[0].Message)

	_, _, err = svc.Start(ctx, "r-1", departed)
	assert.True(t, errors.Is(err, core.ErrInvalidTransition))

	route, outbox, err = svc.Complete(ctx, "r-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, now, route.ArrivedAt)
	assert.Len(t, outbox, 1)
	assert.Len(t, testutil.Notifications(t, store), 2)
}

func TestService_CompleteScheduled(t *testing.T) {
	svc, store := setup(t)
	testutil.CreateRoute(t, store, testutil.RouteFixture{ID: "r-1"})

	_, _, err := svc.Complete(context.Background(), "r-1", now)
	assert.True(t, errors.Is(err, core.ErrInvalidTransition))
}

func TestService_UnknownRoute(t *testing.T) {
	svc, _ := setup(t)
	_, _, err := svc.Start(context.Background(), "nope", now)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestService_CancelReleasesPending(t *testing.T) {
	svc, store := setup(t)
	students := testutil.CreateStudents(t, store, "s", 30)
	testutil.CreateRoute(t, store, testutil.RouteFixture{
		ID:        "r-1",
		State:     shuttle.RouteInProgress,
		Enrolled:  students,
		Confirmed: students[:20],
	})
	before := make(map[string]shuttle.Attendance)
	for _, a := range testutil.RouteAttendance(t, store, "r-1") {
		before[a.StudentID] = a
	}

	route, outbox, err := svc.Cancel(context.Background(), "r-1", "flat tyre")
	require.NoError(t, err)
	assert.Equal(t, shuttle.RouteCancelled, route.State)
	assert.Equal(t, "flat tyre", route.CancelReason)
	require.Len(t, outbox, 1)
	assert.Equal(t, shuttle.CategoryWarning, outbox[0].Category)
	assert.Contains(t, outbox[0].Message, "flat tyre")

	var confirmed, released int
	for _, a := range testutil.RouteAttendance(t, store, "r-1") {
		switch a.Status {
		case shuttle.AttendanceConfirmed:
			confirmed++
			assert.Equal(t, before[a.StudentID], a, "confirmed records are untouched")
		case shuttle.AttendanceReleased:
			released++
		default:
			t.Errorf("unexpected status %s for %s", a.Status, a.StudentID)
		}
	}
	assert.Equal(t, 20, confirmed)
	assert.Equal(t, 10, released)

	_, _, err = svc.Cancel(context.Background(), "r-1", "")
	assert.True(t, errors.Is(err, core.ErrInvalidTransition))
}

func TestService_ConcurrentStart(t *testing.T) {
	svc, store := setup(t)
	testutil.CreateRoute(t, store, testutil.RouteFixture{ID: "r-1"})

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _, err := svc.Start(context.Background(), "r-1", now)
			errs <- err
		}()
	}
	var ok, rejected int
	for i := 0; i < n; i++ {
		if err := <-errs; err == nil {
			ok++
		} else if errors.Is(err, core.ErrInvalidTransition) {
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, rejected)
	assert.Len(t, testutil.Notifications(t, store), 1)
}
