package view_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/billing"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/view"
	inmemdb "github.com/trezcool/shuttle/storage/database/inmem"
	testutil "github.com/trezcool/shuttle/tests"
)

type directory map[string]shuttle.Role

func (d directory) ActorRole(_ context.Context, actor string) (shuttle.Role, error) {
	if role, ok := d[actor]; ok {
		return role, nil
	}
	return "", core.NewError(core.KindNotFound, "unknown actor %s", actor)
}

var (
	now = time.Date(2024, time.January, 8, 7, 0, 0, 0, time.UTC)
	dir = directory{"admin": shuttle.RoleAdmin, "d-1": shuttle.RoleDriver, "d-2": shuttle.RoleDriver, "s-01": shuttle.RoleStudent}
)

// fixtures: two drivers on the service day, plus one route of d-1 on the next day.
func setup(t *testing.T) (*view.Composer, *inmemdb.Store) {
	t.Helper()
	view.NowFunc = testutil.FixedClock(now)
	t.Cleanup(func() { view.NowFunc = time.Now })

	store := inmemdb.NewStore(inmemdb.WithClock(testutil.FixedClock(now)))
	students := testutil.CreateStudents(t, store, "s", 4)
	testutil.CreateBus(t, store, "b-1", "BUS-1", 30, shuttle.BusOperational)
	testutil.CreateBus(t, store, "b-2", "BUS-2", 30, shuttle.BusOperational)
	testutil.CreateDriver(t, store, "d-1", "Driver One", "b-1", true)
	testutil.CreateDriver(t, store, "d-2", "Driver Two", "b-2", true)
	testutil.CreateRoute(t, store, testutil.RouteFixture{
		ID: "r-1", DriverID: "d-1", BusID: "b-1", Enrolled: students[:2], Confirmed: students[:1],
	})
	testutil.CreateRoute(t, store, testutil.RouteFixture{
		ID: "r-2", DriverID: "d-2", BusID: "b-2", Departure: "08:00", Enrolled: students[1:],
	})
	testutil.CreateRoute(t, store, testutil.RouteFixture{
		ID: "r-3", DriverID: "d-1", BusID: "b-1", ServiceDate: testutil.ServiceDay.AddDate(0, 0, 1), Enrolled: students[:1],
	})

	jan := shuttle.PeriodOf(testutil.ServiceDay)
	due := testutil.ServiceDay.AddDate(0, 0, 2)
	testutil.CreatePayment(t, store, "p-1", "s-01", jan, 15000, 0, due, shuttle.PaymentOverdue)
	testutil.CreatePayment(t, store, "p-2", "s-02", jan, 15000, 15000, due, shuttle.PaymentPaid)

	_, err := store.Update(context.Background(), nil, func(tx shuttle.Tx) error {
		tx.Notify(shuttle.CategoryInfo, shuttle.RouteSubject("r-1"), "r-1 departed")
		tx.Notify(shuttle.CategoryInfo, shuttle.RouteSubject("r-2"), "r-2 departed")
		tx.Notify(shuttle.CategoryWarning, shuttle.BusSubject("b-1"), "b-1 maintenance")
		tx.Notify(shuttle.CategoryWarning, shuttle.StudentSubject("s-01"), "s-01 overdue")
		tx.Notify(shuttle.CategoryWarning, shuttle.StudentSubject("s-02"), "s-02 overdue")
		return nil
	})
	require.NoError(t, err)

	return view.NewComposer(store, dir, core.AttendanceConfig{AtRiskThreshold: .6, AtRiskWindow: 30 * time.Minute}), store
}

func routeIDs(d view.Dashboard) []string {
	ids := []string{}
	for _, c := range d.Routes {
		ids = append(ids, c.Route.ID)
	}
	return ids
}

func messages(d view.Dashboard) []string {
	msgs := []string{}
	for _, n := range d.Notifications {
		msgs = append(msgs, n.Message)
	}
	return msgs
}

func TestComposer_ViewFor(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)
	date := testutil.ServiceDay.Add(15 * time.Hour) // any time of the service day

	tests := []struct {
		name      string
		role      shuttle.Role
		actor     string
		wantRoute []string
		wantMsgs  []string
	}{
		{
			name: "admin", role: shuttle.RoleAdmin, actor: "admin",
			wantRoute: []string{"r-1", "r-2"},
			wantMsgs:  []string{"r-1 departed", "r-2 departed", "b-1 maintenance", "s-01 overdue", "s-02 overdue"},
		},
		{
			name: "driver", role: shuttle.RoleDriver, actor: "d-1",
			wantRoute: []string{"r-1"},
			wantMsgs:  []string{"r-1 departed", "b-1 maintenance"},
		},
		{
			name: "other driver", role: shuttle.RoleDriver, actor: "d-2",
			wantRoute: []string{"r-2"},
			wantMsgs:  []string{"r-2 departed"},
		},
		{
			name: "student", role: shuttle.RoleStudent, actor: "s-01",
			wantRoute: []string{"r-1"},
			wantMsgs:  []string{"s-01 overdue"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dash, err := c.ViewFor(ctx, tt.role, tt.actor, date)
			require.NoError(t, err)
			assert.Equal(t, testutil.ServiceDay, dash.Date)
			assert.Equal(t, tt.wantRoute, routeIDs(dash))
			assert.Equal(t, tt.wantMsgs, messages(dash))

			if tt.role == shuttle.RoleDriver {
				for _, card := range dash.Routes {
					assert.Equal(t, tt.actor, card.Route.DriverID)
				}
			}
			assert.Equal(t, tt.role == shuttle.RoleAdmin, dash.Fleet != nil)
			assert.Equal(t, tt.role == shuttle.RoleAdmin, dash.Billing != nil)
			assert.Equal(t, tt.role == shuttle.RoleStudent, dash.Statement != nil)
		})
	}
}

func TestComposer_ViewForAggregates(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)

	admin, err := c.ViewFor(ctx, shuttle.RoleAdmin, "admin", testutil.ServiceDay)
	require.NoError(t, err)
	require.NotNil(t, admin.Fleet)
	assert.Equal(t, 2, admin.Fleet.Routes)
	assert.Equal(t, 1, admin.Fleet.Confirmed)
	assert.Equal(t, 5, admin.Fleet.Total)
	assert.Equal(t, 1, admin.Fleet.AtRiskRoutes) // r-1: half confirmed, 30 minutes before departure
	assert.Equal(t, billing.MonthlySummary{
		Period:           shuttle.PeriodOf(testutil.ServiceDay),
		TotalBilled:      30000,
		TotalCollected:   15000,
		TotalOutstanding: 15000,
		BilledStudents:   2,
		OverdueStudents:  1,
		DelinquencyRate:  .5,
	}, *admin.Billing)

	driver, err := c.ViewFor(ctx, shuttle.RoleDriver, "d-1", testutil.ServiceDay)
	require.NoError(t, err)
	require.Len(t, driver.Routes, 1)
	assert.Equal(t, 1, driver.Routes[0].Summary.Confirmed)
	assert.Equal(t, 2, driver.Routes[0].Summary.Total)

	student, err := c.ViewFor(ctx, shuttle.RoleStudent, "s-01", testutil.ServiceDay)
	require.NoError(t, err)
	require.NotNil(t, student.Statement)
	require.Len(t, student.Statement.Payments, 1)
	assert.Equal(t, "p-1", student.Statement.Payments[0].ID)
	assert.True(t, student.Statement.Overdue)
}

func TestComposer_ViewForForbidden(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)

	tests := []struct {
		name  string
		role  shuttle.Role
		actor string
	}{
		{name: "student as admin", role: shuttle.RoleAdmin, actor: "s-01"},
		{name: "driver as student", role: shuttle.RoleStudent, actor: "d-1"},
		{name: "admin as driver", role: shuttle.RoleDriver, actor: "admin"},
		{name: "unknown actor", role: shuttle.RoleStudent, actor: "s-99"},
		{name: "unknown role", role: "dean", actor: "admin"},
		{name: "no actor", role: shuttle.RoleAdmin, actor: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ViewFor(ctx, tt.role, tt.actor, testutil.ServiceDay)
			assert.True(t, errors.Is(err, core.ErrForbidden), "got %v", err)
		})
	}
}

func TestComposer_ViewForIsReadOnly(t *testing.T) {
	ctx := context.Background()
	c, store := setup(t)
	before := store.Records()

	for actor, role := range dir {
		_, err := c.ViewFor(ctx, role, actor, testutil.ServiceDay)
		require.NoError(t, err)
	}
	assert.Equal(t, before, store.Records())
}

func TestComposer_MarkRead(t *testing.T) {
	ctx := context.Background()
	c, store := setup(t)
	ids := make(map[string]string)
	for _, n := range testutil.Notifications(t, store) {
		ids[n.Message] = n.ID
	}

	_, err := c.MarkRead(ctx, shuttle.RoleStudent, "s-01", ids["s-02 overdue"])
	assert.True(t, errors.Is(err, core.ErrForbidden), "got %v", err)
	_, err = c.MarkRead(ctx, shuttle.RoleDriver, "d-1", ids["r-2 departed"])
	assert.True(t, errors.Is(err, core.ErrForbidden), "got %v", err)
	_, err = c.MarkRead(ctx, shuttle.RoleAdmin, "admin", "nope")
	assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)

	n, err := c.MarkRead(ctx, shuttle.RoleDriver, "d-1", ids["b-1 maintenance"])
	require.NoError(t, err)
	assert.True(t, n.Read)
	again, err := c.MarkRead(ctx, shuttle.RoleDriver, "d-1", ids["b-1 maintenance"])
	require.NoError(t, err)
	assert.Equal(t, n, again)

	dash, err := c.ViewFor(ctx, shuttle.RoleDriver, "d-1", testutil.ServiceDay)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1 departed"}, messages(dash))
}
