package shuttle_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core/shuttle"
)

func TestCanTransition(t *testing.T) {
	states := []shuttle.RouteState{
		shuttle.RouteScheduled, shuttle.RouteInProgress, shuttle.RouteCompleted, shuttle.RouteCancelled,
	}
	allowed := map[[2]shuttle.RouteState]bool{
		{shuttle.RouteScheduled, shuttle.RouteInProgress}: true,
		{shuttle.RouteScheduled, shuttle.RouteCancelled}:  true,
		{shuttle.RouteInProgress, shuttle.RouteCompleted}: true,
		{shuttle.RouteInProgress, shuttle.RouteCancelled}: true,
	}
	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]shuttle.RouteState{from, to}], shuttle.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, shuttle.RouteCompleted.Terminal())
	assert.True(t, shuttle.RouteCancelled.Terminal())
	assert.True(t, shuttle.RouteInProgress.Open())
	assert.False(t, shuttle.RouteCancelled.Open())
}

func TestRoute_Enroll(t *testing.T) {
	r := shuttle.Route{Capacity: 3}
	assert.True(t, r.Enroll("s-03"))
	assert.True(t, r.Enroll("s-01"))
	assert.False(t, r.Enroll("s-03"))
	assert.True(t, r.Enroll("s-02"))
	assert.Equal(t, []string{"s-01", "s-02", "s-03"}, r.Enrolled)
	assert.True(t, r.Full())
	assert.True(t, r.IsEnrolled("s-02"))

	assert.True(t, r.Unenroll("s-02"))
	assert.False(t, r.Unenroll("s-02"))
	assert.False(t, r.IsEnrolled("s-02"))
	assert.Equal(t, []string{"s-01", "s-03"}, r.Enrolled)
	assert.False(t, r.Full())
}

func TestClock(t *testing.T) {
	tests := []struct {
		in      string
		want    shuttle.Clock
		wantErr bool
	}{
		{in: "07:30", want: shuttle.Clock{Hour: 7, Minute: 30}},
		{in: "00:00", want: shuttle.Clock{}},
		{in: "23:59", want: shuttle.Clock{Hour: 23, Minute: 59}},
		{in: "24:00", wantErr: true},
		{in: "7h30", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := shuttle.ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}

	day := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.January, 8, 7, 30, 0, 0, time.UTC), shuttle.Clock{Hour: 7, Minute: 30}.On(day))
}

func TestPeriod(t *testing.T) {
	p, err := shuttle.ParsePeriod("2024-01")
	require.NoError(t, err)
	assert.Equal(t, shuttle.Period{Year: 2024, Month: time.January}, p)
	assert.Equal(t, "2024-01", p.String())
	assert.Equal(t, p, shuttle.PeriodOf(time.Date(2024, time.January, 31, 23, 0, 0, 0, time.UTC)))
	assert.True(t, shuttle.Period{}.IsZero())

	_, err = shuttle.ParsePeriod("2024-13")
	assert.Error(t, err)

	var out struct {
		Period    shuttle.Period `json:"period"`
		Departure shuttle.Clock  `json:"departure"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"period":"2023-12","departure":"18:05"}`), &out))
	assert.Equal(t, shuttle.Period{Year: 2023, Month: time.December}, out.Period)
	assert.Equal(t, shuttle.Clock{Hour: 18, Minute: 5}, out.Departure)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":"2023-12","departure":"18:05"}`, string(b))
}

func TestPayment(t *testing.T) {
	due := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		paid        int64
		asOf        time.Time
		outstanding int64
		pastDue     bool
	}{
		{name: "unpaid before due date", asOf: due.Add(-time.Hour), outstanding: 15000},
		{name: "unpaid on due date", asOf: due, outstanding: 15000},
		{name: "unpaid after due date", asOf: due.Add(time.Hour), outstanding: 15000, pastDue: true},
		{name: "partly paid after due date", paid: 5000, asOf: due.AddDate(0, 0, 5), outstanding: 10000, pastDue: true},
		{name: "paid after due date", paid: 15000, asOf: due.AddDate(0, 0, 5)},
		{name: "overpaid", paid: 20000, asOf: due.AddDate(0, 0, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := shuttle.Payment{AmountDue: 15000, AmountPaid: tt.paid, DueDate: due}
			assert.Equal(t, tt.outstanding, p.Outstanding())
			assert.Equal(t, tt.pastDue, p.PastDue(tt.asOf))
		})
	}
}

func TestBus_MaintenanceOverdue(t *testing.T) {
	due := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	assert.False(t, shuttle.Bus{}.MaintenanceOverdue(due))
	assert.False(t, shuttle.Bus{MaintenanceDue: due}.MaintenanceOverdue(due))
	assert.True(t, shuttle.Bus{MaintenanceDue: due}.MaintenanceOverdue(due.Add(time.Minute)))
}

func TestDay(t *testing.T) {
	kin := time.FixedZone("WAT", 3600)
	got := shuttle.Day(time.Date(2024, time.January, 8, 0, 30, 0, 0, kin))
	assert.Equal(t, time.Date(2024, time.January, 7, 0, 0, 0, 0, time.UTC), got)
}
