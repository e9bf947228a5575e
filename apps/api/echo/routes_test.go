package echoapi_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core/registry"
)

type routeBody struct {
	ID       string   `json:"id"`
	DriverID string   `json:"driver_id"`
	BusID    string   `json:"bus_id"`
	Capacity int      `json:"capacity"`
	State    string   `json:"state"`
	Enrolled []string `json:"enrolled"`
}

func routeIDs(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var list []routeBody
	decode(t, rec, &list)
	ids := []string{}
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestRouteAPI_Query(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name  string
		token string
		query string
		want  []string
	}{
		{name: "admin sees all", token: f.token(t, f.admin), want: []string{"r-1", "r-2"}},
		{name: "admin filters by driver", token: f.token(t, f.admin), query: "?driver_id=d-2", want: []string{"r-2"}},
		{name: "admin filters by date", token: f.token(t, f.admin), query: "?date=2024-01-09", want: []string{}},
		{name: "driver sees own routes", token: f.token(t, f.driver1), want: []string{"r-1"}},
		{name: "driver cannot widen the filter", token: f.token(t, f.driver1), query: "?driver_id=d-2", want: []string{"r-1"}},
		{name: "student sees enrolled routes", token: f.token(t, f.student3), want: []string{"r-2"}},
		{name: "by state", token: f.token(t, f.admin), query: "?state=in_progress", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, request{path: "/v1/routes" + tt.query, token: tt.token})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, routeIDs(t, rec))
		})
	}

	rec := f.do(t, request{path: "/v1/routes?date=08-01-2024", token: f.token(t, f.admin)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteAPI_Visibility(t *testing.T) {
	f := setup(t)

	checkErrors(t, f, []httpErrTest{
		{
			name: "other driver's route", req: request{path: "/v1/routes/r-1", token: f.token(t, f.driver2)},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name: "route of other students", req: request{path: "/v1/routes/r-1", token: f.token(t, f.student3)},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name:     "students do not operate routes",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-1/start", token: f.token(t, f.student1)},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name:     "students do not read the roll call",
			req:      request{path: "/v1/routes/r-1/attendance", token: f.token(t, f.student1)},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name: "unknown route", req: request{path: "/v1/routes/r-9", token: f.token(t, f.admin)},
			wantCode: http.StatusNotFound, wantKind: "NOT_FOUND",
		},
	})

	rec := f.do(t, request{path: "/v1/routes/r-1", token: f.token(t, f.student1)})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouteAPI_ScheduleAndEnroll(t *testing.T) {
	f := setup(t)
	admin := f.token(t, f.admin)

	nr := registry.NewRoute{
		Destination: "Campus", BoardingPoint: "Main Gate", ServiceDate: "2024-01-09", Departure: "07:30",
		EstimatedDuration: 45, DriverID: "d-2",
	}
	rec := f.do(t, request{method: http.MethodPost, path: "/v1/routes", token: f.token(t, f.driver2), body: nr})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, request{method: http.MethodPost, path: "/v1/routes", token: admin, body: nr})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r routeBody
	decode(t, rec, &r)
	assert.Equal(t, "b-2", r.BusID)
	assert.Equal(t, 30, r.Capacity)
	assert.Equal(t, "scheduled", r.State)

	enrollments := fmt.Sprintf("/v1/routes/%s/enrollments", r.ID)
	rec = f.do(t, request{method: http.MethodPost, path: enrollments, token: admin, body: map[string]string{"student_id": "s-01"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &r)
	assert.Equal(t, []string{"s-01"}, r.Enrolled)

	rec = f.do(t, request{method: http.MethodDelete, path: enrollments + "/s-01", token: admin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &r)
	assert.Empty(t, r.Enrolled)

	checkErrors(t, f, []httpErrTest{
		{
			name:     "invalid departure",
			req:      request{method: http.MethodPost, path: "/v1/routes", token: admin, body: map[string]string{"destination": "Campus", "departure": "7h30"}},
			wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
		{
			name:     "unenroll twice",
			req:      request{method: http.MethodDelete, path: enrollments + "/s-01", token: admin},
			wantCode: http.StatusUnprocessableEntity, wantKind: "NOT_ENROLLED", wantMessage: "student is not enrolled on route",
		},
		{
			name:     "enroll without student",
			req:      request{method: http.MethodPost, path: enrollments, token: admin, body: map[string]string{}},
			wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
	})
}

func TestRouteAPI_Lifecycle(t *testing.T) {
	f := setup(t)
	admin := f.token(t, f.admin)
	driver := f.token(t, f.driver1)
	student := f.token(t, f.student1)

	steps := []struct {
		name      string
		req       request
		wantCode  int
		wantKind  string
		wantState string
	}{
		{
			name: "student confirms self", req: request{method: http.MethodPost, path: "/v1/routes/r-1/confirm", token: student},
			wantCode: http.StatusOK,
		},
		{
			name:     "student cannot confirm others",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-1/confirm", token: student, body: map[string]string{"student_id": "s-02"}},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name:     "other driver cannot start",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-1/start", token: f.token(t, f.driver2)},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name: "driver starts", req: request{method: http.MethodPost, path: "/v1/routes/r-1/start", token: driver},
			wantCode: http.StatusOK, wantState: "in_progress",
		},
		{
			name: "start twice", req: request{method: http.MethodPost, path: "/v1/routes/r-1/start", token: driver},
			wantCode: http.StatusConflict, wantKind: "INVALID_TRANSITION",
		},
		{
			name:     "driver confirms boarding student",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-1/confirm", token: driver, body: map[string]string{"student_id": "s-02"}},
			wantCode: http.StatusOK,
		},
		{
			name:     "admin confirms a stranger",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-1/confirm", token: admin, body: map[string]string{"student_id": "s-03"}},
			wantCode: http.StatusUnprocessableEntity, wantKind: "NOT_ENROLLED",
		},
		{
			name:     "admin must name the student",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-1/confirm", token: admin},
			wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
		{
			name: "driver completes", req: request{method: http.MethodPost, path: "/v1/routes/r-1/complete", token: driver},
			wantCode: http.StatusOK, wantState: "completed",
		},
		{
			name:     "confirming a closed route",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-1/confirm", token: driver, body: map[string]string{"student_id": "s-02"}},
			wantCode: http.StatusConflict, wantKind: "ROUTE_CLOSED",
		},
		{
			name:     "cancel needs a reason",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-2/cancel", token: admin, body: map[string]string{}},
			wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
		{
			name:     "admin cancels",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-2/cancel", token: admin, body: map[string]string{"reason": "flat tyre"}},
			wantCode: http.StatusOK, wantState: "cancelled",
		},
		{
			name:     "cancelled is terminal",
			req:      request{method: http.MethodPost, path: "/v1/routes/r-2/start", token: admin},
			wantCode: http.StatusConflict, wantKind: "INVALID_TRANSITION",
		},
	}
	// steps depend on each other: run them in order, without subtests.
	for _, st := range steps {
		rec := f.do(t, st.req)
		require.Equal(t, st.wantCode, rec.Code, "%s: %s", st.name, rec.Body.String())
		if st.wantKind != "" {
			assert.Equal(t, st.wantKind, errorOf(t, rec).Kind, st.name)
		}
		if st.wantState != "" {
			var r routeBody
			decode(t, rec, &r)
			assert.Equal(t, st.wantState, r.State, st.name)
		}
	}

	rec := f.do(t, request{path: "/v1/routes/r-1/summary", token: student})
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Confirmed int    `json:"confirmed"`
		Total     int    `json:"total"`
		Percent   int    `json:"percent"`
		State     string `json:"state"`
	}
	decode(t, rec, &sum)
	assert.Equal(t, 2, sum.Confirmed)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 100, sum.Percent)
	assert.Equal(t, "completed", sum.State)

	rec = f.do(t, request{path: "/v1/routes/r-2/attendance", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	var roll []struct {
		StudentID string `json:"student_id"`
		Status    string `json:"status"`
	}
	decode(t, rec, &roll)
	require.Len(t, roll, 1)
	assert.Equal(t, "released", roll[0].Status)

	metrics := f.do(t, request{path: "/metrics"}).Body.String()
	for _, line := range []string{
		`shuttle_route_transitions_total{state="in_progress"} 1`,
		`shuttle_route_transitions_total{state="completed"} 1`,
		`shuttle_route_transitions_total{state="cancelled"} 1`,
		`shuttle_attendance_confirmations_total 2`,
		`shuttle_notifications_total{category="success"} 1`,
		`shuttle_notifications_total{category="warning"} 1`,
	} {
		assert.Contains(t, metrics, line)
	}
}
