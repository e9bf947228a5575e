package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/services/metrics"
)

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.Transition(shuttle.RouteInProgress)
	m.Transition(shuttle.RouteInProgress)
	m.Transition(shuttle.RouteCancelled)
	m.Confirmation()
	m.Overdue(3)
	m.Notifications(shuttle.Outbox{
		{Category: shuttle.CategoryWarning},
		{Category: shuttle.CategorySuccess},
		{Category: shuttle.CategoryWarning},
	})
	m.Request(http.MethodPost, "/routes/:id/start", http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	body := string(raw)

	tests := []string{
		`shuttle_route_transitions_total{state="in_progress"} 2`,
		`shuttle_route_transitions_total{state="cancelled"} 1`,
		`shuttle_attendance_confirmations_total 1`,
		`shuttle_payments_overdue_total 3`,
		`shuttle_notifications_total{category="warning"} 2`,
		`shuttle_notifications_total{category="success"} 1`,
		`shuttle_http_requests_total{code="200",method="POST",path="/routes/:id/start"} 1`,
		`go_goroutines`,
	}
	for _, want := range tests {
		t.Run(want, func(t *testing.T) {
			assert.Contains(t, body, want)
		})
	}
}
