package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/shuttle/apps/api/echo"
	"github.com/trezcool/shuttle/core/registry"
	"github.com/trezcool/shuttle/core/shuttle"
)

func TestRegistryAPI_Students(t *testing.T) {
	f := setup(t)
	admin := f.token(t, f.admin)

	rec := f.do(t, request{
		method: http.MethodPost, path: "/v1/students", token: admin,
		body: registry.NewStudent{Name: "  Amani Kabila ", Institution: "UNIKIN", BoardingPoint: "Main Gate"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var s shuttle.Student
	decode(t, rec, &s)
	assert.Equal(t, "Amani Kabila", s.Name)
	assert.True(t, s.IsActive)

	rec = f.do(t, request{path: "/v1/students", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	var list []shuttle.Student
	decode(t, rec, &list)
	assert.Len(t, list, 4)

	rec = f.do(t, request{method: http.MethodPost, path: "/v1/students/" + s.ID + "/deactivate", token: admin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &s)
	assert.False(t, s.IsActive)

	tests := []struct {
		name     string
		token    string
		path     string
		wantCode int
	}{
		{name: "student reads self", token: f.token(t, f.student1), path: "/v1/students/s-01", wantCode: http.StatusOK},
		{name: "student reads other", token: f.token(t, f.student1), path: "/v1/students/s-02", wantCode: http.StatusForbidden},
		{name: "driver reads student", token: f.token(t, f.driver1), path: "/v1/students/s-01", wantCode: http.StatusForbidden},
		{name: "admin reads anyone", token: admin, path: "/v1/students/s-02", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, request{path: tt.path, token: tt.token})
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestRegistryAPI_Drivers(t *testing.T) {
	f := setup(t)
	admin := f.token(t, f.admin)

	rec := f.do(t, request{method: http.MethodPost, path: "/v1/drivers", token: admin, body: registry.NewDriver{Name: "Driver Three", BusID: "b-9"}})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = f.do(t, request{method: http.MethodPost, path: "/v1/drivers", token: admin, body: registry.NewDriver{Name: "Driver Three"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	off := false
	body := echoapi.AvailabilityRequest{Available: &off}
	tests := []struct {
		name     string
		token    string
		path     string
		body     interface{}
		wantCode int
	}{
		{name: "driver updates self", token: f.token(t, f.driver1), path: "/v1/drivers/d-1/availability", body: body, wantCode: http.StatusOK},
		{name: "driver updates other", token: f.token(t, f.driver1), path: "/v1/drivers/d-2/availability", body: body, wantCode: http.StatusForbidden},
		{name: "value required", token: admin, path: "/v1/drivers/d-2/availability", body: map[string]string{}, wantCode: http.StatusBadRequest},
		{name: "admin updates anyone", token: admin, path: "/v1/drivers/d-2/availability", body: body, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, request{method: http.MethodPut, path: tt.path, token: tt.token, body: tt.body})
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	rec = f.do(t, request{path: "/v1/drivers/d-1", token: f.token(t, f.driver1)})
	require.Equal(t, http.StatusOK, rec.Code)
	var d shuttle.Driver
	decode(t, rec, &d)
	assert.False(t, d.Available)

	// unavailable drivers cannot be scheduled
	nr := registry.NewRoute{Destination: "Campus", BoardingPoint: "Gate", ServiceDate: "2024-01-09", Departure: "07:30", DriverID: "d-1"}
	rec = f.do(t, request{method: http.MethodPost, path: "/v1/routes", token: admin, body: nr})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", errorOf(t, rec).Kind)
}

func TestRegistryAPI_Buses(t *testing.T) {
	f := setup(t)
	admin := f.token(t, f.admin)
	driver := f.token(t, f.driver1)

	rec := f.do(t, request{
		method: http.MethodPost, path: "/v1/buses", token: admin,
		body: registry.NewBus{Label: "BUS-3", Capacity: 40, Odometer: 1000, FuelLevel: 80},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name     string
		token    string
		method   string
		path     string
		body     interface{}
		wantCode int
		wantKind string
	}{
		{
			name: "driver reads own bus", token: driver, method: http.MethodGet, path: "/v1/buses/b-1",
			wantCode: http.StatusOK,
		},
		{
			name: "driver reads other bus", token: driver, method: http.MethodGet, path: "/v1/buses/b-2",
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name: "driver reports telemetry", token: driver, method: http.MethodPut, path: "/v1/buses/b-1/telemetry",
			body: registry.BusTelemetry{Odometer: 1500, FuelLevel: 40}, wantCode: http.StatusOK,
		},
		{
			name: "odometer never goes back", token: driver, method: http.MethodPut, path: "/v1/buses/b-1/telemetry",
			body: registry.BusTelemetry{Odometer: 1200, FuelLevel: 40}, wantCode: http.StatusConflict, wantKind: "INVALID_STATE",
		},
		{
			name: "fuel level bounds", token: admin, method: http.MethodPut, path: "/v1/buses/b-2/telemetry",
			body: registry.BusTelemetry{Odometer: 10, FuelLevel: 140}, wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
		{
			name: "students have no bus", token: f.token(t, f.student1), method: http.MethodGet, path: "/v1/buses/b-1",
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name: "drivers do not ground buses", token: driver, method: http.MethodPut, path: "/v1/buses/b-1/status",
			body: echoapi.BusStatusRequest{Status: shuttle.BusInMaintenance}, wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name: "unknown status", token: admin, method: http.MethodPut, path: "/v1/buses/b-1/status",
			body: echoapi.BusStatusRequest{Status: "flying"}, wantCode: http.StatusConflict, wantKind: "INVALID_STATE",
		},
		{
			name: "admin grounds a bus", token: admin, method: http.MethodPut, path: "/v1/buses/b-1/status",
			body: echoapi.BusStatusRequest{Status: shuttle.BusInMaintenance}, wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, request{method: tt.method, path: tt.path, token: tt.token, body: tt.body})
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, errorOf(t, rec).Kind)
			}
		})
	}

	rec = f.do(t, request{path: "/v1/buses", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	var buses []shuttle.Bus
	decode(t, rec, &buses)
	require.Len(t, buses, 3)
	for _, b := range buses {
		if b.ID == "b-1" {
			assert.Equal(t, int64(1500), b.Odometer)
			assert.Equal(t, shuttle.BusInMaintenance, b.Status)
		}
	}
}
