package view

import (
	"time"

	"github.com/trezcool/shuttle/core/shuttle"
)

// scope decides what one actor may see.
type scope interface {
	route(r shuttle.Route) bool
	notification(n shuttle.Notification) bool
}

type adminScope struct{}

func (adminScope) route(shuttle.Route) bool               { return true }
func (adminScope) notification(shuttle.Notification) bool { return true }

// driverScope covers the routes a driver is assigned to and the buses of those routes.
type driverScope struct {
	driver string
	routes map[string]bool
	buses  map[string]bool
}

// newDriverScope collects the driver's routes on day, or on any day when day is zero.
func newDriverScope(r shuttle.Reader, driverID string, day time.Time) driverScope {
	sc := driverScope{driver: driverID, routes: make(map[string]bool), buses: make(map[string]bool)}
	if d, err := r.Driver(driverID); err == nil && d.BusID != "" {
		sc.buses[d.BusID] = true
	}
	for _, route := range r.Routes() {
		if route.DriverID != driverID || (!day.IsZero() && !route.ServiceDate.Equal(day)) {
			continue
		}
		sc.routes[route.ID] = true
		if route.BusID != "" {
			sc.buses[route.BusID] = true
		}
	}
	return sc
}

func (sc driverScope) route(r shuttle.Route) bool { return r.DriverID == sc.driver }

func (sc driverScope) notification(n shuttle.Notification) bool {
	switch n.Subject.Kind {
	case shuttle.SubjectRoute:
		return sc.routes[n.Subject.ID]
	case shuttle.SubjectBus:
		return sc.buses[n.Subject.ID]
	}
	return false
}

type studentScope struct {
	student string
}

func (sc studentScope) route(r shuttle.Route) bool { return r.IsEnrolled(sc.student) }

func (sc studentScope) notification(n shuttle.Notification) bool {
	return n.Subject.Kind == shuttle.SubjectStudent && n.Subject.ID == sc.student
}
