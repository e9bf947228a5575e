package inmemdb

import (
	"sort"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

type state struct {
	students      map[string]shuttle.Student
	drivers       map[string]shuttle.Driver
	buses         map[string]shuttle.Bus
	routes        map[string]shuttle.Route
	attendance    map[string]shuttle.Attendance // by Attendance.Key()
	payments      map[string]shuttle.Payment
	notifications map[string]shuttle.Notification
	notifOrder    []string // commit order
}

func newState() state {
	return state{
		students:      make(map[string]shuttle.Student),
		drivers:       make(map[string]shuttle.Driver),
		buses:         make(map[string]shuttle.Bus),
		routes:        make(map[string]shuttle.Route),
		attendance:    make(map[string]shuttle.Attendance),
		payments:      make(map[string]shuttle.Payment),
		notifications: make(map[string]shuttle.Notification),
	}
}

func stateFromRecords(r shuttle.Records) state {
	st := newState()
	sortNotifications(r.Notifications)
	st.apply(r)
	return st
}

// apply writes records as they are, versions included.
func (st *state) apply(r shuttle.Records) {
	for _, v := range r.Students {
		st.students[v.ID] = v
	}
	for _, v := range r.Drivers {
		st.drivers[v.ID] = v
	}
	for _, v := range r.Buses {
		st.buses[v.ID] = v
	}
	for _, v := range r.Routes {
		st.routes[v.ID] = cloneRoute(v)
	}
	for _, v := range r.Attendance {
		st.attendance[v.Key()] = v
	}
	for _, v := range r.Payments {
		st.payments[v.ID] = v
	}
	for _, v := range r.Notifications {
		if _, exists := st.notifications[v.ID]; !exists {
			st.notifOrder = append(st.notifOrder, v.ID)
		}
		st.notifications[v.ID] = v
	}
}

func (st *state) records() shuttle.Records {
	return shuttle.Records{
		Students:      st.studentList(),
		Drivers:       st.driverList(),
		Buses:         st.busList(),
		Routes:        st.routeList(),
		Attendance:    st.attendanceList(""),
		Payments:      st.paymentList(),
		Notifications: st.notificationList(),
	}
}

func cloneRoute(r shuttle.Route) shuttle.Route {
	if r.Enrolled != nil {
		enrolled := make([]string, len(r.Enrolled))
		copy(enrolled, r.Enrolled)
		r.Enrolled = enrolled
	}
	return r
}

func notFound(kind, id string) error {
	return core.NewError(core.KindNotFound, "%s %q not found", kind, id)
}

func (st *state) student(id string) (shuttle.Student, error) {
	if v, ok := st.students[id]; ok {
		return v, nil
	}
	return shuttle.Student{}, notFound("student", id)
}

func (st *state) driver(id string) (shuttle.Driver, error) {
	if v, ok := st.drivers[id]; ok {
		return v, nil
	}
	return shuttle.Driver{}, notFound("driver", id)
}

func (st *state) bus(id string) (shuttle.Bus, error) {
	if v, ok := st.buses[id]; ok {
		return v, nil
	}
	return shuttle.Bus{}, notFound("bus", id)
}

func (st *state) route(id string) (shuttle.Route, error) {
	if v, ok := st.routes[id]; ok {
		return cloneRoute(v), nil
	}
	return shuttle.Route{}, notFound("route", id)
}

func (st *state) attendanceRecord(routeID, studentID string) (shuttle.Attendance, error) {
	if v, ok := st.attendance[shuttle.AttendanceKey(routeID, studentID)]; ok {
		return v, nil
	}
	return shuttle.Attendance{}, notFound("attendance", shuttle.AttendanceKey(routeID, studentID))
}

func (st *state) payment(id string) (shuttle.Payment, error) {
	if v, ok := st.payments[id]; ok {
		return v, nil
	}
	return shuttle.Payment{}, notFound("payment", id)
}

func (st *state) notification(id string) (shuttle.Notification, error) {
	if v, ok := st.notifications[id]; ok {
		return v, nil
	}
	return shuttle.Notification{}, notFound("notification", id)
}

func (st *state) studentList() []shuttle.Student {
	list := make([]shuttle.Student, 0, len(st.students))
	for _, v := range st.students {
		list = append(list, v)
	}
	sortStudents(list)
	return list
}

func (st *state) driverList() []shuttle.Driver {
	list := make([]shuttle.Driver, 0, len(st.drivers))
	for _, v := range st.drivers {
		list = append(list, v)
	}
	sortDrivers(list)
	return list
}

func (st *state) busList() []shuttle.Bus {
	list := make([]shuttle.Bus, 0, len(st.buses))
	for _, v := range st.buses {
		list = append(list, v)
	}
	sortBuses(list)
	return list
}

func (st *state) routeList() []shuttle.Route {
	list := make([]shuttle.Route, 0, len(st.routes))
	for _, v := range st.routes {
		list = append(list, cloneRoute(v))
	}
	sortRoutes(list)
	return list
}

// attendanceList returns the records of one route, or all of them when routeID is empty.
func (st *state) attendanceList(routeID string) []shuttle.Attendance {
	list := make([]shuttle.Attendance, 0)
	for _, v := range st.attendance {
		if routeID == "" || v.RouteID == routeID {
			list = append(list, v)
		}
	}
	sortAttendance(list)
	return list
}

func (st *state) paymentList() []shuttle.Payment {
	list := make([]shuttle.Payment, 0, len(st.payments))
	for _, v := range st.payments {
		list = append(list, v)
	}
	sortPayments(list)
	return list
}

func (st *state) notificationList() []shuttle.Notification {
	list := make([]shuttle.Notification, 0, len(st.notifOrder))
	for _, id := range st.notifOrder {
		list = append(list, st.notifications[id])
	}
	return list
}

// orderings

func sortStudents(list []shuttle.Student) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}

func sortDrivers(list []shuttle.Driver) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}

func sortBuses(list []shuttle.Bus) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Label != list[j].Label {
			return list[i].Label < list[j].Label
		}
		return list[i].ID < list[j].ID
	})
}

func sortRoutes(list []shuttle.Route) {
	sort.Slice(list, func(i, j int) bool {
		di, dj := list[i].DepartureTime(), list[j].DepartureTime()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return list[i].ID < list[j].ID
	})
}

func sortAttendance(list []shuttle.Attendance) {
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })
}

func sortPayments(list []shuttle.Payment) {
	sort.Slice(list, func(i, j int) bool {
		pi, pj := list[i].Period, list[j].Period
		if pi != pj {
			return pi.Year < pj.Year || (pi.Year == pj.Year && pi.Month < pj.Month)
		}
		if list[i].StudentID != list[j].StudentID {
			return list[i].StudentID < list[j].StudentID
		}
		return list[i].ID < list[j].ID
	})
}

func sortNotifications(list []shuttle.Notification) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}

// view is the read-only Reader over committed state.
type view struct {
	st *state
}

var _ shuttle.View = (*view)(nil)

func (v view) Student(id string) (shuttle.Student, error) { return v.st.student(id) }
func (v view) Students() []shuttle.Student                { return v.st.studentList() }
func (v view) Driver(id string) (shuttle.Driver, error)   { return v.st.driver(id) }
func (v view) Drivers() []shuttle.Driver                  { return v.st.driverList() }
func (v view) Bus(id string) (shuttle.Bus, error)         { return v.st.bus(id) }
func (v view) Buses() []shuttle.Bus                       { return v.st.busList() }
func (v view) Route(id string) (shuttle.Route, error)     { return v.st.route(id) }
func (v view) Routes() []shuttle.Route                    { return v.st.routeList() }
func (v view) Payment(id string) (shuttle.Payment, error) { return v.st.payment(id) }
func (v view) Payments() []shuttle.Payment                { return v.st.paymentList() }
func (v view) Notifications() []shuttle.Notification      { return v.st.notificationList() }

func (v view) Attendance(routeID, studentID string) (shuttle.Attendance, error) {
	return v.st.attendanceRecord(routeID, studentID)
}

func (v view) RouteAttendance(routeID string) []shuttle.Attendance {
	return v.st.attendanceList(routeID)
}

func (v view) Notification(id string) (shuttle.Notification, error) {
	return v.st.notification(id)
}
