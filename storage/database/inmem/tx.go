package inmemdb

import (
	"time"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

// tx stages writes on top of committed state.
type tx struct {
	s   *Store
	now time.Time

	students      map[string]shuttle.Student
	drivers       map[string]shuttle.Driver
	buses         map[string]shuttle.Bus
	routes        map[string]shuttle.Route
	attendance    map[string]shuttle.Attendance
	payments      map[string]shuttle.Payment
	notifications map[string]shuttle.Notification
	outbox        []string // ids of notifications created through Notify, in order
}

var _ shuttle.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:             s,
		now:           s.nowFn(),
		students:      make(map[string]shuttle.Student),
		drivers:       make(map[string]shuttle.Driver),
		buses:         make(map[string]shuttle.Bus),
		routes:        make(map[string]shuttle.Route),
		attendance:    make(map[string]shuttle.Attendance),
		payments:      make(map[string]shuttle.Payment),
		notifications: make(map[string]shuttle.Notification),
	}
}

func (t *tx) committed(fn func(st *state)) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	fn(&t.s.state)
}

func (t *tx) Now() time.Time { return t.now }
func (t *tx) NewID() string  { return t.s.newID() }

// Reads

func (t *tx) Student(id string) (v shuttle.Student, err error) {
	if v, ok := t.students[id]; ok {
		return v, nil
	}
	t.committed(func(st *state) { v, err = st.student(id) })
	return
}

func (t *tx) Driver(id string) (v shuttle.Driver, err error) {
	if v, ok := t.drivers[id]; ok {
		return v, nil
	}
	t.committed(func(st *state) { v, err = st.driver(id) })
	return
}

func (t *tx) Bus(id string) (v shuttle.Bus, err error) {
	if v, ok := t.buses[id]; ok {
		return v, nil
	}
	t.committed(func(st *state) { v, err = st.bus(id) })
	return
}

func (t *tx) Route(id string) (v shuttle.Route, err error) {
	if v, ok := t.routes[id]; ok {
		return cloneRoute(v), nil
	}
	t.committed(func(st *state) { v, err = st.route(id) })
	return
}

func (t *tx) Attendance(routeID, studentID string) (v shuttle.Attendance, err error) {
	if v, ok := t.attendance[shuttle.AttendanceKey(routeID, studentID)]; ok {
		return v, nil
	}
	t.committed(func(st *state) { v, err = st.attendanceRecord(routeID, studentID) })
	return
}

func (t *tx) Payment(id string) (v shuttle.Payment, err error) {
	if v, ok := t.payments[id]; ok {
		return v, nil
	}
	t.committed(func(st *state) { v, err = st.payment(id) })
	return
}

func (t *tx) Notification(id string) (v shuttle.Notification, err error) {
	if v, ok := t.notifications[id]; ok {
		return v, nil
	}
	t.committed(func(st *state) { v, err = st.notification(id) })
	return
}

func (t *tx) Students() (list []shuttle.Student) {
	t.committed(func(st *state) { list = st.studentList() })
	list = overlay(list, t.students, func(v shuttle.Student) string { return v.ID })
	sortStudents(list)
	return list
}

func (t *tx) Drivers() (list []shuttle.Driver) {
	t.committed(func(st *state) { list = st.driverList() })
	list = overlay(list, t.drivers, func(v shuttle.Driver) string { return v.ID })
	sortDrivers(list)
	return list
}

func (t *tx) Buses() (list []shuttle.Bus) {
	t.committed(func(st *state) { list = st.busList() })
	list = overlay(list, t.buses, func(v shuttle.Bus) string { return v.ID })
	sortBuses(list)
	return list
}

func (t *tx) Routes() (list []shuttle.Route) {
	t.committed(func(st *state) { list = st.routeList() })
	list = overlay(list, t.routes, func(v shuttle.Route) string { return v.ID })
	for i := range list {
		list[i] = cloneRoute(list[i])
	}
	sortRoutes(list)
	return list
}

func (t *tx) RouteAttendance(routeID string) (list []shuttle.Attendance) {
	t.committed(func(st *state) { list = st.attendanceList(routeID) })
	staged := make(map[string]shuttle.Attendance)
	for k, v := range t.attendance {
		if v.RouteID == routeID {
			staged[k] = v
		}
	}
	list = overlay(list, staged, func(v shuttle.Attendance) string { return v.Key() })
	sortAttendance(list)
	return list
}

func (t *tx) Payments() (list []shuttle.Payment) {
	t.committed(func(st *state) { list = st.paymentList() })
	list = overlay(list, t.payments, func(v shuttle.Payment) string { return v.ID })
	sortPayments(list)
	return list
}

func (t *tx) Notifications() (list []shuttle.Notification) {
	t.committed(func(st *state) { list = st.notificationList() })
	seen := make(map[string]bool, len(list))
	for i, n := range list {
		seen[n.ID] = true
		if staged, ok := t.notifications[n.ID]; ok {
			list[i] = staged
		}
	}
	for _, id := range t.outbox {
		if !seen[id] {
			list = append(list, t.notifications[id])
		}
	}
	return list
}

// overlay replaces committed rows by their staged version and appends staged rows that are new.
func overlay[T any](committed []T, staged map[string]T, id func(T) string) []T {
	if len(staged) == 0 {
		return committed
	}
	out := make([]T, 0, len(committed)+len(staged))
	seen := make(map[string]bool, len(staged))
	for _, v := range committed {
		k := id(v)
		if s, ok := staged[k]; ok {
			out = append(out, s)
			seen[k] = true
			continue
		}
		out = append(out, v)
	}
	for k, v := range staged {
		if !seen[k] {
			out = append(out, v)
		}
	}
	return out
}

// Writes

func conflict(kind, id string) error {
	return core.NewError(core.KindConflict, "%s %q was modified concurrently", kind, id)
}

func missingID(kind string) error {
	return core.NewError(core.KindInvalidState, "%s without id", kind)
}

// checkVersion compares the version a write was based on with the committed one.
func checkVersion(kind, id string, version, current int, exists bool) error {
	if (!exists && version != 0) || (exists && version != current) {
		return conflict(kind, id)
	}
	return nil
}

func (t *tx) PutStudent(v shuttle.Student) (err error) {
	if v.ID == "" {
		return missingID("student")
	}
	t.committed(func(st *state) {
		cur, ok := st.students[v.ID]
		err = checkVersion("student", v.ID, v.Version, cur.Version, ok)
	})
	if err == nil {
		t.students[v.ID] = v
	}
	return err
}

func (t *tx) PutDriver(v shuttle.Driver) (err error) {
	if v.ID == "" {
		return missingID("driver")
	}
	t.committed(func(st *state) {
		cur, ok := st.drivers[v.ID]
		err = checkVersion("driver", v.ID, v.Version, cur.Version, ok)
	})
	if err == nil {
		t.drivers[v.ID] = v
	}
	return err
}

func (t *tx) PutBus(v shuttle.Bus) (err error) {
	if v.ID == "" {
		return missingID("bus")
	}
	t.committed(func(st *state) {
		cur, ok := st.buses[v.ID]
		err = checkVersion("bus", v.ID, v.Version, cur.Version, ok)
	})
	if err == nil {
		t.buses[v.ID] = v
	}
	return err
}

func (t *tx) PutRoute(v shuttle.Route) (err error) {
	if v.ID == "" {
		return missingID("route")
	}
	t.committed(func(st *state) {
		cur, ok := st.routes[v.ID]
		err = checkVersion("route", v.ID, v.Version, cur.Version, ok)
	})
	if err == nil {
		t.routes[v.ID] = cloneRoute(v)
	}
	return err
}

func (t *tx) PutAttendance(v shuttle.Attendance) (err error) {
	if v.RouteID == "" || v.StudentID == "" {
		return missingID("attendance")
	}
	t.committed(func(st *state) {
		cur, ok := st.attendance[v.Key()]
		err = checkVersion("attendance", v.Key(), v.Version, cur.Version, ok)
	})
	if err == nil {
		t.attendance[v.Key()] = v
	}
	return err
}

func (t *tx) PutPayment(v shuttle.Payment) (err error) {
	if v.ID == "" {
		return missingID("payment")
	}
	t.committed(func(st *state) {
		cur, ok := st.payments[v.ID]
		err = checkVersion("payment", v.ID, v.Version, cur.Version, ok)
	})
	if err == nil {
		t.payments[v.ID] = v
	}
	return err
}

func (t *tx) PutNotification(v shuttle.Notification) (err error) {
	if v.ID == "" {
		return missingID("notification")
	}
	t.committed(func(st *state) {
		cur, ok := st.notifications[v.ID]
		err = checkVersion("notification", v.ID, v.Version, cur.Version, ok)
	})
	if err == nil {
		t.notifications[v.ID] = v
	}
	return err
}

func (t *tx) Notify(category shuttle.Category, subject shuttle.Subject, message string) shuttle.Notification {
	n := shuttle.Notification{
		ID:        t.NewID(),
		Category:  category,
		Subject:   subject,
		Message:   message,
		CreatedAt: t.now,
	}
	t.notifications[n.ID] = n
	t.outbox = append(t.outbox, n.ID)
	return n
}

// checkVersions re-validates every staged write against committed state. Must hold Store.commitMu.
func (t *tx) checkVersions() error {
	st := &t.s.state
	for id, v := range t.students {
		cur, ok := st.students[id]
		if err := checkVersion("student", id, v.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	for id, v := range t.drivers {
		cur, ok := st.drivers[id]
		if err := checkVersion("driver", id, v.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	for id, v := range t.buses {
		cur, ok := st.buses[id]
		if err := checkVersion("bus", id, v.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	for id, v := range t.routes {
		cur, ok := st.routes[id]
		if err := checkVersion("route", id, v.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	for k, v := range t.attendance {
		cur, ok := st.attendance[k]
		if err := checkVersion("attendance", k, v.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	for id, v := range t.payments {
		cur, ok := st.payments[id]
		if err := checkVersion("payment", id, v.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	for id, v := range t.notifications {
		cur, ok := st.notifications[id]
		if err := checkVersion("notification", id, v.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	return nil
}

// changes returns the staged writes with their committed versions, and the outbox.
func (t *tx) changes() (shuttle.Records, shuttle.Outbox) {
	var r shuttle.Records
	for _, v := range t.students {
		v.Version++
		r.Students = append(r.Students, v)
	}
	for _, v := range t.drivers {
		v.Version++
		r.Drivers = append(r.Drivers, v)
	}
	for _, v := range t.buses {
		v.Version++
		r.Buses = append(r.Buses, v)
	}
	for _, v := range t.routes {
		v.Version++
		r.Routes = append(r.Routes, cloneRoute(v))
	}
	for _, v := range t.attendance {
		v.Version++
		r.Attendance = append(r.Attendance, v)
	}
	for _, v := range t.payments {
		v.Version++
		r.Payments = append(r.Payments, v)
	}

	// notifications keep creation order
	var outbox shuttle.Outbox
	created := make(map[string]bool, len(t.outbox))
	for _, id := range t.outbox {
		created[id] = true
		n := t.notifications[id]
		n.Version++
		r.Notifications = append(r.Notifications, n)
		outbox = append(outbox, n)
	}
	for id, v := range t.notifications {
		if !created[id] {
			v.Version++
			r.Notifications = append(r.Notifications, v)
		}
	}
	sortStudents(r.Students)
	sortDrivers(r.Drivers)
	sortBuses(r.Buses)
	sortRoutes(r.Routes)
	sortAttendance(r.Attendance)
	sortPayments(r.Payments)
	return r, outbox
}
