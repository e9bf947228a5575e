package sqlxrepos

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shuttle/core/shuttle"
)

// upsert builds an INSERT ... ON CONFLICT DO UPDATE statement with named parameters.
// Both postgres and sqlite understand it.
func upsert(table string, key []string, cols ...string) string {
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	all := append(append([]string{}, key...), cols...)
	params := make([]string, 0, len(all))
	for _, c := range all {
		params = append(params, ":"+c)
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(all, ", "), strings.Join(params, ", "), strings.Join(key, ", "), strings.Join(sets, ", "),
	)
}

var (
	upsertStudent = upsert("students", []string{"id"},
		"name", "institution", "boarding_point", "is_active", "created_at", "updated_at", "version")
	upsertBus = upsert("buses", []string{"id"},
		"label", "capacity", "odometer", "fuel_level", "status", "maintenance_due", "maintenance_notified",
		"created_at", "updated_at", "version")
	upsertDriver = upsert("drivers", []string{"id"},
		"name", "bus_id", "available", "created_at", "updated_at", "version")
	upsertRoute = upsert("routes", []string{"id"},
		"destination", "boarding_point", "service_date", "departure", "estimated_duration", "driver_id", "bus_id",
		"capacity", "state", "departed_at", "arrived_at", "cancel_reason", "fully_confirmed",
		"created_at", "updated_at", "version")
	upsertAttendance = upsert("attendance", []string{"route_id", "student_id"},
		"service_date", "status", "confirmed_at", "version")
	upsertPayment = upsert("payments", []string{"id"},
		"student_id", "period", "amount_due", "amount_paid", "due_date", "status", "paid_at",
		"created_at", "updated_at", "version")
	upsertNotification = upsert("notifications", []string{"id"},
		"category", "subject_kind", "subject_id", "message", "created_at", "is_read", "version")

	insertEnrollment  = "INSERT INTO route_enrollments (route_id, student_id) VALUES (:route_id, :student_id)"
	deleteEnrollments = "DELETE FROM route_enrollments WHERE route_id = ?"
)

// Persister writes Entity Store changesets to SQL and reads them back on startup.
type Persister struct {
	db *sqlx.DB
}

var (
	_ shuttle.Persister = (*Persister)(nil) // interface compliance check
	_ shuttle.Loader    = (*Persister)(nil)
)

func NewPersister(db *sqlx.DB) *Persister {
	return &Persister{db: db}
}

// Persist writes every record of changes in a single transaction.
func (p *Persister) Persist(ctx context.Context, changes shuttle.Records) (err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exec := func(query string, arg interface{}, what, id string) error {
		if _, err := tx.NamedExecContext(ctx, query, arg); err != nil {
			return errors.Wrapf(err, "saving %s %s", what, id)
		}
		return nil
	}

	for _, v := range changes.Students {
		if err = exec(upsertStudent, toStudentRow(v), "student", v.ID); err != nil {
			return err
		}
	}
	// buses before drivers: drivers reference them
	for _, v := range changes.Buses {
		if err = exec(upsertBus, toBusRow(v), "bus", v.ID); err != nil {
			return err
		}
	}
	for _, v := range changes.Drivers {
		if err = exec(upsertDriver, toDriverRow(v), "driver", v.ID); err != nil {
			return err
		}
	}
	for _, v := range changes.Routes {
		if err = exec(upsertRoute, toRouteRow(v), "route", v.ID); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(deleteEnrollments), v.ID); err != nil {
			return errors.Wrapf(err, "clearing enrollments of route %s", v.ID)
		}
		for _, studentID := range v.Enrolled {
			if err = exec(insertEnrollment, enrollmentRow{RouteID: v.ID, StudentID: studentID}, "enrollment", v.ID); err != nil {
				return err
			}
		}
	}
	for _, v := range changes.Attendance {
		if err = exec(upsertAttendance, toAttendanceRow(v), "attendance", v.Key()); err != nil {
			return err
		}
	}
	for _, v := range changes.Payments {
		if err = exec(upsertPayment, toPaymentRow(v), "payment", v.ID); err != nil {
			return err
		}
	}
	for _, v := range changes.Notifications {
		if err = exec(upsertNotification, toNotificationRow(v), "notification", v.ID); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// Load reads every persisted record.
func (p *Persister) Load(ctx context.Context) (shuttle.Records, error) {
	var (
		rec         shuttle.Records
		students    []studentRow
		drivers     []driverRow
		buses       []busRow
		routes      []routeRow
		enrollments []enrollmentRow
		attendance  []attendanceRow
		payments    []paymentRow
		notifs      []notificationRow
	)
	queries := []struct {
		dest  interface{}
		query string
	}{
		{&students, "SELECT * FROM students ORDER BY id"},
		{&drivers, "SELECT * FROM drivers ORDER BY id"},
		{&buses, "SELECT * FROM buses ORDER BY id"},
		{&routes, "SELECT * FROM routes ORDER BY service_date, departure, id"},
		{&enrollments, "SELECT * FROM route_enrollments ORDER BY route_id, student_id"},
		{&attendance, "SELECT * FROM attendance ORDER BY route_id, student_id"},
		{&payments, "SELECT * FROM payments ORDER BY period, student_id, id"},
		{&notifs, "SELECT * FROM notifications ORDER BY created_at, id"},
	}
	for _, q := range queries {
		if err := p.db.SelectContext(ctx, q.dest, q.query); err != nil {
			return shuttle.Records{}, errors.Wrap(err, "loading records")
		}
	}

	for _, r := range students {
		rec.Students = append(rec.Students, r.student())
	}
	for _, r := range drivers {
		rec.Drivers = append(rec.Drivers, r.driver())
	}
	for _, r := range buses {
		rec.Buses = append(rec.Buses, r.bus())
	}

	enrolled := make(map[string][]string)
	for _, e := range enrollments {
		enrolled[e.RouteID] = append(enrolled[e.RouteID], e.StudentID)
	}
	for _, r := range routes {
		route, err := r.route()
		if err != nil {
			return shuttle.Records{}, err
		}
		for _, id := range enrolled[route.ID] {
			route.Enroll(id)
		}
		rec.Routes = append(rec.Routes, route)
	}

	for _, r := range attendance {
		rec.Attendance = append(rec.Attendance, r.attendance())
	}
	for _, r := range payments {
		pmt, err := r.payment()
		if err != nil {
			return shuttle.Records{}, err
		}
		rec.Payments = append(rec.Payments, pmt)
	}
	for _, r := range notifs {
		rec.Notifications = append(rec.Notifications, r.notification())
	}
	return rec, nil
}
