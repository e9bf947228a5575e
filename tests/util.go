package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
	"github.com/trezcool/shuttle/storage/database"
)

// ServiceDay is the default service date of route fixtures.
var ServiceDay = time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)

// PrepareDB opens a migrated sqlite database in a temporary directory.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Database.Engine = database.EngineSQLite
	conf.Database.SQLitePath = filepath.Join(t.TempDir(), "shuttle.db")

	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role shuttle.Role,
	subjectID string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		SubjectID: subjectID,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func put(t *testing.T, store shuttle.Store, fn func(tx shuttle.Tx) error) {
	t.Helper()
	if _, err := store.Update(context.Background(), nil, fn); err != nil {
		t.Fatalf("fixture failed: %v", err)
	}
}

func CreateStudent(t *testing.T, store shuttle.Store, id, name string, isActive bool) shuttle.Student {
	t.Helper()
	s := shuttle.Student{
		ID:            id,
		Name:          name,
		Institution:   "University of Kinshasa",
		BoardingPoint: "Main Gate",
		IsActive:      isActive,
	}
	put(t, store, func(tx shuttle.Tx) error {
		s.CreatedAt, s.UpdatedAt = tx.Now(), tx.Now()
		return tx.PutStudent(s)
	})
	s.Version = 1
	return s
}

// CreateStudents creates n active students with ids "<prefix>-01".."<prefix>-n".
func CreateStudents(t *testing.T, store shuttle.Store, prefix string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	put(t, store, func(tx shuttle.Tx) error {
		for i := 1; i <= n; i++ {
			s := shuttle.Student{
				ID:        fmt.Sprintf("%s-%02d", prefix, i),
				Name:      fmt.Sprintf("Student %s %02d", prefix, i),
				IsActive:  true,
				CreatedAt: tx.Now(),
				UpdatedAt: tx.Now(),
			}
			if err := tx.PutStudent(s); err != nil {
				return err
			}
			ids = append(ids, s.ID)
		}
		return nil
	})
	return ids
}

func CreateDriver(t *testing.T, store shuttle.Store, id, name, busID string, available bool) shuttle.Driver {
	t.Helper()
	d := shuttle.Driver{ID: id, Name: name, BusID: busID, Available: available}
	put(t, store, func(tx shuttle.Tx) error {
		d.CreatedAt, d.UpdatedAt = tx.Now(), tx.Now()
		return tx.PutDriver(d)
	})
	d.Version = 1
	return d
}

func CreateBus(t *testing.T, store shuttle.Store, id, label string, capacity int, status shuttle.BusStatus) shuttle.Bus {
	t.Helper()
	b := shuttle.Bus{ID: id, Label: label, Capacity: capacity, Status: status, FuelLevel: 100}
	put(t, store, func(tx shuttle.Tx) error {
		b.CreatedAt, b.UpdatedAt = tx.Now(), tx.Now()
		return tx.PutBus(b)
	})
	b.Version = 1
	return b
}

// RouteFixture describes a route to create. Zero fields get defaults.
type RouteFixture struct {
	ID          string
	Destination string
	DriverID    string
	BusID       string
	Capacity    int
	ServiceDate time.Time
	Departure   string // HH:MM
	State       shuttle.RouteState
	Enrolled    []string
	Confirmed   []string // subset of Enrolled
}

// CreateRoute creates the route with a Pending attendance record per enrolled student,
// Confirmed for the students listed in Confirmed.
func CreateRoute(t *testing.T, store shuttle.Store, f RouteFixture) shuttle.Route {
	t.Helper()
	if f.Destination == "" {
		f.Destination = "Campus"
	}
	if f.ServiceDate.IsZero() {
		f.ServiceDate = ServiceDay
	}
	if f.Departure == "" {
		f.Departure = "07:30"
	}
	if f.State == "" {
		f.State = shuttle.RouteScheduled
	}
	if f.Capacity == 0 {
		f.Capacity = len(f.Enrolled)
	}
	dep, err := shuttle.ParseClock(f.Departure)
	if err != nil {
		t.Fatalf("CreateRoute() failed: %v", err)
	}

	r := shuttle.Route{
		ID:                f.ID,
		Destination:       f.Destination,
		BoardingPoint:     "Main Gate",
		ServiceDate:       shuttle.Day(f.ServiceDate),
		Departure:         dep,
		EstimatedDuration: 45 * time.Minute,
		DriverID:          f.DriverID,
		BusID:             f.BusID,
		Capacity:          f.Capacity,
		State:             f.State,
	}
	confirmed := make(map[string]bool, len(f.Confirmed))
	for _, id := range f.Confirmed {
		confirmed[id] = true
	}
	put(t, store, func(tx shuttle.Tx) error {
		r.CreatedAt, r.UpdatedAt = tx.Now(), tx.Now()
		for _, id := range f.Enrolled {
			r.Enroll(id)
			a := shuttle.Attendance{
				RouteID:     r.ID,
				StudentID:   id,
				ServiceDate: r.ServiceDate,
				Status:      shuttle.AttendancePending,
			}
			if confirmed[id] {
				a.Status = shuttle.AttendanceConfirmed
				a.ConfirmedAt = tx.Now()
			}
			if err := tx.PutAttendance(a); err != nil {
				return err
			}
		}
		return tx.PutRoute(r)
	})
	r.Version = 1
	return r
}

func CreatePayment(
	t *testing.T,
	store shuttle.Store,
	id, studentID string,
	period shuttle.Period,
	due, paid int64,
	dueDate time.Time,
	status shuttle.PaymentStatus,
) shuttle.Payment {
	t.Helper()
	p := shuttle.Payment{
		ID:         id,
		StudentID:  studentID,
		Period:     period,
		AmountDue:  due,
		AmountPaid: paid,
		DueDate:    dueDate,
		Status:     status,
	}
	put(t, store, func(tx shuttle.Tx) error {
		p.CreatedAt, p.UpdatedAt = tx.Now(), tx.Now()
		return tx.PutPayment(p)
	})
	p.Version = 1
	return p
}

// Notifications returns the notifications currently in store.
func Notifications(t *testing.T, store shuttle.Store) []shuttle.Notification {
	t.Helper()
	var list []shuttle.Notification
	if err := store.View(context.Background(), func(v shuttle.View) error {
		list = v.Notifications()
		return nil
	}); err != nil {
		t.Fatalf("Notifications() failed: %v", err)
	}
	return list
}

// CountCategory counts the notifications of category c.
func CountCategory(list []shuttle.Notification, c shuttle.Category) int {
	var n int
	for _, notif := range list {
		if notif.Category == c {
			n++
		}
	}
	return n
}

// RouteAttendance returns the committed attendance records of a route.
func RouteAttendance(t *testing.T, store shuttle.Store, routeID string) []shuttle.Attendance {
	t.Helper()
	var list []shuttle.Attendance
	if err := store.View(context.Background(), func(v shuttle.View) error {
		list = v.RouteAttendance(routeID)
		return nil
	}); err != nil {
		t.Fatalf("RouteAttendance() failed: %v", err)
	}
	return list
}

// FixedClock returns a clock function always reporting at.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
