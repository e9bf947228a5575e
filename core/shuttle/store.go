package shuttle

import (
	"context"
	"time"
)

type (
	// Reader is the read surface shared by views and transactions.
	// Lookups return core.ErrNotFound (by kind) for unknown ids.
	Reader interface {
		Student(id string) (Student, error)
		Students() []Student
		Driver(id string) (Driver, error)
		Drivers() []Driver
		Bus(id string) (Bus, error)
		Buses() []Bus
		Route(id string) (Route, error)
		// Routes returns routes ordered by service date then departure time.
		Routes() []Route
		Attendance(routeID, studentID string) (Attendance, error)
		RouteAttendance(routeID string) []Attendance
		Payment(id string) (Payment, error)
		Payments() []Payment
		Notification(id string) (Notification, error)
		// Notifications returns notifications oldest first.
		Notifications() []Notification
	}

	// View is a consistent read-only snapshot: it never observes a half-applied commit.
	View interface {
		Reader
	}

	// Tx stages writes. Reads through a Tx see its own staged writes.
	// Nothing is visible to other callers until the Update that owns the Tx commits.
	Tx interface {
		Reader
		Now() time.Time
		NewID() string
		PutStudent(s Student) error
		PutDriver(d Driver) error
		PutBus(b Bus) error
		PutRoute(r Route) error
		PutAttendance(a Attendance) error
		PutPayment(p Payment) error
		PutNotification(n Notification) error
		// Notify stages a new unread Notification and adds it to the Update's outbox.
		Notify(category Category, subject Subject, message string) Notification
	}

	// Store is the Entity Store.
	Store interface {
		// Update locks the entities named by keys, runs fn against a Tx and commits every staged write atomically.
		// If fn fails, ctx is done, or the Persister fails, nothing is applied.
		Update(ctx context.Context, keys []string, fn func(tx Tx) error) (Outbox, error)
		View(ctx context.Context, fn func(v View) error) error
	}

	// Records is a set of entities, used for changesets and snapshots.
	Records struct {
		Students      []Student
		Drivers       []Driver
		Buses         []Bus
		Routes        []Route
		Attendance    []Attendance
		Payments      []Payment
		Notifications []Notification
	}

	// Persister durably stores changesets. Persist is all-or-nothing.
	Persister interface {
		Persist(ctx context.Context, changes Records) error
	}

	// Loader reads back everything a Persister wrote.
	Loader interface {
		Load(ctx context.Context) (Records, error)
	}
)

func (r Records) Empty() bool {
	return len(r.Students) == 0 && len(r.Drivers) == 0 && len(r.Buses) == 0 && len(r.Routes) == 0 &&
		len(r.Attendance) == 0 && len(r.Payments) == 0 && len(r.Notifications) == 0
}

// Lock keys

func StudentKey(id string) string      { return "student:" + id }
func DriverKey(id string) string       { return "driver:" + id }
func BusKey(id string) string          { return "bus:" + id }
func RouteKey(id string) string        { return "route:" + id }
func PaymentKey(id string) string      { return "payment:" + id }
func NotificationKey(id string) string { return "notification:" + id }
