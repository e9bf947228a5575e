package shuttle

import (
	"fmt"
	"sort"
	"time"
)

// Role is the capability an actor holds.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDriver  Role = "driver"
	RoleStudent Role = "student"
)

var Roles = []Role{RoleAdmin, RoleDriver, RoleStudent}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDriver, RoleStudent:
		return true
	}
	return false
}

type RouteState string

const (
	RouteScheduled  RouteState = "scheduled"
	RouteInProgress RouteState = "in_progress"
	RouteCompleted  RouteState = "completed"
	RouteCancelled  RouteState = "cancelled"
)

// routeTransitions is the complete lifecycle graph. Completed and Cancelled are terminal.
var routeTransitions = map[RouteState][]RouteState{
	RouteScheduled:  {RouteInProgress, RouteCancelled},
	RouteInProgress: {RouteCompleted, RouteCancelled},
}

// CanTransition reports whether a route may move from one state to another.
func CanTransition(from, to RouteState) bool {
	for _, s := range routeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Open reports whether attendance can still be confirmed.
func (s RouteState) Open() bool {
	return s == RouteScheduled || s == RouteInProgress
}

func (s RouteState) Terminal() bool {
	return s == RouteCompleted || s == RouteCancelled
}

type BusStatus string

const (
	BusOperational   BusStatus = "operational"
	BusInMaintenance BusStatus = "in_maintenance"
	BusOutOfService  BusStatus = "out_of_service"
)

func (s BusStatus) Valid() bool {
	switch s {
	case BusOperational, BusInMaintenance, BusOutOfService:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

type AttendanceStatus string

const (
	AttendancePending   AttendanceStatus = "pending"
	AttendanceConfirmed AttendanceStatus = "confirmed"
	AttendanceReleased  AttendanceStatus = "released"
)

type Category string

const (
	CategoryWarning Category = "warning"
	CategorySuccess Category = "success"
	CategoryInfo    Category = "info"
)

type SubjectKind string

const (
	SubjectRoute   SubjectKind = "route"
	SubjectStudent SubjectKind = "student"
	SubjectBus     SubjectKind = "bus"
)

// Subject references the entity a Notification is about.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

func RouteSubject(id string) Subject   { return Subject{Kind: SubjectRoute, ID: id} }
func StudentSubject(id string) Subject { return Subject{Kind: SubjectStudent, ID: id} }
func BusSubject(id string) Subject     { return Subject{Kind: SubjectBus, ID: id} }

func (s Subject) String() string { return string(s.Kind) + ":" + s.ID }

type Student struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Institution   string    `json:"institution"`
	BoardingPoint string    `json:"boarding_point"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
	Version       int       `json:"version"`
}

type Driver struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BusID     string    `json:"bus_id,omitempty"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Bus struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Capacity  int       `json:"capacity"`
	Odometer  int64     `json:"odometer"`   // km
	FuelLevel float64   `json:"fuel_level"` // percent of tank
	Status    BusStatus `json:"status"`
	// MaintenanceDue is the day the next service is due, zero when not planned.
	MaintenanceDue time.Time `json:"maintenance_due"`
	// MaintenanceNotified is the MaintenanceDue a warning was already raised for.
	MaintenanceNotified time.Time `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	Version             int       `json:"version"`
}

// MaintenanceOverdue reports whether the service date has passed at asOf.
func (b Bus) MaintenanceOverdue(asOf time.Time) bool {
	return !b.MaintenanceDue.IsZero() && asOf.After(b.MaintenanceDue)
}

// Route is one scheduled trip on one service date.
type Route struct {
	ID                string        `json:"id"`
	Destination       string        `json:"destination"`
	BoardingPoint     string        `json:"boarding_point"`
	ServiceDate       time.Time     `json:"service_date"` // midnight UTC
	Departure         Clock         `json:"departure"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	DriverID          string        `json:"driver_id"`
	BusID             string        `json:"bus_id"`
	Capacity          int           `json:"capacity"`
	Enrolled          []string      `json:"enrolled"` // sorted student ids
	State             RouteState    `json:"state"`
	DepartedAt        time.Time     `json:"departed_at,omitempty"`
	ArrivedAt         time.Time     `json:"arrived_at,omitempty"`
	CancelReason      string        `json:"cancel_reason,omitempty"`
	// FullyConfirmed is set once the full-attendance Success has been emitted.
	FullyConfirmed bool      `json:"fully_confirmed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int       `json:"version"`
}

// DepartureTime is the scheduled departure instant of the trip.
func (r Route) DepartureTime() time.Time {
	return r.Departure.On(r.ServiceDate)
}

func (r Route) IsEnrolled(studentID string) bool {
	i := sort.SearchStrings(r.Enrolled, studentID)
	return i < len(r.Enrolled) && r.Enrolled[i] == studentID
}

// Enroll adds the student to the enrolled set, keeping it sorted. Returns false if already enrolled.
func (r *Route) Enroll(studentID string) bool {
	i := sort.SearchStrings(r.Enrolled, studentID)
	if i < len(r.Enrolled) && r.Enrolled[i] == studentID {
		return false
	}
	r.Enrolled = append(r.Enrolled, "")
	copy(r.Enrolled[i+1:], r.Enrolled[i:])
	r.Enrolled[i] = studentID
	return true
}

// Unenroll removes the student from the enrolled set. Returns false if not enrolled.
func (r *Route) Unenroll(studentID string) bool {
	i := sort.SearchStrings(r.Enrolled, studentID)
	if i >= len(r.Enrolled) || r.Enrolled[i] != studentID {
		return false
	}
	r.Enrolled = append(r.Enrolled[:i], r.Enrolled[i+1:]...)
	return true
}

func (r Route) Full() bool { return r.Capacity > 0 && len(r.Enrolled) >= r.Capacity }

type Attendance struct {
	RouteID     string           `json:"route_id"`
	StudentID   string           `json:"student_id"`
	ServiceDate time.Time        `json:"service_date"`
	Status      AttendanceStatus `json:"status"`
	ConfirmedAt time.Time        `json:"confirmed_at,omitempty"`
	Version     int              `json:"version"`
}

func (a Attendance) Confirmed() bool { return a.Status == AttendanceConfirmed }

// Key identifies the record: one per (route, student, service date).
func (a Attendance) Key() string {
	return AttendanceKey(a.RouteID, a.StudentID)
}

func AttendanceKey(routeID, studentID string) string { return routeID + "/" + studentID }

// Payment amounts are in minor units (cents).
type Payment struct {
	ID         string        `json:"id"`
	StudentID  string        `json:"student_id"`
	Period     Period        `json:"period"`
	AmountDue  int64         `json:"amount_due"`
	AmountPaid int64         `json:"amount_paid"`
	DueDate    time.Time     `json:"due_date"`
	Status     PaymentStatus `json:"status"`
	PaidAt     time.Time     `json:"paid_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Version    int           `json:"version"`
}

func (p Payment) Outstanding() int64 {
	if p.AmountPaid >= p.AmountDue {
		return 0
	}
	return p.AmountDue - p.AmountPaid
}

// PastDue reports whether the payment is late at asOf: due date passed and not fully paid.
func (p Payment) PastDue(asOf time.Time) bool {
	return asOf.After(p.DueDate) && p.AmountPaid < p.AmountDue
}

type Notification struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Subject   Subject   `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
	Version   int       `json:"-"`
}

// Outbox holds the notifications emitted by a single mutation.
type Outbox []Notification

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// On returns the instant of the clock on the given day (UTC).
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, time.UTC)
}

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	clk, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = clk
	return nil
}

// Period is a billing month.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	return PeriodOf(t), nil
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	per, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = per
	return nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}
