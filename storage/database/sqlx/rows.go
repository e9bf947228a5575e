package sqlxrepos

import (
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shuttle/core/shuttle"
)

// table rows. Times are stored in UTC; optional values are NULL rather than zero.

type studentRow struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	Institution   string    `db:"institution"`
	BoardingPoint string    `db:"boarding_point"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	Version       int       `db:"version"`
}

type driverRow struct {
	ID        string      `db:"id"`
	Name      string      `db:"name"`
	BusID     null.String `db:"bus_id"`
	Available bool        `db:"available"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
	Version   int         `db:"version"`
}

type busRow struct {
	ID                  string    `db:"id"`
	Label               string    `db:"label"`
	Capacity            int       `db:"capacity"`
	Odometer            int64     `db:"odometer"`
	FuelLevel           float64   `db:"fuel_level"`
	Status              string    `db:"status"`
	MaintenanceDue      null.Time `db:"maintenance_due"`
	MaintenanceNotified null.Time `db:"maintenance_notified"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
	Version             int       `db:"version"`
}

type routeRow struct {
	ID                string      `db:"id"`
	Destination       string      `db:"destination"`
	BoardingPoint     string      `db:"boarding_point"`
	ServiceDate       time.Time   `db:"service_date"`
	Departure         string      `db:"departure"`
	EstimatedDuration int64       `db:"estimated_duration"` // ns
	DriverID          string      `db:"driver_id"`
	BusID             string      `db:"bus_id"`
	Capacity          int         `db:"capacity"`
	State             string      `db:"state"`
	DepartedAt        null.Time   `db:"departed_at"`
	ArrivedAt         null.Time   `db:"arrived_at"`
	CancelReason      null.String `db:"cancel_reason"`
	FullyConfirmed    bool        `db:"fully_confirmed"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
	Version           int         `db:"version"`
}

type enrollmentRow struct {
	RouteID   string `db:"route_id"`
	StudentID string `db:"student_id"`
}

type attendanceRow struct {
	RouteID     string    `db:"route_id"`
	StudentID   string    `db:"student_id"`
	ServiceDate time.Time `db:"service_date"`
	Status      string    `db:"status"`
	ConfirmedAt null.Time `db:"confirmed_at"`
	Version     int       `db:"version"`
}

type paymentRow struct {
	ID         string    `db:"id"`
	StudentID  string    `db:"student_id"`
	Period     string    `db:"period"`
	AmountDue  int64     `db:"amount_due"`
	AmountPaid int64     `db:"amount_paid"`
	DueDate    time.Time `db:"due_date"`
	Status     string    `db:"status"`
	PaidAt     null.Time `db:"paid_at"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
	Version    int       `db:"version"`
}

type notificationRow struct {
	ID          string    `db:"id"`
	Category    string    `db:"category"`
	SubjectKind string    `db:"subject_kind"`
	SubjectID   string    `db:"subject_id"`
	Message     string    `db:"message"`
	CreatedAt   time.Time `db:"created_at"`
	IsRead      bool      `db:"is_read"`
	Version     int       `db:"version"`
}

func nullTime(t time.Time) null.Time   { return null.NewTime(t.UTC(), !t.IsZero()) }
func nullString(s string) null.String { return null.NewString(s, s != "") }

func timeOf(nt null.Time) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}

func toStudentRow(s shuttle.Student) studentRow {
	return studentRow{
		ID:            s.ID,
		Name:          s.Name,
		Institution:   s.Institution,
		BoardingPoint: s.BoardingPoint,
		IsActive:      s.IsActive,
		CreatedAt:     s.CreatedAt.UTC(),
		UpdatedAt:     s.UpdatedAt.UTC(),
		Version:       s.Version,
	}
}

func (r studentRow) student() shuttle.Student {
	return shuttle.Student{
		ID:            r.ID,
		Name:          r.Name,
		Institution:   r.Institution,
		BoardingPoint: r.BoardingPoint,
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		Version:       r.Version,
	}
}

func toDriverRow(d shuttle.Driver) driverRow {
	return driverRow{
		ID:        d.ID,
		Name:      d.Name,
		BusID:     nullString(d.BusID),
		Available: d.Available,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
		Version:   d.Version,
	}
}

func (r driverRow) driver() shuttle.Driver {
	return shuttle.Driver{
		ID:        r.ID,
		Name:      r.Name,
		BusID:     r.BusID.String,
		Available: r.Available,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Version:   r.Version,
	}
}

func toBusRow(b shuttle.Bus) busRow {
	return busRow{
		ID:                  b.ID,
		Label:               b.Label,
		Capacity:            b.Capacity,
		Odometer:            b.Odometer,
		FuelLevel:           b.FuelLevel,
		Status:              string(b.Status),
		MaintenanceDue:      nullTime(b.MaintenanceDue),
		MaintenanceNotified: nullTime(b.MaintenanceNotified),
		CreatedAt:           b.CreatedAt.UTC(),
		UpdatedAt:           b.UpdatedAt.UTC(),
		Version:             b.Version,
	}
}

func (r busRow) bus() shuttle.Bus {
	return shuttle.Bus{
		ID:                  r.ID,
		Label:               r.Label,
		Capacity:            r.Capacity,
		Odometer:            r.Odometer,
		FuelLevel:           r.FuelLevel,
		Status:              shuttle.BusStatus(r.Status),
		MaintenanceDue:      timeOf(r.MaintenanceDue),
		MaintenanceNotified: timeOf(r.MaintenanceNotified),
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
		Version:             r.Version,
	}
}

func toRouteRow(r shuttle.Route) routeRow {
	return routeRow{
		ID:                r.ID,
		Destination:       r.Destination,
		BoardingPoint:     r.BoardingPoint,
		ServiceDate:       r.ServiceDate.UTC(),
		Departure:         r.Departure.String(),
		EstimatedDuration: int64(r.EstimatedDuration),
		DriverID:          r.DriverID,
		BusID:             r.BusID,
		Capacity:          r.Capacity,
		State:             string(r.State),
		DepartedAt:        nullTime(r.DepartedAt),
		ArrivedAt:         nullTime(r.ArrivedAt),
		CancelReason:      nullString(r.CancelReason),
		FullyConfirmed:    r.FullyConfirmed,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		Version:           r.Version,
	}
}

func (r routeRow) route() (shuttle.Route, error) {
	dep, err := shuttle.ParseClock(r.Departure)
	if err != nil {
		return shuttle.Route{}, errors.Wrapf(err, "route %s", r.ID)
	}
	return shuttle.Route{
		ID:                r.ID,
		Destination:       r.Destination,
		BoardingPoint:     r.BoardingPoint,
		ServiceDate:       r.ServiceDate.UTC(),
		Departure:         dep,
		EstimatedDuration: time.Duration(r.EstimatedDuration),
		DriverID:          r.DriverID,
		BusID:             r.BusID,
		Capacity:          r.Capacity,
		Enrolled:          []string{},
		State:             shuttle.RouteState(r.State),
		DepartedAt:        timeOf(r.DepartedAt),
		ArrivedAt:         timeOf(r.ArrivedAt),
		CancelReason:      r.CancelReason.String,
		FullyConfirmed:    r.FullyConfirmed,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		Version:           r.Version,
	}, nil
}

func toAttendanceRow(a shuttle.Attendance) attendanceRow {
	return attendanceRow{
		RouteID:     a.RouteID,
		StudentID:   a.StudentID,
		ServiceDate: a.ServiceDate.UTC(),
		Status:      string(a.Status),
		ConfirmedAt: nullTime(a.ConfirmedAt),
		Version:     a.Version,
	}
}

func (r attendanceRow) attendance() shuttle.Attendance {
	return shuttle.Attendance{
		RouteID:     r.RouteID,
		StudentID:   r.StudentID,
		ServiceDate: r.ServiceDate.UTC(),
		Status:      shuttle.AttendanceStatus(r.Status),
		ConfirmedAt: timeOf(r.ConfirmedAt),
		Version:     r.Version,
	}
}

func toPaymentRow(p shuttle.Payment) paymentRow {
	return paymentRow{
		ID:         p.ID,
		StudentID:  p.StudentID,
		Period:     p.Period.String(),
		AmountDue:  p.AmountDue,
		AmountPaid: p.AmountPaid,
		DueDate:    p.DueDate.UTC(),
		Status:     string(p.Status),
		PaidAt:     nullTime(p.PaidAt),
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
		Version:    p.Version,
	}
}

func (r paymentRow) payment() (shuttle.Payment, error) {
	period, err := shuttle.ParsePeriod(r.Period)
	if err != nil {
		return shuttle.Payment{}, errors.Wrapf(err, "payment %s", r.ID)
	}
	return shuttle.Payment{
		ID:         r.ID,
		StudentID:  r.StudentID,
		Period:     period,
		AmountDue:  r.AmountDue,
		AmountPaid: r.AmountPaid,
		DueDate:    r.DueDate.UTC(),
		Status:     shuttle.PaymentStatus(r.Status),
		PaidAt:     timeOf(r.PaidAt),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
		Version:    r.Version,
	}, nil
}

func toNotificationRow(n shuttle.Notification) notificationRow {
	return notificationRow{
		ID:          n.ID,
		Category:    string(n.Category),
		SubjectKind: string(n.Subject.Kind),
		SubjectID:   n.Subject.ID,
		Message:     n.Message,
		CreatedAt:   n.CreatedAt.UTC(),
		IsRead:      n.Read,
		Version:     n.Version,
	}
}

func (r notificationRow) notification() shuttle.Notification {
	return shuttle.Notification{
		ID:        r.ID,
		Category:  shuttle.Category(r.Category),
		Subject:   shuttle.Subject{Kind: shuttle.SubjectKind(r.SubjectKind), ID: r.SubjectID},
		Message:   r.Message,
		CreatedAt: r.CreatedAt.UTC(),
		Read:      r.IsRead,
		Version:   r.Version,
	}
}
