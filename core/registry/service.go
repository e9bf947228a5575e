package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

type Service struct {
	store shuttle.Store
}

func NewService(store shuttle.Store) *Service {
	return &Service{store: store}
}

func invalid(format string, args ...interface{}) error {
	return core.NewError(core.KindInvalidState, format, args...)
}

func parseOptionalDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	day, err := shuttle.ParseDay(s)
	if err != nil {
		return time.Time{}, invalid("%v", err)
	}
	return day, nil
}

// Students

func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (s shuttle.Student, err error) {
	ns.Clean()
	_, err = svc.store.Update(ctx, nil, func(tx shuttle.Tx) error {
		s = shuttle.Student{
			ID:            tx.NewID(),
			Name:          ns.Name,
			Institution:   ns.Institution,
			BoardingPoint: ns.BoardingPoint,
			IsActive:      true,
			CreatedAt:     tx.Now(),
			UpdatedAt:     tx.Now(),
		}
		return tx.PutStudent(s)
	})
	if err != nil {
		return shuttle.Student{}, err
	}
	s.Version++
	return s, nil
}

// DeactivateStudent flags a withdrawn student inactive. Enrollments, attendance and payments are kept.
func (svc *Service) DeactivateStudent(ctx context.Context, id string) (s shuttle.Student, err error) {
	var changed bool
	_, err = svc.store.Update(ctx, []string{shuttle.StudentKey(id)}, func(tx shuttle.Tx) error {
		if s, err = tx.Student(id); err != nil {
			return err
		}
		if !s.IsActive {
			return nil
		}
		s.IsActive = false
		s.UpdatedAt = tx.Now()
		changed = true
		return tx.PutStudent(s)
	})
	if err != nil {
		return shuttle.Student{}, err
	}
	if changed {
		s.Version++
	}
	return s, nil
}

func (svc *Service) Student(ctx context.Context, id string) (s shuttle.Student, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		s, err = v.Student(id)
		return err
	})
	return s, err
}

func (svc *Service) Students(ctx context.Context) (list []shuttle.Student, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		list = v.Students()
		return nil
	})
	return list, err
}

// Drivers

func (svc *Service) CreateDriver(ctx context.Context, nd NewDriver) (d shuttle.Driver, err error) {
	keys := []string{}
	if nd.BusID != "" {
		keys = append(keys, shuttle.BusKey(nd.BusID))
	}
	_, err = svc.store.Update(ctx, keys, func(tx shuttle.Tx) error {
		if nd.BusID != "" {
			if _, err := tx.Bus(nd.BusID); err != nil {
				return err
			}
		}
		d = shuttle.Driver{
			ID:        tx.NewID(),
			Name:      nd.Name,
			BusID:     nd.BusID,
			Available: true,
			CreatedAt: tx.Now(),
			UpdatedAt: tx.Now(),
		}
		return tx.PutDriver(d)
	})
	if err != nil {
		return shuttle.Driver{}, err
	}
	d.Version++
	return d, nil
}

// SetDriverAvailability marks a driver on or off duty. Drivers are never deleted.
func (svc *Service) SetDriverAvailability(ctx context.Context, id string, available bool) (d shuttle.Driver, err error) {
	var changed bool
	_, err = svc.store.Update(ctx, []string{shuttle.DriverKey(id)}, func(tx shuttle.Tx) error {
		if d, err = tx.Driver(id); err != nil {
			return err
		}
		if d.Available == available {
			return nil
		}
		d.Available = available
		d.UpdatedAt = tx.Now()
		changed = true
		return tx.PutDriver(d)
	})
	if err != nil {
		return shuttle.Driver{}, err
	}
	if changed {
		d.Version++
	}
	return d, nil
}

func (svc *Service) Driver(ctx context.Context, id string) (d shuttle.Driver, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		d, err = v.Driver(id)
		return err
	})
	return d, err
}

func (svc *Service) Drivers(ctx context.Context) (list []shuttle.Driver, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		list = v.Drivers()
		return nil
	})
	return list, err
}

// Buses

func (svc *Service) CreateBus(ctx context.Context, nb NewBus) (b shuttle.Bus, err error) {
	due, err := parseOptionalDay(nb.MaintenanceDue)
	if err != nil {
		return shuttle.Bus{}, err
	}
	_, err = svc.store.Update(ctx, nil, func(tx shuttle.Tx) error {
		b = shuttle.Bus{
			ID:             tx.NewID(),
			Label:          nb.Label,
			Capacity:       nb.Capacity,
			Odometer:       nb.Odometer,
			FuelLevel:      nb.FuelLevel,
			Status:         shuttle.BusOperational,
			MaintenanceDue: due,
			CreatedAt:      tx.Now(),
			UpdatedAt:      tx.Now(),
		}
		return tx.PutBus(b)
	})
	if err != nil {
		return shuttle.Bus{}, err
	}
	b.Version++
	return b, nil
}

// UpdateBusTelemetry records odometer and fuel readings, and optionally reschedules maintenance.
func (svc *Service) UpdateBusTelemetry(ctx context.Context, id string, bt BusTelemetry) (b shuttle.Bus, err error) {
	due, err := parseOptionalDay(bt.MaintenanceDue)
	if err != nil {
		return shuttle.Bus{}, err
	}
	_, err = svc.store.Update(ctx, []string{shuttle.BusKey(id)}, func(tx shuttle.Tx) error {
		if b, err = tx.Bus(id); err != nil {
			return err
		}
		if bt.Odometer < b.Odometer {
			return invalid("odometer of bus %s cannot go back from %d to %d", b.ID, b.Odometer, bt.Odometer)
		}
		b.Odometer = bt.Odometer
		b.FuelLevel = bt.FuelLevel
		if !due.IsZero() {
			b.MaintenanceDue = due
		}
		b.UpdatedAt = tx.Now()
		return tx.PutBus(b)
	})
	if err != nil {
		return shuttle.Bus{}, err
	}
	b.Version++
	return b, nil
}

func (svc *Service) SetBusStatus(ctx context.Context, id string, status shuttle.BusStatus) (b shuttle.Bus, err error) {
	if !status.Valid() {
		return shuttle.Bus{}, invalid("unknown bus status %q", status)
	}
	var changed bool
	_, err = svc.store.Update(ctx, []string{shuttle.BusKey(id)}, func(tx shuttle.Tx) error {
		if b, err = tx.Bus(id); err != nil {
			return err
		}
		if b.Status == status {
			return nil
		}
		b.Status = status
		b.UpdatedAt = tx.Now()
		changed = true
		return tx.PutBus(b)
	})
	if err != nil {
		return shuttle.Bus{}, err
	}
	if changed {
		b.Version++
	}
	return b, nil
}

// CheckMaintenance emits one Warning per bus whose maintenance date passed at asOf.
// A bus is warned once per due date.
func (svc *Service) CheckMaintenance(ctx context.Context, asOf time.Time) (shuttle.Outbox, error) {
	var due []string
	if err := svc.store.View(ctx, func(v shuttle.View) error {
		for _, b := range v.Buses() {
			if b.MaintenanceOverdue(asOf) && !b.MaintenanceNotified.Equal(b.MaintenanceDue) {
				due = append(due, b.ID)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var outbox shuttle.Outbox
	for _, id := range due {
		out, err := svc.store.Update(ctx, []string{shuttle.BusKey(id)}, func(tx shuttle.Tx) error {
			b, err := tx.Bus(id)
			if err != nil {
				return err
			}
			if !b.MaintenanceOverdue(asOf) || b.MaintenanceNotified.Equal(b.MaintenanceDue) {
				return nil
			}
			b.MaintenanceNotified = b.MaintenanceDue
			b.UpdatedAt = tx.Now()
			if err := tx.PutBus(b); err != nil {
				return err
			}
			tx.Notify(shuttle.CategoryWarning, shuttle.BusSubject(b.ID),
				fmt.Sprintf("Bus %s maintenance was due on %s", b.Label, b.MaintenanceDue.Format("2006-01-02")))
			return nil
		})
		if err != nil {
			return outbox, err
		}
		outbox = append(outbox, out...)
	}
	return outbox, nil
}

func (svc *Service) Bus(ctx context.Context, id string) (b shuttle.Bus, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		b, err = v.Bus(id)
		return err
	})
	return b, err
}

func (svc *Service) Buses(ctx context.Context) (list []shuttle.Bus, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		list = v.Buses()
		return nil
	})
	return list, err
}

// Routes

// ScheduleRoute creates a Scheduled route. The driver must be available and the bus operational;
// the route capacity is the bus capacity.
func (svc *Service) ScheduleRoute(ctx context.Context, nr NewRoute) (r shuttle.Route, err error) {
	day, err := shuttle.ParseDay(nr.ServiceDate)
	if err != nil {
		return shuttle.Route{}, invalid("%v", err)
	}
	dep, err := shuttle.ParseClock(nr.Departure)
	if err != nil {
		return shuttle.Route{}, invalid("%v", err)
	}

	keys := []string{shuttle.DriverKey(nr.DriverID)}
	if nr.BusID != "" {
		keys = append(keys, shuttle.BusKey(nr.BusID))
	}
	_, err = svc.store.Update(ctx, keys, func(tx shuttle.Tx) error {
		d, err := tx.Driver(nr.DriverID)
		if err != nil {
			return err
		}
		if !d.Available {
			return invalid("driver %s is not available", d.ID)
		}
		busID := nr.BusID
		if busID == "" {
			busID = d.BusID
		}
		if busID == "" {
			return invalid("driver %s has no bus assigned", d.ID)
		}
		b, err := tx.Bus(busID)
		if err != nil {
			return err
		}
		if b.Status != shuttle.BusOperational {
			return invalid("bus %s is %s", b.ID, b.Status)
		}

		r = shuttle.Route{
			ID:                tx.NewID(),
			Destination:       nr.Destination,
			BoardingPoint:     nr.BoardingPoint,
			ServiceDate:       day,
			Departure:         dep,
			EstimatedDuration: time.Duration(nr.EstimatedDuration) * time.Minute,
			DriverID:          d.ID,
			BusID:             b.ID,
			Capacity:          b.Capacity,
			Enrolled:          []string{},
			State:             shuttle.RouteScheduled,
			CreatedAt:         tx.Now(),
			UpdatedAt:         tx.Now(),
		}
		return tx.PutRoute(r)
	})
	if err != nil {
		return shuttle.Route{}, err
	}
	r.Version++
	return r, nil
}

// Enroll adds an active student to a Scheduled route and opens their Pending attendance record.
// Enrolling twice returns the route unchanged.
func (svc *Service) Enroll(ctx context.Context, routeID, studentID string) (r shuttle.Route, err error) {
	var changed bool
	keys := []string{shuttle.RouteKey(routeID), shuttle.StudentKey(studentID)}
	_, err = svc.store.Update(ctx, keys, func(tx shuttle.Tx) error {
		if r, err = tx.Route(routeID); err != nil {
			return err
		}
		if r.State != shuttle.RouteScheduled {
			return core.NewError(core.KindRouteClosed, "route %s is %s", r.ID, r.State)
		}
		s, err := tx.Student(studentID)
		if err != nil {
			return err
		}
		if !s.IsActive {
			return invalid("student %s is inactive", s.ID)
		}
		if r.IsEnrolled(s.ID) {
			return nil
		}
		if r.Full() {
			return core.NewError(core.KindCapacityExceeded, "route %s is full (%d seats)", r.ID, r.Capacity)
		}

		r.Enroll(s.ID)
		r.UpdatedAt = tx.Now()
		if err := tx.PutRoute(r); err != nil {
			return err
		}
		changed = true

		rec, err := tx.Attendance(r.ID, s.ID)
		switch {
		case errors.Is(err, core.ErrNotFound):
			rec = shuttle.Attendance{RouteID: r.ID, StudentID: s.ID, ServiceDate: r.ServiceDate}
		case err != nil:
			return err
		}
		rec.Status = shuttle.AttendancePending
		rec.ConfirmedAt = time.Time{}
		return tx.PutAttendance(rec)
	})
	if err != nil {
		return shuttle.Route{}, err
	}
	if changed {
		r.Version++
	}
	return r, nil
}

// Unenroll removes a student from a Scheduled route and releases their attendance record.
func (svc *Service) Unenroll(ctx context.Context, routeID, studentID string) (r shuttle.Route, err error) {
	_, err = svc.store.Update(ctx, []string{shuttle.RouteKey(routeID)}, func(tx shuttle.Tx) error {
		if r, err = tx.Route(routeID); err != nil {
			return err
		}
		if r.State != shuttle.RouteScheduled {
			return core.NewError(core.KindRouteClosed, "route %s is %s", r.ID, r.State)
		}
		if !r.Unenroll(studentID) {
			return core.NewError(core.KindNotEnrolled, "student %s is not enrolled on route %s", studentID, r.ID)
		}
		r.UpdatedAt = tx.Now()
		if err := tx.PutRoute(r); err != nil {
			return err
		}

		rec, err := tx.Attendance(r.ID, studentID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		rec.Status = shuttle.AttendanceReleased
		return tx.PutAttendance(rec)
	})
	if err != nil {
		return shuttle.Route{}, err
	}
	r.Version++
	return r, nil
}

func (svc *Service) Route(ctx context.Context, id string) (r shuttle.Route, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		r, err = v.Route(id)
		return err
	})
	return r, err
}

// Routes lists routes matching filter, ordered by departure.
func (svc *Service) Routes(ctx context.Context, filter RouteFilter) (list []shuttle.Route, err error) {
	day, err := parseOptionalDay(filter.ServiceDate)
	if err != nil {
		return nil, err
	}
	list = []shuttle.Route{}
	err = svc.store.View(ctx, func(v shuttle.View) error {
		for _, r := range v.Routes() {
			switch {
			case !day.IsZero() && !r.ServiceDate.Equal(day),
				filter.DriverID != "" && r.DriverID != filter.DriverID,
				filter.StudentID != "" && !r.IsEnrolled(filter.StudentID),
				filter.State != "" && string(r.State) != filter.State:
				continue
			}
			list = append(list, r)
		}
		return nil
	})
	return list, err
}

// RouteAttendance lists the attendance records of a route.
func (svc *Service) RouteAttendance(ctx context.Context, routeID string) (list []shuttle.Attendance, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		if _, err := v.Route(routeID); err != nil {
			return err
		}
		list = v.RouteAttendance(routeID)
		return nil
	})
	return list, err
}
