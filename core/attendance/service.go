package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

// NotApplicable labels a route without enrolled students.
const NotApplicable = "N/A"

type (
	// Summary is the confirmation progress of one route.
	Summary struct {
		RouteID     string             `json:"route_id"`
		ServiceDate time.Time          `json:"service_date"`
		State       shuttle.RouteState `json:"state"`
		Confirmed   int                `json:"confirmed"`
		Total       int                `json:"total"`
		Ratio       float64            `json:"ratio"`
		Percent     int                `json:"percent"`
		Label       string             `json:"label"`
		AtRisk      bool               `json:"at_risk"`
	}

	// FleetSummary aggregates route summaries, eg: all routes of a service day.
	FleetSummary struct {
		Routes        int     `json:"routes"`
		Confirmed     int     `json:"confirmed"`
		Total         int     `json:"total"`
		Ratio         float64 `json:"ratio"`
		Label         string  `json:"label"`
		FullRoutes    int     `json:"full_routes"`
		AtRiskRoutes  int     `json:"at_risk_routes"`
		ClosedRoutes  int     `json:"closed_routes"`
		PendingRoutes int     `json:"pending_routes"`
	}

	Service struct {
		store shuttle.Store
		conf  core.AttendanceConfig
	}
)

func NewService(store shuttle.Store, conf core.AttendanceConfig) *Service {
	return &Service{store: store, conf: conf}
}

// Confirm records that an enrolled student boards the route. at defaults to tx.Now().
// Confirming an already confirmed student returns the existing record and changes nothing.
func (svc *Service) Confirm(ctx context.Context, routeID, studentID string, at time.Time) (shuttle.Attendance, shuttle.Outbox, error) {
	var (
		rec     shuttle.Attendance
		changed bool
	)
	outbox, err := svc.store.Update(ctx, []string{shuttle.RouteKey(routeID)}, func(tx shuttle.Tx) error {
		r, err := tx.Route(routeID)
		if err != nil {
			return err
		}
		if !r.State.Open() {
			return core.NewError(core.KindRouteClosed, "route %s is %s", r.ID, r.State)
		}
		if !r.IsEnrolled(studentID) {
			return core.NewError(core.KindNotEnrolled, "student %s is not enrolled on route %s", studentID, r.ID)
		}

		rec, err = tx.Attendance(r.ID, studentID)
		switch {
		case errors.Is(err, core.ErrNotFound):
			rec = shuttle.Attendance{RouteID: r.ID, StudentID: studentID, ServiceDate: r.ServiceDate}
		case err != nil:
			return err
		case rec.Confirmed():
			return nil
		}

		rec.Status = shuttle.AttendanceConfirmed
		rec.ConfirmedAt = tx.Now()
		if !at.IsZero() {
			rec.ConfirmedAt = at.UTC()
		}
		if err := tx.PutAttendance(rec); err != nil {
			return err
		}
		changed = true

		_, err = markFull(tx, r, svc.conf)
		return err
	})
	if err != nil {
		return shuttle.Attendance{}, nil, err
	}
	if changed {
		rec.Version++
	}
	return rec, outbox, nil
}

// Summary computes the route's confirmation progress. The first call to observe a fully confirmed route
// emits its Success notification.
func (svc *Service) Summary(ctx context.Context, routeID string) (Summary, shuttle.Outbox, error) {
	var sum Summary
	outbox, err := svc.store.Update(ctx, []string{shuttle.RouteKey(routeID)}, func(tx shuttle.Tx) error {
		r, err := tx.Route(routeID)
		if err != nil {
			return err
		}
		sum, err = markFull(tx, r, svc.conf)
		return err
	})
	if err != nil {
		return Summary{}, nil, err
	}
	return sum, outbox, nil
}

// markFull summarizes r and, the first time it is fully confirmed, flags it and emits a Success notification.
func markFull(tx shuttle.Tx, r shuttle.Route, conf core.AttendanceConfig) (Summary, error) {
	sum := Summarize(r, tx.RouteAttendance(r.ID), tx.Now(), conf)
	if sum.Total == 0 || sum.Confirmed < sum.Total || r.FullyConfirmed {
		return sum, nil
	}

	r.FullyConfirmed = true
	r.UpdatedAt = tx.Now()
	if err := tx.PutRoute(r); err != nil {
		return sum, err
	}
	tx.Notify(shuttle.CategorySuccess, shuttle.RouteSubject(r.ID),
		fmt.Sprintf("All %d students confirmed for the %s route to %s", sum.Total, r.Departure, r.Destination))
	return sum, nil
}

// Summarize computes a route Summary from its attendance records. Only confirmations of currently
// enrolled students count, so Confirmed never exceeds Total.
func Summarize(r shuttle.Route, records []shuttle.Attendance, now time.Time, conf core.AttendanceConfig) Summary {
	sum := Summary{
		RouteID:     r.ID,
		ServiceDate: r.ServiceDate,
		State:       r.State,
		Total:       len(r.Enrolled),
	}
	for _, a := range records {
		if a.RouteID == r.ID && a.Confirmed() && r.IsEnrolled(a.StudentID) {
			sum.Confirmed++
		}
	}

	if sum.Total == 0 {
		sum.Label = NotApplicable
		return sum
	}
	sum.Ratio = float64(sum.Confirmed) / float64(sum.Total)
	sum.Percent = int(math.Round(sum.Ratio * 100))
	sum.Label = fmt.Sprintf("%d%%", sum.Percent)

	if r.State == shuttle.RouteScheduled && conf.AtRiskWindow > 0 {
		evalFrom := r.DepartureTime().Add(-conf.AtRiskWindow)
		sum.AtRisk = !now.Before(evalFrom) && sum.Ratio < conf.AtRiskThreshold
	}
	return sum
}

// Fleet aggregates route summaries. Ratio is computed over all enrolled seats.
func Fleet(sums []Summary) FleetSummary {
	fleet := FleetSummary{Routes: len(sums)}
	for _, s := range sums {
		fleet.Confirmed += s.Confirmed
		fleet.Total += s.Total
		if s.Total > 0 && s.Confirmed == s.Total {
			fleet.FullRoutes++
		}
		if s.AtRisk {
			fleet.AtRiskRoutes++
		}
		if s.State.Terminal() {
			fleet.ClosedRoutes++
		} else {
			fleet.PendingRoutes++
		}
	}
	if fleet.Total == 0 {
		fleet.Label = NotApplicable
		return fleet
	}
	fleet.Ratio = float64(fleet.Confirmed) / float64(fleet.Total)
	fleet.Label = fmt.Sprintf("%d%%", int(math.Round(fleet.Ratio*100)))
	return fleet
}
