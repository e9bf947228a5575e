// Package lifecycle moves routes through their service-day state machine:
// scheduled -> in_progress -> completed, with cancelled reachable from both open states.
package lifecycle

import (
	"context"
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

// Start departs a Scheduled route. at is the actual departure time, tx.Now() when zero.
func (svc *Service) Start(ctx context.Context, routeID string, at time.Time) (shuttle.Route, shuttle.Outbox, error) {
	return svc.transition(ctx, routeID, shuttle.RouteInProgress, func(tx shuttle.Tx, r *shuttle.Route) error {
		r.DepartedAt = stamp(tx, at)
		tx.Notify(shuttle.CategoryInfo, shuttle.RouteSubject(r.ID),
			fmt.Sprintf("Route to %s departed at %s", r.Destination, r.DepartedAt.Format("15:04")))
		return nil
	})
}

// Complete marks an InProgress route as arrived. at is the actual arrival time, tx.Now() when zero.
func (svc *Service) Complete(ctx context.Context, routeID string, at time.Time) (shuttle.Route, shuttle.Outbox, error) {
	return svc.transition(ctx, routeID, shuttle.RouteCompleted, func(tx shuttle.Tx, r *shuttle.Route) error {
		r.ArrivedAt = stamp(tx, at)
		tx.Notify(shuttle.CategoryInfo, shuttle.RouteSubject(r.ID),
			fmt.Sprintf("Route to %s arrived at %s", r.Destination, r.ArrivedAt.Format("15:04")))
		return nil
	})
}

// Cancel cancels an open route and releases every pending attendance record.
// Confirmed records are kept as they are.
func (svc *Service) Cancel(ctx context.Context, routeID, reason string) (shuttle.Route, shuttle.Outbox, error) {
	return svc.transition(ctx, routeID, shuttle.RouteCancelled, func(tx shuttle.Tx, r *shuttle.Route) error {
		r.CancelReason = reason
		for _, a := range tx.RouteAttendance(r.ID) {
			if a.Status != shuttle.AttendancePending {
				continue
			}
			a.Status = shuttle.AttendanceReleased
			if err := tx.PutAttendance(a); err != nil {
				return err
			}
		}

		msg := fmt.Sprintf("Route to %s on %s was cancelled", r.Destination, r.ServiceDate.Format("2006-01-02"))
		if reason != "" {
			msg += ": " + reason
		}
		tx.Notify(shuttle.CategoryWarning, shuttle.RouteSubject(r.ID), msg)
		return nil
	})
}

func (svc *Service) transition(
	ctx context.Context,
	routeID string,
	to shuttle.RouteState,
	apply func(tx shuttle.Tx, r *shuttle.Route) error,
) (route shuttle.Route, outbox shuttle.Outbox, err error) {
	outbox, err = svc.store.Update(ctx, []string{shuttle.RouteKey(routeID)}, func(tx shuttle.Tx) error {
		r, err := tx.Route(routeID)
		if err != nil {
			return err
		}
		if !shuttle.CanTransition(r.State, to) {
			return core.NewError(core.KindInvalidTransition, "route %s cannot move from %s to %s", r.ID, r.State, to)
		}
		r.State = to
		r.UpdatedAt = tx.Now()
		if err := apply(tx, &r); err != nil {
			return err
		}
		if err := tx.PutRoute(r); err != nil {
			return err
		}
		route = r
		return nil
	})
	if err != nil {
		return shuttle.Route{}, nil, err
	}
	route.Version++
	return route, outbox, nil
}

func stamp(tx shuttle.Tx, at time.Time) time.Time {
	if at.IsZero() {
		return tx.Now()
	}
	return at.UTC()
}
