// Package view projects store contents into the dashboard of one actor.
// Every call names the role and actor explicitly and is checked against the Directory.
package view

import (
	"context"
	"errors"
	"time"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/attendance"
	"github.com/trezcool/shuttle/core/billing"
	"github.com/trezcool/shuttle/core/shuttle"
)

var NowFunc = time.Now // mockable

type (
	// Directory resolves the role an actor holds.
	Directory interface {
		ActorRole(ctx context.Context, actor string) (shuttle.Role, error)
	}

	// RouteCard is a route with its attendance progress.
	RouteCard struct {
		Route   shuttle.Route      `json:"route"`
		Summary attendance.Summary `json:"summary"`
	}

	// Dashboard is the role-scoped projection returned by ViewFor.
	// Fleet and Billing are only set for admins, Statement only for students.
	Dashboard struct {
		Role          shuttle.Role             `json:"role"`
		Actor         string                   `json:"actor"`
		Date          time.Time                `json:"date"`
		Routes        []RouteCard              `json:"routes"`
		Fleet         *attendance.FleetSummary `json:"fleet,omitempty"`
		Billing       *billing.MonthlySummary  `json:"billing,omitempty"`
		Statement     *billing.Statement       `json:"statement,omitempty"`
		Notifications []shuttle.Notification   `json:"notifications"`
	}

	Composer struct {
		store shuttle.Store
		dir   Directory
		conf  core.AttendanceConfig
	}
)

func NewComposer(store shuttle.Store, dir Directory, conf core.AttendanceConfig) *Composer {
	return &Composer{store: store, dir: dir, conf: conf}
}

// authorize fails with Forbidden unless actor holds role.
func (c *Composer) authorize(ctx context.Context, role shuttle.Role, actor string) error {
	if !role.Valid() || actor == "" {
		return core.NewError(core.KindForbidden, "invalid role %q", role)
	}
	held, err := c.dir.ActorRole(ctx, actor)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.NewError(core.KindForbidden, "unknown actor")
		}
		return err
	}
	if held != role {
		return core.NewError(core.KindForbidden, "actor does not hold the %s role", role)
	}
	return nil
}

// ViewFor composes the dashboard of actor for the service day of date. It never writes.
func (c *Composer) ViewFor(ctx context.Context, role shuttle.Role, actor string, date time.Time) (Dashboard, error) {
	if err := c.authorize(ctx, role, actor); err != nil {
		return Dashboard{}, err
	}

	day := shuttle.Day(date)
	now := NowFunc().UTC()
	dash := Dashboard{
		Role:          role,
		Actor:         actor,
		Date:          day,
		Routes:        []RouteCard{},
		Notifications: []shuttle.Notification{},
	}
	err := c.store.View(ctx, func(v shuttle.View) error {
		var sc scope
		switch role {
		case shuttle.RoleAdmin:
			sc = adminScope{}
		case shuttle.RoleDriver:
			sc = newDriverScope(v, actor, day)
		case shuttle.RoleStudent:
			sc = studentScope{student: actor}
		}

		var sums []attendance.Summary
		for _, r := range v.Routes() {
			if !r.ServiceDate.Equal(day) || !sc.route(r) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			sum := attendance.Summarize(r, v.RouteAttendance(r.ID), now, c.conf)
			dash.Routes = append(dash.Routes, RouteCard{Route: r, Summary: sum})
			sums = append(sums, sum)
		}

		for _, n := range v.Notifications() {
			if !n.Read && sc.notification(n) {
				dash.Notifications = append(dash.Notifications, n)
			}
		}

		switch role {
		case shuttle.RoleAdmin:
			fleet := attendance.Fleet(sums)
			dash.Fleet = &fleet
			bill, err := billing.Summarize(ctx, shuttle.PeriodOf(day), v.Payments())
			if err != nil {
				return err
			}
			dash.Billing = &bill
		case shuttle.RoleStudent:
			st := billing.StatementOf(actor, v.Payments())
			dash.Statement = &st
		}
		return nil
	})
	if err != nil {
		return Dashboard{}, err
	}
	return dash, nil
}

// MarkRead marks a notification visible to actor as read. Marking it again changes nothing.
func (c *Composer) MarkRead(ctx context.Context, role shuttle.Role, actor, notificationID string) (shuttle.Notification, error) {
	if err := c.authorize(ctx, role, actor); err != nil {
		return shuttle.Notification{}, err
	}

	var (
		notif   shuttle.Notification
		changed bool
	)
	_, err := c.store.Update(ctx, []string{shuttle.NotificationKey(notificationID)}, func(tx shuttle.Tx) (err error) {
		notif, err = tx.Notification(notificationID)
		if err != nil {
			return err
		}

		var sc scope
		switch role {
		case shuttle.RoleAdmin:
			sc = adminScope{}
		case shuttle.RoleDriver:
			sc = newDriverScope(tx, actor, time.Time{})
		case shuttle.RoleStudent:
			sc = studentScope{student: actor}
		}
		if !sc.notification(notif) {
			return core.NewError(core.KindForbidden, "notification %s is not visible to actor", notif.ID)
		}
		if notif.Read {
			return nil
		}
		notif.Read = true
		changed = true
		return tx.PutNotification(notif)
	})
	if err != nil {
		return shuttle.Notification{}, err
	}
	if changed {
		notif.Version++
	}
	return notif, nil
}
