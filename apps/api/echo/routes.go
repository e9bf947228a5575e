package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/attendance"
	"github.com/trezcool/shuttle/core/lifecycle"
	"github.com/trezcool/shuttle/core/registry"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/services/metrics"
)

type routeApi struct {
	registry   *registry.Service
	lifecycle  *lifecycle.Service
	attendance *attendance.Service
	metrics    *metrics.Metrics
	validate   *validator.Validate
}

func registerRouteAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := routeApi{
		registry:   deps.RegistrySvc,
		lifecycle:  deps.LifecycleSvc,
		attendance: deps.AttendanceSvc,
		metrics:    deps.Metrics,
		validate:   deps.Validate,
	}

	rg := g.Group("/routes", authed)
	rg.POST("", api.schedule, adminOnly)
	rg.GET("", api.query)
	rg.GET("/:id", api.retrieve)
	rg.POST("/:id/enrollments", api.enroll, adminOnly)
	rg.DELETE("/:id/enrollments/:student_id", api.unenroll, adminOnly)
	rg.POST("/:id/start", api.start)
	rg.POST("/:id/complete", api.complete)
	rg.POST("/:id/cancel", api.cancel)
	rg.POST("/:id/confirm", api.confirm)
	rg.GET("/:id/summary", api.summary)
	rg.GET("/:id/attendance", api.routeAttendance)
}

// observe feeds the metrics with a committed outbox.
func (api *routeApi) observe(out shuttle.Outbox) {
	if api.metrics != nil {
		api.metrics.Notifications(out)
	}
}

func (api *routeApi) transitioned(r shuttle.Route, out shuttle.Outbox) {
	if api.metrics != nil {
		api.metrics.Transition(r.State)
	}
	api.observe(out)
}

// visibleRoute loads the :id route, and checks the caller may see it:
// admins see all routes, drivers their own and students those they are enrolled on.
func (api *routeApi) visibleRoute(ctx echo.Context) (shuttle.Route, Claims, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return shuttle.Route{}, Claims{}, err
	}
	r, err := api.registry.Route(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return shuttle.Route{}, Claims{}, err
	}
	switch claims.Role {
	case shuttle.RoleAdmin:
	case shuttle.RoleDriver:
		if r.DriverID != claims.Actor {
			return shuttle.Route{}, Claims{}, core.NewError(core.KindForbidden, "route %s is not driven by %s", r.ID, claims.Actor)
		}
	case shuttle.RoleStudent:
		if !r.IsEnrolled(claims.Actor) {
			return shuttle.Route{}, Claims{}, core.NewError(core.KindForbidden, "student %s is not enrolled on route %s", claims.Actor, r.ID)
		}
	default:
		return shuttle.Route{}, Claims{}, errHttpForbidden
	}
	return r, claims, nil
}

// operatedRoute is visibleRoute restricted to admins and the route's driver.
func (api *routeApi) operatedRoute(ctx echo.Context) (shuttle.Route, error) {
	r, claims, err := api.visibleRoute(ctx)
	if err != nil {
		return shuttle.Route{}, err
	}
	if claims.Role == shuttle.RoleStudent {
		return shuttle.Route{}, errHttpForbidden
	}
	return r, nil
}

func (api *routeApi) schedule(ctx echo.Context) error {
	var data registry.NewRoute
	if err := bind(ctx, api.validate, &data, "NewRoute"); err != nil {
		return err
	}
	r, err := api.registry.ScheduleRoute(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *routeApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var filter registry.RouteFilter
	if err = ctx.Bind(&filter); err != nil {
		return pkgerrors.Wrap(err, "binding to RouteFilter")
	}
	if err = api.validate.Struct(filter); err != nil {
		return err
	}

	// non admins only ever see their own routes
	switch claims.Role {
	case shuttle.RoleDriver:
		filter.DriverID = claims.Actor
	case shuttle.RoleStudent:
		filter.StudentID = claims.Actor
	}

	list, err := api.registry.Routes(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *routeApi) retrieve(ctx echo.Context) error {
	r, _, err := api.visibleRoute(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *routeApi) enroll(ctx echo.Context) error {
	var data EnrollmentRequest
	if err := bind(ctx, api.validate, &data, "EnrollmentRequest"); err != nil {
		return err
	}
	r, err := api.registry.Enroll(ctx.Request().Context(), ctx.Param("id"), data.StudentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *routeApi) unenroll(ctx echo.Context) error {
	r, err := api.registry.Unenroll(ctx.Request().Context(), ctx.Param("id"), ctx.Param("student_id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *routeApi) start(ctx echo.Context) error {
	if _, err := api.operatedRoute(ctx); err != nil {
		return err
	}
	var data TransitionRequest
	if err := bind(ctx, api.validate, &data, "TransitionRequest"); err != nil {
		return err
	}
	r, out, err := api.lifecycle.Start(ctx.Request().Context(), ctx.Param("id"), data.At)
	if err != nil {
		return err
	}
	api.transitioned(r, out)
	return ctx.JSON(http.StatusOK, r)
}

func (api *routeApi) complete(ctx echo.Context) error {
	if _, err := api.operatedRoute(ctx); err != nil {
		return err
	}
	var data TransitionRequest
	if err := bind(ctx, api.validate, &data, "TransitionRequest"); err != nil {
		return err
	}
	r, out, err := api.lifecycle.Complete(ctx.Request().Context(), ctx.Param("id"), data.At)
	if err != nil {
		return err
	}
	api.transitioned(r, out)
	return ctx.JSON(http.StatusOK, r)
}

func (api *routeApi) cancel(ctx echo.Context) error {
	if _, err := api.operatedRoute(ctx); err != nil {
		return err
	}
	var data CancelRequest
	if err := bind(ctx, api.validate, &data, "CancelRequest"); err != nil {
		return err
	}
	r, out, err := api.lifecycle.Cancel(ctx.Request().Context(), ctx.Param("id"), data.Reason)
	if err != nil {
		return err
	}
	api.transitioned(r, out)
	return ctx.JSON(http.StatusOK, r)
}

// confirm records a student boarding. Students may only confirm themselves.
func (api *routeApi) confirm(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data ConfirmRequest
	if err = bind(ctx, api.validate, &data, "ConfirmRequest"); err != nil {
		return err
	}

	switch claims.Role {
	case shuttle.RoleStudent:
		if data.StudentID == "" {
			data.StudentID = claims.Actor
		}
		if data.StudentID != claims.Actor {
			return errHttpForbidden
		}
	case shuttle.RoleDriver:
		if _, err = api.operatedRoute(ctx); err != nil {
			return err
		}
	}
	if data.StudentID == "" {
		return core.NewValidationError(
			pkgerrors.New("student_id is required"),
			core.FieldError{Field: "student_id", Error: "student_id is a required field"},
		)
	}

	rec, out, err := api.attendance.Confirm(ctx.Request().Context(), ctx.Param("id"), data.StudentID, data.At)
	if err != nil {
		return err
	}
	if api.metrics != nil {
		api.metrics.Confirmation()
	}
	api.observe(out)
	return ctx.JSON(http.StatusOK, rec)
}

func (api *routeApi) summary(ctx echo.Context) error {
	if _, _, err := api.visibleRoute(ctx); err != nil {
		return err
	}
	sum, out, err := api.attendance.Summary(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	api.observe(out)
	return ctx.JSON(http.StatusOK, sum)
}

func (api *routeApi) routeAttendance(ctx echo.Context) error {
	if _, err := api.operatedRoute(ctx); err != nil {
		return err
	}
	list, err := api.registry.RouteAttendance(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, list)
}

type (
	EnrollmentRequest struct {
		StudentID string `json:"student_id" validate:"required"`
	}

	// TransitionRequest carries an optional event time, the store clock is used when zero.
	TransitionRequest struct {
		At time.Time `json:"at"`
	}

	CancelRequest struct {
		Reason string `json:"reason" validate:"required,max=255"`
	}

	ConfirmRequest struct {
		StudentID string    `json:"student_id"`
		At        time.Time `json:"at"`
	}
)

func (er *EnrollmentRequest) Validate(validate *validator.Validate) error { return validate.Struct(er) }
func (tr *TransitionRequest) Validate(*validator.Validate) error          { return nil }
func (cr *CancelRequest) Validate(validate *validator.Validate) error     { return validate.Struct(cr) }
func (cr *ConfirmRequest) Validate(*validator.Validate) error             { return nil }
