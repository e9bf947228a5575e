package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/registry"
	"github.com/trezcool/shuttle/core/shuttle"
)

type registryApi struct {
	svc      *registry.Service
	validate *validator.Validate
}

func registerRegistryAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := registryApi{svc: deps.RegistrySvc, validate: deps.Validate}

	sg := g.Group("/students", authed)
	sg.POST("", api.createStudent, adminOnly)
	sg.GET("", api.queryStudents, adminOnly)
	sg.GET("/:id", api.retrieveStudent, selfOrAdmin(shuttle.RoleStudent))
	sg.POST("/:id/deactivate", api.deactivateStudent, adminOnly)

	dg := g.Group("/drivers", authed)
	dg.POST("", api.createDriver, adminOnly)
	dg.GET("", api.queryDrivers, adminOnly)
	dg.GET("/:id", api.retrieveDriver, selfOrAdmin(shuttle.RoleDriver))
	dg.PUT("/:id/availability", api.setDriverAvailability, selfOrAdmin(shuttle.RoleDriver))

	bg := g.Group("/buses", authed)
	bg.POST("", api.createBus, adminOnly)
	bg.GET("", api.queryBuses, adminOnly)
	bg.GET("/:id", api.retrieveBus, requireRole(shuttle.RoleAdmin, shuttle.RoleDriver))
	bg.PUT("/:id/telemetry", api.updateBusTelemetry, requireRole(shuttle.RoleAdmin, shuttle.RoleDriver))
	bg.PUT("/:id/status", api.setBusStatus, adminOnly)
}

// selfOrAdmin lets through admins, and callers of role whose actor id is the :id path param.
func selfOrAdmin(role shuttle.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.Role == shuttle.RoleAdmin || (claims.Role == role && claims.Actor == ctx.Param("id")) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// Students

func (api *registryApi) createStudent(ctx echo.Context) error {
	var data registry.NewStudent
	if err := bind(ctx, api.validate, &data, "NewStudent"); err != nil {
		return err
	}
	s, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *registryApi) queryStudents(ctx echo.Context) error {
	list, err := api.svc.Students(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *registryApi) retrieveStudent(ctx echo.Context) error {
	s, err := api.svc.Student(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *registryApi) deactivateStudent(ctx echo.Context) error {
	s, err := api.svc.DeactivateStudent(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

// Drivers

func (api *registryApi) createDriver(ctx echo.Context) error {
	var data registry.NewDriver
	if err := bind(ctx, api.validate, &data, "NewDriver"); err != nil {
		return err
	}
	d, err := api.svc.CreateDriver(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, d)
}

func (api *registryApi) queryDrivers(ctx echo.Context) error {
	list, err := api.svc.Drivers(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *registryApi) retrieveDriver(ctx echo.Context) error {
	d, err := api.svc.Driver(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *registryApi) setDriverAvailability(ctx echo.Context) error {
	var data AvailabilityRequest
	if err := bind(ctx, api.validate, &data, "AvailabilityRequest"); err != nil {
		return err
	}
	d, err := api.svc.SetDriverAvailability(ctx.Request().Context(), ctx.Param("id"), *data.Available)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}

// Buses

func (api *registryApi) createBus(ctx echo.Context) error {
	var data registry.NewBus
	if err := bind(ctx, api.validate, &data, "NewBus"); err != nil {
		return err
	}
	b, err := api.svc.CreateBus(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *registryApi) queryBuses(ctx echo.Context) error {
	list, err := api.svc.Buses(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, list)
}

// driverOwnsBus fails with Forbidden when a driver asks about a bus other than their own.
func (api *registryApi) driverOwnsBus(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if claims.Role != shuttle.RoleDriver {
		return nil
	}
	d, err := api.svc.Driver(ctx.Request().Context(), claims.Actor)
	if err != nil {
		return err
	}
	if d.BusID != ctx.Param("id") {
		return core.NewError(core.KindForbidden, "bus %s is not assigned to driver %s", ctx.Param("id"), d.ID)
	}
	return nil
}

func (api *registryApi) retrieveBus(ctx echo.Context) error {
	if err := api.driverOwnsBus(ctx); err != nil {
		return err
	}
	b, err := api.svc.Bus(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *registryApi) updateBusTelemetry(ctx echo.Context) error {
	if err := api.driverOwnsBus(ctx); err != nil {
		return err
	}
	var data registry.BusTelemetry
	if err := bind(ctx, api.validate, &data, "BusTelemetry"); err != nil {
		return err
	}
	b, err := api.svc.UpdateBusTelemetry(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *registryApi) setBusStatus(ctx echo.Context) error {
	var data BusStatusRequest
	if err := bind(ctx, api.validate, &data, "BusStatusRequest"); err != nil {
		return err
	}
	b, err := api.svc.SetBusStatus(ctx.Request().Context(), ctx.Param("id"), data.Status)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, b)
}

type (
	AvailabilityRequest struct {
		Available *bool `json:"available" validate:"required"`
	}

	BusStatusRequest struct {
		Status shuttle.BusStatus `json:"status" validate:"required"`
	}
)

func (ar *AvailabilityRequest) Validate(validate *validator.Validate) error { return validate.Struct(ar) }
func (br *BusStatusRequest) Validate(validate *validator.Validate) error    { return validate.Struct(br) }
