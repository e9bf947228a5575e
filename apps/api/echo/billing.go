package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/billing"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/services/metrics"
)

type billingApi struct {
	svc      *billing.Service
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func registerBillingAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := billingApi{svc: deps.BillingSvc, metrics: deps.Metrics, validate: deps.Validate}

	pg := g.Group("/payments", authed, adminOnly)
	pg.POST("", api.bill)
	pg.GET("", api.query)
	pg.GET("/summary", api.summary)
	pg.POST("/sweep", api.sweep)
	pg.GET("/:id", api.retrieve)
	pg.POST("/:id/receipts", api.recordPayment)
	pg.POST("/:id/overdue", api.markOverdue)

	g.GET("/students/:id/statement", api.statement, authed, selfOrAdmin(shuttle.RoleStudent))
}

func (api *billingApi) observe(out shuttle.Outbox, overdue int) {
	if api.metrics == nil {
		return
	}
	api.metrics.Notifications(out)
	if overdue > 0 {
		api.metrics.Overdue(overdue)
	}
}

// periodParam parses the "period" query param, the current month when missing.
func periodParam(ctx echo.Context) (shuttle.Period, error) {
	val := ctx.QueryParam("period")
	if val == "" {
		return shuttle.PeriodOf(NowFunc().UTC()), nil
	}
	period, err := shuttle.ParsePeriod(val)
	if err != nil {
		return shuttle.Period{}, core.NewValidationError(err, core.FieldError{Field: "period", Error: "must be a month formatted as YYYY-MM"})
	}
	return period, nil
}

func (api *billingApi) bill(ctx echo.Context) error {
	var data billing.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return pkgerrors.Wrap(err, "binding to NewPayment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	p, err := api.svc.Bill(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *billingApi) query(ctx echo.Context) error {
	period, err := periodParam(ctx)
	if err != nil {
		return err
	}
	list, err := api.svc.Payments(ctx.Request().Context(), period)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *billingApi) summary(ctx echo.Context) error {
	period, err := periodParam(ctx)
	if err != nil {
		return err
	}
	sum, err := api.svc.MonthlySummary(ctx.Request().Context(), period)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *billingApi) retrieve(ctx echo.Context) error {
	p, err := api.svc.Payment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *billingApi) recordPayment(ctx echo.Context) error {
	var data billing.Receipt
	if err := ctx.Bind(&data); err != nil {
		return pkgerrors.Wrap(err, "binding to Receipt")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	p, out, err := api.svc.RecordPayment(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	api.observe(out, 0)
	return ctx.JSON(http.StatusOK, p)
}

func (api *billingApi) markOverdue(ctx echo.Context) error {
	var data AsOfRequest
	if err := bind(ctx, api.validate, &data, "AsOfRequest"); err != nil {
		return err
	}
	p, out, err := api.svc.MarkOverdue(ctx.Request().Context(), ctx.Param("id"), data.asOf())
	if err != nil {
		return err
	}
	api.observe(out, 1)
	return ctx.JSON(http.StatusOK, p)
}

func (api *billingApi) sweep(ctx echo.Context) error {
	var data AsOfRequest
	if err := bind(ctx, api.validate, &data, "AsOfRequest"); err != nil {
		return err
	}
	marked, out, err := api.svc.SweepOverdue(ctx.Request().Context(), data.asOf())
	if err != nil {
		return err
	}
	api.observe(out, len(marked))
	if marked == nil {
		marked = []shuttle.Payment{}
	}
	return ctx.JSON(http.StatusOK, marked)
}

func (api *billingApi) statement(ctx echo.Context) error {
	st, err := api.svc.StudentStatement(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

// AsOfRequest carries the reference time of overdue checks, now when zero.
type AsOfRequest struct {
	AsOf time.Time `json:"as_of"`
}

func (ar *AsOfRequest) Validate(*validator.Validate) error { return nil }

func (ar AsOfRequest) asOf() time.Time {
	if ar.AsOf.IsZero() {
		return NowFunc().UTC()
	}
	return ar.AsOf
}
