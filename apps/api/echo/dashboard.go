package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/shuttle/core/view"
)

type dashboardApi struct {
	composer *view.Composer
}

func registerDashboardAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := dashboardApi{composer: deps.Composer}

	g.GET("/dashboard", api.dashboard, authed)
	g.POST("/notifications/:id/read", api.markRead, authed)
}

// dashboard returns the caller's view of a service day (?date=YYYY-MM-DD, today by default).
func (api *dashboardApi) dashboard(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	day, err := dayParam(ctx, "date")
	if err != nil {
		return err
	}
	dash, err := api.composer.ViewFor(ctx.Request().Context(), claims.Role, claims.Actor, day)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, dash)
}

func (api *dashboardApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	notif, err := api.composer.MarkRead(ctx.Request().Context(), claims.Role, claims.Actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, notif)
}
