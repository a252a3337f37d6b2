package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/rbac"
)

type activityApi struct {
	recorder *activity.Recorder
}

func registerActivityAPI(g *echo.Group, authed echo.MiddlewareFunc, api *activityApi) {
	g.GET("/activity", api.query, authed, guard(rbac.AdminAccess))
}

func (api *activityApi) query(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter activity.Filter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	logs, err := api.recorder.Query(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying activity")
	}
	return list(ctx, logs)
}
