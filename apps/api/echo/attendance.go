package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/attendance"
	"github.com/eschool-app/eschool/core/rbac"
)

type attendanceApi struct {
	svc      *attendance.Service
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, authed echo.MiddlewareFunc, api *attendanceApi) {
	teacher := guard(rbac.TeacherAccess)

	sg := g.Group("/sessions", authed)
	sg.GET("", api.querySessions)
	sg.POST("/generate", api.generate, guard(rbac.AdminAccess))
	sg.GET("/:id", api.retrieveSession)
	sg.POST("/:id/start", api.start, teacher)
	sg.POST("/:id/complete", api.complete, teacher)
	sg.POST("/:id/cancel", api.cancel, teacher)
	sg.POST("/:id/postpone", api.postpone, teacher)
	sg.POST("/:id/reschedule", api.reschedule, teacher)
	sg.GET("/:id/attendance", api.sheet, teacher)
	sg.POST("/:id/attendance", api.take, teacher)

	ag := g.Group("/attendance", authed)
	ag.GET("", api.queryAttendance)
	ag.GET("/daily", api.querySummaries)
	ag.POST("/summarize", api.summarize, guard(rbac.AdminAccess))
	ag.POST("/:id/justify", api.justify, teacher)

	g.GET("/students/:id/attendance-stats", api.stats)
}

// Sessions

func (api *attendanceApi) generate(ctx echo.Context) error {
	var data attendance.Generate
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	n, err := api.svc.GenerateSessions(ctx.Request().Context(), data.From, data.To)
	if err != nil {
		return errors.Wrap(err, "generating sessions")
	}
	return ctx.JSON(http.StatusCreated, CountResponse{Count: n})
}

func (api *attendanceApi) querySessions(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter attendance.SessionFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	sessions, err := api.svc.QuerySessions(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	return list(ctx, sessions)
}

func (api *attendanceApi) retrieveSession(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	s, err := api.svc.GetSession(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

// transition runs one of the session status changes that need no body.
func (api *attendanceApi) transition(ctx echo.Context, fn func(p rbac.Principal, id string) (attendance.Session, error)) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	s, err := fn(p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *attendanceApi) start(ctx echo.Context) error {
	return api.transition(ctx, func(p rbac.Principal, id string) (attendance.Session, error) {
		return api.svc.Start(ctx.Request().Context(), p, id)
	})
}

func (api *attendanceApi) cancel(ctx echo.Context) error {
	return api.transition(ctx, func(p rbac.Principal, id string) (attendance.Session, error) {
		return api.svc.Cancel(ctx.Request().Context(), p, id)
	})
}

func (api *attendanceApi) postpone(ctx echo.Context) error {
	return api.transition(ctx, func(p rbac.Principal, id string) (attendance.Session, error) {
		return api.svc.Postpone(ctx.Request().Context(), p, id)
	})
}

func (api *attendanceApi) complete(ctx echo.Context) error {
	var data attendance.Lesson
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	return api.transition(ctx, func(p rbac.Principal, id string) (attendance.Session, error) {
		return api.svc.Complete(ctx.Request().Context(), p, id, data)
	})
}

func (api *attendanceApi) reschedule(ctx echo.Context) error {
	var data RescheduleRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	return api.transition(ctx, func(p rbac.Principal, id string) (attendance.Session, error) {
		return api.svc.Reschedule(ctx.Request().Context(), p, id, data.Date)
	})
}

// Attendance

func (api *attendanceApi) sheet(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	sh, err := api.svc.Sheet(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sh)
}

func (api *attendanceApi) take(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data attendance.TakeAttendance
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	records, err := api.svc.TakeAttendance(ctx.Request().Context(), p, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "taking attendance")
	}
	return list(ctx, records)
}

func (api *attendanceApi) queryAttendance(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter attendance.AttendanceFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	records, err := api.svc.QueryAttendance(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying attendance")
	}
	return list(ctx, records)
}

func (api *attendanceApi) justify(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data attendance.Justification
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.svc.Justify(ctx.Request().Context(), p, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "justifying absence")
	}
	return ctx.JSON(http.StatusOK, a)
}

// Daily summaries

func (api *attendanceApi) querySummaries(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter attendance.SummaryFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	summaries, err := api.svc.QuerySummaries(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying daily summaries")
	}
	return list(ctx, summaries)
}

func (api *attendanceApi) summarize(ctx echo.Context) error {
	var data attendance.Generate
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	n, err := api.svc.RecomputeRange(ctx.Request().Context(), data.From, data.To)
	if err != nil {
		return errors.Wrap(err, "summarizing attendance")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *attendanceApi) stats(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.Stats(ctx.Request().Context(), p, ctx.Param("id"), ctx.QueryParam("period"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

type RescheduleRequest struct {
	Date core.Date `json:"date"`
}
