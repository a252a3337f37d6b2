package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/rbac"
)

type academicApi struct {
	svc      *academic.Service
	validate *validator.Validate
}

func registerAcademicAPI(g *echo.Group, authed echo.MiddlewareFunc, api *academicApi) {
	admin := guard(rbac.AdminAccess)

	yg := g.Group("/academic-years", authed)
	yg.GET("", api.queryYears)
	yg.POST("", api.createYear, admin)
	yg.GET("/current", api.currentYear)
	yg.GET("/:id", api.retrieveYear)
	yg.POST("/:id/set-current", api.setCurrentYear, admin)

	pg := g.Group("/periods", authed)
	pg.GET("", api.queryPeriods)
	pg.POST("", api.createPeriod, admin)
	pg.GET("/:id", api.retrievePeriod)
	pg.POST("/:id/set-current", api.setCurrentPeriod, admin)

	sg := g.Group("/subjects", authed)
	sg.GET("", api.querySubjects)
	sg.POST("", api.createSubject, admin)
	sg.GET("/:id", api.retrieveSubject)

	cg := g.Group("/classrooms", authed)
	cg.GET("", api.queryClassRooms)
	cg.POST("", api.createClassRoom, admin)
	cg.GET("/:id", api.retrieveClassRoom)

	ag := g.Group("/assignments", authed)
	ag.GET("", api.queryAssignments, guard(rbac.StaffAccess))
	ag.POST("", api.createAssignment, admin)
	ag.DELETE("/:id", api.destroyAssignment, admin)

	eg := g.Group("/enrollments", authed)
	eg.GET("", api.queryEnrollments)
	eg.POST("", api.enroll, admin)
	eg.GET("/:id", api.retrieveEnrollment)
	eg.POST("/:id/withdraw", api.withdraw, admin)

	tg := g.Group("/timetable", authed)
	tg.GET("", api.querySlots)
	tg.POST("", api.createSlot, admin)
	tg.GET("/:id", api.retrieveSlot)
	tg.DELETE("/:id", api.destroySlot, admin)

	gg := g.Group("/grades", authed)
	gg.GET("", api.queryGrades)
	gg.POST("", api.createGrade, guard(rbac.TeacherAccess))
	gg.GET("/:id", api.retrieveGrade)
	gg.PUT("/:id", api.updateGrade, guard(rbac.TeacherAccess))
	gg.DELETE("/:id", api.destroyGrade, guard(rbac.TeacherAccess))

	g.GET("/students/:id/averages", api.averages)
}

// Academic years & periods

func (api *academicApi) createYear(ctx echo.Context) error {
	var data academic.NewAcademicYear
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	y, err := api.svc.CreateYear(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating academic year")
	}
	return ctx.JSON(http.StatusCreated, y)
}

func (api *academicApi) queryYears(ctx echo.Context) error {
	var filter academic.YearFilter
	if err := bindQuery(ctx, &filter); err != nil {
		return err
	}
	years, err := api.svc.QueryYears(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying academic years")
	}
	return list(ctx, years)
}

func (api *academicApi) retrieveYear(ctx echo.Context) error {
	y, err := api.svc.GetYear(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, y)
}

func (api *academicApi) currentYear(ctx echo.Context) error {
	y, err := api.svc.CurrentYear(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, y)
}

func (api *academicApi) setCurrentYear(ctx echo.Context) error {
	y, err := api.svc.SetCurrentYear(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, y)
}

func (api *academicApi) createPeriod(ctx echo.Context) error {
	var data academic.NewPeriod
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	pe, err := api.svc.CreatePeriod(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating period")
	}
	return ctx.JSON(http.StatusCreated, pe)
}

func (api *academicApi) queryPeriods(ctx echo.Context) error {
	var filter academic.PeriodFilter
	if err := bindQuery(ctx, &filter); err != nil {
		return err
	}
	periods, err := api.svc.QueryPeriods(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying periods")
	}
	return list(ctx, periods)
}

func (api *academicApi) retrievePeriod(ctx echo.Context) error {
	pe, err := api.svc.GetPeriod(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pe)
}

func (api *academicApi) setCurrentPeriod(ctx echo.Context) error {
	pe, err := api.svc.SetCurrentPeriod(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pe)
}

// Subjects

func (api *academicApi) createSubject(ctx echo.Context) error {
	var data academic.NewSubject
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	s, err := api.svc.CreateSubject(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *academicApi) querySubjects(ctx echo.Context) error {
	var filter academic.SubjectFilter
	if err := bindQuery(ctx, &filter); err != nil {
		return err
	}
	filter.Search = core.CleanString(filter.Search)
	subjects, err := api.svc.QuerySubjects(ctx.Request().Context(), filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	return list(ctx, subjects)
}

func (api *academicApi) retrieveSubject(ctx echo.Context) error {
	s, err := api.svc.GetSubject(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

// Classrooms

func (api *academicApi) createClassRoom(ctx echo.Context) error {
	var data academic.NewClassRoom
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.CreateClassRoom(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating classroom")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *academicApi) queryClassRooms(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter academic.ClassRoomFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	filter.Search = core.CleanString(filter.Search)
	classes, err := api.svc.QueryClassRooms(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying classrooms")
	}
	return list(ctx, classes)
}

func (api *academicApi) retrieveClassRoom(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	c, err := api.svc.GetClassRoom(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c)
}

// Assignments

func (api *academicApi) createAssignment(ctx echo.Context) error {
	var data academic.NewAssignment
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.svc.CreateAssignment(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *academicApi) queryAssignments(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter academic.AssignmentFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	assignments, err := api.svc.QueryAssignments(ctx.Request().Context(), p, filter)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	return list(ctx, assignments)
}

func (api *academicApi) destroyAssignment(ctx echo.Context) error {
	if err := api.svc.DeleteAssignment(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Enrollments

func (api *academicApi) enroll(ctx echo.Context) error {
	var data academic.NewEnrollment
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	e, err := api.svc.Enroll(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *academicApi) queryEnrollments(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter academic.EnrollmentFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	enrollments, err := api.svc.QueryEnrollments(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	return list(ctx, enrollments)
}

func (api *academicApi) retrieveEnrollment(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	e, err := api.svc.GetEnrollment(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *academicApi) withdraw(ctx echo.Context) error {
	var data WithdrawRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	e, err := api.svc.Withdraw(ctx.Request().Context(), ctx.Param("id"), data.Date)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, e)
}

// Timetable

func (api *academicApi) createSlot(ctx echo.Context) error {
	var data academic.NewTimetableSlot
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	s, err := api.svc.CreateSlot(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating timetable slot")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *academicApi) querySlots(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter academic.SlotFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	slots, err := api.svc.QuerySlots(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying timetable")
	}
	return list(ctx, slots)
}

func (api *academicApi) retrieveSlot(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	s, err := api.svc.GetSlot(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *academicApi) destroySlot(ctx echo.Context) error {
	if err := api.svc.DeleteSlot(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Grades

func (api *academicApi) createGrade(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data academic.NewGrade
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	gr, err := api.svc.CreateGrade(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "creating grade")
	}
	return ctx.JSON(http.StatusCreated, gr)
}

func (api *academicApi) queryGrades(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter academic.GradeFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	grades, err := api.svc.QueryGrades(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying grades")
	}
	return list(ctx, grades)
}

func (api *academicApi) retrieveGrade(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	gr, err := api.svc.GetGrade(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, gr)
}

func (api *academicApi) updateGrade(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data academic.UpdateGrade
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	gr, err := api.svc.UpdateGrade(ctx.Request().Context(), p, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating grade")
	}
	return ctx.JSON(http.StatusOK, gr)
}

func (api *academicApi) destroyGrade(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteGrade(ctx.Request().Context(), p, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academicApi) averages(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	avg, err := api.svc.StudentAverages(ctx.Request().Context(), p, ctx.Param("id"), ctx.QueryParam("period_id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, avg)
}

type WithdrawRequest struct {
	Date core.Date `json:"date"`
}
