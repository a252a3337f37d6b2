package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
)

type schoolApi struct {
	svc      *school.Service
	validate *validator.Validate
}

func registerSchoolAPI(g *echo.Group, authed echo.MiddlewareFunc, api *schoolApi) {
	sg := g.Group("/students", authed)
	sg.GET("", api.queryStudents)
	sg.POST("", api.createStudent, guard(rbac.AdminAccess))
	sg.GET("/:id", api.retrieveStudent)
	sg.POST("/:id/graduate", api.graduate, guard(rbac.AdminAccess))
	sg.GET("/:id/parents", api.studentParents)
	sg.POST("/:id/parents", api.linkParent, guard(rbac.AdminAccess))
	sg.DELETE("/:id/parents/:parentID", api.unlinkParent, guard(rbac.AdminAccess))

	pg := g.Group("/parents", authed)
	pg.GET("", api.queryParents)
	pg.POST("", api.createParent, guard(rbac.AdminAccess))
	pg.GET("/:id", api.retrieveParent)

	tg := g.Group("/teachers", authed)
	tg.GET("", api.queryTeachers)
	tg.POST("", api.createTeacher, guard(rbac.AdminAccess))
	tg.GET("/:id", api.retrieveTeacher)
}

// Students

func (api *schoolApi) createStudent(ctx echo.Context) error {
	var data school.NewStudent
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	st, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *schoolApi) queryStudents(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter school.StudentFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	filter.Search = core.CleanString(filter.Search)

	students, err := api.svc.QueryStudents(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	return list(ctx, students)
}

func (api *schoolApi) retrieveStudent(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.GetStudent(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *schoolApi) graduate(ctx echo.Context) error {
	var data GraduateRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	st, err := api.svc.Graduate(ctx.Request().Context(), ctx.Param("id"), data.Date)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *schoolApi) studentParents(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	// visibility of the student decides visibility of its parents
	st, err := api.svc.GetStudent(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	parents, err := api.svc.ParentsOf(ctx.Request().Context(), st.ID)
	if err != nil {
		return errors.Wrap(err, "querying parents")
	}
	return list(ctx, parents)
}

func (api *schoolApi) linkParent(ctx echo.Context) error {
	var data LinkParentRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	if err := api.svc.LinkParent(ctx.Request().Context(), ctx.Param("id"), data.ParentID); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *schoolApi) unlinkParent(ctx echo.Context) error {
	if err := api.svc.UnlinkParent(ctx.Request().Context(), ctx.Param("id"), ctx.Param("parentID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Parents

func (api *schoolApi) createParent(ctx echo.Context) error {
	var data school.NewParent
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	pa, err := api.svc.CreateParent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating parent")
	}
	return ctx.JSON(http.StatusCreated, pa)
}

func (api *schoolApi) queryParents(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter school.ParentFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	filter.Search = core.CleanString(filter.Search)

	parents, err := api.svc.QueryParents(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying parents")
	}
	return list(ctx, parents)
}

func (api *schoolApi) retrieveParent(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	pa, err := api.svc.GetParent(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pa)
}

// Teachers

func (api *schoolApi) createTeacher(ctx echo.Context) error {
	var data school.NewTeacher
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	t, err := api.svc.CreateTeacher(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating teacher")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *schoolApi) queryTeachers(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter school.TeacherFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	filter.Search = core.CleanString(filter.Search)

	teachers, err := api.svc.QueryTeachers(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	return list(ctx, teachers)
}

func (api *schoolApi) retrieveTeacher(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	t, err := api.svc.GetTeacher(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, t)
}

type (
	GraduateRequest struct {
		Date core.Date `json:"date"`
	}

	LinkParentRequest struct {
		ParentID string `json:"parent_id" validate:"required,uuid"`
	}
)
