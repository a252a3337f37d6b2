package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/rbac"
)

type communicationApi struct {
	svc      *communication.Service
	validate *validator.Validate
}

func registerCommunicationAPI(g *echo.Group, authed echo.MiddlewareFunc, api *communicationApi) {
	mg := g.Group("/messages", authed)
	mg.GET("", api.inbox)
	mg.GET("/inbox", api.inbox)
	mg.GET("/outbox", api.outbox)
	mg.POST("", api.send)
	mg.GET("/:id", api.read)
	mg.POST("/:id/reply", api.reply)
	mg.DELETE("/:id", api.destroyMessage)

	ag := g.Group("/announcements", authed)
	ag.GET("", api.queryAnnouncements)
	ag.POST("", api.createAnnouncement, guard(rbac.StaffAccess))
	ag.GET("/:id", api.retrieveAnnouncement)
	ag.POST("/:id/deactivate", api.deactivate, guard(rbac.StaffAccess))

	ng := g.Group("/notifications", authed)
	ng.GET("", api.queryNotifications)
	ng.GET("/unread-count", api.unreadCount)
	ng.POST("/read-all", api.markAllRead)
	ng.POST("/:id/read", api.markRead)
}

// Messages

func (api *communicationApi) box(ctx echo.Context, outbox bool) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter communication.MessageFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	filter.Search = core.CleanString(filter.Search)

	var messages []communication.Message
	if outbox {
		messages, err = api.svc.Outbox(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	} else {
		messages, err = api.svc.Inbox(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	}
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}
	return list(ctx, messages)
}

func (api *communicationApi) inbox(ctx echo.Context) error  { return api.box(ctx, false) }
func (api *communicationApi) outbox(ctx echo.Context) error { return api.box(ctx, true) }

func (api *communicationApi) send(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data communication.NewMessage
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.Send(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *communicationApi) read(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	m, err := api.svc.Read(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *communicationApi) reply(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data communication.Reply
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.Reply(ctx.Request().Context(), p, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "replying to message")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *communicationApi) destroyMessage(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), p, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Announcements

func (api *communicationApi) createAnnouncement(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data communication.NewAnnouncement
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.svc.CreateAnnouncement(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "creating announcement")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *communicationApi) queryAnnouncements(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter communication.AnnouncementFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	announcements, err := api.svc.QueryAnnouncements(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying announcements")
	}
	return list(ctx, announcements)
}

func (api *communicationApi) retrieveAnnouncement(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	a, err := api.svc.GetAnnouncement(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *communicationApi) deactivate(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	a, err := api.svc.Deactivate(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

// Notifications

func (api *communicationApi) queryNotifications(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter communication.NotificationFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	notifications, err := api.svc.QueryNotifications(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	return list(ctx, notifications)
}

func (api *communicationApi) unreadCount(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	n, err := api.svc.UnreadCount(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "counting notifications")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *communicationApi) markRead(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.MarkRead(ctx.Request().Context(), p, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *communicationApi) markAllRead(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	n, err := api.svc.MarkAllRead(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}
