package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/rbac"
)

// principalMiddleware resolves the authenticated user's profiles and stores the rbac.Principal.
// The request context also carries the client's address for the activity log.
func principalMiddleware(resolver *rbac.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			req := ctx.Request()
			p, err := resolver.Resolve(req.Context(), claims.Subject, claims.Role)
			if err != nil {
				return errors.Wrap(err, "resolving principal")
			}
			ctx.Set(contextPrincipalKey, p)
			ctx.SetRequest(req.WithContext(activity.WithClient(req.Context(), ctx.RealIP(), req.UserAgent())))
			return next(ctx)
		}
	}
}

// guard only lets through the roles of group.
func guard(group []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if rbac.Allows(claims.Role, group) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// clientMiddleware attaches the client's address to unauthenticated requests.
func clientMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req := ctx.Request()
		ctx.SetRequest(req.WithContext(activity.WithClient(req.Context(), ctx.RealIP(), req.UserAgent())))
		return next(ctx)
	}
}
