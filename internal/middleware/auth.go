package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/apikit-go/apikit/internal/auth"
	"github.com/apikit-go/apikit/internal/codes"
	"github.com/apikit-go/apikit/internal/model"
	"github.com/apikit-go/apikit/internal/repository"
)

// Context keys set by the auth guard.
const (
	ContextUser   = "auth.user"
	ContextClaims = "auth.claims"
)

// AuthGuard authenticates requests and enforces per-route permissions.
type AuthGuard struct {
	consumer *auth.Consumer
	users    *repository.Users
	log      *zap.Logger
}

func NewAuthGuard(consumer *auth.Consumer, users *repository.Users, log *zap.Logger) *AuthGuard {
	return &AuthGuard{consumer: consumer, users: users, log: log}
}

// Require parses the request token, loads the user behind it and checks
// the listed permissions. Tokens issued before the user's last password
// change are rejected, as are tokens of deactivated users. Superusers
// bypass the permission check; an empty requirement only authenticates.
func (g *AuthGuard) Require(required ...model.RequiredPerm) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := g.consumer.FromRequest(c)
			if err != nil {
				return err
			}
			ctx := c.Request().Context()

			u, err := g.users.ByID(ctx, claims.User.ID)
			if errors.Is(err, repository.ErrNotFound) {
				return codes.NotAuthenticated.Err()
			}
			if err != nil {
				g.log.Error("auth: load user", zap.Uint64("user_id", claims.User.ID), zap.Error(err))
				return codes.ServerError.Err()
			}

			// A password change invalidates every token issued before it.
			if claims.IssuedAt == nil || u.PasswordChangeAt.After(claims.IssuedAt.Time) {
				return codes.NotAuthenticated.Err()
			}
			if !u.IsActive {
				return codes.NotAuthenticated.Err()
			}

			if !u.IsSuperuser && len(required) > 0 {
				granted, err := g.users.Permissions(ctx, u.ID)
				if err != nil {
					g.log.Error("auth: load permissions", zap.Uint64("user_id", u.ID), zap.Error(err))
					return codes.ServerError.Err()
				}
				if !g.users.HasPermissions(granted, required) {
					return codes.PermissionDenied.Err()
				}
			}

			c.Set(ContextUser, u)
			c.Set(ContextClaims, claims)
			return next(c)
		}
	}
}

// CurrentUser returns the authenticated user stored by Require, or nil.
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(ContextUser).(*model.User)
	return u
}
