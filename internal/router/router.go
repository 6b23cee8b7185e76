// Package router wires the HTTP surface: the health probe, the auth
// endpoints and one REST resource per registered entity.
package router

import (
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/apikit-go/apikit/internal/crud"
	"github.com/apikit-go/apikit/internal/filter"
	"github.com/apikit-go/apikit/internal/handler"
	"github.com/apikit-go/apikit/internal/middleware"
)

// Deps carries everything the routes need, constructed once at startup.
type Deps struct {
	DB    *sqlx.DB
	Guard *middleware.AuthGuard
	Auth  *handler.AuthHandler
	Log   *zap.Logger

	Users        *crud.Service
	Permissions  *crud.Service
	Groups       *crud.Service
	ContentTypes *crud.Service
}

// Register mounts every route under /v1 plus the health probe.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))

	v1 := e.Group("/v1")

	a := v1.Group("/auth")
	a.POST("/register", d.Auth.Register)
	a.POST("/activate", d.Auth.Activate)
	a.POST("/login", d.Auth.Login)
	a.GET("/logout", d.Auth.Logout)
	a.POST("/refresh", d.Auth.Refresh)
	a.GET("/check", d.Auth.Check, d.Guard.Require())

	users := handler.NewResource(d.Users, d.Guard, d.Log)
	users.MaxLimit = 100
	users.Filters = func() []filter.Filter {
		return []filter.Filter{
			filter.String("username", filter.StringOpts{MaxLen: 64}),
			filter.String("email", filter.StringOpts{MaxLen: 256}),
			filter.Bool("is_active", filter.BoolOpts{}),
			filter.Bool("is_superuser", filter.BoolOpts{}),
		}
	}
	users.Mount(v1.Group("/users"))

	perms := handler.NewResource(d.Permissions, d.Guard, d.Log)
	perms.Filters = func() []filter.Filter {
		return []filter.Filter{
			filter.String("name", filter.StringOpts{MaxLen: 64}),
			filter.Int("content_type", filter.IntOpts{Column: "content_type_id"}),
		}
	}
	perms.Mount(v1.Group("/permissions"))

	groups := handler.NewResource(d.Groups, d.Guard, d.Log)
	groups.Filters = func() []filter.Filter {
		return []filter.Filter{
			filter.String("name", filter.StringOpts{MaxLen: 64}),
		}
	}
	groups.Mount(v1.Group("/groups"))

	cts := handler.NewResource(d.ContentTypes, d.Guard, d.Log)
	cts.ReadOnly = true
	cts.Filters = func() []filter.Filter {
		return []filter.Filter{
			filter.String("name", filter.StringOpts{MaxLen: 64}),
		}
	}
	cts.Mount(v1.Group("/content-types"))
}
