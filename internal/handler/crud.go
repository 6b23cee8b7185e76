package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/apikit-go/apikit/internal/codes"
	"github.com/apikit-go/apikit/internal/crud"
	"github.com/apikit-go/apikit/internal/filter"
	"github.com/apikit-go/apikit/internal/middleware"
)

// Resource exposes one CRUD service as a REST route group. Every data
// operation is guarded by the matching permission on the service's
// entity; superusers pass implicitly through the guard.
type Resource struct {
	svc   *crud.Service
	guard *middleware.AuthGuard
	log   *zap.Logger

	// Filters returns fresh filter instances for one list request.
	// Filters hold bound state, so they cannot be shared across requests.
	Filters func() []filter.Filter
	// ReadOnly mounts only the read routes.
	ReadOnly bool
	// Children mounts the child-listing route for tree entities.
	Children bool
	// MaxLimit caps the page size; 0 means no cap.
	MaxLimit int
}

func NewResource(svc *crud.Service, guard *middleware.AuthGuard, log *zap.Logger) *Resource {
	return &Resource{svc: svc, guard: guard, log: log}
}

// Mount registers the resource routes on the group.
func (r *Resource) Mount(g *echo.Group) {
	read := r.guard.Require(r.svc.Perm("get"))
	g.GET("", r.List, read)
	g.GET("/many", r.GetMany, read)
	g.GET("/:id", r.GetOne, read)
	if r.Children {
		g.GET("/:id/children", r.ListChildren, read)
	}
	if r.ReadOnly {
		return
	}
	g.POST("", r.Create, r.guard.Require(r.svc.Perm("create")))
	g.PATCH("/:id", r.Edit, r.guard.Require(r.svc.Perm("edit")))
	g.DELETE("/many", r.DeleteMany, r.guard.Require(r.svc.Perm("delete")))
	g.DELETE("/:id", r.DeleteOne, r.guard.Require(r.svc.Perm("delete")))
}

// List returns one page of rows plus the unpaged total. Supported query
// parameters: skip, limit, sort (comma separated, "-" prefix for
// descending) and whatever filters the resource declares.
func (r *Resource) List(c echo.Context) error {
	q := c.QueryParams()

	skip, err := intParam(q.Get("skip"), 0)
	if err != nil {
		return fieldError("skip", crud.Invalid)
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		return fieldError("limit", crud.Invalid)
	}
	if r.MaxLimit > 0 && (limit <= 0 || limit > r.MaxLimit) {
		limit = r.MaxLimit
	}

	var sort []string
	if s := q.Get("sort"); s != "" {
		sort = strings.Split(s, ",")
	}

	var filters []filter.Filter
	if r.Filters != nil {
		filters = r.Filters()
		if err := filter.BindAll(q, filters...); err != nil {
			return err
		}
	}

	rows, total, err := r.svc.GetAll(c.Request().Context(), skip, limit, sort, filters,
		crud.WithRouteKey(r.routeKey("list")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": rows, "total": total})
}

func (r *Resource) GetOne(c echo.Context) error {
	row, err := r.svc.GetOne(c.Request().Context(), c.Param("id"),
		crud.WithRouteKey(r.routeKey("one")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, row)
}

// GetMany returns the rows for the repeated id query parameter.
func (r *Resource) GetMany(c echo.Context) error {
	ids := queryIDs(c)
	if len(ids) == 0 {
		return fieldError("id", kindRequired)
	}
	rows, err := r.svc.GetMany(c.Request().Context(), ids,
		crud.WithRouteKey(r.routeKey("many")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

// ListChildren returns the direct children of a tree node. The literal
// id "null" selects the roots.
func (r *Resource) ListChildren(c echo.Context) error {
	var parent any
	if id := c.Param("id"); id != "null" {
		parent = id
	}
	rows, err := r.svc.ListChildren(c.Request().Context(), parent,
		crud.WithRouteKey(r.routeKey("children")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

func (r *Resource) Create(c echo.Context) error {
	var in crud.Input
	if err := c.Bind(&in); err != nil {
		return codes.FieldsError.Err()
	}
	row, err := r.svc.Create(c.Request().Context(), in,
		crud.WithRouteKey(r.routeKey("one")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, row)
}

func (r *Resource) Edit(c echo.Context) error {
	var in crud.Input
	if err := c.Bind(&in); err != nil {
		return codes.FieldsError.Err()
	}
	row, err := r.svc.Edit(c.Request().Context(), c.Param("id"), in,
		crud.WithRouteKey(r.routeKey("one")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, row)
}

func (r *Resource) DeleteOne(c echo.Context) error {
	if err := r.svc.DeleteOne(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(codes.OK.Status, codes.OK.Resp())
}

func (r *Resource) DeleteMany(c echo.Context) error {
	ids := queryIDs(c)
	if len(ids) == 0 {
		return fieldError("id", kindRequired)
	}
	n, err := r.svc.DeleteMany(c.Request().Context(), ids)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": n})
}

func (r *Resource) routeKey(op string) string {
	return r.svc.Entity().Name + "." + op
}

func queryIDs(c echo.Context) []any {
	vals := c.QueryParams()["id"]
	ids := make([]any, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			ids = append(ids, v)
		}
	}
	return ids
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad int param %q", s)
	}
	return n, nil
}

func fieldError(field, kind string) error {
	return codes.FieldsError.Err(map[string]any{
		"fields": []crud.FieldError{{Field: field, Kind: kind}},
	})
}

// rowID extracts the numeric primary key from a freshly loaded row.
func rowID(row crud.Row) (uint64, error) {
	switch v := row["id"].(type) {
	case int64:
		return uint64(v), nil
	case uint64:
		return v, nil
	case string:
		return strconv.ParseUint(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected id type %T", v)
	}
}
