package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/apikit-go/apikit/internal/filter"
	"github.com/apikit-go/apikit/internal/model"
)

// GetAll lists rows matching the service's default filters plus the
// bound request filters.  It returns the page and the unpaginated total;
// both are computed inside one transaction so they are consistent.
func (s *Service) GetAll(ctx context.Context, skip, limit int, sort []string, filters []filter.Filter, opts ...CallOption) ([]Row, int, error) {
	c := applyCallOpts(opts)

	where, args := s.baseWhere()
	for _, f := range filters {
		if p, ok := f.Predicate(); ok {
			where = append(where, p.Expr)
			args = append(args, p.Args...)
		}
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	listQ := "SELECT * FROM " + s.ent.Table + cond + s.orderBy(sort)
	if limit > 0 {
		listQ += fmt.Sprintf(" LIMIT %d", limit)
	}
	if skip > 0 {
		if limit <= 0 {
			// OFFSET needs a LIMIT clause in both dialects
			listQ += " LIMIT 2147483647"
		}
		listQ += fmt.Sprintf(" OFFSET %d", skip)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowxContext(ctx, "SELECT COUNT(*) FROM "+s.ent.Table+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.queryRows(ctx, tx, listQ, args...)
	if err != nil {
		return nil, 0, err
	}
	if err := s.loadRelations(ctx, tx, rows, s.plan(c.routeKey)); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	stripHidden(rows, s.ent)
	return rows, total, nil
}

// GetOne fetches a single row by primary key with the service's eager
// loading applied.  A miss is ErrItemNotFound.
func (s *Service) GetOne(ctx context.Context, pk any, opts ...CallOption) (Row, error) {
	c := applyCallOpts(opts)

	where, args := s.baseWhere()
	where = append(where, s.ent.PK+" = ?")
	args = append(args, pk)

	q := "SELECT * FROM " + s.ent.Table + " WHERE " + strings.Join(where, " AND ") + " LIMIT 1"
	rows, err := s.queryRows(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrItemNotFound
	}
	if err := s.loadRelations(ctx, s.db, rows, s.plan(c.routeKey)); err != nil {
		return nil, err
	}
	stripHidden(rows, s.ent)
	return rows[0], nil
}

// GetMany fetches the rows whose primary keys are in ids.
func (s *Service) GetMany(ctx context.Context, ids []any, opts ...CallOption) ([]Row, error) {
	c := applyCallOpts(opts)
	if len(ids) == 0 {
		return nil, nil
	}

	where, args := s.baseWhere()
	inQ, inArgs, err := sqlx.In(s.ent.PK+" IN (?)", ids)
	if err != nil {
		return nil, err
	}
	where = append(where, inQ)
	args = append(args, inArgs...)

	q := "SELECT * FROM " + s.ent.Table + " WHERE " + strings.Join(where, " AND ")
	rows, err := s.queryRows(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadRelations(ctx, s.db, rows, s.plan(c.routeKey)); err != nil {
		return nil, err
	}
	stripHidden(rows, s.ent)
	return rows, nil
}

// ListChildren fetches the rows whose parent key column equals parentPK;
// a nil parent selects the roots of the tree.
func (s *Service) ListChildren(ctx context.Context, parentPK any, opts ...CallOption) ([]Row, error) {
	c := applyCallOpts(opts)

	where, args := s.baseWhere()
	if parentPK == nil {
		where = append(where, s.parentKey+" IS NULL")
	} else {
		where = append(where, s.parentKey+" = ?")
		args = append(args, parentPK)
	}

	q := "SELECT * FROM " + s.ent.Table + " WHERE " + strings.Join(where, " AND ")
	rows, err := s.queryRows(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadRelations(ctx, s.db, rows, s.plan(c.routeKey)); err != nil {
		return nil, err
	}
	stripHidden(rows, s.ent)
	return rows, nil
}

// DeleteOne removes a single row by primary key; a miss is
// ErrItemNotFound.
func (s *Service) DeleteOne(ctx context.Context, pk any) error {
	where, args := s.baseWhere()
	where = append(where, s.ent.PK+" = ?")
	args = append(args, pk)

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+s.ent.Table+" WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// DeleteMany removes the rows whose primary keys are in ids and reports
// how many were deleted.
func (s *Service) DeleteMany(ctx context.Context, ids []any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	where, args := s.baseWhere()
	inQ, inArgs, err := sqlx.In(s.ent.PK+" IN (?)", ids)
	if err != nil {
		return 0, err
	}
	where = append(where, inQ)
	args = append(args, inArgs...)

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+s.ent.Table+" WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Service) baseWhere() ([]string, []any) {
	where := append([]string(nil), s.defaultWhere...)
	args := append([]any(nil), s.defaultArgs...)
	return where, args
}

// orderBy renders the sort spec ("field" ascending, "-field"
// descending), dropping anything that is not a known column.
func (s *Service) orderBy(sort []string) string {
	var parts []string
	for _, key := range sort {
		dir := " ASC"
		col := key
		if strings.HasPrefix(key, "-") {
			dir = " DESC"
			col = key[1:]
		}
		if !s.knownColumn(col) {
			continue
		}
		parts = append(parts, col+dir)
	}
	if len(parts) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (s *Service) knownColumn(col string) bool {
	for _, c := range s.ent.Columns() {
		if c == col {
			return true
		}
	}
	return false
}

// rowByPK fetches one bare row (no relations) of any entity.
func (s *Service) rowByPK(ctx context.Context, q sqlx.QueryerContext, ent *model.Entity, pk any) (Row, error) {
	rows, err := queryEntityRows(ctx, q, "SELECT * FROM "+ent.Table+" WHERE "+ent.PK+" = ? LIMIT 1", pk)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrItemNotFound
	}
	return rows[0], nil
}

func (s *Service) queryRows(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]Row, error) {
	return queryEntityRows(ctx, q, query, args...)
}

func queryEntityRows(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]Row, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		m := map[string]any{}
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		out = append(out, normalizeRow(m))
	}
	return out, rows.Err()
}

// stripHidden removes the entity's hidden columns from read payloads.
func stripHidden(rows []Row, ent *model.Entity) {
	if len(ent.Hidden) == 0 {
		return
	}
	for _, r := range rows {
		for _, col := range ent.Hidden {
			delete(r, col)
		}
	}
}

// normalizeRow converts driver byte slices to strings so rows marshal as
// text instead of base64.
func normalizeRow(m map[string]any) Row {
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			m[k] = string(b)
		}
	}
	return m
}

// planRel is one resolved relation of a load plan.
type planRel struct {
	name   string
	rel    model.Relation
	target *model.Entity
}

// loadPlan is the eager-loading shape of one route: which relations are
// attached and how.  Plans are deterministic for a given service, so the
// per-route cache never needs invalidating.
type loadPlan struct {
	forward []planRel // fk / o2o on this entity
	reverse []planRel // backward o2o/fk and m2m
}

func (s *Service) plan(routeKey string) *loadPlan {
	if routeKey != "" {
		if cached, ok := s.plans.Load(routeKey); ok {
			return cached.(*loadPlan)
		}
	}

	p := &loadPlan{}
	for _, name := range s.selectRelated {
		if rel, ok := s.ent.Relations[name]; ok {
			if target, ok := s.reg.Get(rel.Target); ok {
				p.forward = append(p.forward, planRel{name: name, rel: rel, target: target})
			}
		}
	}
	for _, name := range s.prefetchRelated {
		if rel, ok := s.ent.Relations[name]; ok {
			if target, ok := s.reg.Get(rel.Target); ok {
				p.reverse = append(p.reverse, planRel{name: name, rel: rel, target: target})
			}
		}
	}

	if routeKey != "" {
		s.plans.Store(routeKey, p)
	}
	return p
}

// loadRelations attaches eager-loaded relations to the fetched rows with
// one batched query per relation.
func (s *Service) loadRelations(ctx context.Context, q sqlx.QueryerContext, rows []Row, p *loadPlan) error {
	if len(rows) == 0 {
		return nil
	}

	for _, pr := range p.forward {
		fks := make([]any, 0, len(rows))
		for _, r := range rows {
			if fk := r[pr.rel.Column]; fk != nil {
				fks = append(fks, fk)
			}
		}
		if len(fks) == 0 {
			continue
		}
		inQ, args, err := sqlx.In(
			"SELECT * FROM "+pr.target.Table+" WHERE "+pr.target.PK+" IN (?)", fks)
		if err != nil {
			return err
		}
		related, err := queryEntityRows(ctx, q, inQ, args...)
		if err != nil {
			return err
		}
		stripHidden(related, pr.target)
		byPK := map[any]Row{}
		for _, rr := range related {
			byPK[rr[pr.target.PK]] = rr
		}
		for _, r := range rows {
			if fk := r[pr.rel.Column]; fk != nil {
				r[pr.name] = byPK[fk]
			}
		}
	}

	pks := make([]any, 0, len(rows))
	byPK := map[any]Row{}
	for _, r := range rows {
		pk := r[s.ent.PK]
		pks = append(pks, pk)
		byPK[pk] = r
	}

	for _, pr := range p.reverse {
		switch pr.rel.Kind {
		case model.BackwardO2O, model.BackwardFK:
			inQ, args, err := sqlx.In(
				"SELECT * FROM "+pr.target.Table+" WHERE "+pr.rel.Column+" IN (?)", pks)
			if err != nil {
				return err
			}
			related, err := queryEntityRows(ctx, q, inQ, args...)
			if err != nil {
				return err
			}
			stripHidden(related, pr.target)
			if pr.rel.Kind == model.BackwardO2O {
				for _, rr := range related {
					if parent, ok := byPK[rr[pr.rel.Column]]; ok {
						parent[pr.name] = rr
					}
				}
			} else {
				for _, r := range rows {
					r[pr.name] = []Row{}
				}
				for _, rr := range related {
					if parent, ok := byPK[rr[pr.rel.Column]]; ok {
						parent[pr.name] = append(parent[pr.name].([]Row), rr)
					}
				}
			}

		case model.ManyToMany:
			inQ, args, err := sqlx.In(fmt.Sprintf(
				"SELECT j.%s AS __owner, t.* FROM %s j JOIN %s t ON t.%s = j.%s WHERE j.%s IN (?)",
				pr.rel.JoinOwner, pr.rel.JoinTable, pr.target.Table,
				pr.target.PK, pr.rel.JoinTarget, pr.rel.JoinOwner), pks)
			if err != nil {
				return err
			}
			related, err := queryEntityRows(ctx, q, inQ, args...)
			if err != nil {
				return err
			}
			for _, r := range rows {
				r[pr.name] = []Row{}
			}
			for _, rr := range related {
				stripHidden([]Row{rr}, pr.target)
				owner := rr["__owner"]
				delete(rr, "__owner")
				if parent, ok := byPK[owner]; ok {
					parent[pr.name] = append(parent[pr.name].([]Row), rr)
				}
			}
		}
	}
	return nil
}

// IsNotFound reports whether err is the single-item miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrItemNotFound) }
