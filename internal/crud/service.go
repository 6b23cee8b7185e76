// Package crud implements the generic create/read/edit/delete service.
// Given a validated payload and an entity descriptor it performs writes
// that may span the root entity and its related entities (forward
// foreign keys, one-to-one in both directions, reverse foreign-key
// collections and many-to-many sets) as a single transaction, with
// per-field uniqueness validation and aggregated error reporting.
package crud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/apikit-go/apikit/internal/model"
)

// CreateHandler persists the root row of one create call and returns its
// primary key.  values maps columns to final values: included payload
// fields merged with entity defaults and caller-supplied overrides.
// A default handler is used unless the service was configured with a
// custom one for the entity type.
type CreateHandler func(ctx context.Context, tx sqlx.ExtContext, ent *model.Entity, in Input, values map[string]any) (any, error)

// EditHandler applies the root-row update of one edit call.
type EditHandler func(ctx context.Context, tx sqlx.ExtContext, ent *model.Entity, pk any, in Input, values map[string]any) error

// Service is a CRUD service bound to one root entity.
type Service struct {
	db  *sqlx.DB
	reg *model.Registry
	ent *model.Entity

	selectRelated   []string // forward relations eager-loaded on reads
	prefetchRelated []string // backward/m2m relations eager-loaded on reads
	defaultWhere    []string
	defaultArgs     []any
	parentKey       string // column for ListChildren

	createHandlers map[string]CreateHandler
	editHandlers   map[string]EditHandler

	// query shapes per route, populated deterministically and never
	// invalidated mid-request
	plans sync.Map
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithSelectRelated eager-loads the named forward relations on reads.
func WithSelectRelated(names ...string) Option {
	return func(s *Service) { s.selectRelated = append(s.selectRelated, names...) }
}

// WithPrefetchRelated eager-loads the named backward/m2m relations on reads.
func WithPrefetchRelated(names ...string) Option {
	return func(s *Service) { s.prefetchRelated = append(s.prefetchRelated, names...) }
}

// WithDefaultFilter restricts every read to rows matching the condition.
func WithDefaultFilter(expr string, args ...any) Option {
	return func(s *Service) {
		s.defaultWhere = append(s.defaultWhere, expr)
		s.defaultArgs = append(s.defaultArgs, args...)
	}
}

// WithParentKey sets the column ListChildren filters on.
func WithParentKey(column string) Option {
	return func(s *Service) { s.parentKey = column }
}

// WithCreateHandler installs a custom creation handler for an entity
// type, applied wherever that entity is created in a call tree.
func WithCreateHandler(entity string, h CreateHandler) Option {
	return func(s *Service) { s.createHandlers[entity] = h }
}

// WithEditHandler installs a custom edit handler for an entity type.
func WithEditHandler(entity string, h EditHandler) Option {
	return func(s *Service) { s.editHandlers[entity] = h }
}

// NewService builds a CRUD service for the named root entity.
func NewService(db *sqlx.DB, reg *model.Registry, entity string, opts ...Option) (*Service, error) {
	ent, ok := reg.Get(entity)
	if !ok {
		return nil, fmt.Errorf("crud: unknown entity %q", entity)
	}
	s := &Service{
		db:  db,
		reg: reg,
		ent: ent,

		parentKey:      "parent_id",
		createHandlers: map[string]CreateHandler{},
		editHandlers:   map[string]EditHandler{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Entity returns the root entity descriptor.
func (s *Service) Entity() *model.Entity { return s.ent }

// Perm returns the permission pair guarding one operation on the root
// entity; composed into route guards, never consulted by the data
// operations themselves.
func (s *Service) Perm(action string) model.RequiredPerm {
	return model.RequiredPerm{Entity: s.ent.Name, Action: action}
}

// CallOption tunes a single Create/Edit/read call.
type CallOption func(*callOpts)

type callOpts struct {
	exclude  []string
	defaults map[string]any
	routeKey string
}

// WithExclude drops the given dotted field paths from the payload before
// persisting; nested paths cascade into recursive calls.
func WithExclude(paths ...string) CallOption {
	return func(c *callOpts) { c.exclude = append(c.exclude, paths...) }
}

// WithDefaults merges caller-supplied column values into the root write.
func WithDefaults(defaults map[string]any) CallOption {
	return func(c *callOpts) {
		if c.defaults == nil {
			c.defaults = map[string]any{}
		}
		for k, v := range defaults {
			c.defaults[k] = v
		}
	}
}

// WithRouteKey keys the eager-loading query shape cache; repeated calls
// for the same route reuse the built shape.
func WithRouteKey(key string) CallOption {
	return func(c *callOpts) { c.routeKey = key }
}

func applyCallOpts(opts []CallOption) callOpts {
	var c callOpts
	for _, o := range opts {
		o(&c)
	}
	return c
}

// buckets is the one-pass field classification of a payload against the
// entity's relation descriptors.
type buckets struct {
	scalars  map[string]any     // plain fields by payload name
	refs     map[string]any     // forward fk references by id
	forward  map[string]Input   // forward fk/o2o with nested data
	backOne  map[string]Input   // backward one-to-one
	backMany map[string][]Input // backward one-to-many
	m2m      map[string][]any   // many-to-many id lists
}

func classify(ent *model.Entity, in Input, rootExclude map[string]bool) buckets {
	b := buckets{
		scalars:  map[string]any{},
		refs:     map[string]any{},
		forward:  map[string]Input{},
		backOne:  map[string]Input{},
		backMany: map[string][]Input{},
		m2m:      map[string][]any{},
	}
	for name, v := range in {
		if rootExclude[name] {
			continue
		}
		rel, isRel := ent.Relations[name]
		if !isRel {
			// an explicitly set null participates: it clears the column
			if _, ok := ent.Field(name); ok {
				b.scalars[name] = v
			}
			continue
		}
		if v == nil {
			// null detaches a forward reference; it carries no meaning
			// for backward or many-to-many payloads
			if rel.Kind == model.ForwardFK || rel.Kind == model.ForwardO2O {
				b.refs[name] = nil
			}
			continue
		}
		switch rel.Kind {
		case model.ForwardFK:
			if n, ok := nested(v); ok {
				b.forward[name] = n
			} else {
				b.refs[name] = v
			}
		case model.ForwardO2O:
			if n, ok := nested(v); ok {
				b.forward[name] = n
			}
		case model.BackwardO2O:
			if n, ok := nested(v); ok {
				b.backOne[name] = n
			}
		case model.BackwardFK:
			if l, ok := nestedList(v); ok {
				b.backMany[name] = l
			}
		case model.ManyToMany:
			if ids, ok := idList(v); ok {
				b.m2m[name] = ids
			}
		}
	}
	return b
}

// Create persists the payload as a new root entity inside one
// transaction and returns the fresh row, re-queried with the service's
// eager loading so the response reflects exactly what was written.
func (s *Service) Create(ctx context.Context, in Input, opts ...CallOption) (Row, error) {
	c := applyCallOpts(opts)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	pk, err := s.create(ctx, tx, s.ent, in, c.exclude, c.defaults)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOne(ctx, pk, WithRouteKey(c.routeKey))
}

// create is the recursive worker.  Nested calls run on the caller's
// transaction rather than opening their own.
func (s *Service) create(ctx context.Context, tx *sqlx.Tx, ent *model.Entity, in Input, exclude []string, defaults map[string]any) (any, error) {
	rootExclude, nestedExclude := splitExclude(exclude)
	b := classify(ent, in, rootExclude)
	errs := &MultiFieldError{}

	// root column values: included scalars, then entity defaults for
	// unset fields, then caller overrides
	values := map[string]any{}
	for _, f := range ent.Fields {
		if v, ok := b.scalars[f.Name]; ok {
			values[f.Col()] = v
		} else if f.Default != nil {
			values[f.Col()] = f.Default
		}
	}
	for k, v := range defaults {
		values[k] = v
	}

	if err := s.checkUnique(ctx, tx, ent, b.scalars, nil, errs); err != nil {
		return nil, err
	}

	// forward references given as ids: resolve, collecting every miss
	for name, id := range b.refs {
		rel := ent.Relations[name]
		if id == nil {
			values[rel.Column] = nil
			continue
		}
		ok, err := s.pkExists(ctx, tx, rel.Target, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs.Add(name, ReferenceNotFound)
			continue
		}
		values[rel.Column] = id
	}

	// forward relations with nested data: the child row must exist
	// before our fk can point at it
	for name, childIn := range b.forward {
		rel := ent.Relations[name]
		child, ok := s.reg.Get(rel.Target)
		if !ok {
			return nil, fmt.Errorf("crud: unknown entity %q", rel.Target)
		}
		childPK, err := s.create(ctx, tx, child, childIn, nestedExclude[name], nil)
		if err != nil {
			if mf, isMF := AsMultiField(err); isMF {
				errs.Merge(name, mf)
				continue
			}
			return nil, err
		}
		values[rel.Column] = childPK
	}

	if !errs.Empty() {
		return nil, errs
	}

	pk, err := s.handleCreate(ent)(ctx, tx, ent, in, values)
	if err != nil {
		return nil, err
	}

	// backward relations: our pk is injected as the child's fk default
	for name, childIn := range b.backOne {
		rel := ent.Relations[name]
		child, ok := s.reg.Get(rel.Target)
		if !ok {
			return nil, fmt.Errorf("crud: unknown entity %q", rel.Target)
		}
		if _, err := s.create(ctx, tx, child, childIn, nestedExclude[name], map[string]any{rel.Column: pk}); err != nil {
			if mf, isMF := AsMultiField(err); isMF {
				errs.Merge(name, mf)
				continue
			}
			return nil, err
		}
	}
	for name, items := range b.backMany {
		rel := ent.Relations[name]
		child, ok := s.reg.Get(rel.Target)
		if !ok {
			return nil, fmt.Errorf("crud: unknown entity %q", rel.Target)
		}
		for i, childIn := range items {
			if _, err := s.create(ctx, tx, child, childIn, nestedExclude[name], map[string]any{rel.Column: pk}); err != nil {
				if mf, isMF := AsMultiField(err); isMF {
					errs.Merge(fmt.Sprintf("%s.%d", name, i), mf)
					continue
				}
				return nil, err
			}
		}
	}
	if !errs.Empty() {
		return nil, errs
	}

	// m2m associations last, once the row has a stable primary key
	for name, ids := range b.m2m {
		if err := s.setM2M(ctx, tx, ent.Relations[name], pk, ids, false); err != nil {
			return nil, err
		}
	}
	return pk, nil
}

// Edit applies a partial update to an existing root entity inside one
// transaction and returns the re-queried row.
func (s *Service) Edit(ctx context.Context, pk any, in Input, opts ...CallOption) (Row, error) {
	c := applyCallOpts(opts)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := s.edit(ctx, tx, s.ent, pk, in, c.exclude, c.defaults); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOne(ctx, pk, WithRouteKey(c.routeKey))
}

func (s *Service) edit(ctx context.Context, tx *sqlx.Tx, ent *model.Entity, pk any, in Input, exclude []string, defaults map[string]any) error {
	rootExclude, nestedExclude := splitExclude(exclude)
	b := classify(ent, in, rootExclude)
	errs := &MultiFieldError{}

	cur, err := s.rowByPK(ctx, tx, ent, pk)
	if err != nil {
		return err
	}

	// partial update: only explicitly set fields, plus caller overrides
	values := map[string]any{}
	for name, v := range b.scalars {
		f, _ := ent.Field(name)
		values[f.Col()] = v
	}
	for k, v := range defaults {
		values[k] = v
	}

	// uniqueness only against fields present in the partial update,
	// never tripping over the row itself
	if err := s.checkUnique(ctx, tx, ent, b.scalars, pk, errs); err != nil {
		return err
	}

	for name, id := range b.refs {
		rel := ent.Relations[name]
		if id == nil {
			values[rel.Column] = nil
			continue
		}
		ok, err := s.pkExists(ctx, tx, rel.Target, id)
		if err != nil {
			return err
		}
		if !ok {
			errs.Add(name, ReferenceNotFound)
			continue
		}
		values[rel.Column] = id
	}

	// forward nested data: edit the related row when the fk is set,
	// create it otherwise
	for name, childIn := range b.forward {
		rel := ent.Relations[name]
		child, ok := s.reg.Get(rel.Target)
		if !ok {
			return fmt.Errorf("crud: unknown entity %q", rel.Target)
		}
		if existing := cur[rel.Column]; existing != nil {
			err = s.edit(ctx, tx, child, existing, childIn, nestedExclude[name], nil)
		} else {
			var childPK any
			childPK, err = s.create(ctx, tx, child, childIn, nestedExclude[name], nil)
			if err == nil {
				values[rel.Column] = childPK
			}
		}
		if err != nil {
			if mf, isMF := AsMultiField(err); isMF {
				errs.Merge(name, mf)
				continue
			}
			return err
		}
	}

	if !errs.Empty() {
		return errs
	}

	if len(values) > 0 {
		if err := s.handleEdit(ent)(ctx, tx, ent, pk, in, values); err != nil {
			return err
		}
	}

	// backward one-to-one: edit when present, create with the parent
	// linkage otherwise
	for name, childIn := range b.backOne {
		rel := ent.Relations[name]
		child, ok := s.reg.Get(rel.Target)
		if !ok {
			return fmt.Errorf("crud: unknown entity %q", rel.Target)
		}
		childPK, err := s.relatedPK(ctx, tx, child, rel.Column, pk)
		if err != nil {
			return err
		}
		if childPK != nil {
			err = s.edit(ctx, tx, child, childPK, childIn, nestedExclude[name], nil)
		} else {
			_, err = s.create(ctx, tx, child, childIn, nestedExclude[name], map[string]any{rel.Column: pk})
		}
		if err != nil {
			if mf, isMF := AsMultiField(err); isMF {
				errs.Merge(name, mf)
				continue
			}
			return err
		}
	}

	// backward collections: items carrying their pk are edited, the
	// rest are created under this parent
	for name, items := range b.backMany {
		rel := ent.Relations[name]
		child, ok := s.reg.Get(rel.Target)
		if !ok {
			return fmt.Errorf("crud: unknown entity %q", rel.Target)
		}
		for i, childIn := range items {
			var err error
			if childPK, hasPK := childIn[child.PK]; hasPK {
				delete(childIn, child.PK)
				err = s.edit(ctx, tx, child, childPK, childIn, nestedExclude[name], nil)
			} else {
				_, err = s.create(ctx, tx, child, childIn, nestedExclude[name], map[string]any{rel.Column: pk})
			}
			if err != nil {
				if mf, isMF := AsMultiField(err); isMF {
					errs.Merge(fmt.Sprintf("%s.%d", name, i), mf)
					continue
				}
				return err
			}
		}
	}
	if !errs.Empty() {
		return errs
	}

	// m2m on edit replaces the association set
	for name, ids := range b.m2m {
		if err := s.setM2M(ctx, tx, ent.Relations[name], pk, ids, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleCreate(ent *model.Entity) CreateHandler {
	if h, ok := s.createHandlers[ent.Name]; ok {
		return h
	}
	return defaultCreate
}

func (s *Service) handleEdit(ent *model.Entity) EditHandler {
	if h, ok := s.editHandlers[ent.Name]; ok {
		return h
	}
	return defaultEdit
}

func defaultCreate(ctx context.Context, tx sqlx.ExtContext, ent *model.Entity, _ Input, values map[string]any) (any, error) {
	cols := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	marks := make([]string, 0, len(values))
	for col, v := range values {
		cols = append(cols, col)
		args = append(args, v)
		marks = append(marks, "?")
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ent.Table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	// an explicitly supplied primary key wins over autoincrement
	if pk, ok := values[ent.PK]; ok {
		return pk, nil
	}
	return res.LastInsertId()
}

func defaultEdit(ctx context.Context, tx sqlx.ExtContext, ent *model.Entity, pk any, _ Input, values map[string]any) error {
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+1)
	for col, v := range values {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	args = append(args, pk)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", ent.Table, strings.Join(sets, ", "), ent.PK)
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// checkUnique accumulates a NotUnique violation for every included
// unique field whose value already exists on another row.
func (s *Service) checkUnique(ctx context.Context, tx sqlx.ExtContext, ent *model.Entity, scalars map[string]any, selfPK any, errs *MultiFieldError) error {
	for _, f := range ent.Fields {
		v, ok := scalars[f.Name]
		if !ok || v == nil || !f.Unique {
			continue
		}
		var q string
		args := []any{v}
		if f.CaseInsensitive {
			q = fmt.Sprintf("SELECT %s FROM %s WHERE LOWER(%s) = LOWER(?)", ent.PK, ent.Table, f.Col())
		} else {
			q = fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", ent.PK, ent.Table, f.Col())
		}
		if selfPK != nil {
			q += fmt.Sprintf(" AND %s != ?", ent.PK)
			args = append(args, selfPK)
		}
		q += " LIMIT 1"

		var found any
		err := tx.QueryRowxContext(ctx, q, args...).Scan(&found)
		switch {
		case err == nil:
			errs.Add(f.Name, NotUnique)
		case errors.Is(err, sql.ErrNoRows):
			// value is free
		default:
			return err
		}
	}
	return nil
}

func (s *Service) pkExists(ctx context.Context, tx sqlx.ExtContext, entity string, pk any) (bool, error) {
	target, ok := s.reg.Get(entity)
	if !ok {
		return false, fmt.Errorf("crud: unknown entity %q", entity)
	}
	var found any
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1", target.PK, target.Table, target.PK)
	err := tx.QueryRowxContext(ctx, q, pk).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// relatedPK finds the primary key of the single row of ent pointing at
// parentPK through column, nil when absent.
func (s *Service) relatedPK(ctx context.Context, tx sqlx.ExtContext, ent *model.Entity, column string, parentPK any) (any, error) {
	var pk any
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1", ent.PK, ent.Table, column)
	err := tx.QueryRowxContext(ctx, q, parentPK).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pk, nil
}

// setM2M associates the resolved subset of ids with the row.  Unresolved
// ids are dropped silently; on edit the existing set is replaced.
func (s *Service) setM2M(ctx context.Context, tx *sqlx.Tx, rel model.Relation, pk any, ids []any, clear bool) error {
	if clear {
		q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rel.JoinTable, rel.JoinOwner)
		if _, err := tx.ExecContext(ctx, q, pk); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return nil
	}

	target, ok := s.reg.Get(rel.Target)
	if !ok {
		return fmt.Errorf("crud: unknown entity %q", rel.Target)
	}
	q, args, err := sqlx.In(
		fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (?)", target.PK, target.Table, target.PK), ids)
	if err != nil {
		return err
	}
	var resolved []any
	rows, err := tx.QueryxContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return err
		}
		resolved = append(resolved, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ins := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", rel.JoinTable, rel.JoinOwner, rel.JoinTarget)
	for _, id := range resolved {
		if _, err := tx.ExecContext(ctx, ins, pk, id); err != nil {
			return err
		}
	}
	return nil
}
