package model

import "sort"

// RelationKind classifies how a payload field relates one entity to
// another.  Forward relations keep the foreign key on this entity's
// table; backward relations keep it on the target's table.
type RelationKind int

const (
	ForwardFK  RelationKind = iota // fk column here, payload carries an id
	ForwardO2O                     // fk column here, payload carries nested data
	BackwardO2O                    // fk column on target, at most one row
	BackwardFK                     // fk column on target, collection of rows
	ManyToMany                     // join table, payload carries an id list
)

// Field describes one scalar column of an entity.
type Field struct {
	Name            string // payload field name
	Column          string // db column; empty means same as Name
	Unique          bool   // participates in uniqueness validation
	CaseInsensitive bool   // uniqueness compares case-insensitively
	Default         any    // applied on create when the field is unset
	MaxLen          int    // informational; 0 = unbounded
}

// Col returns the database column backing the field.
func (f Field) Col() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Relation describes one related-entity field.
type Relation struct {
	Kind   RelationKind
	Target string // target entity name in the registry

	// Column is the foreign key column: on this entity's table for
	// forward relations, on the target's table for backward ones.
	Column string

	// Join table metadata, many-to-many only.
	JoinTable  string
	JoinOwner  string // join column referencing this entity
	JoinTarget string // join column referencing the target
}

// Entity is the statically declared descriptor the CRUD service consults
// instead of reflecting over ORM metadata.  Built once at startup.
type Entity struct {
	Name      string // registry/content-type name
	Table     string
	PK        string // primary key column
	Fields    []Field
	Relations map[string]Relation

	// Hidden lists db columns present on the table but stripped from
	// read payloads (credential material and the like).
	Hidden []string
}

// Field looks up a scalar field descriptor by payload name.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns lists the scalar columns of the entity, primary key first.
func (e *Entity) Columns() []string {
	cols := make([]string, 0, len(e.Fields)+1)
	cols = append(cols, e.PK)
	for _, f := range e.Fields {
		cols = append(cols, f.Col())
	}
	return cols
}

// Registry holds every registered entity descriptor.
type Registry struct {
	entities map[string]*Entity
}

func NewRegistry(entities ...*Entity) *Registry {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		r.Register(e)
	}
	return r
}

// Register adds an entity, defaulting its primary key column to "id".
func (r *Registry) Register(e *Entity) {
	if e.PK == "" {
		e.PK = "id"
	}
	if e.Relations == nil {
		e.Relations = map[string]Relation{}
	}
	r.entities[e.Name] = e
}

// Get returns the descriptor for an entity name.
func (r *Registry) Get(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// Names lists all registered entity names, sorted.  This is the set the
// content-type table is synchronized against.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entities))
	for n := range r.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
