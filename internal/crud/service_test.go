package crud

import (
	"context"
	"net/url"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apikit-go/apikit/internal/database"
	"github.com/apikit-go/apikit/internal/filter"
	"github.com/apikit-go/apikit/internal/model"
)

// The test domain is a small author/book/tag library covering every
// relation kind: a self-referencing tree, a backward one-to-one profile,
// a backward collection of books and a tag many-to-many.
func testRegistry() *model.Registry {
	return model.NewRegistry(
		&model.Entity{
			Name:  "author",
			Table: "authors",
			Fields: []model.Field{
				{Name: "name", Unique: true, CaseInsensitive: true},
				{Name: "bio"},
			},
			Relations: map[string]model.Relation{
				"parent":  {Kind: model.ForwardFK, Target: "author", Column: "parent_id"},
				"profile": {Kind: model.BackwardO2O, Target: "profile", Column: "author_id"},
				"books":   {Kind: model.BackwardFK, Target: "book", Column: "author_id"},
				"tags": {Kind: model.ManyToMany, Target: "tag",
					JoinTable: "author_tags", JoinOwner: "author_id", JoinTarget: "tag_id"},
			},
		},
		&model.Entity{
			Name:  "book",
			Table: "books",
			Fields: []model.Field{
				{Name: "title", Unique: true},
				{Name: "published", Default: false},
			},
			Relations: map[string]model.Relation{
				"author": {Kind: model.ForwardFK, Target: "author", Column: "author_id"},
			},
		},
		&model.Entity{
			Name:   "profile",
			Table:  "profiles",
			Fields: []model.Field{{Name: "bio"}},
		},
		&model.Entity{
			Name:   "tag",
			Table:  "tags",
			Fields: []model.Field{{Name: "name", Unique: true}},
		},
	)
}

type fixture struct {
	db      *sqlx.DB
	reg     *model.Registry
	authors *Service
	books   *Service
	tags    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, q := range []string{
		`CREATE TABLE authors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			bio TEXT,
			parent_id INTEGER REFERENCES authors(id)
		)`,
		`CREATE TABLE books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			published INTEGER NOT NULL DEFAULT 0,
			author_id INTEGER REFERENCES authors(id)
		)`,
		`CREATE TABLE profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bio TEXT,
			author_id INTEGER REFERENCES authors(id)
		)`,
		`CREATE TABLE tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE author_tags (
			author_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY (author_id, tag_id)
		)`,
	} {
		_, err := db.Exec(q)
		require.NoError(t, err)
	}

	reg := testRegistry()
	authors, err := NewService(db, reg, "author",
		WithSelectRelated("parent"),
		WithPrefetchRelated("profile", "books", "tags"),
		WithParentKey("parent_id"))
	require.NoError(t, err)
	books, err := NewService(db, reg, "book", WithSelectRelated("author"))
	require.NoError(t, err)
	tags, err := NewService(db, reg, "tag")
	require.NoError(t, err)

	return &fixture{db: db, reg: reg, authors: authors, books: books, tags: tags}
}

func (f *fixture) tag(t *testing.T, name string) int64 {
	t.Helper()
	row, err := f.tags.Create(context.Background(), Input{"name": name})
	require.NoError(t, err)
	return row["id"].(int64)
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func fieldSet(err error) map[string]string {
	mf, ok := AsMultiField(err)
	if !ok {
		return nil
	}
	out := map[string]string{}
	for _, f := range mf.Fields {
		out[f.Field] = f.Kind
	}
	return out
}

func TestCreateWithAllRelationKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1, t2 := f.tag(t, "fiction"), f.tag(t, "crime")

	row, err := f.authors.Create(ctx, Input{
		"name": "Ann",
		"bio":  "writes",
		"profile": map[string]any{
			"bio": "long form",
		},
		"books": []any{
			map[string]any{"title": "First"},
			map[string]any{"title": "Second"},
		},
		// the unknown id must vanish silently instead of failing the call
		"tags": []any{t1, t2, int64(999)},
	})
	require.NoError(t, err)

	assert.Equal(t, "Ann", row["name"])
	profile, ok := row["profile"].(Row)
	require.True(t, ok)
	assert.Equal(t, "long form", profile["bio"])

	books := row["books"].([]Row)
	require.Len(t, books, 2)
	for _, b := range books {
		assert.Equal(t, row["id"], b["author_id"])
	}

	tags := row["tags"].([]Row)
	assert.Len(t, tags, 2)
}

func TestCreateNestedForwardReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the author does not exist yet: nested data creates it first so the
	// book's fk can point at it
	row, err := f.books.Create(ctx, Input{
		"title":  "Standalone",
		"author": map[string]any{"name": "Ghost"},
	})
	require.NoError(t, err)

	author, ok := row["author"].(Row)
	require.True(t, ok)
	assert.Equal(t, "Ghost", author["name"])
	assert.Equal(t, author["id"], row["author_id"])
}

func TestCreateAggregatesRootErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.books.Create(ctx, Input{"title": "Taken"})
	require.NoError(t, err)

	_, err = f.books.Create(ctx, Input{"title": "Taken", "author": int64(999)})
	fields := fieldSet(err)
	assert.Equal(t, map[string]string{
		"title":  NotUnique,
		"author": ReferenceNotFound,
	}, fields)
}

func TestCreateAggregatesNestedErrorsAndRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authors.Create(ctx, Input{
		"name":  "Ann",
		"books": []any{map[string]any{"title": "First"}},
	})
	require.NoError(t, err)

	_, err = f.authors.Create(ctx, Input{
		"name": "Bea",
		"books": []any{
			map[string]any{"title": "First"},
			map[string]any{"title": "Fresh"},
		},
	})
	fields := fieldSet(err)
	assert.Equal(t, map[string]string{"books.0.title": NotUnique}, fields)

	// the whole call rolled back: no second author, no "Fresh" book
	assert.Equal(t, 1, f.count(t, "authors"))
	assert.Equal(t, 1, f.count(t, "books"))
}

func TestCaseInsensitiveUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authors.Create(ctx, Input{"name": "Ann"})
	require.NoError(t, err)

	_, err = f.authors.Create(ctx, Input{"name": "ANN"})
	assert.Equal(t, map[string]string{"name": NotUnique}, fieldSet(err))
}

func TestEditPartialUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row, err := f.authors.Create(ctx, Input{"name": "Ann", "bio": "old"})
	require.NoError(t, err)
	pk := row["id"]

	got, err := f.authors.Edit(ctx, pk, Input{"bio": "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", got["bio"])
	assert.Equal(t, "Ann", got["name"])

	// re-submitting the row's own unique value is not a conflict
	_, err = f.authors.Edit(ctx, pk, Input{"name": "Ann"})
	require.NoError(t, err)

	_, err = f.authors.Create(ctx, Input{"name": "Bea"})
	require.NoError(t, err)
	_, err = f.authors.Edit(ctx, pk, Input{"name": "bea"})
	assert.Equal(t, map[string]string{"name": NotUnique}, fieldSet(err))
}

func TestEditNullClearsFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.authors.Create(ctx, Input{"name": "Ann"})
	require.NoError(t, err)
	row, err := f.authors.Create(ctx, Input{"name": "Bea", "bio": "old", "parent": parent["id"]})
	require.NoError(t, err)
	pk := row["id"]
	require.Equal(t, "old", row["bio"])
	require.NotNil(t, row["parent_id"])

	// a set null clears the column, untouched fields survive
	got, err := f.authors.Edit(ctx, pk, Input{"bio": nil})
	require.NoError(t, err)
	assert.Nil(t, got["bio"])
	assert.Equal(t, "Bea", got["name"])

	// null on a forward reference detaches it
	got, err = f.authors.Edit(ctx, pk, Input{"parent": nil})
	require.NoError(t, err)
	assert.Nil(t, got["parent_id"])
	assert.NotContains(t, got, "parent")
}

func TestEditReplacesManyToMany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1, t2, t3 := f.tag(t, "a"), f.tag(t, "b"), f.tag(t, "c")

	row, err := f.authors.Create(ctx, Input{"name": "Ann", "tags": []any{t1, t2}})
	require.NoError(t, err)
	pk := row["id"]

	got, err := f.authors.Edit(ctx, pk, Input{"tags": []any{t2, t3}})
	require.NoError(t, err)

	var names []string
	for _, tag := range got["tags"].([]Row) {
		names = append(names, tag["name"].(string))
	}
	assert.ElementsMatch(t, []string{"b", "c"}, names)
	assert.Equal(t, 2, f.count(t, "author_tags"))
}

func TestEditBackwardCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row, err := f.authors.Create(ctx, Input{
		"name":  "Ann",
		"books": []any{map[string]any{"title": "First"}},
	})
	require.NoError(t, err)
	pk := row["id"]
	bookID := row["books"].([]Row)[0]["id"]

	got, err := f.authors.Edit(ctx, pk, Input{
		"books": []any{
			map[string]any{"id": bookID, "title": "Renamed"},
			map[string]any{"title": "Added"},
		},
	})
	require.NoError(t, err)

	books := got["books"].([]Row)
	require.Len(t, books, 2)
	var titles []string
	for _, b := range books {
		titles = append(titles, b["title"].(string))
	}
	assert.ElementsMatch(t, []string{"Renamed", "Added"}, titles)
}

func TestEditBackwardOneToOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row, err := f.authors.Create(ctx, Input{"name": "Ann"})
	require.NoError(t, err)
	pk := row["id"]

	got, err := f.authors.Edit(ctx, pk, Input{"profile": map[string]any{"bio": "v1"}})
	require.NoError(t, err)
	assert.Equal(t, "v1", got["profile"].(Row)["bio"])

	got, err = f.authors.Edit(ctx, pk, Input{"profile": map[string]any{"bio": "v2"}})
	require.NoError(t, err)
	assert.Equal(t, "v2", got["profile"].(Row)["bio"])
	assert.Equal(t, 1, f.count(t, "profiles"))
}

func TestGetAllPaginationSortingFiltering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		_, err := f.authors.Create(ctx, Input{"name": name})
		require.NoError(t, err)
	}

	rows, total, err := f.authors.GetAll(ctx, 1, 2, []string{"-name"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "epsilon", rows[0]["name"])
	assert.Equal(t, "delta", rows[1]["name"])

	// unknown sort keys are dropped, not injected
	_, _, err = f.authors.GetAll(ctx, 0, 0, []string{"nope; DROP TABLE authors"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, f.count(t, "authors"))

	nameFilter := filter.String("name", filter.StringOpts{})
	require.NoError(t, filter.BindAll(url.Values{"name": {"beta"}}, nameFilter))
	rows, total, err = f.authors.GetAll(ctx, 0, 0, nil, []filter.Filter{nameFilter})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "beta", rows[0]["name"])
}

func TestListChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.authors.Create(ctx, Input{"name": "root"})
	require.NoError(t, err)
	rootID := root["id"]
	for _, name := range []string{"kid1", "kid2"} {
		_, err := f.authors.Create(ctx, Input{"name": name, "parent": rootID})
		require.NoError(t, err)
	}

	kids, err := f.authors.ListChildren(ctx, rootID)
	require.NoError(t, err)
	assert.Len(t, kids, 2)
	for _, k := range kids {
		parent, ok := k["parent"].(Row)
		require.True(t, ok)
		assert.Equal(t, "root", parent["name"])
	}

	roots, err := f.authors.ListChildren(ctx, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0]["name"])
}

func TestGetManyAndDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []any
	for _, name := range []string{"a", "b", "c"} {
		row, err := f.authors.Create(ctx, Input{"name": name})
		require.NoError(t, err)
		ids = append(ids, row["id"])
	}

	rows, err := f.authors.GetMany(ctx, ids[:2])
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, f.authors.DeleteOne(ctx, ids[0]))
	err = f.authors.DeleteOne(ctx, ids[0])
	assert.True(t, IsNotFound(err))

	n, err := f.authors.DeleteMany(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, f.count(t, "authors"))
}

func TestDefaultFilterScopesEveryOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	published, err := NewService(f.db, f.reg, "book",
		WithDefaultFilter("published = ?", true))
	require.NoError(t, err)

	pub, err := f.books.Create(ctx, Input{"title": "Out", "published": true})
	require.NoError(t, err)
	draft, err := f.books.Create(ctx, Input{"title": "Draft"})
	require.NoError(t, err)

	_, total, err := published.GetAll(ctx, 0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, err = published.GetOne(ctx, pub["id"])
	require.NoError(t, err)
	_, err = published.GetOne(ctx, draft["id"])
	assert.True(t, IsNotFound(err))

	err = published.DeleteOne(ctx, draft["id"])
	assert.True(t, IsNotFound(err))
}

func TestExcludeDroppedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row, err := f.authors.Create(ctx, Input{
		"name":    "Ann",
		"bio":     "kept out",
		"profile": map[string]any{"bio": "inner kept out"},
	}, WithExclude("bio", "profile.bio"))
	require.NoError(t, err)

	assert.Nil(t, row["bio"])
	profile, ok := row["profile"].(Row)
	require.True(t, ok)
	assert.Nil(t, profile["bio"])
}

func TestPermNaming(t *testing.T) {
	f := newFixture(t)
	p := f.authors.Perm("edit")
	assert.Equal(t, "author", p.Entity)
	assert.Equal(t, "edit", p.Action)
}
