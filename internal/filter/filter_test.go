package filter

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(n int64) *int64 { return &n }

func TestStringFilter(t *testing.T) {
	f := String("name", StringOpts{MinLen: 2, MaxLen: 5})

	require.NoError(t, f.Bind(url.Values{}))
	assert.False(t, f.Set())
	_, ok := f.Predicate()
	assert.False(t, ok)

	require.NoError(t, f.Bind(url.Values{"name": {"bob"}}))
	require.True(t, f.Set())
	p, ok := f.Predicate()
	require.True(t, ok)
	assert.Equal(t, "name = ?", p.Expr)
	assert.Equal(t, []any{"bob"}, p.Args)

	err := f.Bind(url.Values{"name": {"x"}})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Source)

	assert.Error(t, f.Bind(url.Values{"name": {"toolong"}}))
}

func TestStringFilterColumnOverride(t *testing.T) {
	f := String("contentType", StringOpts{Column: "content_type_id"})
	require.NoError(t, f.Bind(url.Values{"contentType": {"7"}}))
	p, ok := f.Predicate()
	require.True(t, ok)
	assert.Equal(t, "content_type_id = ?", p.Expr)
}

func TestIntFilter(t *testing.T) {
	f := Int("age", IntOpts{Min: int64p(0), Max: int64p(150)})

	require.NoError(t, f.Bind(url.Values{"age": {"42"}}))
	p, ok := f.Predicate()
	require.True(t, ok)
	assert.Equal(t, "age = ?", p.Expr)
	assert.Equal(t, []any{int64(42)}, p.Args)

	assert.Error(t, f.Bind(url.Values{"age": {"nan"}}))
	assert.Error(t, f.Bind(url.Values{"age": {"-1"}}))
	assert.Error(t, f.Bind(url.Values{"age": {"151"}}))

	// a failed bind leaves the filter unset
	require.NoError(t, f.Bind(url.Values{}))
	assert.False(t, f.Set())
}

func TestBoolFilter(t *testing.T) {
	f := Bool("active", BoolOpts{})

	for raw, want := range map[string]bool{
		"true": true, "false": false, "1": true, "0": false,
		"yes": true, "no": false, "on": true, "off": false,
	} {
		require.NoError(t, f.Bind(url.Values{"active": {raw}}), "raw %q", raw)
		p, ok := f.Predicate()
		require.True(t, ok)
		assert.Equal(t, []any{want}, p.Args, "raw %q", raw)
	}
	assert.Error(t, f.Bind(url.Values{"active": {"maybe"}}))

	strict := Bool("active", BoolOpts{Strict: true})
	require.NoError(t, strict.Bind(url.Values{"active": {"true"}}))
	assert.Error(t, strict.Bind(url.Values{"active": {"1"}}))
}

func TestBindAllStopsAtFirstViolation(t *testing.T) {
	name := String("name", StringOpts{MaxLen: 3})
	age := Int("age", IntOpts{})

	err := BindAll(url.Values{"name": {"toolong"}, "age": {"7"}}, name, age)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Source)
	assert.False(t, age.Set())

	require.NoError(t, BindAll(url.Values{"name": {"bob"}, "age": {"7"}}, name, age))
	assert.True(t, name.Set())
	assert.True(t, age.Set())
}
