// Package filter provides typed, declarative query-parameter filters.
// A filter is configured once at route-registration time with an options
// struct, bound to a request's query string, and contributes a predicate
// to the data query only when its parameter is present.
package filter

import (
	"fmt"
	"net/url"
	"strconv"
)

// Predicate is one SQL condition contributed to a query.
type Predicate struct {
	Expr string
	Args []any
}

// Filter is the contract the CRUD read side consumes.  Bind validates
// and coerces the raw query value; an absent parameter leaves the filter
// unset, which is a no-op rather than an error.
type Filter interface {
	Source() string
	Bind(values url.Values) error
	Set() bool
	Predicate() (Predicate, bool)
}

// ValidationError reports a query parameter that failed its constraints.
type ValidationError struct {
	Source string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Source, e.Reason)
}

// StringOpts configures a string filter.
type StringOpts struct {
	Column string // db column; empty means same as source
	MinLen int
	MaxLen int
}

// StringFilter matches a column against a string parameter.
type StringFilter struct {
	source string
	opts   StringOpts
	value  *string
}

// String builds a string filter bound to the given query parameter.
func String(source string, opts StringOpts) *StringFilter {
	return &StringFilter{source: source, opts: opts}
}

func (f *StringFilter) Source() string { return f.source }
func (f *StringFilter) Set() bool      { return f.value != nil }

func (f *StringFilter) Bind(values url.Values) error {
	if !values.Has(f.source) {
		f.value = nil
		return nil
	}
	v := values.Get(f.source)
	if f.opts.MinLen > 0 && len(v) < f.opts.MinLen {
		return &ValidationError{f.source, fmt.Sprintf("shorter than %d characters", f.opts.MinLen)}
	}
	if f.opts.MaxLen > 0 && len(v) > f.opts.MaxLen {
		return &ValidationError{f.source, fmt.Sprintf("longer than %d characters", f.opts.MaxLen)}
	}
	f.value = &v
	return nil
}

func (f *StringFilter) Predicate() (Predicate, bool) {
	if f.value == nil {
		return Predicate{}, false
	}
	return Predicate{Expr: column(f.opts.Column, f.source) + " = ?", Args: []any{*f.value}}, true
}

// IntOpts configures an integer filter.  Min/Max bounds are inclusive
// and only enforced when non-nil.
type IntOpts struct {
	Column string
	Min    *int64
	Max    *int64
}

// IntFilter matches a column against an integer parameter.
type IntFilter struct {
	source string
	opts   IntOpts
	value  *int64
}

// Int builds an integer filter bound to the given query parameter.
func Int(source string, opts IntOpts) *IntFilter {
	return &IntFilter{source: source, opts: opts}
}

func (f *IntFilter) Source() string { return f.source }
func (f *IntFilter) Set() bool      { return f.value != nil }

func (f *IntFilter) Bind(values url.Values) error {
	if !values.Has(f.source) {
		f.value = nil
		return nil
	}
	n, err := strconv.ParseInt(values.Get(f.source), 10, 64)
	if err != nil {
		return &ValidationError{f.source, "not an integer"}
	}
	if f.opts.Min != nil && n < *f.opts.Min {
		return &ValidationError{f.source, fmt.Sprintf("less than %d", *f.opts.Min)}
	}
	if f.opts.Max != nil && n > *f.opts.Max {
		return &ValidationError{f.source, fmt.Sprintf("greater than %d", *f.opts.Max)}
	}
	f.value = &n
	return nil
}

func (f *IntFilter) Predicate() (Predicate, bool) {
	if f.value == nil {
		return Predicate{}, false
	}
	return Predicate{Expr: column(f.opts.Column, f.source) + " = ?", Args: []any{*f.value}}, true
}

// BoolOpts configures a boolean filter.  Strict mode accepts only
// "true"/"false"; the lax mode also takes 1/0/yes/no/on/off.
type BoolOpts struct {
	Column string
	Strict bool
}

// BoolFilter matches a column against a boolean parameter.
type BoolFilter struct {
	source string
	opts   BoolOpts
	value  *bool
}

// Bool builds a boolean filter bound to the given query parameter.
func Bool(source string, opts BoolOpts) *BoolFilter {
	return &BoolFilter{source: source, opts: opts}
}

func (f *BoolFilter) Source() string { return f.source }
func (f *BoolFilter) Set() bool      { return f.value != nil }

func (f *BoolFilter) Bind(values url.Values) error {
	if !values.Has(f.source) {
		f.value = nil
		return nil
	}
	raw := values.Get(f.source)
	var b bool
	switch raw {
	case "true":
		b = true
	case "false":
		b = false
	default:
		if f.opts.Strict {
			return &ValidationError{f.source, "expected true or false"}
		}
		switch raw {
		case "1", "yes", "on":
			b = true
		case "0", "no", "off":
			b = false
		default:
			return &ValidationError{f.source, "not a boolean"}
		}
	}
	f.value = &b
	return nil
}

func (f *BoolFilter) Predicate() (Predicate, bool) {
	if f.value == nil {
		return Predicate{}, false
	}
	return Predicate{Expr: column(f.opts.Column, f.source) + " = ?", Args: []any{*f.value}}, true
}

// BindAll binds every filter to the query values, stopping at the first
// constraint violation.
func BindAll(values url.Values, filters ...Filter) error {
	for _, f := range filters {
		if err := f.Bind(values); err != nil {
			return err
		}
	}
	return nil
}

func column(col, source string) string {
	if col != "" {
		return col
	}
	return source
}
