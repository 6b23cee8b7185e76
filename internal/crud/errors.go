package crud

import (
	"errors"
	"fmt"
	"strings"
)

// ErrItemNotFound is returned by single-item lookups that match no row.
var ErrItemNotFound = errors.New("crud: item not found")

// Field-level error kinds, stable machine codes.
const (
	NotUnique         = "notUnique"
	ReferenceNotFound = "referenceNotFound"
	Invalid           = "invalid"
)

// FieldError is one violation, addressable by dotted field path
// (e.g. "profile.bio").
type FieldError struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
}

// MultiFieldError aggregates every violation found during one create or
// edit call, so the caller gets the complete list in one response
// instead of one problem per request roundtrip.
type MultiFieldError struct {
	Fields []FieldError
}

func (e *MultiFieldError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Kind)
	}
	return "fields: " + strings.Join(parts, ", ")
}

// Add records a violation.
func (e *MultiFieldError) Add(field, kind string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Kind: kind})
}

// Merge absorbs another aggregate, prefixing its field paths when prefix
// is non-empty so nested errors stay addressable from the root payload.
func (e *MultiFieldError) Merge(prefix string, other *MultiFieldError) {
	for _, f := range other.Fields {
		if prefix != "" {
			f.Field = prefix + "." + f.Field
		}
		e.Fields = append(e.Fields, f)
	}
}

// Empty reports whether any violation was recorded.
func (e *MultiFieldError) Empty() bool { return len(e.Fields) == 0 }

// AsMultiField extracts a *MultiFieldError from an error chain.
func AsMultiField(err error) (*MultiFieldError, bool) {
	var mf *MultiFieldError
	if errors.As(err, &mf) {
		return mf, true
	}
	return nil, false
}
