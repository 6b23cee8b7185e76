package crud

import "strings"

// Input is a validated create/edit payload.  Only explicitly set fields
// appear as keys, which is what gives edits their partial-update
// semantics.  Values are scalars, nested Inputs (related entities),
// []Input (backward collections) or id slices (many-to-many).
type Input map[string]any

// Row is one entity row as returned by reads, with eager-loaded
// relations attached under their field names.
type Row map[string]any

// nested interprets a payload value as a nested entity payload.
func nested(v any) (Input, bool) {
	switch t := v.(type) {
	case Input:
		return t, true
	case map[string]any:
		return Input(t), true
	}
	return nil, false
}

// nestedList interprets a payload value as a collection of nested
// payloads.
func nestedList(v any) ([]Input, bool) {
	switch t := v.(type) {
	case []Input:
		return t, true
	case []map[string]any:
		out := make([]Input, len(t))
		for i, m := range t {
			out[i] = Input(m)
		}
		return out, true
	case []any:
		out := make([]Input, 0, len(t))
		for _, e := range t {
			in, ok := nested(e)
			if !ok {
				return nil, false
			}
			out = append(out, in)
		}
		return out, len(out) > 0
	}
	return nil, false
}

// idList interprets a payload value as a list of primary keys.
func idList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []int64:
		out := make([]any, len(t))
		for i, id := range t {
			out[i] = id
		}
		return out, true
	case []uint64:
		out := make([]any, len(t))
		for i, id := range t {
			out[i] = id
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, id := range t {
			out[i] = id
		}
		return out, true
	case []string:
		out := make([]any, len(t))
		for i, id := range t {
			out[i] = id
		}
		return out, true
	}
	return nil, false
}

// splitExclude restructures a flat set of dotted exclusion paths into the
// root-level exclusions plus a per-relation set of nested paths, so
// exclusion rules cascade through recursive create/edit calls without
// being re-derived.
func splitExclude(paths []string) (root map[string]bool, byRelation map[string][]string) {
	root = map[string]bool{}
	byRelation = map[string][]string{}
	for _, p := range paths {
		base, rest, found := strings.Cut(p, ".")
		if !found {
			root[p] = true
			continue
		}
		byRelation[base] = append(byRelation[base], rest)
	}
	return root, byRelation
}
