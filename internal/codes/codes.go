// Package codes enumerates the machine-readable response codes exposed by
// the API.  A Code couples an HTTP status, a stable lowerCamelCase
// identifier and a human message; handlers raise codes as *APIError and
// the central error handler renders them as {code, message, ...extra}.
package codes

import (
	"fmt"
	"sort"
)

// Code is one entry of the response registry.
type Code struct {
	Name    string // machine code, lowerCamelCase
	Status  int    // HTTP status
	Message string // human-readable message, may contain fmt verbs
}

// Resp returns the JSON payload for the code.
func (c Code) Resp() map[string]any {
	return map[string]any{"code": c.Name, "message": c.Message}
}

// Format returns a copy of the code with the message verbs filled in.
func (c Code) Format(values ...any) Code {
	c.Message = fmt.Sprintf(c.Message, values...)
	return c
}

// Err raises the code as an API error.  Optional detail maps are merged
// into the response payload.
func (c Code) Err(details ...map[string]any) *APIError {
	e := &APIError{Code: c}
	for _, d := range details {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		for k, v := range d {
			e.Details[k] = v
		}
	}
	return e
}

// APIError is the error type carried from handlers to the HTTP error
// handler.  It is the only error shape intentionally leaked to clients.
type APIError struct {
	Code    Code
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code.Name, e.Code.Status, e.Code.Message)
}

// Payload builds the response body: the code payload plus extra details.
func (e *APIError) Payload() map[string]any {
	p := e.Code.Resp()
	for k, v := range e.Details {
		p[k] = v
	}
	return p
}

// Example is a named example payload attached to a documented status.
type Example struct {
	Name  string
	Value map[string]any
}

// Responses groups example payloads of the given codes by HTTP status for
// API documentation.  Codes sharing a status yield multiple named
// examples under that status.
func Responses(cs ...Code) map[int][]Example {
	sorted := append([]Code(nil), cs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Status < sorted[j].Status })

	out := map[int][]Example{}
	for _, c := range sorted {
		out[c.Status] = append(out[c.Status], Example{Name: c.Name, Value: c.Resp()})
	}
	return out
}
