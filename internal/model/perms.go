package model

// RequiredPerm names one (entity, action) pair a route guard demands.
// Actions mirror the CRUD operations: "get", "create", "edit", "delete".
type RequiredPerm struct {
	Entity string
	Action string
}
