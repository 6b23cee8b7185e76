package model

// ContentType is a registry entry identifying one domain entity.
// Permissions reference a content type so they can be scoped to the
// entity they govern.  The table is synchronized against the set of
// registered entities at startup: missing rows are created, stale rows
// deleted.
type ContentType struct {
	ID   uint64 `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Permission grants one named action on one content type.  Unique per
// (content_type, name).
type Permission struct {
	ID            uint64 `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	ContentTypeID uint64 `db:"content_type_id" json:"contentTypeId"`
}

// PermissionGroup is a named, reusable bundle of permissions assignable
// to users as a whole.
type PermissionGroup struct {
	ID   uint64 `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Perm is one effective permission of a user: the pair that permission
// checks operate on.
type Perm struct {
	ContentTypeID uint64 `db:"content_type_id"`
	Name          string `db:"name"`
}
