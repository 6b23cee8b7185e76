package model

// Entity names used as content-type identifiers.
const (
	EntityUser            = "user"
	EntityContentType     = "content_type"
	EntityPermission      = "permission"
	EntityPermissionGroup = "permission_group"
)

// Builtin returns the descriptors of the toolkit's own entities.
// Applications extend the registry with their domain entities before
// handing it to the CRUD service and the content-type sync.
func Builtin() []*Entity {
	return []*Entity{
		{
			Name:  EntityUser,
			Table: "users",
			Fields: []Field{
				{Name: "uuid", Unique: true, MaxLen: 36},
				{Name: "username", Unique: true, CaseInsensitive: true, MaxLen: 40},
				{Name: "email", Unique: true, CaseInsensitive: true, MaxLen: 256},
				{Name: "phone", Unique: true, MaxLen: 25},
				{Name: "is_superuser", Default: false},
				{Name: "is_active", Default: true},
			},
			Hidden: []string{"password_hash", "password_change_at", "password_salt"},
			Relations: map[string]Relation{
				"permissions": {
					Kind: ManyToMany, Target: EntityPermission,
					JoinTable: "user_permissions", JoinOwner: "user_id", JoinTarget: "permission_id",
				},
				"groups": {
					Kind: ManyToMany, Target: EntityPermissionGroup,
					JoinTable: "user_groups", JoinOwner: "user_id", JoinTarget: "group_id",
				},
				"temp_code": {
					Kind: BackwardO2O, Target: "temp_code", Column: "user_id",
				},
			},
		},
		{
			Name:  EntityContentType,
			Table: "content_types",
			Fields: []Field{
				{Name: "name", Unique: true, MaxLen: 50},
			},
		},
		{
			Name:  EntityPermission,
			Table: "permissions",
			Fields: []Field{
				{Name: "name", MaxLen: 50},
			},
			Relations: map[string]Relation{
				"content_type": {Kind: ForwardFK, Target: EntityContentType, Column: "content_type_id"},
			},
		},
		{
			Name:  EntityPermissionGroup,
			Table: "permission_groups",
			Fields: []Field{
				{Name: "name", Unique: true, MaxLen: 100},
			},
			Relations: map[string]Relation{
				"permissions": {
					Kind: ManyToMany, Target: EntityPermission,
					JoinTable: "permission_group_permissions", JoinOwner: "group_id", JoinTarget: "permission_id",
				},
			},
		},
		{
			// registered so the backward o2o from user resolves; not a
			// CRUD resource of its own
			Name:  "temp_code",
			Table: "temp_codes",
			PK:    "user_id",
			Fields: []Field{
				{Name: "code", MaxLen: 12},
				{Name: "expires_at"},
			},
		},
	}
}
