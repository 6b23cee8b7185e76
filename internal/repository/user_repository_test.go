package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/apikit-go/apikit/internal/database"
	"github.com/apikit-go/apikit/internal/model"
)

func newTestUsers(t *testing.T) (*Users, *sqlx.DB) {
	t.Helper()
	db, err := database.OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, database.EnsureSchema(ctx, db))

	reg := model.NewRegistry(model.Builtin()...)
	cts, err := SyncContentTypes(ctx, db, reg.Names())
	require.NoError(t, err)

	return NewUsers(db, bcrypt.MinCost, time.Hour, cts), db
}

func insertUser(t *testing.T, db *sqlx.DB, username, email, phone, password string, active bool) *model.User {
	t.Helper()
	u := &model.User{UUID: "uuid-" + username + email + phone, IsActive: active}
	if username != "" {
		u.Username = &username
	}
	if email != "" {
		u.Email = &email
	}
	if phone != "" {
		u.Phone = &phone
	}
	require.NoError(t, SetPassword(u, password, bcrypt.MinCost))
	u.CreatedAt = time.Now().UTC().Truncate(time.Second)

	res, err := db.Exec(`
		INSERT INTO users (uuid, username, email, phone, password_hash, password_change_at, password_salt, is_superuser, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UUID, u.Username, u.Email, u.Phone,
		u.PasswordHash, u.PasswordChangeAt, u.PasswordSalt,
		u.IsSuperuser, u.IsActive, u.CreatedAt)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	u.ID = uint64(id)
	return u
}

func TestPasswordRoundtrip(t *testing.T) {
	u := &model.User{}
	require.NoError(t, SetPassword(u, "Sup3r!pass", bcrypt.MinCost))

	assert.Len(t, u.PasswordSalt, saltLen)
	assert.False(t, u.PasswordChangeAt.IsZero())
	assert.True(t, VerifyPassword(u, "Sup3r!pass"))
	assert.False(t, VerifyPassword(u, "sup3r!pass"))
	assert.False(t, VerifyPassword(u, ""))
}

func TestPasswordRotation(t *testing.T) {
	u := &model.User{}
	require.NoError(t, SetPassword(u, "First1!aa", bcrypt.MinCost))
	old := *u

	require.NoError(t, SetPassword(u, "Second2!bb", bcrypt.MinCost))

	assert.NotEqual(t, old.PasswordSalt, u.PasswordSalt)
	assert.False(t, VerifyPassword(u, "First1!aa"))
	assert.True(t, VerifyPassword(u, "Second2!bb"))
	// the old snapshot still verifies against its own salt and timestamp
	assert.True(t, VerifyPassword(&old, "First1!aa"))
}

func TestPasswordLoginDisabled(t *testing.T) {
	u := &model.User{}
	require.NoError(t, SetPassword(u, "", bcrypt.MinCost))

	assert.Equal(t, disabledPrefix, u.PasswordHash[:1])
	assert.False(t, VerifyPassword(u, ""))
	assert.False(t, VerifyPassword(u, "anything"))
}

func TestLongPasswordsStaySignificant(t *testing.T) {
	// bcrypt alone truncates at 72 bytes; the sha256 pre-hash must keep
	// the tail of a long password relevant
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	u := &model.User{}
	require.NoError(t, SetPassword(u, string(long), bcrypt.MinCost))

	tweaked := append([]byte(nil), long...)
	tweaked[99] = 'b'
	assert.True(t, VerifyPassword(u, string(long)))
	assert.False(t, VerifyPassword(u, string(tweaked)))
}

func TestGetUserByCaseInsensitive(t *testing.T) {
	r, db := newTestUsers(t)
	ctx := context.Background()
	insertUser(t, db, "Bob", "Bob@Example.com", "555-0101", "Aa1!aaaa", true)

	got, err := r.GetUserBy(ctx, "username", "bOB")
	require.NoError(t, err)
	assert.Equal(t, "Bob", *got.Username)

	got, err = r.GetUserBy(ctx, "email", "bob@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "Bob", *got.Username)

	_, err = r.GetUserBy(ctx, "phone", "555-0999")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.GetUserBy(ctx, "password_hash", "x")
	assert.Error(t, err)
}

func TestByHandle(t *testing.T) {
	r, db := newTestUsers(t)
	ctx := context.Background()
	insertUser(t, db, "alice", "alice@example.com", "555-0102", "Aa1!aaaa", true)

	for _, handle := range []string{"ALICE", "alice@EXAMPLE.com", "555-0102"} {
		got, err := r.ByHandle(ctx, handle)
		require.NoError(t, err, "handle %q", handle)
		assert.Equal(t, "alice", *got.Username)
	}

	_, err := r.ByHandle(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func grantPermission(t *testing.T, db *sqlx.DB, name string, ctID uint64) uint64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO permissions (name, content_type_id) VALUES (?, ?)`, name, ctID)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

func TestPermissionsUnion(t *testing.T) {
	r, db := newTestUsers(t)
	ctx := context.Background()
	u := insertUser(t, db, "carol", "", "", "Aa1!aaaa", true)

	userCT, ok := r.ContentTypes().IDByName(model.EntityUser)
	require.True(t, ok)
	groupCT, ok := r.ContentTypes().IDByName(model.EntityPermissionGroup)
	require.True(t, ok)

	direct := grantPermission(t, db, "get", userCT)
	viaGroup := grantPermission(t, db, "edit", groupCT)
	both := grantPermission(t, db, "create", userCT)

	_, err := db.Exec(`INSERT INTO user_permissions (user_id, permission_id) VALUES (?, ?), (?, ?)`,
		u.ID, direct, u.ID, both)
	require.NoError(t, err)

	res, err := db.Exec(`INSERT INTO permission_groups (name) VALUES ('staff')`)
	require.NoError(t, err)
	groupID, _ := res.LastInsertId()
	_, err = db.Exec(`INSERT INTO permission_group_permissions (group_id, permission_id) VALUES (?, ?), (?, ?)`,
		groupID, viaGroup, groupID, both)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)`, u.ID, groupID)
	require.NoError(t, err)

	perms, err := r.Permissions(ctx, u.ID)
	require.NoError(t, err)
	// "create" reaches the user both directly and via the group, but the
	// union yields it once
	assert.ElementsMatch(t, []model.Perm{
		{ContentTypeID: userCT, Name: "get"},
		{ContentTypeID: userCT, Name: "create"},
		{ContentTypeID: groupCT, Name: "edit"},
	}, perms)

	assert.True(t, r.HasPermissions(perms, nil))
	assert.True(t, r.HasPermissions(perms, []model.RequiredPerm{
		{Entity: model.EntityUser, Action: "get"},
		{Entity: model.EntityPermissionGroup, Action: "edit"},
	}))
	assert.False(t, r.HasPermissions(perms, []model.RequiredPerm{
		{Entity: model.EntityUser, Action: "delete"},
	}))
	assert.False(t, r.HasPermissions(perms, []model.RequiredPerm{
		{Entity: "unknown", Action: "get"},
	}))
}

func TestTempCodeLifecycle(t *testing.T) {
	r, db := newTestUsers(t)
	ctx := context.Background()
	u := insertUser(t, db, "dave", "dave@example.com", "", "Aa1!aaaa", false)

	_, err := r.TempCode(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	status, err := r.CheckTempCode(ctx, u.ID, "000000")
	require.NoError(t, err)
	assert.Equal(t, TempCodeIncorrect, status)

	tc, err := r.UpdateOrCreateTempCode(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, tc.Code, 6)

	status, err = r.CheckTempCode(ctx, u.ID, tc.Code)
	require.NoError(t, err)
	assert.Equal(t, TempCodeOK, status)

	// a refresh replaces the row instead of stacking a second one
	tc2, err := r.UpdateOrCreateTempCode(ctx, u.ID)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM temp_codes WHERE user_id = ?`, u.ID))
	assert.Equal(t, 1, n)

	// force expiry
	_, err = db.Exec(`UPDATE temp_codes SET expires_at = ? WHERE user_id = ?`,
		time.Now().UTC().Add(-time.Minute), u.ID)
	require.NoError(t, err)
	status, err = r.CheckTempCode(ctx, u.ID, tc2.Code)
	require.NoError(t, err)
	assert.Equal(t, TempCodeExpired, status)

	require.NoError(t, r.Activate(ctx, u.ID))
	got, err := r.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	_, err = r.TempCode(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncContentTypesReconciles(t *testing.T) {
	db, err := database.OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, database.EnsureSchema(ctx, db))

	cts, err := SyncContentTypes(ctx, db, []string{"alpha", "beta"})
	require.NoError(t, err)
	alphaID, ok := cts.IDByName("alpha")
	require.True(t, ok)
	_, err = db.Exec(`INSERT INTO permissions (name, content_type_id) VALUES ('get', ?)`, alphaID)
	require.NoError(t, err)

	// "alpha" disappears from the registry: its row and permissions go too
	cts, err = SyncContentTypes(ctx, db, []string{"beta", "gamma"})
	require.NoError(t, err)
	_, ok = cts.IDByName("alpha")
	assert.False(t, ok)
	_, ok = cts.IDByName("gamma")
	assert.True(t, ok)

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM permissions WHERE content_type_id = ?`, alphaID))
	assert.Zero(t, n)

	name, ok := cts.NameByID(mustID(t, cts, "beta"))
	require.True(t, ok)
	assert.Equal(t, "beta", name)
}

func mustID(t *testing.T, cts *ContentTypes, name string) uint64 {
	t.Helper()
	id, ok := cts.IDByName(name)
	require.True(t, ok)
	return id
}
