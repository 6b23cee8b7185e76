package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/apikit-go/apikit/internal/crud"
	"github.com/apikit-go/apikit/internal/model"
)

const userColumns = `id, uuid, username, email, phone, password_hash, password_change_at, password_salt, is_superuser, is_active, created_at`

// TempCodeStatus is the outcome of checking an activation code.
type TempCodeStatus string

const (
	TempCodeOK        TempCodeStatus = ""
	TempCodeExpired   TempCodeStatus = "expired"
	TempCodeIncorrect TempCodeStatus = "incorrect"
)

// Users provides user lookups, credential checks, permission resolution and
// the activation-code lifecycle on top of the shared database handle.
type Users struct {
	db           *sqlx.DB
	cost         int
	tempCodeTTL  time.Duration
	contentTypes *ContentTypes
}

func NewUsers(db *sqlx.DB, bcryptCost int, tempCodeTTL time.Duration, cts *ContentTypes) *Users {
	return &Users{db: db, cost: bcryptCost, tempCodeTTL: tempCodeTTL, contentTypes: cts}
}

// ByID loads a user by primary key.
func (r *Users) ByID(ctx context.Context, id uint64) (*model.User, error) {
	return r.getBy(ctx, "id = ?", id)
}

// GetUserBy loads a user by a single field. Username and email match
// case-insensitively; the remaining fields match exactly.
func (r *Users) GetUserBy(ctx context.Context, field string, value any) (*model.User, error) {
	switch field {
	case "id", "uuid", "phone":
		return r.getBy(ctx, field+" = ?", value)
	case "username", "email":
		return r.getBy(ctx, "LOWER("+field+") = LOWER(?)", value)
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
}

// ByHandle resolves a login identifier against username, email and phone in
// one query. Username and email are matched case-insensitively.
func (r *Users) ByHandle(ctx context.Context, handle string) (*model.User, error) {
	return r.getBy(ctx, "LOWER(username) = LOWER(?) OR LOWER(email) = LOWER(?) OR phone = ?", handle, handle, handle)
}

func (r *Users) getBy(ctx context.Context, where string, args ...any) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// SetPassword rotates the user's credentials and persists them.
func (r *Users) SetPassword(ctx context.Context, u *model.User, password string) error {
	if err := SetPassword(u, password, r.cost); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, password_change_at = ?, password_salt = ? WHERE id = ?`,
		u.PasswordHash, u.PasswordChangeAt, u.PasswordSalt, u.ID)
	if err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	return nil
}

// Permissions resolves the user's effective permissions: the ones granted
// directly united with the ones inherited through groups.
func (r *Users) Permissions(ctx context.Context, userID uint64) ([]model.Perm, error) {
	var perms []model.Perm
	err := r.db.SelectContext(ctx, &perms, `
		SELECT p.content_type_id, p.name
		FROM permissions p
		JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = ?
		UNION
		SELECT p.content_type_id, p.name
		FROM permissions p
		JOIN permission_group_permissions gp ON gp.permission_id = p.id
		JOIN user_groups ug ON ug.group_id = gp.group_id
		WHERE ug.user_id = ?`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	return perms, nil
}

// HasPermissions reports whether the granted set covers every required
// permission. An empty requirement always passes. Superuser bypass is the
// caller's concern.
func (r *Users) HasPermissions(granted []model.Perm, required []model.RequiredPerm) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[model.Perm]bool, len(granted))
	for _, p := range granted {
		have[p] = true
	}
	for _, req := range required {
		ctID, ok := r.contentTypes.IDByName(req.Entity)
		if !ok {
			return false
		}
		if !have[model.Perm{ContentTypeID: ctID, Name: req.Action}] {
			return false
		}
	}
	return true
}

// ContentTypes exposes the reconciled content-type lookup table.
func (r *Users) ContentTypes() *ContentTypes { return r.contentTypes }

// TempCode loads the user's current activation code, if any.
func (r *Users) TempCode(ctx context.Context, userID uint64) (*model.TempCode, error) {
	var tc model.TempCode
	err := r.db.GetContext(ctx, &tc,
		`SELECT user_id, code, expires_at FROM temp_codes WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load temp code: %w", err)
	}
	return &tc, nil
}

// CheckTempCode compares a submitted activation code against the stored
// one. A missing code counts as incorrect.
func (r *Users) CheckTempCode(ctx context.Context, userID uint64, code string) (TempCodeStatus, error) {
	tc, err := r.TempCode(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return TempCodeIncorrect, nil
	}
	if err != nil {
		return "", err
	}
	if tc.Code != code {
		return TempCodeIncorrect, nil
	}
	if tc.Expired(time.Now().UTC()) {
		return TempCodeExpired, nil
	}
	return TempCodeOK, nil
}

// Activate marks the user active and removes the activation code in a
// single transaction.
func (r *Users) Activate(ctx context.Context, userID uint64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, true, userID); err != nil {
		return fmt.Errorf("activate user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM temp_codes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete temp code: %w", err)
	}
	return tx.Commit()
}

// UpdateOrCreateTempCode issues a fresh activation code for the user,
// replacing any previous one.
func (r *Users) UpdateOrCreateTempCode(ctx context.Context, userID uint64) (*model.TempCode, error) {
	code, err := randomDigits(6)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	tc := &model.TempCode{
		UserID:    userID,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(r.tempCodeTTL).Truncate(time.Second),
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE temp_codes SET code = ?, expires_at = ? WHERE user_id = ?`,
		tc.Code, tc.ExpiresAt, tc.UserID)
	if err != nil {
		return nil, fmt.Errorf("refresh temp code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO temp_codes (user_id, code, expires_at) VALUES (?, ?, ?)`,
			tc.UserID, tc.Code, tc.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("create temp code: %w", err)
		}
	}
	return tc, nil
}

func randomDigits(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out), nil
}

// CreateHandler returns the insert hook used by the user CRUD service. It
// strips credential fields from the generic values, assigns a uuid when
// absent and derives the password hash before inserting the row.
func (r *Users) CreateHandler() crud.CreateHandler {
	return func(ctx context.Context, tx sqlx.ExtContext, ent *model.Entity, in crud.Input, values map[string]any) (any, error) {
		delete(values, "password")
		delete(values, "rePassword")

		u := &model.User{}
		if v, ok := values["uuid"].(string); ok && v != "" {
			u.UUID = v
		} else {
			u.UUID = uuid.NewString()
		}
		password, _ := in["password"].(string)
		if err := SetPassword(u, password, r.cost); err != nil {
			return nil, err
		}

		if v, ok := values["is_superuser"].(bool); ok {
			u.IsSuperuser = v
		}
		if v, ok := values["is_active"].(bool); ok {
			u.IsActive = v
		}
		u.Username = optString(values, "username")
		u.Email = optString(values, "email")
		u.Phone = optString(values, "phone")
		u.CreatedAt = time.Now().UTC().Truncate(time.Second)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (uuid, username, email, phone, password_hash, password_change_at, password_salt, is_superuser, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.UUID, u.Username, u.Email, u.Phone,
			u.PasswordHash, u.PasswordChangeAt, u.PasswordSalt,
			u.IsSuperuser, u.IsActive, u.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("user id: %w", err)
		}
		u.ID = uint64(id)
		return u.ID, nil
	}
}

func optString(values map[string]any, key string) *string {
	if v, ok := values[key].(string); ok && v != "" {
		return &v
	}
	return nil
}
