package model

import "time"

// User represents an application user record as stored in the `users`
// table.  Username, email and phone are all optional, but at least one of
// them must be present to serve as a login handle; uniqueness of username
// and email is case-insensitive.
//
// Fields:
//
//	ID               - primary key identifier of the user.
//	UUID             - external correlation id, safe to expose to clients.
//	Username         - optional unique login name.
//	Email            - optional unique email address.
//	Phone            - optional unique phone number.
//	PasswordHash     - hash over the fake password (see repository).
//	PasswordChangeAt - timestamp of the last password change.
//	PasswordSalt     - per-change random salt.
//	IsSuperuser      - superusers bypass all permission checks.
//	IsActive         - whether the account has been activated.
//	CreatedAt        - timestamp of creation.
type User struct {
	ID               uint64    `db:"id" json:"id"`
	UUID             string    `db:"uuid" json:"uuid"`
	Username         *string   `db:"username" json:"username"`
	Email            *string   `db:"email" json:"email"`
	Phone            *string   `db:"phone" json:"phone"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	PasswordChangeAt time.Time `db:"password_change_at" json:"-"`
	PasswordSalt     string    `db:"password_salt" json:"-"`
	IsSuperuser      bool      `db:"is_superuser" json:"isSuperuser"`
	IsActive         bool      `db:"is_active" json:"isActive"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// Handle returns the first usable login handle.
func (u *User) Handle() string {
	for _, v := range []*string{u.Username, u.Email, u.Phone} {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

// CanLogin reports whether the account may authenticate at all.
func (u *User) CanLogin() bool { return u.IsActive }

// TempCode is a one-time activation code bound to a single user
// (one-to-one).  It is created or refreshed on registration and on
// resend, and deleted when activation succeeds.
type TempCode struct {
	UserID    uint64    `db:"user_id" json:"-"`
	Code      string    `db:"code" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"-"`
}

// Expired reports whether the code is past its lifetime.
func (t *TempCode) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }
