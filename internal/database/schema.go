package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// EnsureSchema creates the toolkit's own tables when they do not exist
// yet (idempotent).  Convenience for development and tests; production
// deployments normally manage schema out of band.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	pk := "BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT"
	ref := "BIGINT UNSIGNED"
	if db.DriverName() == "sqlite" {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
		ref = "INTEGER"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			uuid VARCHAR(36) NOT NULL UNIQUE,
			username VARCHAR(40) UNIQUE,
			email VARCHAR(256) UNIQUE,
			phone VARCHAR(25) UNIQUE,
			password_hash VARCHAR(200) NOT NULL,
			password_change_at DATETIME NOT NULL,
			password_salt VARCHAR(50) NOT NULL,
			is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS content_types (
			id %s,
			name VARCHAR(50) NOT NULL UNIQUE
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS permissions (
			id %s,
			name VARCHAR(50) NOT NULL,
			content_type_id %s NOT NULL REFERENCES content_types(id),
			UNIQUE (content_type_id, name)
		)`, pk, ref),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS permission_groups (
			id %s,
			name VARCHAR(100) NOT NULL UNIQUE
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS permission_group_permissions (
			group_id %s NOT NULL REFERENCES permission_groups(id),
			permission_id %s NOT NULL REFERENCES permissions(id),
			PRIMARY KEY (group_id, permission_id)
		)`, ref, ref),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_permissions (
			user_id %s NOT NULL REFERENCES users(id),
			permission_id %s NOT NULL REFERENCES permissions(id),
			PRIMARY KEY (user_id, permission_id)
		)`, ref, ref),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_groups (
			user_id %s NOT NULL REFERENCES users(id),
			group_id %s NOT NULL REFERENCES permission_groups(id),
			PRIMARY KEY (user_id, group_id)
		)`, ref, ref),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS temp_codes (
			user_id %s PRIMARY KEY REFERENCES users(id),
			code VARCHAR(12) NOT NULL,
			expires_at DATETIME NOT NULL
		)`, ref),
	}

	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
