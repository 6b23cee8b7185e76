package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/apikit-go/apikit/internal/model"
)

// ContentTypes is an in-memory view of the content_types table, keyed both
// ways. It is loaded once at startup by Sync and is read-only afterwards.
type ContentTypes struct {
	mu     sync.RWMutex
	byName map[string]uint64
	byID   map[uint64]string
}

// SyncContentTypes reconciles the content_types table with the set of
// registered entity names: missing rows are inserted, rows for entities
// that no longer exist are deleted together with their permissions. It
// returns the reconciled lookup table.
func SyncContentTypes(ctx context.Context, db *sqlx.DB, names []string) (*ContentTypes, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing []model.ContentType
	if err := tx.SelectContext(ctx, &existing, `SELECT id, name FROM content_types`); err != nil {
		return nil, fmt.Errorf("load content types: %w", err)
	}

	ct := &ContentTypes{
		byName: make(map[string]uint64, len(names)),
		byID:   make(map[uint64]string, len(names)),
	}
	for _, row := range existing {
		if !want[row.Name] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE content_type_id = ?`, row.ID); err != nil {
				return nil, fmt.Errorf("delete stale permissions: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM content_types WHERE id = ?`, row.ID); err != nil {
				return nil, fmt.Errorf("delete stale content type: %w", err)
			}
			continue
		}
		ct.byName[row.Name] = row.ID
		ct.byID[row.ID] = row.Name
	}

	for _, name := range names {
		if _, ok := ct.byName[name]; ok {
			continue
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO content_types (name) VALUES (?)`, name)
		if err != nil {
			return nil, fmt.Errorf("insert content type %q: %w", name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("content type id: %w", err)
		}
		ct.byName[name] = uint64(id)
		ct.byID[uint64(id)] = name
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ct, nil
}

// IDByName returns the content type id for an entity name.
func (c *ContentTypes) IDByName(name string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}

// NameByID returns the entity name for a content type id.
func (c *ContentTypes) NameByID(id uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[id]
	return name, ok
}
