package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parkmon/internal/domain"
)

var _ domain.KeyValueStore = (*DB)(nil)

// GetItem retrieves the value stored under key.
func (d *DB) GetItem(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.sql.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE namespace = $1 AND key = $2",
		d.ns, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetItem upserts the value stored under key.
func (d *DB) SetItem(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO kv (namespace, key, value, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		d.ns, key, value, time.Now(),
	)
	return err
}

// RemoveItem deletes key.
func (d *DB) RemoveItem(ctx context.Context, key string) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM kv WHERE namespace = $1 AND key = $2", d.ns, key)
	return err
}
