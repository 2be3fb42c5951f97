package store

import (
	"context"
	"fmt"
	"time"
)

// TouchProfile records a heartbeat. last_seen_at never moves backwards.
func (db *DB) TouchProfile(ctx context.Context, userID string, at time.Time) error {
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO profiles (user_id, display_name, last_seen_at)
		VALUES (?, '', ?)
		ON CONFLICT (user_id) DO UPDATE SET
			last_seen_at = CASE WHEN excluded.last_seen_at > profiles.last_seen_at
				THEN excluded.last_seen_at ELSE profiles.last_seen_at END`),
		userID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}
	return nil
}

// UpsertProfile sets a user's display name, creating the profile if needed.
func (db *DB) UpsertProfile(ctx context.Context, userID, displayName string) error {
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO profiles (user_id, display_name, last_seen_at)
		VALUES (?, ?, 0)
		ON CONFLICT (user_id) DO UPDATE SET display_name = excluded.display_name`),
		userID, displayName)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ListProfiles returns all profiles ordered by user id.
func (db *DB) ListProfiles(ctx context.Context) ([]ProfileRow, error) {
	var rows []ProfileRow
	if err := db.SelectContext(ctx, &rows, `SELECT user_id, display_name, last_seen_at FROM profiles ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return rows, nil
}
