package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// InsertMessage stores a new row. It reports false without error when a
// row with the same id already exists.
func (db *DB) InsertMessage(ctx context.Context, r MessageRow) (bool, error) {
	res, err := db.NamedExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :sender_id, :recipient_id, :body, :original_body, :created_at, :updated_at, :read_at, :is_edited, :is_deleted)
		ON CONFLICT (id) DO NOTHING`, r)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetMessage returns the row with id, or nil if there is none.
func (db *DB) GetMessage(ctx context.Context, id string) (*MessageRow, error) {
	var r MessageRow
	err := db.GetContext(ctx, &r, db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &r, nil
}

// UpdateMessage overwrites the mutable columns of a row that is not unsent
// and returns the stored result, or nil when no such row exists. updated_at
// never moves backwards, so every write yields a newer version.
func (db *DB) UpdateMessage(ctx context.Context, r MessageRow) (*MessageRow, error) {
	stmt, err := db.PrepareNamedContext(ctx, `
		UPDATE messages SET
			body = :body,
			original_body = :original_body,
			updated_at = CASE WHEN updated_at >= :updated_at THEN updated_at + 1 ELSE :updated_at END,
			is_edited = :is_edited,
			is_deleted = :is_deleted
		WHERE id = :id AND sender_id = :sender_id AND NOT is_deleted
		RETURNING `+messageColumns)
	if err != nil {
		return nil, fmt.Errorf("prepare update message: %w", err)
	}
	defer stmt.Close()

	var out MessageRow
	err = stmt.GetContext(ctx, &out, r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return &out, nil
}

// MarkRead stamps read_at on reader's unread inbound rows among ids and
// returns the rows that changed. Rows already read keep their stamp. The
// changed rows move to a version no older than now.
func (db *DB) MarkRead(ctx context.Context, reader string, ids []string, at, now time.Time) ([]MessageRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	version := now.UnixMilli()
	query, args, err := sqlx.In(`
		UPDATE messages SET
			read_at = ?,
			updated_at = CASE WHEN updated_at >= ? THEN updated_at + 1 ELSE ? END
		WHERE recipient_id = ? AND read_at IS NULL AND id IN (?)
		RETURNING `+messageColumns, at.UnixMilli(), version, version, reader, ids)
	if err != nil {
		return nil, fmt.Errorf("build mark read: %w", err)
	}

	var rows []MessageRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return rows, nil
}

// ListConversation returns the latest limit rows exchanged between a and b,
// oldest first.
func (db *DB) ListConversation(ctx context.Context, a, b string, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []MessageRow
	err := db.SelectContext(ctx, &rows, db.Rebind(`
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at DESC
		LIMIT ?`), a, b, b, a, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// UnreadCounts returns reader's unread inbound row count per sender.
func (db *DB) UnreadCounts(ctx context.Context, reader string) (map[string]int, error) {
	var rows []struct {
		SenderID string `db:"sender_id"`
		N        int    `db:"n"`
	}
	err := db.SelectContext(ctx, &rows, db.Rebind(`
		SELECT sender_id, COUNT(*) AS n FROM messages
		WHERE recipient_id = ? AND read_at IS NULL
		GROUP BY sender_id`), reader)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.SenderID] = r.N
	}
	return counts, nil
}

// DeleteMessage hard deletes the row with id and returns it, or nil if
// there was none.
func (db *DB) DeleteMessage(ctx context.Context, id string) (*MessageRow, error) {
	var r MessageRow
	err := db.GetContext(ctx, &r, db.Rebind(`DELETE FROM messages WHERE id = ? RETURNING `+messageColumns), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return &r, nil
}
