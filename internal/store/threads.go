// ABOUTME: Owner-scoped thread persistence: get, save, soft delete, list, and search
// ABOUTME: Also provides the id-only hard delete and purge levers used for housekeeping

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/2389/assistant-gateway/internal/thread"
)

const (
	defaultPageSize  = 10
	maxPageSize      = 100
	defaultSearchMax = 50
	maxSearchLimit   = 500
)

// GetThread retrieves a live thread owned by userID.
// Returns ErrNotFound if it doesn't exist, is deleted, or has another owner.
func (s *SQLStore) GetThread(ctx context.Context, threadID, userID string) (*thread.Thread, error) {
	if userID == "" {
		return nil, ErrMissingOwner
	}

	query := `
		SELECT thread_id, user_id, thread_title, ui_msgs, agent_msgs, date, deleted
		FROM threads
		WHERE thread_id = ? AND user_id = ? AND deleted = FALSE
	`

	var rec thread.Record
	var uiMsgs, agentMsgs, dateStr string

	err := s.db.QueryRowContext(ctx, s.rebind(query), threadID, userID).Scan(
		&rec.ThreadID,
		&rec.UserID,
		&rec.Title,
		&uiMsgs,
		&agentMsgs,
		&dateStr,
		&rec.Deleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	rec.Date, err = parseTime(dateStr)
	if err != nil {
		return nil, fmt.Errorf("parsing date: %w", err)
	}
	rec.UIMessages = uiMsgs
	rec.AgentMessages = agentMsgs

	t, err := thread.FromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("decoding thread %s: %w", threadID, err)
	}
	return t, nil
}

// SaveThread inserts (isNew) or updates a thread. Updates are scoped by
// (thread_id, user_id) and never touch deleted rows. The thread's LastUpdated
// is only advanced when the write succeeds.
func (s *SQLStore) SaveThread(ctx context.Context, t *thread.Thread, isNew bool) error {
	if t.UserID == "" {
		return ErrMissingOwner
	}

	uiMsgs, agentMsgs, err := t.EncodeMessages()
	if err != nil {
		return err
	}
	now := s.now().UTC()

	if isNew {
		query := `
			INSERT INTO threads (thread_id, user_id, thread_title, ui_msgs, agent_msgs, message_count, created_at, date, deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)
		`
		_, err := s.db.ExecContext(ctx, s.rebind(query),
			t.ID,
			t.UserID,
			t.Title,
			uiMsgs,
			agentMsgs,
			t.MessageCount(),
			formatTime(now),
			formatTime(now),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicateThread
			}
			return fmt.Errorf("inserting thread: %w", err)
		}

		t.LastUpdated = now
		s.logger.Debug("created thread", "thread_id", t.ID, "user_id", t.UserID)
		return nil
	}

	query := `
		UPDATE threads
		SET ui_msgs = ?, agent_msgs = ?, message_count = ?, thread_title = ?, date = ?
		WHERE thread_id = ? AND user_id = ? AND deleted = FALSE
	`
	result, err := s.db.ExecContext(ctx, s.rebind(query),
		uiMsgs,
		agentMsgs,
		t.MessageCount(),
		t.Title,
		formatTime(now),
		t.ID,
		t.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	t.LastUpdated = now
	s.logger.Debug("updated thread", "thread_id", t.ID, "messages", t.MessageCount())
	return nil
}

// DeleteThread soft-deletes a thread owned by userID.
// Returns ErrNotFound if no live thread matched.
func (s *SQLStore) DeleteThread(ctx context.Context, threadID, userID string) error {
	if userID == "" {
		return ErrMissingOwner
	}

	query := `
		UPDATE threads
		SET deleted = TRUE, deleted_at = ?
		WHERE thread_id = ? AND user_id = ? AND deleted = FALSE
	`
	result, err := s.db.ExecContext(ctx, s.rebind(query), formatTime(s.now()), threadID, userID)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("soft deleted thread", "thread_id", threadID, "user_id", userID)
	return nil
}

// ListThreadsForOwner returns one page of live threads, most recently updated first.
// page is 1-based; non-positive values are clamped to the first page and the
// default page size.
func (s *SQLStore) ListThreadsForOwner(ctx context.Context, userID string, page, pageSize int) ([]ThreadSummary, error) {
	if userID == "" {
		return nil, ErrMissingOwner
	}
	page, pageSize = NormalizePage(page, pageSize)
	offset, ok := pageOffset(page, pageSize)
	if !ok {
		return []ThreadSummary{}, nil
	}

	query := `
		SELECT thread_id, thread_title, user_id, created_at, date, message_count, deleted
		FROM threads
		WHERE user_id = ? AND deleted = FALSE
		ORDER BY date DESC, thread_id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSummaries(rows)
}

// CountThreads returns the number of live threads owned by userID.
func (s *SQLStore) CountThreads(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrMissingOwner
	}

	var count int
	query := `SELECT COUNT(*) FROM threads WHERE user_id = ? AND deleted = FALSE`
	if err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting threads: %w", err)
	}
	return count, nil
}

// SearchThreads finds an owner's threads by case-insensitive title substring
// and last-updated range.
func (s *SQLStore) SearchThreads(ctx context.Context, params SearchParams) ([]ThreadSummary, error) {
	if params.UserID == "" {
		return nil, ErrMissingOwner
	}

	where, args := []string{"user_id = ?"}, []any{params.UserID}

	if !params.IncludeDeleted {
		where = append(where, "deleted = FALSE")
	}
	if params.TitleContains != "" {
		where = append(where, `LOWER(thread_title) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(params.TitleContains))+"%")
	}
	if params.From != nil {
		where = append(where, "date >= ?")
		args = append(args, formatTime(*params.From))
	}
	if params.To != nil {
		where = append(where, "date <= ?")
		args = append(args, formatTime(*params.To))
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchMax
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	args = append(args, limit)

	query := `
		SELECT thread_id, thread_title, user_id, created_at, date, message_count, deleted
		FROM threads
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY date DESC, thread_id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("searching threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSummaries(rows)
}

// HardDeleteThread permanently removes a thread and its usage rows regardless
// of owner. Intended for housekeeping only.
func (s *SQLStore) HardDeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM turn_usage WHERE thread_id = ?`), threadID); err != nil {
		return fmt.Errorf("deleting thread usage: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM threads WHERE thread_id = ?`), threadID)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing hard delete: %w", err)
	}

	s.logger.Info("hard deleted thread", "thread_id", threadID)
	return nil
}

// PurgeDeleted permanently removes threads soft-deleted before olderThan.
func (s *SQLStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := formatTime(olderThan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	usageQuery := `
		DELETE FROM turn_usage WHERE thread_id IN (
			SELECT thread_id FROM threads WHERE deleted = TRUE AND deleted_at < ?
		)
	`
	if _, err := tx.ExecContext(ctx, s.rebind(usageQuery), cutoff); err != nil {
		return 0, fmt.Errorf("purging thread usage: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM threads WHERE deleted = TRUE AND deleted_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging threads: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing purge: %w", err)
	}

	if purged > 0 {
		s.logger.Info("purged deleted threads", "count", purged, "older_than", cutoff)
	}
	return purged, nil
}

// NormalizePage clamps pagination arguments to sane bounds.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// pageOffset returns the row offset of a normalized page. ok is false when
// the offset does not fit in an int; no store holds that many rows, so the
// page is empty.
func pageOffset(page, pageSize int) (offset int, ok bool) {
	if page-1 > math.MaxInt/pageSize {
		return 0, false
	}
	return (page - 1) * pageSize, true
}

func scanSummaries(rows *sql.Rows) ([]ThreadSummary, error) {
	summaries := []ThreadSummary{}
	for rows.Next() {
		var ts ThreadSummary
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(
			&ts.ThreadID,
			&ts.Title,
			&ts.UserID,
			&createdAtStr,
			&updatedAtStr,
			&ts.MessageCount,
			&ts.Deleted,
		); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}

		var err error
		ts.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		ts.UpdatedAt, err = parseTime(updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing date: %w", err)
		}
		summaries = append(summaries, ts)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}
	return summaries, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
