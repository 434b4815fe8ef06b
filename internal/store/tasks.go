// ABOUTME: Personal task storage backing the personal assistant's tools
// ABOUTME: Every lookup and mutation is scoped to the owning user

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const taskColumns = `id, user_id, description, status, priority, notes, due_date, created_at, updated_at`

// CreateTask creates a new task, filling in ID, timestamps, and defaults.
func (s *SQLStore) CreateTask(ctx context.Context, task *Task) error {
	if task.UserID == "" {
		return ErrMissingOwner
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if task.Priority == "" {
		task.Priority = TaskPriorityMedium
	}

	var dueDate sql.NullString
	if task.DueDate != nil {
		dueDate = nullString(formatTime(*task.DueDate))
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.UserID, task.Description, task.Status, task.Priority, nullString(task.Notes), dueDate,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("invalid task: %w", err)
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetTask retrieves a task owned by userID.
func (s *SQLStore) GetTask(ctx context.Context, id, userID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?
	`), id, userID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks lists a user's tasks with optional status and priority filters.
func (s *SQLStore) ListTasks(ctx context.Context, userID, status, priority string) ([]*Task, error) {
	var args []any
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args = append(args, userID)

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if priority != "" {
		query += ` AND priority = ?`
		args = append(args, priority)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask updates description, status, priority, notes, and due date.
// Returns ErrNotFound if the task does not exist for its owner.
func (s *SQLStore) UpdateTask(ctx context.Context, task *Task) error {
	task.UpdatedAt = s.now().UTC()

	var dueDate sql.NullString
	if task.DueDate != nil {
		dueDate = nullString(formatTime(*task.DueDate))
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE tasks
		SET description = ?, status = ?, priority = ?, notes = ?, due_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`), task.Description, task.Status, task.Priority, nullString(task.Notes), dueDate,
		formatTime(task.UpdatedAt), task.ID, task.UserID)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("invalid task: %w", err)
		}
		return fmt.Errorf("updating task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task owned by userID.
func (s *SQLStore) DeleteTask(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var notes, dueDate sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&t.ID, &t.UserID, &t.Description, &t.Status, &t.Priority, &notes, &dueDate, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task row: %w", err)
	}

	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	t.Notes = notes.String
	if dueDate.Valid {
		d, err := parseTime(dueDate.String)
		if err == nil {
			t.DueDate = &d
		}
	}
	return &t, nil
}

// Ensure SQLStore implements TaskStore interface.
var _ TaskStore = (*SQLStore)(nil)
