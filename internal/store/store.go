// ABOUTME: Store interfaces and data types for assistant-gateway persistence
// ABOUTME: Defines owner-scoped thread operations, usage accounting, and personal tasks

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/assistant-gateway/internal/thread"
)

// ErrNotFound is returned when a requested entity does not exist, is soft
// deleted, or belongs to a different user.
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when inserting a thread whose ID already exists
var ErrDuplicateThread = errors.New("thread already exists")

// ErrMissingOwner is returned when an owner-scoped operation has no user ID
var ErrMissingOwner = errors.New("user_id is required")

// ThreadSummary is a lightweight listing entry for a thread.
type ThreadSummary struct {
	ThreadID     string
	Title        string
	UserID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
	Deleted      bool
}

// SearchParams filters an owner's threads.
type SearchParams struct {
	UserID         string
	TitleContains  string
	From           *time.Time
	To             *time.Time
	IncludeDeleted bool
	Limit          int
}

// ThreadStore persists threads. Every read and write except HardDeleteThread
// and PurgeDeleted is scoped by (thread_id, user_id).
type ThreadStore interface {
	GetThread(ctx context.Context, threadID, userID string) (*thread.Thread, error)
	SaveThread(ctx context.Context, t *thread.Thread, isNew bool) error
	DeleteThread(ctx context.Context, threadID, userID string) error
	ListThreadsForOwner(ctx context.Context, userID string, page, pageSize int) ([]ThreadSummary, error)
	CountThreads(ctx context.Context, userID string) (int, error)
	SearchThreads(ctx context.Context, params SearchParams) ([]ThreadSummary, error)

	// Housekeeping
	HardDeleteThread(ctx context.Context, threadID string) error
	PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error)
}

// TurnUsage records token consumption for one completed turn.
type TurnUsage struct {
	ID           string
	ThreadID     string
	TurnID       string
	UserID       string
	ModelID      string
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
	CreatedAt    time.Time
}

// UsageFilter narrows usage statistics.
type UsageFilter struct {
	UserID   *string
	ThreadID *string
	ModelID  *string
	Since    *time.Time
	Until    *time.Time
}

// UsageStats is an aggregate over TurnUsage rows.
type UsageStats struct {
	TotalInput   int64
	TotalOutput  int64
	TotalTokens  int64
	TurnCount    int64
	AvgLatencyMS float64
}

// UsageStore tracks token usage per turn.
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *TurnUsage) error
	GetThreadUsage(ctx context.Context, threadID, userID string) ([]*TurnUsage, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// Task statuses and priorities.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"

	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
)

// Task is a personal to-do item owned by a user.
type Task struct {
	ID          string
	UserID      string
	Description string
	Status      string
	Priority    string
	Notes       string
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskStore backs the personal assistant's task tools.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id, userID string) (*Task, error)
	ListTasks(ctx context.Context, userID, status, priority string) ([]*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	DeleteTask(ctx context.Context, id, userID string) error
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	ThreadStore
	UsageStore
	TaskStore

	Ping(ctx context.Context) error
	Driver() string
	Close() error
}
