// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database and to inject write failures

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/assistant-gateway/internal/thread"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	threads map[string]*mockThread // keyed by thread ID
	usage   []*TurnUsage
	tasks   map[string]*Task // keyed by task ID

	// SaveErr, when set, is returned by SaveThread without writing.
	SaveErr error
	// PingErr, when set, is returned by Ping.
	PingErr error

	saves int
}

type mockThread struct {
	t         thread.Thread
	createdAt time.Time
	deletedAt time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		threads: make(map[string]*mockThread),
		tasks:   make(map[string]*Task),
	}
}

// SaveCount reports how many SaveThread calls succeeded.
func (m *MockStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// GetThread returns a copy of a live thread owned by userID.
func (m *MockStore) GetThread(ctx context.Context, threadID, userID string) (*thread.Thread, error) {
	if userID == "" {
		return nil, ErrMissingOwner
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	mt, ok := m.threads[threadID]
	if !ok || mt.t.Deleted || mt.t.UserID != userID {
		return nil, ErrNotFound
	}
	return copyThread(&mt.t), nil
}

// SaveThread stores a copy of t.
func (m *MockStore) SaveThread(ctx context.Context, t *thread.Thread, isNew bool) error {
	if t.UserID == "" {
		return ErrMissingOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}

	now := time.Now().UTC()
	existing, ok := m.threads[t.ID]
	if isNew {
		if ok {
			return ErrDuplicateThread
		}
		cp := copyThread(t)
		cp.LastUpdated = now
		m.threads[t.ID] = &mockThread{t: *cp, createdAt: now}
	} else {
		if !ok || existing.t.Deleted || existing.t.UserID != t.UserID {
			return ErrNotFound
		}
		cp := copyThread(t)
		cp.LastUpdated = now
		existing.t = *cp
	}

	t.LastUpdated = now
	m.saves++
	return nil
}

// DeleteThread soft-deletes a thread.
func (m *MockStore) DeleteThread(ctx context.Context, threadID, userID string) error {
	if userID == "" {
		return ErrMissingOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.threads[threadID]
	if !ok || mt.t.Deleted || mt.t.UserID != userID {
		return ErrNotFound
	}
	mt.t.Deleted = true
	mt.deletedAt = time.Now().UTC()
	return nil
}

// ListThreadsForOwner returns one page of an owner's live threads.
func (m *MockStore) ListThreadsForOwner(ctx context.Context, userID string, page, pageSize int) ([]ThreadSummary, error) {
	if userID == "" {
		return nil, ErrMissingOwner
	}
	page, pageSize = NormalizePage(page, pageSize)

	all := m.summaries(func(mt *mockThread) bool {
		return mt.t.UserID == userID && !mt.t.Deleted
	})

	start, ok := pageOffset(page, pageSize)
	if !ok || start >= len(all) {
		return []ThreadSummary{}, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// CountThreads counts an owner's live threads.
func (m *MockStore) CountThreads(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrMissingOwner
	}
	return len(m.summaries(func(mt *mockThread) bool {
		return mt.t.UserID == userID && !mt.t.Deleted
	})), nil
}

// SearchThreads filters an owner's threads.
func (m *MockStore) SearchThreads(ctx context.Context, params SearchParams) ([]ThreadSummary, error) {
	if params.UserID == "" {
		return nil, ErrMissingOwner
	}
	needle := strings.ToLower(params.TitleContains)

	result := m.summaries(func(mt *mockThread) bool {
		if mt.t.UserID != params.UserID {
			return false
		}
		if mt.t.Deleted && !params.IncludeDeleted {
			return false
		}
		if needle != "" && !strings.Contains(strings.ToLower(mt.t.Title), needle) {
			return false
		}
		if params.From != nil && mt.t.LastUpdated.Before(*params.From) {
			return false
		}
		if params.To != nil && mt.t.LastUpdated.After(*params.To) {
			return false
		}
		return true
	})

	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchMax
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// HardDeleteThread removes a thread regardless of owner.
func (m *MockStore) HardDeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[threadID]; !ok {
		return ErrNotFound
	}
	delete(m.threads, threadID)
	return nil
}

// PurgeDeleted removes threads soft-deleted before olderThan.
func (m *MockStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for id, mt := range m.threads {
		if mt.t.Deleted && mt.deletedAt.Before(olderThan) {
			delete(m.threads, id)
			purged++
		}
	}
	return purged, nil
}

// SaveUsage records a usage row.
func (m *MockStore) SaveUsage(ctx context.Context, usage *TurnUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	u := *usage
	m.usage = append(m.usage, &u)
	return nil
}

// GetThreadUsage returns usage rows for a thread.
func (m *MockStore) GetThreadUsage(ctx context.Context, threadID, userID string) ([]*TurnUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*TurnUsage
	for _, u := range m.usage {
		if u.ThreadID == threadID && u.UserID == userID {
			cp := *u
			result = append(result, &cp)
		}
	}
	return result, nil
}

// GetUsageStats aggregates usage rows matching filter.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	var latency int64
	for _, u := range m.usage {
		if filter.UserID != nil && u.UserID != *filter.UserID {
			continue
		}
		if filter.ThreadID != nil && u.ThreadID != *filter.ThreadID {
			continue
		}
		if filter.ModelID != nil && u.ModelID != *filter.ModelID {
			continue
		}
		if filter.Since != nil && u.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !u.CreatedAt.Before(*filter.Until) {
			continue
		}
		stats.TotalInput += u.InputTokens
		stats.TotalOutput += u.OutputTokens
		stats.TurnCount++
		latency += u.LatencyMS
	}
	stats.TotalTokens = stats.TotalInput + stats.TotalOutput
	if stats.TurnCount > 0 {
		stats.AvgLatencyMS = float64(latency) / float64(stats.TurnCount)
	}
	return &stats, nil
}

// CreateTask stores a task.
func (m *MockStore) CreateTask(ctx context.Context, task *Task) error {
	if task.UserID == "" {
		return ErrMissingOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
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
	t := *task
	m.tasks[t.ID] = &t
	return nil
}

// GetTask returns a task owned by userID.
func (m *MockStore) GetTask(ctx context.Context, id, userID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTasks lists a user's tasks, newest first.
func (m *MockStore) ListTasks(ctx context.Context, userID, status, priority string) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Task{}
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateTask replaces a task owned by task.UserID.
func (m *MockStore) UpdateTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tasks[task.ID]
	if !ok || existing.UserID != task.UserID {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	t := *task
	t.CreatedAt = existing.CreatedAt
	m.tasks[t.ID] = &t
	return nil
}

// DeleteTask removes a task owned by userID.
func (m *MockStore) DeleteTask(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Driver reports "mock".
func (m *MockStore) Driver() string {
	return "mock"
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) summaries(keep func(*mockThread) bool) []ThreadSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []ThreadSummary{}
	for _, mt := range m.threads {
		if !keep(mt) {
			continue
		}
		result = append(result, ThreadSummary{
			ThreadID:     mt.t.ID,
			Title:        mt.t.Title,
			UserID:       mt.t.UserID,
			CreatedAt:    mt.createdAt,
			UpdatedAt:    mt.t.LastUpdated,
			MessageCount: mt.t.MessageCount(),
			Deleted:      mt.t.Deleted,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ThreadID < result[j].ThreadID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result
}

// copyThread deep-copies the message slices so callers cannot mutate stored state.
func copyThread(t *thread.Thread) *thread.Thread {
	cp := *t
	cp.UIMessages = append([]thread.ChatItem{}, t.UIMessages...)
	cp.AgentMessages = append([]thread.Message{}, t.AgentMessages...)
	return &cp
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)
