// ABOUTME: Tests for the personal assistant task tools
// ABOUTME: Uses a real SQLite store to exercise owner scoping end to end

package builtins

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-gateway/internal/agent"
	"github.com/2389/assistant-gateway/internal/store"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func findTool(tools []agent.Tool, name string) agent.Handler {
	for _, tool := range tools {
		if tool.Name == name {
			return tool.Handler
		}
	}
	return nil
}

func call(t *testing.T, h agent.Handler, ctx context.Context, input string) map[string]any {
	t.Helper()
	require.NotNil(t, h)
	out, err := h(ctx, json.RawMessage(input))
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.Text), &resp))
	return resp
}

func TestTaskTools_CRUD(t *testing.T) {
	s := newTestStore(t)
	tools := TaskTools(s)
	alice := agent.WithUserID(context.Background(), "alice")

	added := call(t, findTool(tools, "task_add"), alice, `{"description":"renew passport","priority":"high","due_date":"2026-11-01T09:00:00Z"}`)
	assert.Equal(t, "created", added["status"])
	id, _ := added["id"].(string)
	require.NotEmpty(t, id)

	listed := call(t, findTool(tools, "task_list"), alice, `{}`)
	assert.EqualValues(t, 1, listed["count"])

	updated := call(t, findTool(tools, "task_update"), alice, `{"id":"`+id+`","status":"completed"}`)
	assert.Equal(t, "updated", updated["status"])

	filtered := call(t, findTool(tools, "task_list"), alice, `{"status":"pending"}`)
	assert.EqualValues(t, 0, filtered["count"])

	deleted := call(t, findTool(tools, "task_delete"), alice, `{"id":"`+id+`"}`)
	assert.Equal(t, "deleted", deleted["status"])

	_, err := s.GetTask(context.Background(), id, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTaskTools_OwnerScoped(t *testing.T) {
	s := newTestStore(t)
	tools := TaskTools(s)
	alice := agent.WithUserID(context.Background(), "alice")
	bob := agent.WithUserID(context.Background(), "bob")

	added := call(t, findTool(tools, "task_add"), alice, `{"description":"alice only"}`)
	id := added["id"].(string)

	listed := call(t, findTool(tools, "task_list"), bob, `{}`)
	assert.EqualValues(t, 0, listed["count"])

	_, err := findTool(tools, "task_update")(bob, json.RawMessage(`{"id":"`+id+`","status":"completed"}`))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = findTool(tools, "task_delete")(bob, json.RawMessage(`{"id":"`+id+`"}`))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTaskTools_InputErrors(t *testing.T) {
	tools := TaskTools(store.NewMockStore())
	alice := agent.WithUserID(context.Background(), "alice")

	tests := []struct {
		name  string
		tool  string
		ctx   context.Context
		input string
	}{
		{name: "no user", tool: "task_list", ctx: context.Background(), input: `{}`},
		{name: "missing description", tool: "task_add", ctx: alice, input: `{}`},
		{name: "bad due date", tool: "task_add", ctx: alice, input: `{"description":"x","due_date":"tomorrow"}`},
		{name: "malformed json", tool: "task_delete", ctx: alice, input: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := findTool(tools, tt.tool)(tt.ctx, json.RawMessage(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestPersonalAssistant(t *testing.T) {
	s := PersonalAssistant(store.NewMockStore(), []string{"m"})
	assert.Equal(t, PersonalAssistantName, s.Name)
	assert.Equal(t, []string{"task_add", "task_list", "task_update", "task_delete"}, s.ToolNames())
}
