// ABOUTME: Personal assistant specialist with task management tools
// ABOUTME: Tasks are scoped to the caller's user id carried in the context

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/assistant-gateway/internal/agent"
	"github.com/2389/assistant-gateway/internal/store"
)

// PersonalAssistantName is the orchestrator tool name of the personal assistant.
const PersonalAssistantName = "personal_assistant"

const personalPrompt = `You are a personal assistant that keeps track of the user's tasks.
Use the task tools to add, list, update and delete tasks. Dates use RFC 3339.
Summarise what changed after every action.`

var errNoUser = errors.New("no user in context")

// PersonalAssistant creates the personal assistant specialist.
func PersonalAssistant(s store.TaskStore, models []string) *agent.Specialist {
	return &agent.Specialist{
		Name:         PersonalAssistantName,
		Description:  "Manages the user's personal tasks and to-do list",
		SystemPrompt: personalPrompt,
		Models:       models,
		Tools:        TaskTools(s),
	}
}

// TaskTools returns the task tools.
func TaskTools(s store.TaskStore) []agent.Tool {
	h := &taskHandlers{store: s}
	return []agent.Tool{
		{
			Name:        "task_add",
			Description: "Create a task",
			InputSchema: map[string]any{
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"priority":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
					"due_date":    map[string]any{"type": "string", "format": "date-time"},
					"notes":       map[string]any{"type": "string"},
				},
				"required": []string{"description"},
			},
			Handler: h.Add,
		},
		{
			Name:        "task_list",
			Description: "List tasks, optionally filtered by status or priority",
			InputSchema: map[string]any{
				"properties": map[string]any{
					"status":   map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					"priority": map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
				},
			},
			Handler: h.List,
		},
		{
			Name:        "task_update",
			Description: "Update a task's status, priority, notes or due date",
			InputSchema: map[string]any{
				"properties": map[string]any{
					"id":       map[string]any{"type": "string"},
					"status":   map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					"priority": map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
					"notes":    map[string]any{"type": "string"},
					"due_date": map[string]any{"type": "string", "format": "date-time"},
				},
				"required": []string{"id"},
			},
			Handler: h.Update,
		},
		{
			Name:        "task_delete",
			Description: "Delete a task",
			InputSchema: agent.ObjectSchema([]string{"id"}, map[string]string{"id": "Task id"}),
			Handler:     h.Delete,
		},
	}
}

type taskHandlers struct {
	store store.TaskStore
}

type taskView struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Notes       string     `json:"notes,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func viewOf(t *store.Task) taskView {
	return taskView{
		ID:          t.ID,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Notes:       t.Notes,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
	}
}

func callerID(ctx context.Context) (string, error) {
	userID := agent.UserIDFromContext(ctx)
	if userID == "" {
		return "", errNoUser
	}
	return userID, nil
}

func parseDue(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid due_date: %w", err)
	}
	return &t, nil
}

type taskAddInput struct {
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date"`
	Notes       string `json:"notes"`
}

func (h *taskHandlers) Add(ctx context.Context, input json.RawMessage) (agent.Output, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return agent.Output{}, err
	}
	var in taskAddInput
	if err := json.Unmarshal(input, &in); err != nil {
		return agent.Output{}, fmt.Errorf("invalid input: %w", err)
	}
	if in.Description == "" {
		return agent.Output{}, errors.New("description is required")
	}

	due, err := parseDue(in.DueDate)
	if err != nil {
		return agent.Output{}, err
	}
	task := &store.Task{
		UserID:      userID,
		Description: in.Description,
		Priority:    in.Priority,
		Notes:       in.Notes,
		DueDate:     due,
	}
	if err := h.store.CreateTask(ctx, task); err != nil {
		return agent.Output{}, err
	}

	return agent.JSONOutput(map[string]string{"id": task.ID, "status": "created"})
}

type taskListInput struct {
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

func (h *taskHandlers) List(ctx context.Context, input json.RawMessage) (agent.Output, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return agent.Output{}, err
	}
	var in taskListInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return agent.Output{}, fmt.Errorf("invalid input: %w", err)
		}
	}

	tasks, err := h.store.ListTasks(ctx, userID, in.Status, in.Priority)
	if err != nil {
		return agent.Output{}, err
	}

	views := make([]taskView, len(tasks))
	for i, t := range tasks {
		views[i] = viewOf(t)
	}
	return agent.JSONOutput(map[string]any{"tasks": views, "count": len(views)})
}

type taskUpdateInput struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
	DueDate  string `json:"due_date"`
}

func (h *taskHandlers) Update(ctx context.Context, input json.RawMessage) (agent.Output, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return agent.Output{}, err
	}
	var in taskUpdateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return agent.Output{}, fmt.Errorf("invalid input: %w", err)
	}

	task, err := h.store.GetTask(ctx, in.ID, userID)
	if err != nil {
		return agent.Output{}, err
	}

	// Only update fields that were provided
	if in.Status != "" {
		task.Status = in.Status
	}
	if in.Priority != "" {
		task.Priority = in.Priority
	}
	if in.Notes != "" {
		task.Notes = in.Notes
	}
	if in.DueDate != "" {
		due, err := parseDue(in.DueDate)
		if err != nil {
			return agent.Output{}, err
		}
		task.DueDate = due
	}

	if err := h.store.UpdateTask(ctx, task); err != nil {
		return agent.Output{}, err
	}
	return agent.JSONOutput(map[string]any{"status": "updated", "task": viewOf(task)})
}

type taskDeleteInput struct {
	ID string `json:"id"`
}

func (h *taskHandlers) Delete(ctx context.Context, input json.RawMessage) (agent.Output, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return agent.Output{}, err
	}
	var in taskDeleteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return agent.Output{}, fmt.Errorf("invalid input: %w", err)
	}

	if err := h.store.DeleteTask(ctx, in.ID, userID); err != nil {
		return agent.Output{}, err
	}
	return agent.JSONOutput(map[string]string{"status": "deleted"})
}
