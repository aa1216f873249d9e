package api

import (
	"context"
	"time"

	"taskboard-api/domain"
)

// TaskService is the task repository as seen by the handlers.
type TaskService interface {
	Create(ctx context.Context, owner string, in domain.TaskInput) (domain.Task, error)
	Search(ctx context.Context, owner, statusFilter, query string) ([]domain.Task, error)
	Get(ctx context.Context, owner, id string) (domain.Task, error)
	UpdateFields(ctx context.Context, owner, id string, p domain.TaskPatch) (domain.Task, error)
	UpdateStatus(ctx context.Context, owner, id, status string) (domain.Task, error)
	Delete(ctx context.Context, owner, id string) error
	Summary(ctx context.Context, owner string) (domain.Summary, error)
}

// Reorderer applies a batch of position assignments.
type Reorderer interface {
	Reorder(ctx context.Context, owner string, assignments []domain.Assignment) (domain.ReorderResult, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Services bundles the collaborators of the HTTP layer. Deduper and Events
// are optional.
type Services struct {
	Tasks   TaskService
	Reorder Reorderer
	Auth    Authenticator
	Deduper Deduper
	Events  EventSource
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type reorderFailureResponse struct {
	Error   string                  `json:"error"`
	Applied []string                `json:"applied"`
	Failed  []domain.ReorderFailure `json:"failed"`
}

// taskResponse is a task as returned to clients, with the derived overdue flag.
type taskResponse struct {
	domain.Task
	Overdue bool `json:"overdue"`
}

func newTaskResponse(t domain.Task, now time.Time) taskResponse {
	return taskResponse{Task: t, Overdue: t.Overdue(now)}
}

func newTaskResponses(tasks []domain.Task, now time.Time) []taskResponse {
	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = newTaskResponse(t, now)
	}
	return out
}
