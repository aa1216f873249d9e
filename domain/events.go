package domain

import (
	"context"
	"time"
)

const (
	TaskCreated       = "task-created"
	TaskUpdated       = "task-updated"
	TaskStatusChanged = "task-status-changed"
	TaskReordered     = "task-reordered"
	TaskDeleted       = "task-deleted"
)

// TaskEvent describes a change that has already been persisted.
type TaskEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"userId"`
	TaskID string    `json:"taskId"`
	Task   *Task     `json:"task,omitempty"`
	Order  *int      `json:"order,omitempty"`
	Time   time.Time `json:"time"`
}

// EventPublisher receives change notifications. Publish must not block on
// delivery; failures are the publisher's concern.
type EventPublisher interface {
	Publish(ctx context.Context, ev TaskEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, TaskEvent) {}
