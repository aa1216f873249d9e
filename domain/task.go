package domain

import (
	"strings"
	"time"
)

// Priority ranks a task. The zero value is not a valid priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates raw input against the known priorities.
func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(raw); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", &ValidationError{Field: "priority", Reason: "Priority must be low, medium, or high"}
	}
}

// Status is the completion state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ParseStatus validates raw input against the two lifecycle states.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusCompleted:
		return s, nil
	default:
		return "", &ValidationError{Field: "status", Reason: "Status must be 'pending' or 'completed'"}
	}
}

// Task is a single entry in an owner's collection.
type Task struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags"`
	Order       int        `json:"order"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// StoredTask is a task together with the store version it was read at.
type StoredTask struct {
	Task
	ETag string
}

// Overdue reports whether the due date lies on a calendar day before now
// and the task is still open.
func (t Task) Overdue(now time.Time) bool {
	if t.DueDate == nil || t.Status == StatusCompleted {
		return false
	}
	return t.DueDate.Before(calendarDay(now))
}

// Matches reports whether the query occurs, case-insensitively, in the
// title, the description or any tag. An empty query matches everything.
func (t Task) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.Description), q) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Less orders tasks by ascending Order, newest first within equal orders.
func Less(a, b Task) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
