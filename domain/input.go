package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLength is the longest title accepted, counted in characters after trimming.
const MaxTitleLength = 200

var dueDateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// TaskInput carries the client supplied fields of a new task.
type TaskInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     string
	Tags        []string
}

// TaskPatch is a sparse update. A nil field is absent and leaves the stored
// value untouched; a non-nil field is applied even when it holds the zero value.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *string
	DueDate     *string
	Tags        *[]string
}

// Empty reports whether the patch carries no recognised field.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.DueDate == nil && p.Tags == nil
}

// TaskUpdate is the validated form of a change to one stored task. Only
// non-nil fields are written.
type TaskUpdate struct {
	Owner        string
	ID           string
	Title        *string
	Description  *string
	Priority     *Priority
	Status       *Status
	DueDate      *time.Time
	ClearDueDate bool
	Tags         *[]string
}

// Empty reports whether the update would not change anything.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil && u.Status == nil &&
		u.DueDate == nil && !u.ClearDueDate && u.Tags == nil
}

// ApplyTo returns a copy of t with the update applied.
func (u TaskUpdate) ApplyTo(t Task) Task {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ClearDueDate {
		t.DueDate = nil
	} else if u.DueDate != nil {
		d := *u.DueDate
		t.DueDate = &d
	}
	if u.Tags != nil {
		t.Tags = append([]string(nil), (*u.Tags)...)
	}
	return t
}

func normalizeTitle(raw string, required bool) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		if required {
			return "", &ValidationError{Field: "title", Reason: "Task title is required"}
		}
		return "", &ValidationError{Field: "title", Reason: "Task title cannot be empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", &ValidationError{Field: "title", Reason: "Title must be under 200 characters"}
	}
	return title, nil
}

// ParseDueDate parses a calendar date. Timestamps are reduced to the date
// they name in their own offset.
func ParseDueDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "dueDate", Reason: "Invalid due date format"}
}

// NormalizeTags trims every tag and drops the ones left empty. Order and
// duplicates are kept.
func NormalizeTags(raw []string) []string {
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// newTask validates input and builds the task to insert for owner.
func newTask(owner string, in TaskInput) (Task, error) {
	title, err := normalizeTitle(in.Title, true)
	if err != nil {
		return Task{}, err
	}
	priority := PriorityMedium
	if in.Priority != "" {
		if priority, err = ParsePriority(in.Priority); err != nil {
			return Task{}, err
		}
	}
	var due *time.Time
	if strings.TrimSpace(in.DueDate) != "" {
		d, err := ParseDueDate(in.DueDate)
		if err != nil {
			return Task{}, err
		}
		due = &d
	}
	return Task{
		Owner:       owner,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Priority:    priority,
		Status:      StatusPending,
		DueDate:     due,
		Tags:        NormalizeTags(in.Tags),
		Order:       0,
	}, nil
}

// updateFromPatch validates p and converts it into a store update.
func updateFromPatch(owner, id string, p TaskPatch) (TaskUpdate, error) {
	upd := TaskUpdate{Owner: owner, ID: id}
	if p.Title != nil {
		title, err := normalizeTitle(*p.Title, false)
		if err != nil {
			return TaskUpdate{}, err
		}
		upd.Title = &title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		upd.Description = &desc
	}
	if p.Priority != nil && *p.Priority != "" {
		priority, err := ParsePriority(*p.Priority)
		if err != nil {
			return TaskUpdate{}, err
		}
		upd.Priority = &priority
	}
	if p.DueDate != nil {
		if strings.TrimSpace(*p.DueDate) == "" {
			upd.ClearDueDate = true
		} else {
			d, err := ParseDueDate(*p.DueDate)
			if err != nil {
				return TaskUpdate{}, err
			}
			upd.DueDate = &d
		}
	}
	if p.Tags != nil {
		tags := NormalizeTags(*p.Tags)
		upd.Tags = &tags
	}
	return upd, nil
}
