package domain

import (
	"context"
	"math"
	"time"
)

// Summary counts an owner's tasks by state.
type Summary struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"`
	Overdue        int `json:"overdue"`
	CompletionRate int `json:"completionRate"`
}

// Summarize computes the counters for tasks as of now.
func Summarize(tasks []Task, now time.Time) Summary {
	var s Summary
	for _, t := range tasks {
		s.Total++
		if t.Status == StatusCompleted {
			s.Completed++
		}
		if t.Overdue(now) {
			s.Overdue++
		}
	}
	s.Pending = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = int(math.Round(float64(s.Completed) * 100 / float64(s.Total)))
	}
	return s
}

// Summary returns the counters for all tasks of owner.
func (r *Repository) Summary(ctx context.Context, owner string) (Summary, error) {
	tasks, err := r.List(ctx, owner, "")
	if err != nil {
		return Summary{}, err
	}
	return Summarize(tasks, r.now()), nil
}
