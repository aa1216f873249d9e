package domain

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "taskboard-api/domain"

	// maxUpdateAttempts bounds the re-read loop of a conditional update.
	maxUpdateAttempts = 5
)

// TaskStore is the persistence port. Every call is scoped by owner; a task
// of another owner is indistinguishable from a missing one.
type TaskStore interface {
	// InsertTask stores t and returns it with the assigned ID and CreatedAt.
	InsertTask(ctx context.Context, t Task) (StoredTask, error)
	// ListTasks returns all tasks of owner, optionally restricted to status.
	// An empty status lists every task.
	ListTasks(ctx context.Context, owner string, status Status) ([]Task, error)
	// GetTask returns ErrTaskNotFound when no task matches (owner, id).
	GetTask(ctx context.Context, owner, id string) (StoredTask, error)
	// UpdateTask merges upd into the stored task if its version still equals
	// etag. It returns ErrConcurrencyConflict otherwise.
	UpdateTask(ctx context.Context, upd TaskUpdate, etag string) (string, error)
	// SetOrder merges the order field without a version check.
	SetOrder(ctx context.Context, owner, id string, order int) error
	// DeleteTask returns ErrTaskNotFound when no task matches (owner, id).
	DeleteTask(ctx context.Context, owner, id string) error
}

// Repository provides validated, owner scoped access to tasks.
type Repository struct {
	st     TaskStore
	events EventPublisher
	tracer trace.Tracer
	now    func() time.Time
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithPublisher sets the receiver of change notifications.
func WithPublisher(p EventPublisher) RepositoryOption {
	return func(r *Repository) {
		if p != nil {
			r.events = p
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) RepositoryOption {
	return func(r *Repository) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewRepository returns a Repository backed by st.
func NewRepository(st TaskStore, opts ...RepositoryOption) *Repository {
	r := &Repository{
		st:     st,
		events: noopPublisher{},
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates in and stores a new pending task for owner.
func (r *Repository) Create(ctx context.Context, owner string, in TaskInput) (Task, error) {
	if owner == "" {
		return Task{}, ErrMissingOwner
	}
	t, err := newTask(owner, in)
	if err != nil {
		return Task{}, err
	}
	stored, err := r.st.InsertTask(ctx, t)
	if err != nil {
		return Task{}, storeErr("insert", err)
	}
	created := stored.Task
	r.publish(ctx, TaskEvent{Type: TaskCreated, UserID: owner, TaskID: created.ID, Task: &created})
	return created, nil
}

// List returns the tasks of owner in display order. statusFilter may be
// empty to include every status.
func (r *Repository) List(ctx context.Context, owner, statusFilter string) ([]Task, error) {
	return r.Search(ctx, owner, statusFilter, "")
}

// Search is List restricted to tasks matching query.
func (r *Repository) Search(ctx context.Context, owner, statusFilter, query string) ([]Task, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	var status Status
	if statusFilter != "" {
		var err error
		if status, err = ParseStatus(statusFilter); err != nil {
			return nil, err
		}
	}
	tasks, err := r.st.ListTasks(ctx, owner, status)
	if err != nil {
		return nil, storeErr("list", err)
	}
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Owner != owner || (status != "" && t.Status != status) || !t.Matches(query) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out, nil
}

// Get returns a single task of owner.
func (r *Repository) Get(ctx context.Context, owner, id string) (Task, error) {
	if owner == "" {
		return Task{}, ErrMissingOwner
	}
	stored, err := r.st.GetTask(ctx, owner, id)
	if err != nil {
		return Task{}, storeErr("get", err)
	}
	return stored.Task, nil
}

// UpdateFields applies the fields present in p. A patch without fields
// returns the task unchanged.
func (r *Repository) UpdateFields(ctx context.Context, owner, id string, p TaskPatch) (Task, error) {
	if owner == "" {
		return Task{}, ErrMissingOwner
	}
	upd, err := updateFromPatch(owner, id, p)
	if err != nil {
		return Task{}, err
	}
	t, err := r.update(ctx, upd)
	if err != nil {
		return Task{}, err
	}
	if !upd.Empty() {
		r.publish(ctx, TaskEvent{Type: TaskUpdated, UserID: owner, TaskID: id, Task: &t})
	}
	return t, nil
}

// UpdateStatus moves a task between pending and completed.
func (r *Repository) UpdateStatus(ctx context.Context, owner, id, status string) (Task, error) {
	if owner == "" {
		return Task{}, ErrMissingOwner
	}
	s, err := ParseStatus(status)
	if err != nil {
		return Task{}, err
	}
	t, err := r.update(ctx, TaskUpdate{Owner: owner, ID: id, Status: &s})
	if err != nil {
		return Task{}, err
	}
	r.publish(ctx, TaskEvent{Type: TaskStatusChanged, UserID: owner, TaskID: id, Task: &t})
	return t, nil
}

// SetOrder writes the display position of one task.
func (r *Repository) SetOrder(ctx context.Context, owner, id string, position int) error {
	if owner == "" {
		return ErrMissingOwner
	}
	if position > math.MaxInt32 || position < math.MinInt32 {
		return &ValidationError{Field: "position", Reason: "Position is out of range"}
	}
	if err := r.st.SetOrder(ctx, owner, id, position); err != nil {
		return storeErr("set order", err)
	}
	r.publish(ctx, TaskEvent{Type: TaskReordered, UserID: owner, TaskID: id, Order: &position})
	return nil
}

// Delete removes a task of owner permanently.
func (r *Repository) Delete(ctx context.Context, owner, id string) error {
	if owner == "" {
		return ErrMissingOwner
	}
	if err := r.st.DeleteTask(ctx, owner, id); err != nil {
		return storeErr("delete", err)
	}
	r.publish(ctx, TaskEvent{Type: TaskDeleted, UserID: owner, TaskID: id})
	return nil
}

// update performs a read-modify-write guarded by the entity version,
// re-reading when another writer got there first.
func (r *Repository) update(ctx context.Context, upd TaskUpdate) (Task, error) {
	ctx, span := r.tracer.Start(ctx, "tasks.update", trace.WithAttributes(attribute.String("task.id", upd.ID)))
	defer span.End()

	for attempt := 1; ; attempt++ {
		cur, err := r.st.GetTask(ctx, upd.Owner, upd.ID)
		if err != nil {
			return Task{}, storeErr("get", err)
		}
		if upd.Empty() {
			return cur.Task, nil
		}
		if _, err := r.st.UpdateTask(ctx, upd, cur.ETag); err != nil {
			if !errors.Is(err, ErrConcurrencyConflict) {
				return Task{}, storeErr("update", err)
			}
			if attempt >= maxUpdateAttempts {
				log.WithFields(log.Fields{"task": upd.ID, "attempts": attempt}).Error("task update kept conflicting")
				return Task{}, storeErr("update", err)
			}
			log.WithFields(log.Fields{"task": upd.ID, "attempt": attempt}).Debug("task changed during update, retrying")
			continue
		}
		span.SetAttributes(attribute.Int("update.attempts", attempt))
		return upd.ApplyTo(cur.Task), nil
	}
}

func (r *Repository) publish(ctx context.Context, ev TaskEvent) {
	if ev.Time.IsZero() {
		ev.Time = r.now().UTC()
	}
	r.events.Publish(ctx, ev)
}
