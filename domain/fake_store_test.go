package domain

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	tasks   map[string]map[string]StoredTask
	seq     int
	clock   time.Time
	writes  int
	deletes int

	// conflicts makes the next n conditional updates fail as if another
	// writer had changed the entity in between.
	conflicts int
	failOrder map[string]error
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks: map[string]map[string]StoredTask{},
		clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) nextETag() string {
	f.seq++
	return "etag-" + strconv.Itoa(f.seq)
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) (StoredTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.seq++
	t.ID = "task-" + strconv.Itoa(f.seq)
	f.clock = f.clock.Add(time.Second)
	t.CreatedAt = f.clock
	if f.tasks[t.Owner] == nil {
		f.tasks[t.Owner] = map[string]StoredTask{}
	}
	st := StoredTask{Task: t, ETag: f.nextETag()}
	f.tasks[t.Owner][t.ID] = st
	return st, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, owner string, status Status) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []Task{}
	for _, st := range f.tasks[owner] {
		if status != "" && st.Status != status {
			continue
		}
		out = append(out, st.Task)
	}
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, owner, id string) (StoredTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.tasks[owner][id]
	if !ok {
		return StoredTask{}, ErrTaskNotFound
	}
	return st, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, upd TaskUpdate, etag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.tasks[upd.Owner][upd.ID]
	if !ok {
		return "", ErrTaskNotFound
	}
	if f.conflicts > 0 {
		f.conflicts--
		// simulate a concurrent writer bumping the version
		st.ETag = f.nextETag()
		f.tasks[upd.Owner][upd.ID] = st
		return "", ErrConcurrencyConflict
	}
	if st.ETag != etag {
		return "", ErrConcurrencyConflict
	}
	f.writes++
	st.Task = upd.ApplyTo(st.Task)
	st.ETag = f.nextETag()
	f.tasks[upd.Owner][upd.ID] = st
	return st.ETag, nil
}

func (f *fakeStore) SetOrder(ctx context.Context, owner, id string, order int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOrder[id]; err != nil {
		return err
	}
	st, ok := f.tasks[owner][id]
	if !ok {
		return ErrTaskNotFound
	}
	f.writes++
	st.Order = order
	st.ETag = f.nextETag()
	f.tasks[owner][id] = st
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, owner, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[owner][id]; !ok {
		return ErrTaskNotFound
	}
	f.deletes++
	delete(f.tasks[owner], id)
	return nil
}

func (f *fakeStore) get(owner, id string) (Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.tasks[owner][id]
	return st.Task, ok
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []TaskEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev TaskEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

var errStoreDown = errors.New("store unavailable")
