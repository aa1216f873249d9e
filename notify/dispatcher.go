// Package notify delivers task change events to downstream channels after
// the change has been persisted. Delivery is best effort: a slow or failing
// sink never holds up the request that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Sink is a single delivery channel for encoded events.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev domain.TaskEvent, payload []byte) error
}

// Options tune the worker pool.
type Options struct {
	Workers        int
	Buffer         int
	SendTimeout    time.Duration
	HandoffTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.HandoffTimeout < 0 {
		o.HandoffTimeout = 0
	}
	return o
}

type job struct {
	ev      domain.TaskEvent
	payload []byte
}

// Dispatcher implements domain.EventPublisher on top of a bounded queue
// drained by a fixed number of workers.
type Dispatcher struct {
	sinks []Sink
	opts  Options
	log   *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers. With no sinks the dispatcher accepts and
// discards events.
func NewDispatcher(logger *log.Logger, opts Options, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	opts = opts.withDefaults()
	d := &Dispatcher{sinks: sinks, opts: opts, log: logger, jobs: make(chan job, opts.Buffer)}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v, sinks: %d",
		opts.Workers, opts.Buffer, opts.SendTimeout, opts.HandoffTimeout, len(sinks))
	return d
}

// Publish encodes ev and hands it to the workers. Events are dropped with a
// warning when the queue stays full past the handoff timeout.
func (d *Dispatcher) Publish(ctx context.Context, ev domain.TaskEvent) {
	if len(d.sinks) == 0 {
		return
	}
	payload, err := sonic.Marshal(ev)
	if err != nil {
		d.log.Errorf("encode event failed, err: %v, type: %s, task: %s", err, ev.Type, ev.TaskID)
		return
	}
	if !d.tryEnqueue(job{ev: ev, payload: payload}) {
		d.log.WithFields(log.Fields{"type": ev.Type, "task": ev.TaskID, "user": ev.UserID}).Warn("event dropped")
	}
}

func (d *Dispatcher) tryEnqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.jobs <- j:
		return true
	default:
	}

	if d.opts.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.opts.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
			err := s.Send(ctx, j.ev, j.payload)
			cancel()
			if err != nil {
				d.log.Errorf("event delivery failed, err: %v, sink: %s, type: %s, user: %s, worker: %d", err, s.Name(), j.ev.Type, j.ev.UserID, id)
			}
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
