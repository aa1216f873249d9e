package domain

import (
	"context"
	"math"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultReorderConcurrency caps the writes a single reorder keeps in flight.
const DefaultReorderConcurrency = 8

// Assignment moves one task to a position.
type Assignment struct {
	ID       string
	Position int
}

// ReorderResult lists the ids whose order was written and the ones that
// failed, both in the order they were submitted.
type ReorderResult struct {
	Applied []string         `json:"applied"`
	Failed  []ReorderFailure `json:"failed"`
}

type orderSetter interface {
	SetOrder(ctx context.Context, owner, id string, position int) error
}

// Coordinator applies reorder batches. Assignments are written
// independently and concurrently: the batch is not atomic, and writes that
// succeeded stay in place when others fail.
type Coordinator struct {
	repo        orderSetter
	concurrency int
	tracer      trace.Tracer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithConcurrency limits the number of assignments written at once.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCoordinatorTracerProvider overrides the global tracer provider.
func WithCoordinatorTracerProvider(tp trace.TracerProvider) CoordinatorOption {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewCoordinator returns a Coordinator writing through repo.
func NewCoordinator(repo *Repository, opts ...CoordinatorOption) *Coordinator {
	return newCoordinator(repo, opts...)
}

func newCoordinator(repo orderSetter, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		repo:        repo,
		concurrency: DefaultReorderConcurrency,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reorder writes every assignment and waits for all of them. The error is
// nil only if every assignment was applied; otherwise it is a *ReorderError
// describing which ids were and were not written.
func (c *Coordinator) Reorder(ctx context.Context, owner string, assignments []Assignment) (ReorderResult, error) {
	if owner == "" {
		return ReorderResult{}, ErrMissingOwner
	}
	if err := validateAssignments(assignments); err != nil {
		return ReorderResult{}, err
	}

	ctx, span := c.tracer.Start(ctx, "tasks.reorder", trace.WithAttributes(attribute.Int("reorder.size", len(assignments))))
	defer span.End()

	errs := make([]error, len(assignments))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for i, a := range assignments {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, a Assignment) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = c.apply(ctx, owner, a)
		}(i, a)
	}
	wg.Wait()

	res := ReorderResult{Applied: []string{}, Failed: []ReorderFailure{}}
	for i, a := range assignments {
		if errs[i] != nil {
			res.Failed = append(res.Failed, ReorderFailure{ID: a.ID, Err: errs[i]})
			continue
		}
		res.Applied = append(res.Applied, a.ID)
	}
	span.SetAttributes(attribute.Int("reorder.applied", len(res.Applied)), attribute.Int("reorder.failed", len(res.Failed)))
	if len(res.Failed) == 0 {
		return res, nil
	}

	rerr := &ReorderError{Result: res}
	span.SetStatus(codes.Error, rerr.Error())
	log.WithFields(log.Fields{
		"user":    owner,
		"applied": len(res.Applied),
		"failed":  len(res.Failed),
		"partial": rerr.Partial(),
	}).Warn("reorder not fully applied")
	return res, rerr
}

func (c *Coordinator) apply(ctx context.Context, owner string, a Assignment) error {
	ctx, span := c.tracer.Start(ctx, "tasks.reorder.assign", trace.WithAttributes(
		attribute.String("task.id", a.ID),
		attribute.Int("task.position", a.Position),
	))
	defer span.End()
	if err := c.repo.SetOrder(ctx, owner, a.ID, a.Position); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func validateAssignments(assignments []Assignment) error {
	if len(assignments) == 0 {
		return &ValidationError{Field: "order", Reason: "Order must be a non-empty array of { id, position }"}
	}
	seen := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		if strings.TrimSpace(a.ID) == "" {
			return &ValidationError{Field: "id", Reason: "Every reorder entry needs an id"}
		}
		if _, dup := seen[a.ID]; dup {
			return &ValidationError{Field: "id", Reason: "Task " + a.ID + " appears more than once"}
		}
		seen[a.ID] = struct{}{}
		if a.Position > math.MaxInt32 || a.Position < math.MinInt32 {
			return &ValidationError{Field: "position", Reason: "Position is out of range"}
		}
	}
	return nil
}
