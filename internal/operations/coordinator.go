// Package operations coordinates backend mutations: at most one request per
// (kind, key) in flight, a full registry refetch after each success, and a
// notification instead of a retry after each failure.
package operations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/logging"
	"github.com/tstore/tstore-desktop/internal/progress"
)

// ErrAlreadyPending is returned when the same (kind, key) is already in flight.
// No backend request is issued in that case.
var ErrAlreadyPending = errors.New("operation already pending")

// Invalidator schedules a registry refetch. state.Registry satisfies it.
type Invalidator interface {
	Invalidate() <-chan struct{}
}

// Notifier surfaces failures to the user. notify.Notifier satisfies it.
type Notifier interface {
	Failure(action, key string, err error)
}

// Coordinator owns the mapping from (kind, key) to in-flight task.
type Coordinator struct {
	backend  gateway.Backend
	registry Invalidator
	progress *progress.Manager
	notifier Notifier
	eventBus *events.EventBus
	logger   *logging.Logger

	mu      sync.Mutex
	pending map[taskKey]*Task
	// running counts tasks not yet settled; idle is closed when it drops to zero
	running int
	idle    chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProgress opens progress subscriptions for uploads and downloads.
func WithProgress(m *progress.Manager) Option {
	return func(c *Coordinator) { c.progress = m }
}

// WithNotifier reports failures to n.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithEventBus publishes task lifecycle events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Coordinator) { c.eventBus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator issuing requests to backend and
// invalidating registry after each success.
func NewCoordinator(backend gateway.Backend, registry Invalidator, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:  backend,
		registry: registry,
		pending:  make(map[taskKey]*Task),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}
	return c
}

// Start reserves (kind, key) and runs fn in the background. It returns
// ErrAlreadyPending without calling fn if the pair is already in flight.
func (c *Coordinator) Start(ctx context.Context, kind Kind, key string, fn RunFunc) (*Task, error) {
	return c.start(ctx, kind, key, fn, nil)
}

// Execute is Start followed by Wait.
func (c *Coordinator) Execute(ctx context.Context, kind Kind, key string, fn RunFunc) error {
	task, err := c.Start(ctx, kind, key, fn)
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

func (c *Coordinator) start(ctx context.Context, kind Kind, key string, fn RunFunc, channel *gateway.Channel) (*Task, error) {
	k := taskKey{kind: kind, key: key}

	c.mu.Lock()
	if _, busy := c.pending[k]; busy {
		c.mu.Unlock()
		c.logger.Debug().Str("kind", string(kind)).Str("key", key).Msg("Operation already pending, not issuing request")
		return nil, fmt.Errorf("%s %s: %w", kind, key, ErrAlreadyPending)
	}
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Key:       key,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	// Subscribe at trigger time so the first reading is not missed
	if channel != nil && c.progress != nil {
		progressKey := key
		if *channel == gateway.ChannelUpload {
			progressKey = ""
		}
		task.sub = c.progress.Subscribe(*channel, progressKey)
	}
	if c.running == 0 {
		c.idle = make(chan struct{})
	}
	c.running++
	c.pending[k] = task
	c.mu.Unlock()

	c.publish(events.EventOperationStarted, task, nil)
	c.logger.Debug().Str("task", task.ID).Str("kind", string(kind)).Str("key", key).Msg("Operation started")

	go c.run(context.WithoutCancel(ctx), k, task, fn)

	return task, nil
}

func (c *Coordinator) run(ctx context.Context, k taskKey, task *Task, fn RunFunc) {
	defer c.settled()

	err := safeRun(ctx, fn)

	// Settle: progress first, then the key, then waiters
	task.Detach()

	c.mu.Lock()
	delete(c.pending, k)
	c.mu.Unlock()

	if err == nil {
		if c.registry != nil {
			task.refreshed = c.registry.Invalidate()
		} else {
			task.refreshed = closedChan()
		}
		c.publish(events.EventOperationSucceeded, task, nil)
		c.logger.Debug().
			Str("kind", string(task.Kind)).
			Str("key", task.Key).
			Dur("elapsed", time.Since(task.StartedAt)).
			Msg("Operation succeeded")
	} else {
		task.refreshed = closedChan()
		if c.notifier != nil {
			c.notifier.Failure(task.Kind.Label(), displayKey(task), err)
		}
		c.publish(events.EventOperationFailed, task, err)
		c.logger.Warn().
			Err(err).
			Str("kind", string(task.Kind)).
			Str("key", task.Key).
			Msg("Operation failed")
	}

	task.err = err
	close(task.done)
}

func (c *Coordinator) settled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running--
	if c.running == 0 {
		close(c.idle)
	}
}

// safeRun converts a panic in fn into an error so a failing request can never
// leave its key reserved.
func safeRun(ctx context.Context, fn RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func displayKey(t *Task) string {
	if t.Kind == KindUpload {
		return ""
	}
	return t.Key
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (c *Coordinator) publish(eventType events.EventType, t *Task, err error) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(&events.OperationEvent{
		BaseEvent: events.BaseEvent{EventType: eventType, Time: time.Now()},
		TaskID:    t.ID,
		Kind:      string(t.Kind),
		Key:       t.Key,
		Error:     err,
	})
}

// IsPending reports whether (kind, key) is in flight. Callers use it to
// disable triggers.
func (c *Coordinator) IsPending(kind Kind, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[taskKey{kind: kind, key: key}]
	return ok
}

// PendingKind reports whether any key of kind is in flight.
func (c *Coordinator) PendingKind(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.ContainsBy(lo.Keys(c.pending), func(k taskKey) bool { return k.kind == kind })
}

// Pending returns the in-flight tasks, oldest first.
func (c *Coordinator) Pending() []*Task {
	c.mu.Lock()
	tasks := lo.Values(c.pending)
	c.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StartedAt.Before(tasks[j].StartedAt)
	})
	return tasks
}

// Get returns the in-flight task for (kind, key).
func (c *Coordinator) Get(kind Kind, key string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.pending[taskKey{kind: kind, key: key}]
	return t, ok
}

// WaitIdle blocks until (kind, key) is not in flight.
func (c *Coordinator) WaitIdle(ctx context.Context, kind Kind, key string) error {
	for {
		t, ok := c.Get(kind, key)
		if !ok {
			return nil
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Drain waits until no task is in flight, including tasks started while it
// waits.
func (c *Coordinator) Drain(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.running == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Upload uploads the file at path under the fixed upload key.
func (c *Coordinator) Upload(ctx context.Context, path string) (*Task, error) {
	ch := gateway.ChannelUpload
	return c.start(ctx, KindUpload, UploadKey, func(ctx context.Context) error {
		return c.backend.Upload(ctx, path)
	}, &ch)
}

// Download restores name locally.
func (c *Coordinator) Download(ctx context.Context, name string) (*Task, error) {
	ch := gateway.ChannelDownload
	return c.start(ctx, KindDownload, name, func(ctx context.Context) error {
		return c.backend.Download(ctx, name)
	}, &ch)
}

// Offload moves name from Local to Cloud.
func (c *Coordinator) Offload(ctx context.Context, name string) (*Task, error) {
	return c.start(ctx, KindOffload, name, func(ctx context.Context) error {
		return c.backend.Offload(ctx, name)
	}, nil)
}

// Delete removes name.
func (c *Coordinator) Delete(ctx context.Context, name string) (*Task, error) {
	return c.start(ctx, KindDelete, name, func(ctx context.Context) error {
		return c.backend.Delete(ctx, name)
	}, nil)
}

// UpdateDescription replaces the description of name.
func (c *Coordinator) UpdateDescription(ctx context.Context, name, text string) (*Task, error) {
	return c.start(ctx, KindUpdateDescription, name, func(ctx context.Context) error {
		return c.backend.UpdateDescription(ctx, name, text)
	}, nil)
}
