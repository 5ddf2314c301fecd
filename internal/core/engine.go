// Package core wires the client state layer together: event bus, registry,
// progress manager, operation coordinator, notifications and the description
// editor, all driven by one gateway.Backend.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tstore/tstore-desktop/internal/autosave"
	"github.com/tstore/tstore-desktop/internal/config"
	"github.com/tstore/tstore-desktop/internal/constants"
	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/logging"
	"github.com/tstore/tstore-desktop/internal/models"
	"github.com/tstore/tstore-desktop/internal/notify"
	"github.com/tstore/tstore-desktop/internal/operations"
	"github.com/tstore/tstore-desktop/internal/progress"
	"github.com/tstore/tstore-desktop/internal/state"
)

var (
	// ErrNotStarted is returned by Stop on an engine that was never started.
	ErrNotStarted = errors.New("engine not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrCancelled is returned when the user dismisses a chooser.
	ErrCancelled = errors.New("selection cancelled")

	// ErrUnknownFile is returned for names missing from the registry snapshot.
	ErrUnknownFile = errors.New("unknown file")
)

// drainTimeout bounds how long Stop waits for in-flight operations.
const drainTimeout = 10 * time.Second

// Engine is the client-side orchestrator.
type Engine struct {
	backend  gateway.Backend
	cfg      *config.ClientConfig
	logger   *logging.Logger
	eventBus *events.EventBus
	notifier *notify.Notifier
	registry *state.Registry
	progress *progress.Manager
	coord    *operations.Coordinator

	// editorMu serializes rebinds of the shared description editor
	editorMu sync.Mutex
	editor   *autosave.Field

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine builds an engine for backend. A nil cfg uses defaults; a nil
// logger discards output.
func NewEngine(backend gateway.Backend, cfg *config.ClientConfig, logger *logging.Logger) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg == nil {
		cfg = config.NewClientConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	eventBus := events.NewEventBus(constants.EventBusDefaultBuffer)
	logger = logger.WithEventBus(eventBus)

	notifier := notify.NewNotifier(&notify.Config{
		Enabled: cfg.Notifications.Enabled,
		Desktop: cfg.Notifications.Desktop,
		History: constants.NotificationHistory,
	}, eventBus, logger.Component("notify"))

	registry := state.NewRegistry(backend, eventBus,
		state.WithCoalesceWindow(cfg.RefreshCoalesce()),
		state.WithFetchTimeout(cfg.RequestTimeout()),
		state.WithNotifier(notifier),
		state.WithLogger(logger.Component("registry")),
	)

	progressManager := progress.NewManager(eventBus, logger.Component("progress"))

	coord := operations.NewCoordinator(backend, registry,
		operations.WithProgress(progressManager),
		operations.WithNotifier(notifier),
		operations.WithEventBus(eventBus),
		operations.WithLogger(logger.Component("operations")),
	)

	e := &Engine{
		backend:  backend,
		cfg:      cfg,
		logger:   logger,
		eventBus: eventBus,
		notifier: notifier,
		registry: registry,
		progress: progressManager,
		coord:    coord,
	}
	e.editor = autosave.New("", "", e.commitDescription,
		autosave.WithDelay(cfg.AutosaveDelay()),
		autosave.WithTimeout(cfg.RequestTimeout()),
		autosave.WithLogger(logger.Component("editor")),
	)
	return e, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *events.EventBus { return e.eventBus }

// Registry returns the file registry and selection store.
func (e *Engine) Registry() *state.Registry { return e.registry }

// Progress returns the progress subscription manager.
func (e *Engine) Progress() *progress.Manager { return e.progress }

// Coordinator returns the operation coordinator.
func (e *Engine) Coordinator() *operations.Coordinator { return e.coord }

// Notifier returns the notification feed.
func (e *Engine) Notifier() *notify.Notifier { return e.notifier }

// Editor returns the description editor bound to the focused file.
func (e *Engine) Editor() *autosave.Field { return e.editor }

// Config returns the client preferences the engine was built with.
func (e *Engine) Config() *config.ClientConfig { return e.cfg }

// Start subscribes to backend events, starts the progress manager and loads
// the initial file list. A failed initial fetch is returned but leaves the
// engine running with an empty snapshot; a missing event stream only logs.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.started = true
	e.mu.Unlock()

	if err := e.progress.Start(); err != nil {
		return fmt.Errorf("failed to start progress manager: %w", err)
	}

	focusCh := e.eventBus.Subscribe(state.EventFocusChanged)
	e.wg.Add(1)
	go e.focusLoop(runCtx, focusCh)

	if stream, err := e.backend.Events(runCtx); err != nil {
		e.logger.Warn().Err(err).Msg("Backend event stream unavailable; progress and sync updates disabled")
	} else {
		e.wg.Add(1)
		go e.pumpEvents(stream)
	}

	if err := e.registry.Refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh failed: %w", err)
	}

	e.logger.Debug().Int("files", e.registry.Count()).Msg("Engine started")
	return nil
}

// Stop flushes the description editor, waits for in-flight operations and
// shuts every component down.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	var errs []error

	e.editorMu.Lock()
	if err := e.editor.Close(); err != nil {
		errs = append(errs, fmt.Errorf("flush description: %w", err))
	}
	e.editorMu.Unlock()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := e.coord.Drain(drainCtx); err != nil {
		e.logger.Warn().Err(err).Int("pending", len(e.coord.Pending())).Msg("Stopping with operations still in flight")
		errs = append(errs, err)
	}
	drainCancel()

	cancel()
	e.progress.Stop()
	e.eventBus.Close()
	e.wg.Wait()

	if dropped := e.eventBus.GetDroppedEventCount(); dropped > 0 {
		e.logger.Debug().Int64("dropped", dropped).Msg("Events dropped during session")
	}
	e.logger.Debug().Msg("Engine stopped")
	return errors.Join(errs...)
}

// pumpEvents translates backend push events onto the bus. File-set changes
// invalidate the registry.
func (e *Engine) pumpEvents(stream <-chan gateway.Event) {
	defer e.wg.Done()

	for ev := range stream {
		busEvent, ok := gateway.Translate(ev)
		if !ok {
			e.logger.Debug().Str("event", ev.Name).Msg("Ignoring unknown backend event")
			continue
		}
		e.eventBus.Publish(busEvent)

		switch busEvent.Type() {
		case events.EventFileRenamed, events.EventFileRemoved:
			e.registry.Invalidate()
		}
	}
	e.logger.Debug().Msg("Backend event stream closed")
}

// focusLoop keeps the description editor bound to the focused file.
func (e *Engine) focusLoop(ctx context.Context, ch <-chan events.Event) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fe, ok := ev.(*state.FocusChangedEvent)
			if !ok {
				continue
			}
			name := ""
			if fe.Focused {
				name = fe.Name
			}
			e.bindEditor(name)
		}
	}
}

// bindEditor points the editor at name, flushing edits for the previous file.
// Binding the already-bound name keeps the buffer.
func (e *Engine) bindEditor(name string) {
	e.editorMu.Lock()
	defer e.editorMu.Unlock()

	if e.editor.Key() == name {
		return
	}

	initial := ""
	if name != "" {
		if rec, ok := e.registry.Find(name); ok {
			initial = rec.Description
		}
	}
	if err := e.editor.Rebind(name, initial); err != nil && !errors.Is(err, autosave.ErrClosed) {
		e.logger.Debug().Err(err).Msg("Flush on focus change failed")
	}
}

// EditDescription focuses name and binds the editor to it synchronously.
func (e *Engine) EditDescription(name string) (*autosave.Field, error) {
	if _, ok := e.registry.Find(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, name)
	}
	if focused, ok := e.registry.Focused(); !ok || focused != name {
		e.registry.Select(name)
	}
	e.bindEditor(name)
	return e.editor, nil
}

// commitDescription waits for any earlier description update on the same
// file, then issues this one through the coordinator.
func (e *Engine) commitDescription(ctx context.Context, name, text string) error {
	if name == "" {
		return nil
	}
	for {
		if err := e.coord.WaitIdle(ctx, operations.KindUpdateDescription, name); err != nil {
			return err
		}
		task, err := e.coord.UpdateDescription(ctx, name, text)
		if errors.Is(err, operations.ErrAlreadyPending) {
			continue
		}
		if err != nil {
			return err
		}
		return task.Wait(ctx)
	}
}

// BackendConfig reads the backend-owned settings.
func (e *Engine) BackendConfig(ctx context.Context) (models.Config, error) {
	cfg, err := e.backend.GetConfig(ctx)
	if err != nil {
		return models.Config{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return cfg, nil
}

// UpdateBackendConfig writes the backend-owned settings. Failures are also
// surfaced as notifications.
func (e *Engine) UpdateBackendConfig(ctx context.Context, cfg models.Config) error {
	if err := e.backend.UpdateConfig(ctx, cfg); err != nil {
		e.notifier.Failure("Settings update", "", err)
		return fmt.Errorf("failed to update settings: %w", err)
	}
	e.notifier.Info("Settings saved", "")
	return nil
}

// PickSyncFolder opens the directory chooser. ErrCancelled means the user
// closed it without choosing.
func (e *Engine) PickSyncFolder(ctx context.Context) (string, error) {
	dir, err := e.backend.SelectDirectory(ctx)
	if err != nil {
		return "", fmt.Errorf("directory chooser failed: %w", err)
	}
	if dir == "" {
		return "", ErrCancelled
	}
	return dir, nil
}

// UploadPicked opens the file chooser and uploads the chosen file.
func (e *Engine) UploadPicked(ctx context.Context) (*operations.Task, error) {
	path, err := e.backend.SelectFile(ctx)
	if err != nil {
		return nil, fmt.Errorf("file chooser failed: %w", err)
	}
	if path == "" {
		return nil, ErrCancelled
	}
	return e.coord.Upload(ctx, path)
}

// Status is a point-in-time summary for display.
type Status struct {
	Totals        models.Totals
	Pending       []*operations.Task
	CurrentJob    *models.SyncJob
	LastJob       *models.SyncJob
	LastRefresh   time.Time
	LastError     error
	DroppedEvents int64
}

// Status returns the current summary.
func (e *Engine) Status() Status {
	s := Status{
		Totals:        e.registry.Totals(),
		Pending:       e.coord.Pending(),
		LastRefresh:   e.registry.LastRefresh(),
		LastError:     e.registry.LastError(),
		DroppedEvents: e.eventBus.GetDroppedEventCount(),
	}
	if job, ok := e.progress.Jobs().Current(); ok {
		s.CurrentJob = &job
	}
	if job, ok := e.progress.Jobs().Last(); ok {
		s.LastJob = &job
	}
	return s
}
