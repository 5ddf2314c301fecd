// Package events provides the in-process event bus that carries backend
// progress, sync job lifecycle, file-set changes, operation outcomes and
// notifications to every client-side consumer.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tstore/tstore-desktop/internal/constants"
	"github.com/tstore/tstore-desktop/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Transfer progress pushed by the backend, keyed by channel and correlation key
	EventProgress EventType = "progress"

	// Sync job lifecycle pushed by the backend
	EventSyncStart    EventType = "sync_start"
	EventSyncProgress EventType = "sync_progress"
	EventSyncSuccess  EventType = "sync_success"
	EventSyncError    EventType = "sync_error"

	// Observed sync job slot changed (derived from the four events above)
	EventSyncJobChanged EventType = "sync_job_changed"

	// File-set change notifications pushed by the backend
	EventFileRenamed EventType = "file_renamed"
	EventFileRemoved EventType = "file_removed"

	// Operation coordinator task lifecycle
	EventOperationStarted   EventType = "operation_started"
	EventOperationSucceeded EventType = "operation_succeeded"
	EventOperationFailed    EventType = "operation_failed"

	// User-visible notification
	EventNotification EventType = "notification"

	EventLog EventType = "log"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ProgressEvent is a percentage reading for one correlation key.
// Channel is "upload" or "download"; Key is the file name ("" for upload).
type ProgressEvent struct {
	BaseEvent
	Channel    string
	Key        string
	Percentage float64 // 0 to 100
}

// SyncEvent is a raw sync job lifecycle notification from the backend.
type SyncEvent struct {
	BaseEvent
	JobName    string
	Percentage float64
	Message    string
}

// SyncJobEvent reports the observed sync job slot after a transition.
// Active is false once the slot has been cleared by success or error.
type SyncJobEvent struct {
	BaseEvent
	Job    models.SyncJob
	Active bool
}

// FileSetEvent reports that the backend renamed or removed a file.
type FileSetEvent struct {
	BaseEvent
	Name    string
	NewName string // only set for renames
}

// OperationEvent reports a coordinator task transition.
type OperationEvent struct {
	BaseEvent
	TaskID string
	Kind   string
	Key    string
	Error  error
}

// NotificationEvent is a transient user-visible message.
type NotificationEvent struct {
	BaseEvent
	Level   LogLevel
	Title   string
	Message string
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Source  string
	Error   error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	return eb.SubscribeMany(eventType)
}

// SubscribeMany creates one subscription channel that receives every listed
// event type. Remove it with UnsubscribeAll.
func (eb *EventBus) SubscribeMany(eventTypes ...EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	for _, et := range eventTypes {
		eb.subscribers[et] = append(eb.subscribers[et], ch)
	}
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// Events for a subscriber whose buffer is full are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	// A SubscribeMany channel may be registered under several types
	seen := make(map[chan Event]bool)
	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, source string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{
			EventType: EventLog,
			Time:      time.Now(),
		},
		Level:   level,
		Message: message,
		Source:  source,
		Error:   err,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			// Remove channel by replacing with last element and truncating
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
// Use this when cleaning up a subscriber that subscribed to multiple event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
