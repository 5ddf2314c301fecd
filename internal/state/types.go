// Package state provides the observable file registry and selection store.
// Containers emit events when state changes, allowing any frontend to
// subscribe and update its view accordingly.
package state

import (
	"time"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/models"
)

// State event types
const (
	EventFileListChanged  events.EventType = "file_list_changed"
	EventFileListError    events.EventType = "file_list_error"
	EventSelectionChanged events.EventType = "selection_changed"
	EventFocusChanged     events.EventType = "focus_changed"
)

// FileListChangedEvent is published after every successful refresh.
type FileListChangedEvent struct {
	events.BaseEvent
	Records []models.FileRecord
	Totals  models.Totals
}

// FileListErrorEvent is published when a refresh fails. The previous
// snapshot stays in place.
type FileListErrorEvent struct {
	events.BaseEvent
	Error error
}

// SelectionChangedEvent is published when the checked set changes.
type SelectionChangedEvent struct {
	events.BaseEvent
	Checked []string
}

// FocusChangedEvent is published when the focused file changes.
// Focused is false when focus was cleared.
type FocusChangedEvent struct {
	events.BaseEvent
	Name    string
	Focused bool
}

// NewFileListChangedEvent creates a new FileListChangedEvent.
func NewFileListChangedEvent(records []models.FileRecord, totals models.Totals) *FileListChangedEvent {
	return &FileListChangedEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventFileListChanged,
			Time:      time.Now(),
		},
		Records: records,
		Totals:  totals,
	}
}

// NewFileListErrorEvent creates a new FileListErrorEvent.
func NewFileListErrorEvent(err error) *FileListErrorEvent {
	return &FileListErrorEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventFileListError,
			Time:      time.Now(),
		},
		Error: err,
	}
}

// NewSelectionChangedEvent creates a new SelectionChangedEvent.
func NewSelectionChangedEvent(checked []string) *SelectionChangedEvent {
	return &SelectionChangedEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventSelectionChanged,
			Time:      time.Now(),
		},
		Checked: checked,
	}
}

// NewFocusChangedEvent creates a new FocusChangedEvent.
func NewFocusChangedEvent(name string, focused bool) *FocusChangedEvent {
	return &FocusChangedEvent{
		BaseEvent: events.BaseEvent{
			EventType: EventFocusChanged,
			Time:      time.Now(),
		},
		Name:    name,
		Focused: focused,
	}
}
