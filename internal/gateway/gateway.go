// Package gateway defines the contract between the client state layer and the
// tstore backend process: request/response operations, the push event stream,
// and the mapping from wire event names to correlation keys.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/models"
)

// ErrNotFound is returned by backends when the named file has no record.
var ErrNotFound = errors.New("file not found")

// Backend is every request the client issues to the backend process.
// All calls may fail; none are retried by the caller.
type Backend interface {
	// FetchMetadata returns the full ordered file list.
	FetchMetadata(ctx context.Context) ([]models.FileRecord, error)

	// Upload stores the local file at path. Progress is pushed on the upload channel.
	Upload(ctx context.Context, path string) error

	// Download restores a Cloud file locally. Progress is pushed on the download channel keyed by name.
	Download(ctx context.Context, name string) error

	// Offload drops the local copy, leaving the file in Cloud.
	Offload(ctx context.Context, name string) error

	Delete(ctx context.Context, name string) error
	UpdateDescription(ctx context.Context, name, text string) error

	GetConfig(ctx context.Context) (models.Config, error)
	UpdateConfig(ctx context.Context, cfg models.Config) error

	// SelectFile and SelectDirectory open interactive choosers on the backend
	// side. An empty path means the user cancelled.
	SelectFile(ctx context.Context) (string, error)
	SelectDirectory(ctx context.Context) (string, error)

	// Events streams push notifications until ctx is cancelled or the
	// backend goes away, at which point the channel is closed.
	Events(ctx context.Context) (<-chan Event, error)
}

// Channel identifies a progress stream.
type Channel string

const (
	ChannelUpload   Channel = "upload"
	ChannelDownload Channel = "download"
)

// Wire event names, as emitted by the backend.
const (
	EventUploadProgress         = "uploadProgress"
	EventDownloadProgressPrefix = "downloadProgress/"
	EventSyncStart              = "syncStart"
	EventSyncProgress           = "syncProgress"
	EventSyncSuccess            = "syncSuccess"
	EventSyncError              = "syncError"
	EventFileRenamed            = "fileRenamed"
	EventFileRemoved            = "fileRemoved"
)

// Event is one push notification from the backend.
type Event struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage,omitempty"`
	Job        string  `json:"job,omitempty"`
	Message    string  `json:"message,omitempty"`
	File       string  `json:"file,omitempty"`
	NewName    string  `json:"new_name,omitempty"`
}

// DownloadEventName returns the wire name carrying download progress for name.
func DownloadEventName(name string) string {
	return EventDownloadProgressPrefix + name
}

// UploadProgress builds an upload progress event.
func UploadProgress(pct float64) Event {
	return Event{Name: EventUploadProgress, Percentage: pct}
}

// DownloadProgress builds a download progress event for name.
func DownloadProgress(name string, pct float64) Event {
	return Event{Name: DownloadEventName(name), Percentage: pct}
}

// ParseEventName extracts the progress channel and correlation key from a
// wire event name. Upload progress has the empty key. ok is false for
// non-progress events and for a download name with no file part.
func ParseEventName(name string) (ch Channel, key string, ok bool) {
	if name == EventUploadProgress {
		return ChannelUpload, "", true
	}
	if strings.HasPrefix(name, EventDownloadProgressPrefix) {
		key = strings.TrimPrefix(name, EventDownloadProgressPrefix)
		if key == "" {
			return "", "", false
		}
		return ChannelDownload, key, true
	}
	return "", "", false
}

// Translate converts a wire event into its bus form. Unknown names return
// ok=false and are dropped by callers.
func Translate(ev Event) (events.Event, bool) {
	now := time.Now()

	if ch, key, ok := ParseEventName(ev.Name); ok {
		return &events.ProgressEvent{
			BaseEvent:  events.BaseEvent{EventType: events.EventProgress, Time: now},
			Channel:    string(ch),
			Key:        key,
			Percentage: ev.Percentage,
		}, true
	}

	var syncType events.EventType
	switch ev.Name {
	case EventSyncStart:
		syncType = events.EventSyncStart
	case EventSyncProgress:
		syncType = events.EventSyncProgress
	case EventSyncSuccess:
		syncType = events.EventSyncSuccess
	case EventSyncError:
		syncType = events.EventSyncError
	case EventFileRenamed:
		return &events.FileSetEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventFileRenamed, Time: now},
			Name:      ev.File,
			NewName:   ev.NewName,
		}, true
	case EventFileRemoved:
		return &events.FileSetEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventFileRemoved, Time: now},
			Name:      ev.File,
		}, true
	default:
		return nil, false
	}

	return &events.SyncEvent{
		BaseEvent:  events.BaseEvent{EventType: syncType, Time: now},
		JobName:    ev.Job,
		Percentage: ev.Percentage,
		Message:    ev.Message,
	}, true
}
