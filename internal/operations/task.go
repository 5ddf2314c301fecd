package operations

import (
	"context"
	"time"

	"github.com/tstore/tstore-desktop/internal/progress"
)

// Kind names a backend operation.
type Kind string

const (
	KindUpload            Kind = "upload"
	KindDownload          Kind = "download"
	KindOffload           Kind = "offload"
	KindDelete            Kind = "delete"
	KindUpdateDescription Kind = "updateDescription"
)

// UploadKey is the fixed key for uploads. No file name exists before the
// upload finishes, so only one upload can be in flight.
const UploadKey = "upload"

// Label is the human-readable action name used in notifications.
func (k Kind) Label() string {
	switch k {
	case KindUpload:
		return "Upload"
	case KindDownload:
		return "Download"
	case KindOffload:
		return "Offload"
	case KindDelete:
		return "Delete"
	case KindUpdateDescription:
		return "Description update"
	default:
		return string(k)
	}
}

// RunFunc performs the backend request for a task.
type RunFunc func(ctx context.Context) error

type taskKey struct {
	kind Kind
	key  string
}

// Task is one in-flight or settled operation.
type Task struct {
	ID        string
	Kind      Kind
	Key       string
	StartedAt time.Time

	sub       *progress.Subscription
	done      chan struct{}
	refreshed <-chan struct{}
	err       error
}

// Done is closed once the task has settled and its key has been released.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task settles or ctx ends. Cancelling ctx does not
// cancel the backend request.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the task's progress subscription, or nil for kinds
// without a progress channel.
func (t *Task) Progress() *progress.Subscription {
	return t.sub
}

// Detach releases the progress subscription early, as when the view showing
// it is torn down. The task itself keeps running.
func (t *Task) Detach() {
	if t.sub != nil {
		t.sub.Dispose()
	}
}

// Refreshed is closed once the registry refetch triggered by a successful
// task has finished. For failed tasks it is closed when the task settles.
func (t *Task) Refreshed() <-chan struct{} {
	<-t.done
	return t.refreshed
}
