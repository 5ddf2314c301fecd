package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/models"
)

func syncEvent(t events.EventType, job string, pct float64, msg string) *events.SyncEvent {
	return &events.SyncEvent{
		BaseEvent:  events.BaseEvent{EventType: t, Time: time.Now()},
		JobName:    job,
		Percentage: pct,
		Message:    msg,
	}
}

func TestJobTracker_Lifecycle(t *testing.T) {
	tr := NewJobTracker(nil)

	_, ok := tr.Current()
	assert.False(t, ok)

	assert.True(t, tr.Handle(syncEvent(events.EventSyncStart, "nightly", 0, "")))
	job, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, "nightly", job.Name)
	assert.Equal(t, models.JobRunning, job.State)
	assert.Equal(t, 0.0, job.Percentage)

	assert.True(t, tr.Handle(syncEvent(events.EventSyncProgress, "nightly", 40, "")))
	job, _ = tr.Current()
	assert.Equal(t, 40.0, job.Percentage)

	assert.True(t, tr.Handle(syncEvent(events.EventSyncSuccess, "nightly", 0, "")))
	_, ok = tr.Current()
	assert.False(t, ok)

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, models.JobSucceeded, last.State)
	assert.Equal(t, 100.0, last.Percentage)
	assert.False(t, last.FinishedAt.IsZero())
}

func TestJobTracker_Error(t *testing.T) {
	tr := NewJobTracker(nil)
	tr.Handle(syncEvent(events.EventSyncStart, "nightly", 0, ""))
	tr.Handle(syncEvent(events.EventSyncProgress, "nightly", 60, ""))
	tr.Handle(syncEvent(events.EventSyncError, "nightly", 0, "telegram rate limit"))

	_, ok := tr.Current()
	assert.False(t, ok)

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, models.JobFailed, last.State)
	assert.Equal(t, "telegram rate limit", last.Message)
	assert.Equal(t, 60.0, last.Percentage)
}

func TestJobTracker_DuplicateStartRearms(t *testing.T) {
	tr := NewJobTracker(nil)
	tr.Handle(syncEvent(events.EventSyncStart, "nightly", 0, ""))
	tr.Handle(syncEvent(events.EventSyncProgress, "nightly", 75, ""))

	assert.True(t, tr.Handle(syncEvent(events.EventSyncStart, "nightly", 0, "")))
	job, _ := tr.Current()
	assert.Equal(t, 0.0, job.Percentage)

	// A start for a different job replaces the slot
	tr.Handle(syncEvent(events.EventSyncStart, "hourly", 0, ""))
	job, _ = tr.Current()
	assert.Equal(t, "hourly", job.Name)
}

func TestJobTracker_AnomaliesIgnored(t *testing.T) {
	tr := NewJobTracker(nil)

	// Nothing running
	assert.False(t, tr.Handle(syncEvent(events.EventSyncProgress, "nightly", 10, "")))
	assert.False(t, tr.Handle(syncEvent(events.EventSyncSuccess, "nightly", 0, "")))
	_, ok := tr.Last()
	assert.False(t, ok)

	tr.Handle(syncEvent(events.EventSyncStart, "nightly", 0, ""))

	// Wrong job name
	assert.False(t, tr.Handle(syncEvent(events.EventSyncProgress, "other", 10, "")))
	assert.False(t, tr.Handle(syncEvent(events.EventSyncError, "other", 0, "x")))

	job, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, 0.0, job.Percentage)
}

func TestJobTracker_PublishesChanges(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventSyncJobChanged)

	tr := NewJobTracker(bus)
	tr.Handle(syncEvent(events.EventSyncStart, "nightly", 0, ""))
	tr.Handle(syncEvent(events.EventSyncSuccess, "nightly", 0, ""))

	first := (<-ch).(*events.SyncJobEvent)
	assert.True(t, first.Active)
	assert.Equal(t, models.JobRunning, first.Job.State)

	second := (<-ch).(*events.SyncJobEvent)
	assert.False(t, second.Active)
	assert.Equal(t, models.JobSucceeded, second.Job.State)
}
