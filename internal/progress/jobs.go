package progress

import (
	"sync"
	"time"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/models"
)

// JobTracker holds the single observed sync job slot.
type JobTracker struct {
	bus *events.EventBus

	mu      sync.RWMutex
	current *models.SyncJob
	last    *models.SyncJob
}

// NewJobTracker creates an empty tracker. bus may be nil.
func NewJobTracker(bus *events.EventBus) *JobTracker {
	return &JobTracker{bus: bus}
}

// Current returns the running job, if any.
func (t *JobTracker) Current() (models.SyncJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return models.SyncJob{}, false
	}
	return *t.current, true
}

// Last returns the most recently finished job, if any.
func (t *JobTracker) Last() (models.SyncJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return models.SyncJob{}, false
	}
	return *t.last, true
}

// Handle applies one lifecycle event. It reports whether the slot changed.
// A start always re-arms the slot at 0%, even for a job already running.
// Progress, success and error for a job other than the current one are ignored.
func (t *JobTracker) Handle(ev *events.SyncEvent) bool {
	t.mu.Lock()

	now := ev.Timestamp()
	if now.IsZero() {
		now = time.Now()
	}

	switch ev.Type() {
	case events.EventSyncStart:
		t.current = &models.SyncJob{
			Name:      ev.JobName,
			State:     models.JobRunning,
			StartedAt: now,
		}

	case events.EventSyncProgress:
		if !t.matchesLocked(ev.JobName) {
			t.mu.Unlock()
			return false
		}
		pct, ok := clamp(ev.Percentage)
		if !ok {
			t.mu.Unlock()
			return false
		}
		t.current.Percentage = pct

	case events.EventSyncSuccess, events.EventSyncError:
		if !t.matchesLocked(ev.JobName) {
			t.mu.Unlock()
			return false
		}
		done := *t.current
		done.FinishedAt = now
		done.Message = ev.Message
		if ev.Type() == events.EventSyncSuccess {
			done.State = models.JobSucceeded
			done.Percentage = 100
		} else {
			done.State = models.JobFailed
		}
		t.last = &done
		t.current = nil

	default:
		t.mu.Unlock()
		return false
	}

	job, active := t.snapshotLocked()
	t.mu.Unlock()

	t.publish(job, active)
	return true
}

func (t *JobTracker) matchesLocked(name string) bool {
	return t.current != nil && t.current.Name == name
}

func (t *JobTracker) snapshotLocked() (models.SyncJob, bool) {
	if t.current != nil {
		return *t.current, true
	}
	if t.last != nil {
		return *t.last, false
	}
	return models.SyncJob{State: models.JobIdle}, false
}

func (t *JobTracker) publish(job models.SyncJob, active bool) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(&events.SyncJobEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventSyncJobChanged, Time: time.Now()},
		Job:       job,
		Active:    active,
	})
}
