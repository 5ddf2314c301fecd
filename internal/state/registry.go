package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/tstore/tstore-desktop/internal/constants"
	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/logging"
	"github.com/tstore/tstore-desktop/internal/models"
)

// Fetcher loads the full file list. gateway.Backend satisfies it.
type Fetcher interface {
	FetchMetadata(ctx context.Context) ([]models.FileRecord, error)
}

// Notifier receives refresh failures.
type Notifier interface {
	Warn(title, message string)
}

const refreshKey = "refresh"

// Registry holds the last successfully fetched file list together with the
// focus and checked-row selection. The snapshot is only ever replaced whole.
// Thread-safe for concurrent access.
type Registry struct {
	fetcher  Fetcher
	eventBus *events.EventBus
	notifier Notifier
	logger   *logging.Logger

	coalesce     time.Duration
	fetchTimeout time.Duration

	// pubMu is held across a state change and its events so subscribers
	// see events in the order the changes were applied.
	pubMu sync.Mutex

	mu          sync.RWMutex
	records     []models.FileRecord
	totals      models.Totals
	focused     string
	hasFocus    bool
	checked     map[string]struct{}
	lastError   error
	lastRefresh time.Time
	appliedSeq  uint64

	flight   singleflight.Group
	fetchSeq atomic.Uint64

	invMu   sync.Mutex
	gen     uint64
	waiters []waiter
	looping bool
}

type waiter struct {
	gen  uint64
	done chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithCoalesceWindow sets how long Invalidate waits to gather further invalidations.
func WithCoalesceWindow(d time.Duration) Option {
	return func(r *Registry) { r.coalesce = d }
}

// WithFetchTimeout bounds a single metadata fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Registry) { r.fetchTimeout = d }
}

// WithNotifier reports refresh failures to n.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry. Nothing is fetched until Refresh
// or Invalidate is called.
func NewRegistry(fetcher Fetcher, eventBus *events.EventBus, opts ...Option) *Registry {
	r := &Registry{
		fetcher:      fetcher,
		eventBus:     eventBus,
		coalesce:     constants.RefreshCoalesceWindow,
		fetchTimeout: constants.RefreshTimeout,
		records:      make([]models.FileRecord, 0),
		checked:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NewNopLogger()
	}
	return r
}

// Snapshot returns a copy of the last successfully fetched list, in backend order.
func (r *Registry) Snapshot() []models.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneRecords(r.records)
}

// Count returns the number of records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Totals returns aggregates over the current snapshot.
func (r *Registry) Totals() models.Totals {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totals
}

// Find returns the record named name.
func (r *Registry) Find(name string) (models.FileRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := lo.Find(r.records, func(rec models.FileRecord) bool {
		return rec.Name == name
	})
	if !ok {
		return models.FileRecord{}, false
	}
	return rec.Clone(), true
}

// Filter returns records whose name contains substr, ignoring case.
// An empty substr matches everything.
func (r *Registry) Filter(substr string) []models.FileRecord {
	needle := strings.ToLower(substr)

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := lo.Filter(r.records, func(rec models.FileRecord, _ int) bool {
		return strings.Contains(strings.ToLower(rec.Name), needle)
	})
	return cloneRecords(matched)
}

// LastError returns the error from the most recent refresh, or nil if it succeeded.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastError
}

// LastRefresh returns when the snapshot was last replaced.
func (r *Registry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}

// Refresh fetches the full list now. Concurrent callers share one fetch.
// On failure the previous snapshot is kept.
func (r *Registry) Refresh(ctx context.Context) error {
	ch := r.flight.DoChan(refreshKey, func() (interface{}, error) {
		return nil, r.fetch()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate schedules a refetch. Invalidations that arrive within the
// coalesce window, or while the scheduled fetch is running, fold into a
// single follow-up fetch. The returned channel is closed once a fetch that
// started after this call has finished, successfully or not.
func (r *Registry) Invalidate() <-chan struct{} {
	done := make(chan struct{})

	r.invMu.Lock()
	r.gen++
	r.waiters = append(r.waiters, waiter{gen: r.gen, done: done})
	if !r.looping {
		r.looping = true
		go r.invalidateLoop()
	}
	r.invMu.Unlock()

	return done
}

func (r *Registry) invalidateLoop() {
	for {
		if r.coalesce > 0 {
			time.Sleep(r.coalesce)
		}

		r.invMu.Lock()
		covered := r.gen
		r.invMu.Unlock()

		// A fetch already in flight may predate the invalidation; start a new one.
		r.flight.Forget(refreshKey)
		if err := r.Refresh(context.Background()); err != nil {
			r.logger.Debug().Err(err).Msg("Invalidation refresh failed")
		}

		r.invMu.Lock()
		pending := r.waiters[:0]
		for _, w := range r.waiters {
			if w.gen <= covered {
				close(w.done)
			} else {
				pending = append(pending, w)
			}
		}
		r.waiters = pending

		if r.gen == covered {
			r.looping = false
			r.invMu.Unlock()
			return
		}
		r.invMu.Unlock()
	}
}

func (r *Registry) fetch() error {
	seq := r.fetchSeq.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	defer cancel()

	start := time.Now()
	records, err := r.fetcher.FetchMetadata(ctx)
	if err != nil {
		r.mu.Lock()
		r.lastError = err
		r.mu.Unlock()

		r.logger.Warn().Err(err).Msg("File list refresh failed, keeping previous snapshot")
		if r.eventBus != nil {
			r.eventBus.Publish(NewFileListErrorEvent(err))
		}
		if r.notifier != nil {
			r.notifier.Warn("Refresh failed", err.Error())
		}
		return fmt.Errorf("refresh file list: %w", err)
	}

	r.apply(seq, records)
	r.logger.Debug().
		Int("files", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("File list refreshed")
	return nil
}

// apply replaces the snapshot unless a newer fetch already landed.
func (r *Registry) apply(seq uint64, records []models.FileRecord) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	if seq < r.appliedSeq {
		r.mu.Unlock()
		return
	}
	r.appliedSeq = seq

	r.records = cloneRecords(records)
	r.totals = models.ComputeTotals(r.records)
	r.lastError = nil
	r.lastRefresh = time.Now()

	present := lo.KeyBy(r.records, func(rec models.FileRecord) string { return rec.Name })

	focusCleared := false
	if r.hasFocus {
		if _, ok := present[r.focused]; !ok {
			r.hasFocus = false
			r.focused = ""
			focusCleared = true
		}
	}

	before := len(r.checked)
	r.checked = lo.PickBy(r.checked, func(name string, _ struct{}) bool {
		_, ok := present[name]
		return ok
	})
	pruned := len(r.checked) != before

	snapshot := cloneRecords(r.records)
	totals := r.totals
	checked := r.checkedLocked()
	r.mu.Unlock()

	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(NewFileListChangedEvent(snapshot, totals))
	if focusCleared {
		r.eventBus.Publish(NewFocusChangedEvent("", false))
	}
	if pruned {
		r.eventBus.Publish(NewSelectionChangedEvent(checked))
	}
}

// Select applies the toggle rule: selecting the focused file clears focus,
// selecting any other known file focuses it, and "" clears focus.
// Names not in the snapshot are ignored.
func (r *Registry) Select(name string) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	switch {
	case name == "" || (r.hasFocus && r.focused == name):
		if !r.hasFocus {
			r.mu.Unlock()
			return
		}
		r.hasFocus = false
		r.focused = ""
	default:
		if !r.containsLocked(name) {
			r.mu.Unlock()
			return
		}
		r.hasFocus = true
		r.focused = name
	}
	focused, has := r.focused, r.hasFocus
	r.mu.Unlock()

	if r.eventBus != nil {
		r.eventBus.Publish(NewFocusChangedEvent(focused, has))
	}
}

// SelectNone clears focus.
func (r *Registry) SelectNone() {
	r.Select("")
}

// Focused returns the focused file name.
func (r *Registry) Focused() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused, r.hasFocus
}

// SetChecked adds or removes one name from the checked set. Checking a name
// that is not in the snapshot is ignored.
func (r *Registry) SetChecked(name string, checked bool) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	_, was := r.checked[name]
	if checked == was {
		r.mu.Unlock()
		return
	}
	if checked {
		if !r.containsLocked(name) {
			r.mu.Unlock()
			return
		}
		r.checked[name] = struct{}{}
	} else {
		delete(r.checked, name)
	}
	ids := r.checkedLocked()
	r.mu.Unlock()

	if r.eventBus != nil {
		r.eventBus.Publish(NewSelectionChangedEvent(ids))
	}
}

// ClearChecked empties the checked set in one step.
func (r *Registry) ClearChecked() {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	r.checked = make(map[string]struct{})
	r.mu.Unlock()

	if r.eventBus != nil {
		r.eventBus.Publish(NewSelectionChangedEvent([]string{}))
	}
}

// Checked returns the checked names, sorted.
func (r *Registry) Checked() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkedLocked()
}

// IsChecked returns whether name is checked.
func (r *Registry) IsChecked(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.checked[name]
	return ok
}

// CheckedCount returns the number of checked names.
func (r *Registry) CheckedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checked)
}

// checkedLocked returns sorted checked names (must hold lock).
func (r *Registry) checkedLocked() []string {
	ids := lo.Keys(r.checked)
	sort.Strings(ids)
	return ids
}

// containsLocked reports whether name is in the snapshot (must hold lock).
func (r *Registry) containsLocked(name string) bool {
	return lo.ContainsBy(r.records, func(rec models.FileRecord) bool {
		return rec.Name == name
	})
}

func cloneRecords(records []models.FileRecord) []models.FileRecord {
	return lo.Map(records, func(rec models.FileRecord, _ int) models.FileRecord {
		return rec.Clone()
	})
}
