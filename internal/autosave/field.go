// Package autosave implements a text field that commits its value after a
// quiet period, or immediately when it loses focus.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tstore/tstore-desktop/internal/constants"
	"github.com/tstore/tstore-desktop/internal/logging"
)

// ErrClosed is returned by Rebind on a closed field.
var ErrClosed = errors.New("autosave field closed")

// CommitFunc persists value for key.
type CommitFunc func(ctx context.Context, key, value string) error

// Field buffers edits to one keyed value. At most one commit timer is armed
// at a time, and commits are serialized so a later value never lands before
// an earlier one.
type Field struct {
	delay   time.Duration
	timeout time.Duration
	commit  CommitFunc
	onError func(key string, err error)
	logger  *logging.Logger

	// commitMu is held across a commit so commits land in claim order
	commitMu sync.Mutex

	mu     sync.Mutex
	key    string
	value  string
	dirty  bool
	closed bool
	timer  *time.Timer
	seq    uint64
}

// Option configures a Field.
type Option func(*Field)

// WithDelay sets the quiet period before a timed commit.
func WithDelay(d time.Duration) Option {
	return func(f *Field) {
		if d > 0 {
			f.delay = d
		}
	}
}

// WithTimeout bounds each commit call.
func WithTimeout(d time.Duration) Option {
	return func(f *Field) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithErrorHandler receives every commit failure, timed or explicit.
func WithErrorHandler(h func(key string, err error)) Option {
	return func(f *Field) { f.onError = h }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Field) { f.logger = l }
}

// New returns a clean field showing initial for key.
func New(key, initial string, commit CommitFunc, opts ...Option) *Field {
	f := &Field{
		delay:   constants.DescriptionAutosaveDelay,
		timeout: constants.RequestTimeout,
		commit:  commit,
		key:     key,
		value:   initial,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.NewNopLogger()
	}
	return f
}

// OnChange records an edit. The new value is visible through Value at once;
// the commit timer restarts.
func (f *Field) OnChange(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	f.value = v
	f.dirty = true
	f.seq++
	if f.timer != nil {
		f.timer.Stop()
	}
	seq := f.seq
	f.timer = time.AfterFunc(f.delay, func() { f.fire(seq) })
}

// OnBlur commits the buffered value now if it differs from the last commit.
func (f *Field) OnBlur() error {
	return f.flush(nil)
}

// Rebind flushes pending edits for the current key, then shows initial for key.
// The error, if any, belongs to the previous key.
func (f *Field) Rebind(key, initial string) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return f.flush(func() {
		f.key = key
		f.value = initial
		f.dirty = false
	})
}

// Close flushes pending edits and makes the field inert.
func (f *Field) Close() error {
	return f.flush(func() {
		f.closed = true
	})
}

// Key returns the bound key.
func (f *Field) Key() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key
}

// Value returns the displayed value.
func (f *Field) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Dirty reports whether the displayed value has not been committed.
func (f *Field) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

// Delay returns the quiet period.
func (f *Field) Delay() time.Duration {
	return f.delay
}

func (f *Field) fire(seq uint64) {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	f.mu.Lock()
	if seq != f.seq || f.closed || !f.dirty {
		f.mu.Unlock()
		return
	}
	key, value := f.claimLocked()
	f.mu.Unlock()

	f.logger.Debug().Str("key", key).Msg("Autosave timer fired")
	_ = f.run(key, value)
}

// flush commits a dirty value synchronously. after runs under the field lock
// once the value is claimed, before the commit is issued.
func (f *Field) flush(after func()) error {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.seq++

	dirty := f.dirty && !f.closed
	var key, value string
	if dirty {
		key, value = f.claimLocked()
	}
	if after != nil {
		after()
	}
	f.mu.Unlock()

	if !dirty {
		return nil
	}
	return f.run(key, value)
}

func (f *Field) claimLocked() (string, string) {
	f.dirty = false
	return f.key, f.value
}

func (f *Field) run(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	err := f.commit(ctx, key, value)
	if err == nil {
		return nil
	}

	f.mu.Lock()
	// Keep the echo; the next blur retries it
	if !f.closed && f.key == key && f.value == value {
		f.dirty = true
	}
	f.mu.Unlock()

	f.logger.Warn().Err(err).Str("key", key).Msg("Autosave commit failed")
	if f.onError != nil {
		f.onError(key, err)
	}
	return err
}
