// Package notify turns operation failures and other user-facing messages into
// notifications: an in-app feed on the event bus, a bounded history, and an
// optional desktop toast via github.com/gen2brain/beeep.
package notify

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/tstore/tstore-desktop/internal/constants"
	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/logging"
)

// Notification is one user-visible message.
type Notification struct {
	Level   events.LogLevel
	Title   string
	Message string
	Time    time.Time
}

// Notifier produces notifications.
type Notifier struct {
	logger  *logging.Logger
	bus     *events.EventBus
	enabled bool
	desktop bool
	history []Notification
	max     int
	mu      sync.RWMutex

	// send raises the desktop toast; replaced in tests.
	send func(title, message string) error
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are published and toasted.
	// History is recorded either way.
	Enabled bool

	// Desktop raises an OS toast for warnings and errors.
	Desktop bool

	// History is how many recent notifications are kept.
	History int
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Desktop: false, // Disabled by default to avoid spam
		History: constants.NotificationHistory,
	}
}

// NewNotifier creates a new notifier. bus and logger may be nil.
func NewNotifier(cfg *Config, bus *events.EventBus, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	max := cfg.History
	if max <= 0 {
		max = constants.NotificationHistory
	}

	return &Notifier{
		logger:  logger,
		bus:     bus,
		enabled: cfg.Enabled,
		desktop: cfg.Desktop,
		max:     max,
		send:    sendDesktop,
	}
}

// Failure reports that action on key failed. key may be empty (upload) or a path.
func (n *Notifier) Failure(action, key string, err error) {
	title := fmt.Sprintf("%s failed", action)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if key != "" {
		msg = fmt.Sprintf("%s: %s", shortenPath(key), msg)
	}

	n.logger.Warn().Str("action", action).Str("key", key).Err(err).Msg("Operation failed")
	n.emit(events.ErrorLevel, title, truncate(msg, 200))
}

// Info reports a non-error message.
func (n *Notifier) Info(title, message string) {
	n.emit(events.InfoLevel, title, message)
}

// Warn reports a recoverable problem, such as a failed refresh.
func (n *Notifier) Warn(title, message string) {
	n.emit(events.WarnLevel, title, message)
}

// Recent returns the retained notifications, oldest first.
func (n *Notifier) Recent() []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Notification, len(n.history))
	copy(out, n.history)
	return out
}

func (n *Notifier) emit(level events.LogLevel, title, message string) {
	now := time.Now()

	n.mu.Lock()
	n.history = append(n.history, Notification{Level: level, Title: title, Message: message, Time: now})
	if len(n.history) > n.max {
		n.history = n.history[len(n.history)-n.max:]
	}
	enabled, desktop := n.enabled, n.desktop
	send := n.send
	n.mu.Unlock()

	if !enabled {
		return
	}

	if n.bus != nil {
		n.bus.Publish(&events.NotificationEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventNotification, Time: now},
			Level:     level,
			Title:     title,
			Message:   message,
		})
	}

	if desktop && level >= events.WarnLevel {
		if err := send(title, message); err != nil {
			n.logger.Warn().Err(err).Str("title", title).Msg("Failed to send desktop notification")
		}
	}
}

// sendDesktop raises the toast.
func sendDesktop(title, message string) error {
	// beeep.Notify is cross-platform:
	// - Windows: Uses toast notifications
	// - macOS: Uses NSUserNotificationCenter
	// - Linux: Uses D-Bus notifications
	return beeep.Notify(constants.AppName+": "+title, message, "")
}

// truncate shortens s to at most maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	// Try to show drive/root + ... + last 2 path components
	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))

	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		runes := []rune(path)
		if len(runes) <= maxLen-3 {
			return "..." + path
		}
		return "..." + string(runes[len(runes)-(maxLen-3):])
	}

	return short
}

