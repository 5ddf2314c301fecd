// Package progress routes pushed progress readings to the views that display
// them. Per-transfer readings go to scoped subscriptions keyed by channel and
// correlation key; sync job lifecycle events go to a single job slot.
package progress

import (
	"fmt"
	"math"
	"sync"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/logging"
)

type route struct {
	channel gateway.Channel
	key     string
}

// Subscription is the scoped handle for one operation's progress.
// It is safe to call Dispose from several goroutines; only the first call acts.
type Subscription struct {
	m     *Manager
	route route

	mu       sync.Mutex
	latest   float64
	disposed bool
	updates  chan float64
	once     sync.Once
}

// Channel returns the progress channel this subscription listens on.
func (s *Subscription) Channel() gateway.Channel { return s.route.channel }

// Key returns the correlation key.
func (s *Subscription) Key() string { return s.route.key }

// Latest returns the last reading, or 0 before the first one and after Dispose.
func (s *Subscription) Latest() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Updates delivers readings as they arrive. Readings are coalesced: a slow
// consumer sees the most recent value, not every value. Closed on Dispose.
func (s *Subscription) Updates() <-chan float64 {
	return s.updates
}

// Disposed reports whether Dispose has run.
func (s *Subscription) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose detaches the subscription from routing and resets Latest to 0.
func (s *Subscription) Dispose() {
	s.once.Do(func() {
		s.m.remove(s)

		s.mu.Lock()
		s.disposed = true
		s.latest = 0
		// An unread reading must not reach consumers after disposal
		select {
		case <-s.updates:
		default:
		}
		close(s.updates)
		s.mu.Unlock()
	})
}

func (s *Subscription) set(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.latest = v

	// Replace any unread value with the newer one
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
}

// Manager owns all live subscriptions and the sync job slot.
type Manager struct {
	bus    *events.EventBus
	logger *logging.Logger
	jobs   *JobTracker

	mu     sync.RWMutex
	routes map[route]map[*Subscription]struct{}

	subscription <-chan events.Event
	stopC        chan struct{}
	wg           sync.WaitGroup
	lifecycle    sync.Mutex
	started      bool
}

// NewManager creates a manager. Call Start to consume events from bus, or feed
// events directly through Handle.
func NewManager(bus *events.EventBus, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		bus:    bus,
		logger: logger,
		jobs:   NewJobTracker(bus),
		routes: make(map[route]map[*Subscription]struct{}),
	}
}

// Jobs returns the sync job tracker.
func (m *Manager) Jobs() *JobTracker {
	return m.jobs
}

// Subscribe opens a subscription for (channel, key). A new subscription always
// starts at 0 even if an earlier operation on the same key left a reading.
func (m *Manager) Subscribe(channel gateway.Channel, key string) *Subscription {
	s := &Subscription{
		m:       m,
		route:   route{channel: channel, key: key},
		updates: make(chan float64, 1),
	}

	m.mu.Lock()
	set := m.routes[s.route]
	if set == nil {
		set = make(map[*Subscription]struct{})
		m.routes[s.route] = set
	}
	set[s] = struct{}{}
	m.mu.Unlock()

	return s
}

func (m *Manager) remove(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.routes[s.route]
	delete(set, s)
	if len(set) == 0 {
		delete(m.routes, s.route)
	}
}

// ActiveSubscriptions returns the number of undisposed subscriptions.
func (m *Manager) ActiveSubscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.routes {
		n += len(set)
	}
	return n
}

// Handle routes one event. Progress for keys nobody subscribed to is dropped.
func (m *Manager) Handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.ProgressEvent:
		pct, ok := clamp(e.Percentage)
		if !ok {
			m.logger.Debug().Str("key", e.Key).Msg("Ignoring non-numeric progress reading")
			return
		}

		m.mu.RLock()
		set := m.routes[route{channel: gateway.Channel(e.Channel), key: e.Key}]
		subs := make([]*Subscription, 0, len(set))
		for s := range set {
			subs = append(subs, s)
		}
		m.mu.RUnlock()

		for _, s := range subs {
			s.set(pct)
		}

	case *events.SyncEvent:
		m.jobs.Handle(e)
	}
}

// Start subscribes to the bus and handles events until Stop.
func (m *Manager) Start() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.started {
		m.logger.Warn().Msg("Progress manager already started, ignoring duplicate Start()")
		return nil
	}
	if m.bus == nil {
		return fmt.Errorf("progress manager: no event bus")
	}

	m.subscription = m.bus.SubscribeMany(
		events.EventProgress,
		events.EventSyncStart,
		events.EventSyncProgress,
		events.EventSyncSuccess,
		events.EventSyncError,
	)
	m.stopC = make(chan struct{})
	m.started = true

	m.wg.Add(1)
	go m.forwardLoop(m.subscription, m.stopC)
	return nil
}

// Stop ends the forward loop. Live subscriptions are left as they are.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	if !m.started {
		m.lifecycle.Unlock()
		return
	}
	m.started = false
	sub := m.subscription
	stopC := m.stopC
	m.lifecycle.Unlock()

	close(stopC)
	m.wg.Wait()
	m.bus.UnsubscribeAll(sub)
}

func (m *Manager) forwardLoop(sub <-chan events.Event, stopC <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			m.Handle(ev)
		case <-stopC:
			return
		}
	}
}

func clamp(v float64) (float64, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	if v < 0 {
		return 0, true
	}
	if v > 100 {
		return 100, true
	}
	return v, true
}
