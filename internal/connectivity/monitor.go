// Package connectivity tracks whether the terminal can currently reach the
// Sales Backend and notifies subscribers on every transition.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Probe reports whether the backend is reachable right now.
type Probe func(ctx context.Context) bool

// Monitor is the single source of truth for online/offline state. A probe
// loop drives transitions; Report accepts host-driven signals. Repeated
// identical observations do not re-emit, so subscribers see each
// offline→online transition exactly once.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	state       string
	nextID      int
	subscribers map[int]func(state string)

	stopOnce sync.Once
	stop     chan struct{}
}

func New(probe Probe, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		probe:       probe,
		interval:    interval,
		logger:      logger,
		state:       StateOffline,
		subscribers: make(map[int]func(string)),
		stop:        make(chan struct{}),
	}
}

func (m *Monitor) CurrentState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Online() bool {
	return m.CurrentState() == StateOnline
}

// Subscribe registers a handler invoked with the new state on every
// transition. The returned func cancels the subscription. Handlers run
// outside the monitor lock; a panicking handler is recovered so it cannot
// take down the monitor or other subscribers.
func (m *Monitor) Subscribe(handler func(state string)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Report feeds an observed connectivity signal into the monitor. It is the
// transition point: state changes are applied and published here.
func (m *Monitor) Report(online bool) {
	next := StateOffline
	if online {
		next = StateOnline
	}

	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	handlers := make([]func(string), 0, len(m.subscribers))
	for _, handler := range m.subscribers {
		handlers = append(handlers, handler)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.String("state", next))
	for _, handler := range handlers {
		m.invoke(handler, next)
	}
}

func (m *Monitor) invoke(handler func(string), state string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity subscriber panicked", zap.Any("panic", r))
		}
	}()
	handler(state)
}

// Start runs the probe loop until Stop or ctx cancellation. The first probe
// runs immediately so startup state reflects real connectivity.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}

	m.Report(m.probe(ctx))

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Report(m.probe(ctx))
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
