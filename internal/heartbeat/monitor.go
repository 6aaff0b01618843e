// Package heartbeat watches for stalled monologues and dead memory
// backends, keeping a bounded ring of health records.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/itak-ai/itak/internal/memory"
	"github.com/itak-ai/itak/internal/ratelimit"
)

// healthRingSize bounds the retained health records.
const healthRingSize = 100

// Config tunes the monitor's cadence.
type Config struct {
	IntervalS          int `yaml:"interval_s"`
	StallTimeoutS      int `yaml:"stall_timeout_s"`
	ReconnectIntervalS int `yaml:"reconnect_interval_s"`
}

// DefaultConfig returns the default heartbeat cadence.
func DefaultConfig() Config {
	return Config{
		IntervalS:          30,
		StallTimeoutS:      120,
		ReconnectIntervalS: 300,
	}
}

// Record is one health snapshot.
type Record struct {
	Timestamp       time.Time     `json:"timestamp"`
	ActivityAge     time.Duration `json:"activity_age"`
	Stalled         bool          `json:"stalled"`
	MemoryConnected bool          `json:"memory_connected"`
	BudgetRemaining float64       `json:"budget_remaining"`
}

// Monitor ticks on an interval, alerting on stalls, reviving dead memory
// backends, and recording health. OnStall runs in the monitor goroutine;
// keep it fast (an emergency checkpoint save, typically).
type Monitor struct {
	config  Config
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	backend memory.Reconnector

	// OnStall is invoked once per detected stall.
	OnStall func()

	now func() time.Time

	mu            sync.Mutex
	lastActivity  time.Time
	lastReconnect time.Time
	ring          []Record

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates a monitor. limiter and backend may be nil.
func NewMonitor(config Config, limiter *ratelimit.Limiter, backend memory.Reconnector, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.IntervalS <= 0 {
		config.IntervalS = defaults.IntervalS
	}
	if config.StallTimeoutS <= 0 {
		config.StallTimeoutS = defaults.StallTimeoutS
	}
	if config.ReconnectIntervalS <= 0 {
		config.ReconnectIntervalS = defaults.ReconnectIntervalS
	}
	now := time.Now
	return &Monitor{
		config:       config,
		logger:       logger.With("component", "heartbeat"),
		limiter:      limiter,
		backend:      backend,
		now:          now,
		lastActivity: now(),
		stop:         make(chan struct{}),
	}
}

// Activity marks the engine as alive. Called from the monologue loop on
// every iteration.
func (m *Monitor) Activity() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// Start launches the tick loop until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Duration(m.config.IntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Health returns a copy of the retained health records, oldest first.
func (m *Monitor) Health() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.ring...)
}

// tick runs one health pass: stall detection, backend revival, record.
func (m *Monitor) tick(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	age := now.Sub(m.lastActivity)
	stalled := age > time.Duration(m.config.StallTimeoutS)*time.Second
	if stalled {
		// Reset so one stall produces one alert, not one per tick.
		m.lastActivity = now
	}
	sinceReconnect := now.Sub(m.lastReconnect)
	m.mu.Unlock()

	if stalled {
		m.logger.Warn("monologue stalled", "activity_age", age)
		if m.OnStall != nil {
			m.OnStall()
		}
	}

	connected := true
	if m.backend != nil {
		connected = m.backend.Connected()
		if !connected && sinceReconnect > time.Duration(m.config.ReconnectIntervalS)*time.Second {
			m.mu.Lock()
			m.lastReconnect = now
			m.mu.Unlock()
			if err := m.backend.Connect(ctx); err != nil {
				m.logger.Error("memory backend reconnect failed", "error", err)
			} else {
				m.logger.Info("memory backend reconnected")
				connected = true
			}
		}
	}

	record := Record{
		Timestamp:       now,
		ActivityAge:     age,
		Stalled:         stalled,
		MemoryConnected: connected,
	}
	if m.limiter != nil {
		record.BudgetRemaining = m.limiter.BudgetRemaining()
	}

	m.mu.Lock()
	m.ring = append(m.ring, record)
	if len(m.ring) > healthRingSize {
		m.ring = m.ring[len(m.ring)-healthRingSize:]
	}
	m.mu.Unlock()
}
