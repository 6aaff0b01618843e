package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/itak-ai/itak/internal/memory"
)

type fakeBackend struct {
	connected   bool
	connectCall int
	connectErr  error
}

func (f *fakeBackend) Connect(context.Context) error {
	f.connectCall++
	if f.connectErr == nil {
		f.connected = true
	}
	return f.connectErr
}

func (f *fakeBackend) Connected() bool { return f.connected }

// newTestMonitor takes the interface type so a nil argument stays a nil
// interface rather than a typed-nil pointer.
func newTestMonitor(backend memory.Reconnector) (*Monitor, *time.Time) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(Config{}, nil, backend, nil)
	m.now = func() time.Time { return clock }
	m.lastActivity = clock
	return m, &clock
}

func TestStallDetection(t *testing.T) {
	m, clock := newTestMonitor(nil)
	stalls := 0
	m.OnStall = func() { stalls++ }

	*clock = clock.Add(60 * time.Second)
	m.tick(context.Background())
	if stalls != 0 {
		t.Fatal("stall alerted before timeout")
	}

	*clock = clock.Add(121 * time.Second)
	m.tick(context.Background())
	if stalls != 1 {
		t.Fatalf("stalls = %d, want 1", stalls)
	}

	// The activity timestamp resets on alert, so the next tick is quiet.
	*clock = clock.Add(30 * time.Second)
	m.tick(context.Background())
	if stalls != 1 {
		t.Fatalf("stalls = %d after reset, want 1", stalls)
	}

	records := m.Health()
	if len(records) != 3 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].Stalled || !records[1].Stalled || records[2].Stalled {
		t.Errorf("stall flags = %v %v %v", records[0].Stalled, records[1].Stalled, records[2].Stalled)
	}
}

func TestReconnectPacing(t *testing.T) {
	backend := &fakeBackend{connected: false, connectErr: context.DeadlineExceeded}
	m, clock := newTestMonitor(backend)

	// Zero lastReconnect means the first disconnected tick reconnects.
	m.tick(context.Background())
	if backend.connectCall != 1 {
		t.Fatalf("connect calls = %d, want 1", backend.connectCall)
	}

	// Within the pacing window no further attempt is made.
	*clock = clock.Add(60 * time.Second)
	m.tick(context.Background())
	if backend.connectCall != 1 {
		t.Fatalf("connect calls = %d inside window, want 1", backend.connectCall)
	}

	// Past the window the monitor tries again, and this time it works.
	backend.connectErr = nil
	*clock = clock.Add(301 * time.Second)
	m.tick(context.Background())
	if backend.connectCall != 2 {
		t.Fatalf("connect calls = %d, want 2", backend.connectCall)
	}
	if !backend.connected {
		t.Fatal("backend not reconnected")
	}
}

func TestHealthRingBounded(t *testing.T) {
	m, clock := newTestMonitor(nil)
	for i := 0; i < healthRingSize+25; i++ {
		*clock = clock.Add(time.Second)
		m.tick(context.Background())
	}
	if got := len(m.Health()); got != healthRingSize {
		t.Errorf("ring = %d, want %d", got, healthRingSize)
	}
}
