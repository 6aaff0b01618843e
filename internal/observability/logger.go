// Package observability provides the dual-sink structured event log: daily
// JSONL files plus a queryable SQLite store, with secret masking applied to
// every record before it reaches either sink.
package observability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event is one event-log record. The field set matches the JSONL layout and
// the SQLite schema exactly.
type Event struct {
	Timestamp  float64   `json:"timestamp"`
	Datetime   string    `json:"datetime"`
	EventType  EventType `json:"event_type"`
	RoomID     string    `json:"room_id,omitempty"`
	Adapter    string    `json:"adapter,omitempty"`
	Data       string    `json:"data,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
}

// SecretSource supplies known secret values for masking. Satisfied by
// secrets.Manager.
type SecretSource interface {
	MaskValues() []string
}

// Config configures the event logger.
type Config struct {
	// Dir is the directory for daily JSONL files (data/logs by default).
	Dir string
	// DBPath is the SQLite store path; empty disables the store sink.
	DBPath string
	// BufferSize is the async write buffer (default 1000).
	BufferSize int
}

// DefaultConfig returns the default event logger configuration.
func DefaultConfig() Config {
	return Config{
		Dir:        filepath.Join("data", "logs"),
		DBPath:     filepath.Join("data", "db", "events.db"),
		BufferSize: 1000,
	}
}

// EventLogger writes each record to the JSONL file for its UTC date and to
// the SQLite store. Writes are buffered and flushed by a single goroutine;
// Close drains the buffer.
type EventLogger struct {
	config  Config
	logger  *slog.Logger
	secrets SecretSource
	store   *Store

	buffer chan *Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	file     *os.File
	fileDate string // YYYY-MM-DD of the open file
}

// NewEventLogger creates and starts an event logger. secrets may be nil.
func NewEventLogger(config Config, logger *slog.Logger, secrets SecretSource) (*EventLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Dir == "" {
		config.Dir = DefaultConfig().Dir
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	l := &EventLogger{
		config:  config,
		logger:  logger.With("component", "events"),
		secrets: secrets,
		buffer:  make(chan *Event, config.BufferSize),
		done:    make(chan struct{}),
	}

	if config.DBPath != "" {
		store, err := OpenStore(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		l.store = store
	}

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Close drains buffered events and closes both sinks.
func (l *EventLogger) Close() error {
	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.mu.Unlock()

	if l.store != nil {
		return l.store.Close()
	}
	return nil
}

// Log records one event. Missing timestamps are filled in; unknown event
// types are coerced to "system" with a warning rather than dropped.
func (l *EventLogger) Log(event *Event) {
	if event == nil {
		return
	}
	now := time.Now().UTC()
	if event.Timestamp == 0 {
		event.Timestamp = float64(now.UnixNano()) / float64(time.Second)
	}
	if event.Datetime == "" {
		event.Datetime = now.Format(time.RFC3339)
	}
	if !event.EventType.Valid() {
		l.logger.Warn("unknown event type", "event_type", event.EventType)
		event.EventType = EventSystem
	}
	event.Data = l.mask(event.Data)

	select {
	case l.buffer <- event:
	default:
		// Buffer full: write synchronously rather than drop.
		l.writeEvent(event)
	}
}

// Emit is shorthand for logging a data payload under one event type.
func (l *EventLogger) Emit(eventType EventType, roomID, adapter, data string) {
	l.Log(&Event{EventType: eventType, RoomID: roomID, Adapter: adapter, Data: data})
}

// Store returns the queryable sink, or nil when disabled.
func (l *EventLogger) Store() *Store {
	return l.store
}

func (l *EventLogger) mask(s string) string {
	if l.secrets == nil || s == "" {
		return s
	}
	for _, secret := range l.secrets.MaskValues() {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "[KNOWN SECRET MASKED]")
		}
	}
	return s
}

func (l *EventLogger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-l.done:
			for {
				select {
				case event := <-l.buffer:
					l.writeEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (l *EventLogger) writeEvent(event *Event) {
	if err := l.writeJSONL(event); err != nil {
		l.logger.Error("jsonl sink write failed", "error", err)
	}
	if l.store != nil {
		if err := l.store.Insert(event); err != nil {
			l.logger.Error("store sink write failed", "error", err)
		}
	}
}

// writeJSONL appends one record to the file for the event's UTC date,
// rotating at midnight by switching files.
func (l *EventLogger) writeJSONL(event *Event) error {
	date := time.Now().UTC().Format("2006-01-02")

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil || l.fileDate != date {
		if l.file != nil {
			l.file.Close()
		}
		path := filepath.Join(l.config.Dir, date+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.file = f
		l.fileDate = date
	}

	line, err := marshalEvent(event)
	if err != nil {
		return err
	}
	_, err = l.file.Write(append(line, '\n'))
	return err
}
