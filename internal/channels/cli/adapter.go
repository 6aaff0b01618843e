// Package cli implements a terminal adapter for local interactive use.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itak-ai/itak/internal/channels"
	"github.com/itak-ai/itak/pkg/models"
)

const roomID = "local"

// Adapter reads lines from stdin and writes responses to stdout.
type Adapter struct {
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a CLI adapter. in and out default to stdin and stdout.
func New(in io.Reader, out io.Writer, logger *slog.Logger) *Adapter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		logger: logger.With("component", "cli"),
		in:     in,
		out:    out,
	}
}

func (a *Adapter) Name() models.ChannelType { return models.ChannelCLI }

// MaxMessageLength is zero: the terminal takes messages whole.
func (a *Adapter) MaxMessageLength() int { return 0 }

// Start launches the read loop. Each line becomes one inbound message
// and the loop waits for the handler before prompting again.
func (a *Adapter) Start(ctx context.Context, handler channels.Handler) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		scanner := bufio.NewScanner(a.in)
		fmt.Fprint(a.out, "> ")
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Fprint(a.out, "> ")
				continue
			}
			handler(ctx, &models.InboundMessage{
				ID:        uuid.NewString(),
				Channel:   models.ChannelCLI,
				RoomID:    roomID,
				UserID:    "local",
				Content:   line,
				CreatedAt: time.Now(),
			})
			if a.isClosed() {
				return
			}
			fmt.Fprint(a.out, "> ")
		}
	}()
	return nil
}

// Stop marks the adapter closed. The read loop exits after the current
// line; stdin itself cannot be interrupted portably.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

// Send writes one response to the terminal.
func (a *Adapter) Send(_ context.Context, _, text string) error {
	_, err := fmt.Fprintln(a.out, text)
	return err
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
