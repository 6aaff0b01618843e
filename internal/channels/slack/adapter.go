// Package slack implements the Slack channel adapter over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/itak-ai/itak/internal/channels"
	"github.com/itak-ai/itak/pkg/models"
)

// Config holds the two Slack tokens Socket Mode requires.
type Config struct {
	BotToken string `yaml:"bot_token"` // xoxb- token for API calls
	AppToken string `yaml:"app_token"` // xapp- token for Socket Mode
}

// Adapter bridges Slack Events API messages to the agent.
type Adapter struct {
	config    Config
	logger    *slog.Logger
	client    *slack.Client
	socket    *socketmode.Client
	handler   channels.Handler
	botUserID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Slack adapter.
func New(config Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config: config,
		logger: logger.With("component", "slack"),
	}
}

func (a *Adapter) Name() models.ChannelType { return models.ChannelSlack }

func (a *Adapter) MaxMessageLength() int { return channels.SlackChunkLimit }

// Start authenticates and runs the Socket Mode event loop in the
// background.
func (a *Adapter) Start(ctx context.Context, handler channels.Handler) error {
	a.handler = handler
	a.client = slack.New(a.config.BotToken, slack.OptionAppLevelToken(a.config.AppToken))
	a.socket = socketmode.New(a.client)

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.logger.Info("slack connected", "bot_user_id", auth.UserID)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.handleEvents(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("socket mode exited", "error", err)
		}
	}()
	return nil
}

// Stop halts the event loop and waits for it to drain.
func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return nil
}

// Send posts one chunk to a channel.
func (a *Adapter) Send(ctx context.Context, roomID, text string) error {
	if a.client == nil {
		return fmt.Errorf("slack: not started")
	}
	_, _, err := a.client.PostMessageContext(ctx, roomID, slack.MsgOptionText(text, false))
	return err
}

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnected:
				a.logger.Info("socket mode connected")
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("socket mode connection error", "data", event.Data)
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				a.socket.Ack(*event.Request)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		a.socket.Ack(*event.Request)
		return
	}
	a.socket.Ack(*event.Request)

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Skip bot echoes and edits so the agent only sees fresh user text.
	if ev.BotID != "" || ev.User == a.botUserID || ev.SubType != "" {
		return
	}
	msg := &models.InboundMessage{
		ID:        ev.TimeStamp,
		Channel:   models.ChannelSlack,
		RoomID:    ev.Channel,
		UserID:    ev.User,
		Content:   ev.Text,
		CreatedAt: time.Now(),
	}
	go a.handler(ctx, msg)
}
