// Package telegram implements the Telegram channel adapter using long
// polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/itak-ai/itak/internal/channels"
	"github.com/itak-ai/itak/pkg/models"
)

// Adapter bridges Telegram updates to the agent.
type Adapter struct {
	token   string
	logger  *slog.Logger
	bot     *bot.Bot
	handler channels.Handler
	cancel  context.CancelFunc
}

// New creates a Telegram adapter for the given bot token.
func New(token string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:  token,
		logger: logger.With("component", "telegram"),
	}
}

func (a *Adapter) Name() models.ChannelType { return models.ChannelTelegram }

func (a *Adapter) MaxMessageLength() int { return channels.TelegramChunkLimit }

// Start begins long polling in the background.
func (a *Adapter) Start(ctx context.Context, handler channels.Handler) error {
	a.handler = handler

	b, err := bot.New(a.token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	a.logger.Info("telegram connected", "username", me.Username)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go b.Start(pollCtx)
	return nil
}

// Stop halts long polling.
func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// Send posts one chunk to a chat. The room id is the decimal chat id.
func (a *Adapter) Send(ctx context.Context, roomID, text string) error {
	if a.bot == nil {
		return fmt.Errorf("telegram: not started")
	}
	chatID, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", roomID, err)
	}
	_, err = a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	userID := ""
	if update.Message.From != nil {
		userID = strconv.FormatInt(update.Message.From.ID, 10)
	}
	msg := &models.InboundMessage{
		ID:        strconv.Itoa(update.Message.ID),
		Channel:   models.ChannelTelegram,
		RoomID:    strconv.FormatInt(update.Message.Chat.ID, 10),
		UserID:    userID,
		Content:   update.Message.Text,
		CreatedAt: time.Now(),
	}
	a.handler(ctx, msg)
}
