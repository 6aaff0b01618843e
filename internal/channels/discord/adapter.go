// Package discord implements the Discord channel adapter.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/itak-ai/itak/internal/channels"
	"github.com/itak-ai/itak/pkg/models"
)

// Adapter bridges Discord gateway events to the agent.
type Adapter struct {
	token   string
	logger  *slog.Logger
	session *discordgo.Session
	handler channels.Handler
	ctx     context.Context
}

// New creates a Discord adapter for the given bot token.
func New(token string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:  token,
		logger: logger.With("component", "discord"),
	}
}

func (a *Adapter) Name() models.ChannelType { return models.ChannelDiscord }

func (a *Adapter) MaxMessageLength() int { return channels.DiscordChunkLimit }

// Start opens the gateway session and begins dispatching messages.
func (a *Adapter) Start(ctx context.Context, handler channels.Handler) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	a.ctx = ctx
	a.handler = handler
	session.AddHandler(a.handleMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.session = session
	return nil
}

// Stop closes the gateway session.
func (a *Adapter) Stop() error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

// Send posts one chunk to a channel.
func (a *Adapter) Send(_ context.Context, roomID, text string) error {
	if a.session == nil {
		return fmt.Errorf("discord: not started")
	}
	_, err := a.session.ChannelMessageSend(roomID, text)
	return err
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	msg := &models.InboundMessage{
		ID:        m.ID,
		Channel:   models.ChannelDiscord,
		RoomID:    m.ChannelID,
		UserID:    m.Author.ID,
		Content:   m.Content,
		CreatedAt: time.Now(),
	}
	// Each message runs its own monologue; the gateway serializes per room.
	go a.handler(a.ctx, msg)
}
