// Package discord implements the Discord adapter on the gateway
// websocket via discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
)

// discordMaxChars is Discord's message length limit.
const discordMaxChars = 2000

// Channel is the Discord adapter.
type Channel struct {
	*channels.BaseChannel
	session *discordgo.Session
	botID   string
	cancel  context.CancelFunc
}

// Factory builds a Discord adapter from a channel spec.
func Factory(name string, spec config.ChannelSpec, deps channels.Deps) (channels.Channel, error) {
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(name, "discord", spec.AllowFrom),
	}
	c.AttachBus(deps.Bus)
	if spec.Token == "" {
		return c, nil
	}
	session, err := discordgo.New("Bot " + spec.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	c.session = session
	return c, nil
}

// Start opens the gateway connection and registers the message handler.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return nil
	}
	if c.session == nil {
		slog.Warn("discord token not configured, channel unavailable", "channel", c.Name())
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(runCtx, m)
	})

	if err := c.session.Open(); err != nil {
		cancel()
		slog.Warn("discord gateway unavailable", "channel", c.Name(), "error", err)
		return nil
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		cancel()
		return fmt.Errorf("discord identify: %w", err)
	}
	c.botID = user.ID

	c.SetRunning(true)
	slog.Info("discord connected", "channel", c.Name(), "bot", user.Username)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botID || m.Content == "" {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		return
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.Publish(ctx, bus.InboundMessage{
		Channel:     c.Type(),
		ChannelName: c.Name(),
		SenderID:    m.Author.ID,
		SenderLabel: m.Author.Username,
		Text:        m.Content,
		ThreadID:    m.ChannelID,
		Timestamp:   ts,
		Raw:         m,
	})
}

// Send delivers a message to the originating Discord channel (carried in
// ThreadID), chunked at the platform limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() || c.session == nil {
		return fmt.Errorf("discord channel %s not running", c.Name())
	}
	channelID := msg.ThreadID
	if channelID == "" {
		return fmt.Errorf("discord send: no channel id")
	}

	for _, chunk := range channels.ChunkText(msg.Text, discordMaxChars) {
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}
