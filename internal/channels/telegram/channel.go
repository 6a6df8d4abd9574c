// Package telegram implements the Telegram adapter over long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
)

// telegramMaxChars is Telegram's hard message length limit.
const telegramMaxChars = 4096

// Channel is the Telegram adapter.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// Factory builds a Telegram adapter from a channel spec. A missing token
// yields a constructed adapter that warns and stays not-running on Start.
func Factory(name string, spec config.ChannelSpec, deps channels.Deps) (channels.Channel, error) {
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(name, "telegram", spec.AllowFrom),
	}
	c.AttachBus(deps.Bus)
	if spec.Token == "" {
		return c, nil
	}
	bot, err := telego.NewBot(spec.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	c.bot = bot
	return c, nil
}

// Start begins long polling for updates. Idempotent; a second Start on a
// running adapter is a no-op.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return nil
	}
	if c.bot == nil {
		slog.Warn("telegram token not configured, channel unavailable", "channel", c.Name())
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		slog.Warn("telegram long polling unavailable", "channel", c.Name(), "error", err)
		return nil
	}

	c.SetRunning(true)
	slog.Info("telegram connected", "channel", c.Name(), "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll loop to drain.
func (c *Channel) Stop(_ context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(5 * time.Second):
			slog.Warn("telegram poll loop slow to stop", "channel", c.Name())
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, m *telego.Message) {
	if m.From == nil || m.Text == "" {
		return
	}
	senderID := strconv.FormatInt(m.Chat.ID, 10)
	if !c.IsAllowed(senderID) {
		return
	}

	msg := bus.InboundMessage{
		Channel:     c.Type(),
		ChannelName: c.Name(),
		SenderID:    senderID,
		SenderLabel: m.From.FirstName,
		Text:        m.Text,
		Timestamp:   time.Unix(m.Date, 0),
		Raw:         m,
	}
	if m.MessageThreadID != 0 {
		msg.ThreadID = strconv.Itoa(m.MessageThreadID)
	}

	// Replies come back via display routing and Send; the poll loop
	// never waits on the pipeline.
	c.Publish(ctx, msg)
}

// Send delivers one message. The recipient chat id comes from metadata
// (set by the display router from the originating message's sender).
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() || c.bot == nil {
		return fmt.Errorf("telegram channel %s not running", c.Name())
	}

	chatStr := msg.Metadata["sender_id"]
	if chatStr == "" {
		return fmt.Errorf("telegram send: no recipient")
	}
	chatID, err := strconv.ParseInt(chatStr, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram send: bad chat id %q: %w", chatStr, err)
	}

	for _, chunk := range channels.ChunkText(msg.Text, telegramMaxChars) {
		params := tu.Message(tu.ID(chatID), chunk)
		if msg.ThreadID != "" {
			if tid, err := strconv.Atoi(msg.ThreadID); err == nil {
				params.MessageThreadID = tid
			}
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}
