// Package slack implements the Slack adapter over Socket Mode, so no
// public ingress is needed.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
)

// Channel is the Slack adapter.
type Channel struct {
	*channels.BaseChannel
	api    *slack.Client
	socket *socketmode.Client
	botID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Factory builds a Slack adapter. Both the bot token (xoxb-) and the
// app-level token (xapp-) are required for Socket Mode.
func Factory(name string, spec config.ChannelSpec, deps channels.Deps) (channels.Channel, error) {
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(name, "slack", spec.AllowFrom),
	}
	c.AttachBus(deps.Bus)
	if spec.BotToken == "" || spec.AppToken == "" {
		return c, nil
	}
	api := slack.New(spec.BotToken, slack.OptionAppLevelToken(spec.AppToken))
	c.api = api
	c.socket = socketmode.New(api)
	return c, nil
}

// Start authenticates and begins the Socket Mode event loop.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return nil
	}
	if c.api == nil {
		slog.Warn("slack tokens not configured, channel unavailable", "channel", c.Name())
		return nil
	}

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		slog.Warn("slack auth failed, channel unavailable", "channel", c.Name(), "error", err)
		return nil
	}
	c.botID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.eventLoop(runCtx)
	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode exited", "channel", c.Name(), "error", err)
			c.SetRunning(false)
		}
	}()

	c.SetRunning(true)
	slog.Info("slack connected", "channel", c.Name(), "bot", auth.User)
	return nil
}

// Stop cancels the socket loop.
func (c *Channel) Stop(_ context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

func (c *Channel) eventLoop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch ev.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := ev.Data.(slackevents.EventsAPIEvent)
				if !ok {
					if ev.Request != nil {
						c.socket.Ack(*ev.Request)
					}
					continue
				}
				c.socket.Ack(*ev.Request)
				c.handleEventsAPI(ctx, apiEvent)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if ev.Request != nil {
					c.socket.Ack(*ev.Request)
				}
			}
		}
	}
}

func (c *Channel) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || ev.BotID != "" || ev.SubType != "" || ev.User == c.botID {
		return
	}

	text := stripMentions(ev.Text)
	if text == "" {
		return
	}
	if !c.IsAllowed(ev.User) {
		return
	}

	c.Publish(ctx, bus.InboundMessage{
		Channel:     c.Type(),
		ChannelName: c.Name(),
		SenderID:    ev.User,
		Text:        text,
		ThreadID:    ev.Channel,
		Timestamp:   time.Now(),
		Raw:         ev,
	})
}

// Send posts to the originating Slack channel (carried in ThreadID).
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() || c.api == nil {
		return fmt.Errorf("slack channel %s not running", c.Name())
	}
	channelID := msg.ThreadID
	if channelID == "" {
		return fmt.Errorf("slack send: no channel id")
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(msg.Text, false))
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// stripMentions removes <@USERID> tokens from message text.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end < 0 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}
