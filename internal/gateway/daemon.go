// Package gateway wires the adapter set, stores, session router,
// scheduler, and display router into the running daemon and implements
// the inbound message pipeline.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letsgohq/letsgo/internal/agent"
	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/cron"
	"github.com/letsgohq/letsgo/internal/display"
	"github.com/letsgohq/letsgo/internal/sessions"
	"github.com/letsgohq/letsgo/internal/store"
)

var tracer = otel.Tracer("letsgo/gateway")

// Daemon owns every runtime component and the inbound pipeline.
type Daemon struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	manager  *channels.Manager
	registry *channels.Registry
	stores   *store.Stores
	backend  agent.Backend

	displayState  *display.State
	displayRouter *display.Router
	scheduler     *cron.Scheduler
	heartbeat     *cron.Heartbeat

	inboundTransforms  []InboundTransform
	outboundTransforms []OutboundTransform

	routerMu sync.Mutex
	routers  map[string]*sessions.Router // agent id → router

	startedAt     time.Time
	totalMessages atomic.Int64

	runCtx context.Context
	cancel context.CancelFunc
}

// New assembles a daemon. Nothing starts until Start.
func New(cfg *config.Config, stores *store.Stores, backend agent.Backend, registry *channels.Registry) *Daemon {
	d := &Daemon{
		cfg:          cfg,
		bus:          bus.New(),
		registry:     registry,
		stores:       stores,
		backend:      backend,
		displayState: display.NewState(),
		routers:      make(map[string]*sessions.Router),
	}
	d.manager = channels.NewManager(d.bus)

	d.displayRouter = display.NewRouter(
		func(msg bus.OutboundMessage) { d.bus.PublishOutbound(msg) },
		func() (string, bool) {
			ch, ok := d.manager.FindByType("canvas")
			if !ok || !ch.IsRunning() {
				return "", false
			}
			return ch.Name(), true
		},
	)

	d.outboundTransforms = []OutboundTransform{newReplySanitizer()}
	d.heartbeat = cron.NewHeartbeat(d.OnMessage, cfg.HeartbeatChannels)
	d.scheduler = cron.NewScheduler(cfg.Cron.Jobs, d.runCronJob, stores.Cron)
	return d
}

// AddInboundTransform appends a pipeline middleware.
func (d *Daemon) AddInboundTransform(t InboundTransform) {
	d.inboundTransforms = append(d.inboundTransforms, t)
}

// AddOutboundTransform appends a reply middleware.
func (d *Daemon) AddOutboundTransform(t OutboundTransform) {
	d.outboundTransforms = append(d.outboundTransforms, t)
}

// Bus exposes the message bus (server wiring).
func (d *Daemon) Bus() *bus.MessageBus { return d.bus }

// Manager exposes the channel manager (admin surface).
func (d *Daemon) Manager() *channels.Manager { return d.manager }

// Scheduler exposes the cron scheduler (admin surface).
func (d *Daemon) Scheduler() *cron.Scheduler { return d.scheduler }

// HeartbeatEngine exposes the heartbeat engine (admin surface).
func (d *Daemon) HeartbeatEngine() *cron.Heartbeat { return d.heartbeat }

// Pairing exposes the pairing store (admin surface).
func (d *Daemon) Pairing() store.PairingStore { return d.stores.Pairing }

// DisplayState exposes the canvas document (canvas adapter wiring).
func (d *Daemon) DisplayState() *display.State { return d.displayState }

// StartedAt reports daemon start time.
func (d *Daemon) StartedAt() time.Time { return d.startedAt }

// TotalMessages reports messages accepted into the pipeline.
func (d *Daemon) TotalMessages() int64 { return d.totalMessages.Load() }

// Start resolves and starts the configured channels, the session
// reapers, and the scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.startedAt = time.Now()
	d.runCtx, d.cancel = context.WithCancel(ctx)

	if err := d.buildChannels(); err != nil {
		return err
	}

	if err := d.manager.StartAll(d.runCtx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	for _, r := range d.allRouters() {
		r.StartReaper(d.runCtx)
	}

	if err := d.scheduler.Start(d.runCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	go d.consumeInbound()

	slog.Info("gateway daemon started",
		"channels", len(d.manager.Names()),
		"agents", d.cfg.AgentIDs(),
	)
	return nil
}

// Stop shuts the daemon down: scheduler first, then adapters, then
// store flush and session teardown.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("gateway daemon stopping")

	if err := d.scheduler.Stop(ctx); err != nil {
		slog.Warn("scheduler stop", "error", err)
	}
	if err := d.manager.StopAll(ctx); err != nil {
		slog.Warn("channel stop", "error", err)
	}
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.stores.Pairing.Flush(ctx); err != nil {
		slog.Warn("pairing store flush", "error", err)
	}
	for _, r := range d.allRouters() {
		r.CloseAll()
	}
	slog.Info("gateway daemon stopped")
	return nil
}

// consumeInbound drains the bus inbound queue into the pipeline, one
// message at a time so per-sender ordering holds. Adapters with
// blocking transports publish here instead of calling the handler
// inline.
func (d *Daemon) consumeInbound() {
	for {
		msg, ok := d.bus.ConsumeInbound(d.runCtx)
		if !ok {
			return
		}
		if _, err := d.OnMessage(d.runCtx, msg); err != nil {
			slog.Error("inbound pipeline failed",
				"channel", msg.Channel, "sender", msg.SenderID, "error", err)
		}
	}
}

// ReloadChannels applies a changed channel set from a fresh config:
// removed instances stop, new ones start, surviving ones keep running.
func (d *Daemon) ReloadChannels(ctx context.Context, cfg *config.Config) {
	current := make(map[string]bool)
	for _, name := range d.manager.Names() {
		current[name] = true
	}

	for name := range current {
		if _, stillWanted := cfg.Channels[name]; !stillWanted {
			if ch, ok := d.manager.Get(name); ok {
				slog.Info("channel removed by reload", "channel", name)
				_ = ch.Stop(ctx)
				d.manager.UnregisterChannel(name)
			}
		}
	}

	for name, spec := range cfg.Channels {
		if current[name] {
			continue
		}
		ch, err := d.buildChannel(name, spec)
		if err != nil {
			slog.Error("channel build failed on reload", "channel", name, "error", err)
			continue
		}
		d.manager.RegisterChannel(name, ch)
		slog.Info("channel added by reload", "channel", name, "type", spec.Type)
		if err := ch.Start(d.runCtx); err != nil {
			slog.Error("channel start failed on reload", "channel", name, "error", err)
		}
	}
}

func (d *Daemon) buildChannels() error {
	names := make([]string, 0, len(d.cfg.Channels))
	for name := range d.cfg.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := d.cfg.Channels[name]
		ch, err := d.buildChannel(name, spec)
		if err != nil {
			// One bad instance never takes down the rest.
			slog.Error("channel build failed", "channel", name, "type", spec.Type, "error", err)
			continue
		}
		d.manager.RegisterChannel(name, ch)
	}
	return nil
}

func (d *Daemon) buildChannel(name string, spec config.ChannelSpec) (channels.Channel, error) {
	factory, err := d.registry.Resolve(spec.Type)
	if err != nil {
		return nil, err
	}
	ch, err := factory(name, spec, channels.Deps{
		Bus:     d.bus,
		Pairing: d.stores.Pairing,
		Display: d.displayState,
	})
	if err != nil {
		return nil, err
	}
	ch.SetOnMessage(d.OnMessage)
	return ch, nil
}

// routerFor returns (creating lazily) the session router for an agent.
func (d *Daemon) routerFor(agentID string) *sessions.Router {
	d.routerMu.Lock()
	defer d.routerMu.Unlock()
	if r, ok := d.routers[agentID]; ok {
		return r
	}
	opts := []sessions.Option{}
	if mins := d.cfg.Gateway.SessionIdleMin; mins > 0 {
		opts = append(opts, sessions.WithIdleTimeout(time.Duration(mins)*time.Minute))
	}
	r := sessions.NewRouter(d.backend, agentID, opts...)
	d.routers[agentID] = r
	if d.runCtx != nil {
		r.StartReaper(d.runCtx)
	}
	return r
}

func (d *Daemon) allRouters() []*sessions.Router {
	d.routerMu.Lock()
	defer d.routerMu.Unlock()
	out := make([]*sessions.Router, 0, len(d.routers))
	for _, r := range d.routers {
		out = append(out, r)
	}
	return out
}

// ActiveSessions merges session snapshots across agents.
func (d *Daemon) ActiveSessions() map[string]sessions.Handle {
	out := make(map[string]sessions.Handle)
	for _, r := range d.allRouters() {
		for key, h := range r.ActiveSessions() {
			out[key] = h
		}
	}
	return out
}

// CloseSession closes a session on whichever router holds the key.
func (d *Daemon) CloseSession(key string) bool {
	for _, r := range d.allRouters() {
		if r.CloseSession(key) {
			return true
		}
	}
	return false
}

// OnMessage is the inbound pipeline every adapter delivers into. The
// returned reply is for observability; delivery happens via display
// routing and the adapter's Send.
func (d *Daemon) OnMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	ctx, span := tracer.Start(ctx, "gateway.on_message", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("channel_name", msg.ChannelName),
		attribute.String("sender_id", msg.SenderID),
	))
	defer span.End()

	synthetic := sessions.IsHeartbeatSender(msg.SenderID)

	// 1. Auth gate, 2. block check. Synthetic senders are internal and
	// bypass both.
	if !synthetic {
		reply, proceed, err := d.authGate(ctx, msg)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		if !proceed {
			d.deliverReply(msg, reply, nil)
			return reply, nil
		}

		// 3. Rate limit.
		allowed, err := d.stores.Pairing.CheckRateLimit(ctx, msg.SenderID, msg.Channel)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			slog.Warn("rate limit exceeded", "channel", msg.Channel, "sender", msg.SenderID)
			reply := "rate limit exceeded, please slow down"
			d.deliverReply(msg, reply, nil)
			return reply, nil
		}
	}

	// 4. Inbound transforms.
	for _, t := range d.inboundTransforms {
		mutated, err := t.ProcessInbound(ctx, msg)
		if err != nil {
			slog.Warn("inbound transform failed", "error", err)
			continue
		}
		msg = mutated
	}

	// 5. Route to the agent backend.
	d.totalMessages.Add(1)
	agentID := d.agentFor(msg)
	reply, err := d.routerFor(agentID).Route(ctx, msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("backend routing failed",
			"channel", msg.Channel, "sender", msg.SenderID, "error", err)
		reply = "something went wrong handling that message"
		d.deliverReply(msg, reply, nil)
		return reply, err
	}

	// 6. Long-response spill.
	reply, spillFile, err := spillReply(reply, d.filesDir(), d.maxReplyChars(msg.ChannelName))
	if err != nil {
		slog.Warn("reply spill failed", "error", err)
	}
	var files []string
	if spillFile != "" {
		files = append(files, spillFile)
	}

	// 7. Outbound transforms.
	for _, t := range d.outboundTransforms {
		transformed, extra, err := t.ProcessOutbound(ctx, reply, msg, d.filesDir())
		if err != nil {
			slog.Warn("outbound transform failed", "error", err)
			continue
		}
		reply = transformed
		files = append(files, extra...)
	}

	// 8. Display routing.
	d.deliverReply(msg, reply, files)
	return reply, nil
}

// authGate runs pipeline steps 1 and 2. proceed is false when the
// pipeline must stop with the returned reply.
func (d *Daemon) authGate(ctx context.Context, msg bus.InboundMessage) (reply string, proceed bool, err error) {
	ps := d.stores.Pairing

	status, found, err := ps.SenderStatus(ctx, msg.SenderID, msg.Channel)
	if err != nil {
		return "", false, fmt.Errorf("sender status: %w", err)
	}

	if found && status == store.StatusBlocked {
		slog.Info("blocked sender dropped", "channel", msg.Channel, "sender", msg.SenderID)
		return "access denied", false, nil
	}

	if found && status == store.StatusApproved {
		return "", true, nil
	}

	// Unknown or pending: the text may be the pairing code.
	pending, err := ps.HasPendingCode(ctx, msg.SenderID, msg.Channel)
	if err != nil {
		return "", false, fmt.Errorf("pending code check: %w", err)
	}
	if pending {
		ok, err := ps.VerifyPairing(ctx, msg.SenderID, msg.Channel, strings.TrimSpace(msg.Text))
		if err != nil {
			return "", false, fmt.Errorf("verify pairing: %w", err)
		}
		if ok {
			slog.Info("sender approved", "channel", msg.Channel, "sender", msg.SenderID)
			return "approved, you're all set", false, nil
		}
	}

	code, err := ps.RequestPairing(ctx, msg.SenderID, msg.Channel, msg.ChannelName, msg.SenderLabel)
	if err != nil {
		return "", false, fmt.Errorf("request pairing: %w", err)
	}
	slog.Info("pairing code issued", "channel", msg.Channel, "sender", msg.SenderID)
	return fmt.Sprintf("your pairing code is %s, reply with this code to continue", code), false, nil
}

// deliverReply hands the reply to the display router with the origin
// attached.
func (d *Daemon) deliverReply(origin bus.InboundMessage, reply string, files []string) {
	if reply == "" {
		slog.Debug("reply suppressed",
			"channel", origin.Channel, "sender", origin.SenderID)
		return
	}
	d.displayRouter.RouteReply(origin, reply, files)
}

// agentFor selects the agent for a message. Synthetic heartbeat senders
// carry the agent id in the sender; everything else goes to the default
// agent.
func (d *Daemon) agentFor(msg bus.InboundMessage) string {
	if sessions.IsHeartbeatSender(msg.SenderID) {
		return strings.TrimPrefix(msg.SenderID, "heartbeat:")
	}
	return d.cfg.ResolveDefaultAgentID()
}

func (d *Daemon) filesDir() string {
	return config.ExpandHome(d.cfg.FilesDir)
}

// maxReplyChars resolves the spill threshold, per-channel override
// first.
func (d *Daemon) maxReplyChars(channelName string) int {
	if spec, ok := d.cfg.Channels[channelName]; ok && spec.MaxReplyChars > 0 {
		return spec.MaxReplyChars
	}
	return d.cfg.Gateway.MaxReplyChars
}

// runCronJob is the scheduler's job handler. A "heartbeat" recipe runs
// the heartbeat engine; anything else routes the recipe through the
// agent backend as a synthetic turn.
func (d *Daemon) runCronJob(ctx context.Context, job store.CronJob) (string, error) {
	agentID := job.AgentID
	if agentID == "" {
		agentID = d.cfg.ResolveDefaultAgentID()
	}

	if job.Recipe == "heartbeat" {
		return d.heartbeat.Beat(ctx, agentID, job.Context["prompt"])
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "run recipe %q", job.Recipe)
	keys := make([]string, 0, len(job.Context))
	for k := range job.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s: %s", k, job.Context[k])
	}

	return d.heartbeat.Beat(ctx, agentID, sb.String())
}
