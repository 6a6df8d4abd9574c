package display

import (
	"encoding/json"
	"log/slog"

	"github.com/letsgohq/letsgo/internal/bus"
)

// Router decides where a backend reply goes: display envelopes target
// the canvas surface when one is registered, everything else returns to
// the originating channel. The daemon supplies the two hooks so this
// package never reaches into the adapter set directly.
type Router struct {
	publish    func(bus.OutboundMessage)
	findCanvas func() (name string, ok bool)
}

// NewRouter creates a display router. publish enqueues an outbound
// message for dispatch; findCanvas resolves the current canvas adapter
// instance, if any.
func NewRouter(publish func(bus.OutboundMessage), findCanvas func() (string, bool)) *Router {
	return &Router{publish: publish, findCanvas: findCanvas}
}

// RouteReply delivers one backend reply. An envelope with a canvas
// present goes to the canvas verbatim; a plain reply whose origin
// carries a content_type metadata hint is wrapped into an envelope of
// that type and routed the same way. Everything else goes back to the
// origin channel addressed by the original sender and thread. files
// become attachments on the outbound message.
func (r *Router) RouteReply(origin bus.InboundMessage, reply string, files []string) {
	if reply == "" {
		return
	}

	payload, isEnvelope := reply, false
	if _, ok := Parse(reply); ok {
		isEnvelope = true
	} else if hint := origin.Metadata["content_type"]; KnownContentType(hint) {
		if wrapped, err := json.Marshal(Envelope{ContentType: hint, Content: reply}); err == nil {
			payload, isEnvelope = string(wrapped), true
		}
	}

	if isEnvelope {
		if canvasName, found := r.findCanvas(); found {
			slog.Debug("routing display envelope to canvas",
				"canvas", canvasName, "origin", origin.ChannelName)
			r.publish(bus.OutboundMessage{
				Channel:     "canvas",
				ChannelName: canvasName,
				Text:        payload,
			})
			return
		}
	}

	out := bus.OutboundMessage{
		Channel:     origin.Channel,
		ChannelName: origin.ChannelName,
		ThreadID:    origin.ThreadID,
		Text:        reply,
		Metadata:    map[string]string{"sender_id": origin.SenderID},
	}
	for _, f := range files {
		out.Attachments = append(out.Attachments, bus.Attachment{Path: f})
	}
	r.publish(out)
}
