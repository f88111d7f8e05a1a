// File: channel/channel.go
//
// Channel is the façade tying one logical channel's wire codec, optional
// security pipeline, network overlay and concurrency core together behind
// a Send/Receive API, following facade/hioload.go's Config/New
// construction shape.
//
// Grounded on channel/channel.py's Channel class. Python's Channel.send
// accepts arbitrary *args/**kwargs forwarded straight to
// self.network.process_send, since every overlay's process_send has a
// different signature (Unicast needs a destination address,
// MultihopUnicast needs destination and origin, Broadcast and Flooding
// need neither). Go cannot express that duck typing directly or overload
// a method name, so this splits into two entry points: SendPayload takes
// a BuildFrame closure for a fresh, application-originated send, and Send
// takes a ForwardFrame closure and implements network.Forwarder so a
// MultihopUnicast or Flooding overlay can relay an already-decoded frame
// back out through this same Channel. Both funnel into the shared
// security/serialization/overlay plumbing in encodeAndSend.
package channel

import (
	"context"
	"fmt"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
	"github.com/meshwire/cuttlefish/control"
	"github.com/meshwire/cuttlefish/network"
	"github.com/meshwire/cuttlefish/orchestrator"
	"github.com/meshwire/cuttlefish/security"
)

// BuildFrame performs the network-overlay-specific part of sending: it
// appends whatever address/sequencing header(s) this overlay's
// ProcessSend call requires. Channel.SendPayload runs this after building
// the initial payload frame and before handing off to
// security/serialization.
type BuildFrame func(frame *network.Frame, meta network.Meta) error

// ForwardFrame re-applies the network overlay's ProcessSend to an
// already-decoded frame a relay node is forwarding on behalf of another
// node (MultihopUnicast's intermediate-relay and promiscuous-rebroadcast
// branches, Flooding's periodic re-transmission of its default payload).
// Channel.Send, which implements network.Forwarder, runs this before
// handing off to security/serialization — the same split BuildFrame makes
// for the application-facing path, since each overlay's ProcessSend still
// has its own extra parameters (MultihopUnicast also needs an origin
// address, recovered here from meta["origin_address"] rather than from a
// dedicated Forwarder.Send parameter).
type ForwardFrame func(frame *network.Frame, meta network.Meta, destAddress []byte, opts network.SendOptions) error

// Overlay is the subset of a network overlay (Base and every type
// embedding it) a Channel needs once construction-time wiring (overlay
// InitConnection, scheme layer registration) has already happened.
// ProcessSend is deliberately absent — see the package doc comment — and
// supplied per call via BuildFrame instead.
type Overlay interface {
	ProcessRecv(frame *network.Frame, meta network.Meta) (bool, error)
	Send(data []byte) error
	Receive() ([]byte, network.Meta)
}

// Config collects everything needed to construct a Channel.
type Config struct {
	ID byte

	EncodingScheme *codec.Scheme
	DecodingScheme *codec.Scheme // nil means same as EncodingScheme

	Security *security.Security // nil disables the security pipeline

	Overlay      Overlay
	Orchestrator *orchestrator.Orchestrator

	// Forward wires this channel into its overlay's relay path. Required
	// only for channels an overlay forwards through (MultihopUnicast,
	// Flooding); a plain Unicast/Broadcast leaf channel that never relays
	// can leave this nil, in which case Send (network.Forwarder) pushes no
	// extra overlay header.
	Forward ForwardFrame

	ProcessedCallback func(data []byte, meta network.Meta)

	// Handler, if non-nil, is invoked alongside ProcessedCallback with
	// every fully-processed payload, using the same api.Handler contract
	// adapters.HandlerFunc/MiddlewareHandler compose against — a consumer
	// wanting those middleware chains (logging, recovery, metrics)
	// wires a Handler here instead of a bare ProcessedCallback. A Handle
	// error is dropped (processing already succeeded; delivery failure
	// isn't a decode failure), matching ProcessedCallback's fire-and-forget
	// contract.
	Handler api.Handler

	// OnEvent, if non-nil, is called with an api.ConnectEvent once New
	// finishes constructing this channel and with an api.DisconnectEvent
	// from Disconnect, mirroring the lifecycle boundaries
	// channel.py's init_connection/disconnect mark.
	OnEvent func(event any)

	// Ctx is attached to every lifecycle event this Channel emits via
	// OnEvent. Defaults to context.Background() if nil.
	Ctx context.Context

	// Debug, if non-nil, gets a "channel.<id>.state" probe registered
	// against it dumping this channel's wire-format shape and whether a
	// security pipeline is configured. Ordinarily the same
	// *control.DebugProbes the owning Orchestrator exposes through
	// api.Control.
	Debug *control.DebugProbes
}

// Channel is one logical, independently-addressable stream of packets
// sharing a scheme, optional security pipeline, network overlay and
// orchestrator/scheduler concurrency core.
type Channel struct {
	id byte

	serializer *codec.Serializer
	sec        *security.Security

	overlay      Overlay
	forward      ForwardFrame
	orchestrator *orchestrator.Orchestrator

	onEvent func(event any)
	ctx     context.Context
}

// New constructs a Channel from cfg, applying any configured security
// measures' scheme layers (mirrors Channel.__init__ constructing a
// Serializer and Security, plus the security layer registration
// Channel.init_connection performs via sec.init_measures once the network
// overlay has already registered its own layers).
func New(cfg Config) (*Channel, error) {
	serializer := codec.NewSerializer(cfg.EncodingScheme, cfg.DecodingScheme)

	if cfg.Security != nil {
		if err := cfg.Security.Apply(cfg.EncodingScheme); err != nil {
			return nil, err
		}
		if cfg.DecodingScheme != nil && cfg.DecodingScheme != cfg.EncodingScheme {
			if err := cfg.Security.Apply(cfg.DecodingScheme); err != nil {
				return nil, err
			}
		}
		cfg.Security.WireCallbacks(serializer)
	}

	ctx := cfg.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	ch := &Channel{
		id:           cfg.ID,
		serializer:   serializer,
		sec:          cfg.Security,
		overlay:      cfg.Overlay,
		forward:      cfg.Forward,
		orchestrator: cfg.Orchestrator,
		onEvent:      cfg.OnEvent,
		ctx:          ctx,
	}

	if cfg.Orchestrator != nil {
		cfg.Orchestrator.AddChannels(channelProcessor{ch})
		if cfg.ProcessedCallback != nil || cfg.Handler != nil {
			cfg.Orchestrator.SetProcessedCallback(cfg.ID, func(data []byte, meta network.Meta) {
				if cfg.Handler != nil {
					_ = cfg.Handler.Handle(data, map[string]any(meta))
				}
				if cfg.ProcessedCallback != nil {
					cfg.ProcessedCallback(data, meta)
				}
			})
		}
	}

	if cfg.Debug != nil {
		cfg.Debug.RegisterProbe(fmt.Sprintf("channel.%d.state", cfg.ID), func() any {
			return map[string]any{
				"id":          ch.id,
				"layers":      len(cfg.EncodingScheme.Layers),
				"secured":     ch.sec != nil,
				"forwardable": ch.forward != nil,
			}
		})
	}

	if ch.onEvent != nil {
		ch.onEvent(api.ConnectEvent{ChannelID: ch.id, Ctx: ctx})
	}

	return ch, nil
}

// ID returns this channel's id.
func (c *Channel) ID() byte { return c.id }

// Disconnect marks this channel not-running with its orchestrator (no
// further RECEIVED tasks are processed for it, mirroring
// Orchestrator.running gating process_task) and emits a DisconnectEvent.
// Mirrors Channel.disconnect's self.network.disconnect() lifecycle
// boundary; cuttlefish has no persistent socket-level connection to tear
// down beyond that gate, since Overlay.Send/Receive are stateless per
// call.
func (c *Channel) Disconnect() {
	if c.orchestrator != nil {
		c.orchestrator.SetRunning(c.id, false)
	}
	if c.onEvent != nil {
		c.onEvent(api.DisconnectEvent{ChannelID: c.id, Ctx: c.ctx})
	}
}

// SendPayload builds a frame from payload via build (the overlay-specific
// addressing step for a fresh, application-originated send), then runs it
// through the shared security/serialization/overlay pipeline. Mirrors
// Channel.send.
func (c *Channel) SendPayload(payload codec.LayerValues, build BuildFrame) (network.Meta, error) {
	frame := network.Frame{payload}
	meta := network.Meta{}

	if err := build(&frame, meta); err != nil {
		return meta, err
	}
	return meta, c.encodeAndSend(&frame, meta)
}

// Send re-applies this channel's overlay-specific ProcessSend (via the
// Forward closure, if configured) to an already-decoded frame, then runs
// it through the shared security/serialization/overlay pipeline. It
// implements network.Forwarder, letting a MultihopUnicast or Flooding
// overlay use this Channel to relay or re-transmit a frame it did not
// originate.
func (c *Channel) Send(frame network.Frame, meta network.Meta, destAddress []byte, opts network.SendOptions) (network.Meta, error) {
	if meta == nil {
		meta = network.Meta{}
	}

	if c.forward != nil {
		if err := c.forward(&frame, meta, destAddress, opts); err != nil {
			return meta, err
		}
	}
	return meta, c.encodeAndSend(&frame, meta)
}

// encodeAndSend runs the security pipeline's frame-level placeholder
// layers, serializes frame (which runs the security pipeline's
// attribute-level Target transforms via the serializer's own encode
// callbacks, see security.Security.WireCallbacks), and hands the
// resulting bytes to the network overlay's Send. Shared tail of
// SendPayload and Send.
func (c *Channel) encodeAndSend(frame *network.Frame, meta network.Meta) error {
	if c.sec != nil {
		if err := c.sec.ProcessSend(frame, meta); err != nil {
			return err
		}
	}

	encoded, err := c.serializer.Encode([]codec.LayerValues(*frame))
	if err != nil {
		return err
	}

	return c.overlay.Send(encoded)
}

// Process finishes decoding raw received bytes: parses the wire codec
// (which runs the security pipeline's attribute-level Target transforms
// via the serializer's own decode callbacks, verifying/decrypting before
// type conversion), strips the security pipeline's frame-level
// placeholder layers, then runs the network overlay's ProcessRecv.
// Mirrors Channel.process; implements orchestrator.ChannelProcessor.
func (c *Channel) Process(data []byte, meta network.Meta) ([]byte, network.Meta, bool) {
	if meta == nil {
		meta = network.Meta{}
	}

	layers, _, err := c.serializer.Decode(data)
	if err != nil {
		return nil, meta, false
	}
	frame := network.Frame(layers)

	if c.sec != nil {
		if err := c.sec.ProcessRecv(&frame, meta); err != nil {
			return nil, meta, false
		}
	}

	ok, err := c.overlay.ProcessRecv(&frame, meta)
	if err != nil || !ok {
		return nil, meta, false
	}

	payload, found := frame.Pop()
	if !found {
		return nil, meta, false
	}
	bytes, _ := payload.Headers["payload"].([]byte)
	return bytes, meta, true
}

// Receive retrieves the next fully-processed payload. Mirrors
// Channel.receive.
func (c *Channel) Receive() ([]byte, network.Meta) {
	return c.overlay.Receive()
}

// channelProcessor adapts *Channel to orchestrator.ChannelProcessor
// without exposing Process as part of Channel's own public API surface
// beyond what orchestrator needs.
type channelProcessor struct{ ch *Channel }

func (p channelProcessor) ID() byte { return p.ch.ID() }
func (p channelProcessor) Process(data []byte, meta network.Meta) ([]byte, network.Meta, bool) {
	return p.ch.Process(data, meta)
}

var _ orchestrator.ChannelProcessor = channelProcessor{}
var _ network.Forwarder = (*Channel)(nil)
