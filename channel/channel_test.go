package channel

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
	"github.com/meshwire/cuttlefish/network"
	"github.com/meshwire/cuttlefish/orchestrator"
	"github.com/meshwire/cuttlefish/security"
)

// recordingHandler implements api.Handler, recording every call it sees.
type recordingHandler struct {
	mu    sync.Mutex
	calls [][]byte
}

func (h *recordingHandler) Handle(frame any, meta map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, _ := frame.([]byte)
	h.calls = append(h.calls, data)
	return nil
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func payloadScheme(t *testing.T) *codec.Scheme {
	t.Helper()
	scheme := codec.NewScheme()
	payloadAttr, err := codec.NewAttribute(codec.Attribute{Name: "payload", Size: 8, Type: codec.TypeBytes})
	if err != nil {
		t.Fatalf("payload attribute: %v", err)
	}
	scheme.AppendLayer([]codec.Attribute{payloadAttr}, nil)
	return scheme
}

// fakeOverlay is a minimal Overlay: it records every Send call, accepts
// or rejects ProcessRecv according to accept, and replays a queued (data, meta) pair on Receive.
type fakeOverlay struct {
	accept    bool
	sent      [][]byte
	recvData  [][]byte
	recvMetas []network.Meta
}

func (f *fakeOverlay) ProcessRecv(frame *network.Frame, meta network.Meta) (bool, error) {
	return f.accept, nil
}

func (f *fakeOverlay) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeOverlay) Receive() ([]byte, network.Meta) {
	if len(f.recvData) == 0 {
		return nil, network.Meta{}
	}
	d := f.recvData[0]
	m := f.recvMetas[0]
	f.recvData = f.recvData[1:]
	f.recvMetas = f.recvMetas[1:]
	return d, m
}

func noopBuild(frame *network.Frame, meta network.Meta) error { return nil }

func TestChannel_SendPayloadThenProcessRoundTrip(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{accept: true}

	ch, err := New(Config{
		ID:             4,
		EncodingScheme: scheme,
		Overlay:        overlay,
	})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	payload := codec.LayerValues{Headers: map[string]any{"payload": []byte("ROUNDTRP")}}
	if _, err := ch.SendPayload(payload, noopBuild); err != nil {
		t.Fatalf("send payload: %v", err)
	}
	if len(overlay.sent) != 1 {
		t.Fatalf("expected one overlay.Send call, got %d", len(overlay.sent))
	}

	got, _, ok := ch.Process(overlay.sent[0], network.Meta{})
	if !ok {
		t.Fatalf("expected Process to accept the round-tripped bytes")
	}
	if !bytes.Equal(got, []byte("ROUNDTRP")) {
		t.Fatalf("got payload %q, want %q", got, "ROUNDTRP")
	}
}

func TestChannel_ProcessRejectsWhenOverlayDeclines(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{accept: true}

	ch, err := New(Config{ID: 1, EncodingScheme: scheme, Overlay: overlay})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	payload := codec.LayerValues{Headers: map[string]any{"payload": []byte("DECLINED")}}
	if _, err := ch.SendPayload(payload, noopBuild); err != nil {
		t.Fatalf("send payload: %v", err)
	}
	encoded := overlay.sent[0]

	overlay.accept = false
	if _, _, ok := ch.Process(encoded, network.Meta{}); ok {
		t.Fatalf("expected Process to reject once the overlay declines")
	}
}

func TestChannel_SendUsesForwardFrameAndImplementsForwarder(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{accept: true}

	var forwardedDest []byte
	var forwardCalled bool
	ch, err := New(Config{
		ID:             2,
		EncodingScheme: scheme,
		Overlay:        overlay,
		Forward: func(frame *network.Frame, meta network.Meta, destAddress []byte, opts network.SendOptions) error {
			forwardCalled = true
			forwardedDest = destAddress
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	var forwarder network.Forwarder = ch
	frame := network.Frame{{Headers: map[string]any{"payload": []byte("RELAYED!")}}}
	dest := []byte{9, 9, 9, 9}
	if _, err := forwarder.Send(frame, network.Meta{}, dest, network.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !forwardCalled {
		t.Fatalf("expected the configured ForwardFrame closure to run")
	}
	if !bytes.Equal(forwardedDest, dest) {
		t.Fatalf("expected forward to see dest %v, got %v", dest, forwardedDest)
	}
	if len(overlay.sent) != 1 {
		t.Fatalf("expected the relayed frame to reach overlay.Send")
	}
}

func TestChannel_SecurityPipelineAppliesOnSendAndRecv(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{accept: true}

	key := bytes.Repeat([]byte{0x07}, 16)
	target := security.Target{0: {"payload"}}
	sec := security.New(security.NewAESCTR(key, key, target), security.NewHMAC(key, key, target))

	ch, err := New(Config{
		ID:             3,
		EncodingScheme: scheme,
		Overlay:        overlay,
		Security:       sec,
	})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	payload := codec.LayerValues{Headers: map[string]any{"payload": []byte("SECURED1")}}
	if _, err := ch.SendPayload(payload, noopBuild); err != nil {
		t.Fatalf("send payload: %v", err)
	}
	if len(overlay.sent) != 1 {
		t.Fatalf("expected one overlay.Send call, got %d", len(overlay.sent))
	}

	got, _, ok := ch.Process(overlay.sent[0], network.Meta{})
	if !ok {
		t.Fatalf("expected Process to accept the secured, round-tripped bytes")
	}
	if !bytes.Equal(got, []byte("SECURED1")) {
		t.Fatalf("got payload %q, want %q", got, "SECURED1")
	}
}

// TestChannel_SecurityTargetLeavesUntargetedAttributeInClear exercises the
// selective-protection use case a whole-buffer transform couldn't
// support: a Target naming only the payload attribute leaves a routing
// header in a different layer readable on the wire, unchanged.
func TestChannel_SecurityTargetLeavesUntargetedAttributeInClear(t *testing.T) {
	scheme := codec.NewScheme()
	routeAttr, err := codec.NewAttribute(codec.Attribute{Name: "route", Size: 4, Type: codec.TypeBytes})
	if err != nil {
		t.Fatalf("route attribute: %v", err)
	}
	payloadAttr, err := codec.NewAttribute(codec.Attribute{Name: "payload", Size: 8, Type: codec.TypeBytes})
	if err != nil {
		t.Fatalf("payload attribute: %v", err)
	}
	scheme.AppendLayer([]codec.Attribute{payloadAttr}, nil)
	scheme.AppendLayer([]codec.Attribute{routeAttr}, nil)

	overlay := &fakeOverlay{accept: true}

	key := bytes.Repeat([]byte{0x09}, 16)
	target := security.Target{0: {"payload"}}
	sec := security.New(security.NewAESCTR(key, key, target))

	ch, err := New(Config{ID: 5, EncodingScheme: scheme, Overlay: overlay, Security: sec})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	route := []byte{1, 2, 3, 4}
	build := func(frame *network.Frame, meta network.Meta) error {
		frame.Push(codec.LayerValues{Headers: map[string]any{"route": route}})
		return nil
	}

	payload := codec.LayerValues{Headers: map[string]any{"payload": []byte("CLEARTXT")}}
	if _, err := ch.SendPayload(payload, build); err != nil {
		t.Fatalf("send payload: %v", err)
	}
	wire := overlay.sent[0]

	if !bytes.Contains(wire, route) {
		t.Fatalf("expected untargeted route attribute %v to appear unencrypted on the wire, got %v", route, wire)
	}
	if bytes.Contains(wire, []byte("CLEARTXT")) {
		t.Fatalf("expected targeted payload attribute to be encrypted, found plaintext in %v", wire)
	}
}

func TestChannel_HandlerReceivesProcessedPayload(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{accept: true}
	orch := orchestrator.New(16, 16)
	orch.Start()
	defer orch.Close()

	handler := &recordingHandler{}
	ch, err := New(Config{
		ID:             9,
		EncodingScheme: scheme,
		Overlay:        overlay,
		Orchestrator:   orch,
		Handler:        handler,
	})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	payload := codec.LayerValues{Headers: map[string]any{"payload": []byte("HANDLED!")}}
	if _, err := ch.SendPayload(payload, noopBuild); err != nil {
		t.Fatalf("send payload: %v", err)
	}

	// Route the round-tripped bytes through the orchestrator's task queue
	// (rather than calling ch.Process directly) since SetProcessedCallback
	// only fires from processTask's PROCESSED branch.
	if err := orch.AddTask(ch.ID(), orchestrator.Received, overlay.sent[0], network.Meta{}); err != nil {
		t.Fatalf("add task: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if handler.callCount() == 1 {
			if !bytes.Equal(handler.calls[0], []byte("HANDLED!")) {
				t.Fatalf("handler saw %q, want %q", handler.calls[0], "HANDLED!")
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected the configured Handler to be invoked once, got %d calls", handler.callCount())
}

func TestChannel_EmitsConnectAndDisconnectEvents(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{accept: true}
	orch := orchestrator.New(16, 16)

	var mu sync.Mutex
	var events []any
	ch, err := New(Config{
		ID:             11,
		EncodingScheme: scheme,
		Overlay:        overlay,
		Orchestrator:   orch,
		OnEvent: func(event any) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	ch.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected a ConnectEvent and a DisconnectEvent, got %v", events)
	}
	connect, ok := events[0].(api.ConnectEvent)
	if !ok || connect.ChannelID != 11 {
		t.Fatalf("expected first event to be a ConnectEvent for channel 11, got %#v", events[0])
	}
	disconnect, ok := events[1].(api.DisconnectEvent)
	if !ok || disconnect.ChannelID != 11 {
		t.Fatalf("expected second event to be a DisconnectEvent for channel 11, got %#v", events[1])
	}
}

func TestChannel_ReceiveDelegatesToOverlay(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{
		accept:    true,
		recvData:  [][]byte{[]byte("queued!!")},
		recvMetas: []network.Meta{{"k": "v"}},
	}
	ch, err := New(Config{ID: 6, EncodingScheme: scheme, Overlay: overlay})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	data, meta := ch.Receive()
	if !bytes.Equal(data, []byte("queued!!")) {
		t.Fatalf("got %q, want %q", data, "queued!!")
	}
	if meta["k"] != "v" {
		t.Fatalf("expected meta to pass through, got %v", meta)
	}
}

func TestChannel_RegistersWithOrchestratorWhenConfigured(t *testing.T) {
	scheme := payloadScheme(t)
	overlay := &fakeOverlay{accept: true}
	orch := orchestrator.New(16, 16)

	ch, err := New(Config{
		ID:             8,
		EncodingScheme: scheme,
		Overlay:        overlay,
		Orchestrator:   orch,
	})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if ch.ID() != 8 {
		t.Fatalf("expected channel id 8, got %d", ch.ID())
	}

	if err := orch.SendPacket(8, []byte("x")); err != nil {
		t.Fatalf("expected channel 8 registered with orchestrator: %v", err)
	}
}
