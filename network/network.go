// File: network/network.go
//
// Base implements the address-, sequencing- and acknowledgment-tracking
// behavior shared by every overlay (Unicast, MultihopUnicast, Broadcast,
// Flooding): an optional per-destination send counter, an optional sender
// identification header, and an optional ack request/response protocol.
// Overlay-specific addressing is layered on top by embedding Base.
//
// Grounded on network_primitives/network.py's Network class. crypto/rand
// replaces os.urandom for seeding the ack packet_id counter (§6 names a
// cryptographically-secure random source for this and for AES IVs).
package network

import (
	"crypto/rand"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
)

// Ack type bits, mirroring network_primitives/network.py's NEEDS_ACK/IS_ACK.
const (
	NeedsAck byte = 1
	IsAck    byte = 2
)

// PacketSink is the subset of orchestrator.Orchestrator a network overlay
// needs: handing off an encoded frame for transmission and retrieving the
// next fully-processed received frame. A narrow interface here, rather
// than importing the orchestrator package directly, avoids an import
// cycle (channel wires both together).
type PacketSink interface {
	SendPacket(channelID byte, data []byte) error
	Retrieve(channelID byte) ([]byte, Meta)
}

// ImmediateTransmit are the optional synchronous-mode callbacks returned
// by a connection scheduler, mirroring Network.init_connection's
// immediate_send/immediate_recv unpacking of
// scheduler.set_connection_parameters' return value.
type ImmediateTransmit struct {
	Send func()
	Recv func()
}

// ConnectionScheduler is the subset of scheduler.Scheduler a network
// overlay needs at connection setup.
type ConnectionScheduler interface {
	SetConnectionParameters(channelID byte, opts any) (ImmediateTransmit, error)
}

// Options configures Base.InitConnection, mirroring the keyword arguments
// threaded through Python's Network.init_connection.
type Options struct {
	Identified  bool
	Ack         bool
	Counter     bool
	AckCallback func(ackID byte)
	AckBufferSize int
}

// Base is the address-agnostic core of every overlay.
type Base struct {
	Address            []byte
	AddressSize        int
	CounterSize        int
	PromiscuousAddress []byte

	addressAttr   codec.Attribute
	idAddressAttr codec.Attribute

	Sink      PacketSink
	Scheduler ConnectionScheduler
	ChannelID byte

	Counter    bool
	Identified bool
	Ack        bool

	counterSendIndex map[string]uint64
	counterRecvIndex map[string]uint64

	packetID      byte
	ackAwaitIndex map[byte]byte
	ackCallback   func(ackID byte)

	ImmediateSend func()
	ImmediateRecv func()
}

// NewBase constructs a Base overlay for the given node address.
func NewBase(address []byte, addressSize, counterSize int) *Base {
	promiscuous := make([]byte, addressSize)
	b := &Base{
		Address:            address,
		AddressSize:        addressSize,
		CounterSize:        counterSize,
		PromiscuousAddress: promiscuous,
		counterSendIndex:   make(map[string]uint64),
		counterRecvIndex:   make(map[string]uint64),
		ackAwaitIndex:      make(map[byte]byte),
	}
	b.addressAttr = mustAttr("address", addressSize)
	b.idAddressAttr = mustAttr("sender_address", addressSize)
	return b
}

func mustAttr(name string, size int) codec.Attribute {
	a, err := codec.NewAttribute(codec.Attribute{Name: name, Size: size, Type: codec.TypeBytes})
	if err != nil {
		// Size is always a caller-supplied constant here (address/counter
		// widths); a negative value is a construction-time programmer
		// error, not a runtime condition.
		panic(err)
	}
	return a
}

// InitConnection wires this overlay into a channel: it appends whichever
// scheme layers the configured behaviors (counter, ack, identified)
// require and seeds the ack packet_id counter from a secure random
// source, mirroring Network.init_connection.
func (b *Base) InitConnection(scheme *codec.Scheme, channelID byte, sink PacketSink, sched ConnectionScheduler, opts Options) error {
	b.Sink = sink
	b.Scheduler = sched
	b.ChannelID = channelID

	b.Counter = opts.Counter
	b.Identified = opts.Identified
	b.Ack = opts.Ack

	if opts.Counter {
		b.Identified = true
		counterAttr, err := codec.NewAttribute(codec.Attribute{Name: "counter", Size: b.CounterSize, Type: codec.TypeInt})
		if err != nil {
			return err
		}
		scheme.AppendLayer([]codec.Attribute{counterAttr}, nil)
	}

	if opts.Ack {
		b.Identified = true
		b.ackCallback = opts.AckCallback

		packetIDAttr, _ := codec.NewAttribute(codec.Attribute{Name: "packet_id", Size: 1, Type: codec.TypeInt})
		ackTypeAttr, _ := codec.NewAttribute(codec.Attribute{Name: "ack_type", Size: 1, Type: codec.TypeInt})
		ackAwaitAttr, _ := codec.NewAttribute(codec.Attribute{Name: "ack_await_id", Size: 1, Type: codec.TypeInt})
		scheme.AppendLayer([]codec.Attribute{packetIDAttr, ackTypeAttr, ackAwaitAttr}, nil)

		seed := make([]byte, 1)
		if _, err := rand.Read(seed); err != nil {
			return api.NewError(api.ErrCodeInternal, "failed to seed packet id: "+err.Error())
		}
		b.packetID = seed[0]
	}

	if opts.Ack || opts.Counter || opts.Identified {
		scheme.AppendLayer([]codec.Attribute{b.idAddressAttr}, nil)
	}

	if sched != nil {
		immediate, err := sched.SetConnectionParameters(channelID, opts)
		if err != nil {
			return err
		}
		b.ImmediateSend = immediate.Send
		b.ImmediateRecv = immediate.Recv
	}

	return nil
}

// SendOptions carries the per-send parameters process_send accepts as
// keyword arguments in Python (ack_type, ack_req_id, packet_id,
// dest_address via *args[0]).
type SendOptions struct {
	AckType   byte
	AckReqID  *byte
	PacketID  *byte

	// DestAddress is the per-destination key counterSend keys its
	// monotonic sequence by, mirroring Network.process_send's *args[0]
	// (supplied by Unicast/MultihopUnicast, which know their destination;
	// Broadcast leaves it nil, mirroring Broadcast never passing it on,
	// so every broadcast recipient shares one sequence).
	DestAddress []byte
}

// ProcessSend appends counter, ack and identification layers to frame in
// that order, mirroring Network.process_send.
func (b *Base) ProcessSend(frame *Frame, meta Meta, opts SendOptions) error {
	if b.Counter {
		b.counterSend(frame, opts.DestAddress)
	}
	if b.Ack {
		b.ackSend(frame, meta, opts.AckType, opts.AckReqID, opts.PacketID)
	}
	if b.Identified {
		b.identifiedSend(frame)
	}
	return nil
}

// ProcessRecv strips identification, ack and counter layers in that
// order, mirroring Network.process_recv. A false return means the frame
// was dropped (out-of-order counter value).
func (b *Base) ProcessRecv(frame *Frame, meta Meta) (bool, error) {
	if b.Identified {
		if err := b.identifiedRecv(frame, meta); err != nil {
			return false, err
		}
	}
	if b.Ack {
		b.ackRecv(frame, meta)
	}
	if b.Counter {
		if !b.counterRecv(frame, meta) {
			return false, nil
		}
	}
	return true, nil
}

// Send hands encoded bytes to the orchestrator and, in synchronous mode,
// immediately triggers the scheduler's uplink.
func (b *Base) Send(data []byte) error {
	if err := b.Sink.SendPacket(b.ChannelID, data); err != nil {
		return err
	}
	if b.ImmediateSend != nil {
		b.ImmediateSend()
	}
	return nil
}

// Receive triggers a synchronous downlink poll (if configured) then
// retrieves the next fully processed frame.
func (b *Base) Receive() ([]byte, Meta) {
	if b.ImmediateRecv != nil {
		b.ImmediateRecv()
	}
	return b.Sink.Retrieve(b.ChannelID)
}

// FindRemove looks up a pending ack await entry by ack id; if present, it
// invokes the registered ack callback and removes the entry. Mirrors
// Network.find_remove.
func (b *Base) FindRemove(ackID byte) bool {
	if _, ok := b.ackAwaitIndex[ackID]; !ok {
		return false
	}
	if b.ackCallback != nil {
		b.ackCallback(ackID)
	}
	delete(b.ackAwaitIndex, ackID)
	return true
}

// NewID advances and returns the next packet id, wrapping at 256.
func (b *Base) NewID() byte {
	b.packetID++
	return b.packetID
}

func (b *Base) counterSend(frame *Frame, destAddress []byte) {
	key := string(destAddress)
	counter := b.counterSendIndex[key]
	b.counterSendIndex[key] = counter + 1

	frame.Push(codec.LayerValues{Headers: map[string]any{"counter": counter}})
}

func (b *Base) counterRecv(frame *Frame, meta Meta) bool {
	layer, ok := frame.Pop()
	if !ok {
		return false
	}
	recvCounter, _ := layer.Headers["counter"].(uint64)

	senderAddress, _ := meta["sender_address"].([]byte)
	key := string(senderAddress)
	expected, seen := b.counterRecvIndex[key]
	if !seen {
		expected = recvCounter
	}

	if recvCounter < expected {
		return false
	}
	b.counterRecvIndex[key] = recvCounter + 1
	return true
}

func (b *Base) identifiedSend(frame *Frame) {
	frame.Push(codec.LayerValues{Headers: map[string]any{"sender_address": b.Address}})
}

func (b *Base) identifiedRecv(frame *Frame, meta Meta) error {
	layer, ok := frame.Pop()
	if !ok {
		return api.NewError(api.ErrCodeSizeMismatch, "frame missing identification layer")
	}
	meta["sender_address"] = layer.Headers["sender_address"]
	return nil
}

// ackSend appends the packet_id/ack_type/ack_await_id layer. Ack type bit
// semantics (§6): 00 none, 01 needs ack, 10 is ack, 11 both.
func (b *Base) ackSend(frame *Frame, meta Meta, ackType byte, ackReqID, packetID *byte) {
	var pid byte
	if packetID != nil {
		pid = *packetID
	} else {
		pid = b.NewID()
	}
	meta["packet_id"] = pid

	var awaitID byte
	if ackType&IsAck != 0 && ackReqID != nil {
		awaitID = *ackReqID
	}

	if ackType&NeedsAck != 0 {
		b.ackAwaitIndex[pid] = ackType
	}

	frame.Push(codec.LayerValues{Headers: map[string]any{
		"packet_id":     pid,
		"ack_type":      ackType,
		"ack_await_id":  awaitID,
	}})
}

func (b *Base) ackRecv(frame *Frame, meta Meta) {
	layer, ok := frame.Pop()
	if !ok {
		return
	}
	ackType, _ := layer.Headers["ack_type"].(uint64)
	packetID, _ := layer.Headers["packet_id"].(uint64)
	ackAwaitID, _ := layer.Headers["ack_await_id"].(uint64)

	meta["ack_type"] = byte(ackType)

	if ackType == 0 {
		return
	}
	if byte(ackType)&NeedsAck != 0 {
		meta["packet_id"] = byte(packetID)
	}
	if byte(ackType)&IsAck != 0 {
		if b.FindRemove(byte(ackAwaitID)) {
			meta["ack_req_id"] = byte(ackAwaitID)
		}
	}
}
