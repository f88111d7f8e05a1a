// File: network/multihop.go
//
// MultihopUnicast routes a frame through a static routing table: each hop
// decides, from intermediate/dest/origin address headers, whether it is
// the final destination, an intermediate relay, or neither.
//
// Grounded on network_primitives/unicast_mh.py's MultihopUnicast class.
package network

import (
	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
	"github.com/meshwire/cuttlefish/internal/concurrency"
)

// Forwarder is the subset of channel.Channel a relay node needs to
// re-send a frame it is forwarding on behalf of another node. A narrow
// interface here (rather than importing the channel package) avoids an
// import cycle.
type Forwarder interface {
	Send(frame Frame, meta Meta, destAddress []byte, opts SendOptions) (Meta, error)
}

// MultihopUnicast is a store-and-forward overlay atop Base, routed by a
// static address table.
//
// Forwarding re-serializes an already-decoded frame through the same
// Scheme it was decoded with (Open Question 3): the forwarder and the
// originator must be constructed with identical schemes, or forwarded
// frames will not re-encode to valid wire bytes.
type MultihopUnicast struct {
	*Base

	RoutingTable map[string][]byte
	Channel      Forwarder

	intermediateAttr codec.Attribute
	destAttr         codec.Attribute
	originAttr       codec.Attribute

	ackRequestIndex map[string]*concurrency.RingBuffer[byte]
}

// NewMultihopUnicast constructs a multi-hop overlay for address, routing
// unicast sends through routingTable (destination address string ->
// next-hop address).
func NewMultihopUnicast(address []byte, addressSize int, routingTable map[string][]byte) *MultihopUnicast {
	m := &MultihopUnicast{
		Base:            NewBase(address, addressSize, 3),
		RoutingTable:    routingTable,
		ackRequestIndex: make(map[string]*concurrency.RingBuffer[byte]),
	}
	m.intermediateAttr = mustAttr("intermediate_address", addressSize)
	m.destAttr = mustAttr("dest_address", addressSize)
	m.originAttr = mustAttr("origin_address", addressSize)
	return m
}

// InitConnection appends the intermediate/dest/origin address headers.
func (m *MultihopUnicast) InitConnection(scheme *codec.Scheme, channelID byte, sink PacketSink, sched ConnectionScheduler, opts Options) error {
	if err := m.Base.InitConnection(scheme, channelID, sink, sched, opts); err != nil {
		return err
	}
	scheme.AppendLayer([]codec.Attribute{m.intermediateAttr, m.destAttr, m.originAttr}, nil)
	return nil
}

// ProcessSend resolves destAddress's next hop from the routing table and
// appends the intermediate/dest/origin layer.
func (m *MultihopUnicast) ProcessSend(frame *Frame, meta Meta, destAddress []byte, originAddress []byte, opts SendOptions) error {
	ackType := opts.AckType
	if ackType&IsAck != 0 {
		if buf, ok := m.ackRequestIndex[string(destAddress)]; ok {
			if id, err := buf.Pop(); err == nil {
				opts.AckReqID = &id
			} else {
				ackType &= 1
			}
		} else {
			ackType &= 1
		}
	}
	opts.AckType = ackType
	opts.DestAddress = destAddress

	if err := m.Base.ProcessSend(frame, meta, opts); err != nil {
		return err
	}

	intermediate, ok := m.RoutingTable[string(destAddress)]
	if !ok {
		return api.NewError(api.ErrCodeSchedulerConfiguration, "no route to destination").
			WithContext("destination", destAddress)
	}

	origin := originAddress
	if origin == nil {
		origin = m.Address
	}

	frame.Push(codec.LayerValues{Headers: map[string]any{
		"intermediate_address": intermediate,
		"dest_address":         destAddress,
		"origin_address":       origin,
	}})
	return nil
}

// ProcessRecv inspects the intermediate/dest/origin header and either
// finishes decoding a frame addressed to this node, forwards it toward
// its destination, or rebroadcasts it, mirroring
// MultihopUnicast.process_recv.
func (m *MultihopUnicast) ProcessRecv(frame *Frame, meta Meta) (bool, error) {
	layer, ok := frame.Pop()
	if !ok {
		return false, api.NewError(api.ErrCodeSizeMismatch, "frame missing routing layer")
	}
	intermediate, _ := layer.Headers["intermediate_address"].([]byte)
	dest, _ := layer.Headers["dest_address"].([]byte)
	origin, _ := layer.Headers["origin_address"].([]byte)

	meta["origin_address"] = origin

	ok, err := m.Base.ProcessRecv(frame, meta)
	if err != nil || !ok {
		return false, err
	}

	switch {
	case addressEqual(dest, m.Address):
		if ackType, _ := meta["ack_type"].(byte); ackType&NeedsAck != 0 {
			packetID, _ := meta["packet_id"].(byte)
			m.InsertAckRequestID(origin, packetID)
		}
		return true, nil

	case addressEqual(intermediate, m.Address):
		ackType, _ := meta["ack_type"].(byte)
		var ackReqID *byte
		if id, ok := meta["ack_req_id"].(byte); ok {
			ackReqID = &id
		}
		var packetID *byte
		if id, ok := meta["packet_id"].(byte); ok {
			packetID = &id
		}
		relayMeta := Meta{"origin_address": origin}
		_, err := m.Channel.Send(frame.Clone(), relayMeta, dest, SendOptions{AckType: ackType, AckReqID: ackReqID, PacketID: packetID})
		return false, err

	case addressEqual(intermediate, m.PromiscuousAddress):
		relayMeta := Meta{"origin_address": origin}
		_, err := m.Channel.Send(frame.Clone(), relayMeta, m.PromiscuousAddress, SendOptions{})
		return false, err

	default:
		return false, nil
	}
}

// InsertAckRequestID records that address is awaiting an ack with the
// given id.
func (m *MultihopUnicast) InsertAckRequestID(address []byte, ackID byte) {
	key := string(address)
	buf, ok := m.ackRequestIndex[key]
	if !ok {
		buf = concurrency.NewRingBuffer[byte](10)
		m.ackRequestIndex[key] = buf
	}
	buf.Push(ackID)
}
