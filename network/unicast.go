// File: network/unicast.go
//
// Unicast addresses a single destination by appending an address header
// atop whatever Base adds. A received frame is accepted only if it is
// addressed to this node or to the promiscuous (broadcast) address.
//
// Grounded on network_primitives/unicast.py's Unicast class.
package network

import (
	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
	"github.com/meshwire/cuttlefish/internal/concurrency"
)

// Unicast is a point-to-point overlay atop Base.
type Unicast struct {
	*Base

	ackRequestIndex map[string]*concurrency.RingBuffer[byte]
	ackBufferSize   uint64
}

// NewUnicast constructs a Unicast overlay for the given node address.
func NewUnicast(address []byte, addressSize int) *Unicast {
	return &Unicast{
		Base:            NewBase(address, addressSize, 3),
		ackRequestIndex: make(map[string]*concurrency.RingBuffer[byte]),
		ackBufferSize:   10,
	}
}

// InitConnection appends the destination address header on top of
// whatever Base.InitConnection added.
func (u *Unicast) InitConnection(scheme *codec.Scheme, channelID byte, sink PacketSink, sched ConnectionScheduler, opts Options) error {
	if err := u.Base.InitConnection(scheme, channelID, sink, sched, opts); err != nil {
		return err
	}
	scheme.AppendLayer([]codec.Attribute{u.addressAttr}, nil)
	return nil
}

// ProcessSend appends the destination address layer after running the
// Base pipeline. If ackType requests IS_ACK but no ack id is queued for
// destAddress, the IS_ACK bit is cleared rather than aborting the send
// (mirrors unicast.py's process_send masking ack_type & 1 on
// RingBufferUnderflow — see Open Question 1).
func (u *Unicast) ProcessSend(frame *Frame, meta Meta, destAddress []byte, opts SendOptions) error {
	ackType := opts.AckType
	if ackType&IsAck != 0 {
		if buf, ok := u.ackRequestIndex[string(destAddress)]; ok {
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

	if err := u.Base.ProcessSend(frame, meta, opts); err != nil {
		return err
	}

	frame.Push(codec.LayerValues{Headers: map[string]any{"address": destAddress}})
	return nil
}

// ProcessRecv accepts the frame only if it is addressed to this node or
// to the promiscuous address.
func (u *Unicast) ProcessRecv(frame *Frame, meta Meta) (bool, error) {
	layer, ok := frame.Pop()
	if !ok {
		return false, api.NewError(api.ErrCodeSizeMismatch, "frame missing address layer")
	}
	address, _ := layer.Headers["address"].([]byte)

	if !addressEqual(address, u.Address) && !addressEqual(address, u.PromiscuousAddress) {
		return false, nil
	}

	ok, err := u.Base.ProcessRecv(frame, meta)
	if err != nil || !ok {
		return false, err
	}

	if ackType, _ := meta["ack_type"].(byte); ackType&NeedsAck != 0 {
		sender, _ := meta["sender_address"].([]byte)
		packetID, _ := meta["packet_id"].(byte)
		u.InsertAckRequestID(sender, packetID)
	}

	return true, nil
}

// InsertAckRequestID records that address is awaiting an ack with the
// given id, so a subsequent send to address can piggyback an IS_ACK
// response.
func (u *Unicast) InsertAckRequestID(address []byte, ackID byte) {
	key := string(address)
	buf, ok := u.ackRequestIndex[key]
	if !ok {
		buf = concurrency.NewRingBuffer[byte](u.ackBufferSize)
		u.ackRequestIndex[key] = buf
	}
	buf.Push(ackID)
}

func addressEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
