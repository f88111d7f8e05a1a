// File: network/broadcast.go
//
// Broadcast is the trivial overlay: it adds no address header of its own
// and always accepts what Base hands back, since every recipient on the
// channel is a valid destination.
//
// Grounded on network_primitives/broadcast.py's Broadcast class.
package network

import "github.com/meshwire/cuttlefish/codec"

// Broadcast is a no-addressing overlay atop Base: every node on the
// channel receives every frame.
type Broadcast struct {
	*Base
}

// NewBroadcast constructs a Broadcast overlay for the given node address.
// The address is only used for Base's identification/ack bookkeeping, not
// for any destination check on receive.
func NewBroadcast(address []byte, addressSize int) *Broadcast {
	return &Broadcast{Base: NewBase(address, addressSize, 3)}
}

// InitConnection delegates to Base unchanged; Broadcast adds no header.
func (br *Broadcast) InitConnection(scheme *codec.Scheme, channelID byte, sink PacketSink, sched ConnectionScheduler, opts Options) error {
	return br.Base.InitConnection(scheme, channelID, sink, sched, opts)
}

// ProcessSend delegates to Base unchanged.
func (br *Broadcast) ProcessSend(frame *Frame, meta Meta, opts SendOptions) error {
	return br.Base.ProcessSend(frame, meta, opts)
}

// ProcessRecv delegates to Base unchanged: there is no destination check,
// so every frame Base accepts (counter permitting) is addressed to everyone.
func (br *Broadcast) ProcessRecv(frame *Frame, meta Meta) (bool, error) {
	return br.Base.ProcessRecv(frame, meta)
}
