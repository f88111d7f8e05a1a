// File: scheduler/modes.go
//
// Schedule modes govern when a channel's uplink (send) and downlink
// (receive) actually run: periodically on independent timers
// (asynchronous), on demand when the application calls Send/Receive
// (synchronous), or in bounded receive windows following every
// transmission (implicitly synchronous, LoRaWAN-style).
//
// Grounded on scheduler/modes.py's asynchronous_schedule/
// synchronous_schedule/implicitly_synchronous_schedule/
// implicitly_synchronous_schedule_gateway. Fixes the Open Question 2 bug
// in scheduler.py's module-level downlink function, where
// `channel_id = kwargs` silently took on the wrong type (nearest to a
// bug rather than a deliberate design point) — downlink here always
// takes channelID as its own explicit parameter.
package scheduler

import (
	"time"

	"github.com/meshwire/cuttlefish/network"
)

// Mode selects one of the schedule patterns below.
type Mode int

const (
	Asynchronous Mode = iota
	Synchronous
	ImplicitSynchronous
	ImplicitSynchronousGateway
)

// Options configures a channel's schedule mode, mirroring the keyword
// arguments threaded through set_connection_parameters and the various
// *_schedule functions.
type Options struct {
	Mode Mode

	// Asynchronous mode.
	UplinkInterval          time.Duration
	DownlinkInterval        time.Duration
	UplinkDownlinkInterval  time.Duration

	// Implicitly synchronous (LoRaWAN-like) mode.
	ReceiveDelay time.Duration
	RX1, RX2     time.Duration

	BufferSize   int
	SentCallback func(data []byte)
	RecvCallback func(data []byte)
}

func (o Options) bufferSize() int {
	if o.BufferSize > 0 {
		return o.BufferSize
	}
	return 32
}

// synchronousSchedule returns uplink/downlink functions run directly by
// Base.Send/Base.Receive, mirroring synchronous_schedule's
// initiate_transmission/initiate_receive closures.
func (s *Scheduler) synchronousSchedule(channelID byte, opts Options) network.ImmediateTransmit {
	return network.ImmediateTransmit{
		Send: func() { s.uplink(channelID, opts) },
		Recv: func() { s.downlink(channelID, opts) },
	}
}

// implicitSynchronousSchedule transmits, then opens two successive
// receive windows (rx1, then rx2 if rx1 found nothing), mirroring
// implicitly_synchronous_schedule's LoRaWAN-like recv_window retries.
// There is no standalone downlink callback: receive only ever happens as
// part of a transmission window.
func (s *Scheduler) implicitSynchronousSchedule(channelID byte, opts Options) network.ImmediateTransmit {
	send := func() {
		s.uplink(channelID, opts)
		time.Sleep(opts.ReceiveDelay)

		if !s.recvWindow(channelID, opts.RX1, opts) {
			s.recvWindow(channelID, opts.RX2, opts)
		}
	}
	return network.ImmediateTransmit{Send: send}
}

func (s *Scheduler) recvWindow(channelID byte, window time.Duration, opts Options) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if s.downlink(channelID, opts) {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// implicitSynchronousGatewaySchedule offers send/recv as two independent
// callbacks rather than coupling receive windows to every send — the
// gateway side of an implicitly-synchronous link, which must listen for
// uplinks from many nodes rather than wait on one reply. Mirrors
// implicitly_synchronous_schedule_gateway.
func (s *Scheduler) implicitSynchronousGatewaySchedule(channelID byte, opts Options) network.ImmediateTransmit {
	return network.ImmediateTransmit{
		Send: func() { s.uplink(channelID, opts) },
		Recv: func() { s.downlink(channelID, opts) },
	}
}
