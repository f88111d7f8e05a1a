// File: network/flooding.go
//
// Flooding is a generalized Trickle algorithm: each node periodically
// checks whether its neighbors already agree on a piece of state and, if
// not, accelerates retransmission to converge faster; once consistent it
// backs off toward I_MAX to save airtime.
//
// Grounded on adapter/sim_net_flooding.py's NetworkFloodingSim. The
// Python implementation drives its interval/transmit alarms with
// _thread.start_new_thread busy-wait loops polling a threading.Event; here
// the api.Scheduler timer primitive (internal/concurrency.Scheduler)
// replaces both the busy-wait and the thread spawn with a single
// cancelable deadline callback.
package network

import (
	"math/rand"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
)

// FlaggedAttribute identifies one tracked attribute by its position in a
// decoded Frame: LayerIndex into the frame's layer slice, AttrName within
// that layer's header map. Mirrors a single (layer_i, attr_i) entry of
// Python's flagged_attributes dict, renamed from an index to an attribute
// name since Go's LayerValues is keyed by name rather than by list
// position.
type FlaggedAttribute struct {
	LayerIndex int
	AttrName   string
}

// ConsistencyCheck reports whether received matches the node's current
// last-known flagged values. Mirrors is_consistent_callback.
type ConsistencyCheck func(received, lastKnown []any) bool

// DefaultDataUpdate merges newly-received data into the node's
// authoritative default payload, returning the updated Frame. Mirrors the
// update callback.
type DefaultDataUpdate func(defaultData Frame, newData Frame) Frame

// Forwarder is already used for MultihopUnicast forwarding; Flooding
// reuses Send(frame, meta, dest, opts) with Base's PromiscuousAddress as
// the destination, since flooding has no single destination.

// Flooding implements the Trickle-style dissemination overlay atop Base.
type Flooding struct {
	*Base

	FlaggedAttributes []FlaggedAttribute
	IMin, IMax        int64 // nanoseconds
	RedundancyConst   int

	IsConsistent ConsistencyCheck
	Update       DefaultDataUpdate

	Versioning    bool
	versionIDAttr codec.Attribute
	versionID     uint64

	DefaultData      Frame
	lastFlaggedData  []any

	Channel Forwarder
	sched   api.Scheduler

	intervalLength int64
	transmitTime   int64
	counter        int

	intervalAlarm api.Cancelable
	transmitAlarm api.Cancelable
}

// FloodingOptions configures NewFlooding, mirroring
// NetworkFloodingSim.__init__'s keyword arguments.
type FloodingOptions struct {
	IMinMillis, IMaxMillis int64
	RedundancyConst        int
	Versioning             bool
	VersionIDSize          int
	IsConsistent           ConsistencyCheck
	Update                 DefaultDataUpdate
	DefaultData            Frame
}

// NewFlooding constructs a Flooding overlay. flagged identifies which
// attributes are compared for consistency across received frames.
func NewFlooding(address []byte, addressSize int, flagged []FlaggedAttribute, opts FloodingOptions) *Flooding {
	redundancy := opts.RedundancyConst
	if redundancy == 0 {
		redundancy = 1
	}
	versionIDSize := opts.VersionIDSize
	if versionIDSize == 0 {
		versionIDSize = 2
	}

	fl := &Flooding{
		Base:              NewBase(address, addressSize, 3),
		FlaggedAttributes: flagged,
		IMin:              opts.IMinMillis * 1_000_000,
		IMax:              opts.IMaxMillis * 1_000_000,
		RedundancyConst:   redundancy,
		IsConsistent:      opts.IsConsistent,
		Update:            opts.Update,
		Versioning:        opts.Versioning,
		DefaultData:       opts.DefaultData,
	}
	fl.versionIDAttr, _ = codec.NewAttribute(codec.Attribute{Name: "version_id", Size: versionIDSize, Type: codec.TypeInt})
	return fl
}

// InitConnection appends the version_id header (if versioning is
// enabled), wires the scheduler for Trickle timers, and starts the first
// interval. sched is the api.Scheduler used for interval/transmit alarms
// (distinct from the ConnectionScheduler parameter, which wires
// synchronous-mode immediate send/recv hooks).
func (fl *Flooding) InitConnection(scheme *codec.Scheme, channelID byte, sink PacketSink, connSched ConnectionScheduler, sched api.Scheduler, ch Forwarder, opts Options) error {
	if err := fl.Base.InitConnection(scheme, channelID, sink, connSched, opts); err != nil {
		return err
	}
	fl.Channel = ch
	fl.sched = sched

	if fl.Versioning {
		scheme.AppendLayer([]codec.Attribute{fl.versionIDAttr}, nil)
	}

	fl.lastFlaggedData = fl.getFlaggedAttributes(fl.DefaultData)
	fl.startInterval()
	return nil
}

// ProcessRecv strips the version_id layer (if versioning), compares the
// flagged attributes against the node's last-known state, and either
// counts this frame toward suppressing retransmission or resets the
// Trickle interval to converge faster. Mirrors
// NetworkFloodingSim.process_recv.
func (fl *Flooding) ProcessRecv(frame *Frame, meta Meta) (bool, error) {
	ok, err := fl.Base.ProcessRecv(frame, meta)
	if err != nil || !ok {
		return ok, err
	}

	versionID := fl.versionID
	if fl.Versioning {
		layer, popped := frame.Pop()
		if popped {
			versionID, _ = layer.Headers["version_id"].(uint64)
		}
	}

	flagged := fl.getFlaggedAttributes(*frame)

	if fl.IsConsistent(flagged, fl.lastFlaggedData) && versionID == fl.versionID {
		fl.counter++
	} else if fl.intervalLength > fl.IMin {
		if versionID > fl.versionID || !fl.Versioning {
			fl.updateDefaultData(*frame, versionID)
		}
		fl.resetInterval()
	}

	return true, nil
}

func (fl *Flooding) getFlaggedAttributes(data Frame) []any {
	out := make([]any, 0, len(fl.FlaggedAttributes))
	for _, fa := range fl.FlaggedAttributes {
		if fa.LayerIndex < 0 || fa.LayerIndex >= len(data) {
			out = append(out, nil)
			continue
		}
		out = append(out, data[fa.LayerIndex].Headers[fa.AttrName])
	}
	return out
}

func (fl *Flooding) updateDefaultData(newData Frame, versionID uint64) {
	fl.DefaultData = fl.Update(fl.DefaultData, newData)
	fl.lastFlaggedData = fl.getFlaggedAttributes(newData)

	if versionID != 0 {
		fl.versionID = versionID
	} else if fl.Versioning {
		fl.versionID++
	}
}

func (fl *Flooding) startInterval() {
	delta := fl.IMax - fl.IMin
	fl.intervalLength = fl.IMin + int64(float64(delta)*rand.Float64())
	fl.resetPrimitives()
}

func (fl *Flooding) restartInterval() {
	doubled := fl.intervalLength * 2
	if doubled > fl.IMax {
		fl.intervalLength = fl.IMax
	} else {
		fl.intervalLength = doubled
	}
	fl.resetPrimitives()
}

// resetInterval cancels any pending alarms and restarts at I_MIN,
// mirroring reset_interval's cancel_flag.set() followed by a fresh
// reset_primitives call.
func (fl *Flooding) resetInterval() {
	fl.cancelAlarms()
	fl.intervalLength = fl.IMin
	fl.resetPrimitives()
}

func (fl *Flooding) resetPrimitives() {
	fl.cancelAlarms()

	half := fl.intervalLength / 2
	fl.transmitTime = half + int64(float64(half)*rand.Float64())
	fl.counter = 0

	fl.transmitAlarm, _ = fl.sched.Schedule(fl.transmitTime, fl.uplink)
	fl.intervalAlarm, _ = fl.sched.Schedule(fl.intervalLength, fl.restartInterval)
}

func (fl *Flooding) cancelAlarms() {
	if fl.transmitAlarm != nil {
		fl.transmitAlarm.Cancel()
	}
	if fl.intervalAlarm != nil {
		fl.intervalAlarm.Cancel()
	}
}

// uplink transmits the default payload if fewer than RedundancyConst
// consistent copies have been overheard this interval, mirroring uplink's
// counter < REDUNDANCY_CONST guard.
func (fl *Flooding) uplink() {
	if fl.counter < fl.RedundancyConst {
		payload := fl.DefaultData.Clone()
		fl.Channel.Send(payload, Meta{}, fl.PromiscuousAddress, SendOptions{})
	}
}

// Disconnect cancels any pending Trickle alarms, mirroring
// NetworkFloodingSim.disconnect's cancel_flag.set().
func (fl *Flooding) Disconnect() {
	fl.cancelAlarms()
}
