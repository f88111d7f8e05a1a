// File: network/frame.go
//
// Frame is the in-flight representation of a packet's attribute values
// while network overlays, security measures and the channel façade append
// and strip layers, before the frame is handed to codec.Serializer for
// final byte layout and after it comes back out of it. Frame's Push/Pop
// mirror the Python implementation's plain list.append/list.pop on the
// per-layer data list, typed to codec.LayerValues instead of a raw dict.
package network

import "github.com/meshwire/cuttlefish/codec"

// Meta carries out-of-band information alongside a Frame: sender/origin
// address, ack bookkeeping, receive timestamps. Mirrors the Python "meta"
// dict threaded through process_send/process_recv.
type Meta map[string]any

// Frame is an ordered stack of per-layer attribute values, aligned with
// codec.Scheme.Layers by index once fully built.
type Frame []codec.LayerValues

// Push appends a new outermost layer's values.
func (f *Frame) Push(lv codec.LayerValues) {
	*f = append(*f, lv)
}

// Pop removes and returns the outermost layer's values. ok is false if
// the frame is empty.
func (f *Frame) Pop() (codec.LayerValues, bool) {
	n := len(*f)
	if n == 0 {
		return codec.LayerValues{}, false
	}
	v := (*f)[n-1]
	*f = (*f)[:n-1]
	return v, true
}

// Clone makes a shallow copy of the layer slice (not the attribute maps),
// enough to let a multi-hop forwarder resend a received frame without
// aliasing the original's backing array.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}
