// File: security/measure.go
//
// A Measure is a security transform applied uniformly to every packet on
// a channel: message authentication, encryption, or both. Security
// composes an ordered list of them.
//
// Grounded on sec/sec.py's Security class and channel/measure.py's
// Measure base class. Each measure carries a Target naming exactly which
// attributes, per layer, it reads and rewrites (sec/hmac.py's and
// sec/aesencrypt.py's target = {layer_index: [attr_names,...]}), and
// splices into the codec's own encode/decode pipeline via
// codec.Serializer.AddEncodeCallback/AddDecodeCallback — the same splice
// point Python threads measure.encode/measure.decode into via
// foundry.encode_callbacks/decode_callbacks — rather than transforming
// the whole serialized buffer after the fact. That's what lets a Target
// protect, say, only a payload attribute while leaving routing headers in
// the clear for an unkeyed multihop relay to read.
//
// ProcessSend/ProcessRecv still append or strip a placeholder frame layer
// (an all-zero MAC, a zero IV) so the Scheme accounts for the measure's
// own attribute at the right wire position; EncodeAttrs/DecodeAttrs fill
// in the real value and transform the Target-named attributes once the
// codec reaches that splice point.
package security

import (
	"sort"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
	"github.com/meshwire/cuttlefish/network"
)

// Target names which attributes a Measure transforms: layer index ->
// the attribute names within that layer it reads on encode and rewrites
// on decode (or vice versa). Layer indices are Scheme.Layers indices, the
// same indexing network.Frame and codec.LayerValues use.
type Target map[int][]string

func (t Target) orderedLayers() []int {
	out := make([]int, 0, len(t))
	for layer := range t {
		out = append(out, layer)
	}
	sort.Ints(out)
	return out
}

// lookupAttr reads name's raw byte value from layer's Headers, falling
// back to Trailers.
func lookupAttr(layer codec.LayerValues, name string) ([]byte, bool) {
	if v, ok := layer.Headers[name]; ok {
		b, ok := v.([]byte)
		return b, ok
	}
	if v, ok := layer.Trailers[name]; ok {
		b, ok := v.([]byte)
		return b, ok
	}
	return nil, false
}

// setAttr writes value back into name's slot in layer's Headers or
// Trailers, wherever it was found. Reports whether name existed.
func setAttr(layer *codec.LayerValues, name string, value []byte) bool {
	if _, ok := layer.Headers[name]; ok {
		layer.Headers[name] = value
		return true
	}
	if _, ok := layer.Trailers[name]; ok {
		layer.Trailers[name] = value
		return true
	}
	return false
}

// concatTargetBytes concatenates, in ascending layer order, the raw byte
// values of every attribute t names, returning the concatenation and each
// attribute's original length (needed to splice a same-length transform
// back into its original slots). Mirrors aesencrypt.py's
// enc_attr_generator / dec_attr_generator.
func concatTargetBytes(layers []codec.LayerValues, t Target) ([]byte, []int, error) {
	var out []byte
	var sizes []int
	for _, layerIdx := range t.orderedLayers() {
		if layerIdx >= len(layers) {
			return nil, nil, api.NewError(api.ErrCodeSecurity, "security target layer out of range")
		}
		for _, name := range t[layerIdx] {
			b, ok := lookupAttr(layers[layerIdx], name)
			if !ok {
				return nil, nil, api.NewError(api.ErrCodeSecurity, "target attribute \""+name+"\" not found")
			}
			out = append(out, b...)
			sizes = append(sizes, len(b))
		}
	}
	return out, sizes, nil
}

// spliceTargetBytes writes transformed (same total length as
// concatTargetBytes produced) back into the same attribute slots it came
// from, splitting it apart using sizes. Mirrors aesencrypt.py's
// update_enc_data / update_dec_data.
func spliceTargetBytes(layers []codec.LayerValues, t Target, sizes []int, transformed []byte) error {
	total := 0
	for _, n := range sizes {
		total += n
	}
	if total != len(transformed) {
		return api.NewError(api.ErrCodeSecurity, "transformed target length mismatch")
	}

	offset := 0
	si := 0
	for _, layerIdx := range t.orderedLayers() {
		for _, name := range t[layerIdx] {
			size := sizes[si]
			si++
			if !setAttr(&layers[layerIdx], name, transformed[offset:offset+size]) {
				return api.NewError(api.ErrCodeSecurity, "target attribute \""+name+"\" not found")
			}
			offset += size
		}
	}
	return nil
}

// Measure is one security transform in a Security pipeline.
type Measure interface {
	Name() string

	// Apply registers whatever scheme layer this measure's placeholder
	// attribute lives in, mirroring measure.apply(foundry). Called once,
	// at channel construction, before any frame flows through
	// ProcessSend/ProcessRecv/EncodeAttrs/DecodeAttrs.
	Apply(scheme *codec.Scheme) error

	// ProcessSend appends this measure's placeholder layer to frame.
	ProcessSend(frame *network.Frame, meta network.Meta) error
	// ProcessRecv strips this measure's layer from frame.
	ProcessRecv(frame *network.Frame, meta network.Meta) error

	// EncodeAttrs transforms this measure's Target-named attribute values
	// across every layer, in place, after every attribute has been
	// type-converted to wire bytes but before the codec lays them out
	// into the final buffer. Mirrors measure.encode(data).
	EncodeAttrs(layers []codec.LayerValues) error
	// DecodeAttrs reverses EncodeAttrs, operating on raw (not yet
	// type-converted) attribute byte values extracted from the wire.
	// Mirrors measure.decode(data).
	DecodeAttrs(layers []codec.LayerValues) error
}

// Security composes an ordered pipeline of measures. Encoding applies
// measures in list order (each sees the previous measure's output);
// decoding applies them in reverse, mirroring Security.init_measures
// building encode_pipeline in order and reversing decode_pipeline.
type Security struct {
	Measures []Measure
}

// New builds a Security pipeline from measures, applied on encode in the
// given order (so putting an encryption measure before a MAC measure
// yields encrypt-then-MAC).
func New(measures ...Measure) *Security {
	return &Security{Measures: measures}
}

// Apply registers every measure's scheme layer, in pipeline order, so
// each measure's placeholder attribute ends up progressively more outer
// on the wire — mirroring Security.init_measures calling measure.apply
// for each configured measure in turn.
func (s *Security) Apply(scheme *codec.Scheme) error {
	for _, m := range s.Measures {
		if err := m.Apply(scheme); err != nil {
			return err
		}
	}
	return nil
}

// WireCallbacks registers every measure's EncodeAttrs/DecodeAttrs with
// serializer's encode/decode callback pipeline, mirroring
// Security.init_measures appending measure.encode/measure.decode to the
// foundry's encode_callbacks/decode_callbacks lists. Must run after Apply
// has added every measure's scheme layer.
func (s *Security) WireCallbacks(serializer *codec.Serializer) {
	for _, m := range s.Measures {
		serializer.AddEncodeCallback(m.EncodeAttrs)
		serializer.AddDecodeCallback(m.DecodeAttrs)
	}
}

// ProcessSend runs every measure's frame-level placeholder append, in
// pipeline order.
func (s *Security) ProcessSend(frame *network.Frame, meta network.Meta) error {
	for _, m := range s.Measures {
		if err := m.ProcessSend(frame, meta); err != nil {
			return err
		}
	}
	return nil
}

// ProcessRecv runs every measure's frame-level placeholder strip, in
// reverse pipeline order (mirroring Security.recv_pipeline being built
// reversed).
func (s *Security) ProcessRecv(frame *network.Frame, meta network.Meta) error {
	for i := len(s.Measures) - 1; i >= 0; i-- {
		if err := s.Measures[i].ProcessRecv(frame, meta); err != nil {
			return err
		}
	}
	return nil
}
