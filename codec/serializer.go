// File: codec/serializer.go
//
// Serializer turns a Scheme plus per-layer attribute values into a single
// byte stream, and back. Encoding walks layers outermost-header-first then
// innermost-trailer-first (an onion: physical-layer header nearest the
// wire, application trailer furthest); decoding walks the same onion from
// the outside in, resolving each variable-size attribute's length via its
// registered Dependency before consuming its bytes.
//
// Grounded on packet_management/serializer.py's Serializer.{encode,decode,
// encode_layers,decode_layers,resolve_dependencies}. The Python
// implementation runs encoding in two passes, encode_type (attribute ->
// bytes) then encode_layers (bytes -> wire layout), with encode_callbacks
// spliced between them so a security measure can rewrite specific
// already-type-converted attribute values before layout; decoding mirrors
// this in reverse (decode_layers, then decode_callbacks, then
// decode_type). Encode/Decode below keep that same two-pass shape and
// splice point — AddEncodeCallback/AddDecodeCallback register into it —
// rather than fusing type conversion and layout into one pass, since the
// whole point of the splice point is to see attribute values after one
// phase and before the other.
package codec

import (
	"encoding/binary"
)

// LayerValues holds header and trailer attribute values for one layer,
// keyed by Attribute.Name, supplied to Encode or returned by Decode. A
// MeasureCallback sees the same shape, but with every value already a
// []byte: post-type-conversion on encode, pre-type-conversion on decode.
type LayerValues struct {
	Headers  map[string]any
	Trailers map[string]any
}

// MeasureCallback transforms attribute values across every layer in
// place, the splice point a security.Measure's Target-based encode/decode
// hooks use, mirroring serializer.py's encode_callbacks/decode_callbacks
// lists (populated by Security.init_measures from each measure's
// encode/decode methods).
type MeasureCallback func(layers []LayerValues) error

// Serializer encodes/decodes packets against a (possibly asymmetric)
// encoding/decoding Scheme pair, mirroring the Python Serializer's
// optional decoding_scheme override.
type Serializer struct {
	encodingScheme *Scheme
	decodingScheme *Scheme

	encodeCallbacks []MeasureCallback
	decodeCallbacks []MeasureCallback
}

// NewSerializer builds a Serializer. If decodingScheme is nil, the same
// Scheme is used for both directions (the common case).
func NewSerializer(encodingScheme, decodingScheme *Scheme) *Serializer {
	if decodingScheme == nil {
		decodingScheme = encodingScheme
	}
	return &Serializer{encodingScheme: encodingScheme, decodingScheme: decodingScheme}
}

// AddEncodeCallback registers cb to run, in registration order, once
// every attribute has been converted to its wire bytes but before those
// bytes are laid out into the final buffer. Mirrors appending to
// foundry.encode_callbacks in Security.init_measures.
func (s *Serializer) AddEncodeCallback(cb MeasureCallback) {
	s.encodeCallbacks = append(s.encodeCallbacks, cb)
}

// AddDecodeCallback registers cb to run, in REVERSE registration order,
// once every attribute's raw wire bytes have been split out by layer but
// before they are converted to typed values. Reverse order mirrors
// decoding undoing the encode pipeline's measures in the opposite order
// they were applied (Security.init_measures building decode_pipeline
// reversed).
func (s *Serializer) AddDecodeCallback(cb MeasureCallback) {
	s.decodeCallbacks = append(s.decodeCallbacks, cb)
}

// Encode serializes values (one entry per layer, Layers[0]..Layers[n-1])
// into a single byte stream: encodeType converts every attribute to its
// wire-byte form, any registered encode callbacks get a chance to rewrite
// specific attributes in place, then layoutBytes concatenates the result.
func (s *Serializer) Encode(values []LayerValues) ([]byte, error) {
	layers := s.encodingScheme.Layers
	if len(values) != len(layers) {
		return nil, ErrUnexpectedInputSize("<layer count>", len(values), len(layers))
	}

	encoded, err := s.encodeType(values)
	if err != nil {
		return nil, err
	}

	for _, cb := range s.encodeCallbacks {
		if err := cb(encoded); err != nil {
			return nil, err
		}
	}

	return s.layoutBytes(encoded), nil
}

// encodeType converts every attribute in values to its wire-byte
// representation, without laying the result out as a single buffer yet.
// Mirrors Serializer.encode_type.
func (s *Serializer) encodeType(values []LayerValues) ([]LayerValues, error) {
	layers := s.encodingScheme.Layers
	out := make([]LayerValues, len(layers))
	for i, layer := range layers {
		hdrs := make(map[string]any, len(layer.Headers))
		for _, attr := range layer.Headers {
			b, err := encodeAttribute(attr, values[i].Headers[attr.Name])
			if err != nil {
				return nil, err
			}
			hdrs[attr.Name] = b
		}
		trs := make(map[string]any, len(layer.Trailers))
		for _, attr := range layer.Trailers {
			b, err := encodeAttribute(attr, values[i].Trailers[attr.Name])
			if err != nil {
				return nil, err
			}
			trs[attr.Name] = b
		}
		out[i] = LayerValues{Headers: hdrs, Trailers: trs}
	}
	return out, nil
}

// layoutBytes concatenates already wire-byte-valued attributes: headers
// outermost layer first, trailers innermost layer first. Mirrors
// Serializer.encode_layers, minus the type conversion encode_type already
// did.
func (s *Serializer) layoutBytes(encoded []LayerValues) []byte {
	layers := s.encodingScheme.Layers
	var out []byte

	for i := len(layers) - 1; i >= 0; i-- {
		for _, attr := range layers[i].Headers {
			b, _ := encoded[i].Headers[attr.Name].([]byte)
			out = append(out, b...)
		}
	}
	for i := 0; i < len(layers); i++ {
		for _, attr := range layers[i].Trailers {
			b, _ := encoded[i].Trailers[attr.Name].([]byte)
			out = append(out, b...)
		}
	}

	return out
}

func encodeAttribute(attr Attribute, value any) ([]byte, error) {
	b, err := encodeAttrType(attr, value)
	if err != nil {
		return nil, err
	}
	if attr.Size != 0 && len(b) != attr.Size {
		return nil, ErrUnexpectedInputSize(attr.Name, len(b), attr.Size)
	}
	return b, nil
}

func encodeAttrType(attr Attribute, value any) ([]byte, error) {
	if attr.EncodeCallback != nil {
		return attr.EncodeCallback(value)
	}
	switch attr.Type {
	case TypeBytes:
		b, ok := value.([]byte)
		if !ok {
			return nil, ErrUnexpectedInputSize(attr.Name, 0, attr.Size)
		}
		return b, nil
	case TypeInt:
		order := attr.Endianness
		if order == nil {
			order = binary.BigEndian
		}
		v, ok := toUint64(value)
		if !ok {
			return nil, ErrAttributeTypeNotRecognized(attr.Name, attr.Type)
		}
		buf := make([]byte, attr.Size)
		putUint(order, buf, v)
		return buf, nil
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return nil, ErrAttributeTypeNotRecognized(attr.Name, attr.Type)
		}
		return []byte(str), nil
	default:
		return nil, ErrAttributeTypeNotRecognized(attr.Name, attr.Type)
	}
}

func toUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint64:
		return v, true
	case uint32:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case int:
		return uint64(v), true
	default:
		return 0, false
	}
}

func putUint(order binary.ByteOrder, buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	default:
		// Non-power-of-two width (e.g. 24-bit counters): fill
		// byte-by-byte in the requested endianness.
		if order == binary.BigEndian {
			for i := len(buf) - 1; i >= 0; i-- {
				buf[i] = byte(v)
				v >>= 8
			}
		} else {
			for i := 0; i < len(buf); i++ {
				buf[i] = byte(v)
				v >>= 8
			}
		}
	}
}

func decodeAttrType(attr Attribute, data []byte) (any, error) {
	if attr.DecodeCallback != nil {
		return attr.DecodeCallback(data)
	}
	switch attr.Type {
	case TypeBytes:
		return data, nil
	case TypeInt:
		order := attr.Endianness
		if order == nil {
			order = binary.BigEndian
		}
		var v uint64
		if order == binary.BigEndian {
			for _, c := range data {
				v = v<<8 | uint64(c)
			}
		} else {
			for i := len(data) - 1; i >= 0; i-- {
				v = v<<8 | uint64(data[i])
			}
		}
		return v, nil
	case TypeString:
		return string(data), nil
	default:
		return nil, ErrAttributeTypeNotRecognized(attr.Name, attr.Type)
	}
}

// Decode parses data against the decoding scheme, returning one
// LayerValues per layer (index-aligned with Scheme.Layers) plus any
// trailing bytes left over once every layer has consumed its share.
// decodeLayers splits the buffer into raw per-attribute byte values, any
// registered decode callbacks get a chance to verify/rewrite specific
// attributes in place, then decodeType converts the (possibly rewritten)
// raw bytes to their typed Go values.
func (s *Serializer) Decode(data []byte) ([]LayerValues, []byte, error) {
	raw, redundant, err := s.decodeLayers(data)
	if err != nil {
		return nil, nil, err
	}

	for i := len(s.decodeCallbacks) - 1; i >= 0; i-- {
		if err := s.decodeCallbacks[i](raw); err != nil {
			return nil, nil, err
		}
	}

	typed, err := s.decodeType(raw)
	if err != nil {
		return nil, nil, err
	}
	return typed, redundant, nil
}

// decodeLayers walks the onion outside-in, splitting data into each
// attribute's raw byte value without converting it to a typed Go value
// yet (that happens in decodeType, after decode callbacks have run).
// Mirrors Serializer.decode_layers.
func (s *Serializer) decodeLayers(data []byte) ([]LayerValues, []byte, error) {
	layers := s.decodingScheme.Layers
	n := len(layers)
	result := make([]LayerValues, n)

	front := data
	tailEnd := len(data)

	// decodedOuter holds fully-split-out layers, outermost first, used to
	// resolve Dependency.LayerOffset >= 1 lookups. DefaultSizeCallback
	// accepts a raw []byte requisite directly, so dependency resolution
	// works unchanged against these not-yet-typed values.
	var decodedOuter []LayerValues

	for rank := 0; rank < n; rank++ {
		i := n - 1 - rank // outermost to innermost
		layer := layers[i]

		current := LayerValues{Headers: map[string]any{}, Trailers: map[string]any{}}

		for _, attr := range layer.Headers {
			size := attr.Size
			if size == 0 {
				resolved, err := resolveSize(s.decodingScheme, attr, current, decodedOuter)
				if err != nil {
					return nil, nil, err
				}
				size = resolved
			}
			if size > len(front) {
				return nil, nil, ErrUnexpectedInputSize(attr.Name, len(front), size)
			}
			raw := front[:size]
			front = front[size:]
			current.Headers[attr.Name] = raw
		}

		// Trailers physically occupy the tail of the whole remaining
		// buffer; within the layer the last-declared trailer sits
		// closest to the true end, so consume in reverse declared order.
		trailerEnd := tailEnd
		decodedTrailers := make([][]byte, len(layer.Trailers))
		for ti := len(layer.Trailers) - 1; ti >= 0; ti-- {
			attr := layer.Trailers[ti]
			size := attr.Size
			if size == 0 {
				resolved, err := resolveSize(s.decodingScheme, attr, current, decodedOuter)
				if err != nil {
					return nil, nil, err
				}
				size = resolved
			}
			// front is a suffix of data, so the header bytes consumed so
			// far end at len(data)-len(front).
			if avail := trailerEnd - (len(data) - len(front)); size > avail {
				return nil, nil, ErrUnexpectedInputSize(attr.Name, avail, size)
			}
			start := trailerEnd - size
			raw := data[start:trailerEnd]
			trailerEnd = start
			decodedTrailers[ti] = raw
		}
		for ti, attr := range layer.Trailers {
			current.Trailers[attr.Name] = decodedTrailers[ti]
		}
		tailEnd = trailerEnd

		result[i] = current
		decodedOuter = append(decodedOuter, current)
	}

	redundant := data[len(data)-len(front) : tailEnd]
	return result, redundant, nil
}

// decodeType converts every attribute's raw byte value (already possibly
// rewritten by a decode callback) to its typed Go value. Mirrors
// Serializer.decode_type.
func (s *Serializer) decodeType(raw []LayerValues) ([]LayerValues, error) {
	layers := s.decodingScheme.Layers
	out := make([]LayerValues, len(layers))
	for i, layer := range layers {
		hdrs := make(map[string]any, len(layer.Headers))
		for _, attr := range layer.Headers {
			b, _ := raw[i].Headers[attr.Name].([]byte)
			v, err := decodeAttrType(attr, b)
			if err != nil {
				return nil, err
			}
			hdrs[attr.Name] = v
		}
		trs := make(map[string]any, len(layer.Trailers))
		for _, attr := range layer.Trailers {
			b, _ := raw[i].Trailers[attr.Name].([]byte)
			v, err := decodeAttrType(attr, b)
			if err != nil {
				return nil, err
			}
			trs[attr.Name] = v
		}
		out[i] = LayerValues{Headers: hdrs, Trailers: trs}
	}
	return out, nil
}

// resolveSize resolves a variable-size attribute's byte length via its
// registered Dependency list, mirroring resolve_dependencies /
// fetch_requisite_attributes. LayerOffset 0 reads from the layer
// currently being decoded (values decoded so far); LayerOffset N>=1 reads
// from the Nth already-completed outer layer.
func resolveSize(scheme *Scheme, attr Attribute, current LayerValues, decodedOuter []LayerValues) (int, error) {
	deps := scheme.Dependencies[attr.Name]
	var requisites []any

	for _, dep := range deps {
		var source LayerValues
		if dep.LayerOffset == 0 {
			source = current
		} else {
			idx := len(decodedOuter) - dep.LayerOffset
			if idx < 0 || idx >= len(decodedOuter) {
				return 0, ErrDependencyResolution(attr.Name, "requisite layer not yet decoded")
			}
			source = decodedOuter[idx]
		}
		for _, name := range dep.Attrs {
			v, ok := source.Headers[name]
			if !ok {
				v, ok = source.Trailers[name]
			}
			if !ok {
				return 0, ErrDependencyResolution(attr.Name, "requisite attribute \""+name+"\" not found")
			}
			requisites = append(requisites, v)
		}
	}

	if attr.ParsingCallback == nil {
		return 0, ErrDependencyResolution(attr.Name, "no parsing callback defined")
	}
	return attr.ParsingCallback(requisites)
}
