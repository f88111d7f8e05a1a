// File: codec/scheme.go
//
// Scheme describes a packet's layered attribute layout: an ordered list of
// layers, each split into header attributes (encoded nearest the wire) and
// trailer attributes (encoded furthest from the wire), plus any
// cross-layer size dependencies for variable-length attributes.
//
// Grounded on packet_management/scheme.py's Scheme/attr()/layer() trio.
// The Python version represents a layer as a flat list with a "*"
// delimiter string splitting headers from trailers, and an attribute as a
// loosely-typed dict; here a Layer is a {Headers, Trailers []Attribute}
// struct and an attribute is the Attribute struct below — same shape,
// idiomatic Go instead of dict-with-string-keys.
package codec

import "encoding/binary"

// AttrType is an attribute's encoded representation.
type AttrType int

const (
	// TypeBytes passes the value through unchanged (the Python default).
	TypeBytes AttrType = iota
	// TypeInt encodes/decodes a fixed-width big-endian (or ByteOrder, if
	// set) unsigned integer.
	TypeInt
	// TypeString encodes/decodes a UTF-8 string.
	TypeString
	// TypeCustom requires both EncodeCallback and DecodeCallback.
	TypeCustom
)

// Attribute describes one field of a layer. Name and Size are mandatory;
// Size == 0 marks a variable-size attribute, whose size ParsingCallback
// resolves from already-decoded dependency attributes
// (packet_management/scheme.py's attr()).
type Attribute struct {
	Name string
	Size int // 0 == variable size
	Type AttrType

	// Endianness overrides the default big-endian encoding for TypeInt.
	// Nil means binary.BigEndian.
	Endianness binary.ByteOrder

	// ParsingCallback resolves a variable-size attribute's byte length
	// from its declared Dependency values, decoded in the order named by
	// Scheme.Dependencies[Name]. If nil, DefaultSizeCallback is used,
	// which big-endian-decodes the single requisite byte slice as a
	// length prefix (packet_management/serializer.py's default_callback).
	ParsingCallback func(deps []any) (int, error)

	// EncodeCallback and DecodeCallback override the default Type-based
	// codec for this attribute. Required when Type == TypeCustom.
	EncodeCallback func(value any) ([]byte, error)
	DecodeCallback func(data []byte) (any, error)
}

// NewAttribute validates and constructs an Attribute, mirroring
// packet_management/scheme.py's attr() validation (negative size, missing
// encode/decode callback on a TypeCustom attribute). A variable-size
// attribute without ParsingCallback gets DefaultSizeCallback.
func NewAttribute(a Attribute) (Attribute, error) {
	if a.Size < 0 {
		return Attribute{}, ErrAttributeSizeNotAllowed(a.Name)
	}
	if a.Size == 0 && a.ParsingCallback == nil {
		a.ParsingCallback = DefaultSizeCallback
	}
	if a.Type == TypeCustom && (a.EncodeCallback == nil || a.DecodeCallback == nil) {
		return Attribute{}, ErrCallbackNotDefined(a.Name)
	}
	return a, nil
}

// DefaultSizeCallback mirrors default_callback: big-endian-decodes its
// single requisite dependency as the resolved byte length.
func DefaultSizeCallback(deps []any) (int, error) {
	if len(deps) == 0 {
		return 0, ErrDependencyResolution("", "no requisite attribute supplied")
	}
	switch v := deps[0].(type) {
	case []byte:
		var n uint64
		for _, c := range v {
			n = n<<8 | uint64(c)
		}
		return int(n), nil
	case uint64:
		return int(v), nil
	default:
		return 0, ErrDependencyResolution("", "requisite attribute is not byte or integer data")
	}
}

// Layer is one ordered set of header and trailer attributes. Headers are
// encoded closest to the layer boundary that precedes it in the byte
// stream; trailers follow after inner layers have been fully encoded.
type Layer struct {
	Headers  []Attribute
	Trailers []Attribute
}

// Dependency names which already-decoded attribute values a variable-size
// attribute's ParsingCallback needs, and where to find them.
//
// LayerOffset counts layers outward from the layer currently being
// decoded: 0 means "this layer" (an attribute earlier in the same layer),
// 1 means "the next layer out" (already decoded, since layers decode
// outside-in), and so on. Mirrors packet_management/scheme.py's
// "layer position" dependency keys, reindexed from absolute layer index
// to a relative offset since decoding always proceeds outside-in here.
type Dependency struct {
	LayerOffset int
	Attrs       []string
}

// Scheme is the full, ordered packet layout: Layers[0] is the innermost
// (application/orchestrator) layer, Layers[len-1] is the outermost
// (nearest the wire) layer — each network overlay appends one more outer
// layer as it wraps the packet. Dependencies maps a variable-size
// attribute's name to where its size-resolving inputs live.
type Scheme struct {
	Layers       []Layer
	Dependencies map[string][]Dependency
}

// NewScheme constructs an empty scheme ready for AppendLayer calls.
func NewScheme() *Scheme {
	return &Scheme{Dependencies: make(map[string][]Dependency)}
}

// AppendLayer adds a new outermost layer, mirroring
// packet_management/serializer.py's Serializer.add_layer (encoding=true
// path; this module has no notion of asymmetric encode/decode schemes,
// see Serializer's decodingScheme field instead).
func (s *Scheme) AppendLayer(headers, trailers []Attribute) {
	s.Layers = append(s.Layers, Layer{Headers: headers, Trailers: trailers})
}

// Depend registers attrName's Dependency list.
func (s *Scheme) Depend(attrName string, deps ...Dependency) {
	s.Dependencies[attrName] = deps
}
