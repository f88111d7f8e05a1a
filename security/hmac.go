// File: security/hmac.go
//
// HMAC authenticates its Target-named attributes by appending a SHA-256
// HMAC tag computed over just their byte values, in its own dedicated
// outer layer.
//
// Grounded on sec/hmac.py's HMAC measure; crypto/hmac + crypto/sha256
// replace Python's hmac.new/hashlib.sha256.
package security

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
	"github.com/meshwire/cuttlefish/network"
)

const hmacTagSize = sha256.Size

// HMAC authenticates only its Target's attributes with a keyed SHA-256
// MAC, appended as its own layer after every other measure has run.
type HMAC struct {
	EncKey []byte
	DecKey []byte
	Target Target

	tagLayer int
}

// NewHMAC constructs an HMAC measure. encKey and decKey are ordinarily
// the same shared secret; kept distinct here to mirror hmac.py's
// enc_key/dec_key split (which would matter for a future asymmetric
// scheme). target names the attributes the digest covers.
func NewHMAC(encKey, decKey []byte, target Target) *HMAC {
	return &HMAC{EncKey: encKey, DecKey: decKey, Target: target}
}

func (h *HMAC) Name() string { return "hmac" }

// Apply registers a new outermost layer carrying the hmac tag attribute,
// mirroring hmac.py's apply calling foundry.add_layer(headers=[...]).
func (h *HMAC) Apply(scheme *codec.Scheme) error {
	attr, err := codec.NewAttribute(codec.Attribute{Name: "hmac", Size: hmacTagSize, Type: codec.TypeBytes})
	if err != nil {
		return err
	}
	scheme.AppendLayer([]codec.Attribute{attr}, nil)
	h.tagLayer = len(scheme.Layers) - 1
	return nil
}

// ProcessSend appends a zeroed hmac header; the real digest is filled in
// by EncodeAttrs once the codec reaches its encode-callback splice point.
func (h *HMAC) ProcessSend(frame *network.Frame, meta network.Meta) error {
	frame.Push(codec.LayerValues{Headers: map[string]any{"hmac": make([]byte, hmacTagSize)}})
	return nil
}

// ProcessRecv strips the hmac layer; verification itself already
// happened in DecodeAttrs.
func (h *HMAC) ProcessRecv(frame *network.Frame, meta network.Meta) error {
	frame.Pop()
	return nil
}

// EncodeAttrs computes a SHA-256 HMAC over the concatenation of every
// Target-named attribute's wire bytes and writes it into this measure's
// own hmac layer. Mirrors HMAC.encode splicing the digest into
// data[-1][0].
func (h *HMAC) EncodeAttrs(layers []codec.LayerValues) error {
	if h.tagLayer >= len(layers) {
		return api.NewError(api.ErrCodeSecurity, "hmac layer out of range")
	}

	digestInput, _, err := concatTargetBytes(layers, h.Target)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, h.EncKey)
	mac.Write(digestInput)
	tag := mac.Sum(nil)

	if !setAttr(&layers[h.tagLayer], "hmac", tag) {
		return api.NewError(api.ErrCodeSecurity, "hmac attribute not present in its layer")
	}
	return nil
}

// DecodeAttrs recomputes the digest over the Target-named attributes and
// compares it against the received tag, dropping the packet
// (ErrCodeSecurity) on mismatch. Mirrors HMAC.decode comparing against
// data[-1]["hmac"] and returning None on mismatch.
func (h *HMAC) DecodeAttrs(layers []codec.LayerValues) error {
	if h.tagLayer >= len(layers) {
		return api.NewError(api.ErrCodeSecurity, "hmac layer out of range")
	}
	tag, ok := lookupAttr(layers[h.tagLayer], "hmac")
	if !ok {
		return api.NewError(api.ErrCodeSecurity, "hmac attribute not present")
	}

	digestInput, _, err := concatTargetBytes(layers, h.Target)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, h.DecKey)
	mac.Write(digestInput)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, tag) {
		return api.NewError(api.ErrCodeSecurity, "hmac verification failed")
	}
	return nil
}
