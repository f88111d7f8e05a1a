// File: security/aesctr.go
//
// AESCTR encrypts its Target-named attributes with AES-CTR, prefixing a
// fresh random 16-byte IV in its own dedicated outer layer.
//
// Grounded on sec/aesencrypt.py's AESEncrypt measure; crypto/aes +
// crypto/cipher.NewCTR replace the MicroPython crypto.AES(MODE_CTR)
// binding, and crypto/rand replaces crypto.getrandbits for IV generation
// (§6's cryptographically-secure random source requirement).
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/meshwire/cuttlefish/api"
	"github.com/meshwire/cuttlefish/codec"
	"github.com/meshwire/cuttlefish/network"
)

// AESCTR encrypts only its Target's attributes with AES in CTR mode,
// keyed by a fresh random IV sent in the clear ahead of the rest of the
// packet. Attributes outside Target (e.g. routing headers an unkeyed
// relay still needs to read) are left untouched.
type AESCTR struct {
	EncKey []byte
	DecKey []byte
	Target Target

	ctrLayer int
}

// NewAESCTR constructs an AESCTR measure from a 16/24/32-byte AES key and
// the set of attributes it should encrypt, keyed by layer index the way
// aesencrypt.py's target dict is.
func NewAESCTR(encKey, decKey []byte, target Target) *AESCTR {
	return &AESCTR{EncKey: encKey, DecKey: decKey, Target: target}
}

func (a *AESCTR) Name() string { return "aesctr" }

// Apply registers a new outermost layer carrying the ctr (IV) attribute.
// aesencrypt.py instead splices the ctr attribute into an existing layer
// at the position of its target's outermost covered attribute
// (serializer.add_attr(self.ctr_scheme, self.iv_layer)); appending it as
// its own layer here is an equivalent simplification, since this
// implementation tracks the IV's layer explicitly (ctrLayer) rather than
// deriving it from Target each time.
func (a *AESCTR) Apply(scheme *codec.Scheme) error {
	attr, err := codec.NewAttribute(codec.Attribute{Name: "ctr", Size: aes.BlockSize, Type: codec.TypeBytes})
	if err != nil {
		return err
	}
	scheme.AppendLayer([]codec.Attribute{attr}, nil)
	a.ctrLayer = len(scheme.Layers) - 1
	return nil
}

// ProcessSend appends a zeroed ctr header; the real IV is filled in by
// EncodeAttrs once the codec reaches its encode-callback splice point.
func (a *AESCTR) ProcessSend(frame *network.Frame, meta network.Meta) error {
	frame.Push(codec.LayerValues{Headers: map[string]any{"ctr": make([]byte, aes.BlockSize)}})
	return nil
}

// ProcessRecv strips the ctr header; the IV itself was already consumed
// by DecodeAttrs.
func (a *AESCTR) ProcessRecv(frame *network.Frame, meta network.Meta) error {
	frame.Pop()
	return nil
}

// EncodeAttrs generates a random IV, encrypts the concatenation of every
// Target-named attribute with AES-CTR, splices the ciphertext back into
// those same attributes' slots, and writes the IV into this measure's own
// ctr layer. Mirrors AESEncrypt.encode.
func (a *AESCTR) EncodeAttrs(layers []codec.LayerValues) error {
	if a.ctrLayer >= len(layers) {
		return api.NewError(api.ErrCodeSecurity, "ctr layer out of range")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return api.NewError(api.ErrCodeInternal, "iv generation failed: "+err.Error())
	}

	block, err := aes.NewCipher(a.EncKey)
	if err != nil {
		return api.NewError(api.ErrCodeSecurity, "invalid aes key: "+err.Error())
	}

	plaintext, sizes, err := concatTargetBytes(layers, a.Target)
	if err != nil {
		return err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	if err := spliceTargetBytes(layers, a.Target, sizes, ciphertext); err != nil {
		return err
	}

	if !setAttr(&layers[a.ctrLayer], "ctr", iv) {
		return api.NewError(api.ErrCodeSecurity, "ctr attribute not present in its layer")
	}
	return nil
}

// DecodeAttrs reads the IV from this measure's ctr layer and decrypts
// every Target-named attribute in place. Mirrors AESEncrypt.decode.
func (a *AESCTR) DecodeAttrs(layers []codec.LayerValues) error {
	if a.ctrLayer >= len(layers) {
		return api.NewError(api.ErrCodeSecurity, "ctr layer out of range")
	}
	iv, ok := lookupAttr(layers[a.ctrLayer], "ctr")
	if !ok {
		return api.NewError(api.ErrCodeSecurity, "ctr attribute not present")
	}

	block, err := aes.NewCipher(a.DecKey)
	if err != nil {
		return api.NewError(api.ErrCodeSecurity, "invalid aes key: "+err.Error())
	}

	ciphertext, sizes, err := concatTargetBytes(layers, a.Target)
	if err != nil {
		return err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return spliceTargetBytes(layers, a.Target, sizes, plaintext)
}
