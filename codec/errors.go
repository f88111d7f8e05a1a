// File: codec/errors.go
//
// Error taxonomy for scheme construction and (de)serialization, mirroring
// packet_management/errors.py's exception classes as api.ErrCodeSchemeDefinition /
// api.ErrCodeSizeMismatch / api.ErrCodeDependencyResolution errors instead of
// a parallel bespoke exception hierarchy.
package codec

import "github.com/meshwire/cuttlefish/api"

// ErrAttributeSizeNotAllowed mirrors AttributeSizeNotAllowed: an attribute
// was declared with a negative size.
func ErrAttributeSizeNotAllowed(name string) error {
	return api.NewError(api.ErrCodeSchemeDefinition, "attribute size not allowed").
		WithContext("attribute", name)
}

// ErrCallbackNotDefined mirrors CallbackNotDefined: a TypeCustom
// attribute was declared without both EncodeCallback and DecodeCallback.
func ErrCallbackNotDefined(name string) error {
	return api.NewError(api.ErrCodeSchemeDefinition, "custom-type attribute missing encode/decode callback").
		WithContext("attribute", name)
}

// ErrAttributeTypeNotRecognized mirrors AttributeTypeNotRecognized.
func ErrAttributeTypeNotRecognized(name string, t AttrType) error {
	return api.NewError(api.ErrCodeSchemeDefinition, "attribute type not recognized").
		WithContext("attribute", name).WithContext("type", t)
}

// ErrUnexpectedInputSize mirrors UnexpectedInputSize: encode input or
// decode input did not match the declared/resolved attribute size.
func ErrUnexpectedInputSize(name string, got, want int) error {
	return api.NewError(api.ErrCodeSizeMismatch, "attribute size mismatch").
		WithContext("attribute", name).WithContext("got", got).WithContext("want", want)
}

// ErrDependencyResolution mirrors the KeyError/AttributeError raised by
// resolve_dependencies when a requisite attribute or dependency scheme is
// missing.
func ErrDependencyResolution(name string, reason string) error {
	return api.NewError(api.ErrCodeDependencyResolution, "dependency resolution failed: "+reason).
		WithContext("attribute", name)
}
