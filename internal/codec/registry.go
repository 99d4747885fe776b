// Package codec implements the broker's format-agnostic message codec: a
// mime-type registry paired with a compression filter, matching
// broker.CodecRegistry so a *Registry can be handed straight to
// broker.NewQueue.
package codec

import "fmt"

// Mime type constants recognized by the registry.
const (
	MimeBinary = "application/x-sc-bin"
	MimeJSON   = "text/json"
	MimeBSON   = "application/x-sc-bson"
	MimeXML    = "application/x-sc-xml"
	MimeXMLAlt = "text/xml"
	MimeText   = "text/plain"
)

// Encoding (compression filter) constants recognized by the registry.
const (
	EncodingIdentity = "identity"
	EncodingDeflate  = "deflate"
	EncodingGzip     = "gzip"
	EncodingLZ4      = "lz4"
)

// ParseMime validates a mime type string against the supported set.
func ParseMime(s string) (string, error) {
	switch s {
	case MimeBinary, MimeJSON, MimeBSON, MimeXML, MimeXMLAlt, MimeText:
		return s, nil
	default:
		return "", fmt.Errorf("codec: unknown mime type %q", s)
	}
}

// ParseEncoding validates a compression encoding string, defaulting an
// empty string to identity.
func ParseEncoding(s string) (string, error) {
	if s == "" {
		return EncodingIdentity, nil
	}
	switch s {
	case EncodingIdentity, EncodingDeflate, EncodingGzip, EncodingLZ4:
		return s, nil
	default:
		return "", fmt.Errorf("codec: unknown encoding %q", s)
	}
}

type marshalFunc func(object interface{}, schemaVersion int) ([]byte, error)
type unmarshalFunc func(raw []byte) (object interface{}, schemaVersion int, err error)

type codecPair struct {
	marshal   marshalFunc
	unmarshal unmarshalFunc
}

// Registry is the concrete broker.CodecRegistry implementation: it owns one
// marshal/unmarshal pair per mime type and applies the requested
// compression filter around it.
type Registry struct {
	byMime map[string]codecPair
}

// NewRegistry wires every mime type spec.md names to its codec: JSON and
// XML through the standard library, x-sc-bin/x-sc-bson through MessagePack.
func NewRegistry() *Registry {
	r := &Registry{byMime: make(map[string]codecPair)}
	r.byMime[MimeJSON] = codecPair{jsonMarshal, jsonUnmarshal}
	r.byMime[MimeXML] = codecPair{xmlMarshal, xmlUnmarshal}
	r.byMime[MimeXMLAlt] = codecPair{xmlMarshal, xmlUnmarshal}
	r.byMime[MimeText] = codecPair{textMarshal, textUnmarshal}
	r.byMime[MimeBinary] = codecPair{binaryMarshal, binaryUnmarshal}
	// No BSON driver appears anywhere in the retrieval pack; x-sc-bson is
	// served by the same MessagePack codec under a second mime alias
	// rather than a fabricated dependency.
	r.byMime[MimeBSON] = codecPair{binaryMarshal, binaryUnmarshal}
	return r
}

// Encode implements broker.CodecRegistry.
func (r *Registry) Encode(mimeType, encoding string, object interface{}, schemaVersion int) ([]byte, error) {
	pair, ok := r.byMime[mimeType]
	if !ok {
		return nil, fmt.Errorf("codec: unknown mime type %q", mimeType)
	}
	raw, err := pair.marshal(object, schemaVersion)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	out, err := compress(encoding, raw)
	if err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	return out, nil
}

// Decode implements broker.CodecRegistry.
func (r *Registry) Decode(mimeType, encoding string, payload []byte) (interface{}, int, error) {
	pair, ok := r.byMime[mimeType]
	if !ok {
		return nil, 0, fmt.Errorf("codec: unknown mime type %q", mimeType)
	}
	raw, err := decompress(encoding, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("codec: decompress: %w", err)
	}
	object, schemaVersion, err := pair.unmarshal(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return object, schemaVersion, nil
}
