package codec

import (
	"encoding/xml"
	"fmt"
)

// xmlEnvelope carries the inner document verbatim via the ",innerxml" tag,
// which encoding/xml honors on both Marshal and Unmarshal: it writes the
// field's string content unescaped and captures it unescaped on the way
// back, so wrapping does not corrupt the payload.
type xmlEnvelope struct {
	XMLName       xml.Name `xml:"scMessage"`
	SchemaVersion int      `xml:"schemaVersion,attr"`
	Data          string   `xml:",innerxml"`
}

// xmlMarshal accepts either a pre-serialized document (string or []byte) or
// any value encoding/xml can marshal on its own. There is no generic-XML
// library anywhere in the retrieval pack, so arbitrary interface{} values
// go through stdlib encoding/xml directly; callers that need full control
// over element names should pass an already-marshaled []byte.
func xmlMarshal(object interface{}, schemaVersion int) ([]byte, error) {
	var raw []byte
	switch v := object.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		data, err := xml.Marshal(object)
		if err != nil {
			return nil, fmt.Errorf("xml marshal: %w", err)
		}
		raw = data
	}
	return xml.Marshal(xmlEnvelope{SchemaVersion: schemaVersion, Data: string(raw)})
}

// xmlUnmarshal returns the inner document as []byte: encoding/xml cannot
// decode into a bare interface{} the way encoding/json can, so the caller
// is expected to xml.Unmarshal the returned bytes into a concrete type
// when it needs more than the raw document. Unlike the JSON and binary
// codecs, decode(encode(o)).Object only reproduces o unchanged when o was
// itself a string or []byte; an arbitrary struct passed to xmlMarshal comes
// back as its marshaled bytes, not the original value.
func xmlUnmarshal(raw []byte) (interface{}, int, error) {
	var env xmlEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, 0, err
	}
	return []byte(env.Data), env.SchemaVersion, nil
}
