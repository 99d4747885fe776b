package codec

import "github.com/tinylib/msgp/msgp"

// binaryMarshal serializes object as MessagePack via the tinylib/msgp
// runtime's generic append helpers (the same primitives msgp-generated code
// uses for interface{}-typed struct fields), prefixed with the schema
// version as a MessagePack int.
func binaryMarshal(object interface{}, schemaVersion int) ([]byte, error) {
	b := msgp.AppendInt(nil, schemaVersion)
	b, err := msgp.AppendIntf(b, object)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func binaryUnmarshal(raw []byte) (interface{}, int, error) {
	schemaVersion, rest, err := msgp.ReadIntBytes(raw)
	if err != nil {
		return nil, 0, err
	}
	object, _, err := msgp.ReadIntfBytes(rest)
	if err != nil {
		return nil, 0, err
	}
	return object, schemaVersion, nil
}
