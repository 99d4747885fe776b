package codec

import "encoding/json"

type jsonEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Data          json.RawMessage `json:"data"`
}

func jsonMarshal(object interface{}, schemaVersion int) ([]byte, error) {
	data, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{SchemaVersion: schemaVersion, Data: data})
}

func jsonUnmarshal(raw []byte) (interface{}, int, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, err
	}
	var object interface{}
	if err := json.Unmarshal(env.Data, &object); err != nil {
		return nil, 0, err
	}
	return object, env.SchemaVersion, nil
}

func textMarshal(object interface{}, schemaVersion int) ([]byte, error) {
	switch v := object.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		s, err := json.Marshal(object)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func textUnmarshal(raw []byte) (interface{}, int, error) {
	return string(raw), 0, nil
}
