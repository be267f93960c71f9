package persistence

import "encoding/json"

// EncodeValue serializes a context or outcome value as JSON. The context
// value set is exactly the JSON value set, so the encoding is lossless and
// the stored form stays inspectable with sqlite3.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodeValue deserializes a JSON payload produced by EncodeValue.
// An empty payload decodes to the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
