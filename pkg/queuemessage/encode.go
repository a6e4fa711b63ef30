package queuemessage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeString produces the queue body for s: the base64 encoding of its UTF-8
// bytes. AsString reverses it.
func EncodeString(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Encode marshals v to JSON and base64-encodes the result, producing the body
// that As expects on the consuming side.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("queuemessage: failed to marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
