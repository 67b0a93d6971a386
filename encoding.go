package durablemap

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

var (
	_ Encoding[int]    = GobEncoding[int]{}
	_ Encoding[int]    = JSONEncoding[int]{}
	_ Encoding[[]byte] = RawEncoding{}
	_ Encoding[string] = StringEncoding{}
)

// GobEncoding serializes values with encoding/gob. It handles
// arbitrary Go values, including ones JSON cannot express, which makes
// it the default.
//
// Like every general object serialization it defines a trust boundary:
// only decode payloads written by code you trust, since a crafted
// payload dictates what the decoder allocates. Interface-typed values
// must be registered with gob.Register before use.
type GobEncoding[V any] struct{}

// Encode implements Encoding.
func (GobEncoding[V]) Encode(value V) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, fmt.Errorf("%w: gob: %w", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// Decode implements Encoding.
func (GobEncoding[V]) Decode(data []byte) (V, error) {
	var value V
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		var zero V
		return zero, fmt.Errorf("%w: gob: %w", ErrEncoding, err)
	}
	return value, nil
}

// JSONEncoding serializes values with encoding/json. Stored payloads
// stay readable by other languages and by humans, at the cost of only
// handling JSON-representable values; anything else surfaces as
// ErrEncoding.
type JSONEncoding[V any] struct{}

// Encode implements Encoding.
func (JSONEncoding[V]) Encode(value V) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: json: %w", ErrEncoding, err)
	}
	return data, nil
}

// Decode implements Encoding.
func (JSONEncoding[V]) Decode(data []byte) (V, error) {
	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		var zero V
		return zero, fmt.Errorf("%w: json: %w", ErrEncoding, err)
	}
	return value, nil
}

// RawEncoding passes []byte values through unchanged. Both directions
// copy, so the cache and the backend never alias one slice. Use it
// when the stored bytes are already the value.
type RawEncoding struct{}

// Encode implements Encoding.
func (RawEncoding) Encode(value []byte) ([]byte, error) {
	return bytes.Clone(value), nil
}

// Decode implements Encoding.
func (RawEncoding) Decode(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

// StringEncoding stores string values as their UTF-8 bytes.
type StringEncoding struct{}

// Encode implements Encoding.
func (StringEncoding) Encode(value string) ([]byte, error) {
	return []byte(value), nil
}

// Decode implements Encoding.
func (StringEncoding) Decode(data []byte) (string, error) {
	return string(data), nil
}
