package checkpoint

import "encoding/json"

// Codec serializes opaque caller state. The persistence layer stays
// agnostic to the workflow's internal schema; callers that need a custom
// representation supply their own Codec. The output must be valid JSON
// for audit exports to remain lossless.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default Codec, backed by encoding/json.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
