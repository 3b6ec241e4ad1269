package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the Session stream is spoken in.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// RawFrame carries an undecoded frame. Receiving into a RawFrame never fails
// in the codec, so a malformed frame reaches the handler, which can drop it
// without tearing the stream down.
type RawFrame []byte

// jsonCodec marshals frames as JSON and passes RawFrame through untouched.
type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if r, ok := v.(*RawFrame); ok {
		return *r, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if r, ok := v.(*RawFrame); ok {
		*r = append((*r)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}
