// Package codec turns cache values into the bytes a store persists and back.
//
// Values travel through gencache as a type parameter V; a Codec[V] is the
// only place that knows their serialized shape. Pick one per deployment and
// keep it: rows written with one codec are unreadable through another.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names accepted by ByName.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
	// NameCBORDeterministic selects canonical CBOR (RFC 8949 core deterministic).
	NameCBORDeterministic = "cbor-det"
)

// ByName returns the structural codec registered under name. Bytes, String
// and Protobuf are not structural and must be constructed directly.
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", NameJSON:
		return JSON[V]{}, nil
	case NameMsgpack:
		return Msgpack[V]{}, nil
	case NameCBOR:
		return NewCBOR[V](false)
	case NameCBORDeterministic:
		return NewCBOR[V](true)
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
