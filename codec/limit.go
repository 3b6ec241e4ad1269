package codec

import "fmt"

// Limit rejects payloads larger than Max bytes on both Encode and Decode, so
// one oversized update cannot bloat the store or every client's broadcast.
// Max <= 0 disables the check.
type Limit[V any] struct {
	Inner Codec[V]
	Max   int
}

// ErrTooLarge is returned (wrapped) for payloads above Limit.Max.
type ErrTooLarge struct {
	Size, Max int
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("codec: payload too large: %d > %d", e.Size, e.Max)
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.Max > 0 && len(b) > c.Max {
		return nil, &ErrTooLarge{Size: len(b), Max: c.Max}
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.Max > 0 && len(b) > c.Max {
		var zero V
		return zero, &ErrTooLarge{Size: len(b), Max: c.Max}
	}
	return c.Inner.Decode(b)
}
