// Package wire frames cache-table rows for blob-oriented stores.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindRecord byte = 1

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("gencache: corrupt record")
	magic4     = [...]byte{'G', 'E', 'N', 'C'}
)

// EncodeRecord lays out one row as
//
//	magic(4) | ver(1) | kind(1=record) | gen(u64 be) | vlen(u32 be) | value(vlen)
func EncodeRecord(gen uint64, value []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerLen+len(value)))
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(value)))
	buf.Write(u4[:])

	buf.Write(value)
	return buf.Bytes()
}

// DecodeRecord is strict: any header mismatch, short payload, or trailing
// byte is ErrCorrupt. The returned value aliases b.
func DecodeRecord(b []byte) (gen uint64, value []byte, err error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kindRecord {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[6:14])
	vlen := int(binary.BigEndian.Uint32(b[14:18]))
	if vlen != len(b)-headerLen {
		return 0, nil, ErrCorrupt
	}
	return gen, b[headerLen:], nil
}
