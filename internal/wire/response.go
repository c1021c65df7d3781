package wire

import "encoding/binary"

// Response type tags (§6).
const (
	TypeNil     byte = 0x00
	TypeError   byte = 0x01
	TypeString  byte = 0x02
	TypeInteger byte = 0x03
	TypeArray   byte = 0x04
)

// ErrCodeGeneric is the only error code currently defined on the wire.
const ErrCodeGeneric uint32 = 1

// AppendNil appends a Nil frame (1 byte total).
func AppendNil(buf []byte) []byte {
	return append(buf, TypeNil)
}

// AppendError appends an Error frame: type, code, msg_len, msg bytes.
func AppendError(buf []byte, msg string) []byte {
	buf = append(buf, TypeError)
	buf = appendU32(buf, ErrCodeGeneric)
	buf = appendU32(buf, uint32(len(msg)))
	return append(buf, msg...)
}

// AppendString appends a String frame: type, len, bytes.
func AppendString(buf []byte, s string) []byte {
	buf = append(buf, TypeString)
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

// AppendStringBytes is AppendString for a []byte payload, avoiding a
// string conversion on the hot path.
func AppendStringBytes(buf []byte, s []byte) []byte {
	buf = append(buf, TypeString)
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

// AppendInteger appends an Integer frame: type, i64 little-endian.
func AppendInteger(buf []byte, v int64) []byte {
	buf = append(buf, TypeInteger)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

// AppendArrayHeader appends an Array frame's type+count; the caller
// must follow with exactly n nested frames of any kind.
func AppendArrayHeader(buf []byte, n int) []byte {
	buf = append(buf, TypeArray)
	return appendU32(buf, uint32(n))
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
