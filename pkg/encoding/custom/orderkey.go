package custom

import (
	"encoding/binary"
	"math"
)

// OrderKey returns a byte string whose lexicographic order is the natural order of the value:
// strings and bytes compare by content, integers numerically, lists and messages element by
// element with a shorter prefix first. Different values always produce different keys.
//
// The wire encoding is little-endian and length-prefixed, so its byte order says nothing about
// the values; conflict resolution compares order keys instead.
func OrderKey(v Value) []byte {
	return appendOrderKey(nil, v)
}

func appendOrderKey(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Type))

	switch v.Type {
	case TypeInt32:
		buf = binary.BigEndian.AppendUint32(buf, uint32(v.Int32)^(1<<31))
	case TypeInt64:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Int64)^(1<<63))
	case TypeUint32:
		buf = binary.BigEndian.AppendUint32(buf, v.Uint32)
	case TypeUint64:
		buf = binary.BigEndian.AppendUint64(buf, v.Uint64)
	case TypeFloat32:
		buf = binary.BigEndian.AppendUint32(buf, orderedFloatBits32(v.Float32))
	case TypeFloat64:
		buf = binary.BigEndian.AppendUint64(buf, orderedFloatBits64(v.Float64))
	case TypeBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TypeString:
		buf = appendEscaped(buf, []byte(v.String))
	case TypeBytes:
		buf = appendEscaped(buf, v.Bytes)
	case TypeList:
		for _, item := range v.List {
			buf = append(buf, 1)
			buf = appendOrderKey(buf, item)
		}
		buf = append(buf, 0)
	case TypeMessage:
		for _, f := range v.Message {
			buf = append(buf, 1)
			buf = binary.BigEndian.AppendUint32(buf, f.Number)
			buf = appendOrderKey(buf, f.Value)
		}
		buf = append(buf, 0)
	}
	return buf
}

// 0x00 внутри данных экранируется как 0x00 0xFF, конец строки 0x00 0x00.
func appendEscaped(buf, data []byte) []byte {
	for _, b := range data {
		buf = append(buf, b)
		if b == 0 {
			buf = append(buf, 0xFF)
		}
	}
	return append(buf, 0, 0)
}

func orderedFloatBits32(f float32) uint32 {
	bits := math.Float32bits(f)
	if bits&(1<<31) != 0 {
		return ^bits
	}
	return bits | 1<<31
}

func orderedFloatBits64(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}
