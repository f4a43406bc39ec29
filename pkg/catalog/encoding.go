// ABOUTME: Order-preserving encoding for index keys
// ABOUTME: Lexicographic byte order matches value order for range scans

package catalog

import (
	"encoding/binary"
	"math"
	"time"
)

// Value type tags inside index keys.
const (
	tagBytes   = 1
	tagFloat64 = 2
	tagTime    = 3
)

// escape removes raw 0x00 bytes so the terminator stays unambiguous:
// 0x00 becomes 0x01 0x01 and 0x01 becomes 0x01 0x02. The mapping
// preserves lexicographic order.
func escape(s []byte) []byte {
	n := 0
	for _, b := range s {
		if b <= 0x01 {
			n++
		}
	}
	if n == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+n)
	for _, b := range s {
		switch b {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, b)
		}
	}
	return out
}

// unescape reverses escape.
func unescape(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			i++
			if s[i] == 0x01 {
				out = append(out, 0x00)
			} else {
				out = append(out, 0x01)
			}
			continue
		}
		out = append(out, s[i])
	}
	return out
}

// fieldPrefix is the leading part of every index key for one field:
// escaped field name, terminator, value type tag.
func fieldPrefix(field string, tag byte) []byte {
	out := append(escape([]byte(field)), 0x00, tag)
	return out
}

// encodeFloat produces 8 bytes whose byte order matches numeric order.
// Positive floats get the sign bit flipped; negatives are inverted.
func encodeFloat(f float64) []byte {
	u := math.Float64bits(f)
	if u&(1<<63) == 0 {
		u ^= 1 << 63
	} else {
		u = ^u
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return buf[:]
}

// encodeTime produces 8 bytes ordered by instant, nanosecond precision.
func encodeTime(t time.Time) []byte {
	u := uint64(t.UnixNano()) + (1 << 63)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return buf[:]
}

// stringKey builds a full index key for a string value.
func stringKey(field, value, datasetID string) []byte {
	out := fieldPrefix(field, tagBytes)
	out = append(out, escape([]byte(value))...)
	out = append(out, 0x00)
	out = append(out, escape([]byte(datasetID))...)
	return out
}

// scalarKey builds a full index key for an 8-byte encoded value.
func scalarKey(field string, tag byte, enc []byte, datasetID string) []byte {
	out := fieldPrefix(field, tag)
	out = append(out, enc...)
	out = append(out, 0x00)
	out = append(out, escape([]byte(datasetID))...)
	return out
}
