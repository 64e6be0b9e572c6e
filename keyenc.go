package mdbkv

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Ordering specifies the sort direction of each index key field; a true
// entry means descending. A descending field's encoded bytes are stored
// bit-inverted, so the default bytewise database comparator yields the
// requested order without a custom comparison callback. The Ordering is
// owned by the index descriptor and outlives every transaction that
// touches the index, taking over the role of a comparator context.
type Ordering []bool

// Index key elements are encoded as a type tag followed by a
// tag-specific payload. Tags follow the canonical cross-type order of
// the document model: null < number < string < binary < bool < time.
const (
	kindNull   byte = 0x05
	kindNumber byte = 0x0a
	kindString byte = 0x0f
	kindBinary byte = 0x1e
	kindBool   byte = 0x28
	kindTime   byte = 0x2d
)

// AppendIndexKey appends the order-preserving encoding of values to buf
// and returns the extended buffer. Each value must be nil, a bool, a
// number, a string, a []byte or a time.Time; len(values) must equal
// len(ord).
func AppendIndexKey(buf []byte, ord Ordering, values []any) ([]byte, error) {
	if len(values) != len(ord) {
		return nil, fmt.Errorf("index key has %d fields, ordering spec has %d", len(values), len(ord))
	}
	for i, v := range values {
		start := len(buf)
		var err error
		buf, err = appendKeyElement(buf, v)
		if err != nil {
			return nil, err
		}
		if ord[i] {
			invert(buf[start:])
		}
	}
	return buf, nil
}

func appendKeyElement(buf []byte, v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return append(buf, kindNull), nil
	case bool:
		buf = append(buf, kindBool)
		if v {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case string:
		buf = append(buf, kindString)
		return appendEscaped(buf, []byte(v)), nil
	case []byte:
		buf = append(buf, kindBinary)
		return appendEscaped(buf, v), nil
	case time.Time:
		buf = append(buf, kindTime)
		return appendUint64BE(buf, orderedInt64(v.UnixMilli())), nil
	default:
		f, ok := numberValue(v)
		if !ok {
			return nil, fmt.Errorf("unsupported index key element type %T", v)
		}
		buf = append(buf, kindNumber)
		return appendUint64BE(buf, orderedFloat64(f)), nil
	}
}

func numberValue(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// appendEscaped writes v with 0x00 escaped as 0x00 0xFF, terminated by
// 0x00 0x00, which keeps bytewise comparisons of the encoding in the
// same order as comparisons of the raw strings.
func appendEscaped(buf []byte, v []byte) []byte {
	for _, b := range v {
		if b == 0 {
			buf = append(buf, 0, 0xff)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, 0, 0)
}

func orderedFloat64(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

func unorderedFloat64(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

func orderedInt64(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

func unorderedInt64(u uint64) int64 {
	return int64(u ^ (1 << 63))
}

func invert(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}

// keyDecoder reads an encoded index key, un-inverting descending
// fields on the fly.
type keyDecoder struct {
	buf  []byte
	off  int
	desc bool
}

func (d *keyDecoder) next() (byte, bool) {
	if d.off >= len(d.buf) {
		return 0, false
	}
	b := d.buf[d.off]
	d.off++
	if d.desc {
		b = ^b
	}
	return b, true
}

func (d *keyDecoder) take(n int) ([]byte, bool) {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, ok := d.next()
		if !ok {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}

// DecodeIndexKey decodes an index key back into its field values.
// Strings decode as string, binary as []byte, numbers as float64.
func DecodeIndexKey(ord Ordering, data []byte) ([]any, error) {
	d := &keyDecoder{buf: data}
	values := make([]any, 0, len(ord))
	for i := range ord {
		d.desc = ord[i]
		tag, ok := d.next()
		if !ok {
			return nil, dataErrf(data, d.off, nil, "index key truncated at field %d", i)
		}
		switch tag {
		case kindNull:
			values = append(values, nil)
		case kindBool:
			b, ok := d.next()
			if !ok {
				return nil, dataErrf(data, d.off, nil, "index key truncated at field %d", i)
			}
			values = append(values, b != 0)
		case kindNumber:
			raw, ok := d.take(8)
			if !ok {
				return nil, dataErrf(data, d.off, nil, "index key truncated at field %d", i)
			}
			values = append(values, unorderedFloat64(beUint64(raw)))
		case kindTime:
			raw, ok := d.take(8)
			if !ok {
				return nil, dataErrf(data, d.off, nil, "index key truncated at field %d", i)
			}
			values = append(values, time.UnixMilli(unorderedInt64(beUint64(raw))).UTC())
		case kindString, kindBinary:
			raw, err := d.unescape(data, i)
			if err != nil {
				return nil, err
			}
			if tag == kindString {
				values = append(values, string(raw))
			} else {
				values = append(values, raw)
			}
		default:
			return nil, dataErrf(data, d.off, nil, "index key has unknown element tag %#x at field %d", tag, i)
		}
	}
	if d.off != len(data) {
		return nil, dataErrf(data, d.off, nil, "index key has %d trailing bytes", len(data)-d.off)
	}
	return values, nil
}

func (d *keyDecoder) unescape(data []byte, field int) ([]byte, error) {
	var out []byte
	for {
		b, ok := d.next()
		if !ok {
			return nil, dataErrf(data, d.off, nil, "index key truncated at field %d", field)
		}
		if b != 0 {
			out = append(out, b)
			continue
		}
		e, ok := d.next()
		if !ok {
			return nil, dataErrf(data, d.off, nil, "index key truncated at field %d", field)
		}
		switch e {
		case 0:
			return out, nil
		case 0xff:
			out = append(out, 0)
		default:
			return nil, dataErrf(data, d.off, nil, "index key has bad escape %#x at field %d", e, field)
		}
	}
}

func beUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

// FormatIndexKey renders an encoded index key for error messages and
// logs, falling back to hex if the encoding does not decode.
func FormatIndexKey(ord Ordering, data []byte) string {
	values, err := DecodeIndexKey(ord, data)
	if err != nil {
		return fmt.Sprintf("%x", data)
	}
	var buf strings.Builder
	buf.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%v", v)
	}
	buf.WriteByte('}')
	return buf.String()
}
