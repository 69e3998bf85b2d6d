// Package packstream implements the PackStream binary serialization format
// used by the Bolt protocol.
//
// PackStream is a compact, marker-prefixed encoding: every value starts with
// a marker byte that identifies its type and, for small values, carries the
// value or its size inline. Larger values follow the marker with a fixed-width
// length or payload.
//
// Supported value types:
//   - nil, bool, int64, float64
//   - string, []byte
//   - []any (lists), map[string]any (maps)
//   - Structure (tagged structs: nodes, relationships, paths, points, temporals)
//
// Encoding always normalizes Go integers to int64 and floats to float64, so
// a decode of an encode yields the canonical representation.
//
// Example:
//
//	buf, err := packstream.Encode(map[string]any{"name": "Thor", "age": int64(1500)})
//	v, n, err := packstream.Decode(buf)
package packstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Decode errors. All decode failures wrap one of these sentinels so callers
// can classify malformed input with errors.Is.
var (
	// ErrUnknownMarker indicates a marker byte that is not part of PackStream.
	ErrUnknownMarker = errors.New("packstream: unknown marker")
	// ErrUnexpectedEnd indicates input that ends mid-value.
	ErrUnexpectedEnd = errors.New("packstream: unexpected end of input")
	// ErrSizeMismatch indicates a length field inconsistent with the data that follows.
	ErrSizeMismatch = errors.New("packstream: size mismatch")
)

// Marker bytes for fixed-width and sized values.
const (
	markerNull  = 0xC0
	markerFloat = 0xC1
	markerFalse = 0xC2
	markerTrue  = 0xC3

	markerInt8  = 0xC8
	markerInt16 = 0xC9
	markerInt32 = 0xCA
	markerInt64 = 0xCB

	markerBytes8  = 0xCC
	markerBytes16 = 0xCD
	markerBytes32 = 0xCE

	markerTinyString = 0x80 // 0x80-0x8F
	markerString8    = 0xD0
	markerString16   = 0xD1
	markerString32   = 0xD2

	markerTinyList = 0x90 // 0x90-0x9F
	markerList8    = 0xD4
	markerList16   = 0xD5
	markerList32   = 0xD6

	markerTinyMap = 0xA0 // 0xA0-0xAF
	markerMap8    = 0xD8
	markerMap16   = 0xD9
	markerMap32   = 0xDA

	markerTinyStruct = 0xB0 // 0xB0-0xBF
)

// Structure is a tagged PackStream structure: a one-byte type tag plus an
// ordered field list. The Bolt protocol uses structures for messages and for
// graph values (nodes, relationships, paths, points, temporal values).
//
// A structure carries at most 15 fields; Bolt never defines more.
type Structure struct {
	Tag    byte
	Fields []any
}

// Encode serializes a value to PackStream bytes.
func Encode(v any) ([]byte, error) {
	return Append(nil, v)
}

// Append serializes a value and appends it to buf, returning the extended
// buffer. Integers of any Go width are encoded with the smallest marker that
// fits; decoding always yields int64.
func Append(buf []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(buf, markerNull), nil
	case bool:
		if val {
			return append(buf, markerTrue), nil
		}
		return append(buf, markerFalse), nil
	case int:
		return AppendInt(buf, int64(val)), nil
	case int8:
		return AppendInt(buf, int64(val)), nil
	case int16:
		return AppendInt(buf, int64(val)), nil
	case int32:
		return AppendInt(buf, int64(val)), nil
	case int64:
		return AppendInt(buf, val), nil
	case uint:
		return AppendInt(buf, int64(val)), nil
	case uint8:
		return AppendInt(buf, int64(val)), nil
	case uint16:
		return AppendInt(buf, int64(val)), nil
	case uint32:
		return AppendInt(buf, int64(val)), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("packstream: uint64 %d overflows int64", val)
		}
		return AppendInt(buf, int64(val)), nil
	case float32:
		return appendFloat(buf, float64(val)), nil
	case float64:
		return appendFloat(buf, val), nil
	case string:
		return AppendString(buf, val), nil
	case []byte:
		return appendBytes(buf, val), nil
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return appendList(buf, items)
	case []int64:
		items := make([]any, len(val))
		for i, n := range val {
			items[i] = n
		}
		return appendList(buf, items)
	case []float64:
		items := make([]any, len(val))
		for i, f := range val {
			items[i] = f
		}
		return appendList(buf, items)
	case []any:
		return appendList(buf, val)
	case map[string]any:
		return AppendMap(buf, val)
	case Structure:
		return appendStructure(buf, val)
	case *Structure:
		return appendStructure(buf, *val)
	default:
		return nil, fmt.Errorf("packstream: unsupported type %T", v)
	}
}

// AppendInt appends an integer using the smallest encoding that fits:
// tiny int in the marker byte, then INT8/INT16/INT32/INT64.
func AppendInt(buf []byte, val int64) []byte {
	switch {
	case val >= -16 && val <= 127:
		return append(buf, byte(val))
	case val >= -128 && val < -16:
		return append(buf, markerInt8, byte(val))
	case val >= math.MinInt16 && val <= math.MaxInt16:
		return append(buf, markerInt16, byte(val>>8), byte(val))
	case val >= math.MinInt32 && val <= math.MaxInt32:
		return append(buf, markerInt32, byte(val>>24), byte(val>>16), byte(val>>8), byte(val))
	default:
		return append(buf, markerInt64,
			byte(val>>56), byte(val>>48), byte(val>>40), byte(val>>32),
			byte(val>>24), byte(val>>16), byte(val>>8), byte(val))
	}
}

func appendFloat(buf []byte, val float64) []byte {
	buf = append(buf, markerFloat)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(val))
	return append(buf, b[:]...)
}

// AppendString appends a string with a tiny/8/16/32-bit length marker.
func AppendString(buf []byte, s string) []byte {
	length := len(s)
	switch {
	case length < 16:
		buf = append(buf, byte(markerTinyString+length))
	case length < 256:
		buf = append(buf, markerString8, byte(length))
	case length < 65536:
		buf = append(buf, markerString16, byte(length>>8), byte(length))
	default:
		buf = append(buf, markerString32, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	length := len(b)
	switch {
	case length < 256:
		buf = append(buf, markerBytes8, byte(length))
	case length < 65536:
		buf = append(buf, markerBytes16, byte(length>>8), byte(length))
	default:
		buf = append(buf, markerBytes32, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}
	return append(buf, b...)
}

func appendList(buf []byte, items []any) ([]byte, error) {
	size := len(items)
	switch {
	case size < 16:
		buf = append(buf, byte(markerTinyList+size))
	case size < 256:
		buf = append(buf, markerList8, byte(size))
	case size < 65536:
		buf = append(buf, markerList16, byte(size>>8), byte(size))
	default:
		buf = append(buf, markerList32, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	}
	var err error
	for _, item := range items {
		buf, err = Append(buf, item)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// AppendMap appends a string-keyed map. Key order on the wire is
// unspecified; maps compare equal by content, not order.
func AppendMap(buf []byte, m map[string]any) ([]byte, error) {
	size := len(m)
	switch {
	case size < 16:
		buf = append(buf, byte(markerTinyMap+size))
	case size < 256:
		buf = append(buf, markerMap8, byte(size))
	case size < 65536:
		buf = append(buf, markerMap16, byte(size>>8), byte(size))
	default:
		buf = append(buf, markerMap32, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	}
	var err error
	for k, v := range m {
		buf = AppendString(buf, k)
		buf, err = Append(buf, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendStructure(buf []byte, s Structure) ([]byte, error) {
	if len(s.Fields) > 15 {
		return nil, fmt.Errorf("packstream: structure 0x%02X has %d fields, max 15", s.Tag, len(s.Fields))
	}
	buf = append(buf, byte(markerTinyStruct+len(s.Fields)), s.Tag)
	var err error
	for _, f := range s.Fields {
		buf, err = Append(buf, f)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Decode deserializes the first value in data, returning the value and the
// number of bytes consumed. Trailing bytes are not an error; the caller can
// continue decoding at data[n:].
func Decode(data []byte) (any, int, error) {
	return decodeValue(data, 0)
}

// decodeValue decodes the value starting at offset. The returned int is the
// number of bytes the value occupied.
func decodeValue(data []byte, offset int) (any, int, error) {
	if offset >= len(data) {
		return nil, 0, ErrUnexpectedEnd
	}
	marker := data[offset]

	switch {
	case marker == markerNull:
		return nil, 1, nil
	case marker == markerFalse:
		return false, 1, nil
	case marker == markerTrue:
		return true, 1, nil
	case marker <= 0x7F: // tiny positive int
		return int64(marker), 1, nil
	case marker >= 0xF0: // tiny negative int (-16..-1)
		return int64(int8(marker)), 1, nil
	case marker == markerInt8:
		if err := need(data, offset+1, 1); err != nil {
			return nil, 0, err
		}
		return int64(int8(data[offset+1])), 2, nil
	case marker == markerInt16:
		if err := need(data, offset+1, 2); err != nil {
			return nil, 0, err
		}
		return int64(int16(binary.BigEndian.Uint16(data[offset+1:]))), 3, nil
	case marker == markerInt32:
		if err := need(data, offset+1, 4); err != nil {
			return nil, 0, err
		}
		return int64(int32(binary.BigEndian.Uint32(data[offset+1:]))), 5, nil
	case marker == markerInt64:
		if err := need(data, offset+1, 8); err != nil {
			return nil, 0, err
		}
		return int64(binary.BigEndian.Uint64(data[offset+1:])), 9, nil
	case marker == markerFloat:
		if err := need(data, offset+1, 8); err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data[offset+1:])), 9, nil
	case marker >= markerTinyString && marker <= 0x8F,
		marker == markerString8, marker == markerString16, marker == markerString32:
		return decodeString(data, offset)
	case marker == markerBytes8, marker == markerBytes16, marker == markerBytes32:
		return decodeBytes(data, offset)
	case marker >= markerTinyList && marker <= 0x9F,
		marker == markerList8, marker == markerList16, marker == markerList32:
		return decodeList(data, offset)
	case marker >= markerTinyMap && marker <= 0xAF,
		marker == markerMap8, marker == markerMap16, marker == markerMap32:
		return decodeMap(data, offset)
	case marker >= markerTinyStruct && marker <= 0xBF:
		return decodeStructure(data, offset)
	default:
		return nil, 0, fmt.Errorf("%w: 0x%02X", ErrUnknownMarker, marker)
	}
}

// need verifies that n bytes are available starting at offset.
func need(data []byte, offset, n int) error {
	if offset+n > len(data) {
		return ErrUnexpectedEnd
	}
	return nil
}

// decodeSize reads a size field of the given width after the marker.
func decodeSize(data []byte, offset, width int) (int, int, error) {
	if err := need(data, offset, width); err != nil {
		return 0, 0, err
	}
	var size int
	for i := 0; i < width; i++ {
		size = size<<8 | int(data[offset+i])
	}
	return size, width, nil
}

func decodeString(data []byte, offset int) (any, int, error) {
	start := offset
	marker := data[offset]
	offset++

	var size int
	switch {
	case marker >= markerTinyString && marker <= 0x8F:
		size = int(marker - markerTinyString)
	case marker == markerString8:
		n, w, err := decodeSize(data, offset, 1)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	case marker == markerString16:
		n, w, err := decodeSize(data, offset, 2)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	case marker == markerString32:
		n, w, err := decodeSize(data, offset, 4)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	default: // reachable via malformed map keys
		return nil, 0, fmt.Errorf("%w: 0x%02X where a string marker is required", ErrUnknownMarker, marker)
	}

	if offset+size > len(data) {
		return nil, 0, fmt.Errorf("%w: string of %d bytes exceeds input", ErrSizeMismatch, size)
	}
	return string(data[offset : offset+size]), offset + size - start, nil
}

func decodeBytes(data []byte, offset int) (any, int, error) {
	start := offset
	marker := data[offset]
	offset++

	width := 1
	if marker == markerBytes16 {
		width = 2
	} else if marker == markerBytes32 {
		width = 4
	}
	size, w, err := decodeSize(data, offset, width)
	if err != nil {
		return nil, 0, err
	}
	offset += w

	if offset+size > len(data) {
		return nil, 0, fmt.Errorf("%w: byte array of %d bytes exceeds input", ErrSizeMismatch, size)
	}
	out := make([]byte, size)
	copy(out, data[offset:offset+size])
	return out, offset + size - start, nil
}

func decodeList(data []byte, offset int) (any, int, error) {
	start := offset
	marker := data[offset]
	offset++

	var size int
	switch {
	case marker >= markerTinyList && marker <= 0x9F:
		size = int(marker - markerTinyList)
	case marker == markerList8:
		n, w, err := decodeSize(data, offset, 1)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	case marker == markerList16:
		n, w, err := decodeSize(data, offset, 2)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	default: // markerList32
		n, w, err := decodeSize(data, offset, 4)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	}

	// Every element occupies at least one byte; a declared size beyond the
	// remaining input is malformed, and must be rejected before allocation.
	if size > len(data)-offset {
		return nil, 0, fmt.Errorf("%w: list declares %d items with %d bytes remaining", ErrSizeMismatch, size, len(data)-offset)
	}
	result := make([]any, size)
	for i := 0; i < size; i++ {
		value, n, err := decodeValue(data, offset)
		if err != nil {
			if errors.Is(err, ErrUnexpectedEnd) {
				return nil, 0, fmt.Errorf("%w: list declares %d items, input ends at item %d", ErrSizeMismatch, size, i)
			}
			return nil, 0, fmt.Errorf("list item %d: %w", i, err)
		}
		result[i] = value
		offset += n
	}
	return result, offset - start, nil
}

func decodeMap(data []byte, offset int) (any, int, error) {
	start := offset
	marker := data[offset]
	offset++

	var size int
	switch {
	case marker >= markerTinyMap && marker <= 0xAF:
		size = int(marker - markerTinyMap)
	case marker == markerMap8:
		n, w, err := decodeSize(data, offset, 1)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	case marker == markerMap16:
		n, w, err := decodeSize(data, offset, 2)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	default: // markerMap32
		n, w, err := decodeSize(data, offset, 4)
		if err != nil {
			return nil, 0, err
		}
		size, offset = n, offset+w
	}

	// Each entry needs at least a key marker and a value marker.
	if size > (len(data)-offset)/2 {
		return nil, 0, fmt.Errorf("%w: map declares %d entries with %d bytes remaining", ErrSizeMismatch, size, len(data)-offset)
	}
	result := make(map[string]any, size)
	for i := 0; i < size; i++ {
		key, n, err := decodeString(data, offset)
		if err != nil {
			if errors.Is(err, ErrUnexpectedEnd) {
				return nil, 0, fmt.Errorf("%w: map declares %d entries, input ends at entry %d", ErrSizeMismatch, size, i)
			}
			return nil, 0, fmt.Errorf("map key %d: %w", i, err)
		}
		offset += n

		value, n, err := decodeValue(data, offset)
		if err != nil {
			if errors.Is(err, ErrUnexpectedEnd) {
				return nil, 0, fmt.Errorf("%w: map declares %d entries, input ends at entry %d", ErrSizeMismatch, size, i)
			}
			return nil, 0, fmt.Errorf("map value for %q: %w", key, err)
		}
		offset += n

		result[key.(string)] = value
	}
	return result, offset - start, nil
}

func decodeStructure(data []byte, offset int) (any, int, error) {
	start := offset
	marker := data[offset]
	offset++

	count := int(marker - markerTinyStruct)
	if offset >= len(data) {
		return nil, 0, ErrUnexpectedEnd
	}
	tag := data[offset]
	offset++

	fields := make([]any, count)
	for i := 0; i < count; i++ {
		value, n, err := decodeValue(data, offset)
		if err != nil {
			if errors.Is(err, ErrUnexpectedEnd) {
				return nil, 0, fmt.Errorf("%w: structure 0x%02X declares %d fields, input ends at field %d", ErrSizeMismatch, tag, count, i)
			}
			return nil, 0, fmt.Errorf("structure 0x%02X field %d: %w", tag, i, err)
		}
		fields[i] = value
		offset += n
	}
	return Structure{Tag: tag, Fields: fields}, offset - start, nil
}
