// Package convert provides checked type conversions for values decoded from
// the wire.
//
// PackStream normalizes all integers to int64 and all floats to float64, but
// callers hand the driver native Go ints and the server is free to send
// either numeric family for an ambiguous column. These helpers perform the
// numeric widening the type layer relies on.
//
// All conversion functions return a success boolean so callers can handle
// failures gracefully:
//
//	if n, ok := convert.ToInt64(value); ok {
//		// use n
//	}
package convert

import "math"

// ToInt64 converts any Go integer type to int64.
// Returns (value, true) on success, (0, false) on failure.
//
// Floats convert only when they carry an exact integral value; 3.0 converts,
// 3.5 does not. Non-numeric types never convert.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return int64(val), true
		}
		return 0, false
	case float32:
		return ToInt64(float64(val))
	default:
		return 0, false
	}
}

// ToFloat64 converts any numeric type to float64.
// Returns (value, true) on success, (0, false) on failure.
//
// Integers always convert; values beyond 2^53 lose precision, which matches
// how the server itself treats mixed numeric columns.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
