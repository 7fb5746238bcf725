package ipc

import (
	"math"
	"unicode/utf8"
)

// Normalize folds a loosely decoded msgpack value into the engine's
// canonical shapes:
//   - unsigned integers that fit int64 become int64
//   - strings that are not valid UTF-8 become []byte
//   - ext handle pointers become values (Buffer, Window, Tabpage, Ext)
//
// Lists and maps are normalised in place.
func Normalize(v any) any {
	switch x := v.(type) {
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case string:
		if !utf8.ValidString(x) {
			return []byte(x)
		}
		return x
	case *Buffer:
		return *x
	case *Window:
		return *x
	case *Tabpage:
		return *x
	case *Ext:
		return *x
	case []any:
		for i := range x {
			x[i] = Normalize(x[i])
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = Normalize(e)
		}
		return x
	default:
		return v
	}
}

// AsInt64 converts any integer-like decoded value to int64.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true
		}
	}
	return 0, false
}

// AsString converts a decoded string-like value to string. Raw bytes are
// accepted only when they are valid UTF-8.
func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		if utf8.Valid(x) {
			return string(x), true
		}
	}
	return "", false
}
