package convert

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// fields reads typed members out of a managed record on behalf of one entity.
type fields struct {
	entity string
	obj    Object
}

func read(entity string, o Object) fields {
	return fields{entity: entity, obj: o}
}

// raw returns the member and whether it is present and non-nil.
func (f fields) raw(key string) (any, bool) {
	v, ok := f.obj[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (f fields) has(key string) bool {
	_, ok := f.raw(key)
	return ok
}

func (f fields) missing(key string) *ConversionError {
	return newError(f.entity, key, "required field is missing", nil)
}

func (f fields) integer(key string, min, max int64) (int64, bool, error) {
	v, ok := f.raw(key)
	if !ok {
		return 0, false, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, true, &ConversionError{Entity: f.entity, Field: key, Reason: "not a number", Raw: v, Err: err}
	}
	if fl, isFloat := v.(float64); isFloat && fl != math.Trunc(fl) {
		return 0, true, newError(f.entity, key, "not an integer", v)
	}
	if n < min || n > max {
		return 0, true, newError(f.entity, key, fmt.Sprintf("value %d out of range [%d, %d]", n, min, max), v)
	}
	return n, true, nil
}

func (f fields) u8Or(key string, def uint8) (uint8, error) {
	n, ok, err := f.integer(key, 0, math.MaxUint8)
	if err != nil || !ok {
		return def, err
	}
	return uint8(n), nil
}

func (f fields) i8Or(key string, def int8) (int8, error) {
	n, ok, err := f.integer(key, math.MinInt8, math.MaxInt8)
	if err != nil || !ok {
		return def, err
	}
	return int8(n), nil
}

func (f fields) u16Or(key string, def uint16) (uint16, error) {
	n, ok, err := f.integer(key, 0, math.MaxUint16)
	if err != nil || !ok {
		return def, err
	}
	return uint16(n), nil
}

func (f fields) u16(key string) (uint16, error) {
	if !f.has(key) {
		return 0, f.missing(key)
	}
	return f.u16Or(key, 0)
}

func (f fields) u32Or(key string, def uint32) (uint32, error) {
	n, ok, err := f.integer(key, 0, math.MaxUint32)
	if err != nil || !ok {
		return def, err
	}
	return uint32(n), nil
}

// optU16 returns nil when the member is absent.
func (f fields) optU16(key string) (*uint16, error) {
	n, ok, err := f.integer(key, 0, math.MaxUint16)
	if err != nil || !ok {
		return nil, err
	}
	v := uint16(n)
	return &v, nil
}

func (f fields) u8(key string) (uint8, error) {
	if !f.has(key) {
		return 0, f.missing(key)
	}
	return f.u8Or(key, 0)
}

func (f fields) boolOr(key string, def bool) (bool, error) {
	v, ok := f.raw(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def, &ConversionError{Entity: f.entity, Field: key, Reason: "not a boolean", Raw: v, Err: err}
	}
	return b, nil
}

// object returns a nested record, or nil when absent.
func (f fields) object(key string) (Object, error) {
	v, ok := f.raw(key)
	if !ok {
		return nil, nil
	}
	o, isObj := v.(map[string]any)
	if !isObj {
		return nil, newError(f.entity, key, fmt.Sprintf("expected an object, got %T", v), v)
	}
	return o, nil
}

// bytes reads a byte-sequence member into a buffer from alloc. It returns
// nil when the member is absent.
func (f fields) bytes(key string, alloc Allocator) ([]byte, error) {
	v, ok := f.raw(key)
	if !ok {
		return nil, nil
	}
	src, err := toByteSlice(v)
	if err != nil {
		return nil, &ConversionError{Entity: f.entity, Field: key, Reason: "not a byte sequence", Raw: v, Err: err}
	}
	out := alloc.alloc(len(src))
	copy(out, src)
	return out, nil
}

func (f fields) enum(key string, t *enumTable) (int64, error) {
	v, ok := f.raw(key)
	if !ok {
		return 0, f.missing(key)
	}
	n, err := t.parse(v)
	if err != nil {
		return 0, &ConversionError{Entity: f.entity, Field: key, Reason: err.Error(), Raw: v}
	}
	return n, nil
}

func (f fields) enumOr(key string, t *enumTable, def int64) (int64, error) {
	if !f.has(key) {
		return def, nil
	}
	return f.enum(key, t)
}

func toByteSlice(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		s := strings.TrimPrefix(strings.TrimPrefix(b, "0x"), "0X")
		if len(s) == len(b) {
			return nil, fmt.Errorf("string buffers must be 0x-prefixed hex")
		}
		return hex.DecodeString(s)
	case []int:
		return intsToBytes(len(b), func(i int) any { return b[i] })
	case []float64:
		return intsToBytes(len(b), func(i int) any { return b[i] })
	case []any:
		return intsToBytes(len(b), func(i int) any { return b[i] })
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func intsToBytes(n int, at func(int) any) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		x, err := cast.ToInt64E(at(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if x < 0 || x > math.MaxUint8 {
			return nil, fmt.Errorf("element %d: %d is not a byte", i, x)
		}
		out[i] = byte(x)
	}
	return out, nil
}
