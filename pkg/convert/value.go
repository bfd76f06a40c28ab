package convert

import "github.com/srg/gattsd/pkg/native"

// ValueConverter maps native.Value to {len, offset, value}. Without a value,
// ToNative allocates a zeroed buffer of len bytes to receive output. A len
// beyond the buffer is a truncated read: value holds what the buffer got and
// len the full attribute length.
type ValueConverter struct {
	Alloc Allocator
}

func (ValueConverter) ToManaged(v *native.Value) (Object, error) {
	if v == nil {
		return nil, nil
	}
	out := Object{"len": v.Len, "offset": v.Offset, "value": nil}
	if v.Data == nil {
		if v.Len > 0 {
			return out, newError("value", "value", "null buffer with non-zero len", v.Len)
		}
		return out, nil
	}
	out["value"] = copyBytes(v.Data[:min(len(v.Data), int(v.Len))])
	return out, nil
}

func (c ValueConverter) ToNative(o Object) (*native.Value, error) {
	f := read("value", o)
	v := new(native.Value)
	var err error

	if v.Offset, err = f.u16Or("offset", 0); err != nil {
		return nil, err
	}
	if v.Data, err = f.bytes("value", c.Alloc); err != nil {
		return nil, err
	}
	if len(v.Data) > 0xFFFF {
		return nil, lengthError("value", "value", len(v.Data), 0xFFFF, "maximum")
	}
	if v.Data == nil {
		if v.Len, err = f.u16Or("len", 0); err != nil {
			return nil, err
		}
		v.Data = c.Alloc.alloc(int(v.Len))
		return v, nil
	}
	if v.Len, err = f.u16Or("len", uint16(len(v.Data))); err != nil {
		return nil, err
	}
	if int(v.Len) > len(v.Data) {
		return nil, lengthError("value", "len", int(v.Len), len(v.Data), "buffer length")
	}
	return v, nil
}

// HVXConverter maps native.HVXParams to {handle, type, offset, len, data}.
type HVXConverter struct {
	Alloc Allocator
}

func (HVXConverter) ToManaged(h *native.HVXParams) (Object, error) {
	if h == nil {
		return nil, nil
	}
	out := Object{
		"handle": h.Handle,
		"offset": h.Offset,
		"len":    nil,
		"data":   nil,
	}
	typ, known := hvxTypes.managed(int64(h.Type))
	out["type"] = typ
	if h.Len != nil {
		out["len"] = *h.Len
	}
	if h.Data != nil {
		out["data"] = copyBytes(h.Data)
	}
	if !known {
		return out, newError("hvx_params", "type", "unknown hvx type", h.Type)
	}
	if h.Len != nil && h.Data != nil && int(*h.Len) > len(h.Data) {
		return out, lengthError("hvx_params", "len", int(*h.Len), len(h.Data), "data length")
	}
	return out, nil
}

func (c HVXConverter) ToNative(o Object) (*native.HVXParams, error) {
	f := read("hvx_params", o)
	h := new(native.HVXParams)
	var err error

	if h.Handle, err = f.u16("handle"); err != nil {
		return nil, err
	}
	typ, err := f.enum("type", hvxTypes)
	if err != nil {
		return nil, err
	}
	h.Type = uint8(typ)
	if h.Offset, err = f.u16Or("offset", 0); err != nil {
		return nil, err
	}
	if h.Data, err = f.bytes("data", c.Alloc); err != nil {
		return nil, err
	}
	if h.Len, err = f.optU16("len"); err != nil {
		return nil, err
	}
	if h.Data == nil {
		return h, nil
	}
	if len(h.Data) > 0xFFFF {
		return nil, lengthError("hvx_params", "data", len(h.Data), 0xFFFF, "maximum")
	}
	if h.Len == nil {
		n := uint16(len(h.Data))
		h.Len = &n
	}
	if int(*h.Len) > len(h.Data) {
		return nil, lengthError("hvx_params", "len", int(*h.Len), len(h.Data), "data length")
	}
	return h, nil
}
