package convert

import (
	"errors"

	"github.com/srg/gattsd/pkg/native"
)

// AuthorizeParamsConverter maps native.AuthorizeParams to
// {gatt_status, update, offset, len, data}.
type AuthorizeParamsConverter struct {
	Alloc Allocator
}

func (AuthorizeParamsConverter) ToManaged(p *native.AuthorizeParams) (Object, error) {
	if p == nil {
		return nil, nil
	}
	status, _ := gattStatuses.managed(int64(p.GattStatus))
	out := Object{
		"gatt_status": status,
		"update":      p.Update,
		"offset":      p.Offset,
		"len":         p.Len,
		"data":        nil,
	}
	if p.Data == nil {
		if p.Len > 0 {
			return out, newError("authorize_params", "data", "null buffer with non-zero len", p.Len)
		}
		return out, nil
	}
	if len(p.Data) < int(p.Len) {
		return out, lengthError("authorize_params", "len", int(p.Len), len(p.Data), "data length")
	}
	out["data"] = copyBytes(p.Data[:p.Len])
	return out, nil
}

func (c AuthorizeParamsConverter) ToNative(o Object) (*native.AuthorizeParams, error) {
	f := read("authorize_params", o)
	p := new(native.AuthorizeParams)

	status, err := f.enumOr("gatt_status", gattStatuses, int64(native.GattStatusSuccess))
	if err != nil {
		return nil, err
	}
	if status < 0 || status > 0xFFFF {
		return nil, newError("authorize_params", "gatt_status", "out of range", status)
	}
	p.GattStatus = uint16(status)
	if p.Update, err = f.boolOr("update", false); err != nil {
		return nil, err
	}
	if p.Offset, err = f.u16Or("offset", 0); err != nil {
		return nil, err
	}
	if p.Data, err = f.bytes("data", c.Alloc); err != nil {
		return nil, err
	}
	if len(p.Data) > 0xFFFF {
		return nil, lengthError("authorize_params", "data", len(p.Data), 0xFFFF, "maximum")
	}
	if p.Len, err = f.u16Or("len", uint16(len(p.Data))); err != nil {
		return nil, err
	}
	if int(p.Len) > len(p.Data) {
		if p.Data == nil {
			return nil, newError("authorize_params", "data", "required when len is non-zero", nil)
		}
		return nil, lengthError("authorize_params", "len", int(p.Len), len(p.Data), "data length")
	}
	return p, nil
}

// RWAuthorizeReplyConverter maps native.RWAuthorizeReplyParams to
// {type, read, write}; exactly one of read and write is non-nil.
type RWAuthorizeReplyConverter struct {
	Alloc Allocator
}

func (RWAuthorizeReplyConverter) ToManaged(p *native.RWAuthorizeReplyParams) (Object, error) {
	if p == nil {
		return nil, nil
	}
	typ, known := authorizeTypes.managed(int64(p.Type))
	out := Object{"type": typ}
	params := AuthorizeParamsConverter{}
	if err := subManaged(out, "rw_authorize_reply", "read", params.ToManaged, p.Read); err != nil {
		return out, err
	}
	if err := subManaged(out, "rw_authorize_reply", "write", params.ToManaged, p.Write); err != nil {
		return out, err
	}
	if !known {
		return out, newError("rw_authorize_reply", "type", "unknown authorize type", p.Type)
	}
	if err := p.Validate(); err != nil {
		return out, replyError(err)
	}
	return out, nil
}

func (c RWAuthorizeReplyConverter) ToNative(o Object) (*native.RWAuthorizeReplyParams, error) {
	f := read("rw_authorize_reply", o)
	params := AuthorizeParamsConverter{Alloc: c.Alloc}
	p := new(native.RWAuthorizeReplyParams)
	var err error

	if p.Read, err = subNative(f, "read", params.ToNative); err != nil {
		return nil, err
	}
	if p.Write, err = subNative(f, "write", params.ToNative); err != nil {
		return nil, err
	}

	inferred := native.AuthorizeTypeInvalid
	switch {
	case p.Read != nil && p.Write == nil:
		inferred = native.AuthorizeTypeRead
	case p.Write != nil && p.Read == nil:
		inferred = native.AuthorizeTypeWrite
	}
	typ, err := f.enumOr("type", authorizeTypes, int64(inferred))
	if err != nil {
		return nil, err
	}
	p.Type = uint8(typ)

	if err := p.Validate(); err != nil {
		return nil, replyError(err)
	}
	return p, nil
}

func replyError(err error) *ConversionError {
	field := "type"
	if errors.Is(err, native.ErrAmbiguousReply) || errors.Is(err, native.ErrEmptyReply) {
		field = ""
	}
	return &ConversionError{Entity: "rw_authorize_reply", Field: field, Reason: "exactly one of read or write must match type", Err: err}
}

// EnableParamsConverter maps native.EnableParams to
// {service_changed, attr_tab_size}.
type EnableParamsConverter struct{}

func (EnableParamsConverter) ToManaged(p *native.EnableParams) (Object, error) {
	if p == nil {
		return nil, nil
	}
	return Object{"service_changed": p.ServiceChanged, "attr_tab_size": p.AttrTabSize}, nil
}

func (EnableParamsConverter) ToNative(o Object) (*native.EnableParams, error) {
	f := read("enable_params", o)
	p := new(native.EnableParams)
	var err error
	if p.ServiceChanged, err = f.boolOr("service_changed", false); err != nil {
		return nil, err
	}
	if p.AttrTabSize, err = f.u32Or("attr_tab_size", 0); err != nil {
		return nil, err
	}
	return p, nil
}
