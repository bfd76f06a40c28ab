package convert

import "github.com/srg/gattsd/pkg/native"

// Event payloads travel native to managed only; their ToNative methods
// return ErrUnsupportedDirection.

// WriteEventConverter maps native.EvtWrite to
// {handle, uuid, op, auth_required, offset, len, data}.
type WriteEventConverter struct{}

func (WriteEventConverter) ToManaged(w *native.EvtWrite) (Object, error) {
	if w == nil {
		return nil, nil
	}
	op, known := writeOps.managed(int64(w.Op))
	out := Object{
		"handle":        w.Handle,
		"op":            op,
		"auth_required": w.AuthRequired,
		"offset":        w.Offset,
		"len":           w.Len,
		"data":          nil,
	}
	if err := subManaged(out, "write_event", "uuid", UUIDConverter{}.ToManaged, &w.UUID); err != nil {
		return out, err
	}
	if w.Data == nil && w.Len > 0 {
		return out, newError("write_event", "data", "null buffer with non-zero len", w.Len)
	}
	if w.Data != nil {
		if len(w.Data) < int(w.Len) {
			return out, lengthError("write_event", "len", int(w.Len), len(w.Data), "data length")
		}
		out["data"] = copyBytes(w.Data[:w.Len])
	}
	if !known {
		return out, newError("write_event", "op", "unknown write operation", w.Op)
	}
	return out, nil
}

func (WriteEventConverter) ToNative(Object) (*native.EvtWrite, error) {
	return nil, ErrUnsupportedDirection
}

// ReadEventConverter maps native.EvtRead to {handle, uuid, offset}.
type ReadEventConverter struct{}

func (ReadEventConverter) ToManaged(r *native.EvtRead) (Object, error) {
	if r == nil {
		return nil, nil
	}
	out := Object{"handle": r.Handle, "offset": r.Offset}
	if err := subManaged(out, "read_event", "uuid", UUIDConverter{}.ToManaged, &r.UUID); err != nil {
		return out, err
	}
	return out, nil
}

func (ReadEventConverter) ToNative(Object) (*native.EvtRead, error) {
	return nil, ErrUnsupportedDirection
}

// RWAuthorizeRequestConverter maps native.EvtRWAuthorizeRequest to
// {type, read, write}.
type RWAuthorizeRequestConverter struct{}

func (RWAuthorizeRequestConverter) ToManaged(r *native.EvtRWAuthorizeRequest) (Object, error) {
	if r == nil {
		return nil, nil
	}
	typ, known := authorizeTypes.managed(int64(r.Type))
	out := Object{"type": typ}
	if err := subManaged(out, "rw_authorize_request", "read", ReadEventConverter{}.ToManaged, r.Read); err != nil {
		return out, err
	}
	if err := subManaged(out, "rw_authorize_request", "write", WriteEventConverter{}.ToManaged, r.Write); err != nil {
		return out, err
	}
	if !known || r.Type == native.AuthorizeTypeInvalid {
		return out, newError("rw_authorize_request", "type", "unknown authorize type", r.Type)
	}
	return out, nil
}

func (RWAuthorizeRequestConverter) ToNative(Object) (*native.EvtRWAuthorizeRequest, error) {
	return nil, ErrUnsupportedDirection
}

// SysAttrMissingConverter maps native.EvtSysAttrMissing to {hint}.
type SysAttrMissingConverter struct{}

func (SysAttrMissingConverter) ToManaged(m *native.EvtSysAttrMissing) (Object, error) {
	if m == nil {
		return nil, nil
	}
	return structMap(m), nil
}

func (SysAttrMissingConverter) ToNative(Object) (*native.EvtSysAttrMissing, error) {
	return nil, ErrUnsupportedDirection
}

// HVCConverter maps native.EvtHVC to {handle}.
type HVCConverter struct{}

func (HVCConverter) ToManaged(h *native.EvtHVC) (Object, error) {
	if h == nil {
		return nil, nil
	}
	return structMap(h), nil
}

func (HVCConverter) ToNative(Object) (*native.EvtHVC, error) {
	return nil, ErrUnsupportedDirection
}

// TimeoutConverter maps native.EvtTimeout to {src}. It serves both the
// timeout and the SC-confirm events.
type TimeoutConverter struct{}

func (TimeoutConverter) ToManaged(t *native.EvtTimeout) (Object, error) {
	if t == nil {
		return nil, nil
	}
	src, known := timeoutSources.managed(int64(t.Src))
	out := Object{"src": src}
	if !known {
		return out, newError("timeout_event", "src", "unknown timeout source", t.Src)
	}
	return out, nil
}

func (TimeoutConverter) ToNative(Object) (*native.EvtTimeout, error) {
	return nil, ErrUnsupportedDirection
}

// EventPayload converts the params of a native event. Unknown payload types
// yield a nil record and no error.
func EventPayload(evt *native.Event) (Object, error) {
	switch p := evt.Params.(type) {
	case *native.EvtWrite:
		return WriteEventConverter{}.ToManaged(p)
	case *native.EvtRWAuthorizeRequest:
		return RWAuthorizeRequestConverter{}.ToManaged(p)
	case *native.EvtSysAttrMissing:
		return SysAttrMissingConverter{}.ToManaged(p)
	case *native.EvtHVC:
		return HVCConverter{}.ToManaged(p)
	case *native.EvtTimeout:
		return TimeoutConverter{}.ToManaged(p)
	case *native.EvtRead:
		return ReadEventConverter{}.ToManaged(p)
	default:
		return nil, nil
	}
}
