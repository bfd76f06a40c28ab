package convert

import "math"

// Args reads the scalar arguments of a managed call, such as connection and
// attribute handles, reporting failures as ConversionErrors of the call.
type Args struct {
	f fields
}

// ReadArgs wraps the input record of the call named verb.
func ReadArgs(verb string, o Object) Args {
	return Args{f: read(verb, o)}
}

// Has reports whether key is present and non-nil.
func (a Args) Has(key string) bool {
	return a.f.has(key)
}

// Uint16 reads a required 16-bit argument.
func (a Args) Uint16(key string) (uint16, error) {
	return a.f.u16(key)
}

// Uint16Or reads an optional 16-bit argument.
func (a Args) Uint16Or(key string, def uint16) (uint16, error) {
	return a.f.u16Or(key, def)
}

// Object reads a required nested record.
func (a Args) Object(key string) (Object, error) {
	o, err := a.f.object(key)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, a.f.missing(key)
	}
	return o, nil
}

// ObjectOr reads an optional nested record; an absent record yields an empty
// one.
func (a Args) ObjectOr(key string) (Object, error) {
	o, err := a.f.object(key)
	if err != nil || o != nil {
		return o, err
	}
	return Object{}, nil
}

// ServiceType reads the service type argument by name or number.
func (a Args) ServiceType(key string) (uint8, error) {
	n, err := a.f.enum(key, serviceTypes)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// Nest re-roots err, raised by the converter of the nested record key, under
// the call.
func (a Args) Nest(key string, err error) error {
	return nest(a.f.entity, key, err)
}

// ConnHandleOr reads conn_handle, defaulting to def.
func (a Args) ConnHandleOr(def uint16) (uint16, error) {
	n, ok, err := a.f.integer("conn_handle", 0, math.MaxUint16)
	if err != nil || !ok {
		return def, err
	}
	return uint16(n), nil
}
