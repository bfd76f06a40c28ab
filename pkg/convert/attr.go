package convert

import "github.com/srg/gattsd/pkg/native"

// subNative converts an optional nested record; an absent key yields nil.
func subNative[N any](f fields, key string, toNative func(Object) (*N, error)) (*N, error) {
	o, err := f.object(key)
	if err != nil || o == nil {
		return nil, err
	}
	n, err := toNative(o)
	if err != nil {
		return nil, nest(f.entity, key, err)
	}
	return n, nil
}

// subManaged stores the managed form of n under key, or an explicit nil.
func subManaged[N any](out Object, entity, key string, toManaged func(*N) (Object, error), n *N) error {
	m, err := toManaged(n)
	if m == nil {
		out[key] = nil
	} else {
		out[key] = m
	}
	return nest(entity, key, err)
}

// AttrMDConverter maps native.AttrMD to
// {read_perm, write_perm, vlen, vloc, rd_auth, wr_auth}.
type AttrMDConverter struct{}

func (AttrMDConverter) ToManaged(md *native.AttrMD) (Object, error) {
	if md == nil {
		return nil, nil
	}
	out := Object{
		"vlen":    md.VLen,
		"rd_auth": md.RdAuth,
		"wr_auth": md.WrAuth,
	}
	if err := subManaged(out, "attr_md", "read_perm", ConnSecModeConverter{}.ToManaged, &md.ReadPerm); err != nil {
		return out, err
	}
	if err := subManaged(out, "attr_md", "write_perm", ConnSecModeConverter{}.ToManaged, &md.WritePerm); err != nil {
		return out, err
	}

	vloc, known := vlocs.managed(int64(md.VLoc))
	out["vloc"] = vloc
	if !known {
		return out, newError("attr_md", "vloc", "unknown value location", md.VLoc)
	}
	return out, nil
}

func (AttrMDConverter) ToNative(o Object) (*native.AttrMD, error) {
	f := read("attr_md", o)
	md := new(native.AttrMD)

	for _, perm := range []struct {
		key string
		dst *native.ConnSecMode
	}{{"read_perm", &md.ReadPerm}, {"write_perm", &md.WritePerm}} {
		if !f.has(perm.key) {
			return nil, f.missing(perm.key)
		}
		m, err := subNative(f, perm.key, ConnSecModeConverter{}.ToNative)
		if err != nil {
			return nil, err
		}
		*perm.dst = *m
	}

	vloc, err := f.enum("vloc", vlocs)
	if err != nil {
		return nil, err
	}
	md.VLoc = uint8(vloc)
	if md.VLen, err = f.boolOr("vlen", false); err != nil {
		return nil, err
	}
	if md.RdAuth, err = f.boolOr("rd_auth", false); err != nil {
		return nil, err
	}
	if md.WrAuth, err = f.boolOr("wr_auth", false); err != nil {
		return nil, err
	}
	return md, nil
}

// AttrConverter maps native.Attr to
// {uuid, attr_md, init_len, init_offs, max_len, value}.
type AttrConverter struct {
	Alloc Allocator
}

func (AttrConverter) ToManaged(a *native.Attr) (Object, error) {
	if a == nil {
		return nil, nil
	}
	out := Object{
		"init_len":  a.InitLen,
		"init_offs": a.InitOffs,
		"max_len":   a.MaxLen,
		"value":     nil,
	}
	if err := subManaged(out, "attr", "uuid", UUIDConverter{}.ToManaged, a.UUID); err != nil {
		return out, err
	}
	if err := subManaged(out, "attr", "attr_md", AttrMDConverter{}.ToManaged, a.MD); err != nil {
		return out, err
	}
	if a.Value == nil {
		if a.InitLen > 0 {
			return out, newError("attr", "value", "null value with non-zero init_len", a.InitLen)
		}
		return out, nil
	}
	if len(a.Value) < int(a.InitLen) {
		return out, lengthError("attr", "init_len", int(a.InitLen), len(a.Value), "value length")
	}
	out["value"] = copyBytes(a.Value)
	return out, nil
}

func (c AttrConverter) ToNative(o Object) (*native.Attr, error) {
	f := read("attr", o)
	a := new(native.Attr)
	var err error

	if a.UUID, err = subNative(f, "uuid", UUIDConverter{}.ToNative); err != nil {
		return nil, err
	}
	if a.MD, err = subNative(f, "attr_md", AttrMDConverter{}.ToNative); err != nil {
		return nil, err
	}
	if a.Value, err = f.bytes("value", c.Alloc); err != nil {
		return nil, err
	}
	if len(a.Value) > 0xFFFF {
		return nil, lengthError("attr", "value", len(a.Value), 0xFFFF, "maximum")
	}
	valueLen := uint16(len(a.Value))

	if a.InitLen, err = f.u16Or("init_len", valueLen); err != nil {
		return nil, err
	}
	if a.InitOffs, err = f.u16Or("init_offs", 0); err != nil {
		return nil, err
	}
	if a.MaxLen, err = f.u16Or("max_len", max(a.InitLen, valueLen)); err != nil {
		return nil, err
	}

	switch {
	case a.Value == nil && a.InitLen > 0:
		return nil, newError("attr", "value", "required when init_len is non-zero", nil)
	case a.InitLen > a.MaxLen:
		return nil, lengthError("attr", "init_len", int(a.InitLen), int(a.MaxLen), "max_len")
	case int(a.InitOffs)+int(a.InitLen) > int(a.MaxLen):
		return nil, lengthError("attr", "init_offs", int(a.InitOffs)+int(a.InitLen), int(a.MaxLen), "max_len")
	case valueLen > a.MaxLen:
		return nil, lengthError("attr", "value", int(valueLen), int(a.MaxLen), "max_len")
	case a.Value != nil && a.InitLen > valueLen:
		return nil, lengthError("attr", "init_len", int(a.InitLen), int(valueLen), "value length")
	}
	return a, nil
}
