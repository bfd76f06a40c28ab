package convert

import (
	"github.com/fatih/structs"
	"github.com/go-ble/ble"
	"github.com/srg/gattsd/pkg/native"
)

// structMap flattens a tagged native record into an Object.
func structMap(v any) Object {
	s := structs.New(v)
	s.TagName = "managed"
	return s.Map()
}

// CharPFConverter maps native.CharPF to
// {format, exponent, unit, name_space, desc}.
type CharPFConverter struct{}

func (CharPFConverter) ToManaged(pf *native.CharPF) (Object, error) {
	if pf == nil {
		return nil, nil
	}
	return Object{
		"format":     pf.Format,
		"exponent":   pf.Exponent,
		"unit":       pf.Unit,
		"name_space": pf.NameSpace,
		"desc":       pf.Desc,
	}, nil
}

func (CharPFConverter) ToNative(o Object) (*native.CharPF, error) {
	f := read("char_pf", o)
	pf := new(native.CharPF)
	var err error
	if pf.Format, err = f.u8("format"); err != nil {
		return nil, err
	}
	if pf.Exponent, err = f.i8Or("exponent", 0); err != nil {
		return nil, err
	}
	if pf.Unit, err = f.u16Or("unit", 0); err != nil {
		return nil, err
	}
	if pf.NameSpace, err = f.u8Or("name_space", 0); err != nil {
		return nil, err
	}
	if pf.Desc, err = f.u16Or("desc", 0); err != nil {
		return nil, err
	}
	return pf, nil
}

var charProps = []struct {
	key  string
	prop ble.Property
}{
	{"broadcast", ble.CharBroadcast},
	{"read", ble.CharRead},
	{"write_wo_resp", ble.CharWriteNR},
	{"write", ble.CharWrite},
	{"notify", ble.CharNotify},
	{"indicate", ble.CharIndicate},
	{"auth_signed_wr", ble.CharSignedWrite},
}

var charExtProps = []struct {
	key  string
	prop native.CharExtProps
}{
	{"reliable_wr", native.ExtPropReliableWrite},
	{"wr_aux", native.ExtPropWriteAux},
}

// CharMDConverter maps native.CharMD to
// {char_props, char_ext_props, char_user_desc, char_user_desc_max_size,
// char_user_desc_size, char_pf, user_desc_md, cccd_md, sccd_md}.
type CharMDConverter struct {
	Alloc Allocator
}

func (CharMDConverter) ToManaged(md *native.CharMD) (Object, error) {
	if md == nil {
		return nil, nil
	}
	props := Object{}
	for _, p := range charProps {
		props[p.key] = md.Props&p.prop != 0
	}
	ext := Object{}
	for _, p := range charExtProps {
		ext[p.key] = md.ExtProps&p.prop != 0
	}
	out := Object{
		"char_props":              props,
		"char_ext_props":          ext,
		"char_user_desc":          nil,
		"char_user_desc_max_size": md.UserDescMaxSize,
		"char_user_desc_size":     md.UserDescSize,
	}

	for _, sub := range []struct {
		key string
		md  *native.AttrMD
	}{{"user_desc_md", md.UserDescMD}, {"cccd_md", md.CCCDMD}, {"sccd_md", md.SCCDMD}} {
		if err := subManaged(out, "char_md", sub.key, AttrMDConverter{}.ToManaged, sub.md); err != nil {
			return out, err
		}
	}
	if err := subManaged(out, "char_md", "char_pf", CharPFConverter{}.ToManaged, md.PF); err != nil {
		return out, err
	}

	if md.UserDesc == nil {
		if md.UserDescSize > 0 {
			return out, newError("char_md", "char_user_desc", "null user description with non-zero size", md.UserDescSize)
		}
		return out, nil
	}
	if len(md.UserDesc) < int(md.UserDescSize) {
		return out, lengthError("char_md", "char_user_desc_size", int(md.UserDescSize), len(md.UserDesc), "user description length")
	}
	out["char_user_desc"] = copyBytes(md.UserDesc[:md.UserDescSize])
	return out, nil
}

func (c CharMDConverter) ToNative(o Object) (*native.CharMD, error) {
	f := read("char_md", o)
	md := new(native.CharMD)

	props, err := f.object("char_props")
	if err != nil {
		return nil, err
	}
	if props == nil {
		return nil, f.missing("char_props")
	}
	pf := read("char_md.char_props", props)
	for _, p := range charProps {
		set, err := pf.boolOr(p.key, false)
		if err != nil {
			return nil, err
		}
		if set {
			md.Props |= p.prop
		}
	}

	ext, err := f.object("char_ext_props")
	if err != nil {
		return nil, err
	}
	ef := read("char_md.char_ext_props", ext)
	for _, p := range charExtProps {
		set, err := ef.boolOr(p.key, false)
		if err != nil {
			return nil, err
		}
		if set {
			md.ExtProps |= p.prop
		}
	}

	if md.UserDesc, err = f.bytes("char_user_desc", c.Alloc); err != nil {
		return nil, err
	}
	if len(md.UserDesc) > 0xFFFF {
		return nil, lengthError("char_md", "char_user_desc", len(md.UserDesc), 0xFFFF, "maximum")
	}
	descLen := uint16(len(md.UserDesc))
	if md.UserDescSize, err = f.u16Or("char_user_desc_size", descLen); err != nil {
		return nil, err
	}
	if md.UserDescMaxSize, err = f.u16Or("char_user_desc_max_size", md.UserDescSize); err != nil {
		return nil, err
	}
	switch {
	case md.UserDesc == nil && md.UserDescSize > 0:
		return nil, newError("char_md", "char_user_desc", "required when char_user_desc_size is non-zero", nil)
	case md.UserDescSize > md.UserDescMaxSize:
		return nil, lengthError("char_md", "char_user_desc_size", int(md.UserDescSize), int(md.UserDescMaxSize), "char_user_desc_max_size")
	case md.UserDescSize > descLen && md.UserDesc != nil:
		return nil, lengthError("char_md", "char_user_desc_size", int(md.UserDescSize), int(descLen), "user description length")
	}

	if md.PF, err = subNative(f, "char_pf", CharPFConverter{}.ToNative); err != nil {
		return nil, err
	}
	if md.UserDescMD, err = subNative(f, "user_desc_md", AttrMDConverter{}.ToNative); err != nil {
		return nil, err
	}
	if md.CCCDMD, err = subNative(f, "cccd_md", AttrMDConverter{}.ToNative); err != nil {
		return nil, err
	}
	if md.SCCDMD, err = subNative(f, "sccd_md", AttrMDConverter{}.ToNative); err != nil {
		return nil, err
	}
	return md, nil
}

// CharHandlesConverter maps the output-only native.CharHandles to
// {value_handle, user_desc_handle, cccd_handle, sccd_handle}.
type CharHandlesConverter struct{}

func (CharHandlesConverter) ToManaged(h *native.CharHandles) (Object, error) {
	if h == nil {
		return nil, nil
	}
	return structMap(h), nil
}

func (CharHandlesConverter) ToNative(Object) (*native.CharHandles, error) {
	return nil, ErrUnsupportedDirection
}
