package convert

import "github.com/srg/gattsd/pkg/native"

// SysAttrConverter maps native.SysAttr to {data, flags}. A null data means
// no stored state.
type SysAttrConverter struct {
	Alloc Allocator
}

func (SysAttrConverter) ToManaged(s *native.SysAttr) (Object, error) {
	if s == nil {
		return nil, nil
	}
	flags, _ := sysAttrFlags.managed(int64(s.Flags))
	return Object{"data": copyBytes(s.Data), "flags": flags}, nil
}

func (c SysAttrConverter) ToNative(o Object) (*native.SysAttr, error) {
	f := read("sys_attr", o)
	s := new(native.SysAttr)
	var err error
	if s.Data, err = f.bytes("data", c.Alloc); err != nil {
		return nil, err
	}
	if len(s.Data) > 0xFFFF {
		return nil, lengthError("sys_attr", "data", len(s.Data), 0xFFFF, "maximum")
	}
	if v, ok := f.raw("flags"); ok {
		if s.Flags, err = ParseSysAttrFlags(v); err != nil {
			return nil, err
		}
	}
	return s, nil
}
