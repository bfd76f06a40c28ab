package convert

import "github.com/srg/gattsd/pkg/native"

// UUIDConverter maps native.UUID to {uuid, type}.
type UUIDConverter struct{}

func (UUIDConverter) ToManaged(u *native.UUID) (Object, error) {
	if u == nil {
		return nil, nil
	}
	typ, _ := uuidTypes.managed(int64(u.Type))
	return Object{"uuid": u.UUID, "type": typ}, nil
}

func (UUIDConverter) ToNative(o Object) (*native.UUID, error) {
	f := read("uuid", o)
	value, err := f.u16("uuid")
	if err != nil {
		return nil, err
	}
	typ, err := f.enum("type", uuidTypes)
	if err != nil {
		return nil, err
	}
	if typ < 0 || typ > 0xFF {
		return nil, newError("uuid", "type", "out of range", typ)
	}
	return &native.UUID{UUID: value, Type: uint8(typ)}, nil
}

// ConnSecModeConverter maps native.ConnSecMode to {sm, lv}.
type ConnSecModeConverter struct{}

func (ConnSecModeConverter) ToManaged(m *native.ConnSecMode) (Object, error) {
	if m == nil {
		return nil, nil
	}
	return Object{"sm": m.SM, "lv": m.LV}, nil
}

func (ConnSecModeConverter) ToNative(o Object) (*native.ConnSecMode, error) {
	f := read("conn_sec_mode", o)
	sm, err := f.u8("sm")
	if err != nil {
		return nil, err
	}
	lv, err := f.u8("lv")
	if err != nil {
		return nil, err
	}
	if sm > 0x0F || lv > 0x0F {
		return nil, newError("conn_sec_mode", "", "sm and lv must fit in 4 bits", o)
	}
	return &native.ConnSecMode{SM: sm, LV: lv}, nil
}
