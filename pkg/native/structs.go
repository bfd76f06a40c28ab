package native

import (
	"github.com/go-ble/ble"
)

func (u *UUID) EncodeTo(e *Encoder) {
	e.U16(u.UUID)
	e.U8(u.Type)
}

func (u *UUID) DecodeFrom(d *Decoder) {
	u.UUID = d.U16()
	u.Type = d.U8()
}

// Byte packs the mode as sm in the low nibble and lv in the high nibble.
func (m ConnSecMode) Byte() uint8 {
	return m.SM&0x0F | m.LV<<4
}

// ConnSecModeFromByte is the inverse of ConnSecMode.Byte.
func ConnSecModeFromByte(b uint8) ConnSecMode {
	return ConnSecMode{SM: b & 0x0F, LV: b >> 4}
}

func (m *ConnSecMode) EncodeTo(e *Encoder)   { e.U8(m.Byte()) }
func (m *ConnSecMode) DecodeFrom(d *Decoder) { *m = ConnSecModeFromByte(d.U8()) }

const (
	attrMDVLen   = 1 << 0
	attrMDVLoc   = 3 << 1
	attrMDRdAuth = 1 << 3
	attrMDWrAuth = 1 << 4
)

func (a *AttrMD) EncodeTo(e *Encoder) {
	a.ReadPerm.EncodeTo(e)
	a.WritePerm.EncodeTo(e)
	var flags uint8
	if a.VLen {
		flags |= attrMDVLen
	}
	flags |= (a.VLoc << 1) & attrMDVLoc
	if a.RdAuth {
		flags |= attrMDRdAuth
	}
	if a.WrAuth {
		flags |= attrMDWrAuth
	}
	e.U8(flags)
}

func (a *AttrMD) DecodeFrom(d *Decoder) {
	a.ReadPerm.DecodeFrom(d)
	a.WritePerm.DecodeFrom(d)
	flags := d.U8()
	a.VLen = flags&attrMDVLen != 0
	a.VLoc = (flags & attrMDVLoc) >> 1
	a.RdAuth = flags&attrMDRdAuth != 0
	a.WrAuth = flags&attrMDWrAuth != 0
}

func (p *CharPF) EncodeTo(e *Encoder) {
	e.U8(p.Format)
	e.U8(uint8(p.Exponent))
	e.U16(p.Unit)
	e.U8(p.NameSpace)
	e.U16(p.Desc)
}

func (p *CharPF) DecodeFrom(d *Decoder) {
	p.Format = d.U8()
	p.Exponent = int8(d.U8())
	p.Unit = d.U16()
	p.NameSpace = d.U8()
	p.Desc = d.U16()
}

func (c *CharMD) EncodeTo(e *Encoder) {
	e.U8(uint8(c.Props &^ ble.CharExtended))
	e.U8(uint8(c.ExtProps))
	e.U16(c.UserDescMaxSize)
	e.U16(c.UserDescSize)
	e.Sized("p_char_user_desc", c.UserDesc, c.UserDescSize)
	encodeOpt(e, c.PF, (*CharPF).EncodeTo)
	encodeOpt(e, c.UserDescMD, (*AttrMD).EncodeTo)
	encodeOpt(e, c.CCCDMD, (*AttrMD).EncodeTo)
	encodeOpt(e, c.SCCDMD, (*AttrMD).EncodeTo)
}

func (c *CharMD) DecodeFrom(d *Decoder) {
	c.Props = ble.Property(d.U8())
	c.ExtProps = CharExtProps(d.U8())
	c.UserDescMaxSize = d.U16()
	c.UserDescSize = d.U16()
	c.UserDesc = d.Sized(c.UserDescSize)
	c.PF = decodeOpt(d, (*CharPF).DecodeFrom)
	c.UserDescMD = decodeOpt(d, (*AttrMD).DecodeFrom)
	c.CCCDMD = decodeOpt(d, (*AttrMD).DecodeFrom)
	c.SCCDMD = decodeOpt(d, (*AttrMD).DecodeFrom)
}

func (a *Attr) EncodeTo(e *Encoder) {
	encodeOpt(e, a.UUID, (*UUID).EncodeTo)
	encodeOpt(e, a.MD, (*AttrMD).EncodeTo)
	e.U16(a.InitLen)
	e.U16(a.InitOffs)
	e.U16(a.MaxLen)
	e.Sized("p_value", a.Value, a.InitLen)
}

func (a *Attr) DecodeFrom(d *Decoder) {
	a.UUID = decodeOpt(d, (*UUID).DecodeFrom)
	a.MD = decodeOpt(d, (*AttrMD).DecodeFrom)
	a.InitLen = d.U16()
	a.InitOffs = d.U16()
	a.MaxLen = d.U16()
	a.Value = d.Sized(a.InitLen)
}

func (h *CharHandles) EncodeTo(e *Encoder) {
	e.U16(h.ValueHandle)
	e.U16(h.UserDescHandle)
	e.U16(h.CCCDHandle)
	e.U16(h.SCCDHandle)
}

func (h *CharHandles) DecodeFrom(d *Decoder) {
	h.ValueHandle = d.U16()
	h.UserDescHandle = d.U16()
	h.CCCDHandle = d.U16()
	h.SCCDHandle = d.U16()
}

func (v *Value) EncodeTo(e *Encoder) {
	e.U16(v.Len)
	e.U16(v.Offset)
	e.Sized("p_value", v.Data, v.Len)
}

func (v *Value) DecodeFrom(d *Decoder) {
	v.Len = d.U16()
	v.Offset = d.U16()
	v.Data = d.Sized(v.Len)
}

func (h *HVXParams) EncodeTo(e *Encoder) {
	e.U16(h.Handle)
	e.U8(h.Type)
	e.U16(h.Offset)
	e.Present(h.Len != nil)
	if h.Len != nil {
		e.U16(*h.Len)
	}
	e.Buffer("p_data", h.Data)
}

func (h *HVXParams) DecodeFrom(d *Decoder) {
	h.Handle = d.U16()
	h.Type = d.U8()
	h.Offset = d.U16()
	h.Len = nil
	if d.Present() {
		n := d.U16()
		h.Len = &n
	}
	h.Data = d.Buffer()
}

func (a *AuthorizeParams) EncodeTo(e *Encoder) {
	e.U16(a.GattStatus)
	e.Bool(a.Update)
	e.U16(a.Offset)
	e.U16(a.Len)
	e.Sized("p_data", a.Data, a.Len)
}

func (a *AuthorizeParams) DecodeFrom(d *Decoder) {
	a.GattStatus = d.U16()
	a.Update = d.Bool()
	a.Offset = d.U16()
	a.Len = d.U16()
	a.Data = d.Sized(a.Len)
}

func (p *RWAuthorizeReplyParams) EncodeTo(e *Encoder) {
	if err := p.Validate(); err != nil {
		e.Fail(err)
		return
	}
	e.U8(p.Type)
	p.Params().EncodeTo(e)
}

func (p *RWAuthorizeReplyParams) DecodeFrom(d *Decoder) {
	p.Type = d.U8()
	params := new(AuthorizeParams)
	params.DecodeFrom(d)
	p.Read, p.Write = nil, nil
	switch p.Type {
	case AuthorizeTypeRead:
		p.Read = params
	case AuthorizeTypeWrite:
		p.Write = params
	}
}

func (p *EnableParams) EncodeTo(e *Encoder) {
	e.Bool(p.ServiceChanged)
	e.U32(p.AttrTabSize)
}

func (p *EnableParams) DecodeFrom(d *Decoder) {
	p.ServiceChanged = d.Bool()
	p.AttrTabSize = d.U32()
}

func (s *SysAttr) EncodeTo(e *Encoder) {
	e.U32(s.Flags)
	e.Buffer("p_sys_attr_data", s.Data)
}

func (s *SysAttr) DecodeFrom(d *Decoder) {
	s.Flags = d.U32()
	s.Data = d.Buffer()
}
