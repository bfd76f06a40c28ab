package native

import "github.com/go-ble/ble"

// UUID is a stack UUID: a 16-bit value plus the type of its base.
type UUID struct {
	UUID uint16
	Type uint8
}

// ConnSecMode is a security mode/level pair, packed as sm:4 lv:4.
type ConnSecMode struct {
	SM uint8
	LV uint8
}

// Commonly used security modes.
var (
	SecModeNoAccess = ConnSecMode{SM: 0, LV: 0}
	SecModeOpen     = ConnSecMode{SM: 1, LV: 1}
)

// AttrMD is ble_gatts_attr_md_t.
type AttrMD struct {
	ReadPerm  ConnSecMode
	WritePerm ConnSecMode
	VLen      bool
	VLoc      uint8
	RdAuth    bool
	WrAuth    bool
}

// CharPF is the characteristic presentation format descriptor.
type CharPF struct {
	Format    uint8
	Exponent  int8
	Unit      uint16
	NameSpace uint8
	Desc      uint16
}

// CharExtProps holds the extended property bits.
type CharExtProps uint8

const (
	ExtPropReliableWrite CharExtProps = 1 << 0
	ExtPropWriteAux      CharExtProps = 1 << 1
)

// CharMD is ble_gatts_char_md_t. Property bits reuse the GATT property
// values; CharExtended is never set directly.
type CharMD struct {
	Props           ble.Property
	ExtProps        CharExtProps
	UserDesc        []byte
	UserDescMaxSize uint16
	UserDescSize    uint16
	PF              *CharPF
	UserDescMD      *AttrMD
	CCCDMD          *AttrMD
	SCCDMD          *AttrMD
}

// Attr is ble_gatts_attr_t. Value holds at least InitLen bytes.
type Attr struct {
	UUID     *UUID
	MD       *AttrMD
	InitLen  uint16
	InitOffs uint16
	MaxLen   uint16
	Value    []byte
}

// CharHandles is filled by the driver after CharacteristicAdd.
type CharHandles struct {
	ValueHandle    uint16 `managed:"value_handle"`
	UserDescHandle uint16 `managed:"user_desc_handle"`
	CCCDHandle     uint16 `managed:"cccd_handle"`
	SCCDHandle     uint16 `managed:"sccd_handle"`
}

// Value is ble_gatts_value_t. For ValueGet, Data is the output buffer and
// Len its capacity on input, the actual length on output.
type Value struct {
	Len    uint16
	Offset uint16
	Data   []byte
}

// HVXParams is ble_gatts_hvx_params_t. A nil Data sends the current
// attribute value; Len is in/out.
type HVXParams struct {
	Handle uint16
	Type   uint8
	Offset uint16
	Len    *uint16
	Data   []byte
}

// AuthorizeParams is ble_gatts_authorize_params_t.
type AuthorizeParams struct {
	GattStatus uint16
	Update     bool
	Offset     uint16
	Len        uint16
	Data       []byte
}

// RWAuthorizeReplyParams carries exactly one of Read or Write, matching Type.
type RWAuthorizeReplyParams struct {
	Type  uint8
	Read  *AuthorizeParams
	Write *AuthorizeParams
}

// Validate checks the read/write exclusivity of the reply.
func (p *RWAuthorizeReplyParams) Validate() error {
	switch {
	case p.Read != nil && p.Write != nil:
		return ErrAmbiguousReply
	case p.Read == nil && p.Write == nil:
		return ErrEmptyReply
	case p.Type == AuthorizeTypeRead && p.Read == nil,
		p.Type == AuthorizeTypeWrite && p.Write == nil:
		return ErrReplyTypeMismatch
	case p.Type != AuthorizeTypeRead && p.Type != AuthorizeTypeWrite:
		return ErrReplyTypeMismatch
	}
	return nil
}

// Params returns the populated branch.
func (p *RWAuthorizeReplyParams) Params() *AuthorizeParams {
	if p.Read != nil {
		return p.Read
	}
	return p.Write
}

// EnableParams is ble_gatts_enable_params_t.
type EnableParams struct {
	ServiceChanged bool
	AttrTabSize    uint32
}

// SysAttr is the opaque per-bond system attribute blob passed to SysAttrSet.
// A nil Data means "no stored state".
type SysAttr struct {
	Data  []byte
	Flags uint32
}
