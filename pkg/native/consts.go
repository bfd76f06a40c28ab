package native

// GATTS event identifiers (BLE_GATTS_EVT_BASE = 0x50).
const (
	EvtIDWrite              uint16 = 0x50
	EvtIDRWAuthorizeRequest uint16 = 0x51
	EvtIDSysAttrMissing     uint16 = 0x52
	EvtIDHVC                uint16 = 0x53
	EvtIDSCConfirm          uint16 = 0x54
	EvtIDTimeout            uint16 = 0x55
)

// Write operations carried by a write event.
const (
	OpInvalid            uint8 = 0x00
	OpWriteReq           uint8 = 0x01
	OpWriteCmd           uint8 = 0x02
	OpSignWriteCmd       uint8 = 0x03
	OpPrepWriteReq       uint8 = 0x04
	OpExecWriteReqCancel uint8 = 0x05
	OpExecWriteReqNow    uint8 = 0x06
)

// Authorization request/reply types.
const (
	AuthorizeTypeInvalid uint8 = 0x00
	AuthorizeTypeRead    uint8 = 0x01
	AuthorizeTypeWrite   uint8 = 0x02
)

// Handle value operation types.
const (
	HVXInvalid      uint8 = 0x00
	HVXNotification uint8 = 0x01
	HVXIndication   uint8 = 0x02
)

// Service types for ServiceAdd.
const (
	ServiceTypeInvalid   uint8 = 0x00
	ServiceTypePrimary   uint8 = 0x01
	ServiceTypeSecondary uint8 = 0x02
)

// Attribute value locations.
const (
	VLocInvalid uint8 = 0x00
	VLocStack   uint8 = 0x01
	VLocUser    uint8 = 0x02
)

// UUID types. Values from UUIDTypeVendorBegin on are assigned by the stack
// to registered 128-bit bases.
const (
	UUIDTypeUnknown     uint8 = 0x00
	UUIDTypeBLE         uint8 = 0x01
	UUIDTypeVendorBegin uint8 = 0x02
)

// System attribute flags for SysAttrSet.
const (
	SysAttrFlagSysSrvcs uint32 = 1 << 0
	SysAttrFlagUsrSrvcs uint32 = 1 << 1
)

// Timeout sources.
const (
	TimeoutSrcProtocol uint8 = 0x00
)

// GATT status codes used in authorize replies.
const (
	GattStatusSuccess                  uint16 = 0x0000
	GattStatusAttErrInvalidHandle      uint16 = 0x0101
	GattStatusAttErrReadNotPermitted   uint16 = 0x0102
	GattStatusAttErrWriteNotPermitted  uint16 = 0x0103
	GattStatusAttErrInsufAuthorization uint16 = 0x0108
)

// Connection handle value meaning "no connection".
const ConnHandleInvalid uint16 = 0xFFFF

// Default ATT MTU before an exchange has taken place.
const DefaultATTMTU = 23
