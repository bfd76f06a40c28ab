package native

// Event is a raw GATTS event as raised by the driver. Params holds a pointer
// to one of the Evt* payload types, or RawParams for identifiers this package
// does not know.
type Event struct {
	ID         uint16
	ConnHandle uint16
	Params     any
}

// EvtWrite is ble_gatts_evt_write_t.
type EvtWrite struct {
	Handle       uint16
	UUID         UUID
	Op           uint8
	AuthRequired bool
	Offset       uint16
	Len          uint16
	Data         []byte
}

// EvtRead is ble_gatts_evt_read_t.
type EvtRead struct {
	Handle uint16
	UUID   UUID
	Offset uint16
}

// EvtRWAuthorizeRequest is ble_gatts_evt_rw_authorize_request_t. Exactly one
// of Read or Write is set for known types.
type EvtRWAuthorizeRequest struct {
	Type  uint8
	Read  *EvtRead
	Write *EvtWrite
}

// EvtSysAttrMissing is ble_gatts_evt_sys_attr_missing_t.
type EvtSysAttrMissing struct {
	Hint uint8 `managed:"hint"`
}

// EvtHVC is ble_gatts_evt_hvc_t.
type EvtHVC struct {
	Handle uint16 `managed:"handle"`
}

// EvtTimeout is ble_gatts_evt_timeout_t. SC-Confirm events carry the same
// layout.
type EvtTimeout struct {
	Src uint8
}

// RawParams is the undecoded payload of an event with an unknown identifier.
type RawParams []byte
