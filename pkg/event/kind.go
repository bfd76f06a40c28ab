// Package event turns native GATTS events into managed envelopes and delivers
// them, in the order the driver raised them, on the host loop.
package event

import (
	"fmt"

	"github.com/srg/gattsd/pkg/native"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind is a native GATTS event identifier.
type Kind uint16

const (
	KindWrite              = Kind(native.EvtIDWrite)
	KindRWAuthorizeRequest = Kind(native.EvtIDRWAuthorizeRequest)
	KindSysAttrMissing     = Kind(native.EvtIDSysAttrMissing)
	KindHVC                = Kind(native.EvtIDHVC)
	KindSCConfirm          = Kind(native.EvtIDSCConfirm)
	KindTimeout            = Kind(native.EvtIDTimeout)
)

// UnknownName is reported for identifiers missing from the kind table.
const UnknownName = "Unknown Gatts Event"

type kindInfo struct {
	short string
	name  string
}

// kinds is written once at init and only read afterwards.
var kinds = func() *orderedmap.OrderedMap[Kind, kindInfo] {
	m := orderedmap.New[Kind, kindInfo]()
	m.Set(KindWrite, kindInfo{"write", "BLE_GATTS_EVT_WRITE"})
	m.Set(KindRWAuthorizeRequest, kindInfo{"rw_authorize_request", "BLE_GATTS_EVT_RW_AUTHORIZE_REQUEST"})
	m.Set(KindSysAttrMissing, kindInfo{"sys_attr_missing", "BLE_GATTS_EVT_SYS_ATTR_MISSING"})
	m.Set(KindHVC, kindInfo{"hvc", "BLE_GATTS_EVT_HVC"})
	m.Set(KindSCConfirm, kindInfo{"sc_confirm", "BLE_GATTS_EVT_SC_CONFIRM"})
	m.Set(KindTimeout, kindInfo{"timeout", "BLE_GATTS_EVT_TIMEOUT"})
	return m
}()

// String returns the short kind used in envelopes, or "unknown".
func (k Kind) String() string {
	if info, ok := kinds.Get(k); ok {
		return info.short
	}
	return "unknown"
}

// Name returns the diagnostic name of the kind.
func (k Kind) Name() string {
	return Name(uint16(k))
}

// Known reports whether k is in the kind table.
func (k Kind) Known() bool {
	_, ok := kinds.Get(k)
	return ok
}

// GoString renders the kind with its identifier, e.g. "write(0x50)".
func (k Kind) GoString() string {
	return fmt.Sprintf("%s(0x%02X)", k.String(), uint16(k))
}

// Name returns the diagnostic name for a native event identifier.
func Name(id uint16) string {
	if info, ok := kinds.Get(Kind(id)); ok {
		return info.name
	}
	return UnknownName
}

// KindEntry is one row of the kind table.
type KindEntry struct {
	ID   uint16
	Kind string
	Name string
}

// Kinds lists the known kinds in identifier order.
func Kinds() []KindEntry {
	out := make([]KindEntry, 0, kinds.Len())
	for p := kinds.Oldest(); p != nil; p = p.Next() {
		out = append(out, KindEntry{ID: uint16(p.Key), Kind: p.Value.short, Name: p.Value.name})
	}
	return out
}
