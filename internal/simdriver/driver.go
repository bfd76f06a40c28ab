// Package simdriver is an in-memory GATT server implementing native.Driver.
// It keeps an attribute table, per-connection CCCD state and a simulated
// peer that can write, read and time out, raising the events a real stack
// would raise.
package simdriver

import (
	"context"
	"io"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/pkg/native"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// DefaultFirstHandle follows the GAP and GATT services a stack registers
	// itself.
	DefaultFirstHandle uint16 = 0x000C
	// DefaultAttrTabSize is the attribute table budget in bytes when Enable
	// does not set one.
	DefaultAttrTabSize uint32 = 0x580
	// MaxAttrLen is the largest attribute value the stack accepts.
	MaxAttrLen uint16 = 512

	attrOverhead = 8
)

// UUIDs of the descriptors and declarations the driver creates itself.
var (
	uuidPrimaryService   = native.UUID{UUID: 0x2800, Type: native.UUIDTypeBLE}
	uuidSecondaryService = native.UUID{UUID: 0x2801, Type: native.UUIDTypeBLE}
	uuidCharacteristic   = native.UUID{UUID: 0x2803, Type: native.UUIDTypeBLE}
	uuidUserDesc         = native.UUID{UUID: 0x2901, Type: native.UUIDTypeBLE}
	uuidCCCD             = native.UUID{UUID: 0x2902, Type: native.UUIDTypeBLE}
	uuidSCCD             = native.UUID{UUID: 0x2903, Type: native.UUIDTypeBLE}
	uuidPresentation     = native.UUID{UUID: 0x2904, Type: native.UUIDTypeBLE}
)

type attrKind int

const (
	kindService attrKind = iota
	kindCharDecl
	kindValue
	kindDescriptor
	kindCCCD
)

type attribute struct {
	handle uint16
	kind   attrKind
	uuid   native.UUID
	md     native.AttrMD
	maxLen uint16
	value  []byte
	// characteristic value attributes only
	props ble.Property
	cccd  uint16
}

// Options configures a Driver.
type Options struct {
	Logger      *logrus.Logger // Logger instance (nil = discard)
	FirstHandle uint16         // First handle handed out (0 = DefaultFirstHandle)
}

// Driver is the simulated GATT server.
type Driver struct {
	logger *logrus.Logger

	// mu serializes calls and event emission so events leave in the order
	// the table changed
	mu         sync.Mutex
	sink       native.EventSink
	enabled    bool
	params     native.EnableParams
	tabUsed    uint32
	nextHandle uint16
	attrs      *orderedmap.OrderedMap[uint16, *attribute]
	lastChar   uint16

	conns        mapset.Set[uint16]
	sysAttrReady mapset.Set[uint16]
	mtu          map[uint16]uint16
	pendingAuth  map[uint16]*authRequest
	outbox       []PDU

	// cccds holds the per-connection CCCD values keyed by CCCD handle
	cccds map[uint16]map[uint16]uint16

	// indicating maps a connection to the value handle of its unconfirmed
	// indication
	indicating map[uint16]uint16
}

var _ native.Driver = (*Driver)(nil)

// New creates a driver with an empty table.
func New(opts *Options) *Driver {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	first := opts.FirstHandle
	if first == 0 {
		first = DefaultFirstHandle
	}
	return &Driver{
		logger:       logger,
		nextHandle:   first,
		attrs:        orderedmap.New[uint16, *attribute](),
		conns:        mapset.NewSet[uint16](),
		sysAttrReady: mapset.NewSet[uint16](),
		mtu:          make(map[uint16]uint16),
		cccds:        make(map[uint16]map[uint16]uint16),
		indicating:   make(map[uint16]uint16),
		pendingAuth:  make(map[uint16]*authRequest),
	}
}

// SetEventSink routes driver events to sink.
func (d *Driver) SetEventSink(sink native.EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// emit must be called with mu held.
func (d *Driver) emit(evt *native.Event) {
	if d.sink == nil {
		d.logger.WithField("event_id", evt.ID).Debug("No event sink, event dropped")
		return
	}
	d.sink.OnEvent(evt)
}

func (d *Driver) Enable(_ context.Context, params *native.EnableParams) native.Status {
	if params == nil {
		return native.ErrNull
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled {
		return native.ErrInvalidState
	}
	d.enabled = true
	d.params = *params
	if d.params.AttrTabSize == 0 {
		d.params.AttrTabSize = DefaultAttrTabSize
	}
	d.logger.WithFields(logrus.Fields{
		"service_changed": params.ServiceChanged,
		"attr_tab_size":   d.params.AttrTabSize,
	}).Debug("GATT server enabled")
	return native.Success
}

// allocate must be called with mu held.
func (d *Driver) allocate(a *attribute) native.Status {
	cost := uint32(attrOverhead)
	if a.md.VLoc != native.VLocUser {
		cost += uint32(a.maxLen)
	}
	if d.tabUsed+cost > d.params.AttrTabSize || d.nextHandle == 0xFFFF {
		return native.ErrNoMem
	}
	d.tabUsed += cost
	a.handle = d.nextHandle
	d.nextHandle++
	d.attrs.Set(a.handle, a)
	return native.Success
}

// rollback must be called with mu held. It drops every attribute allocated
// since first and restores the table budget.
func (d *Driver) rollback(first uint16, used uint32) {
	for h := first; h < d.nextHandle; h++ {
		d.attrs.Delete(h)
	}
	d.nextHandle = first
	d.tabUsed = used
}

func (d *Driver) ServiceAdd(_ context.Context, typ uint8, uuid *native.UUID, handle *uint16) native.Status {
	if uuid == nil || handle == nil {
		return native.ErrNull
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return native.ErrInvalidState
	}

	var decl native.UUID
	switch typ {
	case native.ServiceTypePrimary:
		decl = uuidPrimaryService
	case native.ServiceTypeSecondary:
		decl = uuidSecondaryService
	default:
		return native.ErrInvalidParam
	}
	if uuid.Type == native.UUIDTypeUnknown {
		return native.ErrInvalidParam
	}

	svc := &attribute{kind: kindService, uuid: decl, md: native.AttrMD{ReadPerm: native.SecModeOpen}, maxLen: 2}
	svc.value = []byte{byte(uuid.UUID), byte(uuid.UUID >> 8)}
	if st := d.allocate(svc); st != native.Success {
		return st
	}
	*handle = svc.handle
	d.lastChar = 0
	return native.Success
}

func checkAttr(attr *native.Attr) native.Status {
	if attr.UUID == nil || attr.MD == nil {
		return native.ErrNull
	}
	if attr.UUID.Type == native.UUIDTypeUnknown {
		return native.ErrInvalidParam
	}
	if attr.MD.VLoc != native.VLocStack && attr.MD.VLoc != native.VLocUser {
		return native.ErrInvalidParam
	}
	if attr.MaxLen > MaxAttrLen || attr.InitLen > attr.MaxLen || attr.InitOffs > attr.MaxLen-attr.InitLen {
		return native.ErrInvalidParam
	}
	if int(attr.InitLen) > len(attr.Value) {
		return native.ErrInvalidParam
	}
	return native.Success
}

// initialValue lays the initial bytes out at InitOffs. The stored slice is
// the current value; its capacity is bounded by maxLen.
func initialValue(attr *native.Attr) []byte {
	v := make([]byte, int(attr.InitOffs)+int(attr.InitLen))
	copy(v[attr.InitOffs:], attr.Value[:attr.InitLen])
	return v
}

func (d *Driver) CharacteristicAdd(_ context.Context, serviceHandle uint16, md *native.CharMD, attr *native.Attr, handles *native.CharHandles) native.Status {
	if md == nil || attr == nil || handles == nil {
		return native.ErrNull
	}
	if st := checkAttr(attr); st != native.Success {
		return st
	}
	if md.UserDescSize > md.UserDescMaxSize || int(md.UserDescSize) > len(md.UserDesc) {
		return native.ErrInvalidParam
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return native.ErrInvalidState
	}
	if svc, ok := d.attrs.Get(serviceHandle); !ok || svc.kind != kindService {
		return native.ErrInvalidParam
	}

	// a failed add leaves the table as it was
	first, used := d.nextHandle, d.tabUsed
	alloc := func(a *attribute) native.Status {
		st := d.allocate(a)
		if st != native.Success {
			d.rollback(first, used)
		}
		return st
	}

	props := md.Props &^ ble.CharExtended
	if md.ExtProps != 0 {
		props |= ble.CharExtended
	}
	decl := &attribute{kind: kindCharDecl, uuid: uuidCharacteristic, md: native.AttrMD{ReadPerm: native.SecModeOpen, VLoc: native.VLocStack}, maxLen: 5}
	if st := alloc(decl); st != native.Success {
		return st
	}
	value := &attribute{
		kind:   kindValue,
		uuid:   *attr.UUID,
		md:     *attr.MD,
		maxLen: attr.MaxLen,
		value:  initialValue(attr),
		props:  props,
	}
	if st := alloc(value); st != native.Success {
		return st
	}
	decl.value = []byte{byte(props), byte(value.handle), byte(value.handle >> 8), byte(attr.UUID.UUID), byte(attr.UUID.UUID >> 8)}

	out := native.CharHandles{ValueHandle: value.handle}
	if md.UserDesc != nil || md.UserDescMaxSize > 0 {
		descMD := native.AttrMD{ReadPerm: native.SecModeOpen, VLoc: native.VLocStack}
		if md.UserDescMD != nil {
			descMD = *md.UserDescMD
		}
		desc := &attribute{kind: kindDescriptor, uuid: uuidUserDesc, md: descMD, maxLen: md.UserDescMaxSize}
		desc.value = append([]byte(nil), md.UserDesc[:md.UserDescSize]...)
		if st := alloc(desc); st != native.Success {
			return st
		}
		out.UserDescHandle = desc.handle
	}
	if props&(ble.CharNotify|ble.CharIndicate) != 0 {
		cccdMD := native.AttrMD{ReadPerm: native.SecModeOpen, WritePerm: native.SecModeOpen, VLoc: native.VLocStack}
		if md.CCCDMD != nil {
			cccdMD = *md.CCCDMD
		}
		cccd := &attribute{kind: kindCCCD, uuid: uuidCCCD, md: cccdMD, maxLen: 2}
		if st := alloc(cccd); st != native.Success {
			return st
		}
		value.cccd = cccd.handle
		out.CCCDHandle = cccd.handle
	}
	if props&ble.CharBroadcast != 0 {
		sccdMD := native.AttrMD{ReadPerm: native.SecModeOpen, WritePerm: native.SecModeOpen, VLoc: native.VLocStack}
		if md.SCCDMD != nil {
			sccdMD = *md.SCCDMD
		}
		sccd := &attribute{kind: kindDescriptor, uuid: uuidSCCD, md: sccdMD, maxLen: 2, value: []byte{0, 0}}
		if st := alloc(sccd); st != native.Success {
			return st
		}
		out.SCCDHandle = sccd.handle
	}
	if md.PF != nil {
		pf, _ := native.Marshal(md.PF)
		pfa := &attribute{kind: kindDescriptor, uuid: uuidPresentation, md: native.AttrMD{ReadPerm: native.SecModeOpen, VLoc: native.VLocStack}, maxLen: uint16(len(pf)), value: pf}
		if st := alloc(pfa); st != native.Success {
			return st
		}
	}

	d.lastChar = value.handle
	*handles = out
	d.logger.WithFields(logrus.Fields{
		"value_handle": out.ValueHandle,
		"cccd_handle":  out.CCCDHandle,
	}).Debug("Characteristic added")
	return native.Success
}

func (d *Driver) DescriptorAdd(_ context.Context, charHandle uint16, attr *native.Attr, handle *uint16) native.Status {
	if attr == nil || handle == nil {
		return native.ErrNull
	}
	if st := checkAttr(attr); st != native.Success {
		return st
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return native.ErrInvalidState
	}
	// descriptors attach to the most recently added characteristic
	if charHandle == 0 || charHandle != d.lastChar {
		return native.ErrInvalidParam
	}
	desc := &attribute{kind: kindDescriptor, uuid: *attr.UUID, md: *attr.MD, maxLen: attr.MaxLen, value: initialValue(attr)}
	if st := d.allocate(desc); st != native.Success {
		return st
	}
	*handle = desc.handle
	return native.Success
}

// lookupConn must be called with mu held.
func (d *Driver) lookupConn(connHandle uint16) native.Status {
	if connHandle != native.ConnHandleInvalid && !d.conns.Contains(connHandle) {
		return native.ErrInvalidConnHandle
	}
	return native.Success
}

func (d *Driver) ValueSet(_ context.Context, connHandle, handle uint16, value *native.Value) native.Status {
	if value == nil {
		return native.ErrNull
	}
	if int(value.Len) > len(value.Data) {
		return native.ErrInvalidLength
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.lookupConn(connHandle); st != native.Success {
		return st
	}
	a, ok := d.attrs.Get(handle)
	if !ok {
		return native.ErrInvalidAttrHandle
	}
	if a.kind == kindCCCD {
		return d.setCCCD(connHandle, a, value)
	}
	if a.kind == kindService || a.kind == kindCharDecl {
		return native.ErrForbidden
	}
	return writeAt(a, value.Offset, value.Data[:value.Len])
}

// writeAt must be called with mu held. A variable-length value ends at the
// write; a fixed-length value keeps bytes past it and grows to cover it.
func writeAt(a *attribute, offset uint16, data []byte) native.Status {
	if int(offset) > len(a.value) {
		return native.ErrInvalidParam
	}
	end := int(offset) + len(data)
	if end > int(a.maxLen) {
		return native.ErrInvalidLength
	}
	size := end
	if !a.md.VLen {
		size = max(end, len(a.value))
	}
	next := make([]byte, size)
	copy(next, a.value)
	copy(next[offset:], data)
	a.value = next
	return native.Success
}

func (d *Driver) setCCCD(connHandle uint16, a *attribute, value *native.Value) native.Status {
	if connHandle == native.ConnHandleInvalid {
		return native.ErrInvalidConnHandle
	}
	if value.Offset != 0 || value.Len != 2 {
		return native.ErrInvalidLength
	}
	d.cccdsFor(connHandle)[a.handle] = uint16(value.Data[0]) | uint16(value.Data[1])<<8
	return native.Success
}

func (d *Driver) cccdsFor(connHandle uint16) map[uint16]uint16 {
	m, ok := d.cccds[connHandle]
	if !ok {
		m = make(map[uint16]uint16)
		d.cccds[connHandle] = m
	}
	return m
}

func (d *Driver) ValueGet(_ context.Context, connHandle, handle uint16, value *native.Value) native.Status {
	if value == nil {
		return native.ErrNull
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.lookupConn(connHandle); st != native.Success {
		return st
	}
	a, ok := d.attrs.Get(handle)
	if !ok {
		return native.ErrInvalidAttrHandle
	}

	current := a.value
	if a.kind == kindCCCD {
		if connHandle == native.ConnHandleInvalid {
			return native.ErrInvalidConnHandle
		}
		v := d.cccds[connHandle][a.handle]
		current = []byte{byte(v), byte(v >> 8)}
	}
	if int(value.Offset) > len(current) {
		return native.ErrInvalidParam
	}
	// Len reports the full length from Offset even when the buffer is
	// shorter, so the caller can tell the value was truncated
	avail := current[value.Offset:]
	if value.Data != nil {
		copy(value.Data, avail)
	}
	value.Len = uint16(len(avail))
	return native.Success
}

func (d *Driver) HVX(_ context.Context, connHandle uint16, params *native.HVXParams) native.Status {
	if params == nil {
		return native.ErrNull
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if connHandle == native.ConnHandleInvalid || !d.conns.Contains(connHandle) {
		return native.ErrInvalidConnHandle
	}
	a, ok := d.attrs.Get(params.Handle)
	if !ok || a.kind != kindValue || a.cccd == 0 {
		return native.ErrInvalidAttrHandle
	}
	if !d.sysAttrReady.Contains(connHandle) {
		return native.ErrGattsSysAttrsMissing
	}

	var bit uint16
	var prop ble.Property
	switch params.Type {
	case native.HVXNotification:
		bit, prop = 0x0001, ble.CharNotify
	case native.HVXIndication:
		bit, prop = 0x0002, ble.CharIndicate
	default:
		return native.ErrInvalidParam
	}
	if a.props&prop == 0 || d.cccds[connHandle][a.cccd]&bit == 0 {
		return native.ErrInvalidState
	}
	if _, busy := d.indicating[connHandle]; busy && params.Type == native.HVXIndication {
		return native.ErrBusy
	}

	payload := a.value
	if params.Data != nil {
		n := len(params.Data)
		if params.Len != nil {
			if int(*params.Len) > n {
				return native.ErrInvalidLength
			}
			n = int(*params.Len)
		}
		payload = params.Data[:n]
	}
	if int(params.Offset) > len(payload) {
		return native.ErrInvalidParam
	}
	if limit := int(d.mtuOf(connHandle)) - 3; len(payload)-int(params.Offset) > limit {
		return native.ErrDataSize
	}
	if params.Data != nil {
		if st := writeAt(a, params.Offset, payload[params.Offset:]); st != native.Success {
			return st
		}
	}

	sent := append([]byte(nil), payload[params.Offset:]...)
	if params.Len != nil {
		*params.Len = uint16(len(sent))
	}
	kind := PDUNotification
	if params.Type == native.HVXIndication {
		kind = PDUIndication
		d.indicating[connHandle] = a.handle
	}
	d.outbox = append(d.outbox, PDU{ConnHandle: connHandle, Kind: kind, Handle: a.handle, Data: sent})
	d.logger.WithFields(logrus.Fields{
		"conn_handle": connHandle,
		"handle":      a.handle,
		"len":         len(sent),
		"type":        kind,
	}).Debug("HVX sent")
	return native.Success
}

func (d *Driver) mtuOf(connHandle uint16) uint16 {
	if m, ok := d.mtu[connHandle]; ok {
		return m
	}
	return native.DefaultATTMTU
}

func (d *Driver) SysAttrSet(_ context.Context, connHandle uint16, attr *native.SysAttr) native.Status {
	if attr == nil {
		return native.ErrNull
	}
	if attr.Flags&^(native.SysAttrFlagSysSrvcs|native.SysAttrFlagUsrSrvcs) != 0 {
		return native.ErrInvalidFlags
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if connHandle == native.ConnHandleInvalid || !d.conns.Contains(connHandle) {
		return native.ErrInvalidConnHandle
	}

	values := map[uint16]uint16{}
	if attr.Data != nil {
		entries, err := decodeSysAttr(attr.Data)
		if err != nil {
			d.logger.WithError(err).WithField("conn_handle", connHandle).Warn("Rejected system attributes")
			return native.ErrInvalidData
		}
		for _, e := range entries {
			a, ok := d.attrs.Get(e.handle)
			if !ok || a.kind != kindCCCD {
				return native.ErrInvalidData
			}
			values[e.handle] = e.value
		}
	}
	d.cccds[connHandle] = values
	d.sysAttrReady.Add(connHandle)
	return native.Success
}

// SysAttrGet returns the system attribute blob for a connection, in the
// format SysAttrSet accepts.
func (d *Driver) SysAttrGet(connHandle uint16) ([]byte, native.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.conns.Contains(connHandle) {
		return nil, native.ErrInvalidConnHandle
	}
	if !d.sysAttrReady.Contains(connHandle) {
		return nil, native.ErrGattsSysAttrsMissing
	}
	var entries []sysAttrEntry
	for p := d.attrs.Oldest(); p != nil; p = p.Next() {
		if p.Value.kind != kindCCCD {
			continue
		}
		entries = append(entries, sysAttrEntry{handle: p.Key, value: d.cccds[connHandle][p.Key]})
	}
	return encodeSysAttr(entries), native.Success
}

func (d *Driver) RWAuthorizeReply(_ context.Context, connHandle uint16, params *native.RWAuthorizeReplyParams) native.Status {
	if params == nil {
		return native.ErrNull
	}
	if params.Validate() != nil {
		return native.ErrInvalidParam
	}
	if p := params.Params(); int(p.Len) > len(p.Data) && p.Data != nil {
		return native.ErrInvalidLength
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.conns.Contains(connHandle) {
		return native.ErrInvalidConnHandle
	}
	req, ok := d.pendingAuth[connHandle]
	if !ok || req.typ != params.Type {
		return native.ErrInvalidState
	}
	delete(d.pendingAuth, connHandle)
	return d.completeAuth(connHandle, req, params.Params())
}
