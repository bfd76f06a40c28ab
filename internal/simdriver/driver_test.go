package simdriver

import (
	"context"
	"sync"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/gattsd/pkg/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type recorder struct {
	mu     sync.Mutex
	events []*native.Event
}

func (r *recorder) OnEvent(evt *native.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) take() []*native.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type DriverTestSuite struct {
	suite.Suite
	ctx    context.Context
	drv    *Driver
	sink   *recorder
	svc    uint16
	levels native.CharHandles
}

func (s *DriverTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.sink = &recorder{}
	s.drv = New(nil)
	s.drv.SetEventSink(s.sink)

	s.Require().Equal(native.Success, s.drv.Enable(s.ctx, &native.EnableParams{}))
	s.Require().Equal(native.Success, s.drv.ServiceAdd(s.ctx, native.ServiceTypePrimary, &native.UUID{UUID: 0x180F, Type: native.UUIDTypeBLE}, &s.svc))
	s.levels = s.addChar(ble.CharRead|ble.CharWrite|ble.CharNotify|ble.CharIndicate, native.AttrMD{
		ReadPerm: native.SecModeOpen, WritePerm: native.SecModeOpen, VLoc: native.VLocStack,
	}, 4, []byte{0x10})
	s.Require().NoError(s.drv.Connect(1, 0))
}

func (s *DriverTestSuite) addChar(props ble.Property, md native.AttrMD, maxLen uint16, value []byte) native.CharHandles {
	var h native.CharHandles
	st := s.drv.CharacteristicAdd(s.ctx, s.svc,
		&native.CharMD{Props: props},
		&native.Attr{UUID: &native.UUID{UUID: 0x2A19, Type: native.UUIDTypeBLE}, MD: &md, InitLen: uint16(len(value)), MaxLen: maxLen, Value: value},
		&h)
	s.Require().Equal(native.Success, st)
	return h
}

func (s *DriverTestSuite) enableNotifications(conn, cccd uint16, bits byte) {
	var empty native.SysAttr
	s.Require().Equal(native.Success, s.drv.SysAttrSet(s.ctx, conn, &empty))
	s.Require().Equal(native.Success, s.drv.Write(conn, cccd, native.OpWriteReq, 0, []byte{bits, 0}))
}

func (s *DriverTestSuite) TestEnableTwice() {
	s.Equal(native.ErrInvalidState, s.drv.Enable(s.ctx, &native.EnableParams{}))
}

func (s *DriverTestSuite) TestHandlesAllocatedSequentially() {
	s.Equal(s.svc+2, s.levels.ValueHandle)
	s.Equal(s.levels.ValueHandle+1, s.levels.CCCDHandle)
	s.Zero(s.levels.UserDescHandle)
	s.Zero(s.levels.SCCDHandle)
}

func (s *DriverTestSuite) TestAllDescriptorHandles() {
	var h native.CharHandles
	md := native.AttrMD{ReadPerm: native.SecModeOpen, VLoc: native.VLocStack}
	st := s.drv.CharacteristicAdd(s.ctx, s.svc,
		&native.CharMD{Props: ble.CharRead | ble.CharNotify | ble.CharBroadcast, UserDesc: []byte("Level"), UserDescSize: 5, UserDescMaxSize: 5},
		&native.Attr{UUID: &native.UUID{UUID: 0x2A6E, Type: native.UUIDTypeBLE}, MD: &md, InitLen: 1, MaxLen: 1, Value: []byte{0}},
		&h)
	s.Require().Equal(native.Success, st)
	s.NotZero(h.ValueHandle)
	s.NotZero(h.UserDescHandle)
	s.NotZero(h.CCCDHandle)
	s.NotZero(h.SCCDHandle)

	desc := native.Value{Len: 16, Data: make([]byte, 16)}
	s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, h.UserDescHandle, &desc))
	s.Equal("Level", string(desc.Data[:desc.Len]))
}

func (s *DriverTestSuite) TestCharacteristicAddRejects() {
	md := native.AttrMD{VLoc: native.VLocStack}
	tests := []struct {
		name string
		svc  uint16
		attr native.Attr
		want native.Status
	}{
		{"unknown service", 0x0999, native.Attr{UUID: &native.UUID{UUID: 1, Type: 1}, MD: &md, MaxLen: 1}, native.ErrInvalidParam},
		{"nil uuid", s.svc, native.Attr{MD: &md, MaxLen: 1}, native.ErrNull},
		{"init beyond max", s.svc, native.Attr{UUID: &native.UUID{UUID: 1, Type: 1}, MD: &md, InitLen: 2, MaxLen: 1, Value: []byte{1, 2}}, native.ErrInvalidParam},
		{"too long", s.svc, native.Attr{UUID: &native.UUID{UUID: 1, Type: 1}, MD: &md, MaxLen: MaxAttrLen + 1}, native.ErrInvalidParam},
		{"bad vloc", s.svc, native.Attr{UUID: &native.UUID{UUID: 1, Type: 1}, MD: &native.AttrMD{VLoc: 3}, MaxLen: 1}, native.ErrInvalidParam},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			var h native.CharHandles
			s.Equal(tt.want, s.drv.CharacteristicAdd(s.ctx, tt.svc, &native.CharMD{Props: ble.CharRead}, &tt.attr, &h))
		})
	}
}

func (s *DriverTestSuite) TestTableExhaustion() {
	drv := New(nil)
	s.Require().Equal(native.Success, drv.Enable(s.ctx, &native.EnableParams{AttrTabSize: 64}))
	var svc uint16
	s.Require().Equal(native.Success, drv.ServiceAdd(s.ctx, native.ServiceTypePrimary, &native.UUID{UUID: 0x1800, Type: 1}, &svc))
	md := native.AttrMD{VLoc: native.VLocStack}
	var h native.CharHandles
	s.Equal(native.ErrNoMem, drv.CharacteristicAdd(s.ctx, svc, &native.CharMD{Props: ble.CharRead},
		&native.Attr{UUID: &native.UUID{UUID: 2, Type: 1}, MD: &md, MaxLen: 200}, &h))
}

func (s *DriverTestSuite) TestFailedAddLeavesTableUnchanged() {
	// GOAL: Verify a characteristic that runs out of table space mid-add leaves no attributes behind
	//
	// TEST SCENARIO: 64-byte table → declaration and value fit, CCCD does not → NO_MEM → same handles and budget → smaller add reuses the handles

	drv := New(nil)
	s.Require().Equal(native.Success, drv.Enable(s.ctx, &native.EnableParams{AttrTabSize: 64}))
	var svc uint16
	s.Require().Equal(native.Success, drv.ServiceAdd(s.ctx, native.ServiceTypePrimary, &native.UUID{UUID: 0x1800, Type: 1}, &svc))
	attrs, used, next := drv.attrs.Len(), drv.tabUsed, drv.nextHandle

	md := native.AttrMD{ReadPerm: native.SecModeOpen, VLoc: native.VLocStack}
	var h native.CharHandles
	s.Equal(native.ErrNoMem, drv.CharacteristicAdd(s.ctx, svc, &native.CharMD{Props: ble.CharRead | ble.CharNotify},
		&native.Attr{UUID: &native.UUID{UUID: 2, Type: 1}, MD: &md, MaxLen: 25}, &h))
	s.Equal(attrs, drv.attrs.Len(), "partially added attributes MUST be removed")
	s.Equal(used, drv.tabUsed)
	s.Equal(next, drv.nextHandle)
	s.Zero(h.ValueHandle)

	s.Require().Equal(native.Success, drv.CharacteristicAdd(s.ctx, svc, &native.CharMD{Props: ble.CharRead},
		&native.Attr{UUID: &native.UUID{UUID: 2, Type: 1}, MD: &md, MaxLen: 1}, &h))
	s.Equal(svc+2, h.ValueHandle)
}

func (s *DriverTestSuite) TestFixedLengthValueKeepsCurrentLength() {
	// GOAL: Verify a fixed-length value reads back at its written length, not its maximum
	//
	// TEST SCENARIO: max 4, init [0x10] → get 1 byte → set [1,2,3] → get 3 bytes → set [9] at 0 → tail kept

	get := func() []byte {
		v := native.Value{Len: 8, Data: make([]byte, 8)}
		s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &v))
		return v.Data[:v.Len]
	}
	s.Equal([]byte{0x10}, get())

	set := native.Value{Len: 3, Data: []byte{1, 2, 3}}
	s.Require().Equal(native.Success, s.drv.ValueSet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &set))
	s.Equal([]byte{1, 2, 3}, get())

	set = native.Value{Len: 1, Data: []byte{9}}
	s.Require().Equal(native.Success, s.drv.ValueSet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &set))
	s.Equal([]byte{9, 2, 3}, get())
}

func (s *DriverTestSuite) TestVariableLengthValueEndsAtWrite() {
	md := native.AttrMD{ReadPerm: native.SecModeOpen, WritePerm: native.SecModeOpen, VLoc: native.VLocStack, VLen: true}
	h := s.addChar(ble.CharRead, md, 8, []byte{1, 2, 3, 4})

	set := native.Value{Len: 1, Offset: 1, Data: []byte{9}}
	s.Require().Equal(native.Success, s.drv.ValueSet(s.ctx, native.ConnHandleInvalid, h.ValueHandle, &set))

	get := native.Value{Len: 8, Data: make([]byte, 8)}
	s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, h.ValueHandle, &get))
	s.Equal([]byte{1, 9}, get.Data[:get.Len])
}

func (s *DriverTestSuite) TestValueGetReportsFullLength() {
	// GOAL: Verify a short buffer receives a prefix while Len reports the whole value so truncation is visible
	//
	// TEST SCENARIO: value [1,2,3] → get into 2-byte buffer → data [1,2], Len 3 → get at offset 1 into nil buffer → Len 2

	set := native.Value{Len: 3, Data: []byte{1, 2, 3}}
	s.Require().Equal(native.Success, s.drv.ValueSet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &set))

	short := native.Value{Len: 2, Data: make([]byte, 2)}
	s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &short))
	s.Equal([]byte{1, 2}, short.Data)
	s.Equal(uint16(3), short.Len, "Len MUST report the full value length")

	sized := native.Value{Offset: 1}
	s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &sized))
	s.Equal(uint16(2), sized.Len)
}

func (s *DriverTestSuite) TestValueSetGet() {
	set := native.Value{Len: 2, Data: []byte{0x01, 0x02}}
	s.Require().Equal(native.Success, s.drv.ValueSet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &set))

	get := native.Value{Len: 2, Data: make([]byte, 2)}
	s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &get))
	s.Equal([]byte{0x01, 0x02}, get.Data[:get.Len])

	tooLong := native.Value{Len: 5, Data: make([]byte, 5)}
	s.Equal(native.ErrInvalidLength, s.drv.ValueSet(s.ctx, native.ConnHandleInvalid, s.levels.ValueHandle, &tooLong))
	s.Equal(native.ErrInvalidAttrHandle, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, 0x0777, &get))
	s.Equal(native.ErrInvalidConnHandle, s.drv.ValueGet(s.ctx, 9, s.levels.ValueHandle, &get))
}

func (s *DriverTestSuite) TestPeerWriteRaisesEvent() {
	s.Require().Equal(native.Success, s.drv.Write(1, s.levels.ValueHandle, native.OpWriteReq, 0, []byte{0xFF}))

	events := s.sink.take()
	s.Require().Len(events, 1)
	s.Equal(native.EvtIDWrite, events[0].ID)
	s.Equal(uint16(1), events[0].ConnHandle)
	w := events[0].Params.(*native.EvtWrite)
	s.Equal([]byte{0xFF}, w.Data)
	s.Equal(s.levels.ValueHandle, w.Handle)

	pdus := s.drv.Outbox()
	s.Require().Len(pdus, 1)
	s.Equal(PDUWriteResponse, pdus[0].Kind)
}

func (s *DriverTestSuite) TestCCCDWriteNeedsSystemAttributes() {
	st := s.drv.Write(1, s.levels.CCCDHandle, native.OpWriteReq, 0, []byte{1, 0})
	s.Equal(native.ErrGattsSysAttrsMissing, st)
	events := s.sink.take()
	s.Require().Len(events, 1)
	s.Equal(native.EvtIDSysAttrMissing, events[0].ID)

	s.enableNotifications(1, s.levels.CCCDHandle, 0x01)
	cccd := native.Value{Len: 2, Data: make([]byte, 2)}
	s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, 1, s.levels.CCCDHandle, &cccd))
	s.Equal([]byte{0x01, 0x00}, cccd.Data)
}

func (s *DriverTestSuite) TestHVX() {
	s.Equal(native.ErrGattsSysAttrsMissing, s.drv.HVX(s.ctx, 1, &native.HVXParams{Handle: s.levels.ValueHandle, Type: native.HVXNotification}))

	var empty native.SysAttr
	s.Require().Equal(native.Success, s.drv.SysAttrSet(s.ctx, 1, &empty))
	s.Equal(native.ErrInvalidState, s.drv.HVX(s.ctx, 1, &native.HVXParams{Handle: s.levels.ValueHandle, Type: native.HVXNotification}),
		"notifications not enabled by the peer")

	s.Require().Equal(native.Success, s.drv.Write(1, s.levels.CCCDHandle, native.OpWriteReq, 0, []byte{0x01, 0}))
	s.drv.Outbox()

	n := uint16(2)
	params := native.HVXParams{Handle: s.levels.ValueHandle, Type: native.HVXNotification, Len: &n, Data: []byte{0xAA, 0xBB, 0xCC}}
	s.Require().Equal(native.Success, s.drv.HVX(s.ctx, 1, &params))
	s.Equal(uint16(2), n)
	pdus := s.drv.Outbox()
	s.Require().Len(pdus, 1)
	s.Equal(PDU{ConnHandle: 1, Kind: PDUNotification, Handle: s.levels.ValueHandle, Data: []byte{0xAA, 0xBB}}, pdus[0])

	// nil data sends the stored value, which the previous notification updated
	s.Require().Equal(native.Success, s.drv.HVX(s.ctx, 1, &native.HVXParams{Handle: s.levels.ValueHandle, Type: native.HVXNotification}))
	pdus = s.drv.Outbox()
	s.Require().Len(pdus, 1)
	s.Equal([]byte{0xAA, 0xBB, 0x00, 0x00}, pdus[0].Data)

	s.Equal(native.ErrInvalidState, s.drv.HVX(s.ctx, 1, &native.HVXParams{Handle: s.levels.ValueHandle, Type: native.HVXIndication}))
}

func (s *DriverTestSuite) TestHVXExceedsMTU() {
	big := native.AttrMD{ReadPerm: native.SecModeOpen, VLoc: native.VLocStack, VLen: true}
	h := s.addChar(ble.CharNotify, big, 64, []byte{0})
	s.enableNotifications(1, h.CCCDHandle, 0x01)

	data := make([]byte, native.DefaultATTMTU-2)
	st := s.drv.HVX(s.ctx, 1, &native.HVXParams{Handle: h.ValueHandle, Type: native.HVXNotification, Data: data})
	s.Equal(native.ErrDataSize, st)

	s.Require().NoError(s.drv.Connect(2, 64))
	s.enableNotifications(2, h.CCCDHandle, 0x01)
	s.Equal(native.Success, s.drv.HVX(s.ctx, 2, &native.HVXParams{Handle: h.ValueHandle, Type: native.HVXNotification, Data: data}))
}

func (s *DriverTestSuite) TestIndicationConfirm() {
	s.enableNotifications(1, s.levels.CCCDHandle, 0x02)
	s.sink.take()

	params := native.HVXParams{Handle: s.levels.ValueHandle, Type: native.HVXIndication, Data: []byte{1}}
	s.Require().Equal(native.Success, s.drv.HVX(s.ctx, 1, &params))
	s.Equal(native.ErrBusy, s.drv.HVX(s.ctx, 1, &params))

	s.Require().NoError(s.drv.Confirm(1))
	events := s.sink.take()
	s.Require().Len(events, 1)
	s.Equal(native.EvtIDHVC, events[0].ID)
	s.Equal(s.levels.ValueHandle, events[0].Params.(*native.EvtHVC).Handle)
	s.Error(s.drv.Confirm(1))
}

func (s *DriverTestSuite) TestWriteAuthorization() {
	md := native.AttrMD{ReadPerm: native.SecModeOpen, WritePerm: native.SecModeOpen, VLoc: native.VLocStack, WrAuth: true}
	h := s.addChar(ble.CharWrite, md, 1, []byte{0})

	s.Require().Equal(native.Success, s.drv.Write(1, h.ValueHandle, native.OpWriteReq, 0, []byte{0x42}))
	events := s.sink.take()
	s.Require().Len(events, 1)
	req := events[0].Params.(*native.EvtRWAuthorizeRequest)
	s.Equal(native.AuthorizeTypeWrite, req.Type)
	s.Equal([]byte{0x42}, req.Write.Data)
	s.True(req.Write.AuthRequired)

	readReply := &native.RWAuthorizeReplyParams{Type: native.AuthorizeTypeRead, Read: &native.AuthorizeParams{}}
	s.Equal(native.ErrInvalidState, s.drv.RWAuthorizeReply(s.ctx, 1, readReply))

	reply := &native.RWAuthorizeReplyParams{Type: native.AuthorizeTypeWrite, Write: &native.AuthorizeParams{Update: true}}
	s.Require().Equal(native.Success, s.drv.RWAuthorizeReply(s.ctx, 1, reply))
	s.Equal(native.ErrInvalidState, s.drv.RWAuthorizeReply(s.ctx, 1, reply), "request already answered")

	got := native.Value{Len: 1, Data: make([]byte, 1)}
	s.Require().Equal(native.Success, s.drv.ValueGet(s.ctx, native.ConnHandleInvalid, h.ValueHandle, &got))
	s.Equal([]byte{0x42}, got.Data)
}

func (s *DriverTestSuite) TestReadAuthorizationRejected() {
	md := native.AttrMD{ReadPerm: native.SecModeOpen, VLoc: native.VLocStack, RdAuth: true}
	h := s.addChar(ble.CharRead, md, 1, []byte{7})

	_, pending, st := s.drv.Read(1, h.ValueHandle, 0)
	s.Require().Equal(native.Success, st)
	s.True(pending)
	s.sink.take()

	reply := &native.RWAuthorizeReplyParams{Type: native.AuthorizeTypeRead, Read: &native.AuthorizeParams{GattStatus: native.GattStatusAttErrReadNotPermitted}}
	s.Require().Equal(native.Success, s.drv.RWAuthorizeReply(s.ctx, 1, reply))
	pdus := s.drv.Outbox()
	s.Require().Len(pdus, 1)
	s.Equal(PDUError, pdus[0].Kind)
	s.Equal(native.GattStatusAttErrReadNotPermitted, pdus[0].GattStatus)
}

func (s *DriverTestSuite) TestTimeoutDropsPendingAuthorization() {
	md := native.AttrMD{WritePerm: native.SecModeOpen, VLoc: native.VLocStack, WrAuth: true}
	h := s.addChar(ble.CharWrite, md, 1, []byte{0})
	s.Require().Equal(native.Success, s.drv.Write(1, h.ValueHandle, native.OpWriteCmd, 0, []byte{1}))

	s.drv.Timeout(1)
	events := s.sink.take()
	s.Require().Len(events, 2)
	s.Equal(native.EvtIDTimeout, events[1].ID)

	reply := &native.RWAuthorizeReplyParams{Type: native.AuthorizeTypeWrite, Write: &native.AuthorizeParams{}}
	s.Equal(native.ErrInvalidState, s.drv.RWAuthorizeReply(s.ctx, 1, reply))
}

func (s *DriverTestSuite) TestSysAttrRoundTrip() {
	s.enableNotifications(1, s.levels.CCCDHandle, 0x01)
	blob, st := s.drv.SysAttrGet(1)
	s.Require().Equal(native.Success, st)

	s.Require().NoError(s.drv.Connect(5, 0))
	s.Require().Equal(native.Success, s.drv.SysAttrSet(s.ctx, 5, &native.SysAttr{Data: blob, Flags: native.SysAttrFlagUsrSrvcs}))
	s.Equal(native.Success, s.drv.HVX(s.ctx, 5, &native.HVXParams{Handle: s.levels.ValueHandle, Type: native.HVXNotification}))

	blob[0] ^= 0xFF
	s.Equal(native.ErrInvalidData, s.drv.SysAttrSet(s.ctx, 5, &native.SysAttr{Data: blob}))
	s.Equal(native.ErrInvalidFlags, s.drv.SysAttrSet(s.ctx, 5, &native.SysAttr{Flags: 0x80}))
}

func TestDriverTestSuite(t *testing.T) {
	suite.Run(t, new(DriverTestSuite))
}

func TestSysAttrCodec(t *testing.T) {
	entries := []sysAttrEntry{{handle: 0x0E, value: 1}, {handle: 0x12, value: 2}}
	blob := encodeSysAttr(entries)
	require.Len(t, blob, 10)

	got, err := decodeSysAttr(blob)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	_, err = decodeSysAttr(blob[:7])
	assert.Error(t, err)
}

func TestServiceAddBeforeEnable(t *testing.T) {
	drv := New(nil)
	var h uint16
	assert.Equal(t, native.ErrInvalidState, drv.ServiceAdd(context.Background(), native.ServiceTypePrimary, &native.UUID{UUID: 1, Type: 1}, &h))
	assert.Equal(t, native.ErrNull, drv.ServiceAdd(context.Background(), native.ServiceTypePrimary, nil, &h))
}
