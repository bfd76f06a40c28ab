package native

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16p(v uint16) *uint16 { return &v }

func TestConnSecMode_Byte(t *testing.T) {
	tests := []struct {
		name string
		mode ConnSecMode
		want uint8
	}{
		{name: "no access", mode: SecModeNoAccess, want: 0x00},
		{name: "open", mode: SecModeOpen, want: 0x11},
		{name: "mode 1 level 3", mode: ConnSecMode{SM: 1, LV: 3}, want: 0x31},
		{name: "signed mode 2 level 2", mode: ConnSecMode{SM: 2, LV: 2}, want: 0x22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.Byte())
			assert.Equal(t, tt.mode, ConnSecModeFromByte(tt.want))
		})
	}
}

func TestAttrMD_Layout(t *testing.T) {
	md := &AttrMD{
		ReadPerm:  SecModeOpen,
		WritePerm: ConnSecMode{SM: 1, LV: 2},
		VLen:      true,
		VLoc:      VLocUser,
		WrAuth:    true,
	}

	b, err := Marshal(md)
	require.NoError(t, err)
	// flags: vlen(bit0) | vloc=2(bits1-2) | wr_auth(bit4)
	assert.Equal(t, []byte{0x11, 0x21, 0x01 | 0x04 | 0x10}, b)

	var got AttrMD
	require.NoError(t, Unmarshal(b, &got))
	assert.Equal(t, *md, got)
}

func TestCharMD_RoundTrip(t *testing.T) {
	md := &CharMD{
		Props:           ble.CharRead | ble.CharNotify | ble.CharBroadcast,
		ExtProps:        ExtPropWriteAux,
		UserDesc:        []byte("Temp"),
		UserDescMaxSize: 8,
		UserDescSize:    4,
		PF:              &CharPF{Format: 0x0E, Exponent: -2, Unit: 0x272F, NameSpace: 1, Desc: 0},
		UserDescMD:      &AttrMD{ReadPerm: SecModeOpen, WritePerm: SecModeNoAccess, VLoc: VLocStack},
		CCCDMD:          &AttrMD{ReadPerm: SecModeOpen, WritePerm: SecModeOpen, VLoc: VLocStack},
	}

	b, err := Marshal(md)
	require.NoError(t, err)

	var got CharMD
	require.NoError(t, Unmarshal(b, &got))
	assert.Equal(t, *md, got)
	assert.Nil(t, got.SCCDMD, "absent metadata MUST stay absent")
}

func TestCharMD_ExtendedBitIsNotEncoded(t *testing.T) {
	b, err := Marshal(&CharMD{Props: ble.CharRead | ble.CharExtended})
	require.NoError(t, err)
	assert.Equal(t, uint8(ble.CharRead), b[0])
}

func TestAttr_Layout(t *testing.T) {
	attr := &Attr{
		UUID:    &UUID{UUID: 0x2A37, Type: UUIDTypeBLE},
		InitLen: 1,
		MaxLen:  20,
		Value:   []byte{0x00},
	}

	b, err := Marshal(attr)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x37, 0x2A, 0x01, // uuid present
		0x00,       // md absent
		0x01, 0x00, // init_len
		0x00, 0x00, // init_offs
		0x14, 0x00, // max_len
		0x01, 0x00, // value present, 1 byte
	}, b)
}

func TestAttr_ShortValueFails(t *testing.T) {
	_, err := Marshal(&Attr{InitLen: 4, MaxLen: 4, Value: []byte{1}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestHVXParams_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		hvx  HVXParams
	}{
		{name: "with length and data", hvx: HVXParams{Handle: 0x0010, Type: HVXNotification, Len: u16p(2), Data: []byte{1, 2}}},
		{name: "without length", hvx: HVXParams{Handle: 0x0010, Type: HVXIndication, Data: []byte{9}}},
		{name: "current value", hvx: HVXParams{Handle: 0x0011, Type: HVXNotification}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Marshal(&tt.hvx)
			require.NoError(t, err)

			var got HVXParams
			require.NoError(t, Unmarshal(b, &got))
			assert.Equal(t, tt.hvx, got)
		})
	}
}

func TestRWAuthorizeReplyParams_Validate(t *testing.T) {
	params := &AuthorizeParams{GattStatus: GattStatusSuccess, Update: true}

	tests := []struct {
		name    string
		reply   RWAuthorizeReplyParams
		wantErr error
	}{
		{name: "read branch", reply: RWAuthorizeReplyParams{Type: AuthorizeTypeRead, Read: params}},
		{name: "write branch", reply: RWAuthorizeReplyParams{Type: AuthorizeTypeWrite, Write: params}},
		{name: "both branches", reply: RWAuthorizeReplyParams{Type: AuthorizeTypeRead, Read: params, Write: params}, wantErr: ErrAmbiguousReply},
		{name: "no branch", reply: RWAuthorizeReplyParams{Type: AuthorizeTypeWrite}, wantErr: ErrEmptyReply},
		{name: "wrong branch", reply: RWAuthorizeReplyParams{Type: AuthorizeTypeRead, Write: params}, wantErr: ErrReplyTypeMismatch},
		{name: "invalid type", reply: RWAuthorizeReplyParams{Type: AuthorizeTypeInvalid, Write: params}, wantErr: ErrReplyTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reply.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = Marshal(&tt.reply)
			assert.ErrorIs(t, err, tt.wantErr, "invalid replies MUST NOT encode")
		})
	}
}

func TestEvent_RoundTrip(t *testing.T) {
	events := []*Event{
		{ID: EvtIDWrite, ConnHandle: 1, Params: &EvtWrite{
			Handle: 0x000C, UUID: UUID{UUID: 0x2A39, Type: UUIDTypeBLE}, Op: OpWriteReq, Len: 1, Data: []byte{0xFF},
		}},
		{ID: EvtIDRWAuthorizeRequest, ConnHandle: 2, Params: &EvtRWAuthorizeRequest{
			Type: AuthorizeTypeRead, Read: &EvtRead{Handle: 0x000E, UUID: UUID{UUID: 0x2A19, Type: UUIDTypeBLE}},
		}},
		{ID: EvtIDSysAttrMissing, ConnHandle: 3, Params: &EvtSysAttrMissing{Hint: 1}},
		{ID: EvtIDHVC, ConnHandle: 4, Params: &EvtHVC{Handle: 0x0010}},
		{ID: EvtIDSCConfirm, ConnHandle: 5, Params: &EvtTimeout{Src: TimeoutSrcProtocol}},
		{ID: EvtIDTimeout, ConnHandle: 6, Params: &EvtTimeout{Src: TimeoutSrcProtocol}},
		{ID: 0x5F, ConnHandle: 7, Params: RawParams{0xDE, 0xAD}},
	}

	for _, evt := range events {
		b, err := EncodeEvent(evt)
		require.NoError(t, err)

		got, err := DecodeEvent(b)
		require.NoError(t, err)
		assert.Equal(t, evt, got)
	}
}

func TestDecodeEvent_Truncated(t *testing.T) {
	_, err := DecodeEvent([]byte{0x50, 0x00, 0x01, 0x00, 0x0C})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "NRF_ERROR_DATA_SIZE", ErrDataSize.String())
	assert.Equal(t, "data size exceeds limit", ErrDataSize.Description())
	assert.Equal(t, "BLE_ERROR_INVALID_ATTR_HANDLE", ErrInvalidAttrHandle.String())
	assert.Equal(t, "UNKNOWN_STATUS(0x7777)", Status(0x7777).String())
	assert.False(t, Status(0x7777).Known())
}
