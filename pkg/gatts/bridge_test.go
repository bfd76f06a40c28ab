//go:build test

package gatts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/gattsd/internal/simdriver"
	"github.com/srg/gattsd/internal/testutils"
	"github.com/srg/gattsd/pkg/command"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/event"
	"github.com/srg/gattsd/pkg/gatts"
	"github.com/srg/gattsd/pkg/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const peer uint16 = 1

func openPerm() convert.Object { return convert.Object{"sm": 1, "lv": 1} }

func attrMD(wrAuth bool) convert.Object {
	return convert.Object{
		"read_perm":  openPerm(),
		"write_perm": openPerm(),
		"vloc":       "BLE_GATTS_VLOC_STACK",
		"wr_auth":    wrAuth,
	}
}

type BridgeTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	drv    *simdriver.Driver
	bridge *gatts.Bridge
	events chan convert.Object
	svc    uint16
}

func (suite *BridgeTestSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 5*time.Second)
	suite.drv = simdriver.New(nil)

	var err error
	suite.bridge, err = gatts.New(suite.drv, &gatts.Options{HistorySize: 16})
	suite.Require().NoError(err)
	suite.Require().NoError(suite.bridge.Start(suite.ctx))

	suite.events = make(chan convert.Object, 64)
	suite.bridge.Subscribe(func(env convert.Object) {
		suite.events <- env
	})

	_, err = suite.bridge.CallSync(suite.ctx, gatts.VerbEnable, convert.Object{})
	suite.Require().NoError(err)

	out, err := suite.bridge.CallSync(suite.ctx, gatts.VerbAddService, convert.Object{
		"type": "BLE_GATTS_SRVC_TYPE_PRIMARY",
		"uuid": convert.Object{"uuid": 0x180D, "type": "BLE_UUID_TYPE_BLE"},
	})
	suite.Require().NoError(err)
	suite.svc = out["handle"].(uint16)
	suite.Require().NotZero(suite.svc)

	suite.Require().NoError(suite.drv.Connect(peer, 0))
}

func (suite *BridgeTestSuite) TearDownTest() {
	suite.bridge.Stop()
	suite.cancel()
	suite.Zero(suite.bridge.OutstandingBuffers(), "every command buffer MUST be released")
}

func (suite *BridgeTestSuite) addCharacteristic(props convert.Object, md convert.Object, value any) convert.Object {
	out, err := suite.bridge.CallSync(suite.ctx, gatts.VerbAddCharacteristic, convert.Object{
		"service_handle": suite.svc,
		"char_md":        convert.Object{"char_props": props},
		"attr": convert.Object{
			"uuid":    convert.Object{"uuid": 0x2A37, "type": "BLE_UUID_TYPE_BLE"},
			"attr_md": md,
			"value":   value,
			"max_len": 20,
		},
	})
	suite.Require().NoError(err)
	return out
}

func (suite *BridgeTestSuite) nextEvent() convert.Object {
	select {
	case env := <-suite.events:
		return env
	case <-time.After(2 * time.Second):
		suite.FailNow("no event delivered")
		return nil
	}
}

func (suite *BridgeTestSuite) TestAddCharacteristicWithAllDescriptors() {
	// GOAL: Verify a characteristic with notify, broadcast and a user description gets every handle assigned
	//
	// TEST SCENARIO: add_characteristic with user desc + notify + broadcast → callback result → four non-zero handles

	out, err := suite.bridge.CallSync(suite.ctx, gatts.VerbAddCharacteristic, convert.Object{
		"service_handle": suite.svc,
		"char_md": convert.Object{
			"char_props":     convert.Object{"read": true, "notify": true, "broadcast": true},
			"char_user_desc": []byte("Heart Rate"),
		},
		"attr": convert.Object{
			"uuid":    convert.Object{"uuid": 0x2A37, "type": "BLE_UUID_TYPE_BLE"},
			"attr_md": attrMD(false),
			"value":   "0x00",
		},
	})
	suite.Require().NoError(err)

	for _, key := range []string{"value_handle", "user_desc_handle", "cccd_handle", "sccd_handle"} {
		suite.NotZero(out[key], key)
	}
	suite.Greater(out["value_handle"].(uint16), suite.svc)
}

func (suite *BridgeTestSuite) TestSetThenGetValue() {
	// GOAL: Verify a value written through set_value reads back unchanged through get_value
	//
	// TEST SCENARIO: set_value [1,2] → get_value → value [1,2] with len 2

	h := suite.addCharacteristic(convert.Object{"read": true, "write": true}, attrMD(false), []byte{0})
	handle := h["value_handle"]

	_, err := suite.bridge.CallSync(suite.ctx, gatts.VerbSetValue, convert.Object{
		"handle": handle,
		"value":  convert.Object{"value": []int{1, 2}},
	})
	suite.Require().NoError(err)

	out, err := suite.bridge.CallSync(suite.ctx, gatts.VerbGetValue, convert.Object{"handle": handle})
	suite.Require().NoError(err)
	suite.Equal([]byte{1, 2}, out["value"])
	suite.Equal(uint16(2), out["len"])

	out, err = suite.bridge.CallSync(suite.ctx, gatts.VerbGetValue, convert.Object{"handle": handle, "value": convert.Object{"len": 1}})
	suite.Require().NoError(err)
	suite.Equal([]byte{1}, out["value"])
	suite.Equal(uint16(2), out["len"], "a short buffer MUST still report the full length")
}

func (suite *BridgeTestSuite) TestAddDescriptor() {
	// GOAL: Verify descriptors attach to the characteristic just added and reject any other handle
	//
	// TEST SCENARIO: add_characteristic → add_descriptor on its value handle → get_value reads initial value → add_descriptor on service handle → INVALID_PARAM

	h := suite.addCharacteristic(convert.Object{"read": true}, attrMD(false), []byte{0})
	desc := convert.Object{
		"uuid":    convert.Object{"uuid": 0x2908, "type": "BLE_UUID_TYPE_BLE"},
		"attr_md": attrMD(false),
		"value":   []byte{0x01, 0x01},
		"max_len": 2,
	}

	out, err := suite.bridge.CallSync(suite.ctx, gatts.VerbAddDescriptor, convert.Object{
		"char_handle": h["value_handle"],
		"attr":        desc,
	})
	suite.Require().NoError(err)
	handle := out["handle"].(uint16)
	suite.Greater(handle, h["value_handle"].(uint16))

	value, err := suite.bridge.CallSync(suite.ctx, gatts.VerbGetValue, convert.Object{"handle": handle})
	suite.Require().NoError(err)
	suite.Equal([]byte{0x01, 0x01}, value["value"])

	_, err = suite.bridge.CallSync(suite.ctx, gatts.VerbAddDescriptor, convert.Object{
		"char_handle": suite.svc,
		"attr":        desc,
	})
	status, ok := command.StatusOf(err)
	suite.True(ok, "driver rejection MUST surface as a status error")
	suite.Equal(native.ErrInvalidParam, status)
}

func (suite *BridgeTestSuite) TestPeerWriteDeliversEnvelope() {
	// GOAL: Verify a peer write reaches subscribers as a write envelope
	//
	// TEST SCENARIO: peer writes 0xFF → envelope kind write on conn 1 → payload data [0xFF] and handle

	h := suite.addCharacteristic(convert.Object{"read": true, "write": true}, attrMD(false), []byte{0})
	handle := h["value_handle"].(uint16)

	suite.Require().Equal(native.Success, suite.drv.Write(peer, handle, native.OpWriteReq, 0, []byte{0xFF}))

	env := suite.nextEvent()
	suite.Equal("write", env[event.FieldKind])
	suite.Equal("BLE_GATTS_EVT_WRITE", env[event.FieldName])
	suite.Equal(peer, env[event.FieldConnHandle])
	suite.NotContains(env, event.FieldPayloadError)

	payload := env[event.FieldPayload].(convert.Object)
	suite.Equal(handle, payload["handle"])
	suite.Equal("BLE_GATTS_OP_WRITE_REQ", payload["op"])
	suite.Equal([]byte{0xFF}, payload["data"])

	testutils.NewJSONAsserter(suite.T()).AssertValue(env, `{
		"kind": "write",
		"conn_handle": 1,
		"time": "<<PRESENCE>>",
		"payload": {"op": "BLE_GATTS_OP_WRITE_REQ", "offset": 0}
	}`)

	suite.Equal(int64(1), suite.bridge.History().Recorded())
}

func (suite *BridgeTestSuite) TestAuthorizeReplyOnce() {
	// GOAL: Verify an authorization request accepts exactly one reply
	//
	// TEST SCENARIO: write needing authorization → rw_authorize_request event → reply succeeds → second reply is a protocol violation

	h := suite.addCharacteristic(convert.Object{"read": true, "write": true}, attrMD(true), []byte{0})
	handle := h["value_handle"].(uint16)

	suite.Require().Equal(native.Success, suite.drv.Write(peer, handle, native.OpWriteReq, 0, []byte{0x2A}))
	env := suite.nextEvent()
	suite.Require().Equal("rw_authorize_request", env[event.FieldKind])

	reply := convert.Object{
		"conn_handle": peer,
		"params": convert.Object{
			"type":  "BLE_GATTS_AUTHORIZE_TYPE_WRITE",
			"write": convert.Object{"gatt_status": "BLE_GATT_STATUS_SUCCESS", "update": true},
		},
	}
	_, err := suite.bridge.CallSync(suite.ctx, gatts.VerbReplyRWAuthorize, reply)
	suite.Require().NoError(err)

	out, err := suite.bridge.CallSync(suite.ctx, gatts.VerbGetValue, convert.Object{"handle": handle})
	suite.Require().NoError(err)
	suite.Equal([]byte{0x2A}, out["value"])

	_, err = suite.bridge.CallSync(suite.ctx, gatts.VerbReplyRWAuthorize, reply)
	suite.Require().Error(err)
	suite.True(command.IsProtocolViolation(err))
}

func (suite *BridgeTestSuite) TestNotificationTooLong() {
	// GOAL: Verify a driver rejection reaches the callback as a status error naming the verb
	//
	// TEST SCENARIO: sys_attr_set → peer enables notifications → hvx with 21 bytes at MTU 23 → DATA_SIZE error

	h := suite.addCharacteristic(convert.Object{"read": true, "notify": true}, attrMD(false), []byte{0})

	_, err := suite.bridge.CallSync(suite.ctx, gatts.VerbSysAttrSet, convert.Object{"conn_handle": peer})
	suite.Require().NoError(err)
	cccd := h["cccd_handle"].(uint16)
	suite.Require().Equal(native.Success, suite.drv.Write(peer, cccd, native.OpWriteReq, 0, []byte{0x01, 0x00}))

	data := make([]byte, 21)
	_, err = suite.bridge.CallSync(suite.ctx, gatts.VerbHVX, convert.Object{
		"conn_handle": peer,
		"params": convert.Object{
			"handle": h["value_handle"],
			"type":   "BLE_GATT_HVX_NOTIFICATION",
			"data":   data,
		},
	})
	suite.Require().Error(err)
	suite.ErrorIs(err, &command.DriverStatusError{Status: native.ErrDataSize})
	status, ok := command.StatusOf(err)
	suite.True(ok)
	suite.Equal(native.ErrDataSize, status)
	suite.Contains(err.Error(), gatts.VerbHVX)

	out, err := suite.bridge.CallSync(suite.ctx, gatts.VerbHVX, convert.Object{
		"conn_handle": peer,
		"params": convert.Object{
			"handle": h["value_handle"],
			"type":   "BLE_GATT_HVX_NOTIFICATION",
			"data":   data[:20],
		},
	})
	suite.Require().NoError(err)
	suite.Equal(uint16(20), out["len"])
}

func (suite *BridgeTestSuite) TestConversionErrorIsSynchronous() {
	// GOAL: Verify malformed input is rejected before the driver is called and no buffer leaks
	//
	// TEST SCENARIO: hvx with unknown type → Call returns ConversionError → callback never runs → buffers released

	called := make(chan struct{}, 1)
	err := suite.bridge.Call(gatts.VerbHVX, convert.Object{
		"conn_handle": peer,
		"params":      convert.Object{"handle": 0x10, "type": 7, "data": []byte{1}},
	}, func(convert.Object, error) { called <- struct{}{} })

	suite.Require().Error(err)
	suite.True(convert.IsConversionError(err))
	suite.ErrorIs(err, &convert.ConversionError{Entity: gatts.VerbHVX, Field: "params.type"})
	suite.Zero(suite.bridge.OutstandingBuffers())

	select {
	case <-called:
		suite.Fail("callback MUST NOT run for a rejected call")
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *BridgeTestSuite) TestUnknownVerb() {
	err := suite.bridge.Call("delete_service", convert.Object{}, func(convert.Object, error) {})
	var unknown *gatts.UnknownCommandError
	suite.Require().True(errors.As(err, &unknown))
	suite.Equal("delete_service", unknown.Verb)
}

func (suite *BridgeTestSuite) TestCallbacksRunOnHostLoop() {
	// GOAL: Verify completion callbacks run on the host loop goroutine
	//
	// TEST SCENARIO: add_service via Call → callback checks InLoop → true

	inLoop := make(chan bool, 1)
	err := suite.bridge.Call(gatts.VerbAddService, convert.Object{
		"type": "BLE_GATTS_SRVC_TYPE_SECONDARY",
		"uuid": convert.Object{"uuid": 0x180F, "type": "BLE_UUID_TYPE_BLE"},
	}, func(result convert.Object, err error) {
		inLoop <- suite.bridge.Loop().InLoop()
	})
	suite.Require().NoError(err)

	select {
	case ok := <-inLoop:
		suite.True(ok)
	case <-time.After(2 * time.Second):
		suite.FailNow("callback did not run")
	}
}

func (suite *BridgeTestSuite) TestSysAttrMissingEvent() {
	// GOAL: Verify enabling notifications before system attributes are restored raises sys_attr_missing
	//
	// TEST SCENARIO: peer writes CCCD without sys attrs → driver refuses → sys_attr_missing envelope delivered

	h := suite.addCharacteristic(convert.Object{"read": true, "notify": true}, attrMD(false), []byte{0})
	cccd := h["cccd_handle"].(uint16)

	suite.Equal(native.ErrGattsSysAttrsMissing, suite.drv.Write(peer, cccd, native.OpWriteReq, 0, []byte{0x01, 0x00}))
	env := suite.nextEvent()
	suite.Equal("sys_attr_missing", env[event.FieldKind])
	suite.Equal(peer, env[event.FieldConnHandle])
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}

func TestBridge_NotStarted(t *testing.T) {
	b, err := gatts.New(simdriver.New(nil), nil)
	require.NoError(t, err)

	err = b.Call(gatts.VerbEnable, convert.Object{}, func(convert.Object, error) {})
	assert.ErrorIs(t, err, gatts.ErrNotStarted)
	assert.Zero(t, b.OutstandingBuffers())
}

func TestBridge_CommandTable(t *testing.T) {
	b, err := gatts.New(simdriver.New(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"add_characteristic", "add_descriptor", "add_service", "enable", "get_value",
		"hvx", "reply_rw_authorize", "set_value", "sys_attr_set",
	}, b.Verbs())
	assert.Len(t, b.Commands(), 9)

	kinds := b.EventKinds()
	require.Len(t, kinds, 6)
	assert.Equal(t, "write", kinds[0].Kind)
	assert.Nil(t, b.History())
}

func TestBridge_RequiresDriver(t *testing.T) {
	_, err := gatts.New(nil, nil)
	assert.Error(t, err)
}

func TestBridge_EnableCompletesWithoutPayload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := gatts.New(simdriver.New(nil), nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	out, err := b.CallSync(ctx, gatts.VerbEnable, convert.Object{"attr_tab_size": 0x800})
	require.NoError(t, err)
	assert.Empty(t, out, "enable completion carries no payload")

	_, err = b.CallSync(ctx, gatts.VerbEnable, convert.Object{})
	status, ok := command.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, native.ErrInvalidState, status)
}
