// Package serialization carries GATTS driver calls and events over a framed
// serial link, the way connectivity firmware exposes a SoftDevice to a host.
//
// Every frame holds one packet:
//
//	command  [0x00][opcode][params]
//	response [0x01][opcode][u32 status][outputs]
//	event    [0x02][u16 id][u16 conn_handle][payload]
//
// Fields are little endian. Pointer arguments are a presence byte followed
// by the pointee; output pointers travel as a presence byte in the command
// and come back in the response.
package serialization

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/srg/gattsd/pkg/native"
)

type PacketType uint8

const (
	PacketCommand  PacketType = 0x00
	PacketResponse PacketType = 0x01
	PacketEvent    PacketType = 0x02
)

func (t PacketType) String() string {
	switch t {
	case PacketCommand:
		return "command"
	case PacketResponse:
		return "response"
	case PacketEvent:
		return "event"
	default:
		return fmt.Sprintf("packet(0x%02X)", uint8(t))
	}
}

// Opcode identifies a driver call (SoftDevice SVC number).
type Opcode uint8

const (
	OpEnable            Opcode = 0x60
	OpServiceAdd        Opcode = 0xA8
	OpCharacteristicAdd Opcode = 0xAA
	OpDescriptorAdd     Opcode = 0xAB
	OpValueSet          Opcode = 0xAC
	OpValueGet          Opcode = 0xAD
	OpHVX               Opcode = 0xAE
	OpRWAuthorizeReply  Opcode = 0xB0
	OpSysAttrSet        Opcode = 0xB1
)

var opcodeNames = map[Opcode]string{
	OpEnable:            "sd_ble_gatts_enable",
	OpServiceAdd:        "sd_ble_gatts_service_add",
	OpCharacteristicAdd: "sd_ble_gatts_characteristic_add",
	OpDescriptorAdd:     "sd_ble_gatts_descriptor_add",
	OpValueSet:          "sd_ble_gatts_value_set",
	OpValueGet:          "sd_ble_gatts_value_get",
	OpHVX:               "sd_ble_gatts_hvx",
	OpRWAuthorizeReply:  "sd_ble_gatts_rw_authorize_reply",
	OpSysAttrSet:        "sd_ble_gatts_sys_attr_set",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02X)", uint8(op))
}

var (
	ErrShortPacket   = errors.New("packet too short")
	ErrUnknownPacket = errors.New("unknown packet type")
)

// Packet is a decoded frame payload. Body holds the command parameters or
// response outputs; Event is set for event packets.
type Packet struct {
	Type   PacketType
	Opcode Opcode
	Status native.Status
	Body   []byte
	Event  *native.Event
}

func EncodeCommand(op Opcode, params []byte) []byte {
	b := make([]byte, 0, 2+len(params))
	b = append(b, byte(PacketCommand), byte(op))
	return append(b, params...)
}

func EncodeResponse(op Opcode, status native.Status, outputs []byte) []byte {
	b := make([]byte, 0, 6+len(outputs))
	b = append(b, byte(PacketResponse), byte(op))
	b = binary.LittleEndian.AppendUint32(b, uint32(status))
	return append(b, outputs...)
}

func EncodeEvent(evt *native.Event) ([]byte, error) {
	body, err := native.EncodeEvent(evt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode event 0x%02X", evt.ID)
	}
	return append([]byte{byte(PacketEvent)}, body...), nil
}

func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < 1 {
		return nil, ErrShortPacket
	}
	p := &Packet{Type: PacketType(b[0])}
	switch p.Type {
	case PacketCommand:
		if len(b) < 2 {
			return nil, ErrShortPacket
		}
		p.Opcode = Opcode(b[1])
		p.Body = b[2:]
	case PacketResponse:
		if len(b) < 6 {
			return nil, ErrShortPacket
		}
		p.Opcode = Opcode(b[1])
		p.Status = native.Status(binary.LittleEndian.Uint32(b[2:6]))
		p.Body = b[6:]
	case PacketEvent:
		evt, err := native.DecodeEvent(b[1:])
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode event packet")
		}
		p.Event = evt
	default:
		return nil, errors.Wrapf(ErrUnknownPacket, "type 0x%02X", b[0])
	}
	return p, nil
}

func encodeOpt[T any, P interface {
	*T
	native.Codable
}](e *native.Encoder, v P) {
	e.Present(v != nil)
	if v != nil {
		v.EncodeTo(e)
	}
}

func decodeOpt[T any, P interface {
	*T
	native.Codable
}](d *native.Decoder) P {
	if !d.Present() {
		return nil
	}
	v := P(new(T))
	v.DecodeFrom(d)
	return v
}

// encodeValueOut writes a value_get result. Len may exceed the buffer on a
// truncated read, so the copied bytes carry their own length.
func encodeValueOut(e *native.Encoder, v *native.Value) {
	e.Present(v != nil)
	if v == nil {
		return
	}
	e.U16(v.Len)
	e.U16(v.Offset)
	var filled []byte
	if v.Data != nil {
		filled = v.Data[:min(len(v.Data), int(v.Len))]
	}
	e.Buffer("p_value", filled)
}

func decodeValueOut(d *native.Decoder) *native.Value {
	if !d.Present() {
		return nil
	}
	v := &native.Value{Len: d.U16(), Offset: d.U16()}
	v.Data = d.Buffer()
	return v
}
