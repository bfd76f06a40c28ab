package simdriver

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/pkg/native"
)

// PDUKind names what the server sent to the simulated peer.
type PDUKind string

const (
	PDUNotification  PDUKind = "notification"
	PDUIndication    PDUKind = "indication"
	PDUReadResponse  PDUKind = "read_response"
	PDUWriteResponse PDUKind = "write_response"
	PDUError         PDUKind = "error_response"
)

// PDU is one message the server sent to the simulated peer.
type PDU struct {
	ConnHandle uint16
	Kind       PDUKind
	Handle     uint16
	Data       []byte
	GattStatus uint16
}

// authRequest is a peer access held until the application replies.
type authRequest struct {
	typ    uint8
	handle uint16
	op     uint8
	offset uint16
	data   []byte
}

// Connect opens a simulated link with the given ATT MTU (0 = default).
// System attributes start missing.
func (d *Driver) Connect(connHandle, mtu uint16) error {
	if connHandle == native.ConnHandleInvalid {
		return fmt.Errorf("connection handle 0x%04X is reserved", connHandle)
	}
	if mtu != 0 && mtu < native.DefaultATTMTU {
		return fmt.Errorf("ATT MTU %d below minimum %d", mtu, native.DefaultATTMTU)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.conns.Add(connHandle) {
		return fmt.Errorf("connection 0x%04X already open", connHandle)
	}
	if mtu != 0 {
		d.mtu[connHandle] = mtu
	}
	d.logger.WithFields(logrus.Fields{"conn_handle": connHandle, "mtu": d.mtuOf(connHandle)}).Debug("Peer connected")
	return nil
}

// Disconnect drops a link and all per-connection state.
func (d *Driver) Disconnect(connHandle uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns.Remove(connHandle)
	d.sysAttrReady.Remove(connHandle)
	delete(d.mtu, connHandle)
	delete(d.cccds, connHandle)
	delete(d.indicating, connHandle)
	delete(d.pendingAuth, connHandle)
}

// Write simulates a peer write. Writes to an attribute requiring write
// authorization raise an RW-authorize request and are held until the reply;
// other writes are applied and raise a write event. Writing a CCCD before
// system attributes are set raises sys-attr-missing and is refused.
func (d *Driver) Write(connHandle, handle uint16, op uint8, offset uint16, data []byte) native.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.conns.Contains(connHandle) {
		return native.ErrInvalidConnHandle
	}
	a, ok := d.attrs.Get(handle)
	if !ok || a.kind == kindService || a.kind == kindCharDecl {
		return native.ErrInvalidAttrHandle
	}
	if _, busy := d.pendingAuth[connHandle]; busy {
		return native.ErrBusy
	}

	payload := append([]byte(nil), data...)
	if a.kind == kindCCCD {
		if !d.sysAttrReady.Contains(connHandle) {
			d.emit(&native.Event{ID: native.EvtIDSysAttrMissing, ConnHandle: connHandle, Params: &native.EvtSysAttrMissing{Hint: 0}})
			return native.ErrGattsSysAttrsMissing
		}
		if offset != 0 || len(payload) != 2 {
			return native.ErrInvalidLength
		}
	}

	if a.md.WrAuth {
		d.pendingAuth[connHandle] = &authRequest{typ: native.AuthorizeTypeWrite, handle: handle, op: op, offset: offset, data: payload}
		d.emit(&native.Event{
			ID:         native.EvtIDRWAuthorizeRequest,
			ConnHandle: connHandle,
			Params: &native.EvtRWAuthorizeRequest{
				Type:  native.AuthorizeTypeWrite,
				Write: d.writeEvent(a, op, offset, payload, true),
			},
		})
		return native.Success
	}

	if st := d.applyWrite(connHandle, a, offset, payload); st != native.Success {
		return st
	}
	if op == native.OpWriteReq {
		d.outbox = append(d.outbox, PDU{ConnHandle: connHandle, Kind: PDUWriteResponse, Handle: handle})
	}
	d.emit(&native.Event{ID: native.EvtIDWrite, ConnHandle: connHandle, Params: d.writeEvent(a, op, offset, payload, false)})
	return native.Success
}

func (d *Driver) writeEvent(a *attribute, op uint8, offset uint16, data []byte, authRequired bool) *native.EvtWrite {
	return &native.EvtWrite{
		Handle:       a.handle,
		UUID:         a.uuid,
		Op:           op,
		AuthRequired: authRequired,
		Offset:       offset,
		Len:          uint16(len(data)),
		Data:         data,
	}
}

// applyWrite must be called with mu held.
func (d *Driver) applyWrite(connHandle uint16, a *attribute, offset uint16, data []byte) native.Status {
	if a.kind == kindCCCD {
		d.cccdsFor(connHandle)[a.handle] = uint16(data[0]) | uint16(data[1])<<8
		return native.Success
	}
	return writeAt(a, offset, data)
}

// Read simulates a peer read. It returns the value, or reports pending when
// the attribute requires read authorization and a request was raised.
func (d *Driver) Read(connHandle, handle, offset uint16) (value []byte, pending bool, status native.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.conns.Contains(connHandle) {
		return nil, false, native.ErrInvalidConnHandle
	}
	a, ok := d.attrs.Get(handle)
	if !ok {
		return nil, false, native.ErrInvalidAttrHandle
	}
	if _, busy := d.pendingAuth[connHandle]; busy {
		return nil, false, native.ErrBusy
	}

	if a.md.RdAuth {
		d.pendingAuth[connHandle] = &authRequest{typ: native.AuthorizeTypeRead, handle: handle, offset: offset}
		d.emit(&native.Event{
			ID:         native.EvtIDRWAuthorizeRequest,
			ConnHandle: connHandle,
			Params: &native.EvtRWAuthorizeRequest{
				Type: native.AuthorizeTypeRead,
				Read: &native.EvtRead{Handle: handle, UUID: a.uuid, Offset: offset},
			},
		})
		return nil, true, native.Success
	}

	current := a.value
	if a.kind == kindCCCD {
		v := d.cccds[connHandle][a.handle]
		current = []byte{byte(v), byte(v >> 8)}
	}
	if int(offset) > len(current) {
		return nil, false, native.ErrInvalidParam
	}
	return append([]byte(nil), current[offset:]...), false, native.Success
}

// completeAuth must be called with mu held.
func (d *Driver) completeAuth(connHandle uint16, req *authRequest, reply *native.AuthorizeParams) native.Status {
	a, ok := d.attrs.Get(req.handle)
	if !ok {
		return native.ErrInvalidAttrHandle
	}
	if reply.GattStatus != native.GattStatusSuccess {
		d.outbox = append(d.outbox, PDU{ConnHandle: connHandle, Kind: PDUError, Handle: req.handle, GattStatus: reply.GattStatus})
		return native.Success
	}

	switch req.typ {
	case native.AuthorizeTypeWrite:
		if reply.Update {
			data, offset := req.data, req.offset
			if reply.Data != nil {
				data, offset = reply.Data[:reply.Len], reply.Offset
			}
			if st := d.applyWrite(connHandle, a, offset, data); st != native.Success {
				return st
			}
		}
		if req.op == native.OpWriteReq {
			d.outbox = append(d.outbox, PDU{ConnHandle: connHandle, Kind: PDUWriteResponse, Handle: req.handle})
		}
	case native.AuthorizeTypeRead:
		if reply.Update && reply.Data != nil {
			if st := writeAt(a, reply.Offset, reply.Data[:reply.Len]); st != native.Success {
				return st
			}
		}
		var out []byte
		if int(req.offset) <= len(a.value) {
			out = append([]byte(nil), a.value[req.offset:]...)
		}
		d.outbox = append(d.outbox, PDU{ConnHandle: connHandle, Kind: PDUReadResponse, Handle: req.handle, Data: out})
	}
	return native.Success
}

// Confirm simulates the peer confirming the outstanding indication on a
// connection, raising an HVC event.
func (d *Driver) Confirm(connHandle uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	handle, ok := d.indicating[connHandle]
	if !ok {
		return fmt.Errorf("no indication in flight on connection 0x%04X", connHandle)
	}
	delete(d.indicating, connHandle)
	d.emit(&native.Event{ID: native.EvtIDHVC, ConnHandle: connHandle, Params: &native.EvtHVC{Handle: handle}})
	return nil
}

// Timeout simulates a GATT protocol timeout on a connection. Outstanding
// authorization requests and indications are dropped.
func (d *Driver) Timeout(connHandle uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pendingAuth, connHandle)
	delete(d.indicating, connHandle)
	d.emit(&native.Event{ID: native.EvtIDTimeout, ConnHandle: connHandle, Params: &native.EvtTimeout{Src: native.TimeoutSrcProtocol}})
}

// RaiseEvent hands an arbitrary event to the sink, for events the simulated
// stack never raises on its own.
func (d *Driver) RaiseEvent(evt *native.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(evt)
}

// Outbox drains the PDUs sent to the peer so far.
func (d *Driver) Outbox() []PDU {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.outbox
	d.outbox = nil
	return out
}

// Connected reports whether a link is open.
func (d *Driver) Connected(connHandle uint16) bool {
	return d.conns.Contains(connHandle)
}
