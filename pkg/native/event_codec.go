package native

func (w *EvtWrite) EncodeTo(e *Encoder) {
	e.U16(w.Handle)
	w.UUID.EncodeTo(e)
	e.U8(w.Op)
	e.Bool(w.AuthRequired)
	e.U16(w.Offset)
	e.U16(w.Len)
	if len(w.Data) < int(w.Len) {
		e.Fail(ErrLengthMismatch)
		return
	}
	e.Raw(w.Data[:w.Len])
}

func (w *EvtWrite) DecodeFrom(d *Decoder) {
	w.Handle = d.U16()
	w.UUID.DecodeFrom(d)
	w.Op = d.U8()
	w.AuthRequired = d.Bool()
	w.Offset = d.U16()
	w.Len = d.U16()
	w.Data = d.Raw(int(w.Len))
}

func (r *EvtRead) EncodeTo(e *Encoder) {
	e.U16(r.Handle)
	r.UUID.EncodeTo(e)
	e.U16(r.Offset)
}

func (r *EvtRead) DecodeFrom(d *Decoder) {
	r.Handle = d.U16()
	r.UUID.DecodeFrom(d)
	r.Offset = d.U16()
}

func (a *EvtRWAuthorizeRequest) EncodeTo(e *Encoder) {
	e.U8(a.Type)
	switch {
	case a.Type == AuthorizeTypeRead && a.Read != nil:
		a.Read.EncodeTo(e)
	case a.Type == AuthorizeTypeWrite && a.Write != nil:
		a.Write.EncodeTo(e)
	}
}

// DecodeFrom leaves both branches nil when the request type is unknown.
func (a *EvtRWAuthorizeRequest) DecodeFrom(d *Decoder) {
	a.Type = d.U8()
	a.Read, a.Write = nil, nil
	switch a.Type {
	case AuthorizeTypeRead:
		a.Read = new(EvtRead)
		a.Read.DecodeFrom(d)
	case AuthorizeTypeWrite:
		a.Write = new(EvtWrite)
		a.Write.DecodeFrom(d)
	default:
		d.Rest()
	}
}

func (m *EvtSysAttrMissing) EncodeTo(e *Encoder)   { e.U8(m.Hint) }
func (m *EvtSysAttrMissing) DecodeFrom(d *Decoder) { m.Hint = d.U8() }

func (h *EvtHVC) EncodeTo(e *Encoder)   { e.U16(h.Handle) }
func (h *EvtHVC) DecodeFrom(d *Decoder) { h.Handle = d.U16() }

func (t *EvtTimeout) EncodeTo(e *Encoder)   { e.U8(t.Src) }
func (t *EvtTimeout) DecodeFrom(d *Decoder) { t.Src = d.U8() }

// NewEventParams returns an empty payload for a known event identifier.
func NewEventParams(id uint16) (Codable, bool) {
	switch id {
	case EvtIDWrite:
		return new(EvtWrite), true
	case EvtIDRWAuthorizeRequest:
		return new(EvtRWAuthorizeRequest), true
	case EvtIDSysAttrMissing:
		return new(EvtSysAttrMissing), true
	case EvtIDHVC:
		return new(EvtHVC), true
	case EvtIDSCConfirm, EvtIDTimeout:
		return new(EvtTimeout), true
	default:
		return nil, false
	}
}

// EncodeEvent packs an event as id, connection handle and payload.
func EncodeEvent(evt *Event) ([]byte, error) {
	e := NewEncoder(16)
	e.U16(evt.ID)
	e.U16(evt.ConnHandle)
	switch p := evt.Params.(type) {
	case Codable:
		p.EncodeTo(e)
	case RawParams:
		e.Raw(p)
	case nil:
	default:
		e.Fail(ErrInvalidParams)
	}
	if err := e.Err(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// DecodeEvent unpacks an event. Unknown identifiers keep their payload as
// RawParams.
func DecodeEvent(b []byte) (*Event, error) {
	d := NewDecoder(b)
	evt := &Event{ID: d.U16(), ConnHandle: d.U16()}
	if params, ok := NewEventParams(evt.ID); ok {
		params.DecodeFrom(d)
		evt.Params = params
	} else {
		evt.Params = RawParams(d.Rest())
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return evt, nil
}
