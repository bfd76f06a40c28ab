package native

import (
	"encoding/binary"
	"fmt"
)

// Encoder appends packed little-endian fields. Pointer fields are written as
// a presence byte followed by the pointee. The first error sticks.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder returns an encoder with capacity for sizeHint bytes.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) U8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) U16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *Encoder) U32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }

func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
		return
	}
	e.U8(0)
}

// Present writes a pointer presence marker.
func (e *Encoder) Present(ok bool) { e.Bool(ok) }

// Raw appends b verbatim.
func (e *Encoder) Raw(b []byte) { e.buf = append(e.buf, b...) }

// Sized writes a presence marker and, when b is non-nil, exactly n bytes of
// b. It fails if b holds fewer than n bytes.
func (e *Encoder) Sized(field string, b []byte, n uint16) {
	e.Present(b != nil)
	if b == nil {
		return
	}
	if len(b) < int(n) {
		e.Fail(fmt.Errorf("%w: %s has %d bytes, length is %d", ErrLengthMismatch, field, len(b), n))
		return
	}
	e.Raw(b[:n])
}

// Buffer writes a presence marker, a u16 length and the bytes of b.
func (e *Encoder) Buffer(field string, b []byte) {
	e.Present(b != nil)
	if b == nil {
		return
	}
	if len(b) > 0xFFFF {
		e.Fail(fmt.Errorf("%w: %s is %d bytes", ErrLengthMismatch, field, len(b)))
		return
	}
	e.U16(uint16(len(b)))
	e.Raw(b)
}

// Fail records err unless an earlier error is already set.
func (e *Encoder) Fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) Err() error    { return e.err }
func (e *Encoder) Bytes() []byte { return e.buf }

// Decoder reads packed little-endian fields. Reads past the end set
// ErrShortBuffer and return zero values from then on.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, d.off, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) U16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Decoder) Bool() bool    { return d.U8() != 0 }
func (d *Decoder) Present() bool { return d.Bool() }

// Raw returns a copy of the next n bytes.
func (d *Decoder) Raw(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Sized is the inverse of Encoder.Sized.
func (d *Decoder) Sized(n uint16) []byte {
	if !d.Present() {
		return nil
	}
	return d.Raw(int(n))
}

// Buffer is the inverse of Encoder.Buffer.
func (d *Decoder) Buffer() []byte {
	if !d.Present() {
		return nil
	}
	return d.Raw(int(d.U16()))
}

// Rest returns a copy of all unread bytes.
func (d *Decoder) Rest() []byte {
	return d.Raw(d.Remaining())
}

func (d *Decoder) Remaining() int {
	if d.err != nil {
		return 0
	}
	return len(d.buf) - d.off
}

func (d *Decoder) Err() error { return d.err }

// Finish reports the first decode error, or ErrTrailingBytes if input is left.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d left", ErrTrailingBytes, len(d.buf)-d.off)
	}
	return nil
}

func encodeOpt[T any](e *Encoder, v *T, enc func(*T, *Encoder)) {
	e.Present(v != nil)
	if v != nil {
		enc(v, e)
	}
}

func decodeOpt[T any](d *Decoder, dec func(*T, *Decoder)) *T {
	if !d.Present() {
		return nil
	}
	v := new(T)
	dec(v, d)
	return v
}

// Codable is implemented by every packed structure in this package.
type Codable interface {
	EncodeTo(e *Encoder)
	DecodeFrom(d *Decoder)
}

// Marshal packs v into a new byte slice.
func Marshal(v Codable) ([]byte, error) {
	e := NewEncoder(32)
	v.EncodeTo(e)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Unmarshal unpacks b into v; b must hold exactly one structure.
func Unmarshal(b []byte, v Codable) error {
	d := NewDecoder(b)
	v.DecodeFrom(d)
	return d.Finish()
}
