// Package convert maps native GATTS structures to managed records and back.
//
// A managed record is a JSON-like Object. Field names are the snake_case
// names of the native members; optional members that are absent are present
// as keys holding nil. Enumerations are rendered by symbolic name and accepted
// by name or number. Byte buffers are []byte on output and accept []byte,
// numeric arrays or "0x" hex strings on input.
package convert

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/gattsd/pkg/native"
)

// Object is a managed record.
type Object = map[string]any

// Converter maps one native structure to one managed record shape.
//
// ToManaged deep-copies every buffer; the result never aliases n. ToNative
// allocates a new structure whose buffers belong to the caller.
type Converter[N any] interface {
	ToManaged(n *N) (Object, error)
	ToNative(o Object) (*N, error)
}

// Allocator returns a zeroed buffer of n bytes owned by the caller.
type Allocator func(n int) []byte

func heapAlloc(n int) []byte { return make([]byte, n) }

func (a Allocator) alloc(n int) []byte {
	if a == nil {
		return heapAlloc(n)
	}
	return a(n)
}

// ErrUnsupportedDirection is returned by converters for output-only or
// input-only structures.
var ErrUnsupportedDirection = errors.New("conversion direction not supported")

// ConversionError names the entity and field that could not be converted.
type ConversionError struct {
	Entity string
	Field  string
	Reason string
	Raw    any
	Err    error
}

func (e *ConversionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("convert ")
	b.WriteString(e.Entity)
	if e.Field != "" {
		b.WriteString(".")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is matches another ConversionError by entity and field; empty target
// fields match anything.
func (e *ConversionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConversionError)
	if !ok {
		return false
	}
	return (t.Entity == "" || t.Entity == e.Entity) && (t.Field == "" || t.Field == e.Field)
}

// ErrConversion matches every ConversionError.
var ErrConversion = &ConversionError{}

func newError(entity, field, reason string, raw any) *ConversionError {
	return &ConversionError{Entity: entity, Field: field, Reason: reason, Raw: raw}
}

// nest re-roots a nested entity's error under the parent's field.
func nest(entity, field string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *ConversionError
	if !errors.As(err, &cerr) {
		return &ConversionError{Entity: entity, Field: field, Reason: "nested conversion failed", Err: err}
	}
	path := field
	if cerr.Field != "" {
		path = field + "." + cerr.Field
	}
	return &ConversionError{Entity: entity, Field: path, Reason: cerr.Reason, Raw: cerr.Raw, Err: cerr.Err}
}

// IsConversionError reports whether err carries a ConversionError.
func IsConversionError(err error) bool {
	var cerr *ConversionError
	return errors.As(err, &cerr)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func lengthError(entity, field string, n, limit int, what string) *ConversionError {
	return newError(entity, field, fmt.Sprintf("length %d exceeds %s %d", n, what, limit), n)
}

var (
	_ Converter[native.UUID]                   = UUIDConverter{}
	_ Converter[native.ConnSecMode]            = ConnSecModeConverter{}
	_ Converter[native.AttrMD]                 = AttrMDConverter{}
	_ Converter[native.Attr]                   = AttrConverter{}
	_ Converter[native.CharPF]                 = CharPFConverter{}
	_ Converter[native.CharMD]                 = CharMDConverter{}
	_ Converter[native.CharHandles]            = CharHandlesConverter{}
	_ Converter[native.Value]                  = ValueConverter{}
	_ Converter[native.HVXParams]              = HVXConverter{}
	_ Converter[native.AuthorizeParams]        = AuthorizeParamsConverter{}
	_ Converter[native.RWAuthorizeReplyParams] = RWAuthorizeReplyConverter{}
	_ Converter[native.EnableParams]           = EnableParamsConverter{}
	_ Converter[native.SysAttr]                = SysAttrConverter{}
	_ Converter[native.EvtWrite]               = WriteEventConverter{}
	_ Converter[native.EvtRead]                = ReadEventConverter{}
	_ Converter[native.EvtRWAuthorizeRequest]  = RWAuthorizeRequestConverter{}
	_ Converter[native.EvtSysAttrMissing]      = SysAttrMissingConverter{}
	_ Converter[native.EvtHVC]                 = HVCConverter{}
	_ Converter[native.EvtTimeout]             = TimeoutConverter{}
)
