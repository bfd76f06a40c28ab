package native

import "context"

// Driver is the outbound GATTS call set. Every call blocks until the driver
// has produced a status; output parameters are written in place.
type Driver interface {
	Enable(ctx context.Context, params *EnableParams) Status
	ServiceAdd(ctx context.Context, typ uint8, uuid *UUID, handle *uint16) Status
	CharacteristicAdd(ctx context.Context, serviceHandle uint16, md *CharMD, attr *Attr, handles *CharHandles) Status
	DescriptorAdd(ctx context.Context, charHandle uint16, attr *Attr, handle *uint16) Status
	ValueSet(ctx context.Context, connHandle, handle uint16, value *Value) Status
	ValueGet(ctx context.Context, connHandle, handle uint16, value *Value) Status
	HVX(ctx context.Context, connHandle uint16, params *HVXParams) Status
	SysAttrSet(ctx context.Context, connHandle uint16, attr *SysAttr) Status
	RWAuthorizeReply(ctx context.Context, connHandle uint16, params *RWAuthorizeReplyParams) Status
}

// EventSink receives events in the order the driver raises them. OnEvent is
// called from the driver's own goroutine and must not block for long. The
// sink owns evt once OnEvent is called; the driver must not reuse it.
type EventSink interface {
	OnEvent(evt *Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(evt *Event)

// OnEvent calls f(evt).
func (f EventSinkFunc) OnEvent(evt *Event) { f(evt) }
