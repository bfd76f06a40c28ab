package command

import (
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/srg/gattsd/pkg/native"
)

// VerbReplyRWAuthorize is the verb under which authorization replies are
// reported.
const VerbReplyRWAuthorize = "reply_rw_authorize"

// pendingAuth is the FIFO of unanswered authorization request types for
// one connection.
type pendingAuth struct {
	mu    sync.Mutex
	types []uint8
}

// AuthTracker follows RW-authorize requests raised by the driver so that
// every reply answers exactly one outstanding request of the same type.
// It is fed from the event path and consulted before a reply is dispatched.
type AuthTracker struct {
	pending *hashmap.Map[uint16, *pendingAuth]
}

// NewAuthTracker creates an empty tracker.
func NewAuthTracker() *AuthTracker {
	return &AuthTracker{pending: hashmap.New[uint16, *pendingAuth]()}
}

// Observe records authorization requests and forgets a connection's requests
// when the driver reports a protocol timeout on it.
func (t *AuthTracker) Observe(evt *native.Event) {
	switch evt.ID {
	case native.EvtIDRWAuthorizeRequest:
		req, ok := evt.Params.(*native.EvtRWAuthorizeRequest)
		if !ok || req == nil {
			return
		}
		p, _ := t.pending.GetOrInsert(evt.ConnHandle, &pendingAuth{})
		p.mu.Lock()
		p.types = append(p.types, req.Type)
		p.mu.Unlock()
	case native.EvtIDTimeout:
		t.pending.Del(evt.ConnHandle)
	}
}

// Consume claims the oldest outstanding request on connHandle for a reply of
// type typ. A claimed request is not reinstated if the reply later fails in
// the driver.
func (t *AuthTracker) Consume(connHandle uint16, typ uint8) error {
	p, ok := t.pending.Get(connHandle)
	if !ok {
		return t.violation(connHandle, "no outstanding authorization request")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.types) == 0 {
		return t.violation(connHandle, "no outstanding authorization request")
	}
	if want := p.types[0]; want != typ {
		return t.violation(connHandle, fmt.Sprintf("reply type %d does not match request type %d", typ, want))
	}
	p.types = p.types[1:]
	return nil
}

// Pending returns the number of unanswered requests on connHandle.
func (t *AuthTracker) Pending(connHandle uint16) int {
	p, ok := t.pending.Get(connHandle)
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.types)
}

func (t *AuthTracker) violation(connHandle uint16, reason string) error {
	return &ProtocolViolation{Verb: VerbReplyRWAuthorize, ConnHandle: connHandle, Reason: reason}
}
