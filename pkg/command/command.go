// Package command runs managed GATTS calls as asynchronous driver calls.
//
// A Command owns every native input its driver call reads, moves through
// Created, Queued, Executing and Completed exactly once, executes on a worker
// goroutine and completes on the host loop: the output is converted, the
// callback runs, then the command's buffers are released.
package command

import (
	"context"
	"sync/atomic"

	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/native"
)

// ExecFunc performs the driver call. It runs once, on a worker goroutine.
type ExecFunc func(ctx context.Context, drv native.Driver) native.Status

// ResultFunc builds the managed result after a successful driver call. It
// runs on the host loop and must copy anything it keeps from the command's
// native outputs.
type ResultFunc func() (convert.Object, error)

// Callback receives the outcome of a command on the host loop. Exactly one of
// result and err is meaningful.
type Callback func(result convert.Object, err error)

// Command is one pending driver call together with the memory it owns.
type Command struct {
	Verb       string
	ConnHandle uint16

	exec     ExecFunc
	result   ResultFunc
	callback Callback
	leases   *Leases

	state  atomic.Int32
	status native.Status
}

// New creates a command in the Created state. leases may be nil when the call
// owns no pooled buffers; result may be nil when the call has no output.
func New(verb string, connHandle uint16, exec ExecFunc, result ResultFunc, cb Callback, leases *Leases) *Command {
	return &Command{
		Verb:       verb,
		ConnHandle: connHandle,
		exec:       exec,
		result:     result,
		callback:   cb,
		leases:     leases,
	}
}

// State returns the current lifecycle phase.
func (c *Command) State() State {
	return State(c.state.Load())
}

// Status is the driver status; meaningful once Completed.
func (c *Command) Status() native.Status {
	return c.status
}

// Abandon releases the command's buffers without running it. It only applies
// to a command that was never submitted.
func (c *Command) Abandon() bool {
	if !c.advance(StateCreated, StateCompleted) {
		return false
	}
	return c.leases.Release()
}

func (c *Command) advance(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
