package serialization

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/internal/groutine"
	"github.com/srg/gattsd/pkg/native"
	"github.com/tarm/serial"
)

const (
	DefaultResponseTimeout = 2 * time.Second
	DefaultRxBufferSize    = 4096
	DefaultBaud            = 1000000
)

// ErrClosed ends the RX stream once the link has been closed.
var ErrClosed = errors.New("serialization link closed")

// Options configures a Driver.
type Options struct {
	Logger          *logrus.Logger // Logger instance (nil = discard)
	ResponseTimeout time.Duration  // Per-call response deadline (0 = DefaultResponseTimeout)
	RxBufferSize    int            // RX ring capacity in bytes (0 = DefaultRxBufferSize)
	LineDelay       time.Duration  // Pause between the lines of a frame
	EOFIsTimeout    bool           // Port reports read timeouts as io.EOF
}

// PortConfig names a UART to open.
type PortConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// OpenPort opens and flushes a UART.
func OpenPort(cfg *PortConfig) (io.ReadWriteCloser, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", cfg.Name)
	}
	if err := port.Flush(); err != nil {
		_ = port.Close()
		return nil, errors.Wrapf(err, "failed to flush serial port %s", cfg.Name)
	}
	return port, nil
}

type sinkHolder struct {
	sink native.EventSink
}

// callTracker pairs responses with the command in flight. Responses carry
// no sequence number, so a command that timed out leaves its response owed
// and the next response with that opcode is dropped.
type callTracker struct {
	mu      sync.Mutex
	op      Opcode
	waiting chan *Packet
	owed    map[Opcode]int
}

func (t *callTracker) await(op Opcode) chan *Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.op, t.waiting = op, make(chan *Packet, 1)
	return t.waiting
}

// abandon releases the waiter. When sent is set and no response was
// delivered yet, the response is owed.
func (t *callTracker) abandon(ch chan *Packet, sent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.waiting != ch {
		return
	}
	t.waiting = nil
	if sent {
		t.owed[t.op]++
	}
}

// deliver reports whether p answered the command in flight.
func (t *callTracker) deliver(p *Packet) (delivered, stale bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.owed[p.Opcode]; n > 0 {
		if n == 1 {
			delete(t.owed, p.Opcode)
		} else {
			t.owed[p.Opcode] = n - 1
		}
		return false, true
	}
	if t.waiting == nil || t.op != p.Opcode {
		return false, false
	}
	t.waiting <- p
	t.waiting = nil
	return true, false
}

// Driver implements native.Driver by forwarding every call to connectivity
// firmware on the other end of port. Calls are serialized: one command is in
// flight at a time, as the firmware expects.
type Driver struct {
	port    io.ReadWriteCloser
	writer  *FrameWriter
	rx      *rxQueue
	calls   callTracker
	sink    atomic.Pointer[sinkHolder]
	callMu  sync.Mutex
	timeout time.Duration
	logger  *logrus.Logger

	eofIsTimeout bool
	closed       atomic.Bool
	done         chan struct{}
	wg           sync.WaitGroup
}

// Open starts reading port. Events that arrive before SetEventSink are
// dropped.
func Open(ctx context.Context, port io.ReadWriteCloser, opts *Options) *Driver {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	timeout := opts.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	rxSize := opts.RxBufferSize
	if rxSize <= 0 {
		rxSize = DefaultRxBufferSize
	}

	d := &Driver{
		port:         port,
		writer:       NewFrameWriter(port, opts.LineDelay, logger),
		rx:           newRxQueue(rxSize),
		calls:        callTracker{owed: make(map[Opcode]int)},
		timeout:      timeout,
		logger:       logger,
		eofIsTimeout: opts.EOFIsTimeout,
		done:         make(chan struct{}),
	}

	// the pump is not waited for: a read on a blocking tty fd may outlive Close
	d.wg.Add(1)
	groutine.Go(ctx, "serial-rx-pump", func(context.Context) {
		d.pump()
	}, "component", "serialization")
	groutine.Go(ctx, "serial-rx-decoder", func(context.Context) {
		defer d.wg.Done()
		defer close(d.done)
		defer d.rx.close(nil)
		d.readLoop()
	}, "component", "serialization")
	return d
}

func (d *Driver) SetEventSink(sink native.EventSink) {
	d.sink.Store(&sinkHolder{sink: sink})
}

// Close closes the port and waits for the frame decoder. Calls in flight
// fail with native.ErrInternal.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := d.port.Close()
	d.rx.close(ErrClosed)
	d.wg.Wait()
	if err != nil {
		return errors.Wrap(err, "failed to close serialization port")
	}
	return nil
}

// Done is closed once the link stops reading.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

func (d *Driver) pump() {
	buf := make([]byte, 256)
	for {
		n, err := d.port.Read(buf)
		if n > 0 && !d.rx.push(buf[:n]) {
			return
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && d.eofIsTimeout && !d.closed.Load() {
			continue
		}
		if d.closed.Load() {
			d.rx.close(ErrClosed)
		} else {
			d.rx.close(errors.Wrap(err, "serial read failed"))
		}
		return
	}
}

func (d *Driver) readLoop() {
	frames := NewFrameReader(d.rx, d.logger)
	for {
		b, err := frames.ReadFrame()
		if err != nil {
			if IsFrameError(err) {
				d.logger.WithError(err).Warn("Dropped malformed frame")
				continue
			}
			if !d.closed.Load() && !errors.Is(err, io.EOF) {
				d.logger.WithError(err).Error("Serialization link failed")
			}
			return
		}

		p, err := DecodePacket(b)
		if err != nil {
			d.logger.WithError(err).Warn("Dropped undecodable packet")
			continue
		}
		switch p.Type {
		case PacketResponse:
			delivered, stale := d.calls.deliver(p)
			switch {
			case stale:
				d.logger.WithField("opcode", p.Opcode).Warn("Dropped late response of a timed out call")
			case !delivered:
				d.logger.WithField("opcode", p.Opcode).Warn("Dropped response without a pending call")
			}
		case PacketEvent:
			h := d.sink.Load()
			if h == nil || h.sink == nil {
				d.logger.WithField("id", p.Event.ID).Debug("Dropped event, no sink bound")
				continue
			}
			h.sink.OnEvent(p.Event)
		default:
			d.logger.WithField("type", p.Type).Warn("Dropped unexpected packet")
		}
	}
}

func (d *Driver) call(ctx context.Context, op Opcode, params []byte) (native.Status, []byte) {
	d.callMu.Lock()
	defer d.callMu.Unlock()

	select {
	case <-d.done:
		return native.ErrInternal, nil
	default:
	}

	ch := d.calls.await(op)
	if err := d.writer.WriteFrame(EncodeCommand(op, params)); err != nil {
		d.calls.abandon(ch, false)
		d.logger.WithError(err).WithField("opcode", op).Error("Failed to send command")
		return native.ErrInternal, nil
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case rsp := <-ch:
		return rsp.Status, rsp.Body
	case <-timer.C:
		d.logger.WithFields(logrus.Fields{"opcode": op, "timeout": d.timeout}).Warn("Command response timed out")
	case <-ctx.Done():
	case <-d.done:
		d.calls.abandon(ch, false)
		return native.ErrInternal, nil
	}
	d.calls.abandon(ch, true)
	return native.ErrTimeout, nil
}

// invoke sends the encoded parameters and decodes the outputs of a
// successful call.
func (d *Driver) invoke(ctx context.Context, op Opcode, e *native.Encoder, decode func(dec *native.Decoder)) native.Status {
	if err := e.Err(); err != nil {
		d.logger.WithError(err).WithField("opcode", op).Warn("Failed to encode command")
		return native.ErrInvalidParam
	}
	status, body := d.call(ctx, op, e.Bytes())
	if status != native.Success || decode == nil {
		return status
	}
	dec := native.NewDecoder(body)
	decode(dec)
	if err := dec.Finish(); err != nil {
		d.logger.WithError(err).WithField("opcode", op).Error("Failed to decode response")
		return native.ErrInternal
	}
	return status
}

func (d *Driver) Enable(ctx context.Context, params *native.EnableParams) native.Status {
	e := native.NewEncoder(8)
	encodeOpt(e, params)
	return d.invoke(ctx, OpEnable, e, nil)
}

func (d *Driver) ServiceAdd(ctx context.Context, typ uint8, uuid *native.UUID, handle *uint16) native.Status {
	e := native.NewEncoder(8)
	e.U8(typ)
	encodeOpt(e, uuid)
	e.Present(handle != nil)
	return d.invoke(ctx, OpServiceAdd, e, func(dec *native.Decoder) {
		decodeHandle(dec, handle)
	})
}

func (d *Driver) CharacteristicAdd(ctx context.Context, serviceHandle uint16, md *native.CharMD, attr *native.Attr, handles *native.CharHandles) native.Status {
	e := native.NewEncoder(64)
	e.U16(serviceHandle)
	encodeOpt(e, md)
	encodeOpt(e, attr)
	e.Present(handles != nil)
	return d.invoke(ctx, OpCharacteristicAdd, e, func(dec *native.Decoder) {
		if out := decodeOpt[native.CharHandles](dec); out != nil && handles != nil {
			*handles = *out
		}
	})
}

func (d *Driver) DescriptorAdd(ctx context.Context, charHandle uint16, attr *native.Attr, handle *uint16) native.Status {
	e := native.NewEncoder(32)
	e.U16(charHandle)
	encodeOpt(e, attr)
	e.Present(handle != nil)
	return d.invoke(ctx, OpDescriptorAdd, e, func(dec *native.Decoder) {
		decodeHandle(dec, handle)
	})
}

func (d *Driver) ValueSet(ctx context.Context, connHandle, handle uint16, value *native.Value) native.Status {
	e := native.NewEncoder(16)
	e.U16(connHandle)
	e.U16(handle)
	encodeOpt(e, value)
	return d.invoke(ctx, OpValueSet, e, func(dec *native.Decoder) {
		if dec.Present() {
			n := dec.U16()
			if value != nil {
				value.Len = n
			}
		}
	})
}

func (d *Driver) ValueGet(ctx context.Context, connHandle, handle uint16, value *native.Value) native.Status {
	e := native.NewEncoder(16)
	e.U16(connHandle)
	e.U16(handle)
	e.Present(value != nil)
	if value != nil {
		e.U16(uint16(min(len(value.Data), 0xFFFF)))
		e.U16(value.Offset)
		e.Present(value.Data != nil)
	}
	return d.invoke(ctx, OpValueGet, e, func(dec *native.Decoder) {
		out := decodeValueOut(dec)
		if out == nil || value == nil {
			return
		}
		value.Len = out.Len
		if value.Data != nil {
			copy(value.Data, out.Data)
		}
	})
}

func (d *Driver) HVX(ctx context.Context, connHandle uint16, params *native.HVXParams) native.Status {
	e := native.NewEncoder(32)
	e.U16(connHandle)
	encodeOpt(e, params)
	return d.invoke(ctx, OpHVX, e, func(dec *native.Decoder) {
		if dec.Present() {
			n := dec.U16()
			if params != nil && params.Len != nil {
				*params.Len = n
			}
		}
	})
}

func (d *Driver) SysAttrSet(ctx context.Context, connHandle uint16, attr *native.SysAttr) native.Status {
	e := native.NewEncoder(16)
	e.U16(connHandle)
	encodeOpt(e, attr)
	return d.invoke(ctx, OpSysAttrSet, e, nil)
}

func (d *Driver) RWAuthorizeReply(ctx context.Context, connHandle uint16, params *native.RWAuthorizeReplyParams) native.Status {
	e := native.NewEncoder(16)
	e.U16(connHandle)
	encodeOpt(e, params)
	return d.invoke(ctx, OpRWAuthorizeReply, e, nil)
}

func decodeHandle(dec *native.Decoder, handle *uint16) {
	if !dec.Present() {
		return
	}
	h := dec.U16()
	if handle != nil {
		*handle = h
	}
}

var _ native.Driver = (*Driver)(nil)
