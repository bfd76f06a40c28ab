package serialization

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/pkg/native"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Logger    *logrus.Logger // Logger instance (nil = discard)
	LineDelay time.Duration  // Pause between the lines of a frame
}

// Server plays the firmware side of the link: it executes commands read
// from rw on a local driver and writes back responses and driver events.
type Server struct {
	drv    native.Driver
	rw     io.ReadWriter
	writer *FrameWriter
	logger *logrus.Logger

	served atomic.Int64
	events atomic.Int64
}

// NewServer wraps drv. If drv raises events, the server becomes its sink.
func NewServer(drv native.Driver, rw io.ReadWriter, opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	s := &Server{
		drv:    drv,
		rw:     rw,
		writer: NewFrameWriter(rw, opts.LineDelay, logger),
		logger: logger,
	}
	if src, ok := drv.(interface{ SetEventSink(native.EventSink) }); ok {
		src.SetEventSink(s)
	}
	return s
}

// OnEvent forwards a driver event to the host.
func (s *Server) OnEvent(evt *native.Event) {
	pkt, err := EncodeEvent(evt)
	if err != nil {
		s.logger.WithError(err).Warn("Dropped event")
		return
	}
	if err := s.writer.WriteFrame(pkt); err != nil {
		s.logger.WithError(err).WithField("id", evt.ID).Warn("Failed to send event")
		return
	}
	s.events.Add(1)
}

// Serve handles commands until rw reaches EOF or fails. Closing rw is the
// way to stop a blocked Serve.
func (s *Server) Serve(ctx context.Context) error {
	frames := NewFrameReader(s.rw, s.logger)
	for {
		b, err := frames.ReadFrame()
		if err != nil {
			if IsFrameError(err) {
				s.logger.WithError(err).Warn("Dropped malformed frame")
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		p, err := DecodePacket(b)
		if err != nil {
			s.logger.WithError(err).Warn("Dropped undecodable packet")
			continue
		}
		if p.Type != PacketCommand {
			s.logger.WithField("type", p.Type).Warn("Dropped unexpected packet")
			continue
		}

		status, out := s.execute(ctx, p.Opcode, p.Body)
		s.logger.WithFields(logrus.Fields{
			"opcode": p.Opcode,
			"status": status,
		}).Debug("Command served")
		if err := s.writer.WriteFrame(EncodeResponse(p.Opcode, status, out)); err != nil {
			return err
		}
		s.served.Add(1)
	}
}

// Stats returns the number of commands served and events forwarded.
func (s *Server) Stats() (served, events int64) {
	return s.served.Load(), s.events.Load()
}

func (s *Server) execute(ctx context.Context, op Opcode, body []byte) (native.Status, []byte) {
	dec := native.NewDecoder(body)
	out := native.NewEncoder(16)
	var run func() native.Status

	switch op {
	case OpEnable:
		params := decodeOpt[native.EnableParams](dec)
		run = func() native.Status { return s.drv.Enable(ctx, params) }

	case OpServiceAdd:
		typ := dec.U8()
		uuid := decodeOpt[native.UUID](dec)
		var handle uint16
		handleOut := outPtr(dec, &handle)
		run = func() native.Status {
			st := s.drv.ServiceAdd(ctx, typ, uuid, handleOut)
			encodeHandle(out, handleOut)
			return st
		}

	case OpCharacteristicAdd:
		svc := dec.U16()
		md := decodeOpt[native.CharMD](dec)
		attr := decodeOpt[native.Attr](dec)
		var handles native.CharHandles
		handlesOut := outPtr(dec, &handles)
		run = func() native.Status {
			st := s.drv.CharacteristicAdd(ctx, svc, md, attr, handlesOut)
			encodeOpt(out, handlesOut)
			return st
		}

	case OpDescriptorAdd:
		char := dec.U16()
		attr := decodeOpt[native.Attr](dec)
		var handle uint16
		handleOut := outPtr(dec, &handle)
		run = func() native.Status {
			st := s.drv.DescriptorAdd(ctx, char, attr, handleOut)
			encodeHandle(out, handleOut)
			return st
		}

	case OpValueSet:
		conn, handle := dec.U16(), dec.U16()
		value := decodeOpt[native.Value](dec)
		run = func() native.Status {
			st := s.drv.ValueSet(ctx, conn, handle, value)
			out.Present(value != nil)
			if value != nil {
				out.U16(value.Len)
			}
			return st
		}

	case OpValueGet:
		conn, handle := dec.U16(), dec.U16()
		var value *native.Value
		if dec.Present() {
			value = &native.Value{Len: dec.U16(), Offset: dec.U16()}
			if dec.Present() {
				value.Data = make([]byte, value.Len)
			}
		}
		run = func() native.Status {
			st := s.drv.ValueGet(ctx, conn, handle, value)
			encodeValueOut(out, value)
			return st
		}

	case OpHVX:
		conn := dec.U16()
		params := decodeOpt[native.HVXParams](dec)
		run = func() native.Status {
			st := s.drv.HVX(ctx, conn, params)
			out.Present(params != nil && params.Len != nil)
			if params != nil && params.Len != nil {
				out.U16(*params.Len)
			}
			return st
		}

	case OpSysAttrSet:
		conn := dec.U16()
		attr := decodeOpt[native.SysAttr](dec)
		run = func() native.Status { return s.drv.SysAttrSet(ctx, conn, attr) }

	case OpRWAuthorizeReply:
		conn := dec.U16()
		params := decodeOpt[native.RWAuthorizeReplyParams](dec)
		run = func() native.Status { return s.drv.RWAuthorizeReply(ctx, conn, params) }

	default:
		s.logger.WithField("opcode", op).Warn("Unsupported command")
		return native.ErrNotSupported, nil
	}

	if err := dec.Finish(); err != nil {
		s.logger.WithError(err).WithField("opcode", op).Warn("Malformed command parameters")
		return native.ErrInvalidData, nil
	}
	status := run()
	if status != native.Success {
		return status, nil
	}
	if err := out.Err(); err != nil {
		s.logger.WithError(err).WithField("opcode", op).Error("Failed to encode response")
		return native.ErrInternal, nil
	}
	return status, out.Bytes()
}

// outPtr reads an output pointer's presence marker.
func outPtr[T any](dec *native.Decoder, v *T) *T {
	if dec.Present() {
		return v
	}
	return nil
}

func encodeHandle(e *native.Encoder, handle *uint16) {
	e.Present(handle != nil)
	if handle != nil {
		e.U16(*handle)
	}
}
