package serialization

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"
	"sync"
	"time"

	"github.com/joaojeronimo/go-crc16"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A frame is the packet length (u16, big endian, counting the CRC), the
// packet and its CRC-16 (big endian), base64 encoded and cut into lines of
// at most maxLineData characters. The first line starts with frameStart,
// the rest with frameCont, each ends with '\n'.
var (
	frameStart = []byte{6, 9}
	frameCont  = []byte{4, 20}
)

// maxLineData keeps a line within 128 bytes with its marker and newline. It
// is a multiple of 4 so every line decodes on its own.
const maxLineData = 124

var (
	ErrCRC           = errors.New("frame CRC mismatch")
	ErrFrameTooLarge = errors.New("frame too large")
)

// EncodeFrame returns the wire lines of one packet.
func EncodeFrame(packet []byte) ([][]byte, error) {
	if len(packet)+2 > math.MaxUint16 {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(packet))
	}
	raw := make([]byte, 2, len(packet)+4)
	binary.BigEndian.PutUint16(raw, uint16(len(packet)+2))
	raw = append(raw, packet...)
	raw = binary.BigEndian.AppendUint16(raw, crc16.Crc16(packet))

	enc := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(enc, raw)

	lines := make([][]byte, 0, len(enc)/maxLineData+1)
	for off := 0; off < len(enc); off += maxLineData {
		end := min(off+maxLineData, len(enc))
		marker := frameCont
		if off == 0 {
			marker = frameStart
		}
		line := make([]byte, 0, len(marker)+end-off+1)
		line = append(line, marker...)
		line = append(line, enc[off:end]...)
		line = append(line, '\n')
		lines = append(lines, line)
	}
	return lines, nil
}

// FrameWriter writes whole frames; concurrent writers never interleave.
type FrameWriter struct {
	mu     sync.Mutex
	w      io.Writer
	delay  time.Duration
	logger *logrus.Logger
}

// NewFrameWriter wraps w. A non-zero lineDelay pauses between the lines of
// a frame for receivers with small input buffers.
func NewFrameWriter(w io.Writer, lineDelay time.Duration, logger *logrus.Logger) *FrameWriter {
	return &FrameWriter{w: w, delay: lineDelay, logger: logger}
}

func (fw *FrameWriter) WriteFrame(packet []byte) error {
	lines, err := EncodeFrame(packet)
	if err != nil {
		return err
	}
	if fw.logger.IsLevelEnabled(logrus.TraceLevel) {
		fw.logger.Tracef("Tx frame\n%s", hex.Dump(packet))
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	for i, line := range lines {
		if i > 0 && fw.delay > 0 {
			time.Sleep(fw.delay)
		}
		if _, err := fw.w.Write(line); err != nil {
			return errors.Wrap(err, "failed to write frame")
		}
	}
	return nil
}

// FrameReader reassembles frames from a line stream. Lines without a frame
// marker are skipped. It is not safe for concurrent use.
type FrameReader struct {
	scanner  *bufio.Scanner
	pkt      *bytes.Buffer
	expected int
	logger   *logrus.Logger
}

func NewFrameReader(r io.Reader, logger *logrus.Logger) *FrameReader {
	return &FrameReader{scanner: bufio.NewScanner(r), logger: logger}
}

// ReadFrame blocks until a complete packet arrives. A malformed frame is
// reported once and discarded; the next call resumes with the next frame.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for fr.scanner.Scan() {
		line := bytes.TrimLeft(fr.scanner.Bytes(), "\r")
		if len(line) < 2 {
			continue
		}
		start := bytes.HasPrefix(line, frameStart)
		if !start && !bytes.HasPrefix(line, frameCont) {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(string(line[2:]))
		if err != nil {
			fr.pkt = nil
			return nil, errors.Wrapf(err, "failed to decode frame line\n%s", hex.Dump(line))
		}

		if start {
			if len(data) < 2 {
				fr.pkt = nil
				continue
			}
			fr.expected = int(binary.BigEndian.Uint16(data))
			fr.pkt = bytes.NewBuffer(make([]byte, 0, fr.expected))
			data = data[2:]
		}
		if fr.pkt == nil {
			continue
		}

		fr.pkt.Write(data)
		if fr.pkt.Len() < fr.expected {
			continue
		}

		raw := fr.pkt.Bytes()[:fr.expected]
		fr.pkt = nil
		if len(raw) < 2 || crc16.Crc16(raw) != 0 {
			return nil, ErrCRC
		}
		packet := raw[:len(raw)-2]
		if fr.logger.IsLevelEnabled(logrus.TraceLevel) {
			fr.logger.Tracef("Rx frame\n%s", hex.Dump(packet))
		}
		return packet, nil
	}
	if err := fr.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read frame")
	}
	return nil, io.EOF
}

// IsFrameError reports whether err concerns a single bad frame rather than
// the underlying stream.
func IsFrameError(err error) bool {
	if errors.Is(err, ErrCRC) {
		return true
	}
	var b64 base64.CorruptInputError
	return errors.As(err, &b64)
}
