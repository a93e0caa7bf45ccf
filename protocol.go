package ocean

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/stn81/ocean/packet"
)

var ErrFrameTooLarge = errors.New("frame too large")

// Protocol turns a byte stream into packets and back.
type Protocol interface {
	// Decode returns the next packet, or (nil, nil) when no complete frame has
	// been read yet. A complete frame that cannot be decoded is reported as a
	// *FrameError.
	Decode(*Connection, io.Reader) (packet.Packet, error)
	Encode(*Connection, packet.Packet) ([]byte, error)
}

// FrameError reports a frame that was read completely but could not be
// decoded. The stream is still in sync after it.
type FrameError struct {
	Frame []byte
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("bad frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

const (
	keyLineReader = "ocean.line_reader"
	keyLineBuffer = "ocean.line_buffer"
)

// LineProtocol carries one envelope per newline-terminated line.
type LineProtocol struct {
	codec        *packet.Codec
	maxFrameSize int
}

func NewLineProtocol(codec *packet.Codec, maxFrameSize int) *LineProtocol {
	if codec == nil {
		codec = packet.NewCodec(nil)
	}
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &LineProtocol{codec: codec, maxFrameSize: maxFrameSize}
}

func (p *LineProtocol) Codec() *packet.Codec {
	return p.codec
}

func (p *LineProtocol) Decode(c *Connection, reader io.Reader) (packet.Packet, error) {
	var (
		r  *bufio.Reader
		b  *bytes.Buffer
		ok bool
	)

	if r, ok = c.GetAttr(keyLineReader).(*bufio.Reader); !ok {
		r = bufio.NewReader(reader)
		c.SetAttr(keyLineReader, r)
	}

	if b, ok = c.GetAttr(keyLineBuffer).(*bytes.Buffer); !ok {
		b = &bytes.Buffer{}
		c.SetAttr(keyLineBuffer, b)
	}

	for {
		chunk, err := r.ReadSlice('\n')
		b.Write(chunk)

		if b.Len() > p.maxFrameSize {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, p.maxFrameSize)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			// partial data stays buffered until the rest arrives
			return nil, err
		}
		break
	}

	line := bytes.TrimRight(b.Bytes(), "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		b.Reset()
		return nil, nil
	}

	frame := make([]byte, len(line))
	copy(frame, line)
	b.Reset()

	m, err := p.codec.Decode(frame)
	if err != nil {
		return nil, &FrameError{Frame: frame, Err: err}
	}
	return m, nil
}

func (p *LineProtocol) Encode(_ *Connection, m packet.Packet) ([]byte, error) {
	data, err := p.codec.Encode(m)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
