package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"lamportring/internal/clock"
)

const (
	valueField    protowire.Number = 1
	shutdownField protowire.Number = 2

	// MaxFrameSize bounds a frame body. A data body is at most 11 bytes.
	MaxFrameSize = 64
)

// Marshal encodes the body of m without the length prefix.
func Marshal(m Message) ([]byte, error) {
	var b []byte
	switch m.Kind {
	case Data:
		if !clock.Valid(m.Value) {
			return nil, fmt.Errorf("wire: clock value %d out of range", m.Value)
		}
		b = protowire.AppendTag(b, valueField, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Value))
	case Shutdown:
		b = protowire.AppendTag(b, shutdownField, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	default:
		return nil, fmt.Errorf("wire: cannot marshal %s", m.Kind)
	}
	return b, nil
}

// Unmarshal decodes a frame body. Exactly one of the value or shutdown
// fields must be present.
func Unmarshal(b []byte) (Message, error) {
	var (
		msg      Message
		seen     bool
		shutdown bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return Message{}, fmt.Errorf("%w: field %d has wire type %d", ErrDecode, num, typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		if seen {
			return Message{}, fmt.Errorf("%w: more than one field set", ErrDecode)
		}
		seen = true

		switch num {
		case valueField:
			value := protowire.DecodeZigZag(v)
			if !clock.Valid(value) {
				return Message{}, fmt.Errorf("%w: clock value %d out of range", ErrDecode, value)
			}
			msg = DataMessage(value)
		case shutdownField:
			shutdown = protowire.DecodeBool(v)
			if !shutdown {
				return Message{}, fmt.Errorf("%w: shutdown field set to false", ErrDecode)
			}
			msg = ShutdownMessage()
		default:
			return Message{}, fmt.Errorf("%w: unknown field %d", ErrDecode, num)
		}
	}
	if !seen {
		return Message{}, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	return msg, nil
}

// AppendFrame appends the length-prefixed encoding of m to dst.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	return protowire.AppendBytes(dst, body), nil
}

// Reader decodes frames from a byte stream. Frame boundaries are independent
// of how the stream was segmented by the transport.
type Reader struct {
	br  *bufio.Reader
	buf [MaxFrameSize]byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Read blocks until one whole frame is available and decodes it.
// A clean end of stream before any byte of a frame returns io.EOF; a stream
// that ends mid-frame returns io.ErrUnexpectedEOF.
func (r *Reader) Read() (Message, error) {
	size, err := binary.ReadUvarint(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: frame length: %v", ErrDecode, err)
	}
	if size == 0 || size > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: frame length %d out of range", ErrDecode, size)
	}
	body := r.buf[:size]
	if _, err := io.ReadFull(r.br, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	return Unmarshal(body)
}
