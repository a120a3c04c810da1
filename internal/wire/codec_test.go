package wire

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"lamportring/internal/clock"
)

func TestReader_DecodesCoalescedFrames(t *testing.T) {
	// Three messages written back to back must come out as three messages,
	// not one merged payload.
	var stream []byte
	var err error
	for _, m := range []Message{DataMessage(5), DataMessage(clock.MaxWitness), ShutdownMessage()} {
		stream, err = AppendFrame(stream, m)
		require.NoError(t, err)
	}

	r := NewReader(bytes.NewReader(stream))

	got, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, DataMessage(5), got)

	got, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, DataMessage(clock.MaxWitness), got)

	got, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, Shutdown, got.Kind)

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

// oneByteReader returns at most one byte per Read, simulating a fragmented
// stream.
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReader_DecodesFragmentedFrames(t *testing.T) {
	stream, err := AppendFrame(nil, DataMessage(123456789))
	require.NoError(t, err)

	r := NewReader(oneByteReader{bytes.NewReader(stream)})
	got, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), got.Value)
}

func TestReader_TruncatedFrame(t *testing.T) {
	stream, err := AppendFrame(nil, DataMessage(300))
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(stream[:len(stream)-1]))
	_, err = r.Read()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_RejectsBadLength(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "zero length", input: []byte{0x00}},
		{name: "oversized", input: protowire.AppendVarint(nil, MaxFrameSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.input)).Read()
			assert.True(t, errors.Is(err, ErrDecode), "got %v", err)
		})
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	both := protowire.AppendTag(nil, valueField, protowire.VarintType)
	both = protowire.AppendVarint(both, 2)
	both = protowire.AppendTag(both, shutdownField, protowire.VarintType)
	both = protowire.AppendVarint(both, 1)

	unknown := protowire.AppendTag(nil, 9, protowire.VarintType)
	unknown = protowire.AppendVarint(unknown, 1)

	wrongType := protowire.AppendTag(nil, valueField, protowire.BytesType)
	wrongType = protowire.AppendBytes(wrongType, []byte("5"))

	falseShutdown := protowire.AppendTag(nil, shutdownField, protowire.VarintType)
	falseShutdown = protowire.AppendVarint(falseShutdown, 0)

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "both fields", input: both},
		{name: "unknown field", input: unknown},
		{name: "wrong wire type", input: wrongType},
		{name: "shutdown false", input: falseShutdown},
		{name: "truncated varint", input: []byte{0x08, 0x80}},
		{name: "ascii payload", input: []byte("shutdown")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.input)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestMarshal_RejectsOutOfRangeValue(t *testing.T) {
	for _, v := range []int64{-7, math.MaxInt64} {
		_, err := Marshal(DataMessage(v))
		assert.Error(t, err, "value %d", v)
	}
}

func TestUnmarshal_RejectsOutOfRangeValue(t *testing.T) {
	tests := []struct {
		name  string
		value int64
	}{
		{"max int64 would overflow the clock", math.MaxInt64},
		{"negative", -7},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := protowire.AppendTag(nil, valueField, protowire.VarintType)
			body = protowire.AppendVarint(body, protowire.EncodeZigZag(tt.value))

			_, err := Unmarshal(body)
			assert.ErrorIs(t, err, ErrDecode)

			frame := protowire.AppendBytes(nil, body)
			_, err = NewReader(bytes.NewReader(frame)).Read()
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestMarshal_UnknownKind(t *testing.T) {
	_, err := Marshal(Message{})
	assert.Error(t, err)
}
