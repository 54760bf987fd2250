package fcast

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type bufReader struct {
	r io.Reader
}

func (b *bufReader) ReadExact(p []byte) error {
	_, err := io.ReadFull(b.r, p)
	return err
}

func newReader(b []byte) *bufReader {
	return &bufReader{r: bytes.NewReader(b)}
}

func TestEncodeHeaderOnly(t *testing.T) {
	b, err := Encode(OpPing, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0, 0, 0, byte(OpPing)}, b)
}

func TestEncodeBody(t *testing.T) {
	b, err := Encode(OpSeek, SeekMessage{Time: 1.5})
	require.NoError(t, err)

	body := []byte(`{"time":1.5}`)
	require.Equal(t, uint32(len(body)+1), binary.LittleEndian.Uint32(b[:4]))
	require.Equal(t, byte(OpSeek), b[4])
	require.Equal(t, body, b[HeaderSize:])
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := EncodePacket(OpPlay, make([]byte, MaxBodySize+1))
	require.ErrorIs(t, err, ErrPacketTooLarge)

	_, err = EncodePacket(OpPlay, make([]byte, MaxBodySize))
	require.NoError(t, err)
}

func TestReadPacket(t *testing.T) {
	var stream []byte
	for _, m := range []struct {
		op  Opcode
		msg any
	}{
		{OpSetVolume, SetVolumeMessage{Volume: 0.5}},
		{OpPause, nil},
		{OpVersion, VersionMessage{Version: 3}},
	} {
		b, err := Encode(m.op, m.msg)
		require.NoError(t, err)
		stream = append(stream, b...)
	}

	r := newReader(stream)

	p, err := ReadPacket(r)
	require.NoError(t, err)
	require.Equal(t, OpSetVolume, p.Opcode)
	vol, err := Decode[SetVolumeMessage](p)
	require.NoError(t, err)
	require.Equal(t, 0.5, vol.Volume)

	p, err = ReadPacket(r)
	require.NoError(t, err)
	require.Equal(t, OpPause, p.Opcode)
	require.Empty(t, p.Body)

	p, err = ReadPacket(r)
	require.NoError(t, err)
	v, err := Decode[VersionMessage](p)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v.Version)

	_, err = ReadPacket(r)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadPacketUnknownOpcodeKeepsStreamAligned(t *testing.T) {
	unknown, err := EncodePacket(Opcode(20), []byte(`{}`))
	require.NoError(t, err)
	ping, err := Encode(OpPing, nil)
	require.NoError(t, err)

	r := newReader(append(unknown, ping...))

	_, err = ReadPacket(r)
	require.ErrorIs(t, err, ErrUnknownOpcode)

	p, err := ReadPacket(r)
	require.NoError(t, err)
	require.Equal(t, OpPing, p.Opcode)
}

func TestReadPacketBadSizes(t *testing.T) {
	_, err := ReadPacket(newReader([]byte{0, 0, 0, 0, 1}))
	require.ErrorIs(t, err, ErrEmptyPacket)

	h := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(h, MaxPacketSize+1)
	_, err = ReadPacket(newReader(h))
	require.ErrorIs(t, err, ErrPacketTooLarge)

	// Truncated body.
	_, err = ReadPacket(newReader([]byte{10, 0, 0, 0, byte(OpPlay), '{'}))
	require.Error(t, err)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode[PlayV2](Packet{Opcode: OpPlay, Body: []byte(`{"container":`)})
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, OpPlay, derr.Opcode)

	_, err = Decode[SeekMessage](Packet{Opcode: OpSeek})
	require.ErrorAs(t, err, &derr)
}
