package fcast

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpcodeRoundTrip(t *testing.T) {
	for b := 0; b <= 19; b++ {
		op, err := ParseOpcode(byte(b))
		require.NoError(t, err)
		require.Equal(t, byte(b), op.Byte())
		require.NotContains(t, op.String(), "Opcode(")
	}
}

func TestOpcodeUnknown(t *testing.T) {
	for _, b := range []byte{20, 255} {
		_, err := ParseOpcode(b)
		require.ErrorIs(t, err, ErrUnknownOpcode)

		var unknown *UnknownOpcodeError
		require.True(t, errors.As(err, &unknown))
		require.Equal(t, b, unknown.Opcode)
	}
}

func TestOpcodeString(t *testing.T) {
	require.Equal(t, "PlaybackUpdate", OpPlaybackUpdate.String())
	require.Equal(t, "Event", OpEvent.String())
	require.Equal(t, "Opcode(42)", Opcode(42).String())
}
