package airplay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go2tv.app/castkit/plist"
)

func TestDecodeInfo(t *testing.T) {
	body, err := plist.Marshal(map[string]any{
		"deviceID":     "AA:BB:CC:DD:EE:FF",
		"features":     int64(FeatureVideo | FeatureAudio | FeatureAudioFormat2 | FeatureAudioFormat3 | FeatureSupportsVolume),
		"statusFlags":  int64(StatusPINRequired | StatusSupportsRelay),
		"manufacturer": "Apple Inc.",
		"model":        "AppleTV6,2",
		"name":         "Living Room",
		"txtAirPlay":   []byte{1, 2},
		"unrelated":    3.5,
	})
	require.NoError(t, err)

	info, err := DecodeInfo(body)
	require.NoError(t, err)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", info.DeviceID)
	require.Equal(t, "Living Room", info.Name)
	require.Equal(t, "AppleTV6,2", info.Model)
	require.Equal(t, []byte{1, 2}, info.TxtAirPlay)
	require.True(t, info.Features.Has(FeatureVideo|FeatureSupportsVolume))
	require.True(t, info.Features.AirPlay2())
	require.False(t, info.Features.Has(FeatureScreen))
	require.True(t, info.StatusFlags.Has(StatusPINRequired))
	require.False(t, info.StatusFlags.Has(StatusPasswordRequired))
}

func TestParseInfoErrors(t *testing.T) {
	_, err := ParseInfo([]any{})
	require.ErrorIs(t, err, ErrNotDictionary)

	_, err = ParseInfo(map[string]any{"name": int64(1)})
	require.Error(t, err)

	_, err = ParseInfo(map[string]any{"features": "x"})
	require.Error(t, err)

	_, err = ParseInfo(map[string]any{"txtAirPlay": "x"})
	require.Error(t, err)

	_, err = DecodeInfo([]byte("not a plist"))
	require.ErrorIs(t, err, plist.ErrInvalid)

	info, err := ParseInfo(map[string]any{})
	require.NoError(t, err)
	require.Equal(t, Info{}, info)
}
