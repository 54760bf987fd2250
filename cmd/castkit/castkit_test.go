package main

import (
	"bytes"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go2tv.app/castkit/devices"
)

func TestProcessflagsTargets(t *testing.T) {
	fcast := devices.DeviceInfo{
		Name:      "Living room",
		Protocol:  devices.FCast,
		Addresses: []netip.Addr{netip.MustParseAddr("192.168.1.20")},
		Port:      46899,
	}

	tt := []struct {
		name string
		args []string
		want devices.DeviceInfo
	}{
		{
			name: "default protocol",
			args: []string{"-a", "192.168.1.20", "-u", "http://host/a.mp4"},
			want: devices.DeviceInfo{
				Protocol:  devices.FCast,
				Addresses: []netip.Addr{netip.MustParseAddr("192.168.1.20")},
				Port:      devices.FCast.DefaultPort(),
			},
		},
		{
			name: "chromecast with port and two addresses",
			args: []string{"-p", "Chromecast", "-a", "10.0.0.2, fe80::1", "-port", "9000", "-u", "http://host/a.mp4"},
			want: devices.DeviceInfo{
				Protocol:  devices.Chromecast,
				Addresses: []netip.Addr{netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("fe80::1")},
				Port:      9000,
			},
		},
		{
			name: "fcast url",
			args: []string{"-r", fcast.FCastURL(), "-u", "http://host/a.mp4"},
			want: fcast,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			res, err := processflags(tc.args, &bytes.Buffer{})
			require.NoError(t, err)
			require.Equal(t, tc.want, res.info)
			require.Equal(t, "http://host/a.mp4", res.mediaURL)
			require.Equal(t, "video/mp4", res.contentType)
		})
	}
}

func TestProcessflagsErrors(t *testing.T) {
	tt := []struct {
		name string
		args []string
		want error
	}{
		{"no flags", nil, errNoflag},
		{"help", []string{"-h"}, errNoflag},
		{"no target", []string{"-u", "http://host/a.mp4"}, ErrNoTarget},
		{"receiver with address", []string{"-r", "fcast://r/x", "-a", "10.0.0.2", "-u", "http://host/a.mp4"}, ErrNoCombi},
		{"bad receiver", []string{"-r", "http://nope", "-u", "http://host/a.mp4"}, devices.ErrInvalidURL},
		{"bad protocol", []string{"-p", "dlna", "-a", "10.0.0.2", "-u", "http://host/a.mp4"}, devices.ErrUnknownProtocol},
		{"no media", []string{"-a", "10.0.0.2"}, ErrOneMedia},
		{"two media", []string{"-a", "10.0.0.2", "-u", "http://host/a.mp4", "-v", "a.mp4"}, ErrOneMedia},
		{"unknown type", []string{"-a", "10.0.0.2", "-u", "http://host/stream"}, ErrNoMediaType},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := processflags(tc.args, &bytes.Buffer{})
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := processflags([]string{"-a", "not-an-ip", "-u", "http://host/a.mp4"}, &bytes.Buffer{})
	require.Error(t, err)
	_, err = processflags([]string{"-a", "10.0.0.2", "-port", "70000", "-u", "http://host/a.mp4"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestProcessflagsLocalFile(t *testing.T) {
	dir := t.TempDir()
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	cover := filepath.Join(dir, "cover.dat")
	require.NoError(t, os.WriteFile(cover, png, 0o644))

	res, err := processflags([]string{"-a", "10.0.0.2", "-v", cover}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, cover, res.mediaFile)
	require.Equal(t, "image/png", res.contentType)

	res, err = processflags([]string{"-a", "10.0.0.2", "-v", cover, "-c", "image/x-custom"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "image/x-custom", res.contentType)

	_, err = processflags([]string{"-a", "10.0.0.2", "-v", filepath.Join(dir, "missing.mp4")}, &bytes.Buffer{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	res, err := processflags([]string{"-version"}, &out)
	require.NoError(t, err)
	require.True(t, res.exit)
	require.Equal(t, "castkit Version: dev\n", out.String())
}

func TestTypeFromExtension(t *testing.T) {
	tt := map[string]string{
		"/live/index.m3u8": "application/vnd.apple.mpegurl",
		"/live/index.MPD":  "application/dash+xml",
		"/a/song.mp3":      "audio/mpeg",
		"/a/clip.mkv":      "video/x-matroska",
		"/a/noext":         "",
		"/a/file.unknown":  "",
	}
	for path, want := range tt {
		require.Equal(t, want, typeFromExtension(path), path)
	}
}
