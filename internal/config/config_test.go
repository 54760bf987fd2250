package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castkit", "settings.yaml")

	conf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), conf)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "interval: 1s")

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, conf, again)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sender:
  displayName: Desk
reconnect:
  interval: 250ms
  maxRetries: -1
airplay:
  feedbackInterval: 5s
log:
  level: debug
`), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Sender.DisplayName = "Desk"
	want.Reconnect.Interval = 250 * time.Millisecond
	want.Reconnect.MaxRetries = -1
	want.AirPlay.FeedbackInterval = 5 * time.Second
	want.Log.Level = "debug"
	require.Equal(t, want, conf)
}

func TestLoadErrors(t *testing.T) {
	tt := []struct {
		name string
		body string
	}{
		{"unknown key", "reconnect:\n  tries: 3\n"},
		{"bad duration", "reconnect:\n  interval: soon\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"not yaml", "reconnect: [\n"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestGetAppConfigUsesUserConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	path, err := AppPath()
	require.NoError(t, err)

	_, err = GetAppConfig()
	require.NoError(t, err)
	require.FileExists(t, path)
}

func TestLogger(t *testing.T) {
	conf := Default()
	l, closer, err := conf.Logger()
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	require.Equal(t, zerolog.Disabled, l.GetLevel())

	conf.Log.File = filepath.Join(t.TempDir(), "castkit.log")
	conf.Log.Level = "warn"
	l, closer, err = conf.Logger()
	require.NoError(t, err)
	l.Info().Msg("dropped")
	l.Warn().Str("Method", "TestLogger").Msg("kept")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(conf.Log.File)
	require.NoError(t, err)
	require.NotContains(t, string(b), "dropped")
	require.Contains(t, string(b), `"Method":"TestLogger"`)

	require.Len(t, conf.DeviceOptions(l), 6)
}
