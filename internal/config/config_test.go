package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
workers: 8
log:
  level: debug
  format: json
stream:
  addr: 127.0.0.1:7878
plugins:
  dir: ./scripts
  watch: true
sessions:
  - name: lobby
    command: /usr/bin/java
    args: ["-jar", "server.jar", "nogui"]
    stop_command: stop
    gated: true
  - name: echo
    command: /bin/echo
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "hostshim.yaml", sampleYAML)

	cfg, err := Load(New(path))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:7878", cfg.Stream.Addr)
	assert.Equal(t, "./scripts", cfg.Plugins.Dir)
	assert.True(t, cfg.Plugins.Watch)

	require.Len(t, cfg.Sessions, 2)
	lobby, ok := cfg.Session("lobby")
	require.True(t, ok)
	assert.Equal(t, []string{"-jar", "server.jar", "nogui"}, lobby.Args)
	assert.True(t, lobby.Gated)
	assert.Equal(t, "stop", lobby.StopCommand)

	_, ok = cfg.Session("missing")
	assert.False(t, ok)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "hostshim.toml", "workers = 2\n[log]\nlevel = \"warn\"\n")

	cfg, err := Load(New(path))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "hostshim.yaml", sampleYAML)
	t.Setenv("HOSTSHIM_LOG_LEVEL", "error")
	t.Setenv("HOSTSHIM_WORKERS", "3")

	cfg, err := Load(New(path))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(New(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestLoad_ZeroWorkersFallsBack(t *testing.T) {
	path := writeFile(t, "hostshim.yaml", "workers: 0\n")

	cfg, err := Load(New(path))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", *Default(), true},
		{"bad format", Config{Log: LogConfig{Format: "xml"}}, false},
		{"unnamed session", Config{Log: LogConfig{Format: "json"}, Sessions: []SessionSpec{{Command: "x"}}}, false},
		{"no command", Config{Log: LogConfig{Format: "json"}, Sessions: []SessionSpec{{Name: "a"}}}, false},
		{"duplicate", Config{Log: LogConfig{Format: "json"}, Sessions: []SessionSpec{
			{Name: "a", Command: "x"},
			{Name: "a", Command: "y"},
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestWatch_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	v := New("")
	_, err := Load(v)
	require.NoError(t, err)

	assert.ErrorIs(t, Watch(v, zerolog.Nop(), nil), ErrNoConfigFile)
}

func TestWatch_Reload(t *testing.T) {
	path := writeFile(t, "hostshim.yaml", "log:\n  level: info\n")
	v := New(path)
	_, err := Load(v)
	require.NoError(t, err)

	var level atomic.Value
	require.NoError(t, Watch(v, zerolog.Nop(), func(cfg *Config) {
		level.Store(cfg.Log.Level)
	}))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	assert.Eventually(t, func() bool {
		got, _ := level.Load().(string)
		return got == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}
