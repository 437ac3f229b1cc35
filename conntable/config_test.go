package conntable

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/internal/concurrency"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.ReaderThreads)
	assert.Equal(t, 3, cfg.WriterThreads)
	assert.Equal(t, 5, cfg.ProcessorThreads)
	assert.Equal(t, 100, cfg.ProcessorQueueSize)
	assert.Equal(t, concurrency.PolicyBlock, cfg.policy())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conntable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_addr: 127.0.0.1
start_port: 7800
end_port: 7810
reader_threads: 4
processor_threads: 0
saturation_policy: reject
shutdown_timeout: 750ms
reaper_interval: 30s
conn_expire_time: 5m
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7800, cfg.StartPort)
	assert.Equal(t, 7810, cfg.EndPort)
	assert.Equal(t, 4, cfg.ReaderThreads)
	assert.Equal(t, 3, cfg.WriterThreads, "unset keys keep defaults")
	assert.Zero(t, cfg.ProcessorThreads)
	assert.Equal(t, concurrency.PolicyReject, cfg.policy())
	assert.Equal(t, 750*time.Millisecond, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ConnExpireTime)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reader_threads: 0\n"), 0o600))
	_, err := LoadConfig(path)
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad bind":       func(c *Config) { c.BindAddr = "not-an-ip" },
		"bad external":   func(c *Config) { c.ExternalAddr = "nope" },
		"inverted range": func(c *Config) { c.StartPort, c.EndPort = 9000, 8000 },
		"port overflow":  func(c *Config) { c.StartPort = 70000 },
		"no writers":     func(c *Config) { c.WriterThreads = 0 },
		"policy":         func(c *Config) { c.SaturationPolicy = "drop" },
		"negative queue": func(c *Config) { c.ProcessorQueueSize = -1 },
		"negative dur":   func(c *Config) { c.ShutdownTimeout = -time.Second },
		"no handshake":   func(c *Config) { c.HandshakeTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), api.ErrInvalidArgument)
		})
	}
}

func TestAdvertisedAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BindAddr = "0.0.0.0"
	ip, err := cfg.advertisedIP()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip.String())

	cfg.ExternalAddr = "192.0.2.10"
	ip, err = cfg.advertisedIP()
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", ip.String())
}
