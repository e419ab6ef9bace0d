package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgemq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conn.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	testlog.Start(t)
	cfg := Config{FrameMax: 8192, Username: "app", Password: "secret"}.WithDefaults()
	assert.Equal(t, uint32(8192), cfg.FrameMax)
	assert.Equal(t, uint16(2047), cfg.ChannelMax)
	assert.Equal(t, "app", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "/", cfg.VHost)
	assert.Equal(t, WorkPoolBlocking, cfg.WorkPool)
	assert.Equal(t, 20*time.Second, cfg.ContinuationTimeout)
	assert.Equal(t, time.Duration(0), cfg.Heartbeat)
}

func TestLoadFileOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
frame_max = 65536
heartbeat_secs = 0
continuation_timeout = "3s"
vhost = "  /orders "
work_pool = "polling"
poll_interval = "25ms"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(65536), cfg.FrameMax)
	assert.Equal(t, time.Duration(0), cfg.Heartbeat)
	assert.Equal(t, 3*time.Second, cfg.ContinuationTimeout)
	assert.Equal(t, "/orders", cfg.VHost)
	assert.Equal(t, WorkPoolPolling, cfg.WorkPool)
	assert.Equal(t, 25*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "guest", cfg.Username)
	assert.Equal(t, 10*time.Second, cfg.CloseTimeout)
}

func TestLoadFileRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"small frame":  `frame_max = 512`,
		"bad pool":     `work_pool = "threads"`,
		"bad duration": `close_timeout = "soon"`,
		"unknown key":  `heartbeat = 5`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestWriteTemplateRoundTrips(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "conn.toml")
	require.NoError(t, WriteTemplate(path, false))
	assert.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
