package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the TOML shape of Config. Durations are Go duration strings
// except heartbeat, which is whole seconds as negotiated on the wire.
type FileConfig struct {
	FrameMax            uint32 `toml:"frame_max"`
	ChannelMax          uint16 `toml:"channel_max"`
	HeartbeatSecs       int64  `toml:"heartbeat_secs"`
	HandshakeTimeout    string `toml:"handshake_timeout"`
	ContinuationTimeout string `toml:"continuation_timeout"`
	CloseTimeout        string `toml:"close_timeout"`
	Username            string `toml:"username"`
	Password            string `toml:"password"`
	VHost               string `toml:"vhost"`
	Locale              string `toml:"locale"`
	ConnectionName      string `toml:"connection_name"`
	WorkPool            string `toml:"work_pool"`
	PollInterval        string `toml:"poll_interval"`
}

// LoadFile overlays the keys present in path onto DefaultConfig.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw FileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load connection config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("frame_max") {
		cfg.FrameMax = raw.FrameMax
	}
	if meta.IsDefined("channel_max") {
		cfg.ChannelMax = raw.ChannelMax
	}
	if meta.IsDefined("heartbeat_secs") {
		cfg.Heartbeat = time.Duration(raw.HeartbeatSecs) * time.Second
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"continuation_timeout", raw.ContinuationTimeout, &cfg.ContinuationTimeout},
		{"close_timeout", raw.CloseTimeout, &cfg.CloseTimeout},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	strs := []struct {
		key string
		raw string
		dst *string
	}{
		{"username", raw.Username, &cfg.Username},
		{"password", raw.Password, &cfg.Password},
		{"vhost", raw.VHost, &cfg.VHost},
		{"locale", raw.Locale, &cfg.Locale},
		{"connection_name", raw.ConnectionName, &cfg.ConnectionName},
		{"work_pool", raw.WorkPool, &cfg.WorkPool},
	}
	for _, s := range strs {
		if meta.IsDefined(s.key) {
			*s.dst = strings.TrimSpace(s.raw)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
