package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFileConfig renders DefaultConfig in its TOML shape.
func DefaultFileConfig() FileConfig {
	return ToFileConfig(DefaultConfig())
}

func ToFileConfig(cfg Config) FileConfig {
	return FileConfig{
		FrameMax:            cfg.FrameMax,
		ChannelMax:          cfg.ChannelMax,
		HeartbeatSecs:       int64(cfg.Heartbeat.Seconds()),
		HandshakeTimeout:    cfg.HandshakeTimeout.String(),
		ContinuationTimeout: cfg.ContinuationTimeout.String(),
		CloseTimeout:        cfg.CloseTimeout.String(),
		Username:            cfg.Username,
		Password:            cfg.Password,
		VHost:               cfg.VHost,
		Locale:              cfg.Locale,
		ConnectionName:      cfg.ConnectionName,
		WorkPool:            cfg.WorkPool,
		PollInterval:        cfg.PollInterval.String(),
	}
}

func Template() (string, error) {
	data, err := toml.Marshal(DefaultFileConfig())
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
