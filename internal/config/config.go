package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("config: invalid connection config")

const (
	WorkPoolBlocking = "blocking"
	WorkPoolPolling  = "polling"

	// MinFrameMax is the smallest frame size a peer must accept.
	MinFrameMax uint32 = 4096
)

// Config holds connection and engine tuning. Zero fields are filled by
// WithDefaults except Heartbeat: zero defers to the broker's proposal and a
// negative value disables heartbeats.
type Config struct {
	FrameMax            uint32
	ChannelMax          uint16
	Heartbeat           time.Duration
	HandshakeTimeout    time.Duration
	ContinuationTimeout time.Duration
	CloseTimeout        time.Duration

	Username       string
	Password       string
	VHost          string
	Locale         string
	ConnectionName string

	WorkPool     string
	PollInterval time.Duration
}

// DefaultConfig returns the defaults used when no file is loaded.
func DefaultConfig() Config {
	return Config{
		FrameMax:            131072,
		ChannelMax:          2047,
		Heartbeat:           60 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		ContinuationTimeout: 20 * time.Second,
		CloseTimeout:        10 * time.Second,
		Username:            "guest",
		Password:            "guest",
		VHost:               "/",
		Locale:              "en_US",
		WorkPool:            WorkPoolBlocking,
		PollInterval:        10 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.FrameMax == 0 {
		c.FrameMax = def.FrameMax
	}
	if c.ChannelMax == 0 {
		c.ChannelMax = def.ChannelMax
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ContinuationTimeout <= 0 {
		c.ContinuationTimeout = def.ContinuationTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if strings.TrimSpace(c.Username) == "" {
		c.Username = def.Username
		if c.Password == "" {
			c.Password = def.Password
		}
	}
	if strings.TrimSpace(c.VHost) == "" {
		c.VHost = def.VHost
	}
	if strings.TrimSpace(c.Locale) == "" {
		c.Locale = def.Locale
	}
	if strings.TrimSpace(c.WorkPool) == "" {
		c.WorkPool = def.WorkPool
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}

func (c Config) Validate() error {
	if c.FrameMax != 0 && c.FrameMax < MinFrameMax {
		return fmt.Errorf("%w: frame_max %d below %d", ErrInvalidConfig, c.FrameMax, MinFrameMax)
	}
	if c.HandshakeTimeout < 0 || c.ContinuationTimeout < 0 || c.CloseTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	switch strings.ToLower(strings.TrimSpace(c.WorkPool)) {
	case "", WorkPoolBlocking, WorkPoolPolling:
	default:
		return fmt.Errorf("%w: work_pool %q", ErrInvalidConfig, c.WorkPool)
	}
	if strings.ContainsRune(c.Username, 0) || strings.ContainsRune(c.Password, 0) {
		return fmt.Errorf("%w: credentials may not contain NUL", ErrInvalidConfig)
	}
	return nil
}
