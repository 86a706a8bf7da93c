package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default configuration values
const (
	DefaultAddr        = ":8080"
	DefaultServerURL   = "ws://localhost:8080/ws"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
	DefaultRingTimeout = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultCodec       = "json"
)

const (
	EnvAddr        = "YACALL_ADDR"
	EnvServerURL   = "YACALL_SERVER_URL"
	EnvSTUN        = "YACALL_STUN"
	EnvRingTimeout = "YACALL_RING_TIMEOUT"
	EnvLogLevel    = "LOG_LEVEL"
	EnvCodec       = "YACALL_CODEC"
)

// Config holds application configuration shared by the server and the client.
type Config struct {
	// Addr is the relay server's listen address.
	Addr string

	// ServerURL is the relay websocket endpoint the client dials.
	ServerURL string

	// STUNServers for ICE; empty disables STUN.
	STUNServers []string

	// RingTimeout of zero or less disables the ring timeout.
	RingTimeout time.Duration

	LogLevel zerolog.Level
	Codec    string
}

// Options carries CLI flag values. Zero values mean "not set".
type Options struct {
	Addr        string
	ServerURL   string
	STUN        string
	RingTimeout time.Duration
	LogLevel    string
	Codec       string

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options)
// 2. Environment variables
// 3. Defaults
func Load(opts Options) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	pick := func(flag, env, def string) string {
		if flag != "" {
			return flag
		}
		if v := getenv(env); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Addr:      pick(opts.Addr, EnvAddr, DefaultAddr),
		ServerURL: pick(opts.ServerURL, EnvServerURL, DefaultServerURL),
		Codec:     strings.ToLower(pick(opts.Codec, EnvCodec, DefaultCodec)),
	}

	if stun := pick(opts.STUN, EnvSTUN, DefaultSTUN); stun != "none" {
		for _, s := range strings.Split(stun, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.STUNServers = append(cfg.STUNServers, s)
			}
		}
	}

	cfg.RingTimeout = opts.RingTimeout
	if cfg.RingTimeout == 0 {
		cfg.RingTimeout = DefaultRingTimeout
		if v := getenv(EnvRingTimeout); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", EnvRingTimeout, err)
			}
			cfg.RingTimeout = d
		}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(pick(opts.LogLevel, EnvLogLevel, DefaultLogLevel)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg.LogLevel = level

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("invalid codec %q: want json or msgpack", c.Codec)
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server URL %q: missing host", c.ServerURL)
	}

	for _, s := range c.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("invalid ICE server %q", s)
		}
	}
	return nil
}
