// Package config loads application configuration from environment variables.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name read by Load.
const EnvPrefix = "MYTOTP_"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	Ephemeral    bool
	TickInterval time.Duration
	LocalClock   bool
	LogLevel     slog.Level

	LinkToken     string
	PublicURL     string
	MaxFrameBytes int64
	InboundRate   float64
	InboundBurst  int

	// SecretKey encrypts persisted secrets; nil when unset.
	SecretKey []byte

	// TokenGenerated is set when no link token was configured and Load
	// generated one.
	TokenGenerated bool
}

// environment mirrors the variables Load reads, before validation.
type environment struct {
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	DBPath        string        `env:"DB_PATH" envDefault:"mytotp.db"`
	Ephemeral     bool          `env:"EPHEMERAL"`
	TickInterval  time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	LocalClock    bool          `env:"LOCAL_CLOCK"`
	LogLevel      slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LinkToken     string        `env:"LINK_TOKEN"`
	PublicURL     string        `env:"PUBLIC_URL"`
	MaxFrameBytes int64         `env:"MAX_FRAME_BYTES" envDefault:"4096"`
	InboundRate   float64       `env:"INBOUND_RATE" envDefault:"20"`
	InboundBurst  int           `env:"INBOUND_BURST" envDefault:"10"`
	SecretKey     string        `env:"SECRET_KEY"`
}

// HasSecretKey reports whether persisted secrets should be encrypted.
func (c *Config) HasSecretKey() bool {
	return len(c.SecretKey) > 0
}

// PairingURL returns the websocket URL a controller dials, token included.
// PublicURL overrides the scheme and host derived from ListenAddr.
func (c *Config) PairingURL() string {
	base := c.PublicURL
	if base == "" {
		base = "ws://" + c.ListenAddr
	}
	return strings.TrimRight(base, "/") + "/link?token=" + url.QueryEscape(c.LinkToken)
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is loaded first when present;
// variables already set in the environment take precedence over it.
//
// Variables, all prefixed MYTOTP_: LISTEN_ADDR (127.0.0.1:8080), DB_PATH
// (mytotp.db), EPHEMERAL (false), TICK_INTERVAL (1s), LOCAL_CLOCK (false),
// LOG_LEVEL (info), LINK_TOKEN (generated), PUBLIC_URL, MAX_FRAME_BYTES
// (4096), INBOUND_RATE (20), INBOUND_BURST (10), SECRET_KEY (base64 of 32
// bytes, optional).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var e environment
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg := Config{
		ListenAddr:    e.ListenAddr,
		DBPath:        e.DBPath,
		Ephemeral:     e.Ephemeral,
		TickInterval:  e.TickInterval,
		LocalClock:    e.LocalClock,
		LogLevel:      e.LogLevel,
		LinkToken:     e.LinkToken,
		PublicURL:     e.PublicURL,
		MaxFrameBytes: e.MaxFrameBytes,
		InboundRate:   e.InboundRate,
		InboundBurst:  e.InboundBurst,
	}

	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("%sTICK_INTERVAL must be positive, got %s", EnvPrefix, cfg.TickInterval)
	}
	if cfg.MaxFrameBytes <= 0 {
		return nil, fmt.Errorf("%sMAX_FRAME_BYTES must be positive, got %d", EnvPrefix, cfg.MaxFrameBytes)
	}
	if cfg.InboundRate <= 0 || cfg.InboundBurst < 1 {
		return nil, fmt.Errorf("%sINBOUND_RATE and %sINBOUND_BURST must be positive", EnvPrefix, EnvPrefix)
	}

	if e.SecretKey != "" {
		key, err := base64.StdEncoding.DecodeString(e.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("%sSECRET_KEY is not valid base64: %w", EnvPrefix, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("%sSECRET_KEY must decode to 32 bytes, got %d", EnvPrefix, len(key))
		}
		cfg.SecretKey = key
	}

	if cfg.LinkToken == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate link token: %w", err)
		}
		cfg.LinkToken = token
		cfg.TokenGenerated = true
	}

	return &cfg, nil
}

func generateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
