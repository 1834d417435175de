package config

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every MYTOTP_ env var that Load() reads.
var allConfigKeys = []string{
	"MYTOTP_LISTEN_ADDR",
	"MYTOTP_DB_PATH",
	"MYTOTP_EPHEMERAL",
	"MYTOTP_TICK_INTERVAL",
	"MYTOTP_LOCAL_CLOCK",
	"MYTOTP_LOG_LEVEL",
	"MYTOTP_LINK_TOKEN",
	"MYTOTP_PUBLIC_URL",
	"MYTOTP_MAX_FRAME_BYTES",
	"MYTOTP_INBOUND_RATE",
	"MYTOTP_INBOUND_BURST",
	"MYTOTP_SECRET_KEY",
}

// isolateConfigEnv saves and unsets all MYTOTP_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("MYTOTP_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("MYTOTP_DB_PATH", "/tmp/test.db")
	t.Setenv("MYTOTP_EPHEMERAL", "true")
	t.Setenv("MYTOTP_TICK_INTERVAL", "250ms")
	t.Setenv("MYTOTP_LOCAL_CLOCK", "true")
	t.Setenv("MYTOTP_LOG_LEVEL", "debug")
	t.Setenv("MYTOTP_LINK_TOKEN", "s3cret")
	t.Setenv("MYTOTP_PUBLIC_URL", "wss://totp.example.com")
	t.Setenv("MYTOTP_MAX_FRAME_BYTES", "8192")
	t.Setenv("MYTOTP_INBOUND_RATE", "2.5")
	t.Setenv("MYTOTP_INBOUND_BURST", "3")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.True(t, cfg.Ephemeral)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.True(t, cfg.LocalClock)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "s3cret", cfg.LinkToken)
	assert.False(t, cfg.TokenGenerated)
	assert.Equal(t, "wss://totp.example.com", cfg.PublicURL)
	assert.Equal(t, int64(8192), cfg.MaxFrameBytes)
	assert.Equal(t, 2.5, cfg.InboundRate)
	assert.Equal(t, 3, cfg.InboundBurst)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "mytotp.db", cfg.DBPath)
	assert.False(t, cfg.Ephemeral)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.False(t, cfg.LocalClock)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, int64(4096), cfg.MaxFrameBytes)
	assert.Equal(t, 20.0, cfg.InboundRate)
	assert.Equal(t, 10, cfg.InboundBurst)
	assert.False(t, cfg.HasSecretKey())
}

func TestLoad_GeneratesLinkToken(t *testing.T) {
	isolateConfigEnv(t)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)

	assert.True(t, first.TokenGenerated)
	assert.Len(t, first.LinkToken, 32)
	assert.NotEqual(t, first.LinkToken, second.LinkToken)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "MYTOTP_TICK_INTERVAL", "soon"},
		{"zero tick", "MYTOTP_TICK_INTERVAL", "0s"},
		{"bad log level", "MYTOTP_LOG_LEVEL", "loud"},
		{"zero frame limit", "MYTOTP_MAX_FRAME_BYTES", "0"},
		{"negative rate", "MYTOTP_INBOUND_RATE", "-1"},
		{"zero burst", "MYTOTP_INBOUND_BURST", "0"},
		{"bad bool", "MYTOTP_EPHEMERAL", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()

			require.Error(t, err)
		})
	}
}

func TestLoad_SecretKey_Absent(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Nil(t, cfg.SecretKey)
	assert.False(t, cfg.HasSecretKey())
}

func TestLoad_SecretKey_Valid(t *testing.T) {
	isolateConfigEnv(t)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("MYTOTP_SECRET_KEY", base64.StdEncoding.EncodeToString(key))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, key, cfg.SecretKey)
	assert.True(t, cfg.HasSecretKey())
}

func TestLoad_SecretKey_TooShort(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("MYTOTP_SECRET_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16)))

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoad_SecretKey_NotBase64(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("MYTOTP_SECRET_KEY", "not*base64")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolateConfigEnv(t)
	dir := t.TempDir()
	dotenv := "MYTOTP_DB_PATH=/var/lib/mytotp/state.db\nMYTOTP_LISTEN_ADDR=10.0.0.1:80\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o600))
	t.Chdir(dir)
	t.Setenv("MYTOTP_LISTEN_ADDR", "127.0.0.1:9999")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "/var/lib/mytotp/state.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr, "environment wins over .env")
}

func TestPairingURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "derived from listen address",
			cfg:  Config{ListenAddr: "127.0.0.1:8080", LinkToken: "abc"},
			want: "ws://127.0.0.1:8080/link?token=abc",
		},
		{
			name: "public url with trailing slash",
			cfg:  Config{ListenAddr: "0.0.0.0:8080", PublicURL: "wss://totp.example.com/", LinkToken: "a+b"},
			want: "wss://totp.example.com/link?token=a%2Bb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.PairingURL())
			assert.True(t, strings.Contains(tt.cfg.PairingURL(), "/link?token="))
		})
	}
}
