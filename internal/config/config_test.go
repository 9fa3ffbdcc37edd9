package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("VOICECHAT_SERVER_URL", "")
	t.Setenv("VOICECHAT_MAX_RECONNECTS", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, time.Second, cfg.Audio.ChunkInterval)
	assert.True(t, cfg.Audio.EchoCancellation)
	assert.True(t, cfg.Audio.NoiseSuppression)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VOICECHAT_SERVER_URL", "https://assistant.example.com")
	t.Setenv("VOICECHAT_MAX_RECONNECTS", "3")
	t.Setenv("VOICECHAT_AUDIO_SAMPLE_RATE", "48000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://assistant.example.com", cfg.ServerURL)
	assert.Equal(t, 3, cfg.MaxReconnects)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	body := "server_url: http://10.0.0.5:9000\nreconnect_delay: 500ms\naudio:\n  container: ogg\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9000", cfg.ServerURL)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, "ogg", cfg.Audio.Container)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_NegativeCases(t *testing.T) {
	base := Config{
		ServerURL:      "http://localhost:8000",
		ReconnectDelay: time.Second,
		MaxReconnects:  5,
		Audio:          AudioConfig{SampleRate: 16000, ChunkInterval: time.Second},
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.ServerURL = "ftp://host"
	assert.Error(t, bad.Validate())

	bad = base
	bad.ServerURL = "not a url"
	assert.Error(t, bad.Validate())

	bad = base
	bad.MaxReconnects = -1
	assert.Error(t, bad.Validate())

	bad = base
	bad.ReconnectDelay = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Audio.ChunkInterval = 0
	assert.Error(t, bad.Validate())
}
