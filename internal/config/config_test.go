package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, 30*time.Minute, cfg.Ollama.KeepAlive)
	assert.True(t, cfg.Completion.FollowUpToolCalls)
	assert.False(t, cfg.Completion.ExperimentalFeatures)
	assert.NotEmpty(t, cfg.App.DataDir)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Completion.ExperimentalFeatures = true
	cfg.Completion.DefaultProvider = "llamacpp"
	cfg.Completion.DefaultModel = "qwen3"
	cfg.Logging.Level = "debug"
	require.NoError(t, cfg.Save())

	loaded, err := Load()
	require.NoError(t, err)
	assert.True(t, loaded.Completion.ExperimentalFeatures)
	assert.Equal(t, "llamacpp", loaded.Completion.DefaultProvider)
	assert.Equal(t, "qwen3", loaded.Completion.DefaultModel)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("JANCORE_DATA_DIR", "/tmp/jancore-test")
	t.Setenv("OLLAMA_HOST", "http://remote:11434")
	t.Setenv("JANCORE_EXPERIMENTAL", "true")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "/tmp/jancore-test", cfg.App.DataDir)
	assert.Equal(t, "http://remote:11434", cfg.Ollama.BaseURL)
	assert.True(t, cfg.Completion.ExperimentalFeatures)
	assert.Equal(t, "/tmp/jancore-test/providers.yaml", cfg.ProvidersPath())
	assert.Equal(t, "/tmp/jancore-test/threads.db", cfg.ThreadsPath())
}
