package provider

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider() *Provider {
	return &Provider{
		Name:    "llamacpp",
		Active:  true,
		BaseURL: "http://127.0.0.1:8080/v1",
		Models: []Model{
			{
				ID:           "qwen3-4b",
				Capabilities: []Capability{CapCompletion, CapTools},
				Settings: []Setting{
					NumberSetting(KeyContextLength, 8192),
					NumberSetting(KeyGPULayers, 32),
				},
			},
		},
		Settings: []Setting{
			BoolSetting(KeyContextShift, false),
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")

	store := NewStore(path)
	store.Put(testProvider())
	require.NoError(t, store.Save())

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())

	p, ok := reloaded.Get("llamacpp")
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:8080/v1", p.BaseURL)

	m, ok := p.Model("qwen3-4b")
	require.True(t, ok)
	assert.True(t, m.HasCapability(CapTools))
	assert.Equal(t, 8192, m.ContextLength())

	shift, ok := p.Setting(KeyContextShift)
	require.True(t, ok)
	assert.Equal(t, KindBool, shift.Kind)
	assert.False(t, shift.Bool)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, store.Load())
	assert.Empty(t, store.List())
}

func TestGetReturnsDetachedCopy(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "providers.yaml"))
	store.Put(testProvider())

	p, ok := store.Get("llamacpp")
	require.True(t, ok)
	m, _ := p.Model("qwen3-4b")
	m.SetSetting(NumberSetting(KeyContextLength, 999999))

	fresh, _ := store.Get("llamacpp")
	fm, _ := fresh.Model("qwen3-4b")
	assert.Equal(t, 8192, fm.ContextLength(), "mutating a copy must not touch the store")
}

func TestUpdateSettingsPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	store := NewStore(path)
	store.Put(testProvider())

	err := store.UpdateSettings("llamacpp", []Setting{BoolSetting(KeyContextShift, true)})
	require.NoError(t, err)

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	p, _ := reloaded.Get("llamacpp")
	shift, ok := p.Setting(KeyContextShift)
	require.True(t, ok)
	assert.True(t, shift.Bool)
}

func TestUpdateSettingsUnknownProvider(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "providers.yaml"))
	err := store.UpdateSettings("nope", []Setting{BoolSetting(KeyContextShift, true)})
	assert.Error(t, err)
}

func TestUpdateModelSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	store := NewStore(path)
	store.Put(testProvider())

	err := store.UpdateModelSettings("llamacpp", "qwen3-4b", []Setting{
		NumberSetting(KeyContextLength, 32768),
	})
	require.NoError(t, err)

	p, _ := store.Get("llamacpp")
	m, _ := p.Model("qwen3-4b")
	assert.Equal(t, 32768, m.ContextLength())
}
