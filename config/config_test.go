package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "deskd.toml"))
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, 120, cfg.Bridges.RequestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskd.toml")

	m, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, m.Update(func(c *Config) {
		c.Network = "mainnet"
		c.Bridges.AgentScript = "/opt/agent/bridge.js"
	}))

	reloaded, err := Load(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, "/opt/agent/bridge.js", cfg.Bridges.AgentScript)
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskd.toml")
	require.NoError(t, os.WriteFile(path, []byte("network = [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestAddProfileReplacesSameAccount(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "deskd.toml"))
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, m.AddProfile(StoredProfile{
		Name: "alpha", AccountID: "0.0.1234", ProfileTopic: "0.0.5555",
		Network: "testnet", RegisteredAt: now,
	}))
	require.NoError(t, m.AddProfile(StoredProfile{
		Name: "alpha-renamed", AccountID: "0.0.1234", ProfileTopic: "0.0.6666",
		Network: "testnet", RegisteredAt: now,
	}))

	assert.Len(t, m.Get().Profiles, 1)
	p, ok := m.ProfileFor("0.0.1234")
	require.True(t, ok)
	assert.Equal(t, "alpha-renamed", p.Name)
	assert.Equal(t, "0.0.6666", p.ProfileTopic)

	_, ok = m.ProfileFor("0.0.9999")
	assert.False(t, ok)
}
