// Package config loads and persists the daemon's TOML configuration,
// including profiles registered through the bridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// BridgeConfig locates the external bridge scripts. Empty paths mean
// the corresponding service falls back to its no-op backend.
type BridgeConfig struct {
	AgentScript    string `toml:"agent_script"`
	ProfileScript  string `toml:"profile_script"`
	MirrorScript   string `toml:"mirror_script"`
	RequestTimeout int    `toml:"request_timeout_seconds"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// StorageConfig locates on-disk state.
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	SessionDB    string `toml:"session_db"`
	CacheTTLSecs int    `toml:"cache_ttl_seconds"`
}

// StoredProfile is a profile the user registered through the bridge,
// persisted so restarts keep the account association.
type StoredProfile struct {
	Name         string    `toml:"name"`
	AccountID    string    `toml:"account_id"`
	ProfileTopic string    `toml:"profile_topic"`
	Network      string    `toml:"network"`
	RegisteredAt time.Time `toml:"registered_at"`
}

// Config is the full daemon configuration.
type Config struct {
	Network  string          `toml:"network"`
	Bridges  BridgeConfig    `toml:"bridges"`
	Logging  LoggingConfig   `toml:"logging"`
	Storage  StorageConfig   `toml:"storage"`
	Profiles []StoredProfile `toml:"profiles"`
}

// Default returns the configuration used when no file exists yet.
func Default() Config {
	return Config{
		Network: "testnet",
		Bridges: BridgeConfig{RequestTimeout: 120},
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			CacheTTLSecs: 300,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "deskd")
	}
	return ".deskd"
}

// Manager owns the config file: one authoritative in-memory copy,
// serialized access, write-through persistence.
type Manager struct {
	mu   sync.Mutex
	path string
	cfg  Config
}

// Load reads the config at path, creating defaults if it is missing.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path, cfg: Default()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &m.cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return m, nil
}

// Get returns a snapshot of the current configuration.
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Update applies fn to the config and persists the result.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
	return m.saveLocked()
}

// AddProfile records a registered profile, replacing any previous
// entry for the same account, and persists.
func (m *Manager) AddProfile(p StoredProfile) error {
	return m.Update(func(c *Config) {
		for i, existing := range c.Profiles {
			if existing.AccountID == p.AccountID {
				c.Profiles[i] = p
				return
			}
		}
		c.Profiles = append(c.Profiles, p)
	})
}

// ProfileFor looks up a stored profile by account id.
func (m *Manager) ProfileFor(accountID string) (StoredProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.cfg.Profiles {
		if p.AccountID == accountID {
			return p, true
		}
	}
	return StoredProfile{}, false
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(m.cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
