package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// stateMaxAge is how long a persisted registration state is considered
// resumable. Older files are stale; the on-chain flow will have lapsed.
const stateMaxAge = 24 * time.Hour

// RegistrationState is the resumable snapshot of an in-flight
// registration, written on every progress notification that carries
// bridge state.
type RegistrationState struct {
	Name      string          `json:"name"`
	AccountID string          `json:"accountId"`
	State     json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// stateStore persists registration state files under one directory,
// one file per profile name.
type stateStore struct {
	dir string
}

func newStateStore(dir string) *stateStore {
	return &stateStore{dir: dir}
}

// sanitizeName maps a profile name to a safe file stem.
func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (s *stateStore) path(name string) string {
	return filepath.Join(s.dir, sanitizeName(name)+"_registration_state.json")
}

// Save writes the state snapshot for name.
func (s *stateStore) Save(state RegistrationState) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(state.Name), data, 0o600)
}

// Load returns the resumable state for name, if a fresh one exists.
// Expired files are removed on sight.
func (s *stateStore) Load(name string) (RegistrationState, bool) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return RegistrationState{}, false
	}

	var state RegistrationState
	if err := json.Unmarshal(data, &state); err != nil {
		os.Remove(s.path(name))
		return RegistrationState{}, false
	}
	if time.Since(state.UpdatedAt) > stateMaxAge {
		os.Remove(s.path(name))
		return RegistrationState{}, false
	}
	return state, true
}

// Clear removes the state file for name.
func (s *stateStore) Clear(name string) {
	os.Remove(s.path(name))
}
