package mirror

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// cacheEntry is the on-disk record wrapper. Entries are CBOR-encoded;
// the payload itself stays raw JSON as the mirror returned it.
type cacheEntry struct {
	Action    string    `cbor:"1,keyasint"`
	ID        string    `cbor:"2,keyasint"`
	Network   string    `cbor:"3,keyasint"`
	Payload   []byte    `cbor:"4,keyasint"`
	FetchedAt time.Time `cbor:"5,keyasint"`
}

// Cache stores mirror lookups on disk with a TTL. Mirror records are
// immutable once final, so a short TTL mostly covers the
// not-yet-final window.
type Cache struct {
	dir string
	ttl time.Duration

	mu sync.Mutex
}

// NewCache builds a cache under dir. A non-positive ttl disables
// expiry.
func NewCache(dir string, ttl time.Duration) *Cache {
	return &Cache{dir: dir, ttl: ttl}
}

func (c *Cache) path(action, id, network string) string {
	sum := sha256.Sum256([]byte(action + "\x00" + id + "\x00" + network))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".cbor")
}

// Get returns the cached payload if present and fresh.
func (c *Cache) Get(action, id, network string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(action, id, network))
	if err != nil {
		return nil, false
	}

	var entry cacheEntry
	if err := cbor.Unmarshal(data, &entry); err != nil {
		os.Remove(c.path(action, id, network))
		return nil, false
	}
	if entry.Action != action || entry.ID != id || entry.Network != network {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.FetchedAt) > c.ttl {
		os.Remove(c.path(action, id, network))
		return nil, false
	}
	return json.RawMessage(entry.Payload), true
}

// Put stores a payload.
func (c *Cache) Put(action, id, network string, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	data, err := cbor.Marshal(cacheEntry{
		Action:    action,
		ID:        id,
		Network:   network,
		Payload:   payload,
		FetchedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(action, id, network), data, 0o600)
}

// Purge removes every cached entry.
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".cbor" {
			os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
	return nil
}
