// Package mirror looks records up on the public mirror node through a
// short-lived helper process. Unlike the agent bridge, each lookup
// spawns one process, feeds it a single request line, and scans its
// full output for the one JSON object it prints among runtime noise.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ledgerdesk/deskd/bridge"
	"github.com/ledgerdesk/deskd/logging"
)

// Network selects which mirror environment a lookup targets.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ParseNetwork maps a config string to a Network, defaulting to
// testnet.
func ParseNetwork(s string) Network {
	if strings.EqualFold(strings.TrimSpace(s), string(Mainnet)) {
		return Mainnet
	}
	return Testnet
}

// Runner executes the helper script with the given stdin and returns
// its combined output. Swappable in tests.
type Runner func(ctx context.Context, script string, stdin []byte) ([]byte, error)

func execRunner(ctx context.Context, script string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "node", script)
	cmd.Stdin = bytes.NewReader(stdin)
	return cmd.Output()
}

// Bridge issues one-shot lookups against the mirror helper script.
type Bridge struct {
	script string
	run    Runner
	cache  *Cache
	log    *logging.Logger
}

// NewBridge builds a mirror bridge. cache may be nil to disable
// caching.
func NewBridge(script string, cache *Cache, log *logging.Logger) *Bridge {
	return &Bridge{script: script, run: execRunner, cache: cache, log: log}
}

// Lookup runs one mirror query. action names the query kind, id the
// entity (topic, account, transaction).
func (b *Bridge) Lookup(ctx context.Context, action, id string, network Network) (json.RawMessage, error) {
	if b.cache != nil {
		if data, ok := b.cache.Get(action, id, string(network)); ok {
			b.log.Debugf("mirror: cache hit for %s %s", action, id)
			return data, nil
		}
	}

	payload := map[string]string{"id": id, "network": string(network)}
	// One process per request: the request id is always 1.
	line, err := bridge.EncodeRequest(1, action, payload)
	if err != nil {
		return nil, err
	}

	out, err := b.run(ctx, b.script, line)
	if err != nil {
		return nil, fmt.Errorf("mirror helper failed: %w", err)
	}

	raw, ok := extractJSON(out)
	if !ok {
		return nil, fmt.Errorf("mirror helper produced no JSON reply")
	}

	msg := bridge.Classify(raw)
	if msg.Kind != bridge.KindReply {
		return nil, fmt.Errorf("mirror helper reply has unexpected shape")
	}
	if !msg.Success {
		errMsg := msg.Error
		if errMsg == "" {
			errMsg = "mirror lookup failed"
		}
		return nil, fmt.Errorf("%s", errMsg)
	}

	if b.cache != nil {
		if err := b.cache.Put(action, id, string(network), msg.Data); err != nil {
			b.log.Warnf("mirror: caching %s %s: %v", action, id, err)
		}
	}
	return msg.Data, nil
}

// extractJSON finds the last line of output that is a complete JSON
// object. Helper runtimes print banners and warnings around the reply;
// the reply is the final object line.
func extractJSON(out []byte) (json.RawMessage, bool) {
	lines := bytes.Split(out, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := bytes.TrimSpace(lines[i])
		if len(trimmed) == 0 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
			continue
		}
		if json.Valid(trimmed) {
			return json.RawMessage(trimmed), true
		}
	}
	return nil, false
}
