package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetwork(t *testing.T) {
	assert.Equal(t, Mainnet, ParseNetwork("mainnet"))
	assert.Equal(t, Mainnet, ParseNetwork(" MAINNET "))
	assert.Equal(t, Testnet, ParseNetwork("testnet"))
	assert.Equal(t, Testnet, ParseNetwork(""))
	assert.Equal(t, Testnet, ParseNetwork("previewnet"))
}

func TestExtractJSON(t *testing.T) {
	out := []byte(`node:internal warning something
{"not":"the reply"
Loading mirror client...
{"id":1,"success":true,"data":{"topic":"0.0.5"}}
`)
	raw, ok := extractJSON(out)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":1,"success":true,"data":{"topic":"0.0.5"}}`, string(raw))

	_, ok = extractJSON([]byte("just noise\nno objects here\n"))
	assert.False(t, ok)

	// The last valid object wins when several are printed.
	out = []byte("{\"early\":true}\n{\"id\":1,\"success\":true}\n")
	raw, ok = extractJSON(out)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":1,"success":true}`, string(raw))
}

func scriptedBridge(cache *Cache, output string, runErr error) (*Bridge, *[][]byte) {
	var stdins [][]byte
	b := NewBridge("/opt/mirror.js", cache, nil)
	b.run = func(ctx context.Context, script string, stdin []byte) ([]byte, error) {
		stdins = append(stdins, stdin)
		return []byte(output), runErr
	}
	return b, &stdins
}

func TestLookupSuccess(t *testing.T) {
	b, stdins := scriptedBridge(nil, `banner line
{"id":1,"success":true,"data":{"messages":[{"seq":1}]}}
`, nil)

	data, err := b.Lookup(context.Background(), "topic_messages", "0.0.5005", Testnet)
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[{"seq":1}]}`, string(data))

	require.Len(t, *stdins, 1)
	assert.JSONEq(t,
		`{"id":1,"action":"topic_messages","payload":{"id":"0.0.5005","network":"testnet"}}`,
		string((*stdins)[0]))
}

func TestLookupRemoteFailure(t *testing.T) {
	b, _ := scriptedBridge(nil, `{"id":1,"success":false,"error":"topic not found"}`, nil)

	_, err := b.Lookup(context.Background(), "topic_info", "0.0.404", Mainnet)
	require.Error(t, err)
	assert.Equal(t, "topic not found", err.Error())
}

func TestLookupNoJSONOutput(t *testing.T) {
	b, _ := scriptedBridge(nil, "only banners\n", nil)
	_, err := b.Lookup(context.Background(), "topic_info", "0.0.1", Testnet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON reply")
}

func TestLookupRunnerFailure(t *testing.T) {
	b, _ := scriptedBridge(nil, "", fmt.Errorf("exit status 1"))
	_, err := b.Lookup(context.Background(), "topic_info", "0.0.1", Testnet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror helper failed")
}

func TestLookupUsesCache(t *testing.T) {
	cache := NewCache(t.TempDir(), time.Minute)
	b, stdins := scriptedBridge(cache, `{"id":1,"success":true,"data":{"topic":"0.0.7"}}`, nil)

	first, err := b.Lookup(context.Background(), "topic_info", "0.0.7", Testnet)
	require.NoError(t, err)
	second, err := b.Lookup(context.Background(), "topic_info", "0.0.7", Testnet)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Len(t, *stdins, 1, "second lookup should come from cache")
}

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCache(t.TempDir(), time.Minute)

	_, ok := cache.Get("a", "0.0.1", "testnet")
	assert.False(t, ok)

	require.NoError(t, cache.Put("a", "0.0.1", "testnet", json.RawMessage(`{"v":1}`)))
	data, ok := cache.Get("a", "0.0.1", "testnet")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(data))

	// Keys are scoped by action, id and network.
	_, ok = cache.Get("a", "0.0.1", "mainnet")
	assert.False(t, ok)
	_, ok = cache.Get("b", "0.0.1", "testnet")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(t.TempDir(), 30*time.Millisecond)
	require.NoError(t, cache.Put("a", "0.0.1", "testnet", json.RawMessage(`{}`)))

	_, ok := cache.Get("a", "0.0.1", "testnet")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = cache.Get("a", "0.0.1", "testnet")
	assert.False(t, ok)
}

func TestCachePurge(t *testing.T) {
	cache := NewCache(t.TempDir(), 0)
	require.NoError(t, cache.Put("a", "1", "testnet", json.RawMessage(`{}`)))
	require.NoError(t, cache.Put("b", "2", "testnet", json.RawMessage(`{}`)))

	require.NoError(t, cache.Purge())
	_, ok := cache.Get("a", "1", "testnet")
	assert.False(t, ok)
	_, ok = cache.Get("b", "2", "testnet")
	assert.False(t, ok)
}
