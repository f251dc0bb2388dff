package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/deskd/bridge"
	"github.com/ledgerdesk/deskd/bus"
	"github.com/ledgerdesk/deskd/config"
	"github.com/ledgerdesk/deskd/wallet"
)

func TestEchoBackend(t *testing.T) {
	var b EchoBackend
	require.NoError(t, b.Initialize(context.Background(), nil))

	msg, err := b.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "Echo: hello", msg.Content)
	assert.True(t, strings.HasPrefix(msg.ID, "msg-"))

	// Ids are unique per turn.
	again, err := b.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.NotEqual(t, msg.ID, again.ID)
	require.NoError(t, b.Close())
}

func TestParseReverseAction(t *testing.T) {
	assert.Equal(t, reverseWalletStatus, parseReverseAction("wallet_status"))
	assert.Equal(t, reverseExecuteTx, parseReverseAction("wallet_execute_tx"))
	assert.Equal(t, reverseInscribeStart, parseReverseAction("wallet_inscribe_start"))
	assert.Equal(t, reverseUnknown, parseReverseAction("format_disk"))
	assert.Equal(t, reverseUnknown, parseReverseAction(""))
}

func TestWalletDispatcherStatus(t *testing.T) {
	w := wallet.New(bridge.NewEventBridge(bus.New(), nil), nil)
	w.SetConnected("0.0.42", "testnet")
	d := &WalletDispatcher{Wallet: w}

	data, err := d.HandleReverse(context.Background(), "wallet_status", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"connected":true,"accountId":"0.0.42","network":"testnet"}`, string(data))
}

func TestWalletDispatcherExecuteTx(t *testing.T) {
	hub := bus.New()
	w := wallet.New(bridge.NewEventBridge(hub, nil), nil)
	d := &WalletDispatcher{Wallet: w}

	hub.Listen(wallet.EventExecuteTx+"_request", func(payload json.RawMessage) {
		var req struct {
			RequestID        string `json:"requestId"`
			TransactionBytes string `json:"transactionBytes"`
		}
		if json.Unmarshal(payload, &req) != nil {
			return
		}
		raw, _ := json.Marshal(map[string]interface{}{
			"success": true,
			"data":    json.RawMessage(`{"status":"SUCCESS"}`),
		})
		hub.Emit(wallet.EventExecuteTx+"_reply_"+req.RequestID, raw)
	})

	data, err := d.HandleReverse(context.Background(), "wallet_execute_tx", json.RawMessage(`{"transactionBytes":"CgZi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SUCCESS"}`, string(data))

	_, err = d.HandleReverse(context.Background(), "wallet_execute_tx", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestWalletDispatcherUnsupported(t *testing.T) {
	d := &WalletDispatcher{Wallet: wallet.New(bridge.NewEventBridge(bus.New(), nil), nil)}
	_, err := d.HandleReverse(context.Background(), "file_read", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported action")
}

// scriptedAgent simulates the node runtime over pipes.
func scriptedAgent(t *testing.T, script func(requests *bufio.Reader, out io.Writer)) *BridgeBackend {
	t.Helper()

	toChildR, toChildW := io.Pipe()
	toHostR, toHostW := io.Pipe()
	tr := bridge.NewPipeTransport(toChildW, toHostR, toChildW, toHostR, toHostW)

	br, err := bridge.Spawn(context.Background(), "agent", tr, bridge.Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { br.Close() })

	go script(bufio.NewReader(toChildR), toHostW)
	return NewBridgeBackend(br)
}

func readReq(t *testing.T, r *bufio.Reader) (uint64, string) {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var req struct {
		ID     uint64 `json:"id"`
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(line, &req))
	return req.ID, req.Action
}

func TestBridgeBackendInitializeGatesOnShape(t *testing.T) {
	b := scriptedAgent(t, func(r *bufio.Reader, out io.Writer) {
		id, action := readReq(t, r)
		assert.Equal(t, "initialize", action)
		// Runtime chatter with a success shape but no initialized key
		// must not settle the call.
		fmt.Fprintf(out, `{"id":%d,"success":true,"data":{"banner":"agent v3"}}`+"\n", id)
		fmt.Fprintf(out, `{"id":%d,"success":true,"data":{"initialized":true}}`+"\n", id)
	})

	require.NoError(t, b.Initialize(context.Background(), json.RawMessage(`{"network":"testnet"}`)))
}

func TestBridgeBackendSendMessage(t *testing.T) {
	b := scriptedAgent(t, func(r *bufio.Reader, out io.Writer) {
		id, action := readReq(t, r)
		assert.Equal(t, "sendMessage", action)
		fmt.Fprintf(out, `{"id":%d,"type":"progress","data":{"stage":"thinking"}}`+"\n", id)
		fmt.Fprintf(out, `{"id":%d,"success":true,"data":{"response":{"id":"m-1","message":"hi there"}}}`+"\n", id)
	})

	var progressed int32
	msg, err := b.SendMessage(context.Background(), "hello", func(json.RawMessage) {
		atomic.AddInt32(&progressed, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "hi there", msg.Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&progressed))
}

// stubBackend records lifecycle calls for service tests.
type stubBackend struct {
	initialized int32
	sent        int32
	closed      int32
	reply       string
}

func (s *stubBackend) Initialize(ctx context.Context, options json.RawMessage) error {
	atomic.AddInt32(&s.initialized, 1)
	return nil
}

func (s *stubBackend) SendMessage(ctx context.Context, content string, onProgress func(json.RawMessage)) (*Message, error) {
	atomic.AddInt32(&s.sent, 1)
	if onProgress != nil {
		onProgress(json.RawMessage(`{"stage":"working"}`))
	}
	return &Message{ID: "m-stub", Content: s.reply}, nil
}

func (s *stubBackend) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

func newServiceWithStub(t *testing.T, stub *stubBackend) (*Service, *config.Manager, *bus.Bus) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "deskd.toml"))
	require.NoError(t, err)
	hub := bus.New()
	w := wallet.New(bridge.NewEventBridge(hub, nil), nil)
	s := NewService(cfg, w, hub, nil)
	s.spawn = func(ctx context.Context, c config.Config) (Backend, error) { return stub, nil }
	return s, cfg, hub
}

func TestServiceInitializesOncePerSnapshot(t *testing.T) {
	stub := &stubBackend{reply: "ok"}
	s, _, _ := newServiceWithStub(t, stub)

	_, err := s.SendMessage(context.Background(), "one")
	require.NoError(t, err)
	_, err = s.SendMessage(context.Background(), "two")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.initialized))
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.sent))
}

func TestServiceReinitializesOnConfigChange(t *testing.T) {
	stub := &stubBackend{reply: "ok"}
	s, cfg, _ := newServiceWithStub(t, stub)

	_, err := s.SendMessage(context.Background(), "one")
	require.NoError(t, err)

	require.NoError(t, cfg.Update(func(c *config.Config) {
		c.Network = "mainnet"
	}))

	_, err = s.SendMessage(context.Background(), "two")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.initialized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.closed))
}

func TestServiceStreamsProgressToBus(t *testing.T) {
	stub := &stubBackend{reply: "ok"}
	s, _, hub := newServiceWithStub(t, stub)

	got := make(chan json.RawMessage, 1)
	hub.Listen(ProgressEvent, func(p json.RawMessage) { got <- p })

	_, err := s.SendMessage(context.Background(), "one")
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.JSONEq(t, `{"stage":"working"}`, string(p))
	case <-time.After(time.Second):
		t.Fatal("no progress event")
	}
}

func TestServiceFallsBackToEcho(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "deskd.toml"))
	require.NoError(t, err)
	hub := bus.New()
	w := wallet.New(bridge.NewEventBridge(hub, nil), nil)
	s := NewService(cfg, w, hub, nil)

	// No agent script configured: the echo backend answers.
	msg, err := s.SendMessage(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "Echo: ping", msg.Content)
	require.NoError(t, s.Close())
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	stub := &stubBackend{reply: "ok"}
	s, _, _ := newServiceWithStub(t, stub)

	_, err := s.SendMessage(context.Background(), "one")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.closed))
}
