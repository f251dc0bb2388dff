package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ledgerdesk/deskd/bridge"
)

// BridgeBackend answers chat turns through a spawned bridge process.
// The protocol interleaves the agent runtime's own output with reply
// lines, so initialize and sendMessage gate on the payload shape of
// their answers rather than trusting every success line.
type BridgeBackend struct {
	br *bridge.ProcessBridge
}

// NewBridgeBackend wraps an already spawned process bridge.
func NewBridgeBackend(br *bridge.ProcessBridge) *BridgeBackend {
	return &BridgeBackend{br: br}
}

func hasKey(key string) bridge.AcceptFunc {
	return func(data json.RawMessage) bool {
		var probe map[string]json.RawMessage
		if json.Unmarshal(data, &probe) != nil {
			return false
		}
		_, ok := probe[key]
		return ok
	}
}

func (b *BridgeBackend) Initialize(ctx context.Context, options json.RawMessage) error {
	_, err := b.br.RequestWith(ctx, "initialize", options, nil, hasKey("initialized"))
	return err
}

func (b *BridgeBackend) SendMessage(ctx context.Context, content string, onProgress func(json.RawMessage)) (*Message, error) {
	var progress bridge.ProgressFunc
	if onProgress != nil {
		progress = func(data json.RawMessage) error {
			onProgress(data)
			return nil
		}
	}

	payload := map[string]string{"content": content}
	data, err := b.br.RequestWith(ctx, "sendMessage", payload, progress, hasKey("response"))
	if err != nil {
		return nil, err
	}

	var reply struct {
		Response struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("malformed sendMessage reply: %w", err)
	}

	msg := &Message{ID: reply.Response.ID, Content: reply.Response.Message, Raw: data}
	if msg.ID == "" {
		msg.ID = "msg-unidentified"
	}
	return msg, nil
}

func (b *BridgeBackend) Close() error {
	// Best effort: tell the runtime to wind down, then kill it.
	ctx, cancel := context.WithTimeout(context.Background(), disconnectGrace)
	defer cancel()
	b.br.Request(ctx, "disconnect", nil, nil)
	return b.br.Close()
}
