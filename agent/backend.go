// Package agent orchestrates the long-lived conversational agent
// process. A Backend abstracts who answers a chat turn: the spawned
// bridge process when a script is configured, or a local echo
// fallback when none is.
package agent

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Message is one settled chat turn from the backend.
type Message struct {
	ID      string          `json:"id"`
	Content string          `json:"content"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// Backend answers chat turns. Implementations must be safe for
// sequential reuse; the service serializes turns per conversation.
type Backend interface {
	// Initialize prepares the backend with the given session options.
	Initialize(ctx context.Context, options json.RawMessage) error
	// SendMessage submits one user turn and blocks for the reply.
	// onProgress may be nil.
	SendMessage(ctx context.Context, content string, onProgress func(json.RawMessage)) (*Message, error)
	// Close releases the backend.
	Close() error
}

// EchoBackend is the no-op fallback used when no bridge script is
// configured. It answers every turn locally.
type EchoBackend struct{}

func (EchoBackend) Initialize(ctx context.Context, options json.RawMessage) error { return nil }

func (EchoBackend) SendMessage(ctx context.Context, content string, onProgress func(json.RawMessage)) (*Message, error) {
	return &Message{
		ID:      "msg-" + uuid.NewString(),
		Content: "Echo: " + content,
	}, nil
}

func (EchoBackend) Close() error { return nil }
