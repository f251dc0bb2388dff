// Package profile runs account profile registration through the
// registration bridge process. Registration is a long interactive flow
// with on-chain steps, so calls stream progress and survive restarts
// through persisted state files.
package profile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledgerdesk/deskd/bridge"
)

// RegistrationTimeout bounds the full registration flow; the bridge
// process submits several consensus transactions per registration.
const RegistrationTimeout = 600 * time.Second

// Bridge is the thin protocol client for the registration process.
type Bridge struct {
	br *bridge.ProcessBridge
}

// NewBridge wraps an already spawned process bridge.
func NewBridge(br *bridge.ProcessBridge) *Bridge {
	return &Bridge{br: br}
}

// Register runs the registration flow for the given request document,
// forwarding progress to onProgress.
func (b *Bridge) Register(ctx context.Context, request json.RawMessage, onProgress bridge.ProgressFunc) (json.RawMessage, error) {
	return b.br.Request(ctx, "profile_register", request, onProgress)
}

// Retrieve fetches the registered profile for an account.
func (b *Bridge) Retrieve(ctx context.Context, accountID string) (json.RawMessage, error) {
	payload := map[string]string{"accountId": accountID}
	return b.br.Request(ctx, "profile_retrieve", payload, nil)
}

// Cancel asks the bridge process to abandon the in-flight registration
// identified by the state token.
func (b *Bridge) Cancel(ctx context.Context, stateToken string) error {
	payload := map[string]string{"state": stateToken}
	_, err := b.br.Request(ctx, "profile_cancel", payload, nil)
	return err
}

// Close kills the registration process.
func (b *Bridge) Close() error {
	return b.br.Close()
}
