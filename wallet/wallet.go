// Package wallet fronts the in-app remote signer. The signer lives in
// the UI surface and is only reachable over the event bus, so every
// operation here is an event-bridge call with a per-request reply
// channel.
package wallet

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ledgerdesk/deskd/bridge"
	"github.com/ledgerdesk/deskd/logging"
)

// Signature-collection flows wait on a human; plain execution calls
// only wait on the signer runtime.
const (
	ExecuteTimeout   = 2 * time.Minute
	InscribeTimeout  = 5 * time.Minute
	EventExecuteTx   = "wallet_execute_tx"
	EventInscribe    = "wallet_inscribe_start"
	EventWalletState = "wallet_state_changed"
)

// Info is the connection state the UI reports when the user pairs a
// wallet.
type Info struct {
	Connected bool   `json:"connected"`
	AccountID string `json:"accountId,omitempty"`
	Network   string `json:"network,omitempty"`
}

// Service tracks wallet connection state and issues signer calls.
type Service struct {
	eb  *bridge.EventBridge
	log *logging.Logger

	mu   sync.Mutex
	info Info
}

// New builds a wallet service over the given event bridge.
func New(eb *bridge.EventBridge, log *logging.Logger) *Service {
	return &Service{eb: eb, log: log}
}

// SetConnected records the paired account announced by the UI.
func (s *Service) SetConnected(accountID, network string) {
	s.mu.Lock()
	s.info = Info{Connected: true, AccountID: accountID, Network: network}
	s.mu.Unlock()
	s.log.Infof("wallet connected: %s on %s", accountID, network)
}

// SetDisconnected clears the paired account.
func (s *Service) SetDisconnected() {
	s.mu.Lock()
	s.info = Info{}
	s.mu.Unlock()
	s.log.Infof("wallet disconnected")
}

// Status returns the current connection state.
func (s *Service) Status() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// StatusJSON returns the connection state as a JSON payload, the shape
// reverse wallet_status requests expect.
func (s *Service) StatusJSON() (json.RawMessage, error) {
	return json.Marshal(s.Status())
}

// ExecuteTransaction asks the signer to sign and submit the given
// base64 transaction bytes. Blocks until the signer answers or the
// two-minute window lapses.
func (s *Service) ExecuteTransaction(ctx context.Context, txBytes string) (json.RawMessage, error) {
	return s.eb.Call(ctx, EventExecuteTx, func(requestID string) (interface{}, error) {
		return map[string]string{
			"requestId":        requestID,
			"transactionBytes": txBytes,
		}, nil
	}, ExecuteTimeout)
}

// StartInscription runs an interactive inscription flow in the signer.
// These collect signatures from the user, so the window is five
// minutes.
func (s *Service) StartInscription(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	return s.eb.Call(ctx, EventInscribe, func(requestID string) (interface{}, error) {
		return map[string]interface{}{
			"requestId": requestID,
			"request":   request,
		}, nil
	}, InscribeTimeout)
}
