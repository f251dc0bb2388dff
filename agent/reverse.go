package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ledgerdesk/deskd/logging"
	"github.com/ledgerdesk/deskd/wallet"
)

// reverseAction is the parsed form of a reverse-request action name.
// Parsing once into a closed set keeps dispatch exhaustive; anything
// unknown lands on reverseUnknown and is rejected explicitly.
type reverseAction int

const (
	reverseUnknown reverseAction = iota
	reverseWalletStatus
	reverseExecuteTx
	reverseInscribeStart
)

func parseReverseAction(action string) reverseAction {
	switch action {
	case "wallet_status":
		return reverseWalletStatus
	case "wallet_execute_tx":
		return reverseExecuteTx
	case "wallet_inscribe_start":
		return reverseInscribeStart
	default:
		return reverseUnknown
	}
}

// WalletDispatcher serves reverse requests the agent process sends
// while a primary call is outstanding. Every supported action routes
// to the wallet service; the primary request stays pending throughout.
type WalletDispatcher struct {
	Wallet *wallet.Service
	Log    *logging.Logger
}

func (d *WalletDispatcher) HandleReverse(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	switch parseReverseAction(action) {
	case reverseWalletStatus:
		return d.Wallet.StatusJSON()

	case reverseExecuteTx:
		var req struct {
			TransactionBytes string `json:"transactionBytes"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("malformed wallet_execute_tx payload: %w", err)
		}
		if req.TransactionBytes == "" {
			return nil, fmt.Errorf("wallet_execute_tx payload missing transactionBytes")
		}
		return d.Wallet.ExecuteTransaction(ctx, req.TransactionBytes)

	case reverseInscribeStart:
		return d.Wallet.StartInscription(ctx, payload)

	case reverseUnknown:
		d.Log.Warnf("agent: unsupported reverse action %q", action)
		return nil, fmt.Errorf("unsupported action: %s", action)
	}
	return nil, fmt.Errorf("unsupported action: %s", action)
}
