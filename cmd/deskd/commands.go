package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerdesk/deskd/agent"
	"github.com/ledgerdesk/deskd/bus"
	"github.com/ledgerdesk/deskd/config"
	"github.com/ledgerdesk/deskd/logging"
	"github.com/ledgerdesk/deskd/mirror"
	"github.com/ledgerdesk/deskd/profile"
	"github.com/ledgerdesk/deskd/session"
	"github.com/ledgerdesk/deskd/wallet"
)

// commandTimeout bounds UI command handlers. Long flows (registration,
// signer calls) carry their own larger timeouts underneath.
const commandTimeout = 15 * time.Minute

type deps struct {
	cfg      *config.Manager
	log      *logging.Logger
	agent    *agent.Service
	profiles *profile.Service
	mirror   *mirror.Bridge
	sessions *session.Store
	wallet   *wallet.Service
}

type commandFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// registerCommands exposes the UI command surface: each command is a
// `<name>_request` event whose payload carries a requestId, answered
// on `<name>_reply_<requestId>` with the usual success/data/error
// shape. This mirrors the signer protocol with the roles reversed.
func registerCommands(hub *bus.Bus, d *deps) {
	handle := func(name string, fn commandFunc) {
		hub.Listen(name+"_request", func(payload json.RawMessage) {
			var envelope struct {
				RequestID string `json:"requestId"`
			}
			if err := json.Unmarshal(payload, &envelope); err != nil || envelope.RequestID == "" {
				d.log.Debugf("command %s: payload without requestId, dropping", name)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			reply := map[string]interface{}{"success": true}
			if data, err := fn(ctx, payload); err != nil {
				d.log.Warnf("command %s failed: %v", name, err)
				reply["success"] = false
				reply["error"] = err.Error()
			} else if data != nil {
				reply["data"] = data
			}

			if err := hub.EmitJSON(name+"_reply_"+envelope.RequestID, reply); err != nil {
				d.log.Errorf("command %s: emitting reply: %v", name, err)
			}
		})
	}

	handle("agent_send_message", d.agentSendMessage)
	handle("profile_register", d.profileRegister)
	handle("mirror_lookup", d.mirrorLookup)
	handle("session_create", d.sessionCreate)
	handle("session_list", d.sessionList)
	handle("session_messages", d.sessionMessages)
	handle("session_delete", d.sessionDelete)
	handle("wallet_connected", d.walletConnected)
	handle("wallet_disconnected", d.walletDisconnected)
	handle("wallet_status", d.walletStatus)
}

// agentSendMessage submits one chat turn, persisting both sides of it
// when a session id is supplied.
func (d *deps) agentSendMessage(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		SessionID string `json:"sessionId"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.Content == "" {
		return nil, fmt.Errorf("message content is empty")
	}

	if req.SessionID != "" {
		if _, err := d.sessions.AppendMessage(ctx, req.SessionID, session.RoleUser, req.Content); err != nil {
			return nil, err
		}
	}

	msg, err := d.agent.SendMessage(ctx, req.Content)
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		if _, err := d.sessions.AppendMessage(ctx, req.SessionID, session.RoleAssistant, msg.Content); err != nil {
			d.log.Warnf("persisting assistant turn: %v", err)
		}
	}
	return msg, nil
}

func (d *deps) profileRegister(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req profile.RegisterRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return d.profiles.Register(ctx, req)
}

func (d *deps) mirrorLookup(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Action  string `json:"action"`
		ID      string `json:"id"`
		Network string `json:"network"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	network := mirror.ParseNetwork(req.Network)
	if req.Network == "" {
		network = mirror.ParseNetwork(d.cfg.Get().Network)
	}
	return d.mirror.Lookup(ctx, req.Action, req.ID, network)
}

func (d *deps) sessionCreate(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Title     string `json:"title"`
		AccountID string `json:"accountId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.Title == "" {
		req.Title = "New chat"
	}
	return d.sessions.CreateSession(ctx, req.Title, req.AccountID)
}

func (d *deps) sessionList(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return d.sessions.ListSessions(ctx)
}

func (d *deps) sessionMessages(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return d.sessions.Messages(ctx, req.SessionID)
}

func (d *deps) sessionDelete(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return nil, d.sessions.DeleteSession(ctx, req.SessionID)
}

func (d *deps) walletConnected(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		AccountID string `json:"accountId"`
		Network   string `json:"network"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, fmt.Errorf("wallet_connected payload missing accountId")
	}
	d.wallet.SetConnected(req.AccountID, req.Network)
	return d.wallet.Status(), nil
}

func (d *deps) walletDisconnected(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	d.wallet.SetDisconnected()
	return d.wallet.Status(), nil
}

func (d *deps) walletStatus(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return d.wallet.Status(), nil
}
