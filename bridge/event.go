package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/deskd/bus"
	"github.com/ledgerdesk/deskd/logging"
)

// MakePayload builds the outbound event payload for an EventBridge
// call. It receives the generated request id so the remote surface can
// address its reply event.
type MakePayload func(requestID string) (interface{}, error)

// EventBridge correlates request/reply over the broadcast bus. Each
// call gets a private reply event derived from a fresh token, so calls
// run concurrently and never serialize against each other.
type EventBridge struct {
	bus     *bus.Bus
	pending *pendingTable
	log     *logging.Logger
}

// NewEventBridge builds a bridge over the given bus.
func NewEventBridge(b *bus.Bus, log *logging.Logger) *EventBridge {
	return &EventBridge{bus: b, pending: newPendingTable(), log: log}
}

// eventReply is the reply payload shape the remote surface emits.
type eventReply struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Call emits `outbound + "_request"` and awaits one reply on
// `outbound + "_reply_" + token`. The listener is registered before
// the emit, so a reply cannot race the registration, and it is
// unregistered on every exit path; a leaked listener would misattribute
// a later emission on a colliding name.
func (eb *EventBridge) Call(ctx context.Context, outbound string, makePayload MakePayload, timeout time.Duration) (json.RawMessage, error) {
	token := uuid.NewString()
	replyEvent := outbound + "_reply_" + token

	slot, ok := eb.pending.register(replyEvent)
	if !ok {
		return nil, &Error{Type: ErrTypeListenerSetup, Message: "reply channel collision: " + replyEvent}
	}

	listenerID := eb.bus.Listen(replyEvent, func(payload json.RawMessage) {
		var reply eventReply
		if err := json.Unmarshal(payload, &reply); err != nil {
			eb.log.Debugf("event bridge: malformed reply on %s: %v", replyEvent, err)
			eb.pending.fulfill(replyEvent, Result{Err: serializationErr("decoding reply event", err)})
			return
		}
		if !reply.Success {
			errMsg := reply.Error
			if errMsg == "" {
				errMsg = "call failed"
			}
			eb.pending.fulfill(replyEvent, Result{Err: remoteErr(errMsg)})
			return
		}
		eb.pending.fulfill(replyEvent, Result{Data: reply.Data})
	})
	defer eb.bus.Unlisten(replyEvent, listenerID)

	payload, err := makePayload(token)
	if err != nil {
		eb.pending.expire(replyEvent)
		return nil, serializationErr("building event payload", err)
	}
	if err := eb.bus.EmitJSON(outbound+"_request", payload); err != nil {
		eb.pending.expire(replyEvent)
		return nil, serializationErr("emitting "+outbound, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-slot.Wait():
		return res.Data, res.Err
	case <-timer.C:
		eb.pending.expire(replyEvent)
		return nil, timeoutErr(outbound)
	case <-ctx.Done():
		eb.pending.expire(replyEvent)
		return nil, ctx.Err()
	}
}

// Pending reports in-flight call count. Used by tests to verify no
// correlation state leaks across settled calls.
func (eb *EventBridge) Pending() int { return eb.pending.size() }
