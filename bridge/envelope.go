// Package bridge implements the correlated request/reply protocol layer
// used to talk to out-of-process collaborators. Two transports share
// the same envelope shapes: newline-delimited JSON over a child
// process's standard streams (ProcessBridge) and named broadcast
// events on the in-process bus (EventBridge).
package bridge

import (
	"bytes"
	"encoding/json"
)

// MessageKind classifies a decoded protocol line.
type MessageKind int

const (
	KindUnrecognized MessageKind = iota
	KindReply
	KindProgress
	KindReverseRequest
)

// ReverseRequest is a request the child process addresses back to the
// host while the host's own request is still outstanding. Its id is a
// string chosen by the child and must be echoed in the reply.
type ReverseRequest struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ReverseReply answers a ReverseRequest, carrying the same id.
type ReverseReply struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message is one classified protocol line. Which fields are meaningful
// depends on Kind.
type Message struct {
	Kind MessageKind

	// Reply / progress fields. ID is nil when the line omitted it,
	// which the process protocol tolerates for replies.
	ID      *uint64
	Success bool
	Data    json.RawMessage
	Error   string

	// Reverse request, when Kind is KindReverseRequest.
	Reverse *ReverseRequest
}

// envelope is the superset wire shape of every inbound line. Pointer
// fields distinguish "absent" from zero values.
type envelope struct {
	ID      *uint64         `json:"id"`
	Type    *string         `json:"type"`
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Reverse *ReverseRequest `json:"bridgeRequest"`
}

// Classify parses one line into a Message. Anything that is not a JSON
// object, or parses but matches none of the protocol shapes, comes
// back as KindUnrecognized; child processes routinely interleave
// non-protocol stdout and the read loop must skip it.
//
// Order matters: a progress line also carries a success field on some
// callees, so the type tag is checked before success.
func Classify(line []byte) Message {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{Kind: KindUnrecognized}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{Kind: KindUnrecognized}
	}

	if env.Reverse != nil && env.Reverse.Action != "" {
		return Message{Kind: KindReverseRequest, Reverse: env.Reverse}
	}

	if env.Type != nil && *env.Type == "progress" {
		return Message{Kind: KindProgress, ID: env.ID, Data: env.Data}
	}

	if env.Success != nil {
		msg := Message{Kind: KindReply, ID: env.ID, Success: *env.Success, Data: env.Data}
		if env.Error != nil {
			msg.Error = *env.Error
		}
		return msg
	}

	return Message{Kind: KindUnrecognized}
}

// EncodeRequest serializes one outbound request line, newline included.
func EncodeRequest(id uint64, action string, payload interface{}) ([]byte, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, serializationErr("encoding request payload", err)
	}
	line, err := json.Marshal(struct {
		ID      uint64          `json:"id"`
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload"`
	}{ID: id, Action: action, Payload: raw})
	if err != nil {
		return nil, serializationErr("encoding request", err)
	}
	return append(line, '\n'), nil
}

// EncodeReverseReply serializes the host's answer to a reverse request,
// wrapped under the bridgeResponse key, newline included.
func EncodeReverseReply(reply ReverseReply) ([]byte, error) {
	line, err := json.Marshal(struct {
		Response ReverseReply `json:"bridgeResponse"`
	}{Response: reply})
	if err != nil {
		return nil, serializationErr("encoding reverse reply", err)
	}
	return append(line, '\n'), nil
}

// marshalPayload normalizes a payload to raw JSON, defaulting nil to
// an empty object so callees always see a payload key.
func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
