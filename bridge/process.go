package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ledgerdesk/deskd/logging"
)

// DefaultRequestTimeout bounds ordinary interactive calls. Long flows
// such as profile registration pass their own timeout via Options or
// per-call overrides.
const DefaultRequestTimeout = 120 * time.Second

// ProgressFunc receives non-terminal progress notifications for the
// in-flight request. Returning an error aborts the call.
type ProgressFunc func(data json.RawMessage) error

// AcceptFunc gates successful reply payloads. Some callees emit
// success-shaped lines that are not the answer to the current request;
// a call that knows the shape of its answer rejects those and keeps
// reading. Failure replies are never gated.
type AcceptFunc func(data json.RawMessage) bool

// ReverseHandler executes a request the child addresses back to the
// host. The returned data (or error) is written back to the child
// tagged with the reverse request's own id.
type ReverseHandler interface {
	HandleReverse(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
}

// Options configures a spawned ProcessBridge.
type Options struct {
	// Timeout is the per-read timeout for every request on this
	// bridge. Zero means DefaultRequestTimeout.
	Timeout time.Duration

	// Reverse handles bridgeRequest lines. Nil rejects every reverse
	// request with an unsupported-action reply.
	Reverse ReverseHandler

	Logger *logging.Logger
}

// ProcessBridge owns one line-oriented duplex stream to a spawned
// child process. The protocol tolerates replies that omit their id, so
// only one request may be outstanding at a time: the whole
// request/response cycle runs inside one exclusive section, not just
// the write.
type ProcessBridge struct {
	name      string
	transport Transport
	opts      Options

	mu     sync.Mutex // exclusive section: one request in flight
	stdin  io.Writer
	nextID uint64

	lines  chan []byte
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// Spawn starts the transport and the read loop. The returned bridge
// must be Closed by the owner; Close terminates the child process.
func Spawn(ctx context.Context, name string, transport Transport, opts Options) (*ProcessBridge, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}

	stdin, stdout, err := transport.Start(ctx)
	if err != nil {
		return nil, err
	}

	b := &ProcessBridge{
		name:      name,
		transport: transport,
		opts:      opts,
		stdin:     stdin,
		lines:     make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	go b.readLoop(stdout)
	return b, nil
}

// Name returns the bridge's diagnostic name.
func (b *ProcessBridge) Name() string { return b.name }

// Close tears the bridge down and kills the child process. Safe to
// call more than once; the kill happens exactly once.
func (b *ProcessBridge) Close() error {
	b.once.Do(func() {
		b.closed.Store(true)
		close(b.done)
		b.transport.Close()
	})
	return nil
}

// Request issues one correlated request and blocks until its terminal
// reply, a timeout, or stream closure. onProgress may be nil.
func (b *ProcessBridge) Request(ctx context.Context, action string, payload interface{}, onProgress ProgressFunc) (json.RawMessage, error) {
	return b.RequestWith(ctx, action, payload, onProgress, nil)
}

// RequestWith is Request with an AcceptFunc gating success payloads.
func (b *ProcessBridge) RequestWith(ctx context.Context, action string, payload interface{}, onProgress ProgressFunc, accept AcceptFunc) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, &Error{Type: ErrTypeClosed}
	}

	b.nextID++ // wraps on overflow; only one id is live at a time
	id := b.nextID

	line, err := EncodeRequest(id, action, payload)
	if err != nil {
		return nil, err
	}
	if _, err := b.stdin.Write(line); err != nil {
		return nil, streamClosedErr()
	}

	log := b.opts.Logger
	timer := time.NewTimer(b.opts.Timeout)
	defer timer.Stop()

	for {
		select {
		case raw, ok := <-b.lines:
			if !ok {
				return nil, streamClosedErr()
			}

			msg := Classify(raw)
			switch msg.Kind {
			case KindUnrecognized:
				log.Debugf("%s: skipping non-protocol line (%d bytes)", b.name, len(raw))

			case KindReverseRequest:
				b.serveReverse(ctx, msg.Reverse)

			case KindProgress:
				if msg.ID != nil && *msg.ID != id {
					log.Debugf("%s: progress for foreign id %d, dropping", b.name, *msg.ID)
					break
				}
				if onProgress != nil {
					if err := onProgress(msg.Data); err != nil {
						return nil, err
					}
				}

			case KindReply:
				// An absent id is accepted as the current request;
				// callees are inconsistent about echoing ids.
				if msg.ID != nil && *msg.ID != id {
					log.Debugf("%s: reply for stale id %d, dropping", b.name, *msg.ID)
					break
				}
				if !msg.Success {
					errMsg := msg.Error
					if errMsg == "" {
						errMsg = "bridge call failed"
					}
					return nil, remoteErr(errMsg)
				}
				if accept != nil && !accept(msg.Data) {
					log.Debugf("%s: success line did not match expected shape, still waiting", b.name)
					break
				}
				return msg.Data, nil
			}

			// Each received line restarts the read timeout, matching
			// the aggregate "per read" bound rather than a wall-clock
			// bound across progress streams.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.opts.Timeout)

		case <-timer.C:
			return nil, timeoutErr(action)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// serveReverse runs the local handler for a child-initiated request and
// writes the response envelope. The primary request stays outstanding.
func (b *ProcessBridge) serveReverse(ctx context.Context, req *ReverseRequest) {
	log := b.opts.Logger
	log.Debugf("%s: reverse request %q action=%s", b.name, req.ID, req.Action)

	reply := ReverseReply{ID: req.ID}
	if b.opts.Reverse == nil {
		reply.Error = "unsupported action: " + req.Action
	} else if data, err := b.opts.Reverse.HandleReverse(ctx, req.Action, req.Payload); err != nil {
		reply.Error = err.Error()
	} else {
		reply.Success = true
		reply.Data = data
	}

	line, err := EncodeReverseReply(reply)
	if err != nil {
		log.Errorf("%s: encoding reverse reply: %v", b.name, err)
		return
	}
	if _, err := b.stdin.Write(line); err != nil {
		log.Errorf("%s: writing reverse reply: %v", b.name, err)
	}
}

// readLoop feeds raw lines to the request loop until the stream
// closes. A closed bridge drains to done instead of blocking forever
// on a channel nobody reads.
func (b *ProcessBridge) readLoop(stdout io.Reader) {
	defer close(b.lines)

	reader := bufio.NewReader(stdout)
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			select {
			case b.lines <- raw:
			case <-b.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}
