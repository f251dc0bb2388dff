package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerdesk/deskd/bridge"
	"github.com/ledgerdesk/deskd/bus"
	"github.com/ledgerdesk/deskd/config"
	"github.com/ledgerdesk/deskd/logging"
	"github.com/ledgerdesk/deskd/wallet"
)

const disconnectGrace = 5 * time.Second

// ProgressEvent is the bus event streamed while a turn is in flight.
const ProgressEvent = "agent_stream_progress"

// Service owns the active backend and re-initializes it only when the
// parts of the configuration the backend depends on actually change.
type Service struct {
	cfg    *config.Manager
	wallet *wallet.Service
	hub    *bus.Bus
	log    *logging.Logger

	// spawn is swappable so tests can inject a scripted transport.
	spawn func(ctx context.Context, cfg config.Config) (Backend, error)

	mu       sync.Mutex
	backend  Backend
	snapshot string
}

// NewService builds an agent service. The backend is not started until
// the first EnsureInitialized or SendMessage.
func NewService(cfg *config.Manager, w *wallet.Service, hub *bus.Bus, log *logging.Logger) *Service {
	s := &Service{cfg: cfg, wallet: w, hub: hub, log: log}
	s.spawn = s.spawnBridge
	return s
}

// initSnapshot captures the config fields a running backend was built
// from. Turns re-initialize only when this changes.
func initSnapshot(cfg config.Config) string {
	return fmt.Sprintf("%s|%s|%d", cfg.Bridges.AgentScript, cfg.Network, cfg.Bridges.RequestTimeout)
}

func (s *Service) spawnBridge(ctx context.Context, cfg config.Config) (Backend, error) {
	script := cfg.Bridges.AgentScript
	if script == "" {
		s.log.Infof("agent: no bridge script found; using echo backend")
		return EchoBackend{}, nil
	}

	timeout := time.Duration(cfg.Bridges.RequestTimeout) * time.Second
	br, err := bridge.Spawn(ctx, "agent", bridge.NewCommandTransport("node", script), bridge.Options{
		Timeout: timeout,
		Reverse: &WalletDispatcher{Wallet: s.wallet, Log: s.log},
		Logger:  s.log,
	})
	if err != nil {
		return nil, err
	}
	return NewBridgeBackend(br), nil
}

// EnsureInitialized starts or restarts the backend if the relevant
// configuration changed since the last turn.
func (s *Service) EnsureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx)
}

func (s *Service) ensureLocked(ctx context.Context) error {
	cfg := s.cfg.Get()
	snap := initSnapshot(cfg)
	if s.backend != nil && snap == s.snapshot {
		return nil
	}

	if s.backend != nil {
		s.log.Infof("agent: configuration changed, restarting backend")
		s.backend.Close()
		s.backend = nil
	}

	backend, err := s.spawn(ctx, cfg)
	if err != nil {
		return err
	}

	options, err := json.Marshal(map[string]string{"network": cfg.Network})
	if err != nil {
		return err
	}
	if err := backend.Initialize(ctx, options); err != nil {
		backend.Close()
		return err
	}

	s.backend = backend
	s.snapshot = snap
	return nil
}

// SendMessage submits one chat turn, streaming progress notifications
// to the bus as they arrive.
func (s *Service) SendMessage(ctx context.Context, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(ctx); err != nil {
		return nil, err
	}

	return s.backend.SendMessage(ctx, content, func(data json.RawMessage) {
		s.hub.Emit(ProgressEvent, data)
	})
}

// Close tears down the running backend, if any.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	s.snapshot = ""
	return err
}
