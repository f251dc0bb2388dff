package profile

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
)

// ProgressEvent is streamed to the UI during a registration.
const ProgressEvent = "profile_registration_progress"

// Registrar runs one registration flow end to end. The default
// implementation spawns the configured bridge script per flow.
type Registrar interface {
	Register(ctx context.Context, request json.RawMessage, onProgress bridge.ProgressFunc) (json.RawMessage, error)
}

// RegisterRequest is the caller-facing registration input.
type RegisterRequest struct {
	Name      string            `json:"name"`
	AccountID string            `json:"accountId"`
	Bio       string            `json:"bio,omitempty"`
	Socials   map[string]string `json:"socials,omitempty"`

	// Resume carries persisted bridge state when continuing an
	// interrupted flow.
	Resume json.RawMessage `json:"state,omitempty"`
}

// RegisterResult is the settled outcome of a registration.
type RegisterResult struct {
	ProfileTopic string          `json:"profileTopic"`
	Raw          json.RawMessage `json:"raw"`
}

// Service coordinates registrations: local validation, the single
// active flow, state persistence, and recording the finished profile
// in configuration.
type Service struct {
	cfg   *config.Manager
	hub   *bus.Bus
	log   *logging.Logger
	state *stateStore

	// newRegistrar is swappable so tests can script the flow.
	newRegistrar func(ctx context.Context, cfg config.Config) (Registrar, func(), error)

	mu         sync.Mutex
	activeName string
}

// NewService builds a profile service.
func NewService(cfg *config.Manager, hub *bus.Bus, log *logging.Logger) *Service {
	snapshot := cfg.Get()
	s := &Service{
		cfg:   cfg,
		hub:   hub,
		log:   log,
		state: newStateStore(snapshot.Storage.DataDir),
	}
	s.newRegistrar = s.spawnRegistrar
	return s
}

func (s *Service) spawnRegistrar(ctx context.Context, cfg config.Config) (Registrar, func(), error) {
	script := cfg.Bridges.ProfileScript
	if script == "" {
		return nil, nil, fmt.Errorf("no profile bridge script configured")
	}
	br, err := bridge.Spawn(ctx, "profile", bridge.NewCommandTransport("node", script), bridge.Options{
		Timeout: RegistrationTimeout,
		Logger:  s.log,
	})
	if err != nil {
		return nil, nil, err
	}
	b := NewBridge(br)
	return b, func() { b.Close() }, nil
}

// begin claims the single active registration slot.
func (s *Service) begin(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeName != "" {
		return fmt.Errorf("registration already in progress for %q", s.activeName)
	}
	s.activeName = name
	return nil
}

func (s *Service) end() {
	s.mu.Lock()
	s.activeName = ""
	s.mu.Unlock()
}

// Active reports the name of the in-flight registration, if any.
func (s *Service) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeName, s.activeName != ""
}

// Register validates and runs one registration flow. Progress lines go
// to the bus; any bridge state they carry is persisted so an
// interrupted flow can resume within 24 hours.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	doc, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := ValidateRequest(doc); err != nil {
		return nil, err
	}

	if err := s.begin(req.Name); err != nil {
		return nil, err
	}
	defer s.end()

	// Resume from persisted state when the caller did not supply any.
	if req.Resume == nil {
		if prior, ok := s.state.Load(req.Name); ok {
			s.log.Infof("profile: resuming registration for %q", req.Name)
			req.Resume = prior.State
			if doc, err = json.Marshal(req); err != nil {
				return nil, err
			}
		}
	}

	registrar, cleanup, err := s.newRegistrar(ctx, s.cfg.Get())
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	raw, err := registrar.Register(ctx, json.RawMessage(doc), func(data json.RawMessage) error {
		s.hub.Emit(ProgressEvent, data)
		s.persistProgress(req, data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ProfileTopic string `json:"profileTopic"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("malformed registration reply: %w", err)
	}

	s.state.Clear(req.Name)
	if err := s.cfg.AddProfile(config.StoredProfile{
		Name:         req.Name,
		AccountID:    req.AccountID,
		ProfileTopic: parsed.ProfileTopic,
		Network:      s.cfg.Get().Network,
		RegisteredAt: time.Now().UTC(),
	}); err != nil {
		s.log.Errorf("profile: persisting registered profile: %v", err)
	}

	return &RegisterResult{ProfileTopic: parsed.ProfileTopic, Raw: raw}, nil
}

// persistProgress saves resumable bridge state carried on a progress
// notification.
func (s *Service) persistProgress(req RegisterRequest, data json.RawMessage) {
	var p struct {
		State json.RawMessage `json:"state"`
	}
	if json.Unmarshal(data, &p) != nil || p.State == nil {
		return
	}
	if err := s.state.Save(RegistrationState{
		Name:      req.Name,
		AccountID: req.AccountID,
		State:     p.State,
	}); err != nil {
		s.log.Warnf("profile: persisting registration state: %v", err)
	}
}

// PendingRegistration reports whether a resumable state file exists
// for the named profile.
func (s *Service) PendingRegistration(name string) bool {
	_, ok := s.state.Load(name)
	return ok
}
