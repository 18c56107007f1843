package registry

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
)

// nodeEventData is the event_data shape carried by evt.node.* events:
// the full passport for registered/heartbeat, uid+reason for deregistered.
type nodeEventData struct {
	Passport *core.NodePassport `json:"passport,omitempty"`
	UID      string             `json:"uid,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// Service bridges node lifecycle events carried over the Bus into a
// NodeRegistry. It is the sole writer of the registry in production;
// direct Registry.Register calls are reserved for tests.
type Service struct {
	registry *NodeRegistry
	bus      bus.Bus
	logger   core.Logger

	eventsProcessed int64
	registrations   int64
	heartbeats      int64
	deregistrations int64
}

// NewService wires registry to bus.
func NewService(registry *NodeRegistry, b bus.Bus, logger core.Logger) *Service {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Service{registry: registry, bus: b, logger: logger}
}

// Start subscribes to evt.node.* and begins the registry's TTL sweeper.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.Subscribe(ctx, "evt.node.#", s.onNodeEvent); err != nil {
		return err
	}
	s.registry.Start()
	s.logger.Info("registry service started", nil)
	return nil
}

// Stop halts the sweeper. Bus disconnection is the caller's
// responsibility (it may be shared with other subscribers).
func (s *Service) Stop() {
	s.registry.Stop()
	s.logger.Info("registry service stopped", map[string]interface{}{"stats": s.Stats()})
}

func (s *Service) onNodeEvent(ctx context.Context, envelope *core.Envelope) error {
	payload, err := envelope.DecodeEvent()
	if err != nil {
		return err
	}

	var data nodeEventData
	raw, err := json.Marshal(payload.EventData)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	atomic.AddInt64(&s.eventsProcessed, 1)

	switch payload.EventType {
	case "node.registered":
		if data.Passport == nil {
			return nil
		}
		if err := s.registry.Register(*data.Passport); err != nil {
			s.logger.Warn("registration rejected", map[string]interface{}{"uid": data.Passport.Metadata.UID, "error": err})
			return nil
		}
		atomic.AddInt64(&s.registrations, 1)
	case "node.heartbeat":
		s.registry.UpdateHeartbeat(data.UID)
		atomic.AddInt64(&s.heartbeats, 1)
	case "node.deregistered":
		s.registry.Deregister(data.UID, data.Reason)
		atomic.AddInt64(&s.deregistrations, 1)
	}

	return nil
}

// Stats reports the service's own counters with the registry's Stats()
// nested under the "registry" key, mirroring registry_service.py's
// get_stats().
func (s *Service) Stats() map[string]interface{} {
	return map[string]interface{}{
		"events_processed": atomic.LoadInt64(&s.eventsProcessed),
		"registrations":     atomic.LoadInt64(&s.registrations),
		"heartbeats":        atomic.LoadInt64(&s.heartbeats),
		"deregistrations":   atomic.LoadInt64(&s.deregistrations),
		"registry":          s.registry.Stats(),
	}
}
