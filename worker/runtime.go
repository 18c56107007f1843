// Package worker implements the Worker Runtime skeleton: a capability-
// bearing node that announces itself to the Registry over the Bus,
// heartbeats on its own channel, and dispatches incoming commands to
// locally registered capability handlers.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
	"github.com/aiteam/mindbus/telemetry"
)

// CapabilityFunc implements one action a worker advertises and serves.
type CapabilityFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Config configures a Runtime instance.
type Config struct {
	Name                     string
	NodeType                 core.NodeType
	Labels                   map[string]string
	HeartbeatIntervalSeconds int
}

// Runtime is a worker node: it owns a capability table, announces itself
// on startup, heartbeats on a schedule, and answers commands addressed to
// its role/name routing key.
type Runtime struct {
	cfg    Config
	bus    bus.Bus
	logger core.Logger

	uid string

	mu           sync.RWMutex
	capabilities map[string]CapabilityFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Runtime. The heartbeat loop and command subscription run
// on independent goroutines once Start is called, so a slow capability
// handler never delays the heartbeat.
func New(cfg Config, b bus.Bus, logger core.Logger) *Runtime {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = 10
	}
	return &Runtime{
		cfg: cfg, bus: b, logger: logger, uid: uuid.NewString(),
		capabilities: make(map[string]CapabilityFunc), stopCh: make(chan struct{}),
	}
}

// RegisterCapability binds action to fn. Call before Start.
func (r *Runtime) RegisterCapability(action string, fn CapabilityFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[action] = fn
}

// Manifest lists the capabilities this runtime currently advertises,
// used both in the node.registered event and by callers introspecting
// what a running worker can do.
func (r *Runtime) Manifest() []core.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]core.Capability, 0, len(r.capabilities))
	for name := range r.capabilities {
		caps = append(caps, core.Capability{Name: name})
	}
	return caps
}

// Start subscribes to this worker's command routing key, announces
// registration, and launches the heartbeat loop.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(ctx, bus.RoutingKeyCommand(string(r.cfg.NodeType), r.cfg.Name), r.onCommand); err != nil {
		return fmt.Errorf("subscribing to command routing key: %w", err)
	}

	passport := r.passport()
	if err := r.bus.SendEvent(ctx, "node", "node.registered", map[string]interface{}{
		"passport": passport,
	}, r.cfg.Name, core.SeverityInfo, nil); err != nil {
		return fmt.Errorf("announcing registration: %w", err)
	}

	r.wg.Add(1)
	go r.heartbeatLoop(ctx)

	r.logger.Info("worker runtime started", map[string]interface{}{"uid": r.uid, "name": r.cfg.Name})
	return nil
}

// Stop announces deregistration and halts the heartbeat loop.
func (r *Runtime) Stop(ctx context.Context) {
	close(r.stopCh)
	r.wg.Wait()

	if err := r.bus.SendEvent(ctx, "node", "node.deregistered", map[string]interface{}{
		"uid": r.uid, "reason": "shutdown",
	}, r.cfg.Name, core.SeverityInfo, nil); err != nil {
		r.logger.Warn("failed to announce deregistration", map[string]interface{}{"error": err.Error()})
	}
	r.logger.Info("worker runtime stopped", map[string]interface{}{"uid": r.uid})
}

func (r *Runtime) passport() core.NodePassport {
	return core.NodePassport{
		Metadata: core.NodeMetadata{UID: r.uid, Name: r.cfg.Name, NodeType: r.cfg.NodeType, Labels: r.cfg.Labels},
		Spec:     core.NodeSpec{Capabilities: r.Manifest()},
		Status:   core.NodeStatus{Phase: core.NodePhaseRunning},
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.HeartbeatIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.bus.SendEvent(ctx, "node", "node.heartbeat", map[string]interface{}{"uid": r.uid}, r.cfg.Name, core.SeverityInfo, nil); err != nil {
				r.logger.Warn("heartbeat send failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (r *Runtime) onCommand(ctx context.Context, envelope *core.Envelope) error {
	cmd, err := envelope.DecodeCommand()
	if err != nil {
		return err
	}

	r.mu.RLock()
	handler, ok := r.capabilities[cmd.Action]
	r.mu.RUnlock()

	start := time.Now()
	if !ok {
		telemetry.Counter("agent.capability.errors", "action", cmd.Action, "reason", "unimplemented")
		return r.bus.SendError(ctx, core.CodeUnimplemented, fmt.Sprintf("capability %q not supported", cmd.Action), false,
			r.cfg.Name, envelope.ReplyTo, envelope.CorrelationID, envelope.Subject, nil)
	}

	output, err := handler(ctx, cmd.Params)
	execMs := time.Since(start).Milliseconds()
	telemetry.Histogram("agent.capability.duration_ms", float64(execMs), "action", cmd.Action)
	if err != nil {
		telemetry.Counter("agent.capability.errors", "action", cmd.Action, "reason", "handler_error")
		code := core.ToErrorCode(err)
		return r.bus.SendError(ctx, code, err.Error(), core.DefaultRetryable(code),
			r.cfg.Name, envelope.ReplyTo, envelope.CorrelationID, envelope.Subject, nil)
	}

	telemetry.Counter("agent.capability.executions", "action", cmd.Action)
	return r.bus.SendResult(ctx, output, execMs, r.cfg.Name, envelope.ReplyTo, envelope.CorrelationID, envelope.Subject, nil)
}
