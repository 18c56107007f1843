package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
	"github.com/aiteam/mindbus/registry"
	"github.com/aiteam/mindbus/resilience"
)

// Dispatcher issues one capability invocation and blocks for its result.
// BusDispatcher (production) and InProcessDispatcher (testing) are
// interchangeable: the step machine must not observe which one is wired
// in beyond timing.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, params map[string]interface{}, traceID, subject string, timeout time.Duration) (map[string]interface{}, *core.BusError, error)
}

// CapabilityHandler synchronously implements one action for in-process
// dispatch.
type CapabilityHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// InProcessDispatcher routes actions through a capability → handler table
// registered directly on the orchestrator, bypassing the Bus entirely.
type InProcessDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]CapabilityHandler
}

// NewInProcessDispatcher builds an empty capability table.
func NewInProcessDispatcher() *InProcessDispatcher {
	return &InProcessDispatcher{handlers: make(map[string]CapabilityHandler)}
}

// Register binds action to handler.
func (d *InProcessDispatcher) Register(action string, handler CapabilityHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = handler
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, action string, params map[string]interface{}, traceID, subject string, timeout time.Duration) (map[string]interface{}, *core.BusError, error) {
	d.mu.RLock()
	handler, ok := d.handlers[action]
	d.mu.RUnlock()
	if !ok {
		return nil, &core.BusError{Code: core.CodeUnimplemented, Message: fmt.Sprintf("no handler registered for action %q", action)}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := handler(ctx, params)
	if err != nil {
		return nil, &core.BusError{Code: core.ToErrorCode(err), Message: err.Error(), Retryable: core.DefaultRetryable(core.ToErrorCode(err))}, nil
	}
	return output, nil, nil
}

// BusDispatcher is the production dispatch path: it resolves a worker by
// capability via the Registry, issues a command envelope, and blocks on
// its own durable reply queue for a matching correlation ID.
type BusDispatcher struct {
	bus            bus.Bus
	registry       *registry.NodeRegistry
	source         string
	replyQueueName string

	mu      sync.Mutex
	waiters map[string]chan replyMessage
	started bool

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
	cbConfig   core.CircuitBreakerConfig
}

type replyMessage struct {
	output   map[string]interface{}
	busError *core.BusError
}

// NewBusDispatcher wires a dispatcher over b, resolving workers from reg
// and identifying itself as source in outgoing envelopes. cbConfig tunes
// the per-capability circuit breakers created on first dispatch of each
// action; its zero value falls back to resilience.DefaultConfig().
func NewBusDispatcher(b bus.Bus, reg *registry.NodeRegistry, source, replyQueueName string, cbConfig core.CircuitBreakerConfig) *BusDispatcher {
	return &BusDispatcher{
		bus: b, registry: reg, source: source, replyQueueName: replyQueueName, cbConfig: cbConfig,
		waiters: make(map[string]chan replyMessage), breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// breakerFor returns the per-capability circuit breaker, creating one on
// first use. A capability whose round trips keep timing out or failing to
// send trips its own breaker without affecting dispatch to other
// capabilities; an error reply from a worker counts as a completed round
// trip, not a breaker failure.
func (d *BusDispatcher) breakerFor(action string) *resilience.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	if cb, ok := d.breakers[action]; ok {
		return cb
	}
	cfg := resilience.DefaultConfig()
	cfg.Name = "dispatch." + action
	if d.cbConfig.Threshold > 0 {
		cfg.VolumeThreshold = d.cbConfig.Threshold
	}
	if d.cbConfig.Timeout > 0 {
		cfg.SleepWindow = d.cbConfig.Timeout
	}
	if d.cbConfig.HalfOpenRequests > 0 {
		cfg.HalfOpenRequests = d.cbConfig.HalfOpenRequests
	}
	cb, err := resilience.NewCircuitBreaker(cfg)
	if err != nil {
		// DefaultConfig is always valid; this is unreachable in practice.
		cb, _ = resilience.NewCircuitBreaker(resilience.DefaultConfig())
	}
	d.breakers[action] = cb
	return cb
}

// Start subscribes the dispatcher's reply queue. Must be called once
// before the first Dispatch.
func (d *BusDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	return d.bus.SubscribeQueue(ctx, d.replyQueueName, d.onReply)
}

func (d *BusDispatcher) onReply(ctx context.Context, envelope *core.Envelope) error {
	d.mu.Lock()
	ch, ok := d.waiters[envelope.CorrelationID]
	if ok {
		delete(d.waiters, envelope.CorrelationID)
	}
	d.mu.Unlock()
	if !ok {
		return nil // no longer waited on (timed out already); drop silently
	}

	switch envelope.Type {
	case core.MessageResult:
		result, err := envelope.DecodeResult()
		if err != nil {
			return err
		}
		ch <- replyMessage{output: result.Output}
	case core.MessageError:
		errPayload, err := envelope.DecodeError()
		if err != nil {
			return err
		}
		ch <- replyMessage{busError: &errPayload.Error}
	default:
		return fmt.Errorf("unexpected reply envelope type %q", envelope.Type)
	}
	return nil
}

func (d *BusDispatcher) Dispatch(ctx context.Context, action string, params map[string]interface{}, traceID, subject string, timeout time.Duration) (map[string]interface{}, *core.BusError, error) {
	worker, ok := d.registry.FindByCapability(action)
	if !ok {
		return nil, &core.BusError{Code: core.CodeUnavailable, Message: fmt.Sprintf("no registered worker provides capability %q", action), Retryable: true}, nil
	}

	var reply replyMessage
	breaker := d.breakerFor(action)
	execErr := breaker.Execute(ctx, func() error {
		out, busErr, err := d.roundTrip(ctx, action, params, worker, traceID, subject, timeout)
		reply = replyMessage{output: out, busError: busErr}
		if err != nil {
			return err
		}
		if busErr != nil && busErr.Code == core.CodeDeadlineExceeded {
			return fmt.Errorf("%s", busErr.Message)
		}
		return nil
	})
	if execErr != nil && reply.output == nil && reply.busError == nil {
		code := core.ToErrorCode(execErr)
		return nil, &core.BusError{Code: code, Message: execErr.Error(), Retryable: core.DefaultRetryable(code)}, nil
	}
	return reply.output, reply.busError, nil
}

// roundTrip performs the actual send-then-await-reply exchange, independent
// of the circuit breaker wrapping it.
func (d *BusDispatcher) roundTrip(ctx context.Context, action string, params map[string]interface{}, worker core.NodePassport, traceID, subject string, timeout time.Duration) (map[string]interface{}, *core.BusError, error) {
	timeoutSeconds := timeout.Seconds()
	correlationID, err := d.bus.SendCommand(ctx, action, params, string(worker.Metadata.NodeType), worker.Metadata.Name, d.source, subject, traceID, &timeoutSeconds, d.replyQueueName)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan replyMessage, 1)
	d.mu.Lock()
	d.waiters[correlationID] = ch
	d.mu.Unlock()

	select {
	case reply := <-ch:
		return reply.output, reply.busError, nil
	case <-time.After(timeout):
		d.mu.Lock()
		delete(d.waiters, correlationID)
		d.mu.Unlock()
		return nil, &core.BusError{Code: core.CodeDeadlineExceeded, Message: fmt.Sprintf("no reply for action %q within %s", action, timeout)}, nil
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.waiters, correlationID)
		d.mu.Unlock()
		return nil, nil, ctx.Err()
	}
}
