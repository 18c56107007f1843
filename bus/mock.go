package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aiteam/mindbus/core"
)

// MockBus is an in-process, zero-network Bus implementation used in tests
// in place of a live broker, the same role MockBus-style test doubles
// play elsewhere in this corpus for infrastructure dependencies. Messages
// published to the topic exchange are matched against subscribed routing
// patterns using the same AMQP "*"=one-segment / "#"=zero-or-more-segments
// wildcard grammar as the real broker; reply_to deliveries go straight to
// the named queue's subscriber, matching the default-exchange direct path.
type MockBus struct {
	cfg    core.BusConfig
	source string

	mu          sync.Mutex
	topicSubs   []topicSub
	queueSubs   map[string]Handler
}

type topicSub struct {
	pattern *regexp.Regexp
	handler Handler
}

// NewMock builds a MockBus. No network connection is ever made.
func NewMock(cfg core.BusConfig, source string) *MockBus {
	return &MockBus{cfg: cfg, source: source, queueSubs: make(map[string]Handler)}
}

func (m *MockBus) Connect(ctx context.Context) error { return nil }
func (m *MockBus) Close() error                      { return nil }

// routingPatternToRegexp translates an AMQP topic binding pattern into a
// regexp: "*" matches exactly one dot-delimited segment, "#" matches zero
// or more segments. Each segment is emitted with its leading dot, so the
// regexp is matched against "." + routingKey.
func routingPatternToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, seg := range strings.Split(pattern, ".") {
		switch seg {
		case "*":
			b.WriteString(`\.[^.]+`)
		case "#":
			b.WriteString(`(?:\.[^.]+)*`)
		default:
			b.WriteString(`\.` + regexp.QuoteMeta(seg))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func (m *MockBus) dispatch(ctx context.Context, routingKey string, envelope *core.Envelope) {
	if m.cfg.Validation.StrictMode {
		if err := envelope.Validate(); err != nil {
			return
		}
	}

	m.mu.Lock()
	var matched []Handler
	for _, sub := range m.topicSubs {
		if sub.pattern.MatchString("." + routingKey) {
			matched = append(matched, sub.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range matched {
		_ = h(ctx, envelope)
	}
}

func (m *MockBus) deliverToQueue(ctx context.Context, queueName string, envelope *core.Envelope) {
	m.mu.Lock()
	h, ok := m.queueSubs[queueName]
	m.mu.Unlock()
	if ok {
		_ = h(ctx, envelope)
	}
}

func (m *MockBus) SendCommand(ctx context.Context, action string, params map[string]interface{}, targetRole, targetID, source, subject, traceID string, timeoutSeconds *float64, replyTo string) (string, error) {
	id := newID()
	envelope, err := core.NewCommandEnvelope(id, source, subject, replyTo, m.cfg.Priorities.Command, core.CommandPayload{
		Action: action, Params: params, TimeoutSeconds: timeoutSeconds,
	})
	if err != nil {
		return "", err
	}
	envelope.TraceParent = traceID
	m.dispatch(ctx, RoutingKeyCommand(targetRole, targetID), envelope)
	return id, nil
}

func (m *MockBus) SendResult(ctx context.Context, output map[string]interface{}, execMs int64, source, replyTo, correlationID, subject string, metrics map[string]interface{}) error {
	envelope, err := core.NewResultEnvelope(newID(), source, subject, correlationID, m.cfg.Priorities.Result, core.ResultPayload{
		Status: core.ResultStatusSuccess, Output: output, ExecutionTimeMs: execMs, Metrics: metrics,
	})
	if err != nil {
		return err
	}
	m.deliverToQueue(ctx, replyTo, envelope)
	return nil
}

func (m *MockBus) SendError(ctx context.Context, code core.ErrorCode, message string, retryable bool, source, replyTo, correlationID, subject string, details map[string]interface{}) error {
	envelope, err := core.NewErrorEnvelope(newID(), source, subject, correlationID, m.cfg.Priorities.Error, core.ErrorPayload{
		Error: core.BusError{Code: code, Message: message, Retryable: retryable, Details: details},
	})
	if err != nil {
		return err
	}
	m.deliverToQueue(ctx, replyTo, envelope)
	return nil
}

func (m *MockBus) SendEvent(ctx context.Context, topic, eventType string, data map[string]interface{}, source string, severity core.Severity, tags []string) error {
	envelope, err := core.NewEventEnvelope(newID(), source, m.cfg.Priorities.Event, core.EventPayload{
		EventType: eventType, EventData: data, Severity: severity, Tags: tags,
	})
	if err != nil {
		return err
	}
	m.dispatch(ctx, RoutingKeyEvent(topic, eventType), envelope)
	return nil
}

func (m *MockBus) SendControl(ctx context.Context, controlType, target, source, reason string, parameters map[string]interface{}) error {
	envelope, err := core.NewControlEnvelope(newID(), source, m.cfg.Priorities.Control, core.ControlPayload{
		ControlType: controlType, Reason: reason, Parameters: parameters,
	})
	if err != nil {
		return err
	}
	m.dispatch(ctx, RoutingKeyControl(target, controlType), envelope)
	return nil
}

func (m *MockBus) Subscribe(ctx context.Context, routingPattern string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topicSubs = append(m.topicSubs, topicSub{pattern: routingPatternToRegexp(routingPattern), handler: handler})
	return nil
}

func (m *MockBus) SubscribeQueue(ctx context.Context, queueName string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if queueName == "" {
		return fmt.Errorf("queue name is required: %w", core.ErrInvalidConfiguration)
	}
	m.queueSubs[queueName] = handler
	return nil
}
