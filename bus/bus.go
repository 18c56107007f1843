// Package bus implements MindBus: the typed message plane over a
// topic-routed AMQP broker — envelope encode/decode, schema validation
// on send and receive, routing-key construction, and correlation-based
// RPC reply matching.
package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aiteam/mindbus/core"
)

// Handler processes one delivered envelope. It receives the envelope only,
// not a separately decoded payload: the handler decodes the payload itself
// (DecodeCommand, DecodeEvent, DecodeResult, DecodeError). Returning an error causes the delivery to be NACKed without requeue
// rather than retried indefinitely.
type Handler func(ctx context.Context, envelope *core.Envelope) error

// Bus is the typed API every component in this module programs against.
// AMQPBus is the production implementation; MockBus is the in-process
// test double used wherever a live broker would otherwise be required.
type Bus interface {
	Connect(ctx context.Context) error
	Close() error

	SendCommand(ctx context.Context, action string, params map[string]interface{}, targetRole, targetID, source, subject, traceID string, timeoutSeconds *float64, replyTo string) (string, error)
	SendResult(ctx context.Context, output map[string]interface{}, execMs int64, source, replyTo, correlationID, subject string, metrics map[string]interface{}) error
	SendError(ctx context.Context, code core.ErrorCode, message string, retryable bool, source, replyTo, correlationID, subject string, details map[string]interface{}) error
	SendEvent(ctx context.Context, topic, eventType string, data map[string]interface{}, source string, severity core.Severity, tags []string) error
	SendControl(ctx context.Context, controlType, target, source, reason string, parameters map[string]interface{}) error

	Subscribe(ctx context.Context, routingPattern string, handler Handler) error
	SubscribeQueue(ctx context.Context, queueName string, handler Handler) error
}

// RoutingKeyCommand builds the cmd.{role}.{id|any} routing key.
func RoutingKeyCommand(role, id string) string {
	if id == "" {
		id = "any"
	}
	return fmt.Sprintf("cmd.%s.%s", role, id)
}

// RoutingKeyEvent builds the evt.{topic}.{event_type} routing key.
func RoutingKeyEvent(topic, eventType string) string {
	return fmt.Sprintf("evt.%s.%s", topic, eventType)
}

// RoutingKeyControl builds the ctl.{target}.{control_type} routing key.
func RoutingKeyControl(target, controlType string) string {
	return fmt.Sprintf("ctl.%s.%s", target, controlType)
}

func newID() string {
	return uuid.NewString()
}

var (
	_ Bus = (*AMQPBus)(nil)
	_ Bus = (*MockBus)(nil)
)
