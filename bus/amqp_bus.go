package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aiteam/mindbus/core"
)

// AMQPBus is the production Bus implementation over AMQP 0-9-1, grounded
// on the Python original's MindBus.connect/_validate_and_send/
// _send_rpc_response (the routing-key grammar and the default-exchange
// reply-to path are unchanged from there).
type AMQPBus struct {
	cfg    core.BusConfig
	source string
	logger core.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// New builds an AMQPBus. source identifies this process in envelopes it
// publishes (e.g. "orchestrator-01").
func New(cfg core.BusConfig, source string, logger core.Logger) *AMQPBus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AMQPBus{cfg: cfg, source: source, logger: logger}
}

func (b *AMQPBus) dsn() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", b.cfg.Username, b.cfg.Password, b.cfg.Host, b.cfg.Port, b.cfg.VHost)
}

// Connect dials the broker and declares the durable topic exchange.
// Reconnection (spec supplement, SPEC_FULL.md §3) re-runs this same
// declare sequence with jittered backoff.
func (b *AMQPBus) Connect(ctx context.Context) error {
	conn, err := amqp.DialConfig(b.dsn(), amqp.Config{
		Heartbeat: time.Duration(b.cfg.HeartbeatSeconds) * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("dialing broker: %w", core.ErrConnectionFailed)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", core.ErrConnectionFailed)
	}

	if err := ch.ExchangeDeclare(b.cfg.ExchangeName, b.cfg.ExchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring exchange: %w", core.ErrConnectionFailed)
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = ch
	b.closed = false
	b.mu.Unlock()

	go b.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	b.logger.Info("connected to broker", map[string]interface{}{"host": b.cfg.Host, "exchange": b.cfg.ExchangeName})
	return nil
}

// watchClose reconnects with jittered exponential backoff when the
// connection drops unexpectedly, per the supplemented reconnection
// behavior in SPEC_FULL.md §3.
func (b *AMQPBus) watchClose(notify chan *amqp.Error) {
	err, ok := <-notify
	if !ok {
		return
	}
	b.mu.Lock()
	intentional := b.closed
	b.mu.Unlock()
	if intentional {
		return
	}

	b.logger.Warn("broker connection lost, reconnecting", map[string]interface{}{"error": err})

	delay := b.cfg.ReconnectMinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := b.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	for {
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		time.Sleep(delay + jitter)

		if connErr := b.Connect(context.Background()); connErr == nil {
			b.logger.Info("reconnected to broker", nil)
			return
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Close shuts the channel and connection down intentionally (no reconnect).
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	b.closed = true
	ch, conn := b.channel, b.conn
	b.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (b *AMQPBus) publish(ctx context.Context, exchange, routingKey string, envelope *core.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("bus not connected: %w", core.ErrNotInitialized)
	}

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      uint8(envelope.Priority),
		MessageId:     envelope.ID,
		CorrelationId: envelope.CorrelationID,
		ReplyTo:       envelope.ReplyTo,
		Timestamp:     envelope.Time,
		Body:          body,
	})
}

func (b *AMQPBus) SendCommand(ctx context.Context, action string, params map[string]interface{}, targetRole, targetID, source, subject, traceID string, timeoutSeconds *float64, replyTo string) (string, error) {
	id := newID()
	envelope, err := core.NewCommandEnvelope(id, source, subject, replyTo, b.cfg.Priorities.Command, core.CommandPayload{
		Action: action, Params: params, TimeoutSeconds: timeoutSeconds,
	})
	if err != nil {
		return "", err
	}
	envelope.TraceParent = traceID

	routingKey := RoutingKeyCommand(targetRole, targetID)
	if err := b.publish(ctx, b.cfg.ExchangeName, routingKey, envelope); err != nil {
		return "", err
	}
	return id, nil
}

// SendResult publishes directly to the reply_to queue using the default
// (nameless) exchange.
func (b *AMQPBus) SendResult(ctx context.Context, output map[string]interface{}, execMs int64, source, replyTo, correlationID, subject string, metrics map[string]interface{}) error {
	envelope, err := core.NewResultEnvelope(newID(), source, subject, correlationID, b.cfg.Priorities.Result, core.ResultPayload{
		Status: core.ResultStatusSuccess, Output: output, ExecutionTimeMs: execMs, Metrics: metrics,
	})
	if err != nil {
		return err
	}
	return b.publish(ctx, "", replyTo, envelope)
}

// SendError publishes directly to the reply_to queue, same transport path
// as SendResult.
func (b *AMQPBus) SendError(ctx context.Context, code core.ErrorCode, message string, retryable bool, source, replyTo, correlationID, subject string, details map[string]interface{}) error {
	envelope, err := core.NewErrorEnvelope(newID(), source, subject, correlationID, b.cfg.Priorities.Error, core.ErrorPayload{
		Error: core.BusError{Code: code, Message: message, Retryable: retryable, Details: details},
	})
	if err != nil {
		return err
	}
	return b.publish(ctx, "", replyTo, envelope)
}

func (b *AMQPBus) SendEvent(ctx context.Context, topic, eventType string, data map[string]interface{}, source string, severity core.Severity, tags []string) error {
	envelope, err := core.NewEventEnvelope(newID(), source, b.cfg.Priorities.Event, core.EventPayload{
		EventType: eventType, EventData: data, Severity: severity, Tags: tags,
	})
	if err != nil {
		return err
	}
	return b.publish(ctx, b.cfg.ExchangeName, RoutingKeyEvent(topic, eventType), envelope)
}

func (b *AMQPBus) SendControl(ctx context.Context, controlType, target, source, reason string, parameters map[string]interface{}) error {
	envelope, err := core.NewControlEnvelope(newID(), source, b.cfg.Priorities.Control, core.ControlPayload{
		ControlType: controlType, Reason: reason, Parameters: parameters,
	})
	if err != nil {
		return err
	}
	return b.publish(ctx, b.cfg.ExchangeName, RoutingKeyControl(target, controlType), envelope)
}

// Subscribe declares a server-named queue, binds it to the topic exchange
// with routingPattern, and delivers messages to handler under the decode-
// validate-ack/nack contract. The queue is not durable: it is declared
// auto-delete and exclusive, so it and its binding go away with the
// channel and are not re-created after a reconnect.
func (b *AMQPBus) Subscribe(ctx context.Context, routingPattern string, handler Handler) error {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("bus not connected: %w", core.ErrNotInitialized)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue: %w", core.ErrConnectionFailed)
	}
	if err := ch.QueueBind(q.Name, routingPattern, b.cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("binding queue: %w", core.ErrConnectionFailed)
	}

	return b.consume(ctx, ch, q.Name, handler)
}

// SubscribeQueue subscribes to an existing queue with no exchange binding;
// used by command senders to receive their own RPC replies.
func (b *AMQPBus) SubscribeQueue(ctx context.Context, queueName string, handler Handler) error {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("bus not connected: %w", core.ErrNotInitialized)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", queueName, core.ErrConnectionFailed)
	}

	return b.consume(ctx, ch, queueName, handler)
}

func (b *AMQPBus) consume(ctx context.Context, ch *amqp.Channel, queueName string, handler Handler) error {
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consume on %s: %w", queueName, core.ErrConnectionFailed)
	}

	go func() {
		for d := range deliveries {
			var envelope core.Envelope
			if err := json.Unmarshal(d.Body, &envelope); err != nil {
				b.logger.Warn("malformed envelope, nack no-requeue", map[string]interface{}{"error": err})
				b.nack(d)
				continue
			}

			if b.cfg.Validation.StrictMode {
				if err := envelope.Validate(); err != nil {
					b.logger.Warn("invalid payload, nack no-requeue", map[string]interface{}{"error": err})
					b.nack(d)
					continue
				}
			}

			if err := handler(ctx, &envelope); err != nil {
				b.logger.Warn("handler error, nack no-requeue", map[string]interface{}{"error": err})
				b.nack(d)
				continue
			}

			if err := d.Ack(false); err != nil {
				b.logger.Warn("ack failed", map[string]interface{}{"error": err})
			}
		}
	}()

	return nil
}

// nack attempts a no-requeue nack; failures on an already-closed channel
// are logged as warnings, not fatal.
func (b *AMQPBus) nack(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		b.logger.Warn("nack failed on closed channel", map[string]interface{}{"error": err})
	}
}
